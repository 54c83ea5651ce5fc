package mapper

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/turbolytics/porter/internal"
)

// Spec is the YAML shape of a mapping document. Every value is a Go
// text template evaluated against the source row.
type Spec struct {
	EntityType  string            `yaml:"entityType"`
	ExternalIDs map[string]string `yaml:"externalIds"`
	Attrs       map[string]string `yaml:"attrs"`
}

// Record is the result of applying a mapping to one row.
type Record struct {
	EntityType  string
	ExternalIDs map[string]string
	Attrs       map[string]string
}

// Mapping is a parsed, executable mapping document. Parse once per
// run; Apply per row.
type Mapping struct {
	entityType  string
	externalIDs map[string]*template.Template
	attrs       map[string]*template.Template
	columns     []string
}

// Parse compiles a YAML mapping document. Template failures are joined
// so a single pass reports every broken field.
func Parse(spec string) (*Mapping, error) {
	var s Spec
	if err := yaml.Unmarshal([]byte(spec), &s); err != nil {
		return nil, fmt.Errorf("decoding mapping: %w", err)
	}
	if s.EntityType == "" {
		return nil, errors.New("mapping requires an entityType")
	}
	if len(s.ExternalIDs) == 0 {
		return nil, errors.New("mapping requires at least one externalIds entry")
	}

	m := &Mapping{
		entityType:  s.EntityType,
		externalIDs: make(map[string]*template.Template, len(s.ExternalIDs)),
		attrs:       make(map[string]*template.Template, len(s.Attrs)),
	}

	// absent row fields render as empty strings rather than erroring
	root := template.New("mapping").Option("missingkey=zero")

	var parseErrs error
	for key, text := range s.ExternalIDs {
		t, err := root.New("externalIds." + key).Parse(text)
		if err != nil {
			parseErrs = errors.Join(parseErrs, fmt.Errorf("externalIds.%s: %w", key, err))
			continue
		}
		m.externalIDs[key] = t
	}
	for key, text := range s.Attrs {
		t, err := root.New("attrs." + key).Parse(text)
		if err != nil {
			parseErrs = errors.Join(parseErrs, fmt.Errorf("attrs.%s: %w", key, err))
			continue
		}
		m.attrs[key] = t
	}
	if parseErrs != nil {
		return nil, parseErrs
	}

	m.columns = flattenedColumns(s)
	return m, nil
}

func flattenedColumns(s Spec) []string {
	columns := []string{"entityType"}
	var ids []string
	for k := range s.ExternalIDs {
		ids = append(ids, "externalIds."+k)
	}
	sort.Strings(ids)
	columns = append(columns, ids...)

	var attrs []string
	for k := range s.Attrs {
		attrs = append(attrs, "attrs."+k)
	}
	sort.Strings(attrs)
	return append(columns, attrs...)
}

// Apply evaluates every template against the row.
func (m *Mapping) Apply(row internal.Row) (*Record, error) {
	rec := &Record{
		EntityType:  m.entityType,
		ExternalIDs: make(map[string]string, len(m.externalIDs)),
		Attrs:       make(map[string]string, len(m.attrs)),
	}

	var buf bytes.Buffer
	for key, t := range m.externalIDs {
		buf.Reset()
		if err := t.Execute(&buf, row); err != nil {
			return nil, fmt.Errorf("applying externalIds.%s: %w", key, err)
		}
		rec.ExternalIDs[key] = buf.String()
	}
	for key, t := range m.attrs {
		buf.Reset()
		if err := t.Execute(&buf, row); err != nil {
			return nil, fmt.Errorf("applying attrs.%s: %w", key, err)
		}
		rec.Attrs[key] = buf.String()
	}
	return rec, nil
}

// Flatten projects a mapped record onto the flat persisted layout:
// entityType, externalIds.<k>, attrs.<k>.
func (m *Mapping) Flatten(rec *Record) internal.Row {
	row := make(internal.Row, 1+len(rec.ExternalIDs)+len(rec.Attrs))
	row["entityType"] = rec.EntityType
	for k, v := range rec.ExternalIDs {
		row["externalIds."+k] = v
	}
	for k, v := range rec.Attrs {
		row["attrs."+k] = v
	}
	return row
}

// MapRow is Apply followed by Flatten.
func (m *Mapping) MapRow(row internal.Row) (internal.Row, error) {
	rec, err := m.Apply(row)
	if err != nil {
		return nil, err
	}
	return m.Flatten(rec), nil
}

// Columns is the deterministic order of the flattened layout.
func (m *Mapping) Columns() []string {
	return m.columns
}

func (m *Mapping) EntityType() string {
	return m.entityType
}
