package dq

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/turbolytics/porter/internal"
)

// Checker evaluates data quality rules over rows. Rule syntax is
// validator tag syntax; "required" is the not-empty rule.
type Checker struct {
	validate *validator.Validate
	logger   *zap.Logger
}

type Option func(*Checker)

func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

func New(opts ...Option) *Checker {
	c := &Checker{
		validate: validator.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidateRule probes a rule before it is stored or applied; the
// underlying engine panics on malformed tags, which callers should see
// as a plain error.
func (c *Checker) ValidateRule(rule string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid rule %q: %v", rule, r)
		}
	}()
	_ = c.validate.Var("probe", rule)
	return nil
}

// Check validates one field across a batch of rows. offset is the
// absolute index of the batch's first row within its stream, so
// violation messages carry absolute row numbers and stay meaningful
// after batching. Row numbers are 1 based.
func (c *Checker) Check(rows []internal.Row, field, rule string, offset int64) ([]string, error) {
	if err := c.ValidateRule(rule); err != nil {
		return nil, err
	}

	var violations []string
	for i, row := range rows {
		if err := c.validate.Var(row[field], rule); err != nil {
			violations = append(violations, violation(offset+int64(i)+1, field, rule))
		}
	}
	if len(violations) > 0 {
		c.logger.Debug("dq violations",
			zap.String("field", field),
			zap.String("rule", rule),
			zap.Int("count", len(violations)),
		)
	}
	return violations, nil
}

func violation(rowNum int64, field, rule string) string {
	switch rule {
	case "required":
		return fmt.Sprintf("row %d: field %q must not be empty", rowNum, field)
	default:
		return fmt.Sprintf("row %d: field %q violates rule %q", rowNum, field, rule)
	}
}
