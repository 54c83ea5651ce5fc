package dedupe

import (
	"strings"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/turbolytics/porter/internal"
)

const (
	DefaultCapacity  uint    = 1_000_000
	DefaultErrorRate float64 = 0.01
)

// keySeparator joins composite key fields. A non printing separator
// keeps ("ab","c") distinct from ("a","bc").
const keySeparator = "\x1f"

// Filter answers approximate membership over row keys. False positives
// occur at no more than the configured rate while insertions stay
// within capacity; false negatives never occur. A filter belongs to a
// single run and is not shared.
type Filter struct {
	keys   []string
	filter *bloom.BloomFilter
}

// New sizes a filter for the expected key count and acceptable false
// positive rate. Zero capacity or rate fall back to the package
// defaults. Inserting past capacity degrades the false positive rate
// gradually rather than failing.
func New(keys []string, capacity uint, errorRate float64) *Filter {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if errorRate <= 0 {
		errorRate = DefaultErrorRate
	}
	return &Filter{
		keys:   keys,
		filter: bloom.NewWithEstimates(capacity, errorRate),
	}
}

// Key derives the composite dedupe key for a row. Missing fields
// contribute empty strings.
func (f *Filter) Key(row internal.Row) string {
	parts := make([]string, len(f.keys))
	for i, k := range f.keys {
		parts[i] = row[k]
	}
	return strings.Join(parts, keySeparator)
}

// CheckAndAdd reports whether the row's key was seen before and records
// it. A true result may be a false positive; a false result is exact.
func (f *Filter) CheckAndAdd(row internal.Row) bool {
	return f.filter.TestOrAddString(f.Key(row))
}

// Contains reports membership without recording the key.
func (f *Filter) Contains(row internal.Row) bool {
	return f.filter.TestString(f.Key(row))
}
