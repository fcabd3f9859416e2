// Package rows turns loosely typed spreadsheet rows into validated,
// typed values. Nothing here touches the database.
package rows

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Raw is one spreadsheet row keyed by its human readable column header.
type Raw map[string]any

// Lookup finds a column by its exact header first and then by a trimmed,
// case-insensitive match.
func (r Raw) Lookup(column string) (any, bool) {
	if v, ok := r[column]; ok {
		return v, true
	}
	want := strings.TrimSpace(column)
	for k, v := range r {
		if strings.EqualFold(strings.TrimSpace(k), want) {
			return v, true
		}
	}
	return nil, false
}

// Text returns the column as a trimmed NFC string. Missing columns and
// nulls yield "".
func (r Raw) Text(column string) string {
	v, ok := r.Lookup(column)
	if !ok {
		return ""
	}
	return clean(scalarString(v))
}

// OptionalInt parses the column leniently. Blank, non-numeric,
// non-integral and out of int64 range values are reported as absent.
func (r Raw) OptionalInt(column string) *int64 {
	s := r.Text(column)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return nil
	}
	b := d.BigInt()
	if !b.IsInt64() {
		return nil
	}
	n := b.Int64()
	return &n
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
