package rows

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ShiftCode is the first two characters of code when present, otherwise
// of name, upper-cased.
func ShiftCode(code, name string) string {
	src := clean(code)
	if src == "" {
		src = clean(name)
	}
	r := []rune(src)
	if len(r) > 2 {
		r = r[:2]
	}
	return cases.Upper(language.Und).String(string(r))
}

// SplitPlans splits a study plan field on whitespace or commas. Order is
// kept and repeated codes are dropped.
func SplitPlans(v string) []string {
	fields := strings.FieldsFunc(clean(v), func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(fields) == 0 {
		return nil
	}
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		key := fold.String(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// JoinPlans builds the stored major name from its plan codes.
func JoinPlans(plans []string) string {
	return strings.Join(plans, ",")
}

// StudentDisplayName turns "Lastname, Firstname" into "Firstname Lastname".
func StudentDisplayName(v string) string {
	v = clean(v)
	last, first, ok := strings.Cut(v, ",")
	if !ok {
		return v
	}
	last, first = strings.TrimSpace(last), strings.TrimSpace(first)
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

// BuildingCode is the part of a room code before its first hyphen.
func BuildingCode(roomCode string) (string, bool) {
	prefix, _, ok := strings.Cut(clean(roomCode), "-")
	prefix = strings.TrimSpace(prefix)
	if !ok || prefix == "" {
		return "", false
	}
	return cases.Upper(language.Und).String(prefix), true
}
