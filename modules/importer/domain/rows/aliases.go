package rows

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Aliases maps, per flow, a canonical column header to the alternative
// headers that should be read as it.
//
//	students:
//	  Mail: [Email, Correo]
type Aliases map[Flow]map[string][]string

func ParseAliases(r io.Reader) (Aliases, error) {
	var raw map[string]map[string][]string
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if err == io.EOF {
			return Aliases{}, nil
		}
		return nil, fmt.Errorf("decode column aliases: %w", err)
	}
	out := make(Aliases, len(raw))
	for name, columns := range raw {
		flow, err := ParseFlow(name)
		if err != nil {
			return nil, err
		}
		out[flow] = columns
	}
	return out, nil
}

// Apply returns a copy of r where every alias header present is renamed to
// its canonical header. A canonical header already present wins.
func (a Aliases) Apply(flow Flow, r Raw) Raw {
	columns := a[flow]
	if len(columns) == 0 {
		return r
	}
	out := make(Raw, len(r))
	for k, v := range r {
		out[k] = v
	}
	for canonical, alternatives := range columns {
		if v, ok := out.Lookup(canonical); ok && clean(scalarString(v)) != "" {
			continue
		}
		for _, alt := range alternatives {
			key, ok := out.key(alt)
			if !ok {
				continue
			}
			out[canonical] = out[key]
			if !strings.EqualFold(strings.TrimSpace(key), strings.TrimSpace(canonical)) {
				delete(out, key)
			}
			break
		}
	}
	return out
}

func (r Raw) key(column string) (string, bool) {
	if _, ok := r[column]; ok {
		return column, true
	}
	want := strings.TrimSpace(column)
	for k := range r {
		if strings.EqualFold(strings.TrimSpace(k), want) {
			return k, true
		}
	}
	return "", false
}
