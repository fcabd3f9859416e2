package rows

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrEmptyPayload = errors.New("payload is empty")

// Batch is a decoded import request.
type Batch struct {
	Rows   []Raw
	SiteID *int64
}

type batchEnvelope struct {
	Rows   []json.RawMessage `json:"rows"`
	SiteID *json.Number      `json:"site_id"`
}

// DecodeBatch accepts either a JSON array of row objects or an object
// wrapping that array under "rows". Numbers are kept as json.Number so
// that long identifiers survive untouched. An element that is not an object
// becomes an empty row, which then fails validation on its own.
func DecodeBatch(r io.Reader) (Batch, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return Batch{}, err
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return Batch{}, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if body[0] == '[' {
		var list []json.RawMessage
		if err := dec.Decode(&list); err != nil {
			return Batch{}, fmt.Errorf("decode rows: %w", err)
		}
		raws, err := decodeRows(list)
		if err != nil {
			return Batch{}, err
		}
		return Batch{Rows: raws}, nil
	}

	var env batchEnvelope
	if err := dec.Decode(&env); err != nil {
		return Batch{}, fmt.Errorf("decode rows: %w", err)
	}
	if env.Rows == nil {
		return Batch{}, errors.New(`decode rows: expected an array or an object with a "rows" array`)
	}
	raws, err := decodeRows(env.Rows)
	if err != nil {
		return Batch{}, err
	}
	out := Batch{Rows: raws}
	if env.SiteID != nil {
		id, err := env.SiteID.Int64()
		if err != nil {
			return Batch{}, fmt.Errorf("decode site_id: %w", err)
		}
		out.SiteID = &id
	}
	return out, nil
}

func decodeRows(list []json.RawMessage) ([]Raw, error) {
	out := make([]Raw, len(list))
	for i, msg := range list {
		msg = bytes.TrimSpace(msg)
		if len(msg) == 0 || msg[0] != '{' {
			out[i] = Raw{}
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var raw Raw
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode row %d: %w", i+1, err)
		}
		out[i] = raw
	}
	return out, nil
}
