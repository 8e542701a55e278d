package model

import (
	"encoding/json"
	"fmt"
)

// Bundle holds the record collections fetched for one subject, keyed by kind.
// A kind that failed to fetch is present with an empty collection.
type Bundle map[Kind][]Record

// NewBundle returns a bundle with an empty collection for every kind.
func NewBundle() Bundle {
	b := make(Bundle, len(Kinds))
	for _, k := range Kinds {
		b[k] = []Record{}
	}
	return b
}

// Len returns the total number of records across all kinds.
func (b Bundle) Len() int {
	n := 0
	for _, recs := range b {
		n += len(recs)
	}
	return n
}

// MarshalJSON encodes the bundle as {"feedings": [...], "diapers": [...], ...}.
func (b Bundle) MarshalJSON() ([]byte, error) {
	out := make(map[string][]Record, len(Kinds))
	for _, k := range Kinds {
		recs := b[k]
		if recs == nil {
			recs = []Record{}
		}
		out[k.Collection()] = recs
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the layout written by MarshalJSON. Missing kinds
// decode as empty collections; unknown keys are ignored.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding bundle: %w", err)
	}
	bundle := NewBundle()
	for _, k := range Kinds {
		msg, ok := raw[k.Collection()]
		if !ok {
			continue
		}
		recs, err := DecodeRecords(k, msg)
		if err != nil {
			return err
		}
		bundle[k] = recs
	}
	*b = bundle
	return nil
}
