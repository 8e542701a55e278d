// Package model defines the types shared by the Hatch fetcher, the event
// adapters, the cache, and the sync engine: subjects, the four record kinds,
// and the calendar event derived from a record.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind identifies one of the four upstream record collections.
type Kind string

const (
	KindFeeding Kind = "feeding"
	KindDiaper  Kind = "diaper"
	KindSleep   Kind = "sleep"
	KindWeight  Kind = "weight"
)

// Kinds lists every record kind in the order the sync engine processes them.
var Kinds = []Kind{KindFeeding, KindDiaper, KindSleep, KindWeight}

// ParseKind converts a string to a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown record kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the four known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindFeeding, KindDiaper, KindSleep, KindWeight:
		return true
	default:
		return false
	}
}

// Collection returns the JSON key under which Hatch (and the cache) stores
// records of this kind, e.g. "feedings".
func (k Kind) Collection() string {
	return string(k) + "s"
}

// ID is an upstream identifier. Hatch sends numeric ids; strings are accepted
// too so the type survives API changes. The zero value means "no id".
type ID string

// UnmarshalJSON accepts a JSON number, string, or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes numeric ids as JSON numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// Subject is one tracked child. Subjects are created upstream and are
// read-only to growrelay.
type Subject struct {
	ID   ID     `json:"id"`
	Name string `json:"name,omitempty"`
}

// DisplayName returns the subject's name, or "Baby" when upstream has none.
func (s Subject) DisplayName() string {
	if s.Name == "" {
		return "Baby"
	}
	return s.Name
}

// Credentials are the Hatch account login.
type Credentials struct {
	Email    string
	Password string
}

// Complete reports whether both fields are set.
func (c Credentials) Complete() bool {
	return c.Email != "" && c.Password != ""
}

// Session is the result of a successful Hatch login.
type Session struct {
	Token    string    `json:"token"`
	Subjects []Subject `json:"subjects"`
}

// Record is a single upstream fact of one kind.
type Record interface {
	// RecordID returns the identifier used as the dedup key. It is unique
	// within its kind and subject and stable across fetches.
	RecordID() string
	Kind() Kind
	// IsDeleted reports the upstream soft-delete flag. Always false for
	// kinds without one.
	IsDeleted() bool
}

// Event is a calendar event derived from a Record. It is never stored by
// growrelay; the calendar is the system of record for created events.
type Event struct {
	Title       string
	Description string
	Start       time.Time
	End         time.Time
}

// --- Record kinds ------------------------------------------------------------
//
// Every alternate field name the Hatch API has been seen to use is kept as
// its own optional field. The event adapters decide the fallback order.

// Feeding is a bottle, breast, or solids feeding.
type Feeding struct {
	ID                ID       `json:"id"`
	StartTime         string   `json:"startTime,omitempty"`
	EndTime           string   `json:"endTime,omitempty"`
	CreateDate        string   `json:"createDate,omitempty"`
	Method            string   `json:"method,omitempty"`
	Source            string   `json:"source,omitempty"`
	Amount            *float64 `json:"amount,omitempty"`
	DurationInSeconds *float64 `json:"durationInSeconds,omitempty"`
	Deleted           bool     `json:"deleted,omitempty"`
}

func (f *Feeding) RecordID() string { return string(f.ID) }
func (f *Feeding) Kind() Kind { return KindFeeding }
func (f *Feeding) IsDeleted() bool { return f.Deleted }

// Diaper is a diaper change.
type Diaper struct {
	ID         ID     `json:"id"`
	DiaperDate string `json:"diaperDate,omitempty"`
	CreateDate string `json:"createDate,omitempty"`
	DiaperType string `json:"diaperType,omitempty"`
	Details    string `json:"details,omitempty"`
	Deleted    bool   `json:"deleted,omitempty"`
}

func (d *Diaper) RecordID() string { return string(d.ID) }
func (d *Diaper) Kind() Kind { return KindDiaper }
func (d *Diaper) IsDeleted() bool { return d.Deleted }

// Sleep is a sleep session.
type Sleep struct {
	ID         ID     `json:"id"`
	StartTime  string `json:"startTime,omitempty"`
	Start      string `json:"start,omitempty"`
	CreateDate string `json:"createDate,omitempty"`
	EndTime    string `json:"endTime,omitempty"`
	End        string `json:"end,omitempty"`
	UpdateDate string `json:"updateDate,omitempty"`
}

func (s *Sleep) RecordID() string { return string(s.ID) }
func (s *Sleep) Kind() Kind { return KindSleep }
func (s *Sleep) IsDeleted() bool { return false }

// Weight is a weight measurement in grams.
type Weight struct {
	ID            ID       `json:"id"`
	CreateDate    string   `json:"createDate,omitempty"`
	WeightDate    string   `json:"weightDate,omitempty"`
	Weight        *float64 `json:"weight,omitempty"`
	WeightInGrams *float64 `json:"weightInGrams,omitempty"`
}

func (w *Weight) RecordID() string { return string(w.ID) }
func (w *Weight) Kind() Kind { return KindWeight }
func (w *Weight) IsDeleted() bool { return false }

// DecodeRecords decodes a JSON array of records of the given kind.
// A null or empty input yields an empty slice.
func DecodeRecords(kind Kind, data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return []Record{}, nil
	}

	switch kind {
	case KindFeeding:
		return decodeAs[Feeding](kind, data)
	case KindDiaper:
		return decodeAs[Diaper](kind, data)
	case KindSleep:
		return decodeAs[Sleep](kind, data)
	case KindWeight:
		return decodeAs[Weight](kind, data)
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}
}

// recordPtr constrains T so that *T implements Record.
type recordPtr[T any] interface {
	*T
	Record
}

func decodeAs[T any, P recordPtr[T]](kind Kind, data []byte) ([]Record, error) {
	var raw []T
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding %s records: %w", kind, err)
	}
	out := make([]Record, 0, len(raw))
	for i := range raw {
		out = append(out, P(&raw[i]))
	}
	return out, nil
}
