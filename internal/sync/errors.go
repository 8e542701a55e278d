package sync

import (
	"errors"
	"fmt"

	"github.com/njoerd114/growrelay/internal/model"
)

var (
	// ErrConfiguration means a required setting is missing. The cycle stops
	// before any network call.
	ErrConfiguration = errors.New("configuration error")

	// ErrAuthentication means the calendar or tracker rejected our
	// credentials. The cycle stops.
	ErrAuthentication = errors.New("authentication error")

	// ErrBusy is returned when a cycle is requested while one is running.
	ErrBusy = errors.New("sync already running")
)

// Record operations named in a [RecordError].
const (
	OpConvert = "convert"
	OpInsert  = "insert"
)

// FetchError is a failed fetch of one kind for one subject. The kind is
// treated as empty for the rest of the cycle.
type FetchError struct {
	SubjectID model.ID
	Kind      model.Kind
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s fetch for subject %s: %v", e.Kind, e.SubjectID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RecordError is a record that could not be converted or inserted. It stays
// unseen and is retried next cycle.
type RecordError struct {
	Kind     model.Kind
	RecordID string
	Op       string
	Err      error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("%s event %s: %s: %v", e.Kind, e.RecordID, e.Op, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// CalendarError is a subject whose calendar could not be resolved. The
// subject is skipped for the cycle.
type CalendarError struct {
	Subject string
	Err     error
}

func (e *CalendarError) Error() string {
	return fmt.Sprintf("calendar for %s: %v", e.Subject, e.Err)
}

func (e *CalendarError) Unwrap() error { return e.Err }

// StateSaveError is a failure to persist the seen set at the end of a cycle.
// Events created in that cycle may be created again next time.
type StateSaveError struct {
	Err error
}

func (e *StateSaveError) Error() string {
	return fmt.Sprintf("saving sync state: %v", e.Err)
}

func (e *StateSaveError) Unwrap() error { return e.Err }
