// Package sync implements the incremental Hatch → Google Calendar mirror.
//
// The package contains two main components:
//
//   - [Syncer] runs one cycle: it diffs fetched records against the seen
//     state, inserts an event per new record, and saves the state once.
//   - [Engine] schedules cycles on an interval or cron expression and makes
//     sure at most one runs at a time.
//
// All collaborators are injected through [Options]; nothing here reads the
// environment or talks to the network directly.
package sync

import (
	"context"

	"github.com/njoerd114/growrelay/internal/model"
	"github.com/njoerd114/growrelay/internal/state"
)

// Fetcher authenticates against and reads records from the upstream
// tracker. Implemented by [hatch.Client].
type Fetcher interface {
	Login(ctx context.Context, creds model.Credentials) (*model.Session, error)
	// Fetch returns the non-deleted records of kind for subjectID. No data
	// upstream is an empty result, not an error.
	Fetch(ctx context.Context, kind model.Kind, token string, subjectID model.ID) ([]model.Record, error)
}

// Calendar is a connected calendar provider. Implemented by [gcal.Gateway].
type Calendar interface {
	// GetOrCreateCalendar returns the calendar for subjectName, creating and
	// sharing it if needed. Idempotent.
	GetOrCreateCalendar(ctx context.Context, subjectName, shareEmail string) (string, error)
	InsertEvent(ctx context.Context, calendarID string, ev model.Event) (string, error)
}

// CalendarConnector authenticates and yields a [Calendar].
type CalendarConnector interface {
	Connect(ctx context.Context) (Calendar, error)
}

// ConnectorFunc adapts a function to [CalendarConnector].
type ConnectorFunc func(ctx context.Context) (Calendar, error)

// Connect implements CalendarConnector.
func (f ConnectorFunc) Connect(ctx context.Context) (Calendar, error) { return f(ctx) }

// Cache holds logins and fetched bundles between cycles. Implemented by
// [cache.Records]. Misses and failures are indistinguishable to callers.
type Cache interface {
	GetSession(ctx context.Context) (*model.Session, bool)
	SetSession(ctx context.Context, s *model.Session)
	GetBundle(ctx context.Context, subjectID model.ID) (model.Bundle, bool)
	SetBundle(ctx context.Context, subjectID model.ID, b model.Bundle)
}

// StateStore persists the seen-record set. Implemented by [state.Store] and
// [state.FileStore]. Load never fails; it returns an empty state instead.
type StateStore interface {
	Load(ctx context.Context) *state.SyncState
	Save(ctx context.Context, st *state.SyncState) error
}

// Adapter converts a record into a calendar event. [event.FromRecord] is the
// default.
type Adapter func(model.Record) (model.Event, error)
