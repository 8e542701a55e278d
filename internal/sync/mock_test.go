package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/njoerd114/growrelay/internal/model"
	"github.com/njoerd114/growrelay/internal/state"
)

// --- Mock Fetcher ------------------------------------------------------------

type mockFetcher struct {
	mu       sync.Mutex
	subjects []model.Subject
	records  map[model.ID]map[model.Kind][]model.Record
	fetchErr map[model.Kind]error
	loginErr error

	logins  int
	fetches int
}

func newMockFetcher(subjects ...model.Subject) *mockFetcher {
	return &mockFetcher{
		subjects: subjects,
		records:  make(map[model.ID]map[model.Kind][]model.Record),
		fetchErr: make(map[model.Kind]error),
	}
}

func (m *mockFetcher) set(subjectID model.ID, kind model.Kind, recs ...model.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[subjectID] == nil {
		m.records[subjectID] = make(map[model.Kind][]model.Record)
	}
	m.records[subjectID][kind] = recs
}

func (m *mockFetcher) Login(_ context.Context, creds model.Credentials) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins++
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &model.Session{Token: "tok-" + creds.Email, Subjects: m.subjects}, nil
}

func (m *mockFetcher) Fetch(ctx context.Context, kind model.Kind, token string, subjectID model.ID) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	if err := m.fetchErr[kind]; err != nil {
		return nil, err
	}
	var out []model.Record
	for _, r := range m.records[subjectID][kind] {
		if !r.IsDeleted() {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- Mock Calendar -----------------------------------------------------------

type insertedEvent struct {
	CalendarID string
	Event      model.Event
}

type mockCalendar struct {
	mu        sync.Mutex
	calendars map[string]string // subject name → calendar id
	events    []insertedEvent
	getErr    map[string]error // subject name → error
	insertErr map[string]error // title → error
	connects  int
}

func newMockCalendar() *mockCalendar {
	return &mockCalendar{
		calendars: make(map[string]string),
		getErr:    make(map[string]error),
		insertErr: make(map[string]error),
	}
}

func (m *mockCalendar) GetOrCreateCalendar(_ context.Context, subjectName, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErr[subjectName]; err != nil {
		return "", err
	}
	id, ok := m.calendars[subjectName]
	if !ok {
		id = fmt.Sprintf("cal-%d", len(m.calendars)+1)
		m.calendars[subjectName] = id
	}
	return id, nil
}

func (m *mockCalendar) InsertEvent(_ context.Context, calendarID string, ev model.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertErr[ev.Title]; err != nil {
		return "", err
	}
	m.events = append(m.events, insertedEvent{CalendarID: calendarID, Event: ev})
	return fmt.Sprintf("ev-%d", len(m.events)), nil
}

func (m *mockCalendar) Connect(context.Context) (Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m, nil
}

func (m *mockCalendar) titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Event.Title
	}
	return out
}

func (m *mockCalendar) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// --- Mock State Store --------------------------------------------------------

type mockStore struct {
	mu      sync.Mutex
	saved   map[string][]string
	saveErr error
	saves   int
}

func newMockStore() *mockStore {
	return &mockStore{saved: make(map[string][]string)}
}

func (m *mockStore) Load(context.Context) *state.SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := state.New()
	for name, ids := range m.saved {
		k, err := state.ParseKey(name)
		if err != nil {
			continue
		}
		st.Merge(k, ids)
	}
	return st
}

func (m *mockStore) Save(_ context.Context, st *state.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = st.Map()
	return nil
}

func (m *mockStore) ids(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saved[key]...)
}

// --- Mock Cache --------------------------------------------------------------

type mockCache struct {
	mu      sync.Mutex
	session *model.Session
	bundles map[model.ID]model.Bundle
}

func newMockCache() *mockCache {
	return &mockCache{bundles: make(map[model.ID]model.Bundle)}
}

func (m *mockCache) GetSession(context.Context) (*model.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, m.session != nil
}

func (m *mockCache) SetSession(_ context.Context, s *model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
}

func (m *mockCache) GetBundle(_ context.Context, id model.ID) (model.Bundle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	return b, ok
}

func (m *mockCache) SetBundle(_ context.Context, id model.ID, b model.Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[id] = b
}
