package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/growrelay/internal/model"
)

var (
	testLogger = slog.Default()
	testCreds  = model.Credentials{Email: "parent@example.com", Password: "secret"}
	uma        = model.Subject{ID: "7", Name: "Uma"}
)

func writeCredentialsFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "service_account.json")
	if err := os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatalf("writing credentials file: %v", err)
	}
	return path
}

func newTestSyncer(t *testing.T, f Fetcher, cal *mockCalendar, store *mockStore, mutate ...func(*Options)) *Syncer {
	t.Helper()
	opts := Options{
		Fetcher:         f,
		Calendar:        cal,
		Store:           store,
		Credentials:     testCreds,
		CredentialsFile: writeCredentialsFile(t),
		ShareEmail:      "parent@example.com",
		CallTimeout:     time.Second,
		Logger:          testLogger,
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewSyncer(opts)
}

func diaper(id, date, typ string) *model.Diaper {
	return &model.Diaper{ID: model.ID(id), DiaperDate: date, DiaperType: typ}
}

func feeding(id, start string) *model.Feeding {
	return &model.Feeding{ID: model.ID(id), StartTime: start, Method: "Bottle " + id}
}

func wantErrorsContaining(t *testing.T, sum Summary, substrs ...string) {
	t.Helper()
	if len(sum.Errors) != len(substrs) {
		t.Fatalf("Errors = %q, want %d entries", sum.Errors, len(substrs))
	}
	for i, s := range substrs {
		if !strings.Contains(sum.Errors[i], s) {
			t.Errorf("Errors[%d] = %q, want it to mention %q", i, sum.Errors[i], s)
		}
	}
}

// ---------------------------------------------------------------------------
// Scenario: three new diapers are created once, then never again
// ---------------------------------------------------------------------------

func TestRun_ThreeDiapers_CreatedOnce(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper,
		diaper("1", "2026-01-02 08:00:00", "Wet"),
		diaper("2", "2026-01-02 10:00:00", "Dirty"),
		diaper("3", "2026-01-02 12:00:00", "Mixed"),
	)
	cal := newMockCalendar()
	store := newMockStore()
	s := newTestSyncer(t, f, cal, store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 3 {
		t.Errorf("EventsCreated = %d, want 3", sum.EventsCreated)
	}
	if len(sum.Errors) != 0 {
		t.Errorf("Errors = %q, want none", sum.Errors)
	}
	if got := store.ids("subject:7:diaper"); !reflect.DeepEqual(got, []string{"1", "2", "3"}) {
		t.Errorf("state subject:7:diaper = %v, want [1 2 3]", got)
	}

	want := []string{"Diaper - Wet", "Diaper - Dirty", "Diaper - Mixed"}
	if got := cal.titles(); !reflect.DeepEqual(got, want) {
		t.Errorf("inserted titles = %v, want %v", got, want)
	}
	if start := cal.events[0].Event.Start; !start.Equal(time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("first event start = %v, want 2026-01-02 08:00 UTC", start)
	}
	if end := cal.events[0].Event.End; !end.Equal(time.Date(2026, 1, 2, 8, 5, 0, 0, time.UTC)) {
		t.Errorf("first event end = %v, want 08:05 UTC", end)
	}
	if cal.events[0].CalendarID != "cal-1" {
		t.Errorf("CalendarID = %q, want cal-1", cal.events[0].CalendarID)
	}

	// Second cycle with identical upstream data creates nothing.
	sum = s.Run(context.Background())
	if sum.EventsCreated != 0 {
		t.Errorf("second run EventsCreated = %d, want 0", sum.EventsCreated)
	}
	if cal.count() != 3 {
		t.Errorf("total inserts = %d, want 3", cal.count())
	}
}

// ---------------------------------------------------------------------------
// Scenario: one malformed feeding fails alone
// ---------------------------------------------------------------------------

func TestRun_MalformedFeeding_IsolatedAndRetried(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindFeeding,
		feeding("5", "not a timestamp"),
		feeding("6", "2026-01-02 09:00:00"),
	)
	cal := newMockCalendar()
	store := newMockStore()
	s := newTestSyncer(t, f, cal, store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	wantErrorsContaining(t, sum, "5")

	var recErr *RecordError
	if !errors.As(sum.Err(), &recErr) {
		t.Fatalf("Err() = %v, want a RecordError", sum.Err())
	}
	if recErr.RecordID != "5" || recErr.Op != OpConvert || recErr.Kind != model.KindFeeding {
		t.Errorf("RecordError = %+v, want feeding 5 convert", recErr)
	}
	if got := store.ids("subject:7:feeding"); !reflect.DeepEqual(got, []string{"6"}) {
		t.Errorf("state = %v, want [6]", got)
	}

	// The bad record stays unseen and fails again next cycle.
	sum = s.Run(context.Background())
	if sum.EventsCreated != 0 {
		t.Errorf("second run EventsCreated = %d, want 0", sum.EventsCreated)
	}
	wantErrorsContaining(t, sum, "5")
}

// ---------------------------------------------------------------------------
// Properties
// ---------------------------------------------------------------------------

func TestRun_NoDuplicateInsertsAcrossCycles(t *testing.T) {
	f := newMockFetcher(uma)
	var recs []model.Record
	for i := 1; i <= 20; i++ {
		recs = append(recs, diaper(fmt.Sprint(i), "2026-01-02 08:00:00", fmt.Sprint("t", i)))
	}
	f.set("7", model.KindDiaper, recs...)
	cal := newMockCalendar()
	s := newTestSyncer(t, f, cal, newMockStore())

	total := 0
	for range 5 {
		total += s.Run(context.Background()).EventsCreated
	}
	if total != 20 || cal.count() != 20 {
		t.Errorf("created = %d, inserts = %d, want 20 each", total, cal.count())
	}
}

func TestRun_NewRecordsOnlyAfterFirstCycle(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	cal := newMockCalendar()
	store := newMockStore()
	s := newTestSyncer(t, f, cal, store)
	s.Run(context.Background())

	f.set("7", model.KindDiaper,
		diaper("1", "2026-01-02 08:00:00", "Wet"),
		diaper("2", "2026-01-02 09:00:00", "Dirty"),
	)
	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	if got := store.ids("subject:7:diaper"); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("state = %v, want [1 2]", got)
	}
}

func TestRun_FetchFailureIsolatedToKind(t *testing.T) {
	grams := 3650.0
	f := newMockFetcher(uma)
	f.set("7", model.KindFeeding, feeding("f1", "2026-01-02 07:00:00"))
	f.set("7", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	f.set("7", model.KindSleep, &model.Sleep{ID: "s1", StartTime: "2026-01-02 13:00:00"})
	f.set("7", model.KindWeight, &model.Weight{ID: "w1", CreateDate: "2026-01-02 09:00:00", Weight: &grams})
	f.fetchErr[model.KindFeeding] = errors.New("upstream 502")
	store := newMockStore()
	s := newTestSyncer(t, f, newMockCalendar(), store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 3 {
		t.Errorf("EventsCreated = %d, want 3", sum.EventsCreated)
	}
	wantErrorsContaining(t, sum, "feeding")

	var fetchErr *FetchError
	if !errors.As(sum.Err(), &fetchErr) || fetchErr.Kind != model.KindFeeding || fetchErr.SubjectID != "7" {
		t.Errorf("Err() = %v, want FetchError for feeding/7", sum.Err())
	}

	tests := []struct {
		key  string
		want []string
	}{
		{"subject:7:diaper", []string{"1"}},
		{"subject:7:sleep", []string{"s1"}},
		{"subject:7:weight", []string{"w1"}},
	}
	for _, tt := range tests {
		if got := store.ids(tt.key); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("state %s = %v, want %v", tt.key, got, tt.want)
		}
	}
	if got := store.ids("subject:7:feeding"); len(got) != 0 {
		t.Errorf("feeding state = %v, want empty", got)
	}
}

func TestRun_InsertFailureRetriedNextCycle(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper,
		diaper("1", "2026-01-02 08:00:00", "Wet"),
		diaper("2", "2026-01-02 09:00:00", "Dirty"),
	)
	cal := newMockCalendar()
	cal.insertErr["Diaper - Dirty"] = errors.New("quota")
	store := newMockStore()
	s := newTestSyncer(t, f, cal, store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	var recErr *RecordError
	if !errors.As(sum.Err(), &recErr) || recErr.Op != OpInsert || recErr.RecordID != "2" {
		t.Errorf("Err() = %v, want insert RecordError for 2", sum.Err())
	}
	if got := store.ids("subject:7:diaper"); !reflect.DeepEqual(got, []string{"1"}) {
		t.Errorf("state = %v, want [1]", got)
	}

	delete(cal.insertErr, "Diaper - Dirty")
	sum = s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("retry EventsCreated = %d, want 1", sum.EventsCreated)
	}
	if got := store.ids("subject:7:diaper"); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("state = %v, want [1 2]", got)
	}
}

func TestRun_DeletedRecordsNeverSynced(t *testing.T) {
	// The cache path bypasses the fetcher's own filter, so the engine must
	// drop deleted records itself.
	c := newMockCache()
	c.session = &model.Session{Token: "tok", Subjects: []model.Subject{uma}}
	b := model.NewBundle()
	b[model.KindFeeding] = []model.Record{
		&model.Feeding{ID: "1", StartTime: "2026-01-02 08:00:00", Deleted: true},
		&model.Feeding{ID: "2", StartTime: "2026-01-02 09:00:00"},
	}
	c.bundles["7"] = b
	store := newMockStore()
	cal := newMockCalendar()
	s := newTestSyncer(t, newMockFetcher(), cal, store, func(o *Options) { o.Cache = c })

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	if got := store.ids("subject:7:feeding"); !reflect.DeepEqual(got, []string{"2"}) {
		t.Errorf("state = %v, want [2]", got)
	}
}

func TestRun_StateIsMonotonic(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper, diaper("9", "2026-01-02 08:00:00", "Wet"))
	store := newMockStore()
	store.saved["subject:7:diaper"] = []string{"1", "2"}
	store.saved["subject:8:weight"] = []string{"w1"}
	s := newTestSyncer(t, f, newMockCalendar(), store)

	s.Run(context.Background())

	if got := store.ids("subject:7:diaper"); !reflect.DeepEqual(got, []string{"1", "2", "9"}) {
		t.Errorf("diaper state = %v, want [1 2 9]", got)
	}
	if got := store.ids("subject:8:weight"); !reflect.DeepEqual(got, []string{"w1"}) {
		t.Errorf("untouched subject state = %v, want [w1]", got)
	}
}

func TestRun_DuplicateIDsInOneFetch(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper,
		diaper("1", "2026-01-02 08:00:00", "Wet"),
		diaper("1", "2026-01-02 08:00:00", "Wet"),
	)
	cal := newMockCalendar()
	s := newTestSyncer(t, f, cal, newMockStore())

	if sum := s.Run(context.Background()); sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	if cal.count() != 1 {
		t.Errorf("inserts = %d, want 1", cal.count())
	}
}

func TestRun_AdapterPanicBecomesRecordError(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper,
		diaper("1", "2026-01-02 08:00:00", "Wet"),
		diaper("2", "2026-01-02 09:00:00", "Dirty"),
	)
	adapter := func(r model.Record) (model.Event, error) {
		if r.RecordID() == "1" {
			panic("boom")
		}
		return model.Event{Title: "ok"}, nil
	}
	s := newTestSyncer(t, f, newMockCalendar(), newMockStore(), func(o *Options) { o.Adapter = adapter })

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	wantErrorsContaining(t, sum, "boom")
}

func TestRun_MultipleSubjects(t *testing.T) {
	ben := model.Subject{ID: "8"}
	f := newMockFetcher(uma, ben)
	f.set("7", model.KindWeight, &model.Weight{ID: "w1", CreateDate: "2026-01-02 07:00:00"})
	f.set("8", model.KindWeight, &model.Weight{ID: "w1", CreateDate: "2026-01-02 07:00:00"})
	cal := newMockCalendar()
	store := newMockStore()
	s := newTestSyncer(t, f, cal, store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 2 || sum.Subjects != 2 {
		t.Errorf("EventsCreated = %d, Subjects = %d, want 2 and 2", sum.EventsCreated, sum.Subjects)
	}
	if _, ok := cal.calendars["Baby"]; !ok {
		t.Errorf("calendars = %v, want one for unnamed subject as Baby", cal.calendars)
	}
	if len(store.ids("subject:7:weight")) != 1 || len(store.ids("subject:8:weight")) != 1 {
		t.Errorf("state = %v, want one weight per subject", store.saved)
	}
}

func TestRun_CalendarFailureSkipsSubject(t *testing.T) {
	ben := model.Subject{ID: "8", Name: "Ben"}
	f := newMockFetcher(uma, ben)
	f.set("7", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	f.set("8", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	cal := newMockCalendar()
	cal.getErr["Uma"] = errors.New("forbidden")
	store := newMockStore()
	s := newTestSyncer(t, f, cal, store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	wantErrorsContaining(t, sum, "Uma")
	if len(store.ids("subject:7:diaper")) != 0 {
		t.Error("skipped subject gained state")
	}
}

// ---------------------------------------------------------------------------
// Preconditions and fatal errors
// ---------------------------------------------------------------------------

func TestRun_MissingCredentials(t *testing.T) {
	f := newMockFetcher(uma)
	store := newMockStore()
	s := newTestSyncer(t, f, newMockCalendar(), store, func(o *Options) { o.Credentials.Password = "" })

	sum := s.Run(context.Background())
	if !errors.Is(sum.Err(), ErrConfiguration) {
		t.Errorf("Err() = %v, want ErrConfiguration", sum.Err())
	}
	if len(sum.Errors) != 1 {
		t.Errorf("Errors = %q, want exactly one", sum.Errors)
	}
	if f.logins != 0 || store.saves != 0 {
		t.Errorf("logins = %d, saves = %d, want no side effects", f.logins, store.saves)
	}
}

func TestRun_MissingCredentialsFile(t *testing.T) {
	for _, path := range []string{"", "/nonexistent/service_account.json"} {
		s := newTestSyncer(t, newMockFetcher(uma), newMockCalendar(), newMockStore(),
			func(o *Options) { o.CredentialsFile = path })
		sum := s.Run(context.Background())
		if !errors.Is(sum.Err(), ErrConfiguration) {
			t.Errorf("path %q: Err() = %v, want ErrConfiguration", path, sum.Err())
		}
	}
}

func TestRun_CalendarAuthFailure(t *testing.T) {
	failing := ConnectorFunc(func(context.Context) (Calendar, error) {
		return nil, errors.New("invalid_grant")
	})
	f := newMockFetcher(uma)
	s := newTestSyncer(t, f, newMockCalendar(), newMockStore())
	s.opts.Calendar = failing

	sum := s.Run(context.Background())
	if !errors.Is(sum.Err(), ErrAuthentication) {
		t.Errorf("Err() = %v, want ErrAuthentication", sum.Err())
	}
	wantErrorsContaining(t, sum, "invalid_grant")
	if f.logins != 0 {
		t.Errorf("logins = %d, want 0", f.logins)
	}
}

func TestRun_LoginFailure(t *testing.T) {
	f := newMockFetcher(uma)
	f.loginErr = errors.New("bad password")
	store := newMockStore()
	cal := newMockCalendar()
	s := newTestSyncer(t, f, cal, store)

	sum := s.Run(context.Background())
	if !errors.Is(sum.Err(), ErrAuthentication) {
		t.Errorf("Err() = %v, want ErrAuthentication", sum.Err())
	}
	wantErrorsContaining(t, sum, "bad password")
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
	if len(cal.calendars) != 0 {
		t.Error("calendar touched after failed login")
	}
}

func TestRun_StateSaveFailureReported(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	store := newMockStore()
	store.saveErr = errors.New("disk full")
	s := newTestSyncer(t, f, newMockCalendar(), store)

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	var saveErr *StateSaveError
	if !errors.As(sum.Err(), &saveErr) {
		t.Errorf("Err() = %v, want StateSaveError", sum.Err())
	}
}

// ---------------------------------------------------------------------------
// Cache and timeouts
// ---------------------------------------------------------------------------

func TestRun_UsesAndFillsCache(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	c := newMockCache()
	s := newTestSyncer(t, f, newMockCalendar(), newMockStore(), func(o *Options) { o.Cache = c })

	s.Run(context.Background())
	if f.logins != 1 || f.fetches != len(model.Kinds) {
		t.Errorf("first run logins = %d, fetches = %d, want 1 and %d", f.logins, f.fetches, len(model.Kinds))
	}
	if c.session == nil || c.session.Token == "" {
		t.Error("session not cached")
	}
	b, ok := c.bundles["7"]
	if !ok {
		t.Fatal("bundle not cached")
	}
	if len(b[model.KindDiaper]) != 1 || b[model.KindFeeding] == nil {
		t.Errorf("cached bundle = %v, want 1 diaper and empty (non-nil) feedings", b)
	}

	s.Run(context.Background())
	if f.logins != 1 || f.fetches != len(model.Kinds) {
		t.Errorf("second run hit upstream: logins = %d, fetches = %d", f.logins, f.fetches)
	}
}

// slowFetcher blocks sleep fetches until the call context ends.
type slowFetcher struct {
	*mockFetcher
}

func (s slowFetcher) Fetch(ctx context.Context, kind model.Kind, token string, subjectID model.ID) ([]model.Record, error) {
	if kind == model.KindSleep {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.mockFetcher.Fetch(ctx, kind, token, subjectID)
}

func TestRun_CallTimeoutIsPerCall(t *testing.T) {
	f := newMockFetcher(uma)
	f.set("7", model.KindDiaper, diaper("1", "2026-01-02 08:00:00", "Wet"))
	s := newTestSyncer(t, slowFetcher{f}, newMockCalendar(), newMockStore(),
		func(o *Options) { o.CallTimeout = 50 * time.Millisecond })

	sum := s.Run(context.Background())
	if sum.EventsCreated != 1 {
		t.Errorf("EventsCreated = %d, want 1", sum.EventsCreated)
	}
	if !errors.Is(sum.Err(), context.DeadlineExceeded) {
		t.Errorf("Err() = %v, want DeadlineExceeded from the sleep fetch", sum.Err())
	}
}

func TestRun_CancelledContextStillSaves(t *testing.T) {
	f := newMockFetcher(uma)
	store := newMockStore()
	s := newTestSyncer(t, f, newMockCalendar(), store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum := s.Run(ctx)
	if !errors.Is(sum.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", sum.Err())
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

// ---------------------------------------------------------------------------
// Summary
// ---------------------------------------------------------------------------

func TestSummary_JSON(t *testing.T) {
	s := newTestSyncer(t, newMockFetcher(), newMockCalendar(), newMockStore())
	sum := s.Run(context.Background())
	if sum.RunID == "" {
		t.Error("RunID is empty")
	}

	data, err := json.Marshal(sum)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["events_created"] != float64(0) {
		t.Errorf("events_created = %v, want 0", got["events_created"])
	}
	if errs, ok := got["errors"].([]any); !ok || len(errs) != 0 {
		t.Errorf("errors = %v, want empty array", got["errors"])
	}
	if sum.Err() != nil {
		t.Errorf("Err() = %v, want nil", sum.Err())
	}
}
