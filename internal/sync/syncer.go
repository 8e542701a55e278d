package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/njoerd114/growrelay/internal/event"
	"github.com/njoerd114/growrelay/internal/model"
	"github.com/njoerd114/growrelay/internal/state"
)

// Summary is the outcome of one cycle. It is always returned, even when the
// cycle stopped early.
type Summary struct {
	EventsCreated int      `json:"events_created"`
	Errors        []string `json:"errors"`

	RunID    string             `json:"run_id,omitempty"`
	ByKind   map[model.Kind]int `json:"created_by_kind,omitempty"`
	Subjects int                `json:"subjects"`
	Duration time.Duration      `json:"-"`

	errs []error
}

func newSummary(runID string) Summary {
	return Summary{Errors: []string{}, RunID: runID, ByKind: make(map[model.Kind]int)}
}

func (s *Summary) fail(err error) {
	s.errs = append(s.errs, err)
	s.Errors = append(s.Errors, err.Error())
}

func (s *Summary) created(kind model.Kind) {
	s.EventsCreated++
	s.ByKind[kind]++
}

// Err joins every error recorded during the cycle, or returns nil.
func (s Summary) Err() error {
	return errors.Join(s.errs...)
}

// Options wires a [Syncer]. Fetcher, Calendar and Store are required.
type Options struct {
	Fetcher  Fetcher
	Calendar CalendarConnector
	Store    StateStore
	// Cache is optional; nil disables caching.
	Cache Cache

	Credentials model.Credentials
	// CredentialsFile is the calendar service-account file. It must exist.
	CredentialsFile string
	ShareEmail      string

	// CallTimeout bounds each network call. Zero means no per-call bound.
	CallTimeout time.Duration

	// Adapter defaults to event.FromRecord.
	Adapter Adapter
	Logger  *slog.Logger
}

// Syncer runs sync cycles. It holds no state between cycles apart from its
// configuration; call [Syncer.Run] from one goroutine at a time ([Engine]
// enforces this).
type Syncer struct {
	opts Options
	log  *slog.Logger
}

// NewSyncer returns a Syncer for opts.
func NewSyncer(opts Options) *Syncer {
	if opts.Adapter == nil {
		opts.Adapter = event.FromRecord
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{opts: opts, log: opts.Logger}
}

// Run performs one cycle and returns its summary.
func (s *Syncer) Run(ctx context.Context) (sum Summary) {
	runID := uuid.NewString()
	log := s.log.With("run_id", runID)
	start := time.Now()
	sum = newSummary(runID)
	defer func() {
		sum.Duration = time.Since(start)
		log.Info("sync cycle finished",
			"events_created", sum.EventsCreated,
			"errors", len(sum.Errors),
			"subjects", sum.Subjects,
			"duration", sum.Duration,
		)
	}()

	if err := s.checkConfig(); err != nil {
		sum.fail(err)
		return sum
	}

	st := s.opts.Store.Load(ctx)

	cal, err := s.opts.Calendar.Connect(ctx)
	if err != nil {
		sum.fail(fmt.Errorf("%w: google calendar: %w", ErrAuthentication, err))
		return sum
	}

	session, err := s.session(ctx, log)
	if err != nil {
		sum.fail(fmt.Errorf("%w: hatch login: %w", ErrAuthentication, err))
		s.save(ctx, st, &sum)
		return sum
	}

	for _, subj := range session.Subjects {
		if err := ctx.Err(); err != nil {
			sum.fail(fmt.Errorf("cycle aborted: %w", err))
			break
		}
		s.syncSubject(ctx, log.With("subject", subj.ID), cal, session.Token, subj, st, &sum)
	}

	s.save(ctx, st, &sum)
	return sum
}

func (s *Syncer) checkConfig() error {
	if !s.opts.Credentials.Complete() {
		return fmt.Errorf("%w: hatch email and password are required", ErrConfiguration)
	}
	if s.opts.CredentialsFile == "" {
		return fmt.Errorf("%w: google service account file is not set", ErrConfiguration)
	}
	if _, err := os.Stat(s.opts.CredentialsFile); err != nil {
		return fmt.Errorf("%w: google service account file: %w", ErrConfiguration, err)
	}
	return nil
}

// save persists st even when ctx is already done, so a timed-out cycle still
// keeps the progress it made.
func (s *Syncer) save(ctx context.Context, st *state.SyncState, sum *Summary) {
	if err := s.opts.Store.Save(context.WithoutCancel(ctx), st); err != nil {
		sum.fail(&StateSaveError{Err: err})
	}
}

// session returns a cached login when available, otherwise logs in and
// caches the result.
func (s *Syncer) session(ctx context.Context, log *slog.Logger) (*model.Session, error) {
	if s.opts.Cache != nil {
		if sess, ok := s.opts.Cache.GetSession(ctx); ok {
			log.Debug("using cached hatch login", "subjects", len(sess.Subjects))
			return sess, nil
		}
	}

	cctx, cancel := s.callContext(ctx)
	defer cancel()
	sess, err := s.opts.Fetcher.Login(cctx, s.opts.Credentials)
	if err != nil {
		return nil, err
	}
	if s.opts.Cache != nil {
		s.opts.Cache.SetSession(ctx, sess)
	}
	return sess, nil
}

func (s *Syncer) syncSubject(ctx context.Context, log *slog.Logger, cal Calendar, token string, subj model.Subject, st *state.SyncState, sum *Summary) {
	name := subj.DisplayName()

	cctx, cancel := s.callContext(ctx)
	calID, err := cal.GetOrCreateCalendar(cctx, name, s.opts.ShareEmail)
	cancel()
	if err != nil {
		log.Error("calendar unavailable, skipping subject", "name", name, "error", err)
		sum.fail(&CalendarError{Subject: name, Err: err})
		return
	}

	bundle := s.bundle(ctx, log, token, subj.ID, sum)
	for _, kind := range model.Kinds {
		s.syncKind(ctx, log, cal, calID, state.Key{SubjectID: string(subj.ID), Kind: kind}, bundle[kind], st, sum)
	}
	sum.Subjects++
}

// bundle returns the subject's records from the cache, or fetches the four
// kinds concurrently. A failed kind is recorded and left empty; whatever was
// fetched is cached.
func (s *Syncer) bundle(ctx context.Context, log *slog.Logger, token string, subjectID model.ID, sum *Summary) model.Bundle {
	if s.opts.Cache != nil {
		if b, ok := s.opts.Cache.GetBundle(ctx, subjectID); ok {
			log.Debug("using cached records", "records", b.Len())
			return b
		}
	}

	b := model.NewBundle()
	failed := make(map[model.Kind]error)
	var mu sync.Mutex
	var g errgroup.Group

	for _, kind := range model.Kinds {
		g.Go(func() error {
			cctx, cancel := s.callContext(ctx)
			defer cancel()
			recs, err := s.opts.Fetcher.Fetch(cctx, kind, token, subjectID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[kind] = err
				return nil
			}
			if recs != nil {
				b[kind] = recs
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, kind := range model.Kinds {
		if err, ok := failed[kind]; ok {
			log.Warn("fetch failed", "kind", kind, "error", err)
			sum.fail(&FetchError{SubjectID: subjectID, Kind: kind, Err: err})
		}
	}

	if s.opts.Cache != nil {
		s.opts.Cache.SetBundle(ctx, subjectID, b)
	}
	return b
}

// syncKind inserts an event for every new record of one kind and merges the
// ids that succeeded into st.
func (s *Syncer) syncKind(ctx context.Context, log *slog.Logger, cal Calendar, calID string, key state.Key, recs []model.Record, st *state.SyncState, sum *Summary) {
	var nowSeen []string
	handled := make(map[string]struct{}, len(recs))

	for _, rec := range recs {
		id := rec.RecordID()
		if id == "" || rec.IsDeleted() || st.Has(key, id) {
			continue
		}
		if _, dup := handled[id]; dup {
			continue
		}
		handled[id] = struct{}{}

		ev, err := s.convert(rec)
		if err != nil {
			log.Warn("record conversion failed", "kind", key.Kind, "record_id", id, "error", err)
			sum.fail(&RecordError{Kind: key.Kind, RecordID: id, Op: OpConvert, Err: err})
			continue
		}

		cctx, cancel := s.callContext(ctx)
		_, err = cal.InsertEvent(cctx, calID, ev)
		cancel()
		if err != nil {
			log.Warn("event insert failed", "kind", key.Kind, "record_id", id, "error", err)
			sum.fail(&RecordError{Kind: key.Kind, RecordID: id, Op: OpInsert, Err: err})
			continue
		}

		log.Debug("event created", "kind", key.Kind, "record_id", id, "title", ev.Title)
		sum.created(key.Kind)
		nowSeen = append(nowSeen, id)
	}

	if n := st.Merge(key, nowSeen); n > 0 {
		log.Info("synced records", "kind", key.Kind, "created", n)
	}
}

// convert runs the adapter, turning a panic into an error for that record.
func (s *Syncer) convert(rec model.Record) (ev model.Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return s.opts.Adapter(rec)
}

func (s *Syncer) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.CallTimeout)
}
