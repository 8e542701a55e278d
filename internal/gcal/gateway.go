// Package gcal is the Google Calendar side of growrelay: it authenticates
// with a service account, finds or creates one calendar per subject, shares
// it with a configured address, and inserts events.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/njoerd114/growrelay/internal/model"
)

// DefaultCalendarSuffix is appended to the subject name to form the calendar title.
const DefaultCalendarSuffix = " - Baby Tracker"

const (
	otelScope           = "growrelay/gcal"
	calendarDescription = "Hatch Grow sync: diapers, feedings, sleep, weight"
	shareRole           = "writer"
)

// ErrCredentials is returned when the service-account file is missing or unusable.
var ErrCredentials = errors.New("google credentials unusable")

// Connector builds a [Gateway] from a service-account JSON file.
type Connector struct {
	credentialsFile string
	suffix          string
	log             *slog.Logger
	opts            []option.ClientOption
}

// NewConnector returns a connector for the given service-account file. Extra
// client options are appended after the credentials.
func NewConnector(credentialsFile, suffix string, logger *slog.Logger, opts ...option.ClientOption) *Connector {
	return &Connector{credentialsFile: credentialsFile, suffix: suffix, log: logger, opts: opts}
}

// Connect loads the credentials and builds a Calendar API client.
func (c *Connector) Connect(ctx context.Context) (*Gateway, error) {
	data, err := os.ReadFile(c.credentialsFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s does not exist", ErrCredentials, c.credentialsFile)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCredentials, c.credentialsFile, err)
	}

	creds, err := google.CredentialsFromJSON(ctx, data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCredentials, err)
	}

	opts := append([]option.ClientOption{option.WithCredentials(creds)}, c.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewGateway(svc, c.suffix, c.log), nil
}

// Gateway performs the calendar operations the sync engine needs.
type Gateway struct {
	svc    *calendar.Service
	suffix string
	log    *slog.Logger
	tracer trace.Tracer

	mu       sync.Mutex
	resolved map[string]string // title + share address → calendar id
}

// NewGateway wraps an existing Calendar service. An empty suffix uses
// [DefaultCalendarSuffix].
func NewGateway(svc *calendar.Service, suffix string, logger *slog.Logger) *Gateway {
	if suffix == "" {
		suffix = DefaultCalendarSuffix
	}
	return &Gateway{
		svc:      svc,
		suffix:   suffix,
		log:      logger,
		tracer:   otel.Tracer(otelScope),
		resolved: make(map[string]string),
	}
}

// CalendarTitle returns the title used for subjectName's calendar.
func (g *Gateway) CalendarTitle(subjectName string) string {
	return subjectName + g.suffix
}

// GetOrCreateCalendar returns the id of the calendar titled after
// subjectName, creating it if no visible calendar has that title, and makes
// sure it is shared with shareEmail as a writer. Repeated calls return the
// same id and create nothing.
func (g *Gateway) GetOrCreateCalendar(ctx context.Context, subjectName, shareEmail string) (string, error) {
	title := g.CalendarTitle(subjectName)
	ctx, span := g.tracer.Start(ctx, "gcal.get_or_create_calendar",
		trace.WithAttributes(attribute.String("gcal.calendar", title)))
	defer span.End()

	memo := title + "\x00" + strings.ToLower(shareEmail)
	g.mu.Lock()
	id, ok := g.resolved[memo]
	g.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := g.findCalendar(ctx, title)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return "", fmt.Errorf("listing calendars: %w", err)
	}
	if id == "" {
		id, err = g.createCalendar(ctx, title)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "create failed")
			return "", fmt.Errorf("creating calendar %q: %w", title, err)
		}
		g.log.Info("created calendar", "title", title, "calendar_id", id)
	}

	if err := g.ensureShared(ctx, id, shareEmail); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "share failed")
		return "", fmt.Errorf("sharing calendar %q: %w", title, err)
	}

	g.mu.Lock()
	g.resolved[memo] = id
	g.mu.Unlock()
	return id, nil
}

func (g *Gateway) findCalendar(ctx context.Context, title string) (string, error) {
	pageToken := ""
	for {
		var page *calendar.CalendarList
		err := retry(ctx, defaultMaxAttempts, func() error {
			call := g.svc.CalendarList.List().Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			page, err = call.Do()
			return err
		})
		if err != nil {
			return "", err
		}
		for _, entry := range page.Items {
			if entry.Summary == title {
				return entry.Id, nil
			}
		}
		if page.NextPageToken == "" {
			return "", nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *Gateway) createCalendar(ctx context.Context, title string) (string, error) {
	var created *calendar.Calendar
	err := retry(ctx, defaultMaxAttempts, func() error {
		var err error
		created, err = g.svc.Calendars.Insert(&calendar.Calendar{
			Summary:     title,
			Description: calendarDescription,
			TimeZone:    "UTC",
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", err
	}
	return created.Id, nil
}

// ensureShared grants email the writer role unless a user rule for it exists.
func (g *Gateway) ensureShared(ctx context.Context, calendarID, email string) error {
	if email == "" {
		return nil
	}

	pageToken := ""
	for {
		var acl *calendar.Acl
		err := retry(ctx, defaultMaxAttempts, func() error {
			call := g.svc.Acl.List(calendarID).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			var err error
			acl, err = call.Do()
			return err
		})
		if err != nil {
			return fmt.Errorf("listing ACL: %w", err)
		}
		for _, rule := range acl.Items {
			if rule.Scope != nil && rule.Scope.Type == "user" && strings.EqualFold(rule.Scope.Value, email) {
				return nil
			}
		}
		if acl.NextPageToken == "" {
			break
		}
		pageToken = acl.NextPageToken
	}

	err := retry(ctx, defaultMaxAttempts, func() error {
		_, err := g.svc.Acl.Insert(calendarID, &calendar.AclRule{
			Role:  shareRole,
			Scope: &calendar.AclRuleScope{Type: "user", Value: email},
		}).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("inserting ACL rule: %w", err)
	}
	g.log.Info("shared calendar", "calendar_id", calendarID, "email", email)
	return nil
}

// InsertEvent creates ev as a timed UTC event and returns the new event id.
func (g *Gateway) InsertEvent(ctx context.Context, calendarID string, ev model.Event) (string, error) {
	ctx, span := g.tracer.Start(ctx, "gcal.insert_event",
		trace.WithAttributes(attribute.String("gcal.calendar_id", calendarID)))
	defer span.End()

	body := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		Start:       eventTime(ev.Start),
		End:         eventTime(ev.End),
	}

	var created *calendar.Event
	err := retry(ctx, defaultMaxAttempts, func() error {
		var err error
		created, err = g.svc.Events.Insert(calendarID, body).Context(ctx).Do()
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return "", fmt.Errorf("inserting event %q: %w", ev.Title, err)
	}
	return created.Id, nil
}

func eventTime(t time.Time) *calendar.EventDateTime {
	return &calendar.EventDateTime{
		DateTime: t.UTC().Format(time.RFC3339),
		TimeZone: "UTC",
	}
}
