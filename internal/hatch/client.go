// Package hatch is a minimal client for the Hatch Grow data API: login and
// one fetch endpoint per record kind. Soft-deleted records are filtered out
// before they are returned.
package hatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/growrelay/internal/model"
)

// DefaultBaseURL is the production Hatch Grow API.
const DefaultBaseURL = "https://data.hatchbaby.com"

const (
	otelScope    = "growrelay/hatch"
	authHeader   = "X-HatchBaby-Auth"
	statusOK     = "success"
	maxBodyBytes = 32 << 20
)

// ErrAuth is returned when Hatch rejects the credentials or token.
var ErrAuth = errors.New("hatch authentication failed")

// fetchPaths maps each kind to its fetch endpoint; the subject id is appended.
var fetchPaths = map[model.Kind]string{
	model.KindFeeding: "/service/app/feeding/v2/fetch/",
	model.KindDiaper:  "/service/app/diaper/v1/fetch/",
	model.KindSleep:   "/service/app/sleep/v1/fetch/",
	model.KindWeight:  "/service/app/weight/v1/fetch/",
}

// envelope is the wrapper around every Hatch response.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload"`
}

type loginPayload struct {
	Babies []model.Subject `json:"babies"`
}

// Client talks to the Hatch Grow API. Create one with [NewClient].
type Client struct {
	baseURL string
	hc      *http.Client
	log     *slog.Logger
	tracer  trace.Tracer
}

// NewClient returns a client for baseURL (empty means [DefaultBaseURL]).
// A nil hc uses a fresh http.Client; callers bound each request through ctx.
func NewClient(baseURL string, hc *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      hc,
		log:     logger,
		tracer:  otel.Tracer(otelScope),
	}
}

// Login exchanges credentials for a token and the account's subjects.
func (c *Client) Login(ctx context.Context, creds model.Credentials) (*model.Session, error) {
	ctx, span := c.tracer.Start(ctx, "hatch.login")
	defer span.End()

	body, err := json.Marshal(map[string]string{"email": creds.Email, "password": creds.Password})
	if err != nil {
		return nil, fmt.Errorf("encoding login request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/public/v1/login", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	env, err := c.do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		return nil, fmt.Errorf("login: %w", err)
	}
	if env.Status != statusOK || env.Token == "" {
		err := fmt.Errorf("%w: %s", ErrAuth, messageOr(env.Message, "no token in response"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "login rejected")
		return nil, fmt.Errorf("login: %w", err)
	}

	var p loginPayload
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("login: decoding payload: %w", err)
		}
	}
	span.SetAttributes(attribute.Int("hatch.subjects", len(p.Babies)))
	c.log.Debug("hatch login ok", "subjects", len(p.Babies))

	subjects := p.Babies
	if subjects == nil {
		subjects = []model.Subject{}
	}
	return &model.Session{Token: env.Token, Subjects: subjects}, nil
}

// Fetch returns the non-deleted records of kind for subjectID. A response
// without the collection is an empty result, not an error.
func (c *Client) Fetch(ctx context.Context, kind model.Kind, token string, subjectID model.ID) ([]model.Record, error) {
	path, ok := fetchPaths[kind]
	if !ok {
		return nil, fmt.Errorf("fetch: unknown record kind %q", kind)
	}

	ctx, span := c.tracer.Start(ctx, "hatch.fetch", trace.WithAttributes(
		attribute.String("hatch.kind", string(kind)),
		attribute.String("hatch.subject", string(subjectID)),
	))
	defer span.End()

	endpoint := c.baseURL + path + url.PathEscape(string(subjectID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", kind, err)
	}
	req.Header.Set(authHeader, token)

	env, err := c.do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("fetch %s: %w", kind.Collection(), err)
	}
	if env.Status != statusOK {
		err := fmt.Errorf("fetch %s: hatch returned status %q: %s",
			kind.Collection(), env.Status, messageOr(env.Message, "no message"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-success envelope")
		return nil, err
	}

	recs, err := decodeCollection(kind, env.Payload)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind.Collection(), err)
	}

	live := recs[:0]
	for _, r := range recs {
		if !r.IsDeleted() {
			live = append(live, r)
		}
	}
	span.SetAttributes(attribute.Int("hatch.records", len(live)))
	return live, nil
}

// do executes req and decodes the response envelope.
func (c *Client) do(req *http.Request) (*envelope, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: hatch returned %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("hatch returned unexpected status %d", resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &env, nil
}

// decodeCollection pulls payload[kind.Collection()] out of a fetch payload.
func decodeCollection(kind model.Kind, payload json.RawMessage) ([]model.Record, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return []model.Record{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return model.DecodeRecords(kind, fields[kind.Collection()])
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
