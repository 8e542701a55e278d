// Package event converts Hatch records into calendar events. Every function
// here is pure: no I/O, no clock, no sync state.
//
// Each kind has an explicit fallback chain for its timestamp and payload
// fields, because the Hatch API has used more than one name for several of
// them. A missing end time becomes a short fixed-length block after the start.
package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/njoerd114/growrelay/internal/model"
)

// Default event lengths when the record carries no usable end time.
const (
	DiaperBlock  = 5 * time.Minute
	FeedingBlock = 30 * time.Minute
	SleepBlock   = 60 * time.Minute
	WeightBlock  = 5 * time.Minute
)

var (
	// ErrMissingTime is returned when none of a record's start-time fields is set.
	ErrMissingTime = errors.New("record has no timestamp")

	// ErrBadTime is returned when a timestamp cannot be parsed.
	ErrBadTime = errors.New("malformed timestamp")
)

// hatchLayouts are tried, in order, against a prefix of the normalised
// timestamp ("T" replaced by a space, trailing "Z" dropped).
var hatchLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// FromRecord dispatches to the adapter for the record's concrete type.
func FromRecord(r model.Record) (model.Event, error) {
	switch rec := r.(type) {
	case *model.Feeding:
		return Feeding(rec)
	case *model.Diaper:
		return Diaper(rec)
	case *model.Sleep:
		return Sleep(rec)
	case *model.Weight:
		return Weight(rec)
	default:
		return model.Event{}, fmt.Errorf("no event adapter for %T", r)
	}
}

// Diaper maps a diaper change to a 5-minute event.
//
// Start: diaperDate, then createDate. Title: "Diaper - <diaperType>".
// Description: details.
func Diaper(d *model.Diaper) (model.Event, error) {
	start, err := ParseTime(first(d.DiaperDate, d.CreateDate))
	if err != nil {
		return model.Event{}, fmt.Errorf("diaper %s: %w", d.ID, err)
	}
	return model.Event{
		Title:       "Diaper - " + first(d.DiaperType, "Diaper"),
		Description: strings.TrimSpace(d.Details),
		Start:       start,
		End:         start.Add(DiaperBlock),
	}, nil
}

// Feeding maps a feeding to an event ending at endTime, or 30 minutes after
// the start when endTime is absent.
//
// Start: startTime, then createDate. Title: "Feeding - <method> [source] [<amount>g]".
// Description: "Duration: <m>m <s>s" when durationInSeconds is set.
func Feeding(f *model.Feeding) (model.Event, error) {
	start, err := ParseTime(first(f.StartTime, f.CreateDate))
	if err != nil {
		return model.Event{}, fmt.Errorf("feeding %s: %w", f.ID, err)
	}

	parts := []string{first(f.Method, "Feeding")}
	if f.Source != "" {
		parts = append(parts, f.Source)
	}
	if f.Amount != nil {
		parts = append(parts, formatNumber(*f.Amount)+"g")
	}

	var desc string
	if f.DurationInSeconds != nil {
		secs := int(*f.DurationInSeconds)
		desc = fmt.Sprintf("Duration: %dm %ds", secs/60, secs%60)
	}

	return model.Event{
		Title:       "Feeding - " + strings.Join(parts, " "),
		Description: desc,
		Start:       start,
		End:         endOrBlock(start, f.EndTime, FeedingBlock),
	}, nil
}

// Sleep maps a sleep session to an event spanning the session.
//
// Start: startTime, start, createDate. End: endTime, end, updateDate, else
// one hour after the start. Title: "Sleep - <minutes>m".
func Sleep(s *model.Sleep) (model.Event, error) {
	start, err := ParseTime(first(s.StartTime, s.Start, s.CreateDate))
	if err != nil {
		return model.Event{}, fmt.Errorf("sleep %s: %w", s.ID, err)
	}
	end := endOrBlock(start, first(s.EndTime, s.End, s.UpdateDate), SleepBlock)

	return model.Event{
		Title: fmt.Sprintf("Sleep - %dm", int(end.Sub(start).Minutes())),
		Start: start,
		End:   end,
	}, nil
}

// Weight maps a weight measurement to a 5-minute event.
//
// Start: createDate, then weightDate. Title: "Weight - <grams>g" using weight,
// then weightInGrams; a zero weight counts as unset. Plain "Weight" when
// neither is set.
func Weight(w *model.Weight) (model.Event, error) {
	start, err := ParseTime(first(w.CreateDate, w.WeightDate))
	if err != nil {
		return model.Event{}, fmt.Errorf("weight %s: %w", w.ID, err)
	}

	title := "Weight"
	if grams := firstNumber(w.Weight, w.WeightInGrams); grams != nil {
		title = "Weight - " + formatNumber(*grams) + "g"
	}

	return model.Event{
		Title: title,
		Start: start,
		End:   start.Add(WeightBlock),
	}, nil
}

// ParseTime parses a Hatch timestamp. RFC 3339 is tried first; otherwise the
// value is normalised and matched against the Hatch layouts, interpreted as
// UTC. Fractional seconds and anything after the matched prefix are ignored.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrMissingTime
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}

	norm := strings.Replace(strings.TrimSuffix(s, "Z"), "T", " ", 1)
	for _, layout := range hatchLayouts {
		if len(norm) < len(layout) {
			continue
		}
		if t, err := time.Parse(layout, norm[:len(layout)]); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTime, s)
}

// endOrBlock parses raw as the end time. An empty or unparseable value, or
// one not after start, yields start+block.
func endOrBlock(start time.Time, raw string, block time.Duration) time.Time {
	if raw == "" {
		return start.Add(block)
	}
	end, err := ParseTime(raw)
	if err != nil || !end.After(start) {
		return start.Add(block)
	}
	return end
}

func first(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// firstNumber returns the first non-nil, non-zero value. The last value is
// returned as is, zero included.
func firstNumber(vals ...*float64) *float64 {
	for i, v := range vals {
		if v != nil && (*v != 0 || i == len(vals)-1) {
			return v
		}
	}
	return nil
}

// formatNumber renders 120 as "120" and 120.5 as "120.5".
func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
