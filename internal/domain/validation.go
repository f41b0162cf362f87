package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RecordError lists every rule a record of a batch violated.
type RecordError struct {
	Index  int      `json:"index"`
	Errors []string `json:"errors"`
}

// Validation is the outcome of validating one record: either a normalized
// event or the ordered list of violated rules.
type Validation struct {
	Event  PlaybackEvent
	Errors []string
}

// OK reports whether the record passed every check.
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// timeLayouts are tried in order when parsing date-times. Layouts without a
// zone are interpreted as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 date-time in one of the accepted layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ValidateRecord checks one record. Every check runs independently; a
// cross-field check is skipped only when one of its inputs did not parse.
func ValidateRecord(rec Record) Validation {
	var (
		out  Validation
		errs []string
	)

	ids := []struct {
		field string
		dst   *string
	}{
		{FieldDeviceID, &out.Event.DeviceID},
		{FieldAssetID, &out.Event.AssetID},
		{FieldPlaylistID, &out.Event.PlaylistID},
	}
	for _, id := range ids {
		s, ok := nonEmptyString(rec[id.field])
		if !ok {
			errs = append(errs, id.field+" is required and must be a non-empty string")
			continue
		}
		*id.dst = s
	}

	duration, durOK := nonNegativeNumber(rec[FieldDuration])
	if !durOK {
		errs = append(errs, "duration is required and must be a number >= 0")
	}

	start, startOK := timestampField(rec[FieldStartTime])
	if !startOK {
		errs = append(errs, "start_time is required and must be a valid ISO-8601 date-time")
	}
	end, endOK := timestampField(rec[FieldEndTime])
	if !endOK {
		errs = append(errs, "end_time is required and must be a valid ISO-8601 date-time")
	}

	if startOK && endOK && !end.After(start) {
		errs = append(errs, "end_time must be after start_time")
	}
	if startOK && endOK && durOK {
		// elapsed is negative when the times are reversed
		elapsed := math.Floor(end.Sub(start).Seconds())
		if math.Abs(duration-elapsed) > DurationToleranceSeconds {
			errs = append(errs, fmt.Sprintf(
				"duration (%s) does not match end_time - start_time (%ss) within %ds tolerance",
				formatNumber(duration), formatNumber(elapsed), DurationToleranceSeconds))
		}
	}

	if len(errs) > 0 {
		return Validation{Errors: errs}
	}
	out.Event.StartTime = start
	out.Event.EndTime = end
	out.Event.Duration = int64(math.Round(duration))
	return out
}

// ValidateBatch validates every record in input order. It returns the
// normalized events and, when any record failed, one RecordError per failing
// index. Events are only meaningful when no errors are returned.
func ValidateBatch(records []Record) ([]PlaybackEvent, []RecordError) {
	events := make([]PlaybackEvent, 0, len(records))
	var failed []RecordError
	for i, rec := range records {
		v := ValidateRecord(rec)
		if !v.OK() {
			failed = append(failed, RecordError{Index: i, Errors: v.Errors})
			continue
		}
		events = append(events, v.Event)
	}
	return events, failed
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func nonNegativeNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case interface{ Float64() (float64, error) }: // json.Number
		var err error
		if f, err = n.Float64(); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

func timestampField(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	return ParseTimestamp(s)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
