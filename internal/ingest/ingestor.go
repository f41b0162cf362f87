package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"example.com/playbacktelemetry/internal/domain"
	"example.com/playbacktelemetry/internal/idempotency"
	"example.com/playbacktelemetry/internal/logging"
	"example.com/playbacktelemetry/internal/metrics"
)

// EventWriter persists validated events, attempting every record even when
// some of them fail. Implemented by postgres.Writer.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []domain.PlaybackEvent) (inserted, failed int, err error)
}

// Result is the outcome of a request whose records all passed validation.
type Result struct {
	Inserted int
	Failed   int
}

// Partial reports a multi-status outcome: some records were refused by
// storage after passing validation.
func (r Result) Partial() bool { return r.Failed > 0 }

// PersistenceError is an unexpected storage failure. Inserted counts the
// records committed before the failure.
type PersistenceError struct {
	Inserted int
	Err      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist playback events (%d inserted before failure): %v", e.Inserted, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Ingestor struct {
	writer       EventWriter
	maxBatchSize int
	now          func() time.Time
}

func NewIngestor(writer EventWriter, maxBatchSize int, now func() time.Time) *Ingestor {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ingestor{writer: writer, maxBatchSize: maxBatchSize, now: now}
}

// Ingest decodes body as one event object or an array of them, validates
// every record and persists the batch only when all records are valid.
// Validation problems are returned as *domain.ValidationError and nothing is
// written; storage failures are returned as *PersistenceError.
func (ig *Ingestor) Ingest(ctx context.Context, body []byte) (Result, error) {
	records, err := ig.decode(body)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("validation").Add(float64(max(len(records), 1)))
		return Result{}, err
	}
	metrics.IngestBatchSize.Observe(float64(len(records)))

	events, failed := domain.ValidateBatch(records)
	if len(failed) > 0 {
		metrics.EventsRejected.WithLabelValues("validation").Add(float64(len(records)))
		logging.Ctx(ctx).Info().
			Int("total", len(records)).
			Int("invalid", len(failed)).
			Msg("playback batch rejected by validation")
		return Result{}, &domain.ValidationError{
			Details: failed,
			Failed:  len(failed),
			Total:   len(records),
		}
	}

	createdAt := ig.now()
	for i := range events {
		events[i].CreatedAt = createdAt
	}
	if dups := idempotency.Stamp(events); dups > 0 {
		metrics.DuplicateFingerprints.Add(float64(dups))
		logging.Ctx(ctx).Warn().Int("duplicates", dups).Msg("batch repeats playback events; storing all of them")
	}

	inserted, storeFailed, err := ig.writer.InsertEvents(ctx, events)
	metrics.EventsIngested.Add(float64(inserted))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).
			Int("inserted", inserted).
			Int("size", len(events)).
			Msg("playback batch insert FAILED")
		return Result{Inserted: inserted}, &PersistenceError{Inserted: inserted, Err: err}
	}
	if storeFailed > 0 {
		metrics.EventsRejected.WithLabelValues("storage").Add(float64(storeFailed))
	}

	logging.Ctx(ctx).Info().
		Int("inserted", inserted).
		Int("failed", storeFailed).
		Int("size", len(events)).
		Msg("playback batch persisted")
	return Result{Inserted: inserted, Failed: storeFailed}, nil
}

// decode turns the request body into records. A single object becomes a
// batch of one; array elements that are not objects are reported per index.
func (ig *Ingestor) decode(body []byte) ([]domain.Record, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, &domain.ValidationError{Reason: "request body is empty"}
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.ValidationError{Reason: "invalid JSON: " + err.Error()}
	}

	var items []any
	switch p := payload.(type) {
	case map[string]any:
		items = []any{p}
	case []any:
		items = p
	default:
		return nil, &domain.ValidationError{Reason: "payload must be an event object or an array of event objects"}
	}

	if len(items) == 0 {
		return nil, &domain.ValidationError{Reason: "no events provided"}
	}
	if ig.maxBatchSize > 0 && len(items) > ig.maxBatchSize {
		return nil, &domain.ValidationError{
			Reason: fmt.Sprintf("batch of %d events exceeds the maximum of %d", len(items), ig.maxBatchSize),
		}
	}

	records := make([]domain.Record, len(items))
	var notObjects []domain.RecordError
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			notObjects = append(notObjects, domain.RecordError{Index: i, Errors: []string{"record must be a JSON object"}})
			continue
		}
		records[i] = domain.Record(obj)
	}
	if len(notObjects) > 0 {
		return records, mergeNonObjects(records, notObjects)
	}
	return records, nil
}

// mergeNonObjects validates the object records too, so the caller sees the
// complete list of failing indexes in input order.
func mergeNonObjects(records []domain.Record, notObjects []domain.RecordError) *domain.ValidationError {
	bad := make(map[int]domain.RecordError, len(notObjects))
	for _, re := range notObjects {
		bad[re.Index] = re
	}
	var details []domain.RecordError
	for i, rec := range records {
		if re, ok := bad[i]; ok {
			details = append(details, re)
			continue
		}
		if v := domain.ValidateRecord(rec); !v.OK() {
			details = append(details, domain.RecordError{Index: i, Errors: v.Errors})
		}
	}
	return &domain.ValidationError{Details: details, Failed: len(details), Total: len(records)}
}
