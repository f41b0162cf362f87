package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/playbacktelemetry/internal/domain"
)

type stubWriter struct {
	calls  int
	got    []domain.PlaybackEvent
	reject func(domain.PlaybackEvent) bool
	err    error
}

func (s *stubWriter) InsertEvents(_ context.Context, events []domain.PlaybackEvent) (int, int, error) {
	s.calls++
	if s.err != nil {
		return 0, 0, s.err
	}
	inserted, failed := 0, 0
	for _, ev := range events {
		if s.reject != nil && s.reject(ev) {
			failed++
			continue
		}
		s.got = append(s.got, ev)
		inserted++
	}
	return inserted, failed, nil
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestIngestor(w EventWriter) *Ingestor {
	return NewIngestor(w, 100, func() time.Time { return fixedNow })
}

func eventJSON(device string, duration int) string {
	return fmt.Sprintf(`{"device_id":%q,"asset_id":"asset-1","playlist_id":"pl-1",`+
		`"start_time":"2024-05-01T10:00:00Z","end_time":"2024-05-01T10:00:10Z","duration":%d}`, device, duration)
}

func TestIngest_SingleObject(t *testing.T) {
	w := &stubWriter{}
	res, err := newTestIngestor(w).Ingest(context.Background(), []byte(eventJSON(" screen-1 ", 10)))

	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 1}, res)
	assert.False(t, res.Partial())
	require.Len(t, w.got, 1)
	assert.Equal(t, "screen-1", w.got[0].DeviceID)
	assert.Equal(t, fixedNow, w.got[0].CreatedAt)
	assert.NotEmpty(t, w.got[0].Fingerprint)
}

func TestIngest_Array(t *testing.T) {
	w := &stubWriter{}
	body := "[" + eventJSON("a", 10) + "," + eventJSON("b", 9) + "]"

	res, err := newTestIngestor(w).Ingest(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, w.calls)
}

func TestIngest_BatchAtomicityOfValidation(t *testing.T) {
	w := &stubWriter{}
	body := "[" + eventJSON("a", 10) + "," + eventJSON("b", 8) + "," + eventJSON("c", 10) + "]"

	_, err := newTestIngestor(w).Ingest(context.Background(), []byte(body))

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Details, 1)
	assert.Equal(t, 1, verr.Details[0].Index)
	assert.NotEmpty(t, verr.Details[0].Errors)
	assert.Equal(t, 1, verr.Failed)
	assert.Equal(t, 3, verr.Total)
	assert.Equal(t, "1 of 3 events failed validation", verr.Message())
	assert.Zero(t, w.calls, "nothing may be written when any record is invalid")
}

func TestIngest_RejectsMalformedPayloads(t *testing.T) {
	cases := map[string]string{
		"empty body":   "   ",
		"invalid json": `{"device_id":`,
		"empty array":  `[]`,
		"scalar":       `42`,
		"too many":     "[" + strings.TrimSuffix(strings.Repeat(eventJSON("a", 10)+",", 101), ",") + "]",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := &stubWriter{}
			_, err := newTestIngestor(w).Ingest(context.Background(), []byte(body))

			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.NotEmpty(t, verr.Reason)
			assert.Empty(t, verr.Details)
			assert.Zero(t, w.calls)
		})
	}
}

func TestIngest_NonObjectElementsReportedWithOtherFailures(t *testing.T) {
	w := &stubWriter{}
	body := "[" + eventJSON("a", 10) + `,"oops",` + eventJSON("c", 1) + "]"

	_, err := newTestIngestor(w).Ingest(context.Background(), []byte(body))

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Details, 2)
	assert.Equal(t, 1, verr.Details[0].Index)
	assert.Equal(t, []string{"record must be a JSON object"}, verr.Details[0].Errors)
	assert.Equal(t, 2, verr.Details[1].Index)
	assert.Zero(t, w.calls)
}

func TestIngest_PartialPersistence(t *testing.T) {
	w := &stubWriter{reject: func(ev domain.PlaybackEvent) bool {
		return ev.DeviceID == "bad-1" || ev.DeviceID == "bad-2"
	}}
	body := "[" + strings.Join([]string{
		eventJSON("ok-1", 10), eventJSON("bad-1", 10), eventJSON("ok-2", 10),
		eventJSON("bad-2", 10), eventJSON("ok-3", 10),
	}, ",") + "]"

	res, err := newTestIngestor(w).Ingest(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 3, Failed: 2}, res)
	assert.True(t, res.Partial())
	assert.Len(t, w.got, 3)
}

func TestIngest_StorageFailure(t *testing.T) {
	w := &stubWriter{err: errors.New("connection refused")}

	_, err := newTestIngestor(w).Ingest(context.Background(), []byte(eventJSON("a", 10)))

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 0, perr.Inserted)
	assert.ErrorContains(t, err, "connection refused")
}
