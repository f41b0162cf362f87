package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"example.com/playbacktelemetry/internal/domain"
	"example.com/playbacktelemetry/internal/logging"
)

var eventColumns = []string{
	"device_id", "asset_id", "playlist_id", "start_time", "end_time", "duration", "fingerprint", "created_at",
}

type Writer struct {
	db        *DB
	chunkSize int
	log       zerolog.Logger
}

func NewWriter(db *DB, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	return &Writer{db: db, chunkSize: chunkSize, log: logging.Component("storage")}
}

// InsertEvents persists events without ordering guarantees. Each chunk is
// written with one multi-row INSERT; when a chunk is refused because of a
// row-level data or constraint error, its rows are retried one by one so
// that only the offending rows are lost. Any other error aborts the call and
// inserted reports the rows already committed.
func (w *Writer) InsertEvents(ctx context.Context, events []domain.PlaybackEvent) (inserted, failed int, err error) {
	for start := 0; start < len(events); start += w.chunkSize {
		end := min(start+w.chunkSize, len(events))
		chunk := events[start:end]

		n, err := w.insertChunk(ctx, chunk)
		if err == nil {
			inserted += int(n)
			continue
		}
		if !isRowLevel(err) {
			return inserted, failed, err
		}
		w.log.Warn().Err(err).Int("chunk_size", len(chunk)).Msg("chunk insert refused, retrying rows individually")

		for i := range chunk {
			if _, err := w.insertChunk(ctx, chunk[i:i+1]); err != nil {
				if !isRowLevel(err) {
					return inserted, failed, err
				}
				failed++
				w.log.Warn().Err(err).
					Str("device_id", chunk[i].DeviceID).
					Str("asset_id", chunk[i].AssetID).
					Msg("playback event rejected by storage")
				continue
			}
			inserted++
		}
	}
	return inserted, failed, nil
}

func (w *Writer) insertChunk(ctx context.Context, items []domain.PlaybackEvent) (int64, error) {
	placeholders := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*len(eventColumns))

	argi := 1
	for _, ev := range items {
		ph := make([]string, 0, len(eventColumns))
		for _, col := range eventColumns {
			// bigint parameter: an out-of-range duration must fail on the
			// server as a row-level error, not while encoding the batch
			if col == "duration" {
				ph = append(ph, fmt.Sprintf("$%d::bigint", argi))
			} else {
				ph = append(ph, fmt.Sprintf("$%d", argi))
			}
			argi++
		}
		args = append(args,
			ev.DeviceID,
			ev.AssetID,
			ev.PlaylistID,
			ev.StartTime,
			ev.EndTime,
			ev.Duration,
			ev.Fingerprint,
			ev.CreatedAt,
		)
		placeholders = append(placeholders, "("+strings.Join(ph, ",")+")")
	}

	sql := "INSERT INTO playback_events (" + strings.Join(eventColumns, ",") + ") VALUES " +
		strings.Join(placeholders, ",")

	ct, err := w.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// isRowLevel reports errors caused by the content of a row (SQLSTATE class
// 22 data exception, 23 integrity constraint violation) rather than by the
// connection or the server.
func isRowLevel(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return false
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return true
	}
	return false
}
