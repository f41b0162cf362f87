package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/playbacktelemetry/internal/domain"
)

// filterClause renders the WHERE clause shared by every report query so that
// all aggregates are computed over the same set of events.
func filterClause(f domain.ReportFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}

	if f.DeviceID != "" {
		add("device_id = $%d", f.DeviceID)
	}
	if f.AssetID != "" {
		add("asset_id = $%d", f.AssetID)
	}
	if f.PlaylistID != "" {
		add("playlist_id = $%d", f.PlaylistID)
	}
	if f.DateFrom != nil {
		add("start_time >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("start_time <= $%d", *f.DateTo)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func (db *DB) QuerySummary(ctx context.Context, f domain.ReportFilter) (domain.Summary, error) {
	var (
		res      domain.Summary
		from, to *time.Time
	)
	cond, args := filterClause(f)

	sql := `
SELECT
  COUNT(*)::bigint,
  COALESCE(SUM(duration), 0)::bigint,
  COUNT(DISTINCT device_id)::bigint,
  COUNT(DISTINCT asset_id)::bigint,
  COUNT(DISTINCT playlist_id)::bigint,
  MIN(start_time),
  MAX(start_time)
FROM playback_events ` + cond

	err := db.Pool.QueryRow(ctx, sql, args...).Scan(
		&res.TotalPlays, &res.TotalDuration,
		&res.UniqueDevices, &res.UniqueAssets, &res.UniquePlaylists,
		&from, &to,
	)
	if err != nil {
		return res, fmt.Errorf("scan summary: %w", err)
	}
	res.DateRange = domain.DateRange{From: utcPtr(from), To: utcPtr(to)}
	return res, nil
}

// QueryAssetPage returns one page of the by-asset breakdown and the number of
// distinct assets. Both statements travel in one batch and therefore share
// the implicit transaction of the batch.
func (db *DB) QueryAssetPage(ctx context.Context, f domain.ReportFilter) (domain.AssetPage, error) {
	var page domain.AssetPage
	cond, args := filterClause(f)

	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset())
	pageSQL := fmt.Sprintf(`
SELECT
  asset_id,
  COUNT(*)::bigint AS play_count,
  COALESCE(SUM(duration), 0)::bigint,
  MIN(start_time),
  MAX(start_time)
FROM playback_events
%s
GROUP BY asset_id
ORDER BY play_count DESC, asset_id ASC
LIMIT $%d OFFSET $%d`, cond, len(args)+1, len(args)+2)

	b := &pgx.Batch{}
	b.Queue("SELECT COUNT(DISTINCT asset_id)::bigint FROM playback_events "+cond, args...)
	b.Queue(pageSQL, pageArgs...)

	br := db.Pool.SendBatch(ctx, b)
	defer br.Close()

	if err := br.QueryRow().Scan(&page.TotalItems); err != nil {
		return page, fmt.Errorf("scan asset count: %w", err)
	}

	rows, err := br.Query()
	if err != nil {
		return page, fmt.Errorf("query asset breakdown: %w", err)
	}
	defer rows.Close()

	page.Items = []domain.AssetStats{}
	for rows.Next() {
		var a domain.AssetStats
		if err := rows.Scan(&a.AssetID, &a.PlayCount, &a.TotalDuration, &a.FirstPlayed, &a.LastPlayed); err != nil {
			return page, fmt.Errorf("scan asset row: %w", err)
		}
		finishStats(&a.PlayStats)
		page.Items = append(page.Items, a)
	}
	return page, rows.Err()
}

func (db *DB) QueryDeviceBreakdown(ctx context.Context, f domain.ReportFilter, limit int) ([]domain.DeviceStats, error) {
	cond, args := filterClause(f)
	sql := fmt.Sprintf(`
SELECT
  device_id,
  COUNT(*)::bigint AS play_count,
  COALESCE(SUM(duration), 0)::bigint,
  COUNT(DISTINCT asset_id)::bigint,
  MIN(start_time),
  MAX(start_time)
FROM playback_events
%s
GROUP BY device_id
ORDER BY play_count DESC, device_id ASC
LIMIT $%d`, cond, len(args)+1)

	rows, err := db.Pool.Query(ctx, sql, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query device breakdown: %w", err)
	}
	defer rows.Close()

	out := []domain.DeviceStats{}
	for rows.Next() {
		var d domain.DeviceStats
		if err := rows.Scan(&d.DeviceID, &d.PlayCount, &d.TotalDuration, &d.UniqueAssets, &d.FirstPlayed, &d.LastPlayed); err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		finishStats(&d.PlayStats)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) QueryPlaylistBreakdown(ctx context.Context, f domain.ReportFilter, limit int) ([]domain.PlaylistStats, error) {
	cond, args := filterClause(f)
	sql := fmt.Sprintf(`
SELECT
  playlist_id,
  COUNT(*)::bigint AS play_count,
  COALESCE(SUM(duration), 0)::bigint,
  COUNT(DISTINCT asset_id)::bigint,
  COUNT(DISTINCT device_id)::bigint,
  MIN(start_time),
  MAX(start_time)
FROM playback_events
%s
GROUP BY playlist_id
ORDER BY play_count DESC, playlist_id ASC
LIMIT $%d`, cond, len(args)+1)

	rows, err := db.Pool.Query(ctx, sql, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("query playlist breakdown: %w", err)
	}
	defer rows.Close()

	out := []domain.PlaylistStats{}
	for rows.Next() {
		var p domain.PlaylistStats
		if err := rows.Scan(&p.PlaylistID, &p.PlayCount, &p.TotalDuration, &p.UniqueAssets, &p.UniqueDevices, &p.FirstPlayed, &p.LastPlayed); err != nil {
			return nil, fmt.Errorf("scan playlist row: %w", err)
		}
		finishStats(&p.PlayStats)
		out = append(out, p)
	}
	return out, rows.Err()
}

func finishStats(s *domain.PlayStats) {
	s.AvgDuration = domain.AverageDuration(s.TotalDuration, s.PlayCount)
	s.FirstPlayed = s.FirstPlayed.UTC()
	s.LastPlayed = s.LastPlayed.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
