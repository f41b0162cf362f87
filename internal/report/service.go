// Package report computes filtered playback reports.
package report

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/playbacktelemetry/internal/domain"
	"example.com/playbacktelemetry/internal/metrics"
)

// Store runs the read-only aggregation queries. Implemented by *postgres.DB.
type Store interface {
	QuerySummary(ctx context.Context, f domain.ReportFilter) (domain.Summary, error)
	QueryAssetPage(ctx context.Context, f domain.ReportFilter) (domain.AssetPage, error)
	QueryDeviceBreakdown(ctx context.Context, f domain.ReportFilter, limit int) ([]domain.DeviceStats, error)
	QueryPlaylistBreakdown(ctx context.Context, f domain.ReportFilter, limit int) ([]domain.PlaylistStats, error)
}

type Service struct {
	store   Store
	timeout time.Duration
}

// NewService returns a report service. A zero timeout leaves query
// deadlines to the caller's context.
func NewService(store Store, timeout time.Duration) *Service {
	return &Service{store: store, timeout: timeout}
}

// ParseFilter reads a report filter from query parameters. Only malformed
// dates are errors; bad page or limit values fall back to their defaults and
// out-of-range ones are clamped.
func ParseFilter(q url.Values) (domain.ReportFilter, error) {
	f := domain.ReportFilter{
		DeviceID:   strings.TrimSpace(q.Get("device_id")),
		AssetID:    strings.TrimSpace(q.Get("asset_id")),
		PlaylistID: strings.TrimSpace(q.Get("playlist_id")),
		Page:       intParam(q.Get("page"), domain.DefaultPage),
		Limit:      intParam(q.Get("limit"), domain.DefaultLimit),
	}
	f.Page = min(max(f.Page, 1), domain.MaxPage)
	f.Limit = min(max(f.Limit, 1), domain.MaxLimit)

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"date_from", &f.DateFrom},
		{"date_to", &f.DateTo},
	} {
		raw := strings.TrimSpace(q.Get(p.name))
		if raw == "" {
			continue
		}
		t, ok := domain.ParseTimestamp(raw)
		if !ok {
			return domain.ReportFilter{}, &domain.FilterError{Param: p.name, Value: raw}
		}
		*p.dst = &t
	}
	return f, nil
}

func intParam(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return n
}

// Report runs the summary and the three breakdowns concurrently over the
// same filter. Any failure fails the whole report.
func (s *Service) Report(ctx context.Context, f domain.ReportFilter) (*domain.Report, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var (
		rep    domain.Report
		assets domain.AssetPage
	)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		defer observe("summary", time.Now(), &err)
		rep.Summary, err = s.store.QuerySummary(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		defer observe("by_asset", time.Now(), &err)
		assets, err = s.store.QueryAssetPage(gctx, f)
		return err
	})
	g.Go(func() (err error) {
		defer observe("by_device", time.Now(), &err)
		rep.ByDevice, err = s.store.QueryDeviceBreakdown(gctx, f, domain.BreakdownTopLimit)
		return err
	})
	g.Go(func() (err error) {
		defer observe("by_playlist", time.Now(), &err)
		rep.ByPlaylist, err = s.store.QueryPlaylistBreakdown(gctx, f, domain.BreakdownTopLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute report: %w", err)
	}

	rep.ByAsset = assets.Items
	rep.Pagination = domain.NewPagination(f.Page, f.Limit, assets.TotalItems)
	normalize(&rep)
	return &rep, nil
}

// GlobalStats is the unfiltered summary without breakdowns.
func (s *Service) GlobalStats(ctx context.Context) (domain.Summary, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	sum, err := s.store.QuerySummary(ctx, domain.ReportFilter{})
	observe("summary", start, &err)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("compute global stats: %w", err)
	}
	return sum, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func observe(aggregate string, start time.Time, err *error) {
	metrics.ObserveQuery(aggregate, start, *err)
}

// normalize makes empty breakdowns encode as [] instead of null.
func normalize(r *domain.Report) {
	if r.ByAsset == nil {
		r.ByAsset = []domain.AssetStats{}
	}
	if r.ByDevice == nil {
		r.ByDevice = []domain.DeviceStats{}
	}
	if r.ByPlaylist == nil {
		r.ByPlaylist = []domain.PlaylistStats{}
	}
}
