package domain

import (
	"math"
	"time"
)

// Report limits.
const (
	DefaultPage       = 1
	DefaultLimit      = 100
	MaxLimit          = 1000
	MaxPage           = math.MaxInt32
	BreakdownTopLimit = 50
)

// ReportFilter selects the events a report is computed over. Empty strings
// and nil bounds mean "no constraint"; all set constraints are ANDed.
// DateFrom and DateTo are inclusive bounds on start_time.
type ReportFilter struct {
	DeviceID   string
	AssetID    string
	PlaylistID string
	DateFrom   *time.Time
	DateTo     *time.Time
	Page       int
	Limit      int
}

// Offset is the number of asset rows skipped before the current page.
// It saturates at math.MaxInt instead of overflowing.
func (f ReportFilter) Offset() int {
	if f.Page <= 1 || f.Limit <= 0 {
		return 0
	}
	if f.Page-1 > math.MaxInt/f.Limit {
		return math.MaxInt
	}
	return (f.Page - 1) * f.Limit
}

// DateRange is the observed span of start_time among matching events.
type DateRange struct {
	From *time.Time `json:"from"`
	To   *time.Time `json:"to"`
}

type Summary struct {
	TotalPlays      int64     `json:"total_plays"`
	TotalDuration   int64     `json:"total_duration"`
	UniqueDevices   int64     `json:"unique_devices"`
	UniqueAssets    int64     `json:"unique_assets"`
	UniquePlaylists int64     `json:"unique_playlists"`
	DateRange       DateRange `json:"date_range"`
}

// PlayStats is the shape shared by every breakdown row.
type PlayStats struct {
	PlayCount     int64     `json:"play_count"`
	TotalDuration int64     `json:"total_duration"`
	AvgDuration   float64   `json:"avg_duration"`
	FirstPlayed   time.Time `json:"first_played"`
	LastPlayed    time.Time `json:"last_played"`
}

type AssetStats struct {
	AssetID string `json:"asset_id"`
	PlayStats
}

type DeviceStats struct {
	DeviceID     string `json:"device_id"`
	UniqueAssets int64  `json:"unique_assets"`
	PlayStats
}

type PlaylistStats struct {
	PlaylistID    string `json:"playlist_id"`
	UniqueAssets  int64  `json:"unique_assets"`
	UniqueDevices int64  `json:"unique_devices"`
	PlayStats
}

// AssetPage is one page of the by-asset breakdown plus the number of
// distinct assets across all pages.
type AssetPage struct {
	Items      []AssetStats
	TotalItems int64
}

type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalItems int64 `json:"total_items"`
	TotalPages int64 `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// Report is the full response of a filtered report request.
type Report struct {
	Summary    Summary         `json:"summary"`
	ByAsset    []AssetStats    `json:"by_asset"`
	ByDevice   []DeviceStats   `json:"by_device"`
	ByPlaylist []PlaylistStats `json:"by_playlist"`
	Pagination Pagination      `json:"pagination"`
}

// AverageDuration returns total/count rounded to two decimals, 0 for no plays.
func AverageDuration(total, count int64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Round(float64(total)/float64(count)*100) / 100
}

// NewPagination derives page metadata from the total number of items.
func NewPagination(page, limit int, totalItems int64) Pagination {
	p := Pagination{Page: page, Limit: limit, TotalItems: totalItems}
	if limit > 0 {
		p.TotalPages = (totalItems + int64(limit) - 1) / int64(limit)
	}
	p.HasNext = int64(page) < p.TotalPages
	p.HasPrev = page > 1
	return p
}
