package domain

import "time"

// Record is one candidate event as decoded from JSON, before validation.
type Record map[string]any

// PlaybackEvent is the canonical proof-of-play record persisted by ingestion.
// Identifiers are opaque references to other domains and are never checked
// for existence.
type PlaybackEvent struct {
	DeviceID    string    `json:"device_id"`
	AssetID     string    `json:"asset_id"`
	PlaylistID  string    `json:"playlist_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	Duration    int64     `json:"duration"`
	Fingerprint string    `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Field names of the wire format.
const (
	FieldDeviceID   = "device_id"
	FieldAssetID    = "asset_id"
	FieldPlaylistID = "playlist_id"
	FieldStartTime  = "start_time"
	FieldEndTime    = "end_time"
	FieldDuration   = "duration"
)

// DurationToleranceSeconds is the allowed gap between the reported duration
// and the whole seconds elapsed between start_time and end_time.
const DurationToleranceSeconds = 1
