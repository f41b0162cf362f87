package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"example.com/playbacktelemetry/internal/domain"
)

// Fingerprint returns a stable hex SHA-256 over the fields that identify a
// single play. Two rows with the same fingerprint are almost certainly a
// retried delivery. Fingerprints are stored but not unique: rejecting
// duplicates would change the retry contract of ingestion.
func Fingerprint(ev *domain.PlaybackEvent) string {
	composite := fmt.Sprintf("%s|%s|%s|%s|%s|%d",
		ev.DeviceID, ev.AssetID, ev.PlaylistID,
		ev.StartTime.UTC().Format(time.RFC3339Nano),
		ev.EndTime.UTC().Format(time.RFC3339Nano),
		ev.Duration)
	sum := sha256.Sum256([]byte(composite))
	return hex.EncodeToString(sum[:])
}

// Stamp sets the fingerprint of every event and returns how many events
// repeat a fingerprint seen earlier in the same slice.
func Stamp(events []domain.PlaybackEvent) (duplicates int) {
	seen := make(map[string]struct{}, len(events))
	for i := range events {
		fp := Fingerprint(&events[i])
		events[i].Fingerprint = fp
		if _, ok := seen[fp]; ok {
			duplicates++
			continue
		}
		seen[fp] = struct{}{}
	}
	return duplicates
}
