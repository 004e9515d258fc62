package lode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/lode/lode"
)

// ErrNoMetricsFound is returned when no metrics record matches.
var ErrNoMetricsFound = errors.New("no metrics records found")

// QueryLatestMetrics returns the newest metrics record, optionally filtered
// by session ID and source.
func QueryLatestMetrics(ctx context.Context, ds lode.Dataset, sessionID, source string) (map[string]any, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, "snapshots")
	}

	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotHasKind(snap, RecordKindMetrics) ||
			!snapshotMatchesFilter(snap, "session_id", sessionID) ||
			!snapshotMatchesFilter(snap, "source", source) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("snapshot/%s", snap.ID))
		}

		// Path filters are coarse; record fields decide. A snapshot may
		// carry several records, so take the newest.
		var latest map[string]any
		var latestAt time.Time
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || record["record_kind"] != RecordKindMetrics {
				continue
			}
			if sessionID != "" && toString(record["session_id"]) != sessionID {
				continue
			}
			if source != "" && toString(record["source"]) != source {
				continue
			}
			at, _ := time.Parse(time.RFC3339Nano, toString(record["completed_at"]))
			if latest == nil || at.After(latestAt) {
				latest, latestAt = record, at
			}
		}
		if latest != nil {
			return latest, nil
		}
	}

	return nil, ErrNoMetricsFound
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
