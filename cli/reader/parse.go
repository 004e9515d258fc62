package reader

import "errors"

// ParseMetricsRecord converts an archived metrics record to a MetricsSnapshot.
// Numeric fields may be int64 (in-memory records) or float64 (JSONL reads).
func ParseMetricsRecord(record map[string]any) (*MetricsSnapshot, error) {
	if record == nil {
		return nil, errors.New("nil record")
	}

	snap := &MetricsSnapshot{
		CompletedAt:    toString(record["completed_at"]),
		SessionID:      toString(record["session_id"]),
		Source:         toString(record["source"]),
		Endpoint:       toString(record["endpoint"]),
		Policy:         toString(record["policy"]),
		StorageBackend: toString(record["storage_backend"]),

		Connects:              toInt64(record["connects_total"]),
		ConnectFailures:       toInt64(record["connect_failures_total"]),
		Disconnects:           toInt64(record["disconnects_total"]),
		ServerSideDisconnects: toInt64(record["server_side_disconnects_total"]),
		PingsSent:             toInt64(record["pings_sent_total"]),
		PingFailures:          toInt64(record["ping_failures_total"]),

		StreamsCreated:  toInt64(record["streams_created_total"]),
		StreamsReleased: toInt64(record["streams_released_total"]),
		StreamsRejected: toInt64(record["streams_rejected_total"]),
		RejectedByCause: toCounts(record["rejected_by_cause"]),

		RequestsSent:      toInt64(record["requests_sent_total"]),
		RequestsSucceeded: toInt64(record["requests_succeeded_total"]),
		RequestsFailed:    toInt64(record["requests_failed_total"]),
		Exceptions:        toInt64(record["exceptions_total"]),
		Timeouts:          toInt64(record["timeouts_total"]),

		DirectivesReceived:  toInt64(record["directives_received_total"]),
		AttachmentsReceived: toInt64(record["attachments_received_total"]),
		AttachmentBytes:     toInt64(record["attachment_bytes_total"]),
		ParseErrors:         toInt64(record["parse_errors_total"]),
		Pauses:              toInt64(record["pauses_total"]),

		DirectivesForwarded: toInt64(record["directives_forwarded_total"]),
		DirectivesPersisted: toInt64(record["directives_persisted_total"]),
		DirectivesDropped:   toInt64(record["directives_dropped_total"]),
		FlushTriggers:       toCounts(record["flush_triggers"]),

		LodeWriteSuccess: toInt64(record["lode_write_success_total"]),
		LodeWriteFailure: toInt64(record["lode_write_failure_total"]),
	}

	// The write path always sets these; a gap means a malformed record.
	if snap.CompletedAt == "" {
		return nil, errors.New("metrics record missing required field: completed_at")
	}
	if snap.SessionID == "" {
		return nil, errors.New("metrics record missing required field: session_id")
	}
	if snap.Policy == "" {
		return nil, errors.New("metrics record missing required field: policy")
	}
	return snap, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toCounts accepts map[string]int64 (direct) and map[string]any (JSON).
// Empty maps come back nil so they are omitted from output.
func toCounts(v any) map[string]int64 {
	var out map[string]int64
	switch m := v.(type) {
	case map[string]int64:
		out = m
	case map[string]any:
		out = make(map[string]int64, len(m))
		for k, val := range m {
			out[k] = toInt64(val)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
