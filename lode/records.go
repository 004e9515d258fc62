package lode

import (
	"time"

	"github.com/pithecene-io/voxlink/metrics"
	"github.com/pithecene-io/voxlink/types"
)

// Record kinds. record_kind is also the last partition key.
const (
	RecordKindDirective  = "directive"
	RecordKindAttachment = "attachment"
	RecordKindMetrics    = "metrics"
)

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"source", "day", "session_id", "record_kind"}

// Lode's Hive layout reads partition values from map records, so records
// are built as maps rather than structs.

func partitionFields(cfg Config, kind string) map[string]any {
	return map[string]any{
		"record_kind": kind,
		"source":      cfg.Source,
		"day":         cfg.Day,
		"session_id":  cfg.SessionID,
	}
}

func toDirectiveRecordMap(d *types.Directive, seq int64, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindDirective)
	m["seq"] = seq
	m["context_id"] = d.ContextID
	m["namespace"] = d.Namespace
	m["name"] = d.Name
	m["message_id"] = d.MessageID
	m["dialog_request_id"] = d.DialogRequestID
	m["message"] = d.Message
	m["received_at"] = d.ReceivedAt.UTC().Format(time.RFC3339Nano)
	return m
}

func toAttachmentRecordMap(a *types.AttachmentRecord, file string, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindAttachment)
	m["attachment_id"] = a.AttachmentID
	m["context_id"] = a.ContextID
	m["content_id"] = a.ContentID
	m["size_bytes"] = a.Size
	m["file"] = file
	m["received_at"] = a.ReceivedAt.UTC().Format(time.RFC3339Nano)
	return m
}

func toMetricsRecordMap(s metrics.Snapshot, completedAt time.Time, cfg Config) map[string]any {
	m := partitionFields(cfg, RecordKindMetrics)
	m["completed_at"] = completedAt.UTC().Format(time.RFC3339Nano)
	m["endpoint"] = s.Endpoint
	m["policy"] = s.Policy
	m["storage_backend"] = s.StorageBackend

	m["connects_total"] = s.Connects
	m["connect_failures_total"] = s.ConnectFailures
	m["disconnects_total"] = s.Disconnects
	m["server_side_disconnects_total"] = s.ServerSideDisconnects
	m["pings_sent_total"] = s.PingsSent
	m["ping_failures_total"] = s.PingFailures

	m["streams_created_total"] = s.StreamsCreated
	m["streams_released_total"] = s.StreamsReleased
	m["streams_rejected_total"] = s.StreamsRejected
	m["rejected_by_cause"] = nonNil(s.RejectedByCause)

	m["requests_sent_total"] = s.RequestsSent
	m["requests_succeeded_total"] = s.RequestsSucceeded
	m["requests_failed_total"] = s.RequestsFailed
	m["exceptions_total"] = s.Exceptions
	m["timeouts_total"] = s.Timeouts

	m["directives_received_total"] = s.DirectivesReceived
	m["attachments_received_total"] = s.AttachmentsReceived
	m["attachment_bytes_total"] = s.AttachmentBytes
	m["parse_errors_total"] = s.ParseErrors
	m["pauses_total"] = s.Pauses

	m["directives_forwarded_total"] = s.DirectivesForwarded
	m["directives_persisted_total"] = s.DirectivesPersisted
	m["directives_dropped_total"] = s.DirectivesDropped
	m["flush_triggers"] = nonNil(s.FlushTriggers)

	m["lode_write_success_total"] = s.LodeWriteSuccess
	m["lode_write_failure_total"] = s.LodeWriteFailure
	return m
}

func nonNil(m map[string]int64) map[string]int64 {
	if m == nil {
		return map[string]int64{}
	}
	return m
}
