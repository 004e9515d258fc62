// Package reader turns archived and captured session data into the views
// the read-only commands render.
package reader

// MetricsSnapshot is one session's metrics record.
type MetricsSnapshot struct {
	CompletedAt    string `json:"completed_at" yaml:"completed_at"`
	SessionID      string `json:"session_id" yaml:"session_id"`
	Source         string `json:"source" yaml:"source"`
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	Policy         string `json:"policy" yaml:"policy"`
	StorageBackend string `json:"storage_backend" yaml:"storage_backend"`

	Connects              int64 `json:"connects" yaml:"connects"`
	ConnectFailures       int64 `json:"connect_failures" yaml:"connect_failures"`
	Disconnects           int64 `json:"disconnects" yaml:"disconnects"`
	ServerSideDisconnects int64 `json:"server_side_disconnects" yaml:"server_side_disconnects"`
	PingsSent             int64 `json:"pings_sent" yaml:"pings_sent"`
	PingFailures          int64 `json:"ping_failures" yaml:"ping_failures"`

	StreamsCreated  int64            `json:"streams_created" yaml:"streams_created"`
	StreamsReleased int64            `json:"streams_released" yaml:"streams_released"`
	StreamsRejected int64            `json:"streams_rejected" yaml:"streams_rejected"`
	RejectedByCause map[string]int64 `json:"rejected_by_cause,omitempty" yaml:"rejected_by_cause,omitempty"`

	RequestsSent      int64 `json:"requests_sent" yaml:"requests_sent"`
	RequestsSucceeded int64 `json:"requests_succeeded" yaml:"requests_succeeded"`
	RequestsFailed    int64 `json:"requests_failed" yaml:"requests_failed"`
	Exceptions        int64 `json:"exceptions" yaml:"exceptions"`
	Timeouts          int64 `json:"timeouts" yaml:"timeouts"`

	DirectivesReceived  int64 `json:"directives_received" yaml:"directives_received"`
	AttachmentsReceived int64 `json:"attachments_received" yaml:"attachments_received"`
	AttachmentBytes     int64 `json:"attachment_bytes" yaml:"attachment_bytes"`
	ParseErrors         int64 `json:"parse_errors" yaml:"parse_errors"`
	Pauses              int64 `json:"pauses" yaml:"pauses"`

	DirectivesForwarded int64            `json:"directives_forwarded" yaml:"directives_forwarded"`
	DirectivesPersisted int64            `json:"directives_persisted" yaml:"directives_persisted"`
	DirectivesDropped   int64            `json:"directives_dropped" yaml:"directives_dropped"`
	FlushTriggers       map[string]int64 `json:"flush_triggers,omitempty" yaml:"flush_triggers,omitempty"`

	LodeWriteSuccess int64 `json:"lode_write_success" yaml:"lode_write_success"`
	LodeWriteFailure int64 `json:"lode_write_failure" yaml:"lode_write_failure"`
}

// DirectiveView is one directive recovered from a stream dump.
type DirectiveView struct {
	Namespace       string `json:"namespace" yaml:"namespace"`
	Name            string `json:"name" yaml:"name"`
	MessageID       string `json:"message_id" yaml:"message_id"`
	DialogRequestID string `json:"dialog_request_id,omitempty" yaml:"dialog_request_id,omitempty"`
	Message         string `json:"message" yaml:"message"`
}

// AttachmentView is one attachment recovered from a stream dump.
type AttachmentView struct {
	AttachmentID string `json:"attachment_id" yaml:"attachment_id"`
	ContentID    string `json:"content_id" yaml:"content_id"`
	Size         int64  `json:"size" yaml:"size"`
}

// ReplayResult is the outcome of feeding one stream dump through a parser.
type ReplayResult struct {
	StreamID    uint32           `json:"stream_id" yaml:"stream_id"`
	Method      string           `json:"method" yaml:"method"`
	URL         string           `json:"url" yaml:"url"`
	Status      int              `json:"status" yaml:"status"`
	Boundary    string           `json:"boundary" yaml:"boundary"`
	BytesIn     int64            `json:"bytes_in" yaml:"bytes_in"`
	Directives  []DirectiveView  `json:"directives" yaml:"directives"`
	Attachments []AttachmentView `json:"attachments" yaml:"attachments"`
	ParseError  string           `json:"parse_error,omitempty" yaml:"parse_error,omitempty"`
}
