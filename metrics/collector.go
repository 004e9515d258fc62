// Package metrics provides per-session metrics collection.
//
// The Collector accumulates counters during a single session. It is a leaf
// package with no internal dependencies. Forwarding policy metrics are
// absorbed from policy.Stats at session end rather than recorded live.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Connection lifecycle
	Connects              int64
	ConnectFailures       int64
	Disconnects           int64
	ServerSideDisconnects int64
	PingsSent             int64
	PingFailures          int64

	// Streams
	StreamsCreated  int64
	StreamsReleased int64
	StreamsRejected int64
	RejectedByCause map[string]int64

	// Requests
	RequestsSent      int64
	RequestsSucceeded int64
	RequestsFailed    int64
	Exceptions        int64
	Timeouts          int64

	// Downstream
	DirectivesReceived  int64
	AttachmentsReceived int64
	AttachmentBytes     int64
	ParseErrors         int64
	Pauses              int64

	// Forwarding (absorbed from policy.Stats at session end)
	DirectivesForwarded int64
	DirectivesPersisted int64
	DirectivesDropped   int64
	FlushTriggers       map[string]int64

	// Lode / Storage
	LodeWriteSuccess int64
	LodeWriteFailure int64

	// Dimensions (informational, set at construction)
	Policy         string
	StorageBackend string
	SessionID      string
	Endpoint       string
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connects              int64
	connectFailures       int64
	disconnects           int64
	serverSideDisconnects int64
	pingsSent             int64
	pingFailures          int64

	streamsCreated  int64
	streamsReleased int64
	streamsRejected int64
	rejectedByCause map[string]int64

	requestsSent      int64
	requestsSucceeded int64
	requestsFailed    int64
	exceptions        int64
	timeouts          int64

	directivesReceived  int64
	attachmentsReceived int64
	attachmentBytes     int64
	parseErrors         int64
	pauses              int64

	directivesForwarded int64
	directivesPersisted int64
	directivesDropped   int64
	flushTriggers       map[string]int64

	lodeWriteSuccess int64
	lodeWriteFailure int64

	policy         string
	storageBackend string
	sessionID      string
	endpoint       string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, storageBackend, sessionID, endpoint string) *Collector {
	return &Collector{
		rejectedByCause: make(map[string]int64),
		policy:          policy,
		storageBackend:  storageBackend,
		sessionID:       sessionID,
		endpoint:        endpoint,
	}
}

func (c *Collector) inc(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Connection lifecycle ---

// IncConnect records an established connection.
func (c *Collector) IncConnect() {
	if c == nil {
		return
	}
	c.inc(&c.connects, 1)
}

// IncConnectFailure records a failed connection attempt.
func (c *Collector) IncConnectFailure() {
	if c == nil {
		return
	}
	c.inc(&c.connectFailures, 1)
}

// IncDisconnect records a connection teardown.
func (c *Collector) IncDisconnect() {
	if c == nil {
		return
	}
	c.inc(&c.disconnects, 1)
}

// IncServerSideDisconnect records a disconnect initiated by the service.
func (c *Collector) IncServerSideDisconnect() {
	if c == nil {
		return
	}
	c.inc(&c.serverSideDisconnects, 1)
}

// IncPingSent records a ping stream.
func (c *Collector) IncPingSent() {
	if c == nil {
		return
	}
	c.inc(&c.pingsSent, 1)
}

// IncPingFailure records a ping that failed or timed out.
func (c *Collector) IncPingFailure() {
	if c == nil {
		return
	}
	c.inc(&c.pingFailures, 1)
}

// --- Streams ---

// IncStreamCreated records a stream admitted by the pool.
func (c *Collector) IncStreamCreated() {
	if c == nil {
		return
	}
	c.inc(&c.streamsCreated, 1)
}

// IncStreamReleased records a stream returned to the pool.
func (c *Collector) IncStreamReleased() {
	if c == nil {
		return
	}
	c.inc(&c.streamsReleased, 1)
}

// IncStreamRejected records a pool admission rejection with its cause.
func (c *Collector) IncStreamRejected(cause string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamsRejected++
	c.rejectedByCause[cause]++
	c.mu.Unlock()
}

// --- Requests ---

// IncRequestSent records an event stream started.
func (c *Collector) IncRequestSent() {
	if c == nil {
		return
	}
	c.inc(&c.requestsSent, 1)
}

// IncRequestSucceeded records a request completed with a success status.
func (c *Collector) IncRequestSucceeded() {
	if c == nil {
		return
	}
	c.inc(&c.requestsSucceeded, 1)
}

// IncRequestFailed records a request completed with a failure status.
func (c *Collector) IncRequestFailed() {
	if c == nil {
		return
	}
	c.inc(&c.requestsFailed, 1)
}

// IncException records a request answered with an exception body.
func (c *Collector) IncException() {
	if c == nil {
		return
	}
	c.inc(&c.exceptions, 1)
}

// IncTimeout records a stream abandoned for lack of progress.
func (c *Collector) IncTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.timeouts, 1)
}

// --- Downstream ---

// IncDirective records a directive delivered by a parser.
func (c *Collector) IncDirective() {
	if c == nil {
		return
	}
	c.inc(&c.directivesReceived, 1)
}

// AddAttachment records a completed attachment part of size bytes.
func (c *Collector) AddAttachment(size int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.attachmentsReceived++
	c.attachmentBytes += size
	c.mu.Unlock()
}

// IncParseError records a fatal parser error.
func (c *Collector) IncParseError() {
	if c == nil {
		return
	}
	c.inc(&c.parseErrors, 1)
}

// IncPause records a stream paused by backpressure.
func (c *Collector) IncPause() {
	if c == nil {
		return
	}
	c.inc(&c.pauses, 1)
}

// --- Lode / Storage ---
// Lode counters are per-call, not per-record.

// IncLodeWriteSuccess records a successful Lode write operation (per-call).
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.inc(&c.lodeWriteSuccess, 1)
}

// IncLodeWriteFailure records a failed Lode write operation (per-call).
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.inc(&c.lodeWriteFailure, 1)
}

// --- Forwarding (absorbed from policy.Stats) ---

// AbsorbPolicyStats copies forwarding counters into the collector.
// Called once at session end with the final policy stats snapshot.
// flushTriggers is nil for policies that do not batch.
func (c *Collector) AbsorbPolicyStats(forwarded, persisted, dropped int64, flushTriggers map[string]int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.directivesForwarded = forwarded
	c.directivesPersisted = persisted
	c.directivesDropped = dropped
	c.flushTriggers = copyCounts(flushTriggers)
	c.mu.Unlock()
}

func copyCounts(m map[string]int64) map[string]int64 {
	if m == nil {
		return nil
	}
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Connects:              c.connects,
		ConnectFailures:       c.connectFailures,
		Disconnects:           c.disconnects,
		ServerSideDisconnects: c.serverSideDisconnects,
		PingsSent:             c.pingsSent,
		PingFailures:          c.pingFailures,

		StreamsCreated:  c.streamsCreated,
		StreamsReleased: c.streamsReleased,
		StreamsRejected: c.streamsRejected,
		RejectedByCause: copyCounts(c.rejectedByCause),

		RequestsSent:      c.requestsSent,
		RequestsSucceeded: c.requestsSucceeded,
		RequestsFailed:    c.requestsFailed,
		Exceptions:        c.exceptions,
		Timeouts:          c.timeouts,

		DirectivesReceived:  c.directivesReceived,
		AttachmentsReceived: c.attachmentsReceived,
		AttachmentBytes:     c.attachmentBytes,
		ParseErrors:         c.parseErrors,
		Pauses:              c.pauses,

		DirectivesForwarded: c.directivesForwarded,
		DirectivesPersisted: c.directivesPersisted,
		DirectivesDropped:   c.directivesDropped,
		FlushTriggers:       copyCounts(c.flushTriggers),

		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,

		Policy:         c.policy,
		StorageBackend: c.storageBackend,
		SessionID:      c.sessionID,
		Endpoint:       c.endpoint,
	}
}
