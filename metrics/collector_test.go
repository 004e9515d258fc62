package metrics

import (
	"sync"
	"testing"
)

func TestCollector_IncrementMethods(t *testing.T) {
	c := NewCollector("strict", "fs", "sess-001", "https://example.test")

	c.IncConnect()
	c.IncConnectFailure()
	c.IncConnectFailure()
	c.IncDisconnect()
	c.IncServerSideDisconnect()
	c.IncPingSent()
	c.IncPingFailure()
	c.IncStreamCreated()
	c.IncStreamCreated()
	c.IncStreamReleased()
	c.IncStreamRejected("maxStreamsReached")
	c.IncStreamRejected("maxStreamsReached")
	c.IncStreamRejected("emptyURL")
	c.IncRequestSent()
	c.IncRequestSucceeded()
	c.IncRequestFailed()
	c.IncException()
	c.IncTimeout()
	c.IncDirective()
	c.IncDirective()
	c.AddAttachment(100)
	c.AddAttachment(28)
	c.IncParseError()
	c.IncPause()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteFailure()

	s := c.Snapshot()

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"Connects", s.Connects, 1},
		{"ConnectFailures", s.ConnectFailures, 2},
		{"Disconnects", s.Disconnects, 1},
		{"ServerSideDisconnects", s.ServerSideDisconnects, 1},
		{"PingsSent", s.PingsSent, 1},
		{"PingFailures", s.PingFailures, 1},
		{"StreamsCreated", s.StreamsCreated, 2},
		{"StreamsReleased", s.StreamsReleased, 1},
		{"StreamsRejected", s.StreamsRejected, 3},
		{"RequestsSent", s.RequestsSent, 1},
		{"RequestsSucceeded", s.RequestsSucceeded, 1},
		{"RequestsFailed", s.RequestsFailed, 1},
		{"Exceptions", s.Exceptions, 1},
		{"Timeouts", s.Timeouts, 1},
		{"DirectivesReceived", s.DirectivesReceived, 2},
		{"AttachmentsReceived", s.AttachmentsReceived, 2},
		{"AttachmentBytes", s.AttachmentBytes, 128},
		{"ParseErrors", s.ParseErrors, 1},
		{"Pauses", s.Pauses, 1},
		{"LodeWriteSuccess", s.LodeWriteSuccess, 1},
		{"LodeWriteFailure", s.LodeWriteFailure, 1},
	}
	for _, ch := range checks {
		if ch.got != ch.want {
			t.Errorf("%s = %d, want %d", ch.name, ch.got, ch.want)
		}
	}
	if s.RejectedByCause["maxStreamsReached"] != 2 || s.RejectedByCause["emptyURL"] != 1 {
		t.Errorf("RejectedByCause = %v", s.RejectedByCause)
	}
}

func TestCollector_Dimensions(t *testing.T) {
	c := NewCollector("streaming", "s3", "sess-42", "https://example.test")
	s := c.Snapshot()

	if s.Policy != "streaming" {
		t.Errorf("Policy = %q, want %q", s.Policy, "streaming")
	}
	if s.StorageBackend != "s3" {
		t.Errorf("StorageBackend = %q, want %q", s.StorageBackend, "s3")
	}
	if s.SessionID != "sess-42" {
		t.Errorf("SessionID = %q, want %q", s.SessionID, "sess-42")
	}
	if s.Endpoint != "https://example.test" {
		t.Errorf("Endpoint = %q", s.Endpoint)
	}
}

func TestCollector_AbsorbPolicyStats(t *testing.T) {
	c := NewCollector("streaming", "fs", "sess-001", "")

	triggers := map[string]int64{"count": 3, "interval": 7, "termination": 1}
	c.AbsorbPolicyStats(100, 92, 8, triggers)

	s := c.Snapshot()
	if s.DirectivesForwarded != 100 {
		t.Errorf("DirectivesForwarded = %d, want 100", s.DirectivesForwarded)
	}
	if s.DirectivesPersisted != 92 {
		t.Errorf("DirectivesPersisted = %d, want 92", s.DirectivesPersisted)
	}
	if s.DirectivesDropped != 8 {
		t.Errorf("DirectivesDropped = %d, want 8", s.DirectivesDropped)
	}
	if s.FlushTriggers["interval"] != 7 {
		t.Errorf("FlushTriggers[interval] = %d, want 7", s.FlushTriggers["interval"])
	}

	// Mutate original; collector should be isolated
	triggers["count"] = 999
	if s2 := c.Snapshot(); s2.FlushTriggers["count"] != 3 {
		t.Errorf("FlushTriggers[count] = %d, want 3 (should be isolated)", s2.FlushTriggers["count"])
	}
}

func TestCollector_AbsorbPolicyStats_NilTriggers(t *testing.T) {
	c := NewCollector("strict", "fs", "sess-001", "")
	c.AbsorbPolicyStats(1, 1, 0, nil)
	if s := c.Snapshot(); s.FlushTriggers != nil {
		t.Errorf("FlushTriggers should be nil when nil passed, got %v", s.FlushTriggers)
	}
}

func TestCollector_SnapshotImmutability(t *testing.T) {
	c := NewCollector("strict", "fs", "sess-001", "")
	c.IncStreamCreated()
	c.IncStreamRejected("emptyURL")

	s1 := c.Snapshot()

	c.IncStreamCreated()
	c.IncStreamRejected("emptyURL")
	s1.RejectedByCause["injected"] = 1

	if s1.StreamsCreated != 1 {
		t.Errorf("s1.StreamsCreated = %d, want 1 (snapshot should be frozen)", s1.StreamsCreated)
	}
	if s1.RejectedByCause["emptyURL"] != 1 {
		t.Errorf("s1.RejectedByCause[emptyURL] = %d, want 1", s1.RejectedByCause["emptyURL"])
	}

	s2 := c.Snapshot()
	if s2.StreamsCreated != 2 {
		t.Errorf("s2.StreamsCreated = %d, want 2", s2.StreamsCreated)
	}
	if _, exists := s2.RejectedByCause["injected"]; exists {
		t.Error("collector should be isolated from snapshot mutation")
	}
}

func TestCollector_NilReceiverSafety(t *testing.T) {
	var c *Collector

	// None of these should panic
	c.IncConnect()
	c.IncConnectFailure()
	c.IncDisconnect()
	c.IncServerSideDisconnect()
	c.IncPingSent()
	c.IncPingFailure()
	c.IncStreamCreated()
	c.IncStreamReleased()
	c.IncStreamRejected("x")
	c.IncRequestSent()
	c.IncRequestSucceeded()
	c.IncRequestFailed()
	c.IncException()
	c.IncTimeout()
	c.IncDirective()
	c.AddAttachment(1)
	c.IncParseError()
	c.IncPause()
	c.IncLodeWriteSuccess()
	c.IncLodeWriteFailure()
	c.AbsorbPolicyStats(10, 8, 2, nil)

	s := c.Snapshot()
	if s.StreamsCreated != 0 {
		t.Errorf("nil collector snapshot StreamsCreated = %d, want 0", s.StreamsCreated)
	}
	if s.RejectedByCause != nil {
		t.Errorf("nil collector snapshot RejectedByCause should be nil, got %v", s.RejectedByCause)
	}
}

func TestCollector_ConcurrentAccess(t *testing.T) {
	c := NewCollector("strict", "fs", "sess-001", "")
	const goroutines = 10
	const iterations = 1000

	var wg sync.WaitGroup
	wg.Add(goroutines)

	for range goroutines {
		go func() {
			defer wg.Done()
			for range iterations {
				c.IncStreamCreated()
				c.IncDirective()
				c.IncStreamRejected("maxStreamsReached")
			}
		}()
	}

	wg.Wait()

	s := c.Snapshot()
	want := int64(goroutines * iterations)

	if s.StreamsCreated != want {
		t.Errorf("StreamsCreated = %d, want %d", s.StreamsCreated, want)
	}
	if s.DirectivesReceived != want {
		t.Errorf("DirectivesReceived = %d, want %d", s.DirectivesReceived, want)
	}
	if s.RejectedByCause["maxStreamsReached"] != want {
		t.Errorf("RejectedByCause = %d, want %d", s.RejectedByCause["maxStreamsReached"], want)
	}
}
