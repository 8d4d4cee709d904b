package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamgate/streamgate/internal/store/core"
	"github.com/streamgate/streamgate/internal/store/memory"
)

// chanSink hands every published event to the test over a channel.
type chanSink struct {
	ch chan *core.SecurityEvent
}

func (s *chanSink) Publish(ctx context.Context, e *core.SecurityEvent) error {
	s.ch <- e
	return nil
}

func (s *chanSink) Close() error { return nil }

func TestRecord_WritesStoreRow(t *testing.T) {
	repo := memory.New()
	rec := NewRecorder(repo)
	ctx := context.Background()

	rec.Record(ctx, Event{
		Type:     EventTicketVerifyFailed,
		Severity: core.SeverityMedium,
		UserID:   "u-1",
		ClientIP: "192.0.2.1",
		Details:  map[string]any{"reason": "bad_signature"},
	})

	events, err := repo.QuerySecurityEvents(ctx, core.EventFilter{EventType: EventTicketVerifyFailed})
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.Equal(t, "u-1", e.UserID)
	assert.Equal(t, "192.0.2.1", e.ClientIP)
	assert.Equal(t, core.SeverityMedium, e.Severity)
	assert.Equal(t, "bad_signature", e.Details["reason"])
	assert.False(t, e.CreatedAt.IsZero())
}

func TestRecord_FansOutToSinks(t *testing.T) {
	repo := memory.New()
	sink := &chanSink{ch: make(chan *core.SecurityEvent, 1)}
	rec := NewRecorder(repo, sink)

	rec.Record(context.Background(), Event{
		Type:     EventAbuseDetected,
		Severity: core.SeverityCritical,
		ClientIP: "203.0.113.9",
	})

	select {
	case e := <-sink.ch:
		assert.Equal(t, EventAbuseDetected, e.EventType)
		assert.Equal(t, core.SeverityCritical, e.Severity)
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the event")
	}
}

func TestQuery_Filters(t *testing.T) {
	repo := memory.New()
	rec := NewRecorder(repo)
	ctx := context.Background()

	rec.Record(ctx, Event{Type: EventTicketCreated, Severity: core.SeverityInfo, UserID: "u-1"})
	rec.Record(ctx, Event{Type: EventRateLimitExceeded, Severity: core.SeverityMedium, ClientIP: "192.0.2.1"})
	rec.Record(ctx, Event{Type: EventAbuseDetected, Severity: core.SeverityCritical, ClientIP: "192.0.2.1"})

	byType, err := rec.Query(ctx, core.EventFilter{EventType: EventTicketCreated})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, "u-1", byType[0].UserID)

	byIP, err := rec.Query(ctx, core.EventFilter{ClientIP: "192.0.2.1"})
	require.NoError(t, err)
	assert.Len(t, byIP, 2)

	bySeverity, err := rec.Query(ctx, core.EventFilter{MinSeverity: core.SeverityHigh})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, EventAbuseDetected, bySeverity[0].EventType)
}

func TestMailSink_SkipsBelowSeverityFloor(t *testing.T) {
	// No SMTP server involved: events under the floor return before any
	// dial happens.
	sink := NewMailSink(MailConfig{MinSeverity: core.SeverityCritical})
	err := sink.Publish(context.Background(), &core.SecurityEvent{
		EventType: EventRateLimitExceeded,
		Severity:  core.SeverityMedium,
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}
