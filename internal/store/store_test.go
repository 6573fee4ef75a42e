package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"leadwire/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "leadwire.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessageRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m, err := domain.NewMessage("conv-1", "hello lead", domain.DirectionOutbound, 0.8)
	if err != nil {
		t.Fatalf("new message: %v", err)
	}
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetMessage(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hello lead" || got.Status != domain.StatusQueued {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	got.Metadata.ProviderMessageID = "SM42"
	got.Provider = "twilio"
	if err := s.UpdateMessage(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	byRef, err := s.GetMessageByProviderRef(ctx, "SM42")
	if err != nil {
		t.Fatalf("get by provider ref: %v", err)
	}
	if byRef.ID != m.ID {
		t.Fatal("provider ref lookup returned wrong message")
	}
}

func TestUpdateMessage_OptimisticConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m, _ := domain.NewMessage("conv-1", "hi", domain.DirectionOutbound, 1)
	if err := s.CreateMessage(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := s.GetMessage(ctx, m.ID)
	second, _ := s.GetMessage(ctx, m.ID)

	first.Provider = "twilio"
	if err := s.UpdateMessage(ctx, first); err != nil {
		t.Fatalf("first writer: %v", err)
	}

	second.Provider = "vonage"
	err := s.UpdateMessage(ctx, second)
	if !errors.Is(err, domain.ErrOptimisticConflict) {
		t.Fatalf("expected ErrOptimisticConflict, got %v", err)
	}

	// Re-fetch and retry succeeds.
	fresh, _ := s.GetMessage(ctx, m.ID)
	fresh.Provider = "vonage"
	if err := s.UpdateMessage(ctx, fresh); err != nil {
		t.Fatalf("retry after re-fetch: %v", err)
	}
}

func TestGetMessage_NotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.GetMessage(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConversationRoundTripAndConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c := domain.NewConversation("lead-1", "+15551230000")
	c.AppendActivity(domain.ActivityEntry{Kind: domain.ActivityMessage, Detail: "first contact"})
	if err := s.CreateConversation(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetConversation(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Metadata.ActivityLog) != 1 {
		t.Fatalf("activity log lost in round trip: %+v", got.Metadata)
	}

	stale, _ := s.GetConversation(ctx, c.ID)
	got.AssignedAgent = "agent-A"
	if err := s.UpdateConversation(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	stale.AssignedAgent = "agent-B"
	if err := s.UpdateConversation(ctx, stale); !errors.Is(err, domain.ErrOptimisticConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestFindOpenByPhone(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	closed := domain.NewConversation("lead-1", "+15551230000")
	closed.Status = domain.ConversationClosed
	if err := s.CreateConversation(ctx, closed); err != nil {
		t.Fatalf("create closed: %v", err)
	}

	if _, err := s.FindOpenByPhone(ctx, "+15551230000"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("closed conversation should not be found, got %v", err)
	}

	open := domain.NewConversation("lead-1", "+15551230000")
	open.CreatedAt = open.CreatedAt.Add(time.Second)
	if err := s.CreateConversation(ctx, open); err != nil {
		t.Fatalf("create open: %v", err)
	}

	got, err := s.FindOpenByPhone(ctx, "+15551230000")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != open.ID {
		t.Fatal("wrong conversation returned")
	}
}

func TestJobUpsertIsIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := &domain.DeliveryJob{
		MessageID: "m1",
		Payload:   domain.JobPayload{Content: "hi", Recipient: "+15551230000"},
	}
	if err := s.UpsertJob(ctx, job); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Simulate one attempt, then re-add the same message.
	if err := s.RescheduleJob(ctx, "m1", 2, time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	again := &domain.DeliveryJob{
		MessageID: "m1",
		Payload:   domain.JobPayload{Content: "hi again", Recipient: "+15551230000"},
	}
	if err := s.UpsertJob(ctx, again); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetJob(ctx, "m1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AttemptCount != 2 {
		t.Fatalf("re-add reset attempt count: %d", got.AttemptCount)
	}
	if got.Payload.Content != "hi again" {
		t.Fatalf("payload not refreshed: %q", got.Payload.Content)
	}
}

func TestClaimJob_OrderAndExclusivity(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	low := &domain.DeliveryJob{MessageID: "low", Priority: 0, NextAttemptAt: now.Add(-time.Minute),
		Payload: domain.JobPayload{Content: "a", Recipient: "+1"}}
	high := &domain.DeliveryJob{MessageID: "high", Priority: 5, NextAttemptAt: now.Add(-time.Minute),
		Payload: domain.JobPayload{Content: "b", Recipient: "+1"}}
	future := &domain.DeliveryJob{MessageID: "future", NextAttemptAt: now.Add(time.Hour),
		Payload: domain.JobPayload{Content: "c", Recipient: "+1"}}
	for _, j := range []*domain.DeliveryJob{low, high, future} {
		if err := s.UpsertJob(ctx, j); err != nil {
			t.Fatalf("upsert %s: %v", j.MessageID, err)
		}
	}

	first, err := s.ClaimJob(ctx, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if first == nil || first.MessageID != "high" {
		t.Fatalf("expected high-priority job first, got %+v", first)
	}

	second, err := s.ClaimJob(ctx, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if second == nil || second.MessageID != "low" {
		t.Fatalf("expected low job second, got %+v", second)
	}

	// Only the future job remains and it is not due.
	third, err := s.ClaimJob(ctx, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if third != nil {
		t.Fatalf("claimed undue job: %+v", third)
	}
}

func TestCancelJob_OnlyPending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.DeliveryJob{MessageID: "m1", NextAttemptAt: now.Add(-time.Second),
		Payload: domain.JobPayload{Content: "x", Recipient: "+1"}}
	if err := s.UpsertJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	claimed, err := s.ClaimJob(ctx, now)
	if err != nil || claimed == nil {
		t.Fatalf("claim: %v %v", claimed, err)
	}

	canceled, err := s.CancelJob(ctx, "m1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled {
		t.Fatal("claimed job was canceled")
	}

	if err := s.RescheduleJob(ctx, "m1", 1, now); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	canceled, err = s.CancelJob(ctx, "m1")
	if err != nil || !canceled {
		t.Fatalf("pending job not canceled: %v %v", canceled, err)
	}
}

func TestDeadLetterJob_NeverClaimedAgain(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	job := &domain.DeliveryJob{MessageID: "m1", NextAttemptAt: now.Add(-time.Second),
		Payload: domain.JobPayload{Content: "x", Recipient: "+1"}}
	if err := s.UpsertJob(ctx, job); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.DeadLetterJob(ctx, "m1"); err != nil {
		t.Fatalf("dead-letter: %v", err)
	}

	claimed, err := s.ClaimJob(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("dead job was claimed: %+v", claimed)
	}

	got, _ := s.GetJob(ctx, "m1")
	if got.State != domain.JobDead {
		t.Fatalf("expected dead state, got %s", got.State)
	}
}
