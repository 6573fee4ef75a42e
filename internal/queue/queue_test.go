package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"leadwire/internal/domain"
	"leadwire/internal/events"
	"leadwire/internal/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memMessages is an in-memory MessageStore with the same optimistic
// concurrency semantics as the sqlite store.
type memMessages struct {
	mu   sync.Mutex
	rows map[string]*domain.Message
}

func newMemMessages() *memMessages {
	return &memMessages{rows: map[string]*domain.Message{}}
}

func (s *memMessages) CreateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Version = 1
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

func (s *memMessages) GetMessage(_ context.Context, id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memMessages) GetMessageByProviderRef(_ context.Context, ref string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.rows {
		if m.Metadata.ProviderMessageID == ref {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memMessages) UpdateMessage(_ context.Context, m *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[m.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != m.Version {
		return domain.ErrOptimisticConflict
	}
	m.Version++
	cp := *m
	s.rows[m.ID] = &cp
	return nil
}

// memJobs is an in-memory JobStore.
type memJobs struct {
	mu   sync.Mutex
	rows map[string]*domain.DeliveryJob
}

func newMemJobs() *memJobs {
	return &memJobs{rows: map[string]*domain.DeliveryJob{}}
}

func (s *memJobs) UpsertJob(_ context.Context, job *domain.DeliveryJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.rows[job.MessageID]; ok {
		cur.Payload = job.Payload
		cur.Priority = job.Priority
		return nil
	}
	cp := *job
	s.rows[job.MessageID] = &cp
	return nil
}

func (s *memJobs) ClaimJob(_ context.Context, now time.Time) (*domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*domain.DeliveryJob
	for _, j := range s.rows {
		if j.State == domain.JobPending && !j.NextAttemptAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].Priority != due[k].Priority {
			return due[i].Priority > due[k].Priority
		}
		return due[i].NextAttemptAt.Before(due[k].NextAttemptAt)
	})
	due[0].State = domain.JobClaimed
	cp := *due[0]
	return &cp, nil
}

func (s *memJobs) RescheduleJob(_ context.Context, messageID string, attemptCount int, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[messageID]
	if !ok {
		return domain.ErrNotFound
	}
	j.State = domain.JobPending
	j.AttemptCount = attemptCount
	j.NextAttemptAt = nextAttemptAt
	return nil
}

func (s *memJobs) DeadLetterJob(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[messageID]
	if !ok {
		return domain.ErrNotFound
	}
	j.State = domain.JobDead
	return nil
}

func (s *memJobs) DeleteJob(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, messageID)
	return nil
}

func (s *memJobs) CancelJob(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[messageID]
	if !ok || j.State != domain.JobPending {
		return false, nil
	}
	delete(s.rows, messageID)
	return true, nil
}

func (s *memJobs) GetJob(_ context.Context, messageID string) (*domain.DeliveryJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.rows[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func newTestQueue(t *testing.T) (*Queue, *memMessages, *memJobs) {
	t.Helper()
	msgs := newMemMessages()
	jobs := newMemJobs()
	sink := events.NewSink(16, testLogger())
	t.Cleanup(sink.Close)
	del := metrics.NewDelivery(metrics.NewCollector())
	q, err := New(Stores{Messages: msgs, Jobs: jobs}, sink, del, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q, msgs, jobs
}

func TestEnqueuePersistsMessageAndJob(t *testing.T) {
	q, msgs, jobs := newTestQueue(t)
	ctx := context.Background()

	msg, err := q.Enqueue(ctx, EnqueueRequest{
		ConversationID: "conv-1",
		Recipient:      "+14155550100",
		Content:        "hello there",
		Priority:       2,
		ProviderHint:   "vonage",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if msg.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", msg.Status)
	}

	stored, err := msgs.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMessage: %v", err)
	}
	if stored.Direction != domain.DirectionOutbound {
		t.Errorf("direction = %s", stored.Direction)
	}

	job, err := jobs.GetJob(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.State != domain.JobPending {
		t.Errorf("job state = %s, want pending", job.State)
	}
	if job.Priority != 2 || job.Payload.ProviderHint != "vonage" {
		t.Errorf("job fields = %+v", job)
	}
	if job.NextAttemptAt.After(time.Now()) {
		t.Error("new job should be due immediately")
	}
}

func TestEnqueueRejectsInvalidInput(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	ctx := context.Background()

	var verr *domain.ValidationError
	_, err := q.Enqueue(ctx, EnqueueRequest{Recipient: "+14155550100", Content: ""})
	if !errors.As(err, &verr) {
		t.Fatalf("empty content: got %v, want ValidationError", err)
	}

	_, err = q.Enqueue(ctx, EnqueueRequest{Recipient: "not-a-number", Content: "hi"})
	if !errors.As(err, &verr) {
		t.Fatalf("bad recipient: got %v, want ValidationError", err)
	}

	jobs.mu.Lock()
	n := len(jobs.rows)
	jobs.mu.Unlock()
	if n != 0 {
		t.Fatalf("rejected requests left %d jobs behind", n)
	}
}

func TestCancelOnlyRemovesPendingJobs(t *testing.T) {
	q, _, jobs := newTestQueue(t)
	ctx := context.Background()

	msg, err := q.Enqueue(ctx, EnqueueRequest{Recipient: "+14155550100", Content: "hi"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	ok, err := q.Cancel(ctx, msg.ID)
	if err != nil || !ok {
		t.Fatalf("cancel pending = %v, %v; want true, nil", ok, err)
	}

	// A claimed job must not be cancellable.
	msg2, _ := q.Enqueue(ctx, EnqueueRequest{Recipient: "+14155550100", Content: "hi again"})
	if _, err := jobs.ClaimJob(ctx, time.Now()); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	ok, err = q.Cancel(ctx, msg2.ID)
	if err != nil || ok {
		t.Fatalf("cancel claimed = %v, %v; want false, nil", ok, err)
	}
}
