package message

import (
	"errors"
	"strings"
	"testing"
	"time"

	"leadwire/internal/domain"
)

func newOutbound(t *testing.T) *domain.Message {
	t.Helper()
	m, err := domain.NewMessage("conv-1", "hello there", domain.DirectionOutbound, 0.9)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return m
}

func TestTransition_ValidPath(t *testing.T) {
	m := newOutbound(t)

	path := []domain.MessageStatus{domain.StatusSent, domain.StatusDelivered, domain.StatusRead}
	for _, to := range path {
		if err := Transition(m, to, time.Now()); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}

	if m.Status != domain.StatusRead {
		t.Fatalf("expected read, got %s", m.Status)
	}
	if len(m.Metadata.StatusHistory) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(m.Metadata.StatusHistory))
	}
	if !ValidWalk(m.Metadata.StatusHistory) {
		t.Fatal("history is not a valid walk")
	}
}

func TestTransition_InvalidEdgeDoesNotMutate(t *testing.T) {
	cases := []struct {
		name string
		from domain.MessageStatus
		to   domain.MessageStatus
	}{
		{"skip sent", domain.StatusQueued, domain.StatusDelivered},
		{"skip delivered", domain.StatusSent, domain.StatusRead},
		{"terminal read", domain.StatusRead, domain.StatusSent},
		{"terminal failed", domain.StatusFailed, domain.StatusQueued},
		{"terminal blocked", domain.StatusBlocked, domain.StatusSent},
		{"terminal expired", domain.StatusExpired, domain.StatusSent},
		{"backwards", domain.StatusDelivered, domain.StatusQueued},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newOutbound(t)
			m.Status = tc.from

			err := Transition(m, tc.to, time.Now())
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
			if m.Status != tc.from {
				t.Fatalf("status mutated to %s on rejected edge", m.Status)
			}
			if len(m.Metadata.StatusHistory) != 0 {
				t.Fatal("history appended on rejected edge")
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminals := []domain.MessageStatus{
		domain.StatusRead, domain.StatusFailed, domain.StatusBlocked, domain.StatusExpired,
	}
	for _, s := range terminals {
		if !IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []domain.MessageStatus{domain.StatusQueued, domain.StatusSent, domain.StatusDelivered} {
		if IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestValidWalk_RejectsBrokenChains(t *testing.T) {
	now := time.Now()

	broken := []domain.StatusChange{
		{From: domain.StatusQueued, To: domain.StatusSent, At: now},
		{From: domain.StatusDelivered, To: domain.StatusRead, At: now},
	}
	if ValidWalk(broken) {
		t.Fatal("walk with a gap accepted")
	}

	terminalSource := []domain.StatusChange{
		{From: domain.StatusFailed, To: domain.StatusQueued, At: now},
	}
	if ValidWalk(terminalSource) {
		t.Fatal("walk from a terminal status accepted")
	}

	if !ValidWalk(nil) {
		t.Fatal("empty walk should be valid")
	}
}

func TestNewMessage_ContentBounds(t *testing.T) {
	if _, err := domain.NewMessage("c", "", domain.DirectionOutbound, 1); err == nil {
		t.Fatal("empty content accepted")
	}

	long := make([]byte, domain.MaxContentLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := domain.NewMessage("c", string(long), domain.DirectionOutbound, 1)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for 1601 chars, got %v", err)
	}
}

func TestNewMessage_CountsCodePointsNotBytes(t *testing.T) {
	// 1600 three-byte runes is 4800 bytes but exactly at the limit.
	atLimit := strings.Repeat("好", domain.MaxContentLength)
	if _, err := domain.NewMessage("c", atLimit, domain.DirectionOutbound, 1); err != nil {
		t.Fatalf("1600 multibyte characters rejected: %v", err)
	}

	over := atLimit + "好"
	var verr *domain.ValidationError
	if _, err := domain.NewMessage("c", over, domain.DirectionOutbound, 1); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for 1601 characters, got %v", err)
	}
}

func TestNewMessage_ClampsConfidence(t *testing.T) {
	m, err := domain.NewMessage("c", "hi", domain.DirectionOutbound, 3.5)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if m.AIConfidence != 1.0 {
		t.Fatalf("confidence not clamped: %f", m.AIConfidence)
	}

	m.RecordConfidence(-2)
	if m.AIConfidence != 0.0 {
		t.Fatalf("confidence not clamped low: %f", m.AIConfidence)
	}
	if len(m.Metadata.ConfidenceHistory) != 1 || m.Metadata.ConfidenceHistory[0] != 1.0 {
		t.Fatalf("confidence history not kept: %v", m.Metadata.ConfidenceHistory)
	}
}

func TestNewMessage_InboundStartsDelivered(t *testing.T) {
	m, err := domain.NewMessage("c", "hi", domain.DirectionInbound, 1)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if m.Status != domain.StatusDelivered {
		t.Fatalf("inbound message should start delivered, got %s", m.Status)
	}
}
