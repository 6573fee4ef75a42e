package provider

import (
	"log/slog"

	"leadwire/internal/domain"
)

// Entry pairs a carrier adapter with its circuit breaker.
type Entry struct {
	Provider domain.CarrierProvider
	Breaker  *Breaker
}

// Selector picks a healthy carrier for each delivery attempt. The
// configured order is the preference order: the primary is used while its
// breaker admits calls, later entries only when every earlier breaker
// refuses. When all breakers refuse, delivery fails immediately with
// ErrProvidersUnavailable.
type Selector struct {
	entries []Entry
	logger  *slog.Logger
}

func NewSelector(entries []Entry, logger *slog.Logger) *Selector {
	return &Selector{
		entries: entries,
		logger:  logger.With("component", "selector"),
	}
}

// Entries exposes the configured carriers, primary first.
func (s *Selector) Entries() []Entry { return s.entries }

// Get returns the entry for a named carrier, or false.
func (s *Selector) Get(name string) (Entry, bool) {
	for _, e := range s.entries {
		if e.Provider.Name() == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Pick returns the first carrier whose breaker admits a call. A non-empty
// hint moves that carrier to the front of the preference order. Picking
// consumes a half-open breaker's single trial slot, so the caller must
// report the outcome with RecordSuccess or RecordFailure.
func (s *Selector) Pick(hint string) (Entry, error) {
	order := s.entries
	if hint != "" {
		if preferred, ok := s.Get(hint); ok {
			order = make([]Entry, 0, len(s.entries))
			order = append(order, preferred)
			for _, e := range s.entries {
				if e.Provider.Name() != hint {
					order = append(order, e)
				}
			}
		}
	}

	for i, e := range order {
		if e.Breaker.Allow() {
			if i > 0 {
				s.logger.Info("using fallback carrier",
					"carrier", e.Provider.Name(),
					"position", i+1,
				)
			}
			return e, nil
		}
		s.logger.Warn("carrier breaker refused call",
			"carrier", e.Provider.Name(),
			"state", e.Breaker.State(),
		)
	}
	return Entry{}, domain.ErrProvidersUnavailable
}
