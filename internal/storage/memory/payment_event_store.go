package memory

import (
	"context"
	"sort"
	"sync"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// PaymentEventStore is an in-memory implementation of storage.PaymentEventStore.
type PaymentEventStore struct {
	mu     sync.RWMutex
	events []domain.PaymentEvent
}

// NewPaymentEventStore creates a new in-memory payment event store.
func NewPaymentEventStore() *PaymentEventStore {
	return &PaymentEventStore{}
}

// Insert appends an event.
func (s *PaymentEventStore) Insert(_ context.Context, e *domain.PaymentEvent) error {
	if e == nil || e.AttemptID == "" || e.State == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

// GetByAttemptID retrieves all events of one workflow run, ordered by occurred_at ASC.
func (s *PaymentEventStore) GetByAttemptID(_ context.Context, attemptID string) ([]*domain.PaymentEvent, error) {
	s.mu.RLock()
	var result []*domain.PaymentEvent
	for i := range s.events {
		if s.events[i].AttemptID == attemptID {
			e := s.events[i]
			result = append(result, &e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

var _ storage.PaymentEventStore = (*PaymentEventStore)(nil)
