package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"tuzemoon/internal/domain"
	"tuzemoon/internal/storage"
)

// PaymentStore is an in-memory implementation of storage.PaymentStore.
type PaymentStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Payment // keyed by id
	bySig  map[string]string          // signature -> id
	notify Notifier
	now    func() time.Time
}

// NewPaymentStore creates a new in-memory payment store.
func NewPaymentStore(notify Notifier) *PaymentStore {
	return &PaymentStore{
		data:   make(map[string]*domain.Payment),
		bySig:  make(map[string]string),
		notify: notify,
		now:    time.Now,
	}
}

// Insert adds a new payment. Returns ErrDuplicateKey if id or signature exists.
func (s *PaymentStore) Insert(_ context.Context, p *domain.Payment) error {
	if p == nil || p.ID == "" || !p.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	if _, exists := s.data[p.ID]; exists {
		s.mu.Unlock()
		return storage.ErrDuplicateKey
	}
	if p.Signature != "" {
		if _, exists := s.bySig[p.Signature]; exists {
			s.mu.Unlock()
			return storage.ErrDuplicateKey
		}
		s.bySig[p.Signature] = p.ID
	}
	stored := clonePayment(p)
	s.data[p.ID] = stored
	rec := paymentRecord(stored)
	s.mu.Unlock()

	s.notify.notify(domain.CollectionPayments, EventInsert, rec, nil)
	return nil
}

// GetByID retrieves a payment by ID. Returns ErrNotFound if not exists.
func (s *PaymentStore) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePayment(p), nil
}

// GetBySignature retrieves a payment by transaction signature.
func (s *PaymentStore) GetBySignature(_ context.Context, signature string) (*domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.bySig[signature]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return clonePayment(s.data[id]), nil
}

// GetByUser retrieves all payments of a user, newest first.
func (s *PaymentStore) GetByUser(_ context.Context, userID string) ([]*domain.Payment, error) {
	s.mu.RLock()
	var result []*domain.Payment
	for _, p := range s.data {
		if p.UserID == userID {
			result = append(result, clonePayment(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// UpdateStatus moves a pending payment to a terminal status.
func (s *PaymentStore) UpdateStatus(_ context.Context, id string, status domain.PaymentStatus, errMsg *string) error {
	s.mu.Lock()
	p, exists := s.data[id]
	if !exists {
		s.mu.Unlock()
		return storage.ErrNotFound
	}
	old := paymentRecord(p)
	msg := ""
	if errMsg != nil {
		msg = *errMsg
	}
	if err := p.Transition(status, msg, s.now().UTC()); err != nil {
		s.mu.Unlock()
		return storage.ErrInvalidTransition
	}
	rec := paymentRecord(p)
	s.mu.Unlock()

	s.notify.notify(domain.CollectionPayments, EventUpdate, rec, old)
	return nil
}

func clonePayment(p *domain.Payment) *domain.Payment {
	c := *p
	if p.ErrorMessage != nil {
		msg := *p.ErrorMessage
		c.ErrorMessage = &msg
	}
	return &c
}

var _ storage.PaymentStore = (*PaymentStore)(nil)
