package memory

import (
	"context"
	"sync"

	"github.com/promptforge/tokengate/domain/billing"
	"github.com/promptforge/tokengate/ports"
)

// SubscriptionStore is an in-memory implementation of ports.SubscriptionStore.
type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]billing.Subscription // by ID
}

// NewSubscriptionStore creates a new in-memory subscription store.
func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{
		subs: make(map[string]billing.Subscription),
	}
}

// Get retrieves a subscription by internal ID.
func (s *SubscriptionStore) Get(ctx context.Context, id string) (billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return billing.Subscription{}, ports.ErrNotFound
	}
	return sub, nil
}

// GetByGatewayID retrieves a subscription by its external gateway ID.
func (s *SubscriptionStore) GetByGatewayID(ctx context.Context, gatewayID string) (billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.GatewayID == gatewayID {
			return sub, nil
		}
	}
	return billing.Subscription{}, ports.ErrNotFound
}

// GetActiveByUser retrieves the newest non-cancelled subscription for a user.
func (s *SubscriptionStore) GetActiveByUser(ctx context.Context, userID string) (billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found billing.Subscription
	var ok bool
	for _, sub := range s.subs {
		if sub.UserID != userID || sub.Status == billing.SubscriptionStatusCancelled {
			continue
		}
		if !ok || sub.CreatedAt.After(found.CreatedAt) {
			found = sub
			ok = true
		}
	}
	if !ok {
		return billing.Subscription{}, ports.ErrNotFound
	}
	return found, nil
}

// Create stores a new subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return ports.ErrDuplicate
	}
	if sub.GatewayID != "" {
		for _, existing := range s.subs {
			if existing.GatewayID == sub.GatewayID {
				return ports.ErrDuplicate
			}
		}
	}
	s.subs[sub.ID] = sub
	return nil
}

// Update persists status and next-billing changes.
func (s *SubscriptionStore) Update(ctx context.Context, sub billing.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; !exists {
		return ports.ErrNotFound
	}
	s.subs[sub.ID] = sub
	return nil
}

var _ ports.SubscriptionStore = (*SubscriptionStore)(nil)
