// Package idempotency marks inbound events as processed so at-least-once
// delivery from Pub/Sub and gateway webhooks settles each event once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/redis"
)

// Manager records processed event IDs per consumer with SETNX and a TTL.
// Keys look like fx:idempotency:evt:processed:<consumer>:<event_id>.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// CheckAndMarkProcessed reports whether eventID was already seen by consumer,
// marking it otherwise.
func (m *Manager) CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return m.mark(ctx, consumer, eventID.String())
}

// Delete clears the mark so a redelivery is processed again.
func (m *Manager) Delete(ctx context.Context, consumer string, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return m.unmark(ctx, consumer, eventID.String())
}

// Scope binds the manager to one consumer whose event IDs are opaque strings,
// such as gateway webhook event IDs.
func (m *Manager) Scope(consumer string) *Scope {
	return &Scope{manager: m, consumer: consumer}
}

func (m *Manager) mark(ctx context.Context, consumer, eventID string) (bool, error) {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return false, err
	}
	set, err := m.store.SetNX(ctx, key, "1", m.ttl)
	if err != nil {
		return false, fmt.Errorf("mark %s processed: %w", consumer, err)
	}
	return !set, nil
}

func (m *Manager) unmark(ctx context.Context, consumer, eventID string) error {
	key, err := m.processedKey(consumer, eventID)
	if err != nil {
		return err
	}
	return m.store.Del(ctx, key)
}

func (m *Manager) processedKey(consumer, eventID string) (string, error) {
	if strings.TrimSpace(consumer) == "" {
		return "", errors.New("consumer name is required")
	}
	if strings.TrimSpace(eventID) == "" {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID), nil
}

// Scope is a Manager view for a single consumer.
type Scope struct {
	manager  *Manager
	consumer string
}

func (s *Scope) CheckAndMark(ctx context.Context, eventID string) (bool, error) {
	return s.manager.mark(ctx, s.consumer, eventID)
}

func (s *Scope) Delete(ctx context.Context, eventID string) error {
	return s.manager.unmark(ctx, s.consumer, eventID)
}
