package idempotency

import (
	"context"
	"sync"
	"time"
)

type scopedKey struct {
	service string
	actor   string
	key     string
}

type messageKey struct {
	messageID string
	topic     string
	group     string
}

// MemoryKeyRepository is an in-process KeyRepository
type MemoryKeyRepository struct {
	mu    sync.Mutex
	keys  map[scopedKey]*IdempotencyKey
	index map[string]scopedKey
}

// NewMemoryKeyRepository creates an empty in-memory key repository
func NewMemoryKeyRepository() *MemoryKeyRepository {
	return &MemoryKeyRepository{
		keys:  make(map[scopedKey]*IdempotencyKey),
		index: make(map[string]scopedKey),
	}
}

// AcquireLock implements KeyRepository
func (r *MemoryKeyRepository) AcquireLock(_ context.Context, key *IdempotencyKey) (*IdempotencyKey, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sk := scopedKey{service: key.ServiceID, actor: key.ActorID, key: key.Key}
	if existing, ok := r.keys[sk]; ok {
		cp := *existing
		return &cp, false, nil
	}

	now := time.Now().UTC()
	stored := *key
	stored.LockedAt = &now
	r.keys[sk] = &stored
	r.index[stored.ID] = sk

	cp := stored
	return &cp, true, nil
}

// ReleaseLock implements KeyRepository
func (r *MemoryKeyRepository) ReleaseLock(_ context.Context, keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sk, ok := r.index[keyID]
	if !ok {
		return nil
	}
	if r.keys[sk].IsCompleted() {
		return nil
	}
	delete(r.keys, sk)
	delete(r.index, keyID)
	return nil
}

// StoreResponse implements KeyRepository
func (r *MemoryKeyRepository) StoreResponse(_ context.Context, keyID string, responseCode int, responseBody []byte, headers map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sk, ok := r.index[keyID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	stored := r.keys[sk]
	stored.ResponseCode = responseCode
	stored.ResponseBody = append([]byte(nil), responseBody...)
	stored.ResponseHeaders = headers
	stored.CompletedAt = &now
	stored.LockedAt = nil
	return nil
}

// Clean implements KeyRepository
func (r *MemoryKeyRepository) Clean(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for sk, k := range r.keys {
		if k.ExpiresAt.Before(before) {
			delete(r.keys, sk)
			delete(r.index, k.ID)
			deleted++
		}
	}
	return deleted, nil
}

// MemoryMessageRepository is an in-process MessageRepository
type MemoryMessageRepository struct {
	mu       sync.Mutex
	messages map[messageKey]*ProcessedMessage
}

// NewMemoryMessageRepository creates an empty in-memory message repository
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[messageKey]*ProcessedMessage)}
}

// MarkProcessed implements MessageRepository
func (r *MemoryMessageRepository) MarkProcessed(_ context.Context, msg *ProcessedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mk := messageKey{messageID: msg.MessageID, topic: msg.Topic, group: msg.ConsumerGroup}
	if _, ok := r.messages[mk]; ok {
		return ErrMessageAlreadyProcessed
	}
	cp := *msg
	r.messages[mk] = &cp
	return nil
}

// IsProcessed implements MessageRepository
func (r *MemoryMessageRepository) IsProcessed(_ context.Context, messageID, topic, consumerGroup string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.messages[messageKey{messageID: messageID, topic: topic, group: consumerGroup}]
	return ok, nil
}

// Clean implements MessageRepository
func (r *MemoryMessageRepository) Clean(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for mk, m := range r.messages {
		if m.ExpiresAt.Before(before) {
			delete(r.messages, mk)
			deleted++
		}
	}
	return deleted, nil
}
