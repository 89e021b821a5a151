package realtime

import (
	"context"
	"sync"

	"github.com/zeusync/cartsync/internal/core/cart"
)

// Backend persists carts for the Database. Callers serialize writes per uid,
// so implementations only need to be safe across different users.
type Backend interface {
	Get(ctx context.Context, uid string) (cart.Cart, error)
	SetLine(ctx context.Context, uid, productID string, line cart.Line) error
	// UpdateQuantity returns ErrLineNotFound when the line is absent.
	UpdateQuantity(ctx context.Context, uid, productID string, quantity int) error
	// RemoveLine of an absent line succeeds.
	RemoveLine(ctx context.Context, uid, productID string) error
	Close() error
}

// MemoryBackend keeps carts in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	carts map[string]cart.Cart
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{carts: make(map[string]cart.Cart)}
}

func (m *MemoryBackend) Get(_ context.Context, uid string) (cart.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.carts[uid].Clone(), nil
}

func (m *MemoryBackend) SetLine(_ context.Context, uid, productID string, line cart.Line) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[uid] = m.carts[uid].WithLine(productID, line)
	return nil
}

func (m *MemoryBackend) UpdateQuantity(_ context.Context, uid, productID string, quantity int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, ok := m.carts[uid].WithQuantity(productID, quantity)
	if !ok {
		return ErrLineNotFound
	}
	m.carts[uid] = next
	return nil
}

func (m *MemoryBackend) RemoveLine(_ context.Context, uid, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if next, ok := m.carts[uid].Without(productID); ok {
		m.carts[uid] = next
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
