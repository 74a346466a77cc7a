package storage

import (
	"sync"

	"github.com/google/uuid"
	"github.com/medflow/intake-capture/internal/capture/domain"
)

// PreviewStore serves thumbnails under unguessable handles until the
// owning session revokes them
type PreviewStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewPreviewStore creates an empty preview store
func NewPreviewStore() *PreviewStore {
	return &PreviewStore{items: make(map[string][]byte)}
}

// Put registers data and returns its handle. The store keeps the slice
// itself, so zeroing it elsewhere also blanks the preview.
func (p *PreviewStore) Put(data []byte) string {
	handle := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[handle] = data
	return handle
}

// Get returns the preview bytes for handle
func (p *PreviewStore) Get(handle string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	data, ok := p.items[handle]
	if !ok || len(data) == 0 {
		return nil, domain.ErrPreviewNotFound
	}
	return data, nil
}

// Revoke drops handle and zeroes its bytes. Unknown handles are ignored.
func (p *PreviewStore) Revoke(handle string) {
	if handle == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.items[handle]; ok {
		domain.ZeroBytes(data)
		delete(p.items, handle)
	}
}

// Len returns the number of live previews
func (p *PreviewStore) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}
