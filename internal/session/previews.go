package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Preview struct {
	Data        []byte
	ContentType string
	Created     time.Time
}

// Previews holds encoded preview blobs behind opaque handles. A handle stays
// valid until it is revoked.
type Previews struct {
	mu    sync.Mutex
	items map[string]Preview
}

func NewPreviews() *Previews {
	return &Previews{items: make(map[string]Preview)}
}

func (p *Previews) Put(data []byte, contentType string) string {
	id := uuid.NewString()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items[id] = Preview{Data: data, ContentType: contentType, Created: time.Now()}
	return id
}

func (p *Previews) Get(id string) (Preview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.items[id]
	return v, ok
}

func (p *Previews) Revoke(id string) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, id)
}

func (p *Previews) RevokeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	clear(p.items)
}

func (p *Previews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}
