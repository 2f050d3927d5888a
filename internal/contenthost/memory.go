package contenthost

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

// MemoryHost keeps files in memory. It backs local development and tests, and
// can inject failures and write latency.
type MemoryHost struct {
	mu         sync.Mutex
	files      map[string]string
	fetchErr   error
	writeErr   error
	writeDelay time.Duration
	writes     int
	inflight   int
	maxInfl    int
}

// NewMemoryHost creates a host seeded with files.
func NewMemoryHost(files map[string]string) *MemoryHost {
	h := &MemoryHost{files: make(map[string]string, len(files))}
	for k, v := range files {
		h.files[k] = v
	}
	return h
}

// Fetch returns the content of filePath.
func (h *MemoryHost) Fetch(ctx context.Context, filePath string) (string, error) {
	const op = "contenthost.MemoryHost.Fetch"
	if err := ctx.Err(); err != nil {
		return "", utils.Wrap(op, "fetch "+filePath, utils.ErrFetch, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fetchErr != nil {
		return "", utils.Wrap(op, "fetch "+filePath, utils.ErrFetch, h.fetchErr)
	}
	content, ok := h.files[filePath]
	if !ok {
		return "", utils.Wrap(op, "fetch "+filePath, utils.ErrFetch, errors.New("file does not exist"))
	}
	return content, nil
}

// Write stores content at filePath.
func (h *MemoryHost) Write(ctx context.Context, filePath, content, _ string) error {
	const op = "contenthost.MemoryHost.Write"
	h.mu.Lock()
	if h.writeErr != nil {
		err := h.writeErr
		h.mu.Unlock()
		return utils.Wrap(op, "write "+filePath, utils.ErrWrite, err)
	}
	h.inflight++
	if h.inflight > h.maxInfl {
		h.maxInfl = h.inflight
	}
	delay := h.writeDelay
	h.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			h.mu.Lock()
			h.inflight--
			h.mu.Unlock()
			return utils.Wrap(op, "write "+filePath, utils.ErrWrite, ctx.Err())
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight--
	h.files[filePath] = content
	h.writes++
	return nil
}

// Content returns the current content of filePath.
func (h *MemoryHost) Content(filePath string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.files[filePath]
	return c, ok
}

// Put sets filePath directly, bypassing failure injection.
func (h *MemoryHost) Put(filePath, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[filePath] = content
}

// FailFetches makes every Fetch fail with err until reset with nil.
func (h *MemoryHost) FailFetches(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fetchErr = err
}

// FailWrites makes every Write fail with err until reset with nil.
func (h *MemoryHost) FailWrites(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeErr = err
}

// SetWriteDelay holds every Write for d before it lands.
func (h *MemoryHost) SetWriteDelay(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeDelay = d
}

// Writes reports how many writes succeeded.
func (h *MemoryHost) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// MaxConcurrentWrites reports the highest number of overlapping writes seen.
func (h *MemoryHost) MaxConcurrentWrites() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxInfl
}
