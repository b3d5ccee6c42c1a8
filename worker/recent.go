package worker

import "sync"

// FrameInfo describes one frame produced by PROCESS_FRAME.
type FrameInfo struct {
	Timestamp int64
	Size      int
}

// ring keeps the last n frames. A ring with n <= 0 records nothing.
type ring struct {
	items []FrameInfo
	next  int
	full  bool
	mu    sync.Mutex
}

func newRing(n int) *ring {
	if n < 0 {
		n = 0
	}
	return &ring{items: make([]FrameInfo, n)}
}

func (r *ring) add(f FrameInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.items) == 0 {
		return
	}
	r.items[r.next] = f
	r.next = (r.next + 1) % len(r.items)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next = 0
	r.full = false
}

func (r *ring) snapshot() []FrameInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]FrameInfo(nil), r.items[:r.next]...)
	}
	out := make([]FrameInfo, 0, len(r.items))
	out = append(out, r.items[r.next:]...)
	return append(out, r.items[:r.next]...)
}
