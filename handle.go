package h264bridge

import (
	"fmt"
	"sync"
)

// Handle is an opaque reference to a live decoder or encoder owned by a Bridge.
//
// The value packs a table tag, a slot generation and a slot index, so a handle
// whose engine was destroyed never resolves again, even after the slot is
// reused, and a decoder handle is never accepted where an encoder is expected.
type Handle uint64

// NullHandle is never issued. Destroying it is a no-op.
const NullHandle Handle = 0

const (
	handleIndexBits = 32
	handleGenBits   = 24
	handleGenMask   = 1<<handleGenBits - 1
	handleTagShift  = handleIndexBits + handleGenBits
)

type handleTag uint8

const (
	tagDecoder handleTag = 0xD1
	tagEncoder handleTag = 0xE1
)

func (t handleTag) String() string {
	switch t {
	case tagDecoder:
		return "decoder"
	case tagEncoder:
		return "encoder"
	default:
		return "unknown"
	}
}

func makeHandle(tag handleTag, gen uint32, index int) Handle {
	return Handle(uint64(tag)<<handleTagShift |
		uint64(gen&handleGenMask)<<handleIndexBits |
		uint64(uint32(index)+1))
}

func (h Handle) tag() handleTag { return handleTag(h >> handleTagShift) }

func (h Handle) generation() uint32 { return uint32(h>>handleIndexBits) & handleGenMask }

// index returns the slot index, or -1 for a handle carrying no index.
func (h Handle) index() int { return int(uint32(h)) - 1 }

func (h Handle) String() string {
	if h == NullHandle {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%s#%d.%d)", h.tag(), h.index(), h.generation())
}

type slot[T any] struct {
	gen  uint32
	live bool
	val  T
}

// handleTable is an arena of values addressed by generation-checked handles.
// It serializes registration and lookup only; callers serialize use of a
// single value themselves.
type handleTable[T any] struct {
	mu    sync.Mutex
	tag   handleTag
	slots []slot[T]
	free  []int
}

func newHandleTable[T any](tag handleTag) *handleTable[T] {
	return &handleTable[T]{tag: tag}
}

func (t *handleTable[T]) insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx int
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = len(t.slots)
		t.slots = append(t.slots, slot[T]{gen: 1})
	}
	s := &t.slots[idx]
	s.live = true
	s.val = v
	return makeHandle(t.tag, s.gen, idx)
}

func (t *handleTable[T]) lookupLocked(h Handle) (*slot[T], bool) {
	if h == NullHandle || h.tag() != t.tag {
		return nil, false
	}
	idx := h.index()
	if idx < 0 || idx >= len(t.slots) {
		return nil, false
	}
	s := &t.slots[idx]
	if !s.live || s.gen != h.generation() {
		return nil, false
	}
	return s, true
}

func (t *handleTable[T]) get(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.lookupLocked(h)
	if !ok {
		var zero T
		return zero, false
	}
	return s.val, true
}

// remove invalidates h and returns its value. It reports false for handles
// that are null, stale, foreign or already removed.
func (t *handleTable[T]) remove(h Handle) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	s, ok := t.lookupLocked(h)
	if !ok {
		return zero, false
	}
	v := s.val
	s.val = zero
	s.live = false
	s.gen = (s.gen + 1) & handleGenMask
	if s.gen == 0 {
		s.gen = 1
	}
	t.free = append(t.free, h.index())
	return v, true
}

// drain removes every live value.
func (t *handleTable[T]) drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []T
	var zero T
	for i := range t.slots {
		s := &t.slots[i]
		if !s.live {
			continue
		}
		out = append(out, s.val)
		s.val = zero
		s.live = false
		s.gen = (s.gen + 1) & handleGenMask
		if s.gen == 0 {
			s.gen = 1
		}
		t.free = append(t.free, i)
	}
	return out
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots) - len(t.free)
}
