// Package gpio models the PICO-8 GPIO array the cartridge and the bridge share.
package gpio

import (
	"math"
	"sync"
)

// Size is the PICO-8 GPIO length (0x5f80..0x5fff).
const Size = 128

// Origin identifies who performed a write.
type Origin int

const (
	OriginConsole Origin = iota + 1
	OriginBridge
)

func (o Origin) String() string {
	switch o {
	case OriginConsole:
		return "console"
	case OriginBridge:
		return "bridge"
	default:
		return "unknown"
	}
}

// Cell is a single changed byte.
type Cell struct {
	Index int  `json:"index"`
	Old   byte `json:"old"`
	New   byte `json:"new"`
}

// Change is delivered to subscribers once per write operation that altered
// at least one cell. Seq increases by one per Change.
type Change struct {
	Origin Origin
	Cells  []Cell
	Seq    uint64
}

// Buffer is a mutex-guarded byte array with change notifications.
// Subscribers run synchronously on the writer's goroutine, after the lock is
// released, in subscription order.
type Buffer struct {
	mu    sync.Mutex
	cells []byte
	seq   uint64
	// wrote[i] is the Seq of the last bridge write that changed cell i.
	wrote []uint64

	subMu  sync.Mutex
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Change)
}

func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = Size
	}
	return &Buffer{cells: make([]byte, size), wrote: make([]uint64, size)}
}

func (b *Buffer) Len() int { return len(b.cells) }

// Get returns the byte at i, or 0 when i is out of range.
func (b *Buffer) Get(i int) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i < 0 || i >= len(b.cells) {
		return 0
	}
	return b.cells[i]
}

// Snapshot copies the whole array.
func (b *Buffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.cells...)
}

// SnapshotSeq copies the whole array together with the Seq of the last
// change it includes.
func (b *Buffer) SnapshotSeq() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.cells...), b.seq
}

// Set stores v at i.
func (b *Buffer) Set(origin Origin, i int, v byte) {
	b.update(origin, func(cells []byte, put func(int, byte)) {
		put(i, v)
	})
}

// SetBits ORs mask into the byte at i.
func (b *Buffer) SetBits(origin Origin, i int, mask byte) {
	b.update(origin, func(cells []byte, put func(int, byte)) {
		if i >= 0 && i < len(cells) {
			put(i, cells[i]|mask)
		}
	})
}

// ClearBits clears mask in the byte at i.
func (b *Buffer) ClearBits(origin Origin, i int, mask byte) {
	b.update(origin, func(cells []byte, put func(int, byte)) {
		if i >= 0 && i < len(cells) {
			put(i, cells[i]&^mask)
		}
	})
}

// Fill writes data starting at start. Bytes past the end of the array are
// dropped.
func (b *Buffer) Fill(origin Origin, start int, data []byte) {
	b.update(origin, func(cells []byte, put func(int, byte)) {
		for k, v := range data {
			put(start+k, v)
		}
	})
}

// Load replaces the array with frame (shorter frames leave the tail as is).
func (b *Buffer) Load(origin Origin, frame []byte) {
	b.Fill(origin, 0, frame)
}

// Merge writes data starting at start but keeps every bit set in the
// matching keep byte. A nil keep behaves like Fill.
func (b *Buffer) Merge(origin Origin, start int, data, keep []byte) {
	b.MergeAcked(origin, start, data, keep, math.MaxUint64)
}

// MergeAcked is Merge for a writer that has only seen changes up to ack.
// Cells the bridge changed after ack are left untouched: the writer's value
// for them predates the bridge write.
func (b *Buffer) MergeAcked(origin Origin, start int, data, keep []byte, ack uint64) {
	b.update(origin, func(cells []byte, put func(int, byte)) {
		for k, v := range data {
			i := start + k
			if i < 0 || i >= len(cells) || b.wrote[i] > ack {
				continue
			}
			var m byte
			if i < len(keep) {
				m = keep[i]
			}
			put(i, cells[i]&m|v&^m)
		}
	})
}

// Subscribe registers fn and returns a function that removes it.
func (b *Buffer) Subscribe(fn func(Change)) (cancel func()) {
	b.subMu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	b.subMu.Unlock()
	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		for k, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:k:k], b.subs[k+1:]...)
				return
			}
		}
	}
}

func (b *Buffer) update(origin Origin, fn func(cells []byte, put func(int, byte))) {
	var changed []Cell
	b.mu.Lock()
	put := func(i int, v byte) {
		if i < 0 || i >= len(b.cells) || b.cells[i] == v {
			return
		}
		changed = append(changed, Cell{Index: i, Old: b.cells[i], New: v})
		b.cells[i] = v
	}
	fn(b.cells, put)
	if len(changed) == 0 {
		b.mu.Unlock()
		return
	}
	b.seq++
	seq := b.seq
	if origin == OriginBridge {
		for _, c := range changed {
			b.wrote[c.Index] = seq
		}
	}
	b.mu.Unlock()

	b.subMu.Lock()
	subs := append([]subscriber(nil), b.subs...)
	b.subMu.Unlock()
	ch := Change{Origin: origin, Cells: changed, Seq: seq}
	for _, s := range subs {
		s.fn(ch)
	}
}
