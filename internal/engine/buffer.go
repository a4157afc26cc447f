package engine

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/tanq16/splitfetch/internal/bridge"
	"github.com/tanq16/splitfetch/internal/fragment"
)

type part struct {
	rng    fragment.Range
	data   []byte
	closed bool
}

// reassemblyBuffer holds the bytes of every fragment of one download. Parts
// are kept in registration order, which is range order, and the buffer is
// complete once every registered range has landed in full.
type reassemblyBuffer struct {
	length int64
	order  []bridge.TaskID
	parts  map[bridge.TaskID]*part
	landed *roaring.Bitmap
	sealed bool
}

func newReassemblyBuffer(length int64) *reassemblyBuffer {
	return &reassemblyBuffer{
		length: length,
		parts:  make(map[bridge.TaskID]*part),
		landed: roaring.New(),
	}
}

func (b *reassemblyBuffer) register(id bridge.TaskID, rng fragment.Range) {
	b.order = append(b.order, id)
	b.parts[id] = &part{rng: rng, data: make([]byte, 0, max(rng.Len(), 0))}
}

// append hands a chunk over to the buffer and reports whether it completed
// its range.
func (b *reassemblyBuffer) append(id bridge.TaskID, chunk []byte) (bool, error) {
	p, ok := b.parts[id]
	if !ok || p.closed || b.sealed {
		return false, ErrUnknownTask
	}
	if int64(len(p.data)+len(chunk)) > p.rng.Len() {
		return false, ErrFragmentOverflow
	}
	p.data = append(p.data, chunk...)
	if int64(len(p.data)) == p.rng.Len() {
		p.closed = true
		b.landed.Add(uint32(p.rng.Index))
		return true, nil
	}
	return false, nil
}

// close stops a part from accepting bytes. Landed parts are unaffected.
func (b *reassemblyBuffer) close(id bridge.TaskID) {
	if p, ok := b.parts[id]; ok {
		p.closed = true
	}
}

// reset drops the bytes of a part that has not landed so it can be refilled
// from the start.
func (b *reassemblyBuffer) reset(id bridge.TaskID) {
	p, ok := b.parts[id]
	if !ok || b.landed.Contains(uint32(p.rng.Index)) {
		return
	}
	p.data = p.data[:0]
	p.closed = false
}

func (b *reassemblyBuffer) hasLanded(id bridge.TaskID) bool {
	p, ok := b.parts[id]
	return ok && b.landed.Contains(uint32(p.rng.Index))
}

func (b *reassemblyBuffer) complete() bool {
	return b.landed.GetCardinality() == uint64(len(b.order))
}

// transferred sums the registered parts in registration order.
func (b *reassemblyBuffer) transferred() int64 {
	var total int64
	for _, id := range b.order {
		total += int64(len(b.parts[id].data))
	}
	return total
}

func (b *reassemblyBuffer) partBytes(id bridge.TaskID) []byte {
	if p, ok := b.parts[id]; ok {
		return p.data
	}
	return nil
}

// assemble concatenates the parts in range order and seals the buffer.
func (b *reassemblyBuffer) assemble() []byte {
	out := make([]byte, 0, b.length)
	for _, id := range b.order {
		out = append(out, b.parts[id].data...)
	}
	b.sealed = true
	return out
}
