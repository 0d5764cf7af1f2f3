package fleet

import (
	"sync"
	"sync/atomic"
)

// Each store owns one state word: the high 32 bits are an epoch bumped on
// every acquisition, the low bits hold the state. Transitions are CAS on the
// whole word, so a release from a superseded apply never clobbers a newer one.
type leaseTable struct {
	slots sync.Map // StoreID -> *atomic.Uint64
}

const (
	codeIdle uint32 = iota
	codeApplying
	codeApplied
	codeFailed
)

func pack(epoch, code uint32) uint64 { return uint64(epoch)<<32 | uint64(code) }

func unpack(word uint64) (epoch, code uint32) { return uint32(word >> 32), uint32(word) }

func (t *leaseTable) word(id StoreID) *atomic.Uint64 {
	if v, ok := t.slots.Load(id); ok {
		return v.(*atomic.Uint64)
	}
	v, _ := t.slots.LoadOrStore(id, new(atomic.Uint64))
	return v.(*atomic.Uint64)
}

// acquire moves the store into Applying and returns the new epoch. It fails
// when the store is already Applying.
func (t *leaseTable) acquire(id StoreID) (uint32, bool) {
	w := t.word(id)
	for {
		cur := w.Load()
		epoch, code := unpack(cur)
		if code == codeApplying {
			return 0, false
		}
		next := epoch + 1
		if w.CompareAndSwap(cur, pack(next, codeApplying)) {
			return next, true
		}
	}
}

// release resolves the lease taken at epoch. It reports false when the lease
// was already resolved.
func (t *leaseTable) release(id StoreID, epoch uint32, final ApplyState) bool {
	code := codeFailed
	if final == StateApplied {
		code = codeApplied
	}
	return t.word(id).CompareAndSwap(pack(epoch, codeApplying), pack(epoch, code))
}

func (t *leaseTable) state(id StoreID) ApplyState {
	v, ok := t.slots.Load(id)
	if !ok {
		return StateIdle
	}
	_, code := unpack(v.(*atomic.Uint64).Load())
	switch code {
	case codeApplying:
		return StateApplying
	case codeApplied:
		return StateApplied
	case codeFailed:
		return StateFailed
	default:
		return StateIdle
	}
}
