// Package lockorder checks the buffer cache's two-tier locking discipline.
//
// The cache reports every lock transition to a Tracer together with the id of
// the operation performing it. Verifier implements Tracer and records a
// Violation whenever a transition breaks one of these rules:
//
//  1. a buffer sleeplock is never acquired or released while the same
//     operation holds a shard lock or the global lock;
//  2. the global lock is never acquired while a shard lock is held;
//  3. a second shard lock is only taken while the global lock is held, and
//     never more than two shard locks at once;
//  4. shard locks are released in reverse acquisition order, and the global
//     lock is released last;
//  5. an operation only releases locks it holds.
//
// Transitions must be reported after a lock is acquired and before it is
// released, so the Verifier also sees any two operations holding the same
// spin lock at once.
package lockorder

import (
	"fmt"
	"sort"
	"sync"
)

// Kind identifies a class of lock.
type Kind uint8

const (
	KindGlobal Kind = iota
	KindShard
	KindBuffer
)

func (k Kind) String() string {
	switch k {
	case KindGlobal:
		return "global"
	case KindShard:
		return "shard"
	case KindBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Lock names one lock instance.
type Lock struct {
	Kind  Kind
	Index int
}

func (l Lock) String() string {
	if l.Kind == KindGlobal {
		return "global"
	}
	return fmt.Sprintf("%s[%d]", l.Kind, l.Index)
}

// Global returns the global coordination lock.
func Global() Lock { return Lock{Kind: KindGlobal} }

// Shard returns the lock of shard i.
func Shard(i int) Lock { return Lock{Kind: KindShard, Index: i} }

// Buffer returns the sleeplock of buffer i.
func Buffer(i int) Lock { return Lock{Kind: KindBuffer, Index: i} }

// Tracer receives lock transitions.
// Implementations must be safe for concurrent use.
type Tracer interface {
	Acquired(op uint64, l Lock)
	Releasing(op uint64, l Lock)
}

// Violation describes a broken locking rule.
type Violation struct {
	Op     uint64
	Lock   Lock
	Held   []Lock
	Reason string
}

func (v Violation) Error() string {
	return fmt.Sprintf("lockorder: op %d: %s on %s (held %v)", v.Op, v.Reason, v.Lock, v.Held)
}

// Verifier is a Tracer that checks the locking rules.
type Verifier struct {
	mu         sync.Mutex
	held       map[uint64][]Lock
	owners     map[Lock]uint64
	violations []Violation
	maxShards  int
}

// NewVerifier creates an empty Verifier.
func NewVerifier() *Verifier {
	return &Verifier{
		held:   make(map[uint64][]Lock),
		owners: make(map[Lock]uint64),
	}
}

// Acquired implements Tracer.
func (v *Verifier) Acquired(op uint64, l Lock) {
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.held[op]

	switch l.Kind {
	case KindBuffer:
		if len(held) > 0 {
			v.violate(op, l, held, "sleeplock acquired while holding spin locks")
		}
		return
	case KindGlobal:
		if len(held) > 0 {
			v.violate(op, l, held, "global lock acquired while holding shard locks")
		}
	case KindShard:
		shards := countShards(held)
		switch {
		case contains(held, l):
			v.violate(op, l, held, "shard lock acquired twice")
		case shards >= 2:
			v.violate(op, l, held, "more than two shard locks held")
		case shards == 1 && !contains(held, Global()):
			v.violate(op, l, held, "second shard lock without the global lock")
		}
		if shards+1 > v.maxShards {
			v.maxShards = shards + 1
		}
	}

	if owner, ok := v.owners[l]; ok && owner != op {
		v.violate(op, l, held, fmt.Sprintf("lock already held by op %d", owner))
	}
	v.owners[l] = op
	v.held[op] = append(held, l)
}

// Releasing implements Tracer.
func (v *Verifier) Releasing(op uint64, l Lock) {
	v.mu.Lock()
	defer v.mu.Unlock()

	held := v.held[op]

	if l.Kind == KindBuffer {
		if len(held) > 0 {
			v.violate(op, l, held, "sleeplock released while holding spin locks")
		}
		return
	}

	idx := -1
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		v.violate(op, l, held, "release of a lock that is not held")
		return
	}
	if idx != len(held)-1 {
		v.violate(op, l, held, "locks released out of order")
	}

	held = append(held[:idx:idx], held[idx+1:]...)
	if len(held) == 0 {
		delete(v.held, op)
	} else {
		v.held[op] = held
	}
	delete(v.owners, l)
}

// Violations returns the recorded violations.
func (v *Verifier) Violations() []Violation {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Violation, len(v.violations))
	copy(out, v.violations)
	return out
}

// Outstanding returns the spin locks that are still held, sorted by op.
// A quiescent cache has none.
func (v *Verifier) Outstanding() map[uint64][]Lock {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make(map[uint64][]Lock, len(v.held))
	ops := make([]uint64, 0, len(v.held))
	for op := range v.held {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		out[op] = append([]Lock(nil), v.held[op]...)
	}
	return out
}

// MaxShardsHeld returns the largest number of shard locks any operation held at once.
func (v *Verifier) MaxShardsHeld() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.maxShards
}

func (v *Verifier) violate(op uint64, l Lock, held []Lock, reason string) {
	v.violations = append(v.violations, Violation{
		Op:     op,
		Lock:   l,
		Held:   append([]Lock(nil), held...),
		Reason: reason,
	})
}

func countShards(held []Lock) int {
	n := 0
	for _, h := range held {
		if h.Kind == KindShard {
			n++
		}
	}
	return n
}

func contains(held []Lock, l Lock) bool {
	for _, h := range held {
		if h == l {
			return true
		}
	}
	return false
}
