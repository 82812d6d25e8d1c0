// File: pubsub/intern.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// InternPool is the refcounted string intern pool described in spec
// section 4.7. It hands out a canonical *Interned for any byte string such
// that two Get calls with equal contents return the same pointer as long as
// at least one reference is held. It is not safe for concurrent use: it is
// owned exclusively by a Registry's single hub goroutine (spec section 5).

package pubsub

import "github.com/cespare/xxhash/v2"

// Interned is a canonical, refcounted string identity. Equality between two
// live Interned values obtained from the same pool is pointer equality.
type Interned struct {
	s    string
	refs int
}

// String returns the underlying bytes as a string.
func (i *Interned) String() string {
	return i.s
}

// InternPool is a bucketed hash table of Interned nodes, keyed by xxhash64
// of the string bytes (spec section 4.6's hashing scheme applied to C7).
type InternPool struct {
	buckets map[uint64][]*Interned
}

// NewInternPool constructs an empty pool.
func NewInternPool() *InternPool {
	return &InternPool{buckets: make(map[uint64][]*Interned)}
}

// Get returns the canonical Interned for s, creating it with refcount 1 if
// absent, else incrementing its refcount.
func (p *InternPool) Get(s string) *Interned {
	h := xxhash.Sum64String(s)
	bucket := p.buckets[h]
	for _, n := range bucket {
		if n.s == s {
			n.refs++
			return n
		}
	}
	n := &Interned{s: s, refs: 1}
	p.buckets[h] = append(bucket, n)
	return n
}

// Release decrements n's refcount and frees it from the pool at zero.
// Releasing a node that is not live (refs already zero) is a no-op.
func (p *InternPool) Release(n *Interned) {
	if n == nil || n.refs == 0 {
		return
	}
	n.refs--
	if n.refs > 0 {
		return
	}
	h := xxhash.Sum64String(n.s)
	bucket := p.buckets[h]
	for i, candidate := range bucket {
		if candidate == n {
			bucket[i] = bucket[len(bucket)-1]
			p.buckets[h] = bucket[:len(bucket)-1]
			break
		}
	}
	if len(p.buckets[h]) == 0 {
		delete(p.buckets, h)
	}
}

// Len reports the number of distinct interned strings currently live. It is
// intended for tests and diagnostics, not the hot path.
func (p *InternPool) Len() int {
	n := 0
	for _, bucket := range p.buckets {
		n += len(bucket)
	}
	return n
}
