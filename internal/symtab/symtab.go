// Package symtab implements the scoped symbol table: a chained-bucket hash
// map keyed by name, with a parent link for scope chaining. Rehashed from
// FlapHashMap's design (FNV-1a hash, chained buckets, 0.75 load-factor
// doubling) — that map is keyed by uint64 with a float64 payload for a
// runtime-value representation; this one is keyed by string name with an
// *Entry payload, and adds the parent link a flat runtime table never needed.
package symtab

import (
	"hash/fnv"

	"github.com/xyproto/hoil/internal/ast"
)

// Kind classifies what a symbol table entry denotes.
type Kind int

const (
	KindType Kind = iota
	KindConstant
	KindGlobal
	KindFunction
	KindParameter
	KindLocal
	KindBlock
)

// Entry is one symbol table record.
type Entry struct {
	Name         string
	Kind         Kind
	Node         ast.Node
	ResolvedType ast.Type
	Defined      bool
}

type bucket struct {
	name     string
	entry    *Entry
	occupied bool
	next     *bucket
}

const initialCapacity = 64
const loadFactor = 0.75

// Table is one lexical scope. Lookup can optionally walk to Parent.
type Table struct {
	Parent  *Table
	buckets []bucket
	size    int
	count   int
}

// New creates an empty root-level table (no parent).
func New() *Table {
	return &Table{buckets: make([]bucket, initialCapacity), size: initialCapacity}
}

// NewChild creates a table scoped inside parent.
func NewChild(parent *Table) *Table {
	t := New()
	t.Parent = parent
	return t
}

func hashName(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}

// Add inserts a new entry in this scope. Returns false if name is already
// bound in this scope (does not shadow in-scope — a duplicate name at the
// same scope is always an error to the caller).
func (t *Table) Add(e *Entry) bool {
	idx := hashName(e.Name) % uint64(t.size)
	b := &t.buckets[idx]

	if !b.occupied {
		b.name = e.Name
		b.entry = e
		b.occupied = true
		t.count++
		t.maybeResize()
		return true
	}
	if b.name == e.Name {
		return false
	}
	for cur := b.next; cur != nil; cur = cur.next {
		if cur.name == e.Name {
			return false
		}
	}
	b.next = &bucket{name: e.Name, entry: e, occupied: true, next: b.next}
	t.count++
	t.maybeResize()
	return true
}

// Lookup finds an entry by name in this scope, optionally walking up
// through Parent scopes if not found locally.
func (t *Table) Lookup(name string, walkParents bool) (*Entry, bool) {
	for scope := t; scope != nil; scope = scope.Parent {
		idx := hashName(name) % uint64(scope.size)
		b := &scope.buckets[idx]
		if b.occupied && b.name == name {
			return b.entry, true
		}
		for cur := b.next; cur != nil; cur = cur.next {
			if cur.name == name {
				return cur.entry, true
			}
		}
		if !walkParents {
			return nil, false
		}
	}
	return nil, false
}

// SetType records the resolved type for an existing entry.
func (t *Table) SetType(name string, typ ast.Type) {
	if e, ok := t.Lookup(name, false); ok {
		e.ResolvedType = typ
	}
}

// MarkDefined marks an existing entry as defined (as opposed to merely
// declared/forward-referenced).
func (t *Table) MarkDefined(name string) {
	if e, ok := t.Lookup(name, false); ok {
		e.Defined = true
	}
}

func (t *Table) maybeResize() {
	if float64(t.count)/float64(t.size) <= loadFactor {
		return
	}
	old := t.buckets
	t.size *= 2
	t.buckets = make([]bucket, t.size)
	t.count = 0
	for i := range old {
		for b := &old[i]; b != nil; b = b.next {
			if b.occupied {
				t.reinsert(b.entry)
			}
		}
	}
}

func (t *Table) reinsert(e *Entry) {
	idx := hashName(e.Name) % uint64(t.size)
	b := &t.buckets[idx]
	if !b.occupied {
		b.name = e.Name
		b.entry = e
		b.occupied = true
	} else {
		b.next = &bucket{name: e.Name, entry: e, occupied: true, next: b.next}
	}
	t.count++
}

// Keys returns every name bound in this scope only (not parents).
func (t *Table) Keys() []string {
	keys := make([]string, 0, t.count)
	for i := range t.buckets {
		for b := &t.buckets[i]; b != nil; b = b.next {
			if b.occupied {
				keys = append(keys, b.name)
			}
		}
	}
	return keys
}
