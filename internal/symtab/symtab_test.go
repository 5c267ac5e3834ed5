package symtab

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xyproto/hoil/internal/ast"
)

func TestAddAndLookupHere(t *testing.T) {
	tab := New()
	ok := tab.Add(&Entry{Name: "x", Kind: KindGlobal})
	require.True(t, ok)

	e, found := tab.Lookup("x", false)
	require.True(t, found)
	assert.Equal(t, KindGlobal, e.Kind)
}

func TestAddDuplicateInSameScopeFails(t *testing.T) {
	tab := New()
	require.True(t, tab.Add(&Entry{Name: "x", Kind: KindLocal}))
	require.False(t, tab.Add(&Entry{Name: "x", Kind: KindLocal}), "duplicate name in same scope must not be allowed to shadow")
}

func TestLookupWalksParentOnlyWhenAsked(t *testing.T) {
	parent := New()
	require.True(t, parent.Add(&Entry{Name: "g", Kind: KindGlobal}))
	child := NewChild(parent)

	_, found := child.Lookup("g", false)
	assert.False(t, found, "lookup_here must not walk to the parent scope")

	_, found = child.Lookup("g", true)
	assert.True(t, found, "lookup_up must walk to the parent scope")
}

func TestChildShadowsParentWithoutError(t *testing.T) {
	parent := New()
	require.True(t, parent.Add(&Entry{Name: "x", Kind: KindGlobal}))
	child := NewChild(parent)
	require.True(t, child.Add(&Entry{Name: "x", Kind: KindLocal}), "a child scope may reuse a name bound in its parent")

	e, _ := child.Lookup("x", true)
	assert.Equal(t, KindLocal, e.Kind, "lookup from the child must resolve to the nearer binding")
}

func TestResizePreservesAllEntries(t *testing.T) {
	tab := New()
	const n = 500 // forces several resizes past the 0.75 load factor from an init capacity of 64
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("sym%d", i)
		require.True(t, tab.Add(&Entry{Name: name, Kind: KindLocal}))
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("sym%d", i)
		_, found := tab.Lookup(name, false)
		require.True(t, found, "symbol %q lost across resize", name)
	}
	assert.Len(t, tab.Keys(), n)
}

func TestSetTypeAndMarkDefined(t *testing.T) {
	tab := New()
	e := &Entry{Name: "c", Kind: KindConstant}
	require.True(t, tab.Add(e))

	tab.SetType("c", &ast.IntType{Bits: 32, Signed: true})
	tab.MarkDefined("c")

	got, _ := tab.Lookup("c", false)
	assert.True(t, got.Defined)
	assert.NotNil(t, got.ResolvedType)
}
