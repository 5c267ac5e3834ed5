// Package types holds the type-compatibility predicate used by
// internal/check, plus helpers that classify whether a conversion is a
// genuine conversion or a no-op (internal/codegen does not import them).
// The predicate-method shape (small named boolean helpers on a type) follows
// C67Type's IsNative/IsForeign/IsPointer pattern; the matrix contents
// themselves encode HOIL's own int/float/pointer compatibility table.
package types

import "github.com/xyproto/hoil/internal/ast"

// Compatible reports whether a and b may be used interchangeably per the
// symmetric compatibility predicate: equal-width integers of differing
// signedness are compatible (implicit sign conversion), as are any
// integer/float pair (implicit numeric conversion); pointers, vectors and
// arrays compare structurally; structs compare nominally; function types
// compare component-wise.
func Compatible(a, b ast.Type) bool {
	switch av := a.(type) {
	case *ast.VoidType:
		_, ok := b.(*ast.VoidType)
		return ok
	case *ast.BoolType:
		_, ok := b.(*ast.BoolType)
		return ok
	case *ast.IntType:
		switch bv := b.(type) {
		case *ast.IntType:
			return av.Bits == bv.Bits
		case *ast.FloatType:
			return true
		}
		return false
	case *ast.FloatType:
		switch bv := b.(type) {
		case *ast.FloatType:
			return av.Bits == bv.Bits
		case *ast.IntType:
			return true
		}
		return false
	case *ast.PtrType:
		bv, ok := b.(*ast.PtrType)
		return ok && Compatible(av.Elem, bv.Elem)
	case *ast.VecType:
		bv, ok := b.(*ast.VecType)
		return ok && av.Size == bv.Size && Compatible(av.Elem, bv.Elem)
	case *ast.ArrayType:
		bv, ok := b.(*ast.ArrayType)
		return ok && av.Size == bv.Size && Compatible(av.Elem, bv.Elem)
	case *ast.StructType:
		bv, ok := b.(*ast.StructType)
		return ok && av.Name != "" && av.Name == bv.Name
	case *ast.FunctionType:
		bv, ok := b.(*ast.FunctionType)
		if !ok || len(av.Params) != len(bv.Params) || !Compatible(av.Ret, bv.Ret) {
			return false
		}
		for i := range av.Params {
			if !Compatible(av.Params[i], bv.Params[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// IsInt reports whether t is an integer type.
func IsInt(t ast.Type) bool {
	_, ok := t.(*ast.IntType)
	return ok
}

// IsFloat reports whether t is a floating-point type.
func IsFloat(t ast.Type) bool {
	_, ok := t.(*ast.FloatType)
	return ok
}

// IsNumeric reports whether t is an integer or floating-point type.
func IsNumeric(t ast.Type) bool {
	return IsInt(t) || IsFloat(t)
}

// IsBool reports whether t is the boolean type.
func IsBool(t ast.Type) bool {
	_, ok := t.(*ast.BoolType)
	return ok
}

// IsPointer reports whether t is a pointer type.
func IsPointer(t ast.Type) bool {
	_, ok := t.(*ast.PtrType)
	return ok
}

// NeedsSignConversion reports whether converting from a to b crosses a
// signedness boundary at equal width (a no-op at the bit level, but still
// flagged since codegen may want to note it).
func NeedsSignConversion(a, b ast.Type) bool {
	ai, aok := a.(*ast.IntType)
	bi, bok := b.(*ast.IntType)
	return aok && bok && ai.Bits == bi.Bits && ai.Signed != bi.Signed
}

// NeedsNumericConversion reports whether converting from a to b crosses
// the integer/float boundary and therefore needs a real conversion
// instruction rather than a register rename.
func NeedsNumericConversion(a, b ast.Type) bool {
	return (IsInt(a) && IsFloat(b)) || (IsFloat(a) && IsInt(b))
}
