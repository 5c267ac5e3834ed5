package types

import (
	"testing"

	"github.com/xyproto/hoil/internal/ast"
)

func i(bits int, signed bool) *ast.IntType   { return &ast.IntType{Bits: bits, Signed: signed} }
func f(bits int) *ast.FloatType              { return &ast.FloatType{Bits: bits} }
func ptr(elem ast.Type) *ast.PtrType         { return &ast.PtrType{Elem: elem} }
func vec(elem ast.Type, n int) *ast.VecType  { return &ast.VecType{Elem: elem, Size: n} }
func arr(elem ast.Type, n int) *ast.ArrayType { return &ast.ArrayType{Elem: elem, Size: n} }

func TestVoidAndBoolCompatibility(t *testing.T) {
	if !Compatible(&ast.VoidType{}, &ast.VoidType{}) {
		t.Error("void should be compatible with void")
	}
	if !Compatible(&ast.BoolType{}, &ast.BoolType{}) {
		t.Error("bool should be compatible with bool")
	}
	if Compatible(&ast.VoidType{}, &ast.BoolType{}) {
		t.Error("void and bool must not be compatible")
	}
}

func TestIntSignConversion(t *testing.T) {
	if !Compatible(i(32, true), i(32, false)) {
		t.Error("equal-width int differing sign should be compatible")
	}
	if Compatible(i(32, true), i(64, true)) {
		t.Error("differing-width ints should not be compatible")
	}
}

func TestIntFloatNumericConversion(t *testing.T) {
	if !Compatible(i(32, true), f(64)) {
		t.Error("int and float should be mutually compatible")
	}
	if !Compatible(f(64), i(32, true)) {
		t.Error("Compatible must be symmetric for int/float")
	}
}

func TestPointerStructuralCompatibility(t *testing.T) {
	if !Compatible(ptr(i(8, true)), ptr(i(8, false))) {
		t.Error("pointers to compatible elements should be compatible")
	}
	if Compatible(ptr(i(8, true)), ptr(i(16, true))) {
		t.Error("pointers to incompatible elements should not be compatible")
	}
}

func TestVecAndArraySizeMatters(t *testing.T) {
	if !Compatible(vec(i(32, true), 4), vec(i(32, false), 4)) {
		t.Error("same-size vecs of compatible element should be compatible")
	}
	if Compatible(vec(i(32, true), 4), vec(i(32, true), 8)) {
		t.Error("differing-size vecs should not be compatible")
	}
	if Compatible(arr(i(32, true), 4), vec(i(32, true), 4)) {
		t.Error("array and vec are different node kinds and should not be compatible")
	}
}

func TestStructNominalCompatibility(t *testing.T) {
	a := &ast.StructType{Name: "Point"}
	b := &ast.StructType{Name: "Point"}
	c := &ast.StructType{Name: "Vector"}
	if !Compatible(a, b) {
		t.Error("structs with the same name should be compatible")
	}
	if Compatible(a, c) {
		t.Error("structs with different names should not be compatible")
	}
}

func TestFunctionTypeCompatibility(t *testing.T) {
	a := &ast.FunctionType{Params: []ast.Type{i(32, true)}, Ret: i(32, true)}
	b := &ast.FunctionType{Params: []ast.Type{i(32, false)}, Ret: i(32, false)}
	c := &ast.FunctionType{Params: []ast.Type{i(64, true)}, Ret: i(32, true)}
	if !Compatible(a, b) {
		t.Error("function types with pairwise-compatible params/ret should be compatible")
	}
	if Compatible(a, c) {
		t.Error("function types with incompatible params should not be compatible")
	}
}

func TestHelperPredicates(t *testing.T) {
	if !IsInt(i(32, true)) || IsInt(f(32)) {
		t.Error("IsInt misclassified a type")
	}
	if !IsFloat(f(64)) || IsFloat(i(64, true)) {
		t.Error("IsFloat misclassified a type")
	}
	if !IsNumeric(i(8, true)) || !IsNumeric(f(16)) || IsNumeric(&ast.BoolType{}) {
		t.Error("IsNumeric misclassified a type")
	}
	if !IsPointer(ptr(i(8, true))) || IsPointer(i(8, true)) {
		t.Error("IsPointer misclassified a type")
	}
}

func TestNeedsConversionHelpers(t *testing.T) {
	if !NeedsSignConversion(i(32, true), i(32, false)) {
		t.Error("expected a sign conversion to be flagged")
	}
	if NeedsSignConversion(i(32, true), i(64, false)) {
		t.Error("differing width should not be reported as a sign conversion")
	}
	if !NeedsNumericConversion(i(32, true), f(64)) || !NeedsNumericConversion(f(64), i(32, true)) {
		t.Error("expected an int/float pair to need a numeric conversion")
	}
	if NeedsNumericConversion(i(32, true), i(64, true)) {
		t.Error("int/int should never need a numeric conversion")
	}
}
