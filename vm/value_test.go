package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Float tests
// ---------------------------------------------------------------------------

func TestFloatRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		-0.0,
		1.0,
		-1.0,
		3.14159265358979,
		-3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := FloatValue(f)
		if !v.IsFloat() {
			t.Errorf("FloatValue(%v).IsFloat() = false, want true", f)
			continue
		}
		if got := v.Float64(); got != f {
			t.Errorf("FloatValue(%v).Float64() = %v, want %v", f, got, f)
		}
	}
}

func TestFloatNaN(t *testing.T) {
	v := FloatValue(math.NaN())
	if !v.IsFloat() {
		t.Error("NaN should be treated as float")
	}
	if !math.IsNaN(v.Float64()) {
		t.Error("NaN roundtrip failed")
	}
	if v.IsInt() || v.IsObject() || v.IsString() {
		t.Error("NaN must not read as a tagged value")
	}
}

// ---------------------------------------------------------------------------
// Tagged value tests
// ---------------------------------------------------------------------------

func TestIntRoundTrip(t *testing.T) {
	tests := []int32{0, 1, -1, 42, -42, math.MaxInt32, math.MinInt32}
	for _, i := range tests {
		v := IntValue(i)
		if !v.IsInt() {
			t.Errorf("IntValue(%d).IsInt() = false", i)
			continue
		}
		if got := v.Int32(); got != i {
			t.Errorf("IntValue(%d).Int32() = %d", i, got)
		}
		if v.IsFloat() {
			t.Errorf("IntValue(%d) reads as float", i)
		}
	}
}

func TestSpecialValues(t *testing.T) {
	if !Undefined.IsUndefined() || Undefined.Type() != TypeUndefined {
		t.Error("Undefined misclassified")
	}
	if !Null.IsNull() || Null.Type() != TypeNull {
		t.Error("Null misclassified")
	}
	if !True.IsBool() || !True.Bool() {
		t.Error("True misclassified")
	}
	if !False.IsBool() || False.Bool() {
		t.Error("False misclassified")
	}
	if Undefined == Null || True == False {
		t.Error("special values must be distinct")
	}
}

func TestHandleRoundTrip(t *testing.T) {
	ov := ObjectValue(ObjectID(12345))
	if !ov.IsObject() || ov.ObjectID() != 12345 {
		t.Errorf("object handle roundtrip failed: %v", ov.ObjectID())
	}
	sv := StringValue(StringID(0xFFFFFFFF))
	if !sv.IsString() || sv.StringID() != 0xFFFFFFFF {
		t.Errorf("string handle roundtrip failed: %v", sv.StringID())
	}
	av := AtomValue(Atom(777))
	if !av.IsAtom() || av.Atom() != 777 {
		t.Errorf("atom roundtrip failed: %v", av.Atom())
	}
}

func TestElemRefRoundTrip(t *testing.T) {
	tests := []struct {
		id  ObjectID
		idx uint16
	}{
		{0, 0},
		{0, 5},
		{1, 0},
		{0xFFFFFFFF, 0xFFFF},
		{42, 0x8003},
	}
	for _, tt := range tests {
		v := ElemRefValue(tt.id, tt.idx)
		if !v.IsElemRef() {
			t.Errorf("ElemRefValue(%d, %d) not an elemref", tt.id, tt.idx)
			continue
		}
		id, idx := v.ElemRef()
		if id != tt.id || idx != tt.idx {
			t.Errorf("ElemRef() = (%d, %d), want (%d, %d)", id, idx, tt.id, tt.idx)
		}
		if !v.IsRef() {
			t.Error("elemref must be a reference")
		}
	}
}

func TestTypeNames(t *testing.T) {
	if TypeInt32.String() != "integer" || TypeObject.String() != "object" {
		t.Error("type names wrong")
	}
}
