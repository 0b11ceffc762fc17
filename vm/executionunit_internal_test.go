package vm

import "testing"

// buildTestProgram hand-assembles a root function for interpreter tests
// that must not depend on the compiler package.
func buildTestProgram(t *testing.T, assemble func(p *Program, f *Function)) (*Program, *ExecutionUnit) {
	t.Helper()
	heap := NewHeap()
	p := NewProgram(heap, NewAtomTable())
	RegisterBuiltins(p)
	fn := NewFunction(false)
	fn.MarkParamEnd()
	assemble(p, fn)
	EmitByte(fn, OpRET, 0)
	p.SetMain(heap.AllocObject(fn, false))
	return p, NewExecutionUnit(p, PrinterFunc(func(string) {}))
}

// After any complete statement the operand stack depth returns to its
// pre-statement value; at the end of the program it is back at the frame
// base, which Execute observes before clearing.
func TestStackBalance(t *testing.T) {
	p, eu := buildTestProgram(t, func(p *Program, f *Function) {
		// Statement 1: constant expression statement.
		k := f.AddConstant(IntValue(7))
		EmitUint16(f, OpPUSHK, uint16(k))
		EmitOp(f, OpPOP)
		// Statement 2: array literal with an append, discarded.
		EmitByte(f, OpLOADLIT, 1)
		EmitUint16(f, OpPUSHK, uint16(k))
		EmitOp(f, OpAPPENDELT)
		EmitOp(f, OpPOP)
		// Statement 3: arithmetic, discarded.
		EmitUint16(f, OpPUSHK, uint16(k))
		EmitUint16(f, OpPUSHK, uint16(k))
		EmitOp(f, OpADD)
		EmitOp(f, OpPOP)
	})
	_ = p

	eu.Start()
	crv := eu.runUntil(0)
	if crv.Type() != CallReturned {
		t.Fatalf("execution failed: %v", crv.Type())
	}
	if eu.StackDepth() != 0 {
		t.Errorf("stack depth after program = %d, want 0", eu.StackDepth())
	}
}

func TestLocalSlotsAndMove(t *testing.T) {
	var got Value
	p, eu := buildTestProgram(t, func(p *Program, f *Function) {
		f.AddLocal(p.AtomizeString("x"))
		k := f.AddConstant(IntValue(31))
		// x = 31; global y = x
		EmitByte(f, OpPUSHLREF, 0)
		EmitUint16(f, OpPUSHK, uint16(k))
		EmitOp(f, OpMOVE)
		EmitOp(f, OpPOP)
		EmitUint16(f, OpPUSHID, uint16(p.AtomizeString("y")))
		EmitByte(f, OpPUSHLREF, 0)
		EmitOp(f, OpMOVE)
		EmitOp(f, OpPOP)
	})
	if crv := eu.Execute(); crv.Type() != CallFinished {
		t.Fatalf("execution failed: %v", crv.Type())
	}
	got, _ = p.Global(p.AtomizeString("y"))
	if !got.IsInt() || got.Int32() != 31 {
		t.Errorf("global y = %v, want 31", got)
	}
}

func TestCaseTestKeepsDiscriminant(t *testing.T) {
	_, eu := buildTestProgram(t, func(p *Program, f *Function) {
		k2 := f.AddConstant(IntValue(2))
		k3 := f.AddConstant(IntValue(3))
		EmitUint16(f, OpPUSHK, uint16(k2)) // discriminant
		EmitUint16(f, OpPUSHK, uint16(k3))
		EmitOp(f, OpCASETEST) // [2 false]
		EmitOp(f, OpPOP)
		EmitUint16(f, OpPUSHK, uint16(k2))
		EmitOp(f, OpCASETEST) // [2 true]
		EmitOp(f, OpPOP)
		EmitOp(f, OpPOP) // discriminant
	})
	eu.Start()
	if crv := eu.runUntil(0); crv.Type() != CallReturned {
		t.Fatalf("execution failed: %v", crv.Type())
	}
	if eu.StackDepth() != 0 {
		t.Errorf("stack depth = %d, want 0", eu.StackDepth())
	}
}

func TestTerminationAtSafePoint(t *testing.T) {
	_, eu := buildTestProgram(t, func(p *Program, f *Function) {
		// Infinite loop: JMP -3.
		EmitOp(f, OpNOP)
		EmitUint16(f, OpJMP, uint16(0xFFFD))
	})
	eu.Terminate()
	if crv := eu.Execute(); crv.Type() != CallTerminated {
		t.Errorf("crv = %v, want Terminated", crv.Type())
	}
}
