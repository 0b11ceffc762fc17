package compiler

import (
	"bytes"
	"strings"
	"testing"

	"github.com/chazu/m8rgo/vm"
)

func compileSource(t *testing.T, src string) (*vm.Program, *vm.Function) {
	t.Helper()
	prog := vm.NewProgram(vm.NewHeap(), vm.NewAtomTable())
	vm.RegisterBuiltins(prog)
	id, err := Compile(prog, src)
	if err != nil {
		t.Fatalf("compile failed: %s", err)
	}
	fn, ok := prog.Heap().Object(id).(*vm.Function)
	if !ok {
		t.Fatal("root is not a function")
	}
	return prog, fn
}

func compileError(t *testing.T, src string) string {
	t.Helper()
	prog := vm.NewProgram(vm.NewHeap(), vm.NewAtomTable())
	vm.RegisterBuiltins(prog)
	_, err := Compile(prog, src)
	if err == nil {
		t.Fatalf("compile of %q unexpectedly succeeded", src)
	}
	return err.Error()
}

func TestParseSimpleStatements(t *testing.T) {
	sources := []string{
		";",
		"var a;",
		"var a = 1, b = 2;",
		"a = 5;",
		"a += 5;",
		"if (a) b = 1;",
		"if (a) b = 1; else b = 2;",
		"while (a < 10) a = a + 1;",
		"do a = a - 1; while (a > 0);",
		"for (var i = 0; i < 10; i = i + 1) ;",
		"for (var i = 0; i < 10; ++i) { if (i == 5) break; continue; }",
		"for (var v : a) b = b + v;",
		"function f(x, y) { return x + y; }",
		"var f = function(x) { return x; };",
		"var o = { a: 1, b: \"two\" };",
		"var l = [1, 2, 3];",
		"var x = a ? 1 : 2;",
		"var y = a && b || !c;",
		"x = a << 2 >> 1 & 0xF | 3 ^ 1;",
		"delete o.a;",
		"class C { constructor(x) { this.x = x; } get() { return this.x; } }",
		"new C(1);",
		"o.m(1)[2].p = 3;",
		"a[i] += 1;",
		"a.b++;",
		"--a;",
		"switch (x) { case 1: a = 1; break; default: a = 2; }",
	}
	for _, src := range sources {
		prog := vm.NewProgram(vm.NewHeap(), vm.NewAtomTable())
		vm.RegisterBuiltins(prog)
		if _, err := Compile(prog, src); err != nil {
			t.Errorf("compile %q: %s", src, err)
		}
	}
}

// Re-parsing the same source yields byte-identical bytecode.
func TestParseDeterminism(t *testing.T) {
	src := `
		var total = 0;
		function add(x) { total = total + x; }
		for (var i = 0; i < 10; i = i + 1) {
			switch (i % 3) {
			case 0: add(1);
			case 1: add(2); break;
			default: add(3);
			}
		}
		class Pair { constructor(a, b) { this.a = a; this.b = b; } sum() { return this.a + this.b; } }
		var p = new Pair(total, 5);
		println(p.sum());
	`
	_, fn1 := compileSource(t, src)
	_, fn2 := compileSource(t, src)
	if !bytes.Equal(fn1.Code(), fn2.Code()) {
		t.Error("re-parsing the same source produced different bytecode")
	}
	if len(fn1.Constants()) != len(fn2.Constants()) {
		t.Error("re-parsing produced different constant pools")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src      string
		fragment string
	}{
		{"var;", "missing var declaration"},
		{"switch (x) { default: ; default: ; }", "duplicate default"},
		{"class C { var x = foo; }", "constant value required"},
		{"if (a b;", "expected"},
		{"var x = ;", "expected expression"},
		{"a = ;", "expected expression"},
	}
	for _, tt := range tests {
		msg := compileError(t, tt.src)
		if !strings.Contains(msg, tt.fragment) {
			t.Errorf("compile %q: diagnostic %q does not mention %q", tt.src, msg, tt.fragment)
		}
		if !strings.Contains(msg, "line ") {
			t.Errorf("compile %q: diagnostic %q has no line number", tt.src, msg)
		}
	}
}

func TestParseLocalsAndParams(t *testing.T) {
	prog, _ := compileSource(t, "function f(a, b) { var c; var d = 1; }")
	v, ok := prog.Global(prog.AtomizeString("f"))
	if !ok {
		t.Fatal("named function not bound")
	}
	fn := prog.Heap().ObjectOf(v).(*vm.Function)
	if fn.ParamCount() != 2 {
		t.Errorf("ParamCount = %d, want 2", fn.ParamCount())
	}
	if fn.LocalCount() != 4 {
		t.Errorf("LocalCount = %d, want 4", fn.LocalCount())
	}
}

func TestParseClassMembers(t *testing.T) {
	src := `class C {
		constructor(x) { this.x = x; }
		get() { return this.x; }
		var flag = true;
		var label = "name";
		var count = 3;
	}`
	prog, fn := compileSource(t, src)
	// The class object lives in the root function's constant pool.
	var cls vm.Object
	for _, c := range fn.Constants() {
		if obj := prog.Heap().ObjectOf(c); obj != nil && !obj.HasCode() {
			cls = obj
		}
	}
	if cls == nil {
		t.Fatal("class constant not found")
	}
	if _, ok := cls.Property(vm.AtomConstructor); !ok {
		t.Error("class has no constructor")
	}
	if _, ok := cls.Property(prog.AtomizeString("get")); !ok {
		t.Error("class has no method get")
	}
	if v, ok := cls.Property(prog.AtomizeString("flag")); !ok || v != vm.True {
		t.Error("class var flag not seeded")
	}
	if v, ok := cls.Property(prog.AtomizeString("count")); !ok || v.Int32() != 3 {
		t.Error("class var count not seeded")
	}
}

func TestDisassembleSmoke(t *testing.T) {
	prog, fn := compileSource(t, "var a = 1 + 2; println(a);")
	text := vm.Disassemble(fn, prog.Atoms())
	if !strings.Contains(text, "PUSHK") || !strings.Contains(text, "CALL") {
		t.Errorf("disassembly looks wrong:\n%s", text)
	}
}
