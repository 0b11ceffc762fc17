package vm_test

import (
	"strings"
	"testing"
	"time"

	"github.com/chazu/m8rgo/compiler"
	"github.com/chazu/m8rgo/vm"
)

// runSource compiles and runs a program under a run loop, returning
// everything it printed.
func runSource(t *testing.T, src string) string {
	t.Helper()
	var out strings.Builder

	heap := vm.NewHeap()
	prog := vm.NewProgram(heap, vm.NewAtomTable())
	prog.Compile = compiler.Compile
	vm.RegisterBuiltins(prog)

	mainID, err := compiler.Compile(prog, src)
	if err != nil {
		t.Fatalf("compile failed: %s", err)
	}
	prog.SetMain(mainID)

	loop := vm.NewRunLoop(heap)
	eu := vm.NewExecutionUnit(prog, vm.PrinterFunc(func(s string) { out.WriteString(s) }))
	loop.AddTask(eu)
	loop.Run()
	return out.String()
}

func expectOutput(t *testing.T, src, want string) {
	t.Helper()
	if got := runSource(t, src); got != want {
		t.Errorf("output = %q, want %q\nsource: %s", got, want, src)
	}
}

// ---------------------------------------------------------------------------
// End-to-end scenarios
// ---------------------------------------------------------------------------

func TestScenarioSumLoop(t *testing.T) {
	expectOutput(t,
		`var a = 0; for (var i = 1; i <= 10; i = i + 1) a = a + i; println(a);`,
		"55\n")
}

func TestScenarioFactorial(t *testing.T) {
	expectOutput(t,
		`function f(x){ if (x<=1) return 1; return x*f(x-1);} println(f(5));`,
		"120\n")
}

func TestScenarioForIn(t *testing.T) {
	expectOutput(t,
		`var a = [3,1,4,1,5,9]; var s=0; for (var v : a) s = s+v; println(s);`,
		"23\n")
}

func TestScenarioSwitchFallthrough(t *testing.T) {
	expectOutput(t,
		`switch (2) { case 1: println("a"); case 2: println("b"); case 3: println("c"); break; default: println("d"); }`,
		"b\nc\n")
}

func TestScenarioSwitchDefault(t *testing.T) {
	expectOutput(t,
		`switch (9) { case 1: println("a"); break; default: println("d"); }`,
		"d\n")
}

func TestScenarioClass(t *testing.T) {
	expectOutput(t,
		`class P { constructor(x){ this.x = x; } get(){ return this.x; } } var p = new P(7); println(p.get());`,
		"7\n")
}

func TestScenarioLookupHostname(t *testing.T) {
	saved := vm.LookupHostFn
	vm.LookupHostFn = func(host string) ([4]byte, error) {
		return [4]byte{10, 0, 0, 1}, nil
	}
	defer func() { vm.LookupHostFn = saved }()

	got := runSource(t,
		`IPAddr.lookupHostname("example.test", function(name, ip){ println(ip.toString()); }); waitForEvent();`)
	if got != "10.0.0.1\n" {
		t.Errorf("output = %q, want %q", got, "10.0.0.1\n")
	}
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

func TestExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`println(1 + 2 * 3);`, "7\n"},
		{`println((1 + 2) * 3);`, "9\n"},
		{`println(10 % 3);`, "1\n"},
		{`println(1 << 4);`, "16\n"},
		{`println(-16 >> 2);`, "-4\n"},
		{`println(0xF0 & 0x3C);`, "48\n"},
		{`println(0xF0 | 0x0F);`, "255\n"},
		{`println(5 ^ 3);`, "6\n"},
		{`println(~0);`, "-1\n"},
		{`println(!0);`, "true\n"},
		{`println(1 < 2);`, "true\n"},
		{`println("a" + "b");`, "ab\n"},
		{`println("n=" + 5);`, "n=5\n"},
		{`println(1.5 + 2.25);`, "3.75\n"},
		{`println(true ? "yes" : "no");`, "yes\n"},
		{`println(false || true);`, "true\n"},
		{`println(false && true);`, "false\n"},
		{`var x = 1; x += 4; println(x);`, "5\n"},
		{`var x = 8; x >>= 2; println(x);`, "2\n"},
		{`var x = 1; println(x++); println(x);`, "1\n2\n"},
		{`var x = 1; println(++x); println(x);`, "2\n2\n"},
		{`var o = { a: 1 }; o.a += 2; println(o.a);`, "3\n"},
		{`var a = [1,2,3]; a[1] = 9; println(a[1]);`, "9\n"},
		{`var a = [1,2,3]; a[0]++; println(a[0]);`, "2\n"},
		{`var a = [5,6]; println(a.length);`, "2\n"},
		{`println("hello".length);`, "5\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.src, tt.want)
	}
}

func TestObjectsAndProperties(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`var o = { a: 1, b: 2 }; println(o.a + o.b);`, "3\n"},
		{`var o = {}; o.x = 10; println(o.x);`, "10\n"},
		{`var o = { a: 1 }; delete o.a; println(o.a);`, "undefined\n"},
		{`var o = { s: 0 }; for (var v : { a: 1, b: 2, c: 4 }) o.s = o.s + v; println(o.s);`, "7\n"},
		{`var o = new Object(); o.k = "v"; println(o.k);`, "v\n"},
		{`var a = new Array(7, 8); println(a[0] + a[1]);`, "15\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.src, tt.want)
	}
}

func TestNestedAndRecursiveFunctions(t *testing.T) {
	expectOutput(t, `
		function fib(n) {
			if (n < 2) return n;
			return fib(n-1) + fib(n-2);
		}
		println(fib(10));
	`, "55\n")
}

func TestFunctionValues(t *testing.T) {
	expectOutput(t, `
		var twice = function(x) { return x * 2; };
		println(twice(21));
	`, "42\n")
}

func TestArgumentsBuiltin(t *testing.T) {
	expectOutput(t, `
		function count() { return arguments().length; }
		println(count(1, 2, 3));
	`, "3\n")
}

func TestPrintf(t *testing.T) {
	expectOutput(t, `printf("%d-%s-%x\n", 10, "mid", 255);`, "10-mid-ff\n")
}

func TestConversions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`println(toInt("42"));`, "42\n"},
		{`println(toInt(" 42 "));`, "42\n"},
		{`println(toInt("0x10"));`, "16\n"},
		{`println(toFloat("2.5"));`, "2.5\n"},
		{`println(toUInt("7"));`, "7\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.src, tt.want)
	}
}

func TestConversionError(t *testing.T) {
	got := runSource(t, `println(toInt("nope"));`)
	if !strings.Contains(got, "cannot convert string to number") {
		t.Errorf("expected conversion diagnostic, got %q", got)
	}
}

func TestRuntimeErrorUnwinds(t *testing.T) {
	got := runSource(t, `
		function inner() { return missing(); }
		function outer() { return inner(); }
		outer();
		println("unreachable");
	`)
	if !strings.Contains(got, "runtime error") {
		t.Errorf("expected runtime error trace, got %q", got)
	}
	if strings.Contains(got, "unreachable") {
		t.Error("execution continued past a fatal error")
	}
}

func TestJSONBuiltins(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`println(JSON.stringify([1,2,3]));`, "[1,2,3]\n"},
		{`println(JSON.stringify("hi"));`, "\"hi\"\n"},
		{`var o = JSON.parse("{\"a\": 41}"); println(o.a + 1);`, "42\n"},
		{`var l = JSON.parse("[1, [2, 3]]"); println(l[1][0]);`, "2\n"},
	}
	for _, tt := range tests {
		expectOutput(t, tt.src, tt.want)
	}
}

func TestBase64Builtins(t *testing.T) {
	expectOutput(t,
		`var e = Base64.encode("hello"); println(e); println(Base64.decode(e));`,
		"aGVsbG8=\nhello\n")
}

func TestGPIOBuiltins(t *testing.T) {
	expectOutput(t, `
		GPIO.setPinMode(4, GPIO.Output);
		GPIO.digitalWrite(4, true);
		println(GPIO.digitalRead(4));
	`, "true\n")
}

func TestMeminfoBuiltin(t *testing.T) {
	got := runSource(t, `
		var m = meminfo();
		println(m.numAllocations > 0);
		println(m.allocationsByType.length > 0);
	`)
	if got != "true\ntrue\n" {
		t.Errorf("meminfo output = %q", got)
	}
}

func TestImportString(t *testing.T) {
	expectOutput(t, `
		var mod = importString("println(99);");
		mod();
	`, "99\n")
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

// Resuming after delay(n) runs the next instruction only after at least
// n ms of wall time.
func TestDelayTiming(t *testing.T) {
	start := time.Now()
	got := runSource(t, `delay(50); println("done");`)
	elapsed := time.Since(start)
	if got != "done\n" {
		t.Fatalf("output = %q", got)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("resumed after %v, want >= 50ms", elapsed)
	}
}

func TestCurrentTimeAdvances(t *testing.T) {
	got := runSource(t, `
		var t0 = currentTime();
		delay(20);
		var t1 = currentTime();
		println(t1 > t0);
	`)
	if got != "true\n" {
		t.Errorf("output = %q", got)
	}
}

func TestTaskTerminate(t *testing.T) {
	heap := vm.NewHeap()
	prog := vm.NewProgram(heap, vm.NewAtomTable())
	prog.Compile = compiler.Compile
	vm.RegisterBuiltins(prog)

	mainID, err := compiler.Compile(prog, `while (true) { delay(1); }`)
	if err != nil {
		t.Fatal(err)
	}
	prog.SetMain(mainID)

	loop := vm.NewRunLoop(heap)
	eu := vm.NewExecutionUnit(prog, vm.PrinterFunc(func(string) {}))
	task := loop.AddTask(eu)

	done := make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	loop.Post(func() { task.Terminate() })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("terminated task did not stop the loop")
	}
}

func TestTwoTasksInterleave(t *testing.T) {
	var out strings.Builder
	heap := vm.NewHeap()
	atoms := vm.NewAtomTable()
	loop := vm.NewRunLoop(heap)

	addTask := func(src string) {
		prog := vm.NewProgram(heap, atoms)
		prog.Compile = compiler.Compile
		vm.RegisterBuiltins(prog)
		mainID, err := compiler.Compile(prog, src)
		if err != nil {
			t.Fatal(err)
		}
		prog.SetMain(mainID)
		eu := vm.NewExecutionUnit(prog, vm.PrinterFunc(func(s string) { out.WriteString(s) }))
		loop.AddTask(eu)
	}

	addTask(`delay(30); println("slow");`)
	addTask(`println("fast");`)
	loop.Run()

	if out.String() != "fast\nslow\n" {
		t.Errorf("interleaving = %q, want %q", out.String(), "fast\nslow\n")
	}
}

// ---------------------------------------------------------------------------
// Iterator contract
// ---------------------------------------------------------------------------

func TestIteratorExplicit(t *testing.T) {
	expectOutput(t, `
		var a = [10, 20, 30];
		var it = new Iterator(a);
		var s = 0;
		while (!it.done()) { s = s + it.value(); it.next(); }
		println(s);
	`, "60\n")
}

func TestForInOverString(t *testing.T) {
	// Iterating a wrapped string visits byte values.
	expectOutput(t, `
		var s = 0;
		var w = new Object("ab");
		for (var c : w) s = s + c;
		println(s);
	`, "195\n")
}
