package vm_test

import (
	"strings"
	"testing"

	"github.com/chazu/m8rgo/compiler"
	"github.com/chazu/m8rgo/vm"
)

// writeImage compiles source and serializes it.
func writeImage(t *testing.T, src string) []byte {
	t.Helper()
	heap := vm.NewHeap()
	prog := vm.NewProgram(heap, vm.NewAtomTable())
	vm.RegisterBuiltins(prog)
	mainID, err := compiler.Compile(prog, src)
	if err != nil {
		t.Fatalf("compile failed: %s", err)
	}
	prog.SetMain(mainID)
	image, err := vm.NewImageWriter(prog).Write()
	if err != nil {
		t.Fatalf("image write failed: %s", err)
	}
	return image
}

// runImage loads an image into a fresh runtime and runs it.
func runImage(t *testing.T, image []byte) string {
	t.Helper()
	var out strings.Builder
	heap := vm.NewHeap()
	atoms := vm.NewAtomTable()
	// Pollute the atom table so the reader's remapping is exercised.
	atoms.Intern("unrelatedOne")
	atoms.Intern("unrelatedTwo")

	prog := vm.NewProgram(heap, atoms)
	vm.RegisterBuiltins(prog)
	mainID, err := vm.NewImageReader(prog, image).Read()
	if err != nil {
		t.Fatalf("image read failed: %s", err)
	}
	prog.SetMain(mainID)

	loop := vm.NewRunLoop(heap)
	eu := vm.NewExecutionUnit(prog, vm.PrinterFunc(func(s string) { out.WriteString(s) }))
	loop.AddTask(eu)
	loop.Run()
	return out.String()
}

func TestImageHeader(t *testing.T) {
	image := writeImage(t, "println(1);")
	if len(image) < 9 {
		t.Fatal("image too small")
	}
	if image[0] != 'm' || image[1] != '8' || image[2] != 'r' || image[3] != 0 {
		t.Errorf("bad magic: % x", image[:4])
	}
}

func TestImageRejectsGarbage(t *testing.T) {
	heap := vm.NewHeap()
	prog := vm.NewProgram(heap, vm.NewAtomTable())
	if _, err := vm.NewImageReader(prog, []byte("not an image")).Read(); err == nil {
		t.Error("garbage accepted as image")
	}
	if _, err := vm.NewImageReader(prog, nil).Read(); err == nil {
		t.Error("empty input accepted as image")
	}
}

func TestImageRoundTrip(t *testing.T) {
	src := `
		var total = 0;
		function add(x) { total = total + x; }
		for (var i = 1; i <= 4; i = i + 1) add(i);
		println(total);
		println("label: " + total);
	`
	want := "10\nlabel: 10\n"
	got := runImage(t, writeImage(t, src))
	if got != want {
		t.Errorf("round-tripped output = %q, want %q", got, want)
	}
}

func TestImageRoundTripClasses(t *testing.T) {
	src := `
		class Point {
			constructor(x, y) { this.x = x; this.y = y; }
			sum() { return this.x + this.y; }
			var tag = "pt";
		}
		var p = new Point(4, 38);
		println(p.sum());
		println(p.tag);
	`
	want := "42\npt\n"
	got := runImage(t, writeImage(t, src))
	if got != want {
		t.Errorf("round-tripped output = %q, want %q", got, want)
	}
}

func TestImageRoundTripSwitch(t *testing.T) {
	src := `switch (2) { case 1: println("a"); case 2: println("b"); case 3: println("c"); break; default: println("d"); }`
	want := "b\nc\n"
	got := runImage(t, writeImage(t, src))
	if got != want {
		t.Errorf("round-tripped output = %q, want %q", got, want)
	}
}
