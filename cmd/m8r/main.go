// Command m8r runs m8rscript source files or compiled images, compiles
// source to the persisted image form, and serves the remote shell.
//
// Usage:
//
//	m8r run script.m8r
//	m8r compile -o script.m8b script.m8r
//	m8r serve
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/m8rgo/compiler"
	"github.com/chazu/m8rgo/config"
	"github.com/chazu/m8rgo/shell"
	"github.com/chazu/m8rgo/vfs"
	"github.com/chazu/m8rgo/vm"
)

var log = commonlog.GetLogger("m8r.cli")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "compile":
		err = cmdCompile(os.Args[2:])
	case "serve":
		err = cmdServe(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "m8r: %s\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: m8r run <script.m8r|script.m8b>")
	fmt.Fprintln(os.Stderr, "       m8r compile [-o out.m8b] <script.m8r>")
	fmt.Fprintln(os.Stderr, "       m8r serve [-config m8r.toml]")
}

// newRuntime builds the shared heap, atom table and a program with the
// built-ins registered and the host hooks installed.
func newRuntime(cfg config.Config) (*vm.Heap, *vm.AtomTable, *vm.Program, *vfs.FS, error) {
	commonlog.Configure(cfg.Log.Verbosity, nil)

	heap := vm.NewHeap()
	heap.SetGCThreshold(cfg.Runtime.GCThreshold)
	atoms := vm.NewAtomTable()

	prog := vm.NewProgram(heap, atoms)
	prog.Compile = compiler.Compile

	var mount *vfs.FS
	if cfg.VFS.Path != "" {
		fs, err := vfs.Open(cfg.VFS.Path)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		prog.FileSystem = fs
		prog.ReadModule = fs.ReadFile
		mount = fs
	}
	vm.RegisterBuiltins(prog)
	return heap, atoms, prog, mount, nil
}

func cmdRun(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "m8r.toml", "configuration file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("run: expected one script")
	}
	path := fs.Arg(0)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}
	heap, _, prog, mount, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	if mount != nil {
		defer mount.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var mainID vm.ObjectID
	if strings.HasSuffix(path, ".m8b") {
		mainID, err = vm.NewImageReader(prog, data).Read()
		if err != nil {
			return err
		}
	} else {
		mainID, err = compiler.Compile(prog, string(data))
		if err != nil {
			return fmt.Errorf("parse failed:\n%s", err)
		}
	}
	prog.SetMain(mainID)

	loop := vm.NewRunLoop(heap)
	eu := vm.NewExecutionUnit(prog, nil)
	loop.AddTask(eu)
	log.Debugf("running %s", path)
	loop.Run()
	return nil
}

func cmdCompile(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	out := fs.String("o", "", "output image path")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("compile: expected one script")
	}
	path := fs.Arg(0)
	if *out == "" {
		*out = strings.TrimSuffix(path, ".m8r") + ".m8b"
	}

	heap := vm.NewHeap()
	atoms := vm.NewAtomTable()
	prog := vm.NewProgram(heap, atoms)
	vm.RegisterBuiltins(prog)

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	mainID, err := compiler.Compile(prog, string(data))
	if err != nil {
		return fmt.Errorf("parse failed:\n%s", err)
	}
	prog.SetMain(mainID)

	image, err := vm.NewImageWriter(prog).Write()
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, image, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(image))
	return nil
}

func cmdServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "m8r.toml", "configuration file")
	fs.Parse(args)

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		return err
	}
	heap, atoms, prog, mount, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	if mount != nil {
		defer mount.Close()
	}

	loop := vm.NewRunLoop(heap)
	srv := shell.NewServer(loop, atoms, prog.FileSystem)
	if cfg.Shell.Listen != "" {
		if _, err := srv.ListenTCP(cfg.Shell.Listen); err != nil {
			return err
		}
	}
	if cfg.Shell.WebSocket != "" {
		if err := srv.ListenWebSocket(cfg.Shell.WebSocket); err != nil {
			return err
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		log.Notice("shutting down")
		srv.Close()
		loop.Stop()
	}()

	loop.Run()
	return nil
}
