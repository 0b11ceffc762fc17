// Package shell implements the remote shell: a TCP line listener and a
// WebSocket endpoint, one task per connection running the built-in
// __shell program while the host evaluates received lines against the
// session's program.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/m8rgo/compiler"
	"github.com/chazu/m8rgo/vm"
)

var log = commonlog.GetLogger("m8r.shell")

// shellSource is the built-in __shell program every session task runs: it
// announces itself and then sleeps between deliveries.
const shellSource = `
println("m8r shell v1.0");
while (true) {
	waitForEvent();
}
`

// Server accepts shell connections and binds each to a session.
type Server struct {
	loop  *vm.RunLoop
	atoms *vm.AtomTable
	fs    vm.FileSystem

	mu          sync.Mutex
	listeners   []net.Listener
	httpServers []*http.Server
	sessions    map[uuid.UUID]*Session
	closed      bool
}

// NewServer creates a shell server over a run loop.
func NewServer(loop *vm.RunLoop, atoms *vm.AtomTable, fs vm.FileSystem) *Server {
	return &Server{
		loop:     loop,
		atoms:    atoms,
		fs:       fs,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// ListenTCP starts accepting line-oriented shell connections on addr and
// returns the bound address.
func (s *Server) ListenTCP(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("shell listen: %w", err)
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	s.loop.Hold()
	log.Infof("shell listening on %s", ln.Addr())

	go func() {
		defer s.loop.Release()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serveConn(conn)
		}
	}()
	return ln.Addr().String(), nil
}

// Close shuts every listener and terminates every session.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for _, ln := range s.listeners {
		ln.Close()
	}
	for _, srv := range s.httpServers {
		srv.Close()
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// serveConn runs the per-connection read loop: each received line is
// evaluated against the session's program on the run loop goroutine.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	sess, err := s.openSession(conn)
	if err != nil {
		log.Errorf("session setup failed: %s", err)
		return
	}
	defer sess.Close()
	log.Infof("session %s connected from %s", sess.ID, conn.RemoteAddr())

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		sess.Eval(line)
	}
	log.Infof("session %s disconnected", sess.ID)
}

// openSession creates a session's program, execution unit and task on the
// run loop goroutine and waits for admission.
func (s *Server) openSession(out io.Writer) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("server is closed")
	}
	s.mu.Unlock()

	done := make(chan *Session, 1)
	s.loop.Post(func() {
		sess, err := newSession(s, out)
		if err != nil {
			log.Errorf("cannot create session: %s", err)
			done <- nil
			return
		}
		done <- sess
	})
	var sess *Session
	select {
	case sess = <-done:
	case <-s.loop.Stopped():
	}
	if sess == nil {
		return nil, fmt.Errorf("session creation failed")
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess, nil
}

func (s *Server) dropSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

// Session is one connected shell: its own program and task over the
// shared heap, printing to the connection.
type Session struct {
	ID     uuid.UUID
	server *Server
	prog   *vm.Program
	eu     *vm.ExecutionUnit
	task   *vm.Task

	writeMu sync.Mutex
	out     io.Writer
}

// newSession runs on the loop goroutine.
func newSession(s *Server, out io.Writer) (*Session, error) {
	sess := &Session{ID: uuid.New(), server: s, out: out}

	prog := vm.NewProgram(s.loop.Heap(), s.atoms)
	prog.Compile = compiler.Compile
	prog.FileSystem = s.fs
	if fs, ok := s.fs.(moduleReader); ok {
		prog.ReadModule = fs.ReadFile
	}
	vm.RegisterBuiltins(prog)

	mainID, err := compiler.Compile(prog, shellSource)
	if err != nil {
		return nil, fmt.Errorf("compiling shell program: %w", err)
	}
	prog.SetMain(mainID)

	sess.prog = prog
	sess.eu = vm.NewExecutionUnit(prog, vm.PrinterFunc(sess.print))
	sess.task = s.loop.AddTask(sess.eu)
	return sess, nil
}

// moduleReader is satisfied by the vfs filesystem.
type moduleReader interface {
	ReadFile(path string) (string, error)
}

func (sess *Session) print(text string) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	io.WriteString(sess.out, text)
}

// Eval compiles and runs one input line on the run loop goroutine,
// blocking until the result is printed.
func (sess *Session) Eval(line string) {
	done := make(chan struct{})
	sess.server.loop.Post(func() {
		defer close(done)
		// A script-installed consoleListener takes over input delivery.
		if cb, ok := sess.prog.Global(vm.AtomConsoleListener); ok && cb != vm.Null && cb != vm.Undefined {
			arg := sess.prog.Heap().AllocStringValue(line)
			crv := sess.eu.FireEvent(cb, sess.prog.GlobalObjectValue(), []vm.Value{arg})
			if crv.IsError() {
				sess.print(fmt.Sprintf("error: %s\n", crv.ErrorCode()))
			}
			return
		}
		id, err := compiler.Compile(sess.prog, line)
		if err != nil {
			sess.print(fmt.Sprintf("parse error: %s\n", err))
			return
		}
		_, crv := sess.eu.CallValue(vm.ObjectValue(id), sess.prog.GlobalObjectValue(), nil)
		switch crv.Type() {
		case vm.CallReturned:
		case vm.CallError:
			sess.print(fmt.Sprintf("error: %s\n", crv.ErrorCode()))
		default:
			sess.print("error: shell statements cannot suspend\n")
		}
	})
	select {
	case <-done:
	case <-sess.server.loop.Stopped():
	}
}

// Close terminates the session's task and forgets it.
func (sess *Session) Close() {
	sess.server.loop.Post(func() {
		sess.task.Terminate()
	})
	sess.server.dropSession(sess)
}
