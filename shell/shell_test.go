package shell

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/chazu/m8rgo/vm"
)

func startShell(t *testing.T) (addr string, loop *vm.RunLoop, srv *Server, done chan struct{}) {
	t.Helper()
	heap := vm.NewHeap()
	loop = vm.NewRunLoop(heap)
	srv = NewServer(loop, vm.NewAtomTable(), nil)

	addr, err := srv.ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenTCP: %s", err)
	}

	done = make(chan struct{})
	go func() {
		loop.Run()
		close(done)
	}()

	t.Cleanup(func() {
		srv.Close()
		loop.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("run loop did not stop")
		}
	})
	return addr, loop, srv, done
}

func dialShell(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %s", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, bufio.NewReader(conn)
}

func TestShellSession(t *testing.T) {
	addr, _, _, _ := startShell(t)
	conn, r := dialShell(t, addr)

	banner, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading banner: %s", err)
	}
	if banner != "m8r shell v1.0\n" {
		t.Errorf("banner = %q", banner)
	}

	if _, err := conn.Write([]byte("println(6 * 7);\n")); err != nil {
		t.Fatal(err)
	}
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("reading result: %s", err)
	}
	if line != "42\n" {
		t.Errorf("result = %q", line)
	}
}

func TestShellStatePersistsAcrossLines(t *testing.T) {
	addr, _, _, _ := startShell(t)
	conn, r := dialShell(t, addr)
	r.ReadString('\n') // banner

	conn.Write([]byte("x = 40;\n"))
	conn.Write([]byte("println(x + 2);\n"))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "42\n" {
		t.Errorf("result = %q", line)
	}
}

func TestShellParseErrorReported(t *testing.T) {
	addr, _, _, _ := startShell(t)
	conn, r := dialShell(t, addr)
	r.ReadString('\n') // banner

	conn.Write([]byte("var ;\n"))
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line == "" || line == "\n" {
		t.Error("no diagnostic for parse error")
	}
}

func TestShellMultipleSessions(t *testing.T) {
	addr, _, _, _ := startShell(t)

	c1, r1 := dialShell(t, addr)
	c2, r2 := dialShell(t, addr)
	r1.ReadString('\n')
	r2.ReadString('\n')

	c1.Write([]byte("a = 1;\n"))
	c2.Write([]byte("println(2);\n"))
	if line, _ := r2.ReadString('\n'); line != "2\n" {
		t.Errorf("session 2 result = %q", line)
	}
	c1.Write([]byte("println(a);\n"))
	if line, _ := r1.ReadString('\n'); line != "1\n" {
		t.Errorf("session 1 result = %q", line)
	}
}
