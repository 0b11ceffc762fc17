package vm

import (
	"fmt"
	"net"
	"sync"
)

// ---------------------------------------------------------------------------
// TCP prototype
// ---------------------------------------------------------------------------
//
// Script surface:
//
//	var server = new TCP(port, function(socket, event, connectionId, data) { ... });
//	socket.send(connectionId, data);
//	socket.disconnect(connectionId);
//
// Events are TCP.Connected, TCP.Disconnected, TCP.ReceivedData and
// TCP.SentData, delivered in source order per connection. The callback is
// pinned for the socket's lifetime so it survives collection while the
// listener is active.

// TCP event codes, exposed as properties of the TCP prototype.
const (
	tcpEventConnected    = 0
	tcpEventDisconnected = 1
	tcpEventReceivedData = 2
	tcpEventSentData     = 3
)

// tcpMaxConnections bounds concurrent connections per socket.
const tcpMaxConnections = 8

type tcpObject struct {
	MaterObject

	selfID   ObjectID
	callback Value
	task     *Task

	mu       sync.Mutex
	listener net.Listener
	conns    map[int]net.Conn
	nextConn int
	closed   bool
}

func (o *tcpObject) TypeName() string { return "native" }

func (o *tcpObject) ForEachRef(fn func(Value)) {
	fn(o.callback)
	o.MaterObject.ForEachRef(fn)
}

func registerTCPProto(p *Program) {
	NewObjectFactory(p, AtomTCP, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: tcpConstruct},
		{Atom: AtomSend, Kind: DescFunction, Fn: tcpSend},
		{Atom: AtomDisconnect, Kind: DescFunction, Fn: tcpDisconnect},
		{Atom: p.AtomizeString("Connected"), Kind: DescProperty, Value: IntValue(tcpEventConnected)},
		{Atom: p.AtomizeString("Disconnected"), Kind: DescProperty, Value: IntValue(tcpEventDisconnected)},
		{Atom: p.AtomizeString("ReceivedData"), Kind: DescProperty, Value: IntValue(tcpEventReceivedData)},
		{Atom: p.AtomizeString("SentData"), Kind: DescProperty, Value: IntValue(tcpEventSentData)},
	})
}

func tcpConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 2 {
		return Error(ErrWrongNumberOfParams)
	}
	port, ok := eu.ToIntValue(eu.Arg(0, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	callback := eu.Arg(1, nparams)
	task := eu.Task()
	if task == nil {
		return Error(ErrIO)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return Error(ErrIO)
	}

	sock := &tcpObject{
		callback: callback,
		task:     task,
		listener: ln,
		conns:    make(map[int]net.Conn),
	}
	// Seed the method surface from the class instance.
	if inst := eu.Heap().ObjectOf(this); inst != nil {
		for i := 0; i < inst.PropertyCount(); i++ {
			sock.SetProperty(inst.PropertyAtomAt(i), inst.PropertyAt(i))
		}
	}
	sock.selfID = eu.Heap().AllocObject(sock, true)

	// Pin the socket (and through it the callback) while listening.
	task.Pin(sock.selfID)

	go sock.acceptLoop()

	eu.Push(ObjectValue(sock.selfID))
	return ReturnCount(1)
}

func (o *tcpObject) acceptLoop() {
	for {
		conn, err := o.listener.Accept()
		if err != nil {
			return
		}
		o.mu.Lock()
		if o.closed || len(o.conns) >= tcpMaxConnections {
			o.mu.Unlock()
			conn.Close()
			continue
		}
		id := o.nextConn
		o.nextConn++
		o.conns[id] = conn
		o.mu.Unlock()

		o.post(tcpEventConnected, id, nil)
		go o.readLoop(id, conn)
	}
}

func (o *tcpObject) readLoop(id int, conn net.Conn) {
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			o.post(tcpEventReceivedData, id, data)
		}
		if err != nil {
			o.mu.Lock()
			delete(o.conns, id)
			o.mu.Unlock()
			o.post(tcpEventDisconnected, id, nil)
			return
		}
	}
}

// post enqueues one delegate event; the argument vector is built on the
// run loop goroutine because string allocation touches the heap.
func (o *tcpObject) post(event, connID int, data []byte) {
	self := ObjectValue(o.selfID)
	o.task.Loop().PostEvent(&Event{
		Task: o.task,
		Fn:   o.callback,
		This: self,
		Prepare: func(eu *ExecutionUnit) []Value {
			dv := Undefined
			if data != nil {
				dv = eu.Heap().AllocStringValue(string(data))
			}
			return []Value{self, IntValue(int32(event)), IntValue(int32(connID)), dv}
		},
	})
}

func asTCP(eu *ExecutionUnit, this Value) *tcpObject {
	o, _ := eu.Heap().ObjectOf(this).(*tcpObject)
	return o
}

func tcpSend(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	o := asTCP(eu, this)
	if o == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if nparams < 2 {
		return Error(ErrWrongNumberOfParams)
	}
	id, ok := eu.ToIntValue(eu.Arg(0, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	data := eu.ToStringValue(eu.Arg(1, nparams))

	o.mu.Lock()
	conn := o.conns[int(id)]
	o.mu.Unlock()
	if conn == nil {
		return Error(ErrOutOfRange)
	}
	if _, err := conn.Write([]byte(data)); err != nil {
		return Error(ErrIO)
	}
	o.post(tcpEventSentData, int(id), nil)
	return ReturnCount(0)
}

func tcpDisconnect(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	o := asTCP(eu, this)
	if o == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	o.mu.Lock()
	if nparams >= 1 {
		id, _ := eu.ToIntValue(eu.Arg(0, nparams))
		if conn := o.conns[int(id)]; conn != nil {
			conn.Close()
			delete(o.conns, int(id))
		}
		o.mu.Unlock()
		return ReturnCount(0)
	}
	// No connection id: shut the whole socket down.
	o.closed = true
	for id, conn := range o.conns {
		conn.Close()
		delete(o.conns, id)
	}
	ln := o.listener
	o.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
	o.task.Unpin(o.selfID)
	return ReturnCount(0)
}
