package vm

import (
	"fmt"
	"net"
	"sync"
)

// ---------------------------------------------------------------------------
// UDP prototype
// ---------------------------------------------------------------------------
//
// Script surface:
//
//	var sock = new UDP(port, function(socket, event, data) { ... });
//	sock.send(ip, port, data);
//	sock.disconnect();
//
// Events are UDP.ReceivedData and UDP.SentData.

const (
	udpEventReceivedData = 0
	udpEventSentData     = 1
)

type udpObject struct {
	MaterObject

	selfID   ObjectID
	callback Value
	task     *Task

	mu     sync.Mutex
	conn   *net.UDPConn
	closed bool
}

func (o *udpObject) TypeName() string { return "native" }

func (o *udpObject) ForEachRef(fn func(Value)) {
	fn(o.callback)
	o.MaterObject.ForEachRef(fn)
}

func registerUDPProto(p *Program) {
	NewObjectFactory(p, AtomUDP, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: udpConstruct},
		{Atom: AtomSend, Kind: DescFunction, Fn: udpSend},
		{Atom: AtomDisconnect, Kind: DescFunction, Fn: udpDisconnect},
		{Atom: p.AtomizeString("ReceivedData"), Kind: DescProperty, Value: IntValue(udpEventReceivedData)},
		{Atom: p.AtomizeString("SentData"), Kind: DescProperty, Value: IntValue(udpEventSentData)},
	})
}

func udpConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
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

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return Error(ErrIO)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return Error(ErrIO)
	}

	sock := &udpObject{callback: callback, task: task, conn: conn}
	if inst := eu.Heap().ObjectOf(this); inst != nil {
		for i := 0; i < inst.PropertyCount(); i++ {
			sock.SetProperty(inst.PropertyAtomAt(i), inst.PropertyAt(i))
		}
	}
	sock.selfID = eu.Heap().AllocObject(sock, true)
	task.Pin(sock.selfID)

	go sock.readLoop()

	eu.Push(ObjectValue(sock.selfID))
	return ReturnCount(1)
}

func (o *udpObject) readLoop() {
	buf := make([]byte, 1500)
	for {
		n, _, err := o.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		o.post(udpEventReceivedData, data)
	}
}

func (o *udpObject) post(event int, data []byte) {
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
			return []Value{self, IntValue(int32(event)), dv}
		},
	})
}

func asUDP(eu *ExecutionUnit, this Value) *udpObject {
	o, _ := eu.Heap().ObjectOf(this).(*udpObject)
	return o
}

func udpSend(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	o := asUDP(eu, this)
	if o == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	if nparams < 3 {
		return Error(ErrWrongNumberOfParams)
	}
	host := eu.ToStringValue(eu.Arg(0, nparams))
	port, ok := eu.ToIntValue(eu.Arg(1, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	data := eu.ToStringValue(eu.Arg(2, nparams))

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return Error(ErrIO)
	}
	if _, err := o.conn.WriteToUDP([]byte(data), addr); err != nil {
		return Error(ErrIO)
	}
	o.post(udpEventSentData, nil)
	return ReturnCount(0)
}

func udpDisconnect(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	o := asUDP(eu, this)
	if o == nil {
		return Error(ErrPropertyDoesNotExist)
	}
	o.mu.Lock()
	closed := o.closed
	o.closed = true
	o.mu.Unlock()
	if !closed {
		o.conn.Close()
		o.task.Unpin(o.selfID)
	}
	return ReturnCount(0)
}
