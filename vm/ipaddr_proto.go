package vm

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// IPAddr prototype
// ---------------------------------------------------------------------------
//
// An IPAddr instance is an array-mode object with four integer elements.
// The static lookupHostname(name, callback) resolves asynchronously: the
// callback is pinned, resolution runs off-loop, and the result arrives as
// an event carrying (name, IPAddr).

// LookupHostFn resolves a hostname to an IPv4 address. Tests and embedded
// hosts without DNS replace it.
var LookupHostFn = func(host string) ([4]byte, error) {
	ips, err := net.LookupIP(host)
	if err != nil {
		return [4]byte{}, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return [4]byte{v4[0], v4[1], v4[2], v4[3]}, nil
		}
	}
	return [4]byte{}, fmt.Errorf("no IPv4 address for %q", host)
}

func registerIPAddrProto(p *Program) {
	NewObjectFactory(p, AtomIPAddr, []PropDesc{
		{Atom: AtomConstructor, Kind: DescFunction, Fn: ipaddrConstruct},
		{Atom: AtomToString, Kind: DescFunction, Fn: ipaddrToString},
		{Atom: AtomLookupHostname, Kind: DescFunction, Fn: ipaddrLookupHostname},
	})
}

// newIPAddrInstance builds an instance with the IPAddr method surface and
// the four octet elements.
func newIPAddrInstance(eu *ExecutionUnit, octets [4]byte) Value {
	inst := NewArrayObject()
	if proto, ok := eu.Program().Global(AtomIPAddr); ok {
		if po := eu.Heap().ObjectOf(proto); po != nil {
			for i := 0; i < po.PropertyCount(); i++ {
				inst.SetProperty(po.PropertyAtomAt(i), po.PropertyAt(i))
			}
		}
	}
	for _, o := range octets {
		inst.AppendElement(IntValue(int32(o)))
	}
	return eu.Heap().AllocObjectValue(inst, true)
}

// ipaddrConstruct accepts IPAddr("a.b.c.d") or IPAddr(a, b, c, d).
func ipaddrConstruct(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	var octets [4]byte
	switch {
	case nparams >= 4:
		for i := 0; i < 4; i++ {
			n, ok := eu.ToIntValue(eu.Arg(i, nparams))
			if !ok || n < 0 || n > 255 {
				return Error(ErrOutOfRange)
			}
			octets[i] = byte(n)
		}
	case nparams == 1:
		parts := strings.Split(eu.ToStringValue(eu.Arg(0, nparams)), ".")
		if len(parts) != 4 {
			return Error(ErrOutOfRange)
		}
		for i, part := range parts {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n > 255 {
				return Error(ErrOutOfRange)
			}
			octets[i] = byte(n)
		}
	default:
		return Error(ErrWrongNumberOfParams)
	}
	eu.Push(newIPAddrInstance(eu, octets))
	return ReturnCount(1)
}

func ipaddrToString(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	obj := eu.Heap().ObjectOf(this)
	if obj == nil || obj.ElementCount() < 4 {
		return Error(ErrPropertyDoesNotExist)
	}
	parts := make([]string, 4)
	for i := 0; i < 4; i++ {
		e, _ := obj.Element(i)
		n, _ := eu.ToIntValue(e)
		parts[i] = strconv.Itoa(int(n))
	}
	eu.Push(eu.Heap().AllocStringValue(strings.Join(parts, ".")))
	return ReturnCount(1)
}

// ipaddrLookupHostname starts an asynchronous resolution. The callback is
// pinned until its event fires; the task keeps listening until then.
func ipaddrLookupHostname(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 2 {
		return Error(ErrWrongNumberOfParams)
	}
	host := eu.ToStringValue(eu.Arg(0, nparams))
	callback := eu.Arg(1, nparams)
	task := eu.Task()
	if task == nil {
		return Error(ErrIO)
	}

	var pinned []ObjectID
	if callback.IsObject() {
		task.Pin(callback.ObjectID())
		pinned = append(pinned, callback.ObjectID())
	}

	go func() {
		octets, err := LookupHostFn(host)
		task.Loop().PostEvent(&Event{
			Task:  task,
			Fn:    callback,
			This:  Undefined,
			Unpin: pinned,
			Prepare: func(eu *ExecutionUnit) []Value {
				name := eu.Heap().AllocStringValue(host)
				if err != nil {
					return []Value{name, Null}
				}
				return []Value{name, newIPAddrInstance(eu, octets)}
			},
		})
	}()
	return ReturnCount(0)
}
