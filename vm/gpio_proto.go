package vm

import "sync"

// ---------------------------------------------------------------------------
// GPIO prototype
// ---------------------------------------------------------------------------
//
// Script surface:
//
//	GPIO.setPinMode(pin, GPIO.Output);
//	GPIO.digitalWrite(pin, true);
//	var v = GPIO.digitalRead(pin);
//
// The pin backend is host-provided; the default is an in-memory simulation
// so scripts run unchanged off-device.

// Pin modes exposed on the prototype.
const (
	gpioModeInput  = 0
	gpioModeOutput = 1
)

// PinBackend is the host hook behind the GPIO prototype.
type PinBackend interface {
	SetPinMode(pin, mode int)
	DigitalWrite(pin int, value bool)
	DigitalRead(pin int) bool
}

// memoryPins is the default simulated backend.
type memoryPins struct {
	mu     sync.Mutex
	values map[int]bool
}

func (m *memoryPins) SetPinMode(pin, mode int) {}

func (m *memoryPins) DigitalWrite(pin int, value bool) {
	m.mu.Lock()
	m.values[pin] = value
	m.mu.Unlock()
}

func (m *memoryPins) DigitalRead(pin int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[pin]
}

// Pins is the active backend; embedded hosts replace it at startup.
var Pins PinBackend = &memoryPins{values: make(map[int]bool)}

func registerGPIOProto(p *Program) {
	NewObjectFactory(p, AtomGPIO, []PropDesc{
		{Atom: AtomSetPinMode, Kind: DescFunction, Fn: gpioSetPinMode},
		{Atom: AtomDigitalWrite, Kind: DescFunction, Fn: gpioDigitalWrite},
		{Atom: AtomDigitalRead, Kind: DescFunction, Fn: gpioDigitalRead},
		{Atom: p.AtomizeString("Input"), Kind: DescProperty, Value: IntValue(gpioModeInput)},
		{Atom: p.AtomizeString("Output"), Kind: DescProperty, Value: IntValue(gpioModeOutput)},
	})
}

func gpioSetPinMode(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 2 {
		return Error(ErrWrongNumberOfParams)
	}
	pin, ok1 := eu.ToIntValue(eu.Arg(0, nparams))
	mode, ok2 := eu.ToIntValue(eu.Arg(1, nparams))
	if !ok1 || !ok2 {
		return Error(ErrCannotConvertStringToNumber)
	}
	Pins.SetPinMode(int(pin), int(mode))
	return ReturnCount(0)
}

func gpioDigitalWrite(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 2 {
		return Error(ErrWrongNumberOfParams)
	}
	pin, ok := eu.ToIntValue(eu.Arg(0, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	Pins.DigitalWrite(int(pin), eu.Truthy(eu.Arg(1, nparams)))
	return ReturnCount(0)
}

func gpioDigitalRead(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	pin, ok := eu.ToIntValue(eu.Arg(0, nparams))
	if !ok {
		return Error(ErrCannotConvertStringToNumber)
	}
	eu.Push(BoolValue(Pins.DigitalRead(int(pin))))
	return ReturnCount(1)
}
