package vm

// ---------------------------------------------------------------------------
// CallReturnValue: how calls and whole executions report their outcome
// ---------------------------------------------------------------------------

// ErrorCode enumerates the runtime and parse error taxonomy. Script code has
// no exceptions; an error unwinds the current task's call chain.
type ErrorCode int

const (
	ErrNone ErrorCode = iota

	// Parse/lex errors.
	ErrExpected
	ErrMissingVarDecl
	ErrOneVarDeclAllowed
	ErrDuplicateDefault
	ErrConstantValueRequired
	ErrPropertyAssignment
	ErrSyntax

	// Type/conversion errors.
	ErrCannotConvertStringToNumber
	ErrWrongNumberOfParams
	ErrOutOfRange
	ErrNotCallable
	ErrPropertyDoesNotExist
	ErrBadFormatString

	// Resource errors.
	ErrOutOfMemory
	ErrCannotCreateArgumentsArray

	// Host errors.
	ErrIO
)

var errorCodeNames = map[ErrorCode]string{
	ErrNone:                        "no error",
	ErrExpected:                    "expected token",
	ErrMissingVarDecl:              "missing var declaration",
	ErrOneVarDeclAllowed:           "only one var declaration allowed",
	ErrDuplicateDefault:            "duplicate default",
	ErrConstantValueRequired:       "constant value required",
	ErrPropertyAssignment:          "property assignment expected",
	ErrSyntax:                      "syntax error",
	ErrCannotConvertStringToNumber: "cannot convert string to number",
	ErrWrongNumberOfParams:         "wrong number of parameters",
	ErrOutOfRange:                  "value out of range",
	ErrNotCallable:                 "value is not callable",
	ErrPropertyDoesNotExist:        "property does not exist",
	ErrBadFormatString:             "bad format string",
	ErrOutOfMemory:                 "out of memory",
	ErrCannotCreateArgumentsArray:  "cannot create arguments array",
	ErrIO:                          "i/o error",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeNames[e]; ok {
		return s
	}
	return "unknown error"
}

// CallReturnType classifies the non-error outcomes of a call or execution.
type CallReturnType int

const (
	// CallReturned: the call completed and left Count() values on the stack.
	CallReturned CallReturnType = iota
	// CallDelay: the task must sleep for Delay() before resuming.
	CallDelay
	// CallWaitForEvent: the task must sleep until an event is delivered.
	CallWaitForEvent
	// CallFinished: the task's program ran to completion.
	CallFinished
	// CallTerminated: the task was cancelled externally.
	CallTerminated
	// CallError: the call failed; ErrorCode() identifies the failure.
	CallError
)

// CallReturnValue is the outcome of a native call or of ExecutionUnit
// execution: a return count, a suspension reason, a completion marker, or
// an error. Suspension reasons propagate out of Execute to the run loop,
// which resumes the task when the condition is met.
type CallReturnValue struct {
	typ CallReturnType
	n   int32
	err ErrorCode
}

// ReturnCount reports a successful call that left n values on the stack.
// n must be 0 or 1.
func ReturnCount(n int) CallReturnValue {
	return CallReturnValue{typ: CallReturned, n: int32(n)}
}

// MsDelay reports that the task must sleep ms milliseconds.
func MsDelay(ms int32) CallReturnValue {
	return CallReturnValue{typ: CallDelay, n: ms}
}

// WaitForEvent reports that the task must sleep until an event arrives.
func WaitForEvent() CallReturnValue {
	return CallReturnValue{typ: CallWaitForEvent}
}

// Finished reports normal completion of the whole program.
func Finished() CallReturnValue {
	return CallReturnValue{typ: CallFinished}
}

// Terminated reports external cancellation.
func Terminated() CallReturnValue {
	return CallReturnValue{typ: CallTerminated}
}

// Error reports a failed call.
func Error(code ErrorCode) CallReturnValue {
	return CallReturnValue{typ: CallError, err: code}
}

func (r CallReturnValue) Type() CallReturnType { return r.typ }
func (r CallReturnValue) IsReturn() bool       { return r.typ == CallReturned }
func (r CallReturnValue) IsError() bool        { return r.typ == CallError }

// Count returns the number of returned values for CallReturned results.
func (r CallReturnValue) Count() int { return int(r.n) }

// Delay returns the requested sleep for CallDelay results.
func (r CallReturnValue) Delay() Duration { return DurationFromMs(r.n) }

// ErrorCode returns the failure for CallError results, ErrNone otherwise.
func (r CallReturnValue) ErrorCode() ErrorCode { return r.err }
