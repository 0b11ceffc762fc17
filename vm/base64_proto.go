package vm

import "encoding/base64"

// ---------------------------------------------------------------------------
// Base64 prototype
// ---------------------------------------------------------------------------

func registerBase64Proto(p *Program) {
	NewObjectFactory(p, AtomBase64, []PropDesc{
		{Atom: AtomEncode, Kind: DescFunction, Fn: base64Encode},
		{Atom: AtomDecode, Kind: DescFunction, Fn: base64Decode},
	})
}

func base64Encode(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	s := eu.ToStringValue(eu.Arg(0, nparams))
	eu.Push(eu.Heap().AllocStringValue(base64.StdEncoding.EncodeToString([]byte(s))))
	return ReturnCount(1)
}

func base64Decode(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	s := eu.ToStringValue(eu.Arg(0, nparams))
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Error(ErrOutOfRange)
	}
	eu.Push(eu.Heap().AllocStringValue(string(decoded)))
	return ReturnCount(1)
}
