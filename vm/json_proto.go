package vm

import (
	"encoding/json"
	"math"
)

// ---------------------------------------------------------------------------
// JSON prototype
// ---------------------------------------------------------------------------
//
// JSON.parse(text) and JSON.stringify(value) bridge between script values
// and JSON documents. Object key order follows the document on parse and
// insertion order on stringify.

func registerJSONProto(p *Program) {
	NewObjectFactory(p, AtomJSON, []PropDesc{
		{Atom: AtomParse, Kind: DescFunction, Fn: jsonParse},
		{Atom: AtomStringify, Kind: DescFunction, Fn: jsonStringify},
	})
}

func jsonParse(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	text := eu.ToStringValue(eu.Arg(0, nparams))
	var doc interface{}
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return Error(ErrSyntax)
	}
	eu.Push(jsonToValue(eu, doc))
	return ReturnCount(1)
}

func jsonToValue(eu *ExecutionUnit, doc interface{}) Value {
	switch d := doc.(type) {
	case nil:
		return Null
	case bool:
		return BoolValue(d)
	case float64:
		if d == math.Trunc(d) && d >= math.MinInt32 && d <= math.MaxInt32 {
			return IntValue(int32(d))
		}
		return FloatValue(d)
	case string:
		return eu.Heap().AllocStringValue(d)
	case []interface{}:
		arr := NewArrayObject()
		for _, e := range d {
			arr.AppendElement(jsonToValue(eu, e))
		}
		return eu.Heap().AllocObjectValue(arr, true)
	case map[string]interface{}:
		obj := NewMaterObject()
		for k, v := range d {
			obj.SetProperty(eu.Program().AtomizeString(k), jsonToValue(eu, v))
		}
		return eu.Heap().AllocObjectValue(obj, true)
	default:
		return Undefined
	}
}

func jsonStringify(eu *ExecutionUnit, this Value, nparams int) CallReturnValue {
	if nparams < 1 {
		return Error(ErrWrongNumberOfParams)
	}
	doc, ok := valueToJSON(eu, eu.Arg(0, nparams), 0)
	if !ok {
		return Error(ErrOutOfRange)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return Error(ErrOutOfRange)
	}
	eu.Push(eu.Heap().AllocStringValue(string(encoded)))
	return ReturnCount(1)
}

// jsonMaxDepth bounds recursion so cyclic graphs fail instead of hanging.
const jsonMaxDepth = 32

func valueToJSON(eu *ExecutionUnit, v Value, depth int) (interface{}, bool) {
	if depth > jsonMaxDepth {
		return nil, false
	}
	v = eu.unbox(v)
	switch {
	case v == Undefined || v == Null:
		return nil, true
	case v == True:
		return true, true
	case v == False:
		return false, true
	case v.IsInt():
		return v.Int32(), true
	case v.IsFloat():
		return v.Float64(), true
	case v.IsString():
		return eu.Heap().String(v.StringID()), true
	case v.IsObject():
		obj := eu.Heap().ObjectOf(v)
		if obj == nil {
			return nil, true
		}
		if obj.IsArray() || obj.ElementCount() > 0 {
			arr := make([]interface{}, obj.ElementCount())
			for i := range arr {
				e, _ := obj.Element(i)
				d, ok := valueToJSON(eu, e, depth+1)
				if !ok {
					return nil, false
				}
				arr[i] = d
			}
			return arr, true
		}
		m := make(map[string]interface{}, obj.PropertyCount())
		for i := 0; i < obj.PropertyCount(); i++ {
			d, ok := valueToJSON(eu, obj.PropertyAt(i), depth+1)
			if !ok {
				return nil, false
			}
			m[eu.Program().Atoms().Resolve(obj.PropertyAtomAt(i))] = d
		}
		return m, true
	default:
		return nil, false
	}
}
