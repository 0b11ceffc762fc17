package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// ImageReader
// ---------------------------------------------------------------------------

// ImageReader reconstructs a program's root function from its persisted
// form. Atom ids above the well-known range are re-interned and every
// reference to them (code operands, local tables, property keys, constant
// atoms) is remapped into the running table.
type ImageReader struct {
	program *Program
	data    []byte
	pos     int

	strings []StringID
	atomMap map[Atom]Atom
	objects []ObjectID
}

// NewImageReader creates a reader over image bytes, loading into program.
func NewImageReader(p *Program, data []byte) *ImageReader {
	return &ImageReader{program: p, data: data, atomMap: make(map[Atom]Atom)}
}

// Read parses the image and returns the root function's handle.
func (r *ImageReader) Read() (ObjectID, error) {
	var magic [4]byte
	if err := r.bytes(magic[:]); err != nil {
		return 0, err
	}
	if magic != ImageMagic {
		return 0, fmt.Errorf("image: bad magic")
	}
	version, err := r.u32()
	if err != nil {
		return 0, err
	}
	if version != ImageVersion {
		return 0, fmt.Errorf("image: unsupported version %d", version)
	}
	endian, err := r.u8()
	if err != nil {
		return 0, err
	}
	if endian != imageEndianLittle {
		return 0, fmt.Errorf("image: unsupported endianness")
	}

	// String literal pool.
	strCount, err := r.u32()
	if err != nil {
		return 0, err
	}
	r.strings = make([]StringID, strCount)
	for i := range r.strings {
		s, err := r.str()
		if err != nil {
			return 0, err
		}
		r.strings[i] = r.program.AddStringLiteral(s)
	}

	// Atom pool: intern in id order to build the remap.
	atomCount, err := r.u32()
	if err != nil {
		return 0, err
	}
	for i := uint32(0); i < atomCount; i++ {
		name, err := r.str()
		if err != nil {
			return 0, err
		}
		old := Atom(uint32(WellKnownCount()) + i)
		r.atomMap[old] = r.program.AtomizeString(name)
	}

	// Object table: allocate placeholders first so forward references
	// resolve, then fill.
	objCount, err := r.u32()
	if err != nil {
		return 0, err
	}
	entries := make([]byte, objCount)
	r.objects = make([]ObjectID, objCount)
	bodies := make([]int, objCount)
	for i := uint32(0); i < objCount; i++ {
		kind, err := r.u8()
		if err != nil {
			return 0, err
		}
		entries[i] = kind
		bodies[i] = r.pos
		switch kind {
		case imgObjFunction:
			r.objects[i] = r.program.Heap().AllocObject(NewFunction(false), true)
			if err := r.skipFunction(); err != nil {
				return 0, err
			}
		case imgObjMater:
			r.objects[i] = r.program.Heap().AllocObject(NewMaterObject(), true)
			if err := r.skipMater(); err != nil {
				return 0, err
			}
		default:
			return 0, fmt.Errorf("image: unknown object kind %d", kind)
		}
	}
	end := r.pos
	for i := uint32(0); i < objCount; i++ {
		r.pos = bodies[i]
		if err := r.fillObject(entries[i], r.objects[i]); err != nil {
			return 0, err
		}
	}
	r.pos = end

	rootIdx, err := r.u32()
	if err != nil {
		return 0, err
	}
	if rootIdx >= objCount {
		return 0, fmt.Errorf("image: root index out of range")
	}
	return r.objects[rootIdx], nil
}

// mapAtom rebinds a persisted atom id into the running table.
func (r *ImageReader) mapAtom(a Atom) Atom {
	if a == NoAtom || int(a) < WellKnownCount() {
		return a
	}
	if mapped, ok := r.atomMap[a]; ok {
		return mapped
	}
	return a
}

// ---------------------------------------------------------------------------
// Object bodies
// ---------------------------------------------------------------------------

func (r *ImageReader) skipFunction() error {
	if _, err := r.u16(); err != nil { // param count
		return err
	}
	localCount, err := r.u16()
	if err != nil {
		return err
	}
	r.pos += int(localCount) * 2
	if _, err := r.u16(); err != nil { // temp count
		return err
	}
	if _, err := r.u8(); err != nil { // ctor flag
		return err
	}
	if _, err := r.u16(); err != nil { // name
		return err
	}
	constCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(constCount); i++ {
		if _, err := r.value(); err != nil {
			return err
		}
	}
	propCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(propCount); i++ {
		if _, err := r.u16(); err != nil {
			return err
		}
		if _, err := r.value(); err != nil {
			return err
		}
	}
	codeLen, err := r.u32()
	if err != nil {
		return err
	}
	r.pos += int(codeLen)
	if r.pos > len(r.data) {
		return fmt.Errorf("image: truncated code")
	}
	return nil
}

func (r *ImageReader) skipMater() error {
	if _, err := r.u8(); err != nil { // array flag
		return err
	}
	propCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(propCount); i++ {
		if _, err := r.u16(); err != nil {
			return err
		}
		if _, err := r.value(); err != nil {
			return err
		}
	}
	eltCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(eltCount); i++ {
		if _, err := r.value(); err != nil {
			return err
		}
	}
	return nil
}

func (r *ImageReader) fillObject(kind byte, id ObjectID) error {
	switch kind {
	case imgObjFunction:
		return r.fillFunction(id)
	case imgObjMater:
		return r.fillMater(id)
	}
	return fmt.Errorf("image: unknown object kind %d", kind)
}

func (r *ImageReader) fillFunction(id ObjectID) error {
	fn := r.program.Heap().Object(id).(*Function)
	paramCount, err := r.u16()
	if err != nil {
		return err
	}
	localCount, err := r.u16()
	if err != nil {
		return err
	}
	if paramCount == 0 {
		fn.MarkParamEnd()
	}
	for i := 0; i < int(localCount); i++ {
		raw, err := r.u16()
		if err != nil {
			return err
		}
		fn.AddLocal(r.mapAtom(Atom(raw)))
		if i+1 == int(paramCount) {
			fn.MarkParamEnd()
		}
	}
	tempCount, err := r.u16()
	if err != nil {
		return err
	}
	fn.SetTempCount(int(tempCount))
	ctorFlag, err := r.u8()
	if err != nil {
		return err
	}
	fn.isCtor = ctorFlag != 0
	nameRaw, err := r.u16()
	if err != nil {
		return err
	}
	fn.SetName(r.mapAtom(Atom(nameRaw)))
	constCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(constCount); i++ {
		v, err := r.value()
		if err != nil {
			return err
		}
		// Append directly: pool order must match the persisted indices.
		fn.constants = append(fn.constants, v)
	}
	propCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(propCount); i++ {
		raw, err := r.u16()
		if err != nil {
			return err
		}
		v, err := r.value()
		if err != nil {
			return err
		}
		fn.SetProperty(r.mapAtom(Atom(raw)), v)
	}
	codeLen, err := r.u32()
	if err != nil {
		return err
	}
	if r.pos+int(codeLen) > len(r.data) {
		return fmt.Errorf("image: truncated code")
	}
	code := make([]byte, codeLen)
	copy(code, r.data[r.pos:r.pos+int(codeLen)])
	r.pos += int(codeLen)
	r.remapCode(code)
	fn.SetCode(code)
	return nil
}

func (r *ImageReader) fillMater(id ObjectID) error {
	obj := r.program.Heap().Object(id).(*MaterObject)
	arrayFlag, err := r.u8()
	if err != nil {
		return err
	}
	if arrayFlag != 0 {
		obj.array = true
	}
	propCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(propCount); i++ {
		raw, err := r.u16()
		if err != nil {
			return err
		}
		v, err := r.value()
		if err != nil {
			return err
		}
		obj.SetProperty(r.mapAtom(Atom(raw)), v)
	}
	eltCount, err := r.u16()
	if err != nil {
		return err
	}
	for i := 0; i < int(eltCount); i++ {
		v, err := r.value()
		if err != nil {
			return err
		}
		obj.AppendElement(v)
	}
	return nil
}

// remapCode rebinds PUSHID operands through the atom map.
func (r *ImageReader) remapCode(code []byte) {
	for ip := 0; ip < len(code); {
		op := Opcode(code[ip])
		info := op.Info()
		if op == OpPUSHID && ip+2 < len(code) {
			a := Atom(binary.LittleEndian.Uint16(code[ip+1:]))
			binary.LittleEndian.PutUint16(code[ip+1:], uint16(r.mapAtom(a)))
		}
		ip += 1 + info.OperandBytes
	}
}

// ---------------------------------------------------------------------------
// Primitive decoding
// ---------------------------------------------------------------------------

func (r *ImageReader) value() (Value, error) {
	tag, err := r.u8()
	if err != nil {
		return Undefined, err
	}
	switch tag {
	case imgValUndefined:
		return Undefined, nil
	case imgValNull:
		return Null, nil
	case imgValTrue:
		return True, nil
	case imgValFalse:
		return False, nil
	case imgValInt:
		v, err := r.u32()
		return IntValue(int32(v)), err
	case imgValFloat:
		v, err := r.u64()
		return FloatValue(math.Float64frombits(v)), err
	case imgValAtom:
		v, err := r.u16()
		return AtomValue(r.mapAtom(Atom(v))), err
	case imgValString:
		idx, err := r.u32()
		if err != nil {
			return Undefined, err
		}
		if int(idx) >= len(r.strings) {
			return Undefined, fmt.Errorf("image: string index out of range")
		}
		return StringValue(r.strings[idx]), nil
	case imgValObject:
		idx, err := r.u32()
		if err != nil {
			return Undefined, err
		}
		if int(idx) >= len(r.objects) {
			return Undefined, fmt.Errorf("image: object index out of range")
		}
		return ObjectValue(r.objects[idx]), nil
	default:
		return Undefined, fmt.Errorf("image: unknown value tag %d", tag)
	}
}

func (r *ImageReader) bytes(buf []byte) error {
	if r.pos+len(buf) > len(r.data) {
		return fmt.Errorf("image: truncated")
	}
	copy(buf, r.data[r.pos:r.pos+len(buf)])
	r.pos += len(buf)
	return nil
}

func (r *ImageReader) u8() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("image: truncated")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *ImageReader) u16() (uint16, error) {
	if r.pos+2 > len(r.data) {
		return 0, fmt.Errorf("image: truncated")
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *ImageReader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("image: truncated")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *ImageReader) u64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("image: truncated")
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *ImageReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if r.pos+int(n) > len(r.data) {
		return "", fmt.Errorf("image: truncated string")
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}
