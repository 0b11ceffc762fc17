package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Image format constants
// ---------------------------------------------------------------------------

// ImageMagic identifies a persisted bytecode image.
var ImageMagic = [4]byte{'m', '8', 'r', 0}

// ImageVersion is the current format version.
const ImageVersion uint32 = 1

// imageEndianLittle is the only endianness this implementation writes.
const imageEndianLittle byte = 0

// Value tags in the serialized constant stream.
const (
	imgValUndefined byte = 0
	imgValNull      byte = 1
	imgValTrue      byte = 2
	imgValFalse     byte = 3
	imgValInt       byte = 4
	imgValFloat     byte = 5
	imgValAtom      byte = 6
	imgValString    byte = 7
	imgValObject    byte = 8
)

// Object table entry kinds.
const (
	imgObjFunction byte = 0
	imgObjMater    byte = 1
)

// ---------------------------------------------------------------------------
// ImageWriter
// ---------------------------------------------------------------------------

// ImageWriter serializes a program's root function and everything it
// reaches into the persisted layout: header, string literal pool, atom
// pool, object table, root index. String handles are written as pool
// indices; atom ids above the well-known range are rebound on read
// through the atom pool's id order.
type ImageWriter struct {
	program *Program
	buf     bytes.Buffer

	strings   []string
	stringIdx map[StringID]uint32

	objects   []ObjectID
	objectIdx map[ObjectID]uint32
}

// NewImageWriter creates a writer for a program.
func NewImageWriter(p *Program) *ImageWriter {
	return &ImageWriter{
		program:   p,
		stringIdx: make(map[StringID]uint32),
		objectIdx: make(map[ObjectID]uint32),
	}
}

// Write serializes the program to its persisted form.
func (w *ImageWriter) Write() ([]byte, error) {
	rootID := w.program.MainID()
	if w.program.Main() == nil {
		return nil, fmt.Errorf("image: program has no root function")
	}
	w.collectObject(rootID)

	// Header.
	w.buf.Write(ImageMagic[:])
	w.u32(ImageVersion)
	w.buf.WriteByte(imageEndianLittle)

	// String literal pool.
	w.u32(uint32(len(w.strings)))
	for _, s := range w.strings {
		w.u32(uint32(len(s)))
		w.buf.WriteString(s)
	}

	// Atom pool: every interned name above the well-known range.
	names := w.program.Atoms().InternedNames()
	w.u32(uint32(len(names)))
	for _, name := range names {
		w.u32(uint32(len(name)))
		w.buf.WriteString(name)
	}

	// Object table.
	w.u32(uint32(len(w.objects)))
	for _, id := range w.objects {
		if err := w.writeObject(id); err != nil {
			return nil, err
		}
	}

	// Root function index.
	w.u32(w.objectIdx[rootID])

	return w.buf.Bytes(), nil
}

// collectObject walks the object graph, assigning table indices in
// discovery order. Only functions and plain objects persist; handles to
// anything else (natives, sockets) fail the write.
func (w *ImageWriter) collectObject(id ObjectID) {
	if _, ok := w.objectIdx[id]; ok || id == 0 {
		return
	}
	obj := w.program.Heap().Object(id)
	if obj == nil {
		return
	}
	w.objectIdx[id] = uint32(len(w.objects))
	w.objects = append(w.objects, id)
	obj.ForEachRef(func(v Value) {
		switch {
		case v.IsObject():
			w.collectObject(v.ObjectID())
		case v.IsString():
			w.collectString(v.StringID())
		}
	})
}

func (w *ImageWriter) collectString(id StringID) {
	if _, ok := w.stringIdx[id]; ok {
		return
	}
	w.stringIdx[id] = uint32(len(w.strings))
	w.strings = append(w.strings, w.program.Heap().String(id))
}

func (w *ImageWriter) writeObject(id ObjectID) error {
	obj := w.program.Heap().Object(id)
	switch o := obj.(type) {
	case *Function:
		w.buf.WriteByte(imgObjFunction)
		w.u16(uint16(o.ParamCount()))
		w.u16(uint16(o.LocalCount()))
		for _, a := range o.Locals() {
			w.atom(a)
		}
		w.u16(uint16(o.TempCount()))
		if o.IsCtor() {
			w.buf.WriteByte(1)
		} else {
			w.buf.WriteByte(0)
		}
		w.atom(o.Name())
		w.u16(uint16(len(o.Constants())))
		for _, c := range o.Constants() {
			if err := w.value(c); err != nil {
				return err
			}
		}
		// Named nested functions live in the property map.
		w.u16(uint16(o.PropertyCount()))
		for i := 0; i < o.PropertyCount(); i++ {
			w.atom(o.PropertyAtomAt(i))
			if err := w.value(o.PropertyAt(i)); err != nil {
				return err
			}
		}
		w.u32(uint32(len(o.Code())))
		w.buf.Write(o.Code())
		return nil

	case *MaterObject:
		w.buf.WriteByte(imgObjMater)
		if o.IsArray() {
			w.buf.WriteByte(1)
		} else {
			w.buf.WriteByte(0)
		}
		w.u16(uint16(o.PropertyCount()))
		for i := 0; i < o.PropertyCount(); i++ {
			w.atom(o.PropertyAtomAt(i))
			if err := w.value(o.PropertyAt(i)); err != nil {
				return err
			}
		}
		w.u16(uint16(o.ElementCount()))
		for i := 0; i < o.ElementCount(); i++ {
			e, _ := o.Element(i)
			if err := w.value(e); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("image: cannot persist %s object", obj.TypeName())
	}
}

func (w *ImageWriter) value(v Value) error {
	switch {
	case v == Undefined:
		w.buf.WriteByte(imgValUndefined)
	case v == Null:
		w.buf.WriteByte(imgValNull)
	case v == True:
		w.buf.WriteByte(imgValTrue)
	case v == False:
		w.buf.WriteByte(imgValFalse)
	case v.IsInt():
		w.buf.WriteByte(imgValInt)
		w.u32(uint32(v.Int32()))
	case v.IsFloat():
		w.buf.WriteByte(imgValFloat)
		w.u64(math.Float64bits(v.Float64()))
	case v.IsAtom():
		w.buf.WriteByte(imgValAtom)
		w.u16(uint16(v.Atom()))
	case v.IsString():
		w.collectString(v.StringID())
		w.buf.WriteByte(imgValString)
		w.u32(w.stringIdx[v.StringID()])
	case v.IsObject():
		idx, ok := w.objectIdx[v.ObjectID()]
		if !ok {
			return fmt.Errorf("image: unreachable object in constant pool")
		}
		w.buf.WriteByte(imgValObject)
		w.u32(idx)
	default:
		return fmt.Errorf("image: cannot persist %s value", v.Type())
	}
	return nil
}

// atom writes an atom id. Ids keep their numeric value; the reader remaps
// everything above the well-known range through the atom pool.
func (w *ImageWriter) atom(a Atom) { w.u16(uint16(a)) }

func (w *ImageWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *ImageWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *ImageWriter) u64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
