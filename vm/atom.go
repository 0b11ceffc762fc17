package vm

import "sync"

// ---------------------------------------------------------------------------
// Atom: interned identifier handles
// ---------------------------------------------------------------------------

// Atom is a unique 16-bit handle for an interned identifier or a well-known
// built-in name. Atoms are created on first intern and live for the whole
// process; equal byte sequences always yield equal atoms.
type Atom uint16

// NoAtom is the reserved invalid atom.
const NoAtom Atom = 0xFFFF

// Well-known atoms occupy a reserved low range so comparisons against them
// compile to constant comparisons. The order here defines the atom ids;
// never reorder without bumping the image version.
const (
	AtomConstructor Atom = iota
	AtomToString
	AtomIterator
	AtomDone
	AtomNext
	AtomValueProp
	AtomLength
	AtomLookupHostname
	AtomCurrentTime
	AtomDelay
	AtomPrint
	AtomPrintln
	AtomPrintf
	AtomToInt
	AtomToUInt
	AtomToFloat
	AtomArguments
	AtomImport
	AtomImportString
	AtomWaitForEvent
	AtomMeminfo
	AtomConsoleListener
	AtomArray
	AtomObject
	AtomIteratorProto
	AtomTCP
	AtomUDP
	AtomIPAddr
	AtomGPIO
	AtomBase64
	AtomJSON
	AtomFS
	AtomFile
	AtomDirectory
	AtomTask
	AtomSend
	AtomDisconnect
	AtomEncode
	AtomDecode
	AtomParse
	AtomStringify
	AtomOpen
	AtomOpenDirectory
	AtomClose
	AtomRead
	AtomWrite
	AtomSeek
	AtomRemove
	AtomFormat
	AtomMount
	AtomName
	AtomSize
	AtomType
	AtomRun
	AtomTerminate
	AtomSetPinMode
	AtomDigitalWrite
	AtomDigitalRead
	AtomFreeSize
	AtomAllocatedSize
	AtomNumAllocations
	AtomAllocationsByType
	AtomCount

	wellKnownAtomCount
)

// wellKnownAtomNames maps the reserved range back to source names. Indexed
// by the atom id itself.
var wellKnownAtomNames = [...]string{
	AtomConstructor:       "constructor",
	AtomToString:          "toString",
	AtomIterator:          "iterator",
	AtomDone:              "done",
	AtomNext:              "next",
	AtomValueProp:             "value",
	AtomLength:            "length",
	AtomLookupHostname:    "lookupHostname",
	AtomCurrentTime:       "currentTime",
	AtomDelay:             "delay",
	AtomPrint:             "print",
	AtomPrintln:           "println",
	AtomPrintf:            "printf",
	AtomToInt:             "toInt",
	AtomToUInt:            "toUInt",
	AtomToFloat:           "toFloat",
	AtomArguments:         "arguments",
	AtomImport:            "import",
	AtomImportString:      "importString",
	AtomWaitForEvent:      "waitForEvent",
	AtomMeminfo:           "meminfo",
	AtomConsoleListener:   "consoleListener",
	AtomArray:             "Array",
	AtomObject:            "Object",
	AtomIteratorProto:     "Iterator",
	AtomTCP:               "TCP",
	AtomUDP:               "UDP",
	AtomIPAddr:            "IPAddr",
	AtomGPIO:              "GPIO",
	AtomBase64:            "Base64",
	AtomJSON:              "JSON",
	AtomFS:                "FS",
	AtomFile:              "File",
	AtomDirectory:         "Directory",
	AtomTask:              "Task",
	AtomSend:              "send",
	AtomDisconnect:        "disconnect",
	AtomEncode:            "encode",
	AtomDecode:            "decode",
	AtomParse:             "parse",
	AtomStringify:         "stringify",
	AtomOpen:              "open",
	AtomOpenDirectory:     "openDirectory",
	AtomClose:             "close",
	AtomRead:              "read",
	AtomWrite:             "write",
	AtomSeek:              "seek",
	AtomRemove:            "remove",
	AtomFormat:            "format",
	AtomMount:             "mount",
	AtomName:              "name",
	AtomSize:              "size",
	AtomType:              "type",
	AtomRun:               "run",
	AtomTerminate:         "terminate",
	AtomSetPinMode:        "setPinMode",
	AtomDigitalWrite:      "digitalWrite",
	AtomDigitalRead:       "digitalRead",
	AtomFreeSize:          "freeSize",
	AtomAllocatedSize:     "allocatedSize",
	AtomNumAllocations:    "numAllocations",
	AtomAllocationsByType: "allocationsByType",
	AtomCount:             "count",
}

// ---------------------------------------------------------------------------
// AtomTable
// ---------------------------------------------------------------------------

// AtomTable interns identifier names to Atom handles and provides reverse
// lookup for diagnostics and property access by name.
//
// The table is append-only; atoms are never destroyed. It is safe for
// concurrent use, although all interning normally happens on the run loop
// goroutine.
type AtomTable struct {
	mu     sync.RWMutex
	byName map[string]Atom
	byID   []string
}

// NewAtomTable creates an atom table pre-seeded with the well-known atoms.
func NewAtomTable() *AtomTable {
	t := &AtomTable{
		byName: make(map[string]Atom, 256),
		byID:   make([]string, 0, 256),
	}
	for id, name := range wellKnownAtomNames {
		t.byName[name] = Atom(id)
		t.byID = append(t.byID, name)
	}
	return t
}

// Intern returns the atom for name, creating one if needed. Idempotent:
// Intern(s) == Intern(s) for any s.
func (t *AtomTable) Intern(name string) Atom {
	t.mu.RLock()
	if a, ok := t.byName[name]; ok {
		t.mu.RUnlock()
		return a
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if a, ok := t.byName[name]; ok {
		return a
	}
	a := Atom(len(t.byID))
	t.byName[name] = a
	t.byID = append(t.byID, name)
	return a
}

// Lookup returns the atom for name without creating one, or NoAtom.
func (t *AtomTable) Lookup(name string) Atom {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a, ok := t.byName[name]; ok {
		return a
	}
	return NoAtom
}

// Resolve returns the name for an atom, or "" for an unknown atom.
func (t *AtomTable) Resolve(a Atom) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(a) >= len(t.byID) {
		return ""
	}
	return t.byID[a]
}

// WellKnownCount returns the size of the reserved low range. Atoms below
// this are compile-time constants and identical in every process.
func WellKnownCount() int { return int(wellKnownAtomCount) }

// InternedNames snapshots the names above the well-known range, in id
// order, for the image writer.
func (t *AtomTable) InternedNames() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, len(t.byID)-int(wellKnownAtomCount))
	copy(names, t.byID[wellKnownAtomCount:])
	return names
}

// Len returns the number of interned atoms.
func (t *AtomTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
