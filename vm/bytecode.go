package vm

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack operations
const (
	OpNOP      Opcode = 0x00 // no operation
	OpPOP      Opcode = 0x01 // discard top of stack
	OpDUP      Opcode = 0x02 // duplicate top of stack
	OpDUP2     Opcode = 0x03 // duplicate top two entries
	OpPUSH     Opcode = 0x04 // resolve the reference on top of stack in place
	OpPUSHTHIS Opcode = 0x05 // push the frame's this value
)

// Loads
const (
	OpPUSHK    Opcode = 0x10 // push constant (16-bit pool index)
	OpPUSHID   Opcode = 0x11 // push atom value (16-bit atom id)
	OpPUSHLREF Opcode = 0x12 // push reference to local slot (8-bit index)
	OpLOADLIT  Opcode = 0x13 // push new literal object (8-bit flag: 1=array)
)

// Stores and property access
const (
	OpMOVE       Opcode = 0x20 // store through reference: [ref value] -> [value]
	OpAPPENDELT  Opcode = 0x21 // append element: [obj value] -> [obj]
	OpAPPENDPROP Opcode = 0x22 // append property: [obj name value] -> [obj]
	OpDEREFPROP  Opcode = 0x23 // load property: [obj name] -> [value]
	OpDEREFELT   Opcode = 0x24 // load element: [obj index] -> [value]
	OpSTOPROP    Opcode = 0x25 // store property: [obj name value] -> [value]
	OpSTOELT     Opcode = 0x26 // store element: [obj index value] -> [value]
	OpREFPROP    Opcode = 0x27 // make property ref: [obj name] -> [elemref]
	OpREFELT     Opcode = 0x28 // make element ref: [obj index] -> [elemref]
	OpDELPROP    Opcode = 0x29 // delete property: [obj name] -> []
)

// Arithmetic, bitwise, logical
const (
	OpADD  Opcode = 0x30
	OpSUB  Opcode = 0x31
	OpMUL  Opcode = 0x32
	OpDIV  Opcode = 0x33
	OpMOD  Opcode = 0x34
	OpSHL  Opcode = 0x35
	OpSHR  Opcode = 0x36 // shift right, sign-filling
	OpSAR  Opcode = 0x37 // shift right, zero-filling
	OpAND  Opcode = 0x38
	OpOR   Opcode = 0x39
	OpXOR  Opcode = 0x3A
	OpLAND Opcode = 0x3B
	OpLOR  Opcode = 0x3C
)

// Comparison
const (
	OpEQ Opcode = 0x50
	OpNE Opcode = 0x51
	OpLT Opcode = 0x52
	OpLE Opcode = 0x53
	OpGT Opcode = 0x54
	OpGE Opcode = 0x55
)

// Unary
const (
	OpUMINUS  Opcode = 0x60
	OpUNOT    Opcode = 0x61 // bitwise complement
	OpUNEG    Opcode = 0x62 // logical not
	OpPREINC  Opcode = 0x63 // through reference, pushes new value
	OpPREDEC  Opcode = 0x64
	OpPOSTINC Opcode = 0x65 // through reference, pushes old value
	OpPOSTDEC Opcode = 0x66
)

// Control flow
const (
	OpJMP      Opcode = 0x70 // unconditional (signed 16-bit offset)
	OpJT       Opcode = 0x71 // pop condition, jump if truthy
	OpJF       Opcode = 0x72 // pop condition, jump if falsy
	OpCASETEST Opcode = 0x73 // compare TOS to TOS-1, pop TOS, push Bool
)

// Calls
const (
	OpCALL     Opcode = 0x80 // call value: [callee args...] (8-bit argc)
	OpCALLPROP Opcode = 0x81 // call method: [obj name args...] (8-bit argc)
	OpNEW      Opcode = 0x82 // construct: [callee args...] (8-bit argc)
	OpRET      Opcode = 0x83 // return (8-bit value count, 0 or 1)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string
	OperandBytes int
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNOP:      {"NOP", 0},
	OpPOP:      {"POP", 0},
	OpDUP:      {"DUP", 0},
	OpDUP2:     {"DUP2", 0},
	OpPUSH:     {"PUSH", 0},
	OpPUSHTHIS: {"PUSHTHIS", 0},

	OpPUSHK:    {"PUSHK", 2},
	OpPUSHID:   {"PUSHID", 2},
	OpPUSHLREF: {"PUSHLREF", 1},
	OpLOADLIT:  {"LOADLIT", 1},

	OpMOVE:       {"MOVE", 0},
	OpAPPENDELT:  {"APPEND_ELT", 0},
	OpAPPENDPROP: {"APPEND_PROP", 0},
	OpDEREFPROP:  {"DEREFPROP", 0},
	OpDEREFELT:   {"DEREFELT", 0},
	OpSTOPROP:    {"STOPROP", 0},
	OpSTOELT:     {"STOELT", 0},
	OpREFPROP:    {"REFPROP", 0},
	OpREFELT:     {"REFELT", 0},
	OpDELPROP:    {"DELPROP", 0},

	OpADD:  {"ADD", 0},
	OpSUB:  {"SUB", 0},
	OpMUL:  {"MUL", 0},
	OpDIV:  {"DIV", 0},
	OpMOD:  {"MOD", 0},
	OpSHL:  {"SHL", 0},
	OpSHR:  {"SHR", 0},
	OpSAR:  {"SAR", 0},
	OpAND:  {"AND", 0},
	OpOR:   {"OR", 0},
	OpXOR:  {"XOR", 0},
	OpLAND: {"LAND", 0},
	OpLOR:  {"LOR", 0},

	OpEQ: {"EQ", 0},
	OpNE: {"NE", 0},
	OpLT: {"LT", 0},
	OpLE: {"LE", 0},
	OpGT: {"GT", 0},
	OpGE: {"GE", 0},

	OpUMINUS:  {"UMINUS", 0},
	OpUNOT:    {"UNOT", 0},
	OpUNEG:    {"UNEG", 0},
	OpPREINC:  {"PREINC", 0},
	OpPREDEC:  {"PREDEC", 0},
	OpPOSTINC: {"POSTINC", 0},
	OpPOSTDEC: {"POSTDEC", 0},

	OpJMP:      {"JMP", 2},
	OpJT:       {"JT", 2},
	OpJF:       {"JF", 2},
	OpCASETEST: {"CASETEST", 0},

	OpCALL:     {"CALL", 1},
	OpCALLPROP: {"CALLPROP", 1},
	OpNEW:      {"NEW", 1},
	OpRET:      {"RET", 1},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string { return op.Info().Name }

// String implements the Stringer interface.
func (op Opcode) String() string { return op.Name() }

// ---------------------------------------------------------------------------
// Operand encoding helpers
// ---------------------------------------------------------------------------

// EmitOp appends an opcode with no operands to a function's code.
func EmitOp(f *Function, op Opcode) { f.AddCode(byte(op)) }

// EmitByte appends an opcode with an 8-bit operand.
func EmitByte(f *Function, op Opcode, operand byte) {
	f.AddCode(byte(op))
	f.AddCode(operand)
}

// EmitUint16 appends an opcode with a little-endian 16-bit operand.
func EmitUint16(f *Function, op Opcode, operand uint16) {
	f.AddCode(byte(op))
	f.AddCode(byte(operand))
	f.AddCode(byte(operand >> 8))
}

// PatchInt16 overwrites the 16-bit operand at code offset pos.
func PatchInt16(f *Function, pos int, v int16) {
	f.SetCodeAt(pos, byte(uint16(v)))
	f.SetCodeAt(pos+1, byte(uint16(v)>>8))
}

// ReadUint16 decodes a little-endian 16-bit operand.
func ReadUint16(code []byte, pos int) uint16 {
	return binary.LittleEndian.Uint16(code[pos:])
}

// ReadInt16 decodes a little-endian signed 16-bit operand.
func ReadInt16(code []byte, pos int) int16 {
	return int16(binary.LittleEndian.Uint16(code[pos:]))
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders a function's bytecode one instruction per line, for
// diagnostics and tests.
func Disassemble(f *Function, atoms *AtomTable) string {
	var sb strings.Builder
	code := f.Code()
	for ip := 0; ip < len(code); {
		op := Opcode(code[ip])
		info := op.Info()
		fmt.Fprintf(&sb, "%04d  %-12s", ip, info.Name)
		switch info.OperandBytes {
		case 1:
			fmt.Fprintf(&sb, " %d", code[ip+1])
		case 2:
			switch op {
			case OpJMP, OpJT, OpJF:
				off := ReadInt16(code, ip+1)
				fmt.Fprintf(&sb, " %+d (-> %04d)", off, ip+3+int(off))
			case OpPUSHID:
				a := Atom(ReadUint16(code, ip+1))
				if atoms != nil {
					fmt.Fprintf(&sb, " %q", atoms.Resolve(a))
				} else {
					fmt.Fprintf(&sb, " atom:%d", a)
				}
			default:
				fmt.Fprintf(&sb, " %d", ReadUint16(code, ip+1))
			}
		}
		sb.WriteByte('\n')
		ip += 1 + info.OperandBytes
	}
	return sb.String()
}
