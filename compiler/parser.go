package compiler

import (
	"errors"
	"strings"

	"github.com/chazu/m8rgo/vm"
)

// ---------------------------------------------------------------------------
// Parser: single-pass recursive descent with an integrated emitter
// ---------------------------------------------------------------------------

// Parser consumes a token stream and emits bytecode for a nested tree of
// Functions as it goes. It maintains a stack of partially built functions
// and a stack of partially built classes; there is no AST.
type Parser struct {
	program *vm.Program
	scanner *Scanner

	tok     Token
	haveTok bool

	funcs   []*funcState
	classes []*vm.MaterObject
	pending pendingKind
	errors  []string
}

// NewParser creates a parser over source text, compiling into the given
// program's heap, atom table and string pool.
func NewParser(program *vm.Program, source string) *Parser {
	return &Parser{
		program: program,
		scanner: NewScanner(source),
	}
}

// Compile parses source into a root function on the program's heap and
// returns its handle. This is also the hook installed as Program.Compile
// for import and importString.
func Compile(program *vm.Program, source string) (vm.ObjectID, error) {
	return NewParser(program, source).Parse()
}

// Parse compiles the whole source as the body of a parameterless root
// function. On any diagnostic no partial program survives: the error
// carries every recorded message with line numbers.
func (p *Parser) Parse() (vm.ObjectID, error) {
	p.functionStart(false)
	p.functionParamsEnd()
	for p.statement() {
		if len(p.errors) >= maxParseErrors {
			break
		}
	}
	if p.getToken() != TokenEOF && len(p.errors) == 0 {
		p.errorf("syntax error: unexpected %s", p.describeTok())
	}
	v := p.functionEnd()
	if len(p.errors) > 0 {
		return 0, errors.New(strings.Join(p.errors, "\n"))
	}
	return v.ObjectID(), nil
}

// ---------------------------------------------------------------------------
// Token access
// ---------------------------------------------------------------------------

func (p *Parser) getToken() TokenType {
	if !p.haveTok {
		p.tok = p.scanner.Next()
		p.haveTok = true
	}
	return p.tok.Type
}

func (p *Parser) retireToken() { p.haveTok = false }

// tokValue returns the current token with its payload.
func (p *Parser) tokValue() Token {
	p.getToken()
	return p.tok
}

func (p *Parser) expect(t TokenType) bool {
	if p.getToken() == t {
		p.retireToken()
		return true
	}
	p.expectedError(t)
	return false
}

func (p *Parser) atomize(s string) vm.Atom {
	return p.program.AtomizeString(s)
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// statement parses one statement. Returns false at end of file or when the
// current token cannot begin a statement, so enclosing constructs can
// consume their terminators.
func (p *Parser) statement() bool {
	switch p.getToken() {
	case TokenEOF:
		return false
	case TokenSemicolon:
		p.retireToken()
		return true
	}
	if p.functionStatement() {
		return true
	}
	if p.classStatement() {
		return true
	}
	if p.compoundStatement() || p.selectionStatement() ||
		p.switchStatement() || p.iterationStatement() || p.jumpStatement() {
		return true
	}
	switch p.getToken() {
	case TokenVar:
		p.retireToken()
		if p.variableDeclarationList() == 0 {
			p.errorf("missing var declaration")
		}
		p.expect(TokenSemicolon)
		return true
	case TokenDelete:
		p.retireToken()
		p.deleteStatement()
		p.expect(TokenSemicolon)
		return true
	default:
		if p.expression(1) {
			p.discardResult()
			p.expect(TokenSemicolon)
			return true
		}
		return false
	}
}

func (p *Parser) functionStatement() bool {
	if p.getToken() != TokenFunction {
		return false
	}
	p.retireToken()
	name := p.atomize(p.tokValue().Str)
	p.expect(TokenIdentifier)
	f := p.functionExpression(false)
	p.addNamedFunction(f, name)
	return true
}

func (p *Parser) classStatement() bool {
	if p.getToken() != TokenClass {
		return false
	}
	p.retireToken()
	name := p.atomize(p.tokValue().Str)
	p.addVar(name)
	p.emitId(name, MustBeLocal)
	p.expect(TokenIdentifier)
	p.classExpression()
	p.emitMove()
	p.discardResult()
	return true
}

func (p *Parser) compoundStatement() bool {
	if p.getToken() != TokenLBrace {
		return false
	}
	p.retireToken()
	for p.statement() {
	}
	p.expect(TokenRBrace)
	return true
}

func (p *Parser) selectionStatement() bool {
	if p.getToken() != TokenIf {
		return false
	}
	p.retireToken()
	p.expect(TokenLParen)
	p.expression(1)
	p.flushPending()

	ifLabel := p.label()
	elseLabel := p.label()
	p.addMatchedJump(vm.OpJF, elseLabel)

	p.expect(TokenRParen)
	p.statement()

	if p.getToken() == TokenElse {
		p.retireToken()
		p.addMatchedJump(vm.OpJMP, ifLabel)
		p.matchJump(elseLabel)
		p.statement()
		p.matchJump(ifLabel)
	} else {
		p.matchJump(elseLabel)
	}
	return true
}

// switchStatement emits case tests ahead of case bodies by collecting the
// bodies in a deferred region; bodies stay contiguous so execution falls
// through between cases until a break.
func (p *Parser) switchStatement() bool {
	if p.getToken() != TokenSwitch {
		return false
	}
	p.retireToken()
	p.expect(TokenLParen)
	p.expression(1)
	p.flushPending()
	p.expect(TokenRParen)
	p.expect(TokenLBrace)

	fs := p.currentFunc()
	fs.breakStack = append(fs.breakStack, nil)

	type caseEntry struct {
		toStatement   *Label
		statementAddr int
	}

	deferredStart := p.startDeferred()
	p.endDeferred()

	var cases []caseEntry
	defaultStatement := -1
	haveDefault := false

	for p.getToken() == TokenCase || p.getToken() == TokenDefault {
		isDefault := p.getToken() == TokenDefault
		p.retireToken()

		if isDefault {
			if haveDefault {
				p.errorf("duplicate default")
			}
			haveDefault = true
		} else {
			p.expression(1)
			p.emitCaseTest()
		}

		p.expect(TokenColon)

		if isDefault {
			defaultStatement = p.resumeDeferred()
			for p.statement() {
			}
			p.endDeferred()
		} else {
			entry := caseEntry{toStatement: p.label()}
			p.addMatchedJump(vm.OpJT, entry.toStatement)
			entry.statementAddr = p.resumeDeferred()
			for p.statement() {
			}
			p.endDeferred()
			cases = append(cases, entry)
		}
	}

	p.expect(TokenRBrace)

	// One jump past the tests: to the default body when there is one,
	// otherwise past all the bodies.
	endJump := p.label()
	p.addMatchedJump(vm.OpJMP, endJump)

	statementStart := p.emitDeferred()
	after := p.currentFunc().active.len()

	if haveDefault {
		p.matchJumpTo(endJump, defaultStatement-deferredStart+statementStart)
	} else {
		p.matchJumpTo(endJump, after)
	}
	for _, entry := range cases {
		p.matchJumpTo(entry.toStatement, entry.statementAddr-deferredStart+statementStart)
	}

	// Breaks land after the bodies, on the discriminant pop.
	breaks := fs.breakStack[len(fs.breakStack)-1]
	fs.breakStack = fs.breakStack[:len(fs.breakStack)-1]
	for _, l := range breaks {
		p.matchJump(l)
	}

	p.discardResult()
	return true
}

// ---------------------------------------------------------------------------
// Loops
// ---------------------------------------------------------------------------

func (p *Parser) pushLoopScopes() {
	fs := p.currentFunc()
	fs.breakStack = append(fs.breakStack, nil)
	fs.continueStack = append(fs.continueStack, nil)
}

// resolveContinues patches this loop's continue jumps to the current
// position (the loop's re-test or iteration code).
func (p *Parser) resolveContinues() {
	fs := p.currentFunc()
	for _, l := range fs.continueStack[len(fs.continueStack)-1] {
		p.matchJump(l)
	}
	fs.continueStack[len(fs.continueStack)-1] = nil
}

// resolveBreaksAndPop patches this loop's break jumps to the current
// position and pops both scopes.
func (p *Parser) resolveBreaksAndPop() {
	breaks, _ := p.popBreakScopes()
	for _, l := range breaks {
		p.matchJump(l)
	}
}

func (p *Parser) iterationStatement() bool {
	t := p.getToken()
	if t != TokenWhile && t != TokenDo && t != TokenFor {
		return false
	}
	p.retireToken()
	p.pushLoopScopes()

	switch t {
	case TokenWhile:
		p.expect(TokenLParen)
		loop := p.label()
		p.expression(1)
		p.flushPending()
		p.addMatchedJump(vm.OpJF, loop)
		p.expect(TokenRParen)
		p.statement()
		p.resolveContinues()
		p.jumpToLabel(vm.OpJMP, loop)
		p.matchJump(loop)

	case TokenDo:
		loop := p.label()
		p.statement()
		p.resolveContinues()
		p.expect(TokenWhile)
		p.expect(TokenLParen)
		p.expression(1)
		p.flushPending()
		p.jumpToLabel(vm.OpJT, loop)
		p.expect(TokenRParen)
		p.expect(TokenSemicolon)

	case TokenFor:
		p.forStatement()
	}

	p.resolveBreaksAndPop()
	return true
}

func (p *Parser) forStatement() {
	p.expect(TokenLParen)
	if p.getToken() == TokenVar {
		p.retireToken()

		// Hang onto the identifier in case this is a for..in.
		var name vm.Atom = vm.NoAtom
		if p.getToken() == TokenIdentifier {
			name = p.atomize(p.tok.Str)
		}

		count := p.variableDeclarationList()
		if count == 0 {
			p.errorf("missing var declaration")
		}
		if p.getToken() == TokenColon {
			if count != 1 {
				p.errorf("only one var declaration allowed in for..in")
			}
			p.retireToken()
			p.forIteration(name)
			return
		}
		p.forLoopCondAndIt()
		return
	}

	if p.getToken() == TokenIdentifier {
		// Could be `for (x : obj)`; peek by parsing the identifier as an
		// expression and checking for the colon.
		name := p.atomize(p.tok.Str)
		start := p.currentFunc().active.len()
		if p.expression(1) {
			if p.getToken() == TokenColon {
				// Only a bare identifier may be the iteration variable.
				code := p.currentFunc().active.bytes[start:]
				bare := p.pending == pendNone &&
					((len(code) == 2 && vm.Opcode(code[0]) == vm.OpPUSHLREF) ||
						(len(code) == 3 && vm.Opcode(code[0]) == vm.OpPUSHID))
				if !bare {
					p.errorf("for..in requires an iteration variable")
					return
				}
				p.retireToken()
				// Drop the emitted load; the iteration re-emits the slot.
				p.discardResult()
				p.forIteration(name)
				return
			}
			p.discardResult()
			p.forLoopCondAndIt()
			return
		}
	}

	if p.expression(1) {
		p.discardResult()
	}
	p.forLoopCondAndIt()
}

// forLoopCondAndIt parses `; cond; iter) stmt` with the iteration
// expression collected in a deferred region and spliced after the body.
func (p *Parser) forLoopCondAndIt() {
	p.expect(TokenSemicolon)
	loop := p.label()
	hasCond := p.expression(1)
	if hasCond {
		p.flushPending()
		p.addMatchedJump(vm.OpJF, loop)
	}
	p.startDeferred()
	p.expect(TokenSemicolon)
	if p.expression(1) {
		p.discardResult()
	}
	p.endDeferred()
	p.expect(TokenRParen)
	p.statement()

	p.resolveContinues()
	p.emitDeferred()
	p.jumpToLabel(vm.OpJMP, loop)
	if hasCond {
		p.matchJump(loop)
	}
}

// forIteration desugars `for (var it : obj) stmt` into the iterator
// contract:
//
//	it = new obj.iterator(obj)
//	while (!it.done()) { stmt; it.next(); }
func (p *Parser) forIteration(name vm.Atom) {
	if name == vm.NoAtom {
		p.errorf("for..in requires an iteration variable")
		return
	}
	slot := p.currentFunc().fn.LocalIndex(name)
	if slot < 0 {
		p.addVar(name)
		slot = p.currentFunc().fn.LocalIndex(name)
	}

	// tmp = obj
	tmp := p.allocTmp()
	p.pushTmpRef(tmp)
	if !p.leftHandSideExpression() {
		p.errorf("expected expression in for..in")
		return
	}
	p.flushPending()
	p.emitMove()
	p.emitOp(vm.OpPOP)
	p.expect(TokenRParen)

	// it = new tmp.iterator(tmp)
	p.emitOpByte(vm.OpPUSHLREF, byte(slot))
	p.pushTmpRef(tmp)
	p.emitPush()
	p.emitId(vm.AtomIterator, NotLocal)
	p.emitOp(vm.OpDEREFPROP)
	p.pushTmpRef(tmp)
	p.emitPush()
	p.emitOpByte(vm.OpNEW, 1)
	p.emitMove()
	p.emitOp(vm.OpPOP)

	// while (!it.done())
	loop := p.label()
	p.emitOpByte(vm.OpPUSHLREF, byte(slot))
	p.emitId(vm.AtomDone, NotLocal)
	p.emitOpByte(vm.OpCALLPROP, 0)
	p.addMatchedJump(vm.OpJT, loop)

	p.statement()

	p.resolveContinues()

	// it.next()
	p.emitOpByte(vm.OpPUSHLREF, byte(slot))
	p.emitId(vm.AtomNext, NotLocal)
	p.emitOpByte(vm.OpCALLPROP, 0)
	p.emitOp(vm.OpPOP)

	p.jumpToLabel(vm.OpJMP, loop)
	p.matchJump(loop)
}

// ---------------------------------------------------------------------------
// Jump statements
// ---------------------------------------------------------------------------

func (p *Parser) jumpStatement() bool {
	switch p.getToken() {
	case TokenBreak, TokenContinue:
		isBreak := p.getToken() == TokenBreak
		p.retireToken()
		p.expect(TokenSemicolon)

		fs := p.currentFunc()
		l := p.label()
		p.addMatchedJump(vm.OpJMP, l)
		if isBreak {
			if len(fs.breakStack) == 0 {
				p.errorf("break outside loop or switch")
				return true
			}
			fs.breakStack[len(fs.breakStack)-1] = append(fs.breakStack[len(fs.breakStack)-1], l)
		} else {
			if len(fs.continueStack) == 0 {
				p.errorf("continue outside loop")
				return true
			}
			fs.continueStack[len(fs.continueStack)-1] = append(fs.continueStack[len(fs.continueStack)-1], l)
		}
		return true

	case TokenReturn:
		p.retireToken()
		count := 0
		if p.expression(1) {
			p.flushPending()
			count = 1
		}
		// A bare return inside a ctor returns this.
		if count == 0 && p.functionIsCtor() {
			p.pushThis()
			count = 1
		}
		p.emitCallRet(kindRet, count)
		p.expect(TokenSemicolon)
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func (p *Parser) variableDeclarationList() int {
	count := 0
	for p.variableDeclaration() {
		count++
		if p.getToken() != TokenComma {
			break
		}
		p.retireToken()
	}
	return count
}

func (p *Parser) variableDeclaration() bool {
	if p.getToken() != TokenIdentifier {
		return false
	}
	name := p.atomize(p.tok.Str)
	p.addVar(name)
	p.retireToken()
	if p.getToken() != TokenSTO {
		return true
	}
	p.retireToken()
	p.emitId(name, MustBeLocal)
	if !p.expression(1) {
		p.errorf("expected expression in variable initializer")
		return false
	}
	p.emitMove()
	p.discardResult()
	return true
}

func (p *Parser) deleteStatement() {
	if !p.leftHandSideExpression() {
		p.errorf("expected expression after delete")
		return
	}
	switch p.pending {
	case pendProp:
		p.pending = pendNone
		p.emitOp(vm.OpDELPROP)
	case pendElt:
		p.flushPending()
		p.emitOp(vm.OpPOP)
	default:
		p.emitOp(vm.OpPOP)
	}
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func (p *Parser) classExpression() {
	p.classStart()
	p.expect(TokenLBrace)
	for p.classContentsStatement() {
	}
	p.expect(TokenRBrace)
	p.classEnd()
}

func (p *Parser) classContentsStatement() bool {
	switch p.getToken() {
	case TokenFunction, TokenIdentifier:
		// Methods appear as `function name(...)` or bare `name(...)`.
		if p.getToken() == TokenFunction {
			p.retireToken()
		}
		if p.getToken() != TokenIdentifier {
			p.expectedError(TokenIdentifier)
			return false
		}
		name := p.atomize(p.tok.Str)
		p.retireToken()
		f := p.functionExpression(false)
		if fo, ok := p.program.Heap().ObjectOf(f).(*vm.Function); ok {
			fo.SetName(name)
		}
		p.currentClass().SetProperty(name, f)
		return true

	case TokenConstructor:
		p.retireToken()
		f := p.functionExpression(true)
		p.currentClass().SetProperty(vm.AtomConstructor, f)
		return true

	case TokenVar:
		p.retireToken()
		if p.getToken() != TokenIdentifier {
			return false
		}
		name := p.atomize(p.tok.Str)
		p.retireToken()
		v := vm.Null
		if p.getToken() == TokenSTO {
			p.retireToken()
			// Initializers must be literal scalars so construction needs
			// no evaluation.
			switch p.getToken() {
			case TokenFloat:
				v = vm.FloatValue(p.tok.Float)
				p.retireToken()
			case TokenInteger:
				v = vm.IntValue(p.tok.Int)
				p.retireToken()
			case TokenString:
				v = vm.StringValue(p.program.AddStringLiteral(p.tok.Str))
				p.retireToken()
			case TokenTrue:
				v = vm.True
				p.retireToken()
			case TokenFalse:
				v = vm.False
				p.retireToken()
			case TokenNull:
				v = vm.Null
				p.retireToken()
			case TokenUndefined:
				v = vm.Undefined
				p.retireToken()
			default:
				p.errorf("constant value required in class var initializer")
				p.retireToken()
			}
		}
		p.currentClass().SetProperty(name, v)
		p.expect(TokenSemicolon)
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

type opInfo struct {
	prec       int
	rightAssoc bool
	sto        bool
	op         vm.Opcode
}

// Precedence climbing table. Assignments are right associative at the
// lowest precedence; everything else is left associative.
var opInfos = map[TokenType]opInfo{
	TokenSTO:    {1, true, true, vm.OpNOP},
	TokenADDSTO: {1, true, true, vm.OpADD},
	TokenSUBSTO: {1, true, true, vm.OpSUB},
	TokenMULSTO: {1, true, true, vm.OpMUL},
	TokenDIVSTO: {1, true, true, vm.OpDIV},
	TokenMODSTO: {1, true, true, vm.OpMOD},
	TokenSHLSTO: {1, true, true, vm.OpSHL},
	TokenSHRSTO: {1, true, true, vm.OpSHR},
	TokenSARSTO: {1, true, true, vm.OpSAR},
	TokenANDSTO: {1, true, true, vm.OpAND},
	TokenXORSTO: {1, true, true, vm.OpXOR},
	TokenORSTO:  {1, true, true, vm.OpOR},

	TokenLOR:       {6, false, false, vm.OpLOR},
	TokenLAND:      {7, false, false, vm.OpLAND},
	TokenBar:       {8, false, false, vm.OpOR},
	TokenCaret:     {9, false, false, vm.OpXOR},
	TokenAmpersand: {10, false, false, vm.OpAND},
	TokenEQ:        {11, false, false, vm.OpEQ},
	TokenNE:        {11, false, false, vm.OpNE},
	TokenLT:        {12, false, false, vm.OpLT},
	TokenLE:        {12, false, false, vm.OpLE},
	TokenGT:        {12, false, false, vm.OpGT},
	TokenGE:        {12, false, false, vm.OpGE},
	TokenSHL:       {13, false, false, vm.OpSHL},
	TokenSHR:       {13, false, false, vm.OpSHR},
	TokenSAR:       {13, false, false, vm.OpSAR},
	TokenPlus:      {14, false, false, vm.OpADD},
	TokenMinus:     {14, false, false, vm.OpSUB},
	TokenStar:      {15, false, false, vm.OpMUL},
	TokenSlash:     {15, false, false, vm.OpDIV},
	TokenPercent:   {15, false, false, vm.OpMOD},
}

func (p *Parser) expression(minPrec int) bool {
	if !p.arithmeticPrimary() {
		return false
	}

	if p.getToken() == TokenQuestion {
		p.ternary()
	}

	for {
		info, ok := opInfos[p.getToken()]
		if !ok || info.prec < minPrec {
			break
		}
		p.retireToken()
		nextMinPrec := info.prec + 1
		if info.rightAssoc {
			nextMinPrec = info.prec
		}

		if info.sto {
			p.assignment(info, nextMinPrec)
			continue
		}

		if info.op == vm.OpLAND || info.op == vm.OpLOR {
			p.shortCircuit(info, nextMinPrec)
			continue
		}

		p.flushPending()
		if !p.expression(nextMinPrec) {
			p.errorf("expected expression on right-hand side")
			return true
		}
		p.emitBinOp(info.op)
	}
	return true
}

// assignment emits plain and compound stores for local/global references
// and pending property or element pairs.
func (p *Parser) assignment(info opInfo, nextMinPrec int) {
	target := p.pending
	p.pending = pendNone

	if info.op != vm.OpNOP {
		// Compound: load the old value on top of a duplicated target.
		switch target {
		case pendProp:
			p.emitOp(vm.OpDUP2)
			p.emitOp(vm.OpDEREFPROP)
		case pendElt:
			p.emitOp(vm.OpDUP2)
			p.emitOp(vm.OpDEREFELT)
		default:
			p.emitOp(vm.OpDUP)
		}
	}

	if !p.expression(nextMinPrec) {
		p.errorf("expected expression on right-hand side of assignment")
		return
	}
	p.flushPending()

	if info.op != vm.OpNOP {
		p.emitOp(info.op)
	}

	switch target {
	case pendProp:
		p.emitOp(vm.OpSTOPROP)
	case pendElt:
		p.emitOp(vm.OpSTOELT)
	default:
		p.emitOp(vm.OpMOVE)
	}
}

// shortCircuit evaluates the left operand once; when it already decides
// the result, the right operand is skipped and the constant result
// replaces it.
func (p *Parser) shortCircuit(info opInfo, nextMinPrec int) {
	p.flushPending()
	p.emitOp(vm.OpDUP)

	skip := p.label()
	pass := p.label()
	skipResult := info.op == vm.OpLOR
	if skipResult {
		p.addMatchedJump(vm.OpJT, skip)
	} else {
		p.addMatchedJump(vm.OpJF, skip)
	}

	if !p.expression(nextMinPrec) {
		p.errorf("expected expression on right-hand side")
		return
	}
	p.emitBinOp(info.op)
	p.addMatchedJump(vm.OpJMP, pass)

	p.matchJump(skip)
	p.emitOp(vm.OpPOP)
	p.pushK(vm.BoolValue(skipResult))
	p.matchJump(pass)
}

// ternary routes whichever branch runs into a shared temporary slot.
func (p *Parser) ternary() {
	p.retireToken()
	p.flushPending()

	elseLabel := p.label()
	endLabel := p.label()
	p.addMatchedJump(vm.OpJF, elseLabel)

	tmp := p.allocTmp()
	p.pushTmpRef(tmp)
	p.expression(1)
	p.emitMove()
	p.emitOp(vm.OpPOP)
	p.expect(TokenColon)
	p.addMatchedJump(vm.OpJMP, endLabel)

	p.matchJump(elseLabel)
	p.pushTmpRef(tmp)
	p.expression(1)
	p.emitMove()
	p.emitOp(vm.OpPOP)

	p.matchJump(endLabel)
	p.pushTmpRef(tmp)
}

func (p *Parser) arithmeticPrimary() bool {
	if p.getToken() == TokenLParen {
		p.retireToken()
		p.expression(1)
		p.expect(TokenRParen)
		return true
	}

	var op vm.Opcode
	switch p.getToken() {
	case TokenINC:
		op = vm.OpPREINC
	case TokenDEC:
		op = vm.OpPREDEC
	case TokenMinus:
		op = vm.OpUMINUS
	case TokenTwiddle:
		op = vm.OpUNOT
	case TokenBang:
		op = vm.OpUNEG
	default:
		op = vm.OpNOP
	}
	if op != vm.OpNOP {
		p.retireToken()
		if !p.arithmeticPrimary() {
			p.errorf("expected expression after unary operator")
			return false
		}
		p.emitUnOp(op)
		return true
	}

	if !p.leftHandSideExpression() {
		return false
	}

	switch p.getToken() {
	case TokenINC:
		p.retireToken()
		p.emitUnOp(vm.OpPOSTINC)
	case TokenDEC:
		p.retireToken()
		p.emitUnOp(vm.OpPOSTDEC)
	}
	return true
}

// leftHandSideExpression iterates (args), [expr] and .name suffixes,
// leaving a pending property or element pair when one ends the chain so
// assignment and method calls can bind to it.
func (p *Parser) leftHandSideExpression() bool {
	if !p.memberExpression() {
		return false
	}
	for {
		switch p.getToken() {
		case TokenLParen:
			// A pending property becomes a method call; an element callee
			// resolves first and calls with the global this.
			wasProp := p.pending == pendProp
			if p.pending == pendElt {
				p.flushPending()
			}
			p.pending = pendNone
			p.retireToken()
			argc := p.argumentList()
			p.expect(TokenRParen)
			if wasProp {
				p.emitOpByte(vm.OpCALLPROP, byte(argc))
			} else {
				p.emitOpByte(vm.OpCALL, byte(argc))
			}

		case TokenLBracket:
			p.flushPending()
			p.retireToken()
			p.expression(1)
			p.flushPending()
			p.expect(TokenRBracket)
			p.emitDeref(pendElt)

		case TokenPeriod:
			p.flushPending()
			p.retireToken()
			name := p.atomize(p.tokValue().Str)
			p.expect(TokenIdentifier)
			p.emitId(name, NotLocal)
			p.emitDeref(pendProp)

		default:
			return true
		}
	}
}

func (p *Parser) memberExpression() bool {
	switch p.getToken() {
	case TokenNew:
		p.retireToken()
		if !p.memberExpression() {
			p.errorf("expected expression after new")
			return false
		}
		// Property and element suffixes select the constructor.
		for {
			if p.getToken() == TokenPeriod {
				p.flushPending()
				p.retireToken()
				name := p.atomize(p.tokValue().Str)
				p.expect(TokenIdentifier)
				p.emitId(name, NotLocal)
				p.emitDeref(pendProp)
				continue
			}
			if p.getToken() == TokenLBracket {
				p.flushPending()
				p.retireToken()
				p.expression(1)
				p.flushPending()
				p.expect(TokenRBracket)
				p.emitDeref(pendElt)
				continue
			}
			break
		}
		p.flushPending()
		argc := 0
		if p.getToken() == TokenLParen {
			p.retireToken()
			argc = p.argumentList()
			p.expect(TokenRParen)
		}
		p.emitCallRet(kindNew, argc)
		return true

	case TokenFunction:
		p.retireToken()
		f := p.functionExpression(false)
		p.pushK(f)
		return true

	case TokenClass:
		p.retireToken()
		p.classExpression()
		return true
	}
	return p.primaryExpression()
}

func (p *Parser) argumentList() int {
	argc := 0
	if !p.expression(1) {
		return argc
	}
	p.emitPush()
	argc++
	for p.getToken() == TokenComma {
		p.retireToken()
		if !p.expression(1) {
			p.errorf("expected expression in argument list")
			break
		}
		p.emitPush()
		argc++
	}
	return argc
}

func (p *Parser) primaryExpression() bool {
	switch p.getToken() {
	case TokenIdentifier:
		p.emitId(p.atomize(p.tok.Str), MightBeLocal)
		p.retireToken()
	case TokenThis:
		p.pushThis()
		p.retireToken()
	case TokenFloat:
		p.pushK(vm.FloatValue(p.tok.Float))
		p.retireToken()
	case TokenInteger:
		p.pushK(vm.IntValue(p.tok.Int))
		p.retireToken()
	case TokenString:
		p.pushString(p.tok.Str)
		p.retireToken()
	case TokenTrue:
		p.pushK(vm.True)
		p.retireToken()
	case TokenFalse:
		p.pushK(vm.False)
		p.retireToken()
	case TokenNull:
		p.pushK(vm.Null)
		p.retireToken()
	case TokenUndefined:
		p.pushK(vm.Undefined)
		p.retireToken()

	case TokenLBracket:
		p.retireToken()
		p.emitLoadLit(true)
		if p.expression(1) {
			p.emitAppendElt()
			for p.getToken() == TokenComma {
				p.retireToken()
				if !p.expression(1) {
					p.errorf("expected array element")
					break
				}
				p.emitAppendElt()
			}
		}
		p.expect(TokenRBracket)

	case TokenLBrace:
		p.retireToken()
		p.emitLoadLit(false)
		if p.propertyAssignment() {
			p.emitAppendProp()
			for p.getToken() == TokenComma {
				p.retireToken()
				if !p.propertyAssignment() {
					p.errorf("expected property assignment")
					break
				}
				p.emitAppendProp()
			}
		}
		p.expect(TokenRBrace)

	default:
		return false
	}
	return true
}

func (p *Parser) propertyAssignment() bool {
	if !p.propertyName() {
		return false
	}
	if !p.expect(TokenColon) {
		return false
	}
	if !p.expression(1) {
		p.errorf("expected expression in property value")
		return false
	}
	return true
}

func (p *Parser) propertyName() bool {
	switch p.getToken() {
	case TokenIdentifier:
		p.emitId(p.atomize(p.tok.Str), NotLocal)
		p.retireToken()
		return true
	case TokenString:
		p.pushString(p.tok.Str)
		p.retireToken()
		return true
	case TokenFloat:
		p.pushK(vm.FloatValue(p.tok.Float))
		p.retireToken()
		return true
	case TokenInteger:
		p.pushK(vm.IntValue(p.tok.Int))
		p.retireToken()
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Function expressions
// ---------------------------------------------------------------------------

func (p *Parser) functionExpression(ctor bool) vm.Value {
	p.expect(TokenLParen)
	p.functionStart(ctor)
	p.formalParameterList()
	p.functionParamsEnd()
	p.expect(TokenRParen)
	p.expect(TokenLBrace)
	for p.statement() {
	}
	p.expect(TokenRBrace)
	return p.functionEnd()
}

func (p *Parser) formalParameterList() {
	if p.getToken() != TokenIdentifier {
		return
	}
	for {
		p.functionAddParam(p.atomize(p.tok.Str))
		p.retireToken()
		if p.getToken() != TokenComma {
			return
		}
		p.retireToken()
		if p.getToken() != TokenIdentifier {
			p.expectedError(TokenIdentifier)
			return
		}
	}
}
