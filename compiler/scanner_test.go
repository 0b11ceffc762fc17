package compiler

import "testing"

func scanAll(src string) []Token {
	s := NewScanner(src)
	var toks []Token
	for {
		tok := s.Next()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

func types(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, tok := range toks {
		out[i] = tok.Type
	}
	return out
}

func TestScannerKeywordsAndIdentifiers(t *testing.T) {
	toks := scanAll("var foo = function bar() { return baz; };")
	want := []TokenType{
		TokenVar, TokenIdentifier, TokenSTO, TokenFunction, TokenIdentifier,
		TokenLParen, TokenRParen, TokenLBrace, TokenReturn, TokenIdentifier,
		TokenSemicolon, TokenRBrace, TokenSemicolon, TokenEOF,
	}
	got := types(toks)
	if len(got) != len(want) {
		t.Fatalf("token count = %d, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %v, want %v", i, got[i], want[i])
		}
	}
	if toks[1].Str != "foo" || toks[4].Str != "bar" || toks[9].Str != "baz" {
		t.Error("identifier payloads wrong")
	}
}

func TestScannerMaximalMunch(t *testing.T) {
	tests := []struct {
		src  string
		want []TokenType
	}{
		{"< << <<= <=", []TokenType{TokenLT, TokenSHL, TokenSHLSTO, TokenLE, TokenEOF}},
		{"> >> >>> >>= >>>= >=", []TokenType{TokenGT, TokenSHR, TokenSAR, TokenSHRSTO, TokenSARSTO, TokenGE, TokenEOF}},
		{"= == ! !=", []TokenType{TokenSTO, TokenEQ, TokenBang, TokenNE, TokenEOF}},
		{"& && &= | || |=", []TokenType{TokenAmpersand, TokenLAND, TokenANDSTO, TokenBar, TokenLOR, TokenORSTO, TokenEOF}},
		{"+ ++ += - -- -=", []TokenType{TokenPlus, TokenINC, TokenADDSTO, TokenMinus, TokenDEC, TokenSUBSTO, TokenEOF}},
		{"* *= / /= % %= ^ ^=", []TokenType{TokenStar, TokenMULSTO, TokenSlash, TokenDIVSTO, TokenPercent, TokenMODSTO, TokenCaret, TokenXORSTO, TokenEOF}},
	}
	for _, tt := range tests {
		got := types(scanAll(tt.src))
		if len(got) != len(tt.want) {
			t.Errorf("%q: token count = %d, want %d", tt.src, len(got), len(tt.want))
			continue
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Errorf("%q: token %d = %v, want %v", tt.src, i, got[i], tt.want[i])
			}
		}
	}
}

func TestScannerNumbers(t *testing.T) {
	toks := scanAll("0 42 0x1F 0xff 3.25 1e3 2.5e-2 7.")
	wantInts := []int32{0, 42, 0x1F, 0xff}
	for i, w := range wantInts {
		if toks[i].Type != TokenInteger || toks[i].Int != w {
			t.Errorf("token %d: got (%v, %d), want integer %d", i, toks[i].Type, toks[i].Int, w)
		}
	}
	wantFloats := []float64{3.25, 1000, 0.025, 7}
	for i, w := range wantFloats {
		tok := toks[len(wantInts)+i]
		if tok.Type != TokenFloat || tok.Float != w {
			t.Errorf("float token %d: got (%v, %g), want %g", i, tok.Type, tok.Float, w)
		}
	}
}

func TestScannerStrings(t *testing.T) {
	toks := scanAll(`"hello" 'world' "a\nb" 'it\'s'`)
	want := []string{"hello", "world", "a\nb", "it's"}
	for i, w := range want {
		if toks[i].Type != TokenString || toks[i].Str != w {
			t.Errorf("string %d: got (%v, %q), want %q", i, toks[i].Type, toks[i].Str, w)
		}
	}
}

func TestScannerComments(t *testing.T) {
	toks := scanAll("a // line comment\nb /* block\ncomment */ c")
	got := types(toks)
	want := []TokenType{TokenIdentifier, TokenIdentifier, TokenIdentifier, TokenEOF}
	if len(got) != len(want) {
		t.Fatalf("comments surfaced as tokens: %v", got)
	}
}

// Token line numbers equal the count of newlines before the token's first
// byte, plus one.
func TestScannerLineNumbers(t *testing.T) {
	src := "a\nb\n\nc /* x\ny */ d\n// z\ne"
	toks := scanAll(src)
	wantLines := []int{1, 2, 4, 5, 7}
	for i, w := range wantLines {
		if toks[i].Line != w {
			t.Errorf("token %d (%q) line = %d, want %d", i, toks[i].Str, toks[i].Line, w)
		}
	}
}

func TestScannerUnknown(t *testing.T) {
	toks := scanAll("a # b")
	if toks[1].Type != TokenUnknown {
		t.Errorf("expected Unknown for '#', got %v", toks[1].Type)
	}
	// Scanning continues past the unknown byte.
	if toks[2].Type != TokenIdentifier || toks[2].Str != "b" {
		t.Error("scanner did not recover after unknown byte")
	}
}
