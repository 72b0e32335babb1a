// G-code line parser
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package gcode tokenizes and parses CNC part programs.
// Lines become Blocks of words, comments, macro assignments and
// control-flow statements; expressions are left unevaluated.
package gcode

import (
	"strconv"
	"strings"

	cncerr "modax-cnc/pkg/errors"
)

var keywords = map[string]bool{
	"GOTO":   true,
	"GOSUB":  true,
	"RETURN": true,
	"IF":     true,
}

var wordOps = map[string]Op{
	"MOD": OpMod,
	"EQ":  OpEQ,
	"NE":  OpNE,
	"LT":  OpLT,
	"LE":  OpLE,
	"GT":  OpGT,
	"GE":  OpGE,
	"AND": OpAnd,
	"OR":  OpOr,
}

// scanner walks one source line. up is the upper-cased copy used for
// matching; src keeps the original case for comments.
type scanner struct {
	src  string
	up   string
	pos  int
	line int
}

func (s *scanner) eof() bool { return s.pos >= len(s.up) }

func (s *scanner) peek() byte {
	if s.eof() {
		return 0
	}
	return s.up[s.pos]
}

func (s *scanner) peekAt(off int) byte {
	if s.pos+off >= len(s.up) {
		return 0
	}
	return s.up[s.pos+off]
}

func (s *scanner) skipSpace() {
	for !s.eof() && (s.up[s.pos] == ' ' || s.up[s.pos] == '\t') {
		s.pos++
	}
}

func (s *scanner) errorf(token, reason string) *cncerr.CNCError {
	return cncerr.ParseError(s.line, token, reason)
}

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }

// letterRun returns the run of letters at the cursor without consuming it.
func (s *scanner) letterRun() string {
	end := s.pos
	for end < len(s.up) && isLetter(s.up[end]) {
		end++
	}
	return s.up[s.pos:end]
}

// ident consumes [A-Z][A-Z0-9_]*.
func (s *scanner) ident() string {
	start := s.pos
	for !s.eof() {
		c := s.up[s.pos]
		if !isLetter(c) && !isDigit(c) && c != '_' {
			break
		}
		s.pos++
	}
	return s.up[start:s.pos]
}

// integer consumes an unsigned decimal integer.
func (s *scanner) integer() (int, bool) {
	start := s.pos
	for !s.eof() && isDigit(s.up[s.pos]) {
		s.pos++
	}
	if start == s.pos {
		return 0, false
	}
	n, err := strconv.Atoi(s.up[start:s.pos])
	return n, err == nil
}

// literal consumes digits and dots; callers validate the text.
func (s *scanner) literal() string {
	start := s.pos
	for !s.eof() && (isDigit(s.up[s.pos]) || s.up[s.pos] == '.') {
		s.pos++
	}
	return s.up[start:s.pos]
}

// ParseLine parses a single line. lineNo is the 1-based source line used
// in error reports.
func ParseLine(lineNo int, text string) (*Block, error) {
	s := &scanner{src: text, up: upper(text), line: lineNo}
	b := &Block{Line: lineNo, Raw: text}

	s.skipSpace()
	if s.peek() == '%' {
		s.pos++
		s.skipSpace()
	}
	if s.peek() == '/' {
		b.BlockDelete = true
		s.pos++
		s.skipSpace()
	}
	if s.peek() == 'N' && isDigit(s.peekAt(1)) {
		s.pos++
		n, ok := s.integer()
		if !ok {
			return nil, s.errorf("N", "malformed line number")
		}
		b.Number, b.HasNumber = n, true
		s.skipSpace()
	}
	if err := s.parseLabel(b); err != nil {
		return nil, err
	}
	if s.peek() == 'O' && isDigit(s.peekAt(1)) {
		s.pos++
		n, _ := s.integer()
		if n <= 0 {
			return nil, s.errorf("O"+strconv.Itoa(n), "program number must be positive")
		}
		b.Program = n
	}

	seen := make(map[byte]bool)
	for {
		s.skipSpace()
		if s.eof() {
			break
		}
		c := s.peek()
		switch {
		case c == '(':
			end := strings.IndexByte(s.src[s.pos:], ')')
			if end < 0 {
				return nil, s.errorf(s.src[s.pos:], "unterminated comment")
			}
			b.Comments = append(b.Comments, strings.TrimSpace(s.src[s.pos+1:s.pos+end]))
			s.pos += end + 1
		case c == ';':
			b.Comments = append(b.Comments, strings.TrimSpace(s.src[s.pos+1:]))
			s.pos = len(s.up)
		case c == '#':
			a, err := s.parseAssignment()
			if err != nil {
				return nil, err
			}
			b.Assignments = append(b.Assignments, a)
		case isLetter(c):
			run := s.letterRun()
			if len(run) > 1 {
				if err := s.parseKeyword(b, run); err != nil {
					return nil, err
				}
				continue
			}
			w, err := s.parseWord()
			if err != nil {
				return nil, err
			}
			if !w.IsCode() {
				if seen[w.Letter] {
					return nil, s.errorf(w.Text, "duplicate "+string(w.Letter)+" word")
				}
				seen[w.Letter] = true
			}
			b.Words = append(b.Words, w)
		default:
			return nil, s.errorf(string(s.src[s.pos]), "unexpected character")
		}
	}
	return b, nil
}

// parseLabel accepts ":NAME", "NAME" or "NAME:" at the start of a block.
// Names need at least two leading letters so that words are never taken
// for labels.
func (s *scanner) parseLabel(b *Block) error {
	colon := false
	if s.peek() == ':' {
		colon = true
		s.pos++
	}
	run := s.letterRun()
	if len(run) < 2 || keywords[run] {
		if colon {
			return s.errorf(":", "label name expected")
		}
		return nil
	}
	b.Label = s.ident()
	if s.peek() == ':' {
		s.pos++
	}
	return nil
}

func (s *scanner) parseKeyword(b *Block, run string) error {
	if !keywords[run] {
		return s.errorf(s.ident(), "unknown word")
	}
	if b.Flow != nil {
		return s.errorf(run, "only one control-flow statement per block")
	}
	s.pos += len(run)
	f := &Flow{}
	if run == "IF" {
		s.skipSpace()
		if s.peek() != '[' {
			return s.errorf("IF", "IF requires a bracketed condition")
		}
		cond, err := s.parseOperand()
		if err != nil {
			return err
		}
		f.Cond = cond
		s.skipSpace()
		run = s.letterRun()
		if run != "GOTO" && run != "GOSUB" {
			return s.errorf(run, "IF must be followed by GOTO or GOSUB")
		}
		s.pos += len(run)
	}
	switch run {
	case "GOTO":
		f.Kind = FlowGoto
	case "GOSUB":
		f.Kind = FlowGosub
	case "RETURN":
		f.Kind = FlowReturn
		b.Flow = f
		return nil
	}
	s.skipSpace()
	target, err := s.parseTarget(run)
	if err != nil {
		return err
	}
	f.Target = target
	b.Flow = f
	return nil
}

// parseTarget reads a jump target: a label, N<n> or a bare line number.
func (s *scanner) parseTarget(kw string) (string, error) {
	if isDigit(s.peek()) {
		n, _ := s.integer()
		return "N" + strconv.Itoa(n), nil
	}
	if s.peek() == 'N' && isDigit(s.peekAt(1)) {
		s.pos++
		n, _ := s.integer()
		return "N" + strconv.Itoa(n), nil
	}
	if isLetter(s.peek()) {
		return s.ident(), nil
	}
	return "", s.errorf(kw, kw+" requires a target")
}

func (s *scanner) parseWord() (Word, error) {
	start := s.pos
	letter := s.peek()
	s.pos++
	switch letter {
	case 'N':
		return Word{}, s.errorf(s.tokenFrom(start), "line number must lead the block")
	case 'O':
		return Word{}, s.errorf(s.tokenFrom(start), "program number must lead the block")
	case 'G', 'M':
		s.skipSpace()
		lit := s.literal()
		code, ok := parseCode(letter, lit)
		text := string(letter) + lit
		if !ok {
			return Word{}, s.errorf(s.tokenFrom(start), "malformed code")
		}
		if _, known := LookupCode(code); !known {
			return Word{}, s.errorf(text, "unknown code "+code.String())
		}
		if err := s.checkTerminated(start); err != nil {
			return Word{}, err
		}
		return Word{Letter: letter, Code: code, Value: Number(float64(code.Major) + float64(code.Minor)/10), Text: code.String()}, nil
	}
	s.skipSpace()
	if s.eof() || s.peek() == '(' || s.peek() == ';' {
		return Word{}, s.errorf(string(letter), "missing value")
	}
	v, err := s.parseOperand()
	if err != nil {
		return Word{}, err
	}
	if err := s.checkTerminated(start); err != nil {
		return Word{}, err
	}
	return Word{Letter: letter, Value: v, Text: strings.TrimSpace(s.src[start:s.pos])}, nil
}

func (s *scanner) tokenFrom(start int) string {
	end := s.pos
	for end < len(s.src) && s.src[end] != ' ' && s.src[end] != '\t' {
		end++
	}
	return s.src[start:end]
}

// checkTerminated rejects trailing garbage such as the second dot of
// X1.2.3.
func (s *scanner) checkTerminated(start int) error {
	c := s.peek()
	if isDigit(c) || c == '.' {
		s.literal()
		return s.errorf(s.src[start:s.pos], "malformed number")
	}
	return nil
}

func (s *scanner) number() (Expr, error) {
	start := s.pos
	lit := s.literal()
	if strings.Count(lit, ".") > 1 || lit == "." {
		return nil, s.errorf(s.tokenFrom(start), "malformed number")
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, s.errorf(lit, "malformed number")
	}
	return Number(v), nil
}

// parseOperand reads a signed number, a #n reference, a bracketed
// expression or a function call.
func (s *scanner) parseOperand() (Expr, error) {
	s.skipSpace()
	c := s.peek()
	switch {
	case c == '+' || c == '-':
		s.pos++
		x, err := s.parseOperand()
		if err != nil {
			return nil, err
		}
		if c == '-' {
			if n, ok := x.(Number); ok {
				return Number(-n), nil
			}
			return Negate{X: x}, nil
		}
		return x, nil
	case isDigit(c) || c == '.':
		return s.number()
	case c == '#':
		return s.parseVarRef()
	case c == '[':
		s.pos++
		x, err := s.parseExpr(0)
		if err != nil {
			return nil, err
		}
		s.skipSpace()
		if s.peek() != ']' {
			return nil, s.errorf(s.tokenFrom(s.pos), "missing ]")
		}
		s.pos++
		return x, nil
	case isLetter(c):
		name := s.letterRun()
		if !IsFunction(name) {
			return nil, s.errorf(name, "unknown function")
		}
		s.pos += len(name)
		s.skipSpace()
		if s.peek() != '[' {
			return nil, s.errorf(name, "function requires a bracketed argument")
		}
		arg, err := s.parseOperand()
		if err != nil {
			return nil, err
		}
		return Call{Name: name, Arg: arg}, nil
	case c == 0:
		return nil, s.errorf("", "missing value")
	}
	return nil, s.errorf(string(s.src[s.pos]), "unexpected character in value")
}

func (s *scanner) parseVarRef() (Expr, error) {
	s.pos++
	s.skipSpace()
	if s.peek() == '[' {
		idx, err := s.parseOperand()
		if err != nil {
			return nil, err
		}
		return Indirect{Index: idx}, nil
	}
	n, ok := s.integer()
	if !ok {
		return nil, s.errorf("#", "variable number expected")
	}
	return VarRef(n), nil
}

// peekOp returns the binary operator at the cursor and its width.
func (s *scanner) peekOp() (Op, int, bool) {
	switch s.peek() {
	case '+':
		return OpAdd, 1, true
	case '-':
		return OpSub, 1, true
	case '*':
		return OpMul, 1, true
	case '/':
		return OpDiv, 1, true
	}
	run := s.letterRun()
	if op, ok := wordOps[run]; ok {
		return op, len(run), true
	}
	return 0, 0, false
}

// parseExpr is a precedence climber over the operators in opPrecedence.
func (s *scanner) parseExpr(minPrec int) (Expr, error) {
	lhs, err := s.parseOperand()
	if err != nil {
		return nil, err
	}
	for {
		s.skipSpace()
		op, width, ok := s.peekOp()
		if !ok || opPrecedence[op] < minPrec {
			return lhs, nil
		}
		s.pos += width
		rhs, err := s.parseExpr(opPrecedence[op] + 1)
		if err != nil {
			return nil, err
		}
		lhs = Binary{Op: op, L: lhs, R: rhs}
	}
}

func (s *scanner) parseAssignment() (Assignment, error) {
	target, err := s.parseVarRef()
	if err != nil {
		return Assignment{}, err
	}
	s.skipSpace()
	if s.peek() != '=' {
		return Assignment{}, s.errorf(target.String(), "variable reference outside a word; expected =")
	}
	s.pos++
	v, err := s.parseExpr(0)
	if err != nil {
		return Assignment{}, err
	}
	return Assignment{Target: target, Value: v}, nil
}

// upper folds ASCII letters only so that byte offsets in up and src agree.
func upper(text string) string {
	buf := []byte(text)
	for i, c := range buf {
		if c >= 'a' && c <= 'z' {
			buf[i] = c - 'a' + 'A'
		}
	}
	return string(buf)
}

func itoa(n int) string { return strconv.Itoa(n) }
