// Parsed block model
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"strings"

	cncerr "modax-cnc/pkg/errors"
)

// Word is one letter/value pair of a block. For G and M words Code holds
// the normalised code; for every other letter Value holds the (possibly
// unevaluated) expression.
type Word struct {
	Letter byte
	Value  Expr
	Code   Code
	Text   string
}

// IsCode reports whether the word is a G or M code.
func (w Word) IsCode() bool { return w.Letter == 'G' || w.Letter == 'M' }

func (w Word) String() string { return w.Text }

// FlowKind identifies a control-flow statement.
type FlowKind int

const (
	FlowGoto FlowKind = iota + 1
	FlowGosub
	FlowReturn
)

func (k FlowKind) String() string {
	switch k {
	case FlowGoto:
		return "GOTO"
	case FlowGosub:
		return "GOSUB"
	case FlowReturn:
		return "RETURN"
	}
	return "NONE"
}

// Flow is a GOTO, GOSUB or RETURN statement. Cond, when set, guards the
// jump (IF [cond] GOTO target).
type Flow struct {
	Kind   FlowKind
	Target string
	Cond   Expr
}

// Assignment is #n=expr. Target is a VarRef or Indirect.
type Assignment struct {
	Target Expr
	Value  Expr
}

// Block is one parsed line of a part program.
type Block struct {
	Line        int
	Number      int
	HasNumber   bool
	Label       string
	Program     int
	BlockDelete bool
	Words       []Word
	Assignments []Assignment
	Flow        *Flow
	Comments    []string
	Raw         string
}

// Empty reports whether the block carries nothing at all.
func (b *Block) Empty() bool {
	return len(b.Words) == 0 && len(b.Assignments) == 0 && b.Flow == nil &&
		b.Label == "" && !b.HasNumber && b.Program == 0 && len(b.Comments) == 0
}

// Codes returns the block's G and M codes in source order.
func (b *Block) Codes() []Code {
	var codes []Code
	for _, w := range b.Words {
		if w.IsCode() {
			codes = append(codes, w.Code)
		}
	}
	return codes
}

// HasCode reports whether c appears in the block.
func (b *Block) HasCode(c Code) bool {
	for _, w := range b.Words {
		if w.IsCode() && w.Code == c {
			return true
		}
	}
	return false
}

// CodesIn returns the codes of the block belonging to group g.
func (b *Block) CodesIn(g Group) []Code {
	var codes []Code
	for _, c := range b.Codes() {
		if info, ok := LookupCode(c); ok && info.Group == g {
			codes = append(codes, c)
		}
	}
	return codes
}

// Word returns the parameter word for letter. G and M are not parameters.
func (b *Block) Word(letter byte) (Word, bool) {
	for _, w := range b.Words {
		if w.Letter == letter && !w.IsCode() {
			return w, true
		}
	}
	return Word{}, false
}

// Has reports whether a parameter word for letter is present.
func (b *Block) Has(letter byte) bool {
	_, ok := b.Word(letter)
	return ok
}

// HasAny reports whether any of letters is present.
func (b *Block) HasAny(letters string) bool {
	for i := 0; i < len(letters); i++ {
		if b.Has(letters[i]) {
			return true
		}
	}
	return false
}

// Literal returns the constant value of a parameter word, if it has one.
func (b *Block) Literal(letter byte) (float64, bool) {
	w, ok := b.Word(letter)
	if !ok {
		return 0, false
	}
	return Constant(w.Value)
}

// CheckModal returns a ModalConflictError when two codes of one modal
// group share the block.
func (b *Block) CheckModal() error {
	codes := b.Codes()
	for i := 0; i < len(codes); i++ {
		gi, _ := LookupCode(codes[i])
		for j := i + 1; j < len(codes); j++ {
			gj, _ := LookupCode(codes[j])
			if gi.Group != gj.Group || !conflicts(codes[i], codes[j], gi.Group) {
				continue
			}
			return cncerr.ModalConflictError(gi.Group.String(), b.Line, codes[i].String(), codes[j].String())
		}
	}
	return nil
}

func (b *Block) String() string {
	var parts []string
	if b.HasNumber {
		parts = append(parts, "N"+itoa(b.Number))
	}
	if b.Label != "" {
		parts = append(parts, b.Label+":")
	}
	if b.Program != 0 {
		parts = append(parts, "O"+itoa(b.Program))
	}
	for _, w := range b.Words {
		parts = append(parts, w.Text)
	}
	for _, a := range b.Assignments {
		parts = append(parts, a.Target.String()+"="+a.Value.String())
	}
	if b.Flow != nil {
		s := b.Flow.Kind.String()
		if b.Flow.Target != "" {
			s += " " + b.Flow.Target
		}
		if b.Flow.Cond != nil {
			s = "IF " + b.Flow.Cond.String() + " " + s
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}
