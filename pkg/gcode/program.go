// Part program loading and jump-target index
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	cncerr "modax-cnc/pkg/errors"
	"modax-cnc/pkg/log"
)

// Program is a parsed part program with its jump-target index.
type Program struct {
	Name     string
	Blocks   []*Block
	Warnings []string

	labels map[string]int
}

// ParseProgram parses every line of text, builds the label index and
// validates all statically known jump and call targets. All problems
// found are returned together as an errors.List.
func ParseProgram(name, text string) (*Program, error) {
	p := &Program{Name: name, labels: make(map[string]int)}
	var errs cncerr.List

	text = strings.ReplaceAll(text, "\r\n", "\n")
	for i, line := range strings.Split(text, "\n") {
		b, err := ParseLine(i+1, line)
		if err != nil {
			errs = append(errs, asCNC(err))
			continue
		}
		if b.Empty() {
			continue
		}
		p.Blocks = append(p.Blocks, b)
	}

	errs = append(errs, p.index()...)
	errs = append(errs, p.validate()...)
	if err := errs.Err(); err != nil {
		return nil, err
	}

	logger := log.GetLogger("gcode")
	for _, w := range p.Warnings {
		logger.WithField("program", name).Warn("%s", w)
	}
	return p, nil
}

func asCNC(err error) *cncerr.CNCError {
	if ce, ok := cncerr.As(err); ok {
		return ce
	}
	return cncerr.Wrap(err, cncerr.ErrParse, "parse failed")
}

func (p *Program) index() cncerr.List {
	var errs cncerr.List
	for i, b := range p.Blocks {
		if b.Label != "" {
			if prev, dup := p.labels[b.Label]; dup {
				errs = append(errs, cncerr.ParseError(b.Line, b.Label,
					fmt.Sprintf("duplicate label (first defined on line %d)", p.Blocks[prev].Line)))
			} else {
				p.labels[b.Label] = i
			}
		}
		if b.HasNumber {
			key := "N" + strconv.Itoa(b.Number)
			if prev, dup := p.labels[key]; dup {
				p.Warnings = append(p.Warnings, fmt.Sprintf("line %d: %s repeats line %d; jumps use the first", b.Line, key, p.Blocks[prev].Line))
			} else {
				p.labels[key] = i
			}
		}
		if b.Program != 0 {
			key := "O" + strconv.Itoa(b.Program)
			if prev, dup := p.labels[key]; dup {
				errs = append(errs, cncerr.ParseError(b.Line, key,
					fmt.Sprintf("duplicate program number (first defined on line %d)", p.Blocks[prev].Line)))
			} else {
				p.labels[key] = i
			}
		}
	}
	return errs
}

func (p *Program) validate() cncerr.List {
	var errs cncerr.List
	usesLabels, usesSubprograms := false, false
	for _, b := range p.Blocks {
		if b.Flow != nil && b.Flow.Kind != FlowReturn {
			usesLabels = true
			if _, ok := p.Resolve(b.Flow.Target); !ok {
				errs = append(errs, cncerr.UnknownLabelError(b.Flow.Target, b.Line))
			}
		}
		if b.Flow != nil && b.Flow.Kind == FlowReturn {
			usesLabels = true
		}
		for _, c := range []Code{M(98), G(65)} {
			if !b.HasCode(c) {
				continue
			}
			usesSubprograms = true
			w, ok := b.Word('P')
			if !ok {
				errs = append(errs, cncerr.ParseError(b.Line, c.String(), c.String()+" requires a P word"))
				continue
			}
			n, literal := Constant(w.Value)
			if !literal {
				continue
			}
			if _, ok := p.Subprogram(int(math.Round(n))); !ok {
				errs = append(errs, cncerr.UnknownLabelError("O"+strconv.Itoa(int(math.Round(n))), b.Line))
			}
		}
		if b.HasCode(M(99)) {
			usesSubprograms = true
		}
		if err := b.CheckModal(); err != nil {
			errs = append(errs, asCNC(err))
		}
		if (b.HasCode(G(2)) || b.HasCode(G(3))) && b.HasAny("XYZ") && !b.HasAny("IJKR") {
			errs = append(errs, cncerr.ParseError(b.Line, b.Codes()[0].String(), "arc requires I/J/K offsets or R"))
		}
		for _, c := range []Code{G(0), G(1), G(2), G(3)} {
			if b.HasCode(c) && !b.HasAny("XYZABCIJKR") {
				p.Warnings = append(p.Warnings, fmt.Sprintf("line %d: %s without coordinates only sets the motion mode", b.Line, c))
			}
		}
	}
	if usesLabels && usesSubprograms {
		p.Warnings = append(p.Warnings, "program mixes GOTO/GOSUB with O/M98 subprograms; both share one call stack")
	}
	return errs
}

// Resolve returns the block index of a label, "N<n>" or bare line number.
func (p *Program) Resolve(target string) (int, bool) {
	target = strings.ToUpper(strings.TrimSuffix(strings.TrimPrefix(target, ":"), ":"))
	if _, err := strconv.Atoi(target); err == nil {
		target = "N" + target
	}
	idx, ok := p.labels[target]
	return idx, ok
}

// Subprogram returns the block index for subprogram n: the O-number
// header, or failing that the N-numbered block.
func (p *Program) Subprogram(n int) (int, bool) {
	if idx, ok := p.labels["O"+strconv.Itoa(n)]; ok {
		return idx, true
	}
	idx, ok := p.labels["N"+strconv.Itoa(n)]
	return idx, ok
}

// Len returns the number of blocks.
func (p *Program) Len() int { return len(p.Blocks) }

// Labels returns the index keys, for diagnostics.
func (p *Program) Labels() []string {
	keys := make([]string, 0, len(p.labels))
	for k := range p.labels {
		keys = append(keys, k)
	}
	return keys
}
