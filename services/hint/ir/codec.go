// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ir

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FormatVersion is the unit file format written by Encode. Decode accepts
// any version with the same major number that is not newer than this one.
const FormatVersion = "v1.1.0"

// binaryOpcodes lists the opaque two-operand opcodes a unit may use.
var binaryOpcodes = map[string]bool{
	"add": true, "sub": true, "mul": true, "sdiv": true, "udiv": true,
	"srem": true, "urem": true, "and": true, "or": true, "xor": true,
	"shl": true, "lshr": true, "ashr": true,
}

// =============================================================================
// Document Types
// =============================================================================

// A unit file looks like:
//
//	format: v1.1.0
//	unit: test.cpp
//	functions:
//	  - name: __builtin_expect_
//	    params: [actual, expected]
//	  - name: main
//	    params: [argc]
//	    blocks:
//	      - label: entry
//	        instrs:
//	          - {name: cmp, op: icmp, pred: sgt, args: ["%argc", "0"]}
//	          - {name: call, op: call, callee: __builtin_expect_, args: ["%cmp", "true"]}
//	        term: {op: br, cond: "%call", succs: [if.then, if.else]}
//	      ...
//
// Operands are "%name" references, "true"/"false", or integers with an
// optional ":iN" width suffix (default i32). A callee starting with "%" is
// an indirect call through that value.
type unitDoc struct {
	Format    string        `yaml:"format"`
	Unit      string        `yaml:"unit,omitempty"`
	Functions []functionDoc `yaml:"functions"`
}

type functionDoc struct {
	Name   string     `yaml:"name"`
	Params []string   `yaml:"params,omitempty,flow"`
	Blocks []blockDoc `yaml:"blocks,omitempty"`
}

type blockDoc struct {
	Label  string     `yaml:"label"`
	Instrs []instrDoc `yaml:"instrs,omitempty"`
	Term   *termDoc   `yaml:"term"`
}

type instrDoc struct {
	Name   string   `yaml:"name"`
	Op     string   `yaml:"op"`
	Pred   string   `yaml:"pred,omitempty"`
	Callee string   `yaml:"callee,omitempty"`
	Args   []string `yaml:"args,omitempty,flow"`
}

type termDoc struct {
	Op      string   `yaml:"op"`
	Cond    string   `yaml:"cond,omitempty"`
	Succs   []string `yaml:"succs,omitempty,flow"`
	Weights []uint32 `yaml:"weights,omitempty,flow"`
	Value   string   `yaml:"value,omitempty"`
}

// =============================================================================
// Decoding
// =============================================================================

// Load reads a unit file from disk.
//
// The module is named after the file's "unit" field, or the file's base
// name when the field is absent.
func Load(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open unit: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return m, nil
}

// Decode reads a unit document from r.
//
// Outputs:
//
//	*Module - The decoded module.
//	error - A *ParseError wrapping ErrMalformedUnit or ErrUnsupportedFormat,
//	        or the YAML syntax error.
func Decode(r io.Reader) (*Module, error) {
	var doc unitDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode unit: %w", err)
	}
	if doc.Format == "" {
		doc.Format = FormatVersion
	}
	if err := checkFormat(doc.Format); err != nil {
		return nil, err
	}

	m := NewModule(doc.Unit)
	for _, fd := range doc.Functions {
		if fd.Name == "" {
			return nil, malformed("", "", "function without a name")
		}
		if m.Function(fd.Name) != nil {
			return nil, malformed(fd.Name, "", "duplicate function")
		}
		seen := make(map[string]bool, len(fd.Params))
		for _, p := range fd.Params {
			if seen[p] {
				return nil, malformed(fd.Name, "", "duplicate parameter %q", p)
			}
			seen[p] = true
		}
		m.NewFunction(fd.Name, fd.Params...)
	}

	for i, fd := range doc.Functions {
		if err := decodeBody(m, m.Functions[i], fd); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func checkFormat(v string) error {
	if !semver.IsValid(v) {
		return &ParseError{Msg: fmt.Sprintf("format %q is not a semantic version", v), Err: ErrUnsupportedFormat}
	}
	if semver.Major(v) != semver.Major(FormatVersion) || semver.Compare(v, FormatVersion) > 0 {
		return &ParseError{Msg: fmt.Sprintf("format %s, reader supports up to %s", v, FormatVersion), Err: ErrUnsupportedFormat}
	}
	return nil
}

// pendingInstr remembers the unresolved operands of one instruction.
type pendingInstr struct {
	inst Instruction
	doc  instrDoc
}

func decodeBody(m *Module, f *Function, fd functionDoc) error {
	for _, bd := range fd.Blocks {
		if bd.Label == "" {
			return malformed(f.Name, "", "block without a label")
		}
		if f.Block(bd.Label) != nil {
			return malformed(f.Name, bd.Label, "duplicate block label")
		}
		f.NewBlock(bd.Label)
	}

	// First pass: create instructions so operands may refer forward.
	values := make(map[string]Value, len(f.Params))
	for _, p := range f.Params {
		values[p.Name] = p
	}
	var pending []pendingInstr
	for bi, bd := range fd.Blocks {
		b := f.Blocks[bi]
		for _, id := range bd.Instrs {
			if id.Name == "" {
				return malformed(f.Name, b.Label, "%s instruction without a name", id.Op)
			}
			if !f.claim(id.Name) {
				return malformed(f.Name, b.Label, "value %%%s defined twice", id.Name)
			}
			var inst Instruction
			switch {
			case id.Op == "call":
				inst = &Call{Name: id.Name}
			case id.Op == "icmp":
				pred, ok := ParsePredicate(id.Pred)
				if !ok {
					return malformed(f.Name, b.Label, "unknown predicate %q", id.Pred)
				}
				inst = &Cmp{Name: id.Name, Pred: pred}
			case binaryOpcodes[id.Op]:
				inst = &BinOp{Name: id.Name, Opcode: id.Op}
			default:
				return malformed(f.Name, b.Label, "unknown opcode %q", id.Op)
			}
			b.append(inst)
			values[id.Name] = inst.(Value)
			pending = append(pending, pendingInstr{inst: inst, doc: id})
		}
	}

	// Second pass: resolve operands.
	for _, p := range pending {
		b := p.inst.Parent()
		resolve := func(s string) (Value, error) {
			v, err := parseOperand(s, values)
			if err != nil {
				return nil, malformed(f.Name, b.Label, "%%%s: %v", p.doc.Name, err)
			}
			return v, nil
		}
		args := make([]Value, len(p.doc.Args))
		for i, a := range p.doc.Args {
			v, err := resolve(a)
			if err != nil {
				return err
			}
			args[i] = v
		}

		switch inst := p.inst.(type) {
		case *Call:
			inst.Args = args
			switch {
			case strings.HasPrefix(p.doc.Callee, "%"):
				target, err := resolve(p.doc.Callee)
				if err != nil {
					return err
				}
				inst.Target = target
			case p.doc.Callee == "":
				return malformed(f.Name, b.Label, "%%%s: call without a callee", p.doc.Name)
			default:
				callee := m.Function(strings.TrimPrefix(p.doc.Callee, "@"))
				if callee == nil {
					return malformed(f.Name, b.Label, "%%%s: call to undeclared function %q", p.doc.Name, p.doc.Callee)
				}
				inst.Callee = callee
			}
		case *Cmp:
			if len(args) != 2 {
				return malformed(f.Name, b.Label, "%%%s: icmp takes 2 operands, got %d", p.doc.Name, len(args))
			}
			inst.X, inst.Y = args[0], args[1]
		case *BinOp:
			if len(args) != 2 {
				return malformed(f.Name, b.Label, "%%%s: %s takes 2 operands, got %d", p.doc.Name, inst.Opcode, len(args))
			}
			inst.X, inst.Y = args[0], args[1]
		}
	}

	for bi, bd := range fd.Blocks {
		if err := decodeTerm(f, f.Blocks[bi], bd.Term, values); err != nil {
			return err
		}
	}
	return nil
}

func decodeTerm(f *Function, b *Block, td *termDoc, values map[string]Value) error {
	if td == nil {
		return malformed(f.Name, b.Label, "block has no terminator")
	}
	switch td.Op {
	case "br":
		br := &Branch{}
		if td.Cond != "" {
			cond, err := parseOperand(td.Cond, values)
			if err != nil {
				return malformed(f.Name, b.Label, "branch condition: %v", err)
			}
			br.Cond = cond
		}
		for _, label := range td.Succs {
			succ := f.Block(label)
			if succ == nil {
				return malformed(f.Name, b.Label, "branch to unknown block %q", label)
			}
			br.Succs = append(br.Succs, succ)
		}
		switch {
		case br.Cond == nil && len(br.Succs) != 1:
			return malformed(f.Name, b.Label, "unconditional branch needs 1 successor, got %d", len(br.Succs))
		case br.Cond != nil && len(br.Succs) != 2:
			return malformed(f.Name, b.Label, "conditional branch needs 2 successors, got %d", len(br.Succs))
		}
		if len(td.Weights) > 0 {
			if len(td.Weights) != 2 || br.Cond == nil {
				return malformed(f.Name, b.Label, "weights need a conditional branch and exactly 2 values")
			}
			br.SetWeights(BranchWeights{td.Weights[0], td.Weights[1]})
		}
		b.terminate(br)
	case "ret":
		ret := &Return{}
		if td.Value != "" {
			v, err := parseOperand(td.Value, values)
			if err != nil {
				return malformed(f.Name, b.Label, "return value: %v", err)
			}
			ret.Value = v
		}
		b.terminate(ret)
	default:
		return malformed(f.Name, b.Label, "unknown terminator %q", td.Op)
	}
	return nil
}

// parseOperand resolves "%name", "true", "false", "42" or "42:i64".
func parseOperand(s string, values map[string]Value) (Value, error) {
	switch {
	case strings.HasPrefix(s, "%"):
		v, ok := values[s[1:]]
		if !ok {
			return nil, fmt.Errorf("undefined value %s", s)
		}
		return v, nil
	case s == "true":
		return ConstBool(true), nil
	case s == "false":
		return ConstBool(false), nil
	}

	lit, width, hasWidth := strings.Cut(s, ":")
	n, err := strconv.ParseInt(lit, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("bad operand %q", s)
	}
	bits := 32
	if hasWidth {
		bits, err = strconv.Atoi(strings.TrimPrefix(width, "i"))
		if err != nil || !strings.HasPrefix(width, "i") || bits < 1 || bits > 64 {
			return nil, fmt.Errorf("bad integer width in %q", s)
		}
	}
	if !fits(n, bits) {
		return nil, fmt.Errorf("literal %q does not fit in i%d", s, bits)
	}
	return ConstInt(n, bits), nil
}

// fits reports whether n is representable as an iN constant, read either
// signed or unsigned. An i1 only holds 0 and 1.
func fits(n int64, bits int) bool {
	switch {
	case bits == 1:
		return n == 0 || n == 1
	case bits == 64:
		return true
	}
	return n >= -(int64(1)<<(bits-1)) && n <= int64(1)<<bits-1
}

// =============================================================================
// Encoding
// =============================================================================

// Encode writes m as a unit document, including any branch weights.
func Encode(w io.Writer, m *Module) error {
	doc := unitDoc{
		Format:    FormatVersion,
		Unit:      m.Name,
		Functions: make([]functionDoc, 0, len(m.Functions)),
	}
	for _, f := range m.Functions {
		doc.Functions = append(doc.Functions, encodeFunction(f))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode unit: %w", err)
	}
	return enc.Close()
}

// Save writes m to path with Encode.
func Save(path string, m *Module) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	if err := Encode(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeFunction(f *Function) functionDoc {
	fd := functionDoc{Name: f.Name}
	for _, p := range f.Params {
		fd.Params = append(fd.Params, p.Name)
	}
	for _, b := range f.Blocks {
		bd := blockDoc{Label: b.Label}
		for _, inst := range b.Instrs {
			bd.Instrs = append(bd.Instrs, encodeInstr(inst))
		}
		bd.Term = encodeTerm(b.Term)
		fd.Blocks = append(fd.Blocks, bd)
	}
	return fd
}

func encodeInstr(inst Instruction) instrDoc {
	switch inst := inst.(type) {
	case *Call:
		id := instrDoc{Name: inst.Name, Op: "call", Args: literals(inst.Args...)}
		if name, ok := inst.CalleeName(); ok {
			id.Callee = name
		} else if inst.Target != nil {
			id.Callee = literal(inst.Target)
		}
		return id
	case *Cmp:
		return instrDoc{Name: inst.Name, Op: "icmp", Pred: inst.Pred.String(), Args: literals(inst.X, inst.Y)}
	case *BinOp:
		return instrDoc{Name: inst.Name, Op: inst.Opcode, Args: literals(inst.X, inst.Y)}
	}
	return instrDoc{}
}

func encodeTerm(term Terminator) *termDoc {
	switch term := term.(type) {
	case *Branch:
		td := &termDoc{Op: "br"}
		if term.Cond != nil {
			td.Cond = literal(term.Cond)
		}
		for _, s := range term.Succs {
			td.Succs = append(td.Succs, s.Label)
		}
		if term.Weights != nil {
			td.Weights = []uint32{term.Weights[0], term.Weights[1]}
		}
		return td
	case *Return:
		td := &termDoc{Op: "ret"}
		if term.Value != nil {
			td.Value = literal(term.Value)
		}
		return td
	}
	return nil
}

func literals(vals ...Value) []string {
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = literal(v)
	}
	return out
}

// literal is Ident plus the width suffix for non-default integer widths.
// An i1 holding anything but 0 or 1 keeps its raw value so that decoding
// refuses it instead of reading it back as true.
func literal(v Value) string {
	c, ok := v.(*Const)
	switch {
	case !ok:
		return v.Ident()
	case c.Bits == 1 && c.Int != 0 && c.Int != 1:
		return fmt.Sprintf("%d:i1", c.Int)
	case c.Bits != 1 && c.Bits != 32:
		return fmt.Sprintf("%d:i%d", c.Int, c.Bits)
	}
	return c.Ident()
}
