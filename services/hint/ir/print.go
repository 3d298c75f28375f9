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
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Print writes a human-readable listing of m to w.
//
// The listing is LLVM-flavoured: one "define" per function, labels flush
// left, instructions indented, branch weights attached as "!prof".
func Print(w io.Writer, m *Module) error {
	bw := bufio.NewWriter(w)
	if m.Name != "" {
		fmt.Fprintf(bw, "; unit: %s\n", m.Name)
	}
	for i, f := range m.Functions {
		if i > 0 || m.Name != "" {
			bw.WriteString("\n")
		}
		printFunction(bw, f)
	}
	return bw.Flush()
}

// String returns the Print listing of m.
func (m *Module) String() string {
	var sb strings.Builder
	_ = Print(&sb, m)
	return sb.String()
}

func printFunction(w *bufio.Writer, f *Function) {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.Ident()
	}
	if f.IsDeclaration() {
		fmt.Fprintf(w, "declare @%s(%s)\n", f.Name, strings.Join(params, ", "))
		return
	}
	fmt.Fprintf(w, "define @%s(%s) {\n", f.Name, strings.Join(params, ", "))
	for _, b := range f.Blocks {
		fmt.Fprintf(w, "%s:\n", b.Label)
		for _, inst := range b.Instrs {
			fmt.Fprintf(w, "  %s\n", FormatInstruction(inst))
		}
		if b.Term != nil {
			fmt.Fprintf(w, "  %s\n", FormatInstruction(b.Term))
		}
	}
	w.WriteString("}\n")
}

// FormatInstruction renders a single instruction without indentation.
func FormatInstruction(inst Instruction) string {
	switch inst := inst.(type) {
	case *Call:
		callee := "<unknown>"
		if name, ok := inst.CalleeName(); ok {
			callee = "@" + name
		} else if inst.Target != nil {
			callee = inst.Target.Ident()
		}
		return fmt.Sprintf("%s = call %s(%s)", inst.Ident(), callee, joinIdents(inst.Args))
	case *Cmp:
		return fmt.Sprintf("%s = icmp %s %s, %s", inst.Ident(), inst.Pred, identOf(inst.X), identOf(inst.Y))
	case *BinOp:
		return fmt.Sprintf("%s = %s %s, %s", inst.Ident(), inst.Opcode, identOf(inst.X), identOf(inst.Y))
	case *Branch:
		var s string
		if inst.Cond == nil {
			s = "br " + joinLabels(inst.Succs)
		} else {
			s = fmt.Sprintf("br %s, %s", inst.Cond.Ident(), joinLabels(inst.Succs))
		}
		if inst.Weights != nil {
			s += ", !prof " + inst.Weights.String()
		}
		return s
	case *Return:
		if inst.Value == nil {
			return "ret void"
		}
		return "ret " + inst.Value.Ident()
	}
	return fmt.Sprintf("<unknown %T>", inst)
}

func joinIdents(vals []Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = identOf(v)
	}
	return strings.Join(parts, ", ")
}

func joinLabels(blocks []*Block) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		if b == nil {
			parts[i] = "label <nil>"
			continue
		}
		parts[i] = "label %" + b.Label
	}
	return strings.Join(parts, ", ")
}
