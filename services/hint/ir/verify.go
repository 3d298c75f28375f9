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

import "fmt"

// Verify checks the structural rules every pass relies on.
//
// Description:
//
//	Every block of a defined function must end in a terminator. A
//	conditional branch has a condition and two successors; an
//	unconditional branch has no condition and one successor. Successors
//	and operands must belong to the same function. Block labels are unique
//	within a function.
//
// Outputs:
//
//	error - nil, or a *VerifyError listing every problem found.
func Verify(m *Module) error {
	var problems []string
	report := func(f *Function, b *Block, format string, args ...any) {
		where := "@" + f.Name
		if b != nil {
			where += "/" + b.Label
		}
		problems = append(problems, where+": "+fmt.Sprintf(format, args...))
	}

	for _, f := range m.Functions {
		labels := make(map[string]bool, len(f.Blocks))
		for _, b := range f.Blocks {
			if labels[b.Label] {
				report(f, b, "duplicate block label")
			}
			labels[b.Label] = true

			for _, inst := range b.Instrs {
				for _, op := range operands(inst) {
					if !ownedBy(op, f) {
						report(f, b, "operand %s is not defined in this function", identOf(op))
					}
				}
			}

			switch term := b.Term.(type) {
			case nil:
				report(f, b, "block has no terminator")
			case *Branch:
				verifyBranch(f, b, term, report)
			case *Return:
				if term.Value != nil && !ownedBy(term.Value, f) {
					report(f, b, "returned value %s is not defined in this function", identOf(term.Value))
				}
			}
		}
	}

	if len(problems) > 0 {
		return &VerifyError{Problems: problems}
	}
	return nil
}

func verifyBranch(f *Function, b *Block, br *Branch, report func(*Function, *Block, string, ...any)) {
	switch {
	case br.Cond == nil && len(br.Succs) != 1:
		report(f, b, "unconditional branch must have 1 successor, has %d", len(br.Succs))
	case br.Cond != nil && len(br.Succs) != 2:
		report(f, b, "conditional branch must have 2 successors, has %d", len(br.Succs))
	}
	if br.Cond != nil && !ownedBy(br.Cond, f) {
		report(f, b, "branch condition %s is not defined in this function", identOf(br.Cond))
	}
	if br.Weights != nil {
		if br.Cond == nil {
			report(f, b, "unconditional branch carries weights")
		}
		if br.Weights[0] == 0 && br.Weights[1] == 0 {
			report(f, b, "branch weights are all zero")
		}
	}
	for i, succ := range br.Succs {
		if succ == nil {
			report(f, b, "successor %d is nil", i)
			continue
		}
		if succ.parent != f {
			report(f, b, "successor %d (%s) belongs to another function", i, succ.Label)
		}
	}
}

func operands(inst Instruction) []Value {
	switch inst := inst.(type) {
	case *Call:
		ops := append([]Value(nil), inst.Args...)
		if inst.Target != nil {
			ops = append(ops, inst.Target)
		}
		return ops
	case *Cmp:
		return []Value{inst.X, inst.Y}
	case *BinOp:
		return []Value{inst.X, inst.Y}
	}
	return nil
}

// ownedBy reports whether v may be used inside f. Constants are always
// usable.
func ownedBy(v Value, f *Function) bool {
	switch v := v.(type) {
	case nil:
		return false
	case *Const:
		return true
	case *Param:
		return v.parent == f
	case Instruction:
		return v.Parent() != nil && v.Parent().parent == f
	}
	return false
}

func identOf(v Value) string {
	if v == nil {
		return "<nil>"
	}
	return v.Ident()
}
