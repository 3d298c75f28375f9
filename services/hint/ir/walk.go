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

// Visitor receives callbacks from Walk. Kinds a visitor has no interest in
// are left to the no-op methods of BaseVisitor.
type Visitor interface {
	VisitCall(*Call)
	VisitCmp(*Cmp)
	VisitBinOp(*BinOp)
	VisitBranch(*Branch)
	VisitReturn(*Return)
}

// BaseVisitor implements every Visitor method as a no-op. Embed it and
// override the kinds of interest.
type BaseVisitor struct{}

func (BaseVisitor) VisitCall(*Call)     {}
func (BaseVisitor) VisitCmp(*Cmp)       {}
func (BaseVisitor) VisitBinOp(*BinOp)   {}
func (BaseVisitor) VisitBranch(*Branch) {}
func (BaseVisitor) VisitReturn(*Return) {}

// Walk visits every instruction of every defined function in m, in
// function, block and instruction order, terminators last in each block.
func Walk(m *Module, v Visitor) {
	for _, f := range m.Functions {
		WalkFunction(f, v)
	}
}

// WalkFunction is Walk restricted to one function.
func WalkFunction(f *Function, v Visitor) {
	for _, b := range f.Blocks {
		for _, inst := range b.Instrs {
			dispatch(inst, v)
		}
		if b.Term != nil {
			dispatch(b.Term, v)
		}
	}
}

func dispatch(inst Instruction, v Visitor) {
	switch inst := inst.(type) {
	case *Call:
		v.VisitCall(inst)
	case *Cmp:
		v.VisitCmp(inst)
	case *BinOp:
		v.VisitBinOp(inst)
	case *Branch:
		v.VisitBranch(inst)
	case *Return:
		v.VisitReturn(inst)
	}
}

// branchVisitor adapts a callback to the Visitor interface.
type branchVisitor struct {
	BaseVisitor
	fn func(*Branch)
}

func (v branchVisitor) VisitBranch(br *Branch) { v.fn(br) }

// VisitBranches calls fn for every branch terminator in f.
func VisitBranches(f *Function, fn func(*Branch)) {
	WalkFunction(f, branchVisitor{fn: fn})
}

// Branches returns every branch terminator in m.
func Branches(m *Module) []*Branch {
	var out []*Branch
	Walk(m, branchVisitor{fn: func(br *Branch) {
		out = append(out, br)
	}})
	return out
}
