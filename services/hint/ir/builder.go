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

import "strconv"

// NewModule creates an empty compilation unit.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewFunction adds a function with the given parameter names to the module.
//
// A function without blocks is a declaration.
func (m *Module) NewFunction(name string, params ...string) *Function {
	f := &Function{
		Name:   name,
		module: m,
		names:  make(map[string]bool),
	}
	for i, p := range params {
		f.names[p] = true
		f.Params = append(f.Params, &Param{Name: p, Index: i, parent: f})
	}
	m.Functions = append(m.Functions, f)
	return f
}

// NewBlock appends an empty block to the function.
func (f *Function) NewBlock(label string) *Block {
	b := &Block{Label: label, parent: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// freshName returns an unused value name derived from hint.
func (f *Function) freshName(hint string) string {
	if f.names == nil {
		f.names = make(map[string]bool)
	}
	for {
		name := hint + strconv.Itoa(f.next)
		f.next++
		if !f.names[name] {
			f.names[name] = true
			return name
		}
	}
}

// claim reserves an explicit value name, reporting false on a duplicate.
func (f *Function) claim(name string) bool {
	if f.names == nil {
		f.names = make(map[string]bool)
	}
	if f.names[name] {
		return false
	}
	f.names[name] = true
	return true
}

func (b *Block) append(inst Instruction) {
	switch inst := inst.(type) {
	case *Call:
		inst.block = b
	case *Cmp:
		inst.block = b
	case *BinOp:
		inst.block = b
	}
	b.Instrs = append(b.Instrs, inst)
}

func (b *Block) terminate(term Terminator) {
	switch term := term.(type) {
	case *Branch:
		term.block = b
	case *Return:
		term.block = b
	}
	b.Term = term
}

// Call appends a direct call.
func (b *Block) Call(callee *Function, args ...Value) *Call {
	c := &Call{Name: b.parent.freshName("call"), Callee: callee, Args: args}
	b.append(c)
	return c
}

// CallIndirect appends a call through a function-pointer value.
func (b *Block) CallIndirect(target Value, args ...Value) *Call {
	c := &Call{Name: b.parent.freshName("call"), Target: target, Args: args}
	b.append(c)
	return c
}

// Cmp appends an integer comparison.
func (b *Block) Cmp(pred Predicate, x, y Value) *Cmp {
	c := &Cmp{Name: b.parent.freshName("cmp"), Pred: pred, X: x, Y: y}
	b.append(c)
	return c
}

// BinOp appends an opaque two-operand instruction.
func (b *Block) BinOp(opcode string, x, y Value) *BinOp {
	op := &BinOp{Name: b.parent.freshName(opcode), Opcode: opcode, X: x, Y: y}
	b.append(op)
	return op
}

// Br terminates the block with an unconditional branch.
func (b *Block) Br(dest *Block) *Branch {
	br := &Branch{Succs: []*Block{dest}}
	b.terminate(br)
	return br
}

// CondBr terminates the block with a two-way branch.
func (b *Block) CondBr(cond Value, ifTrue, ifFalse *Block) *Branch {
	br := &Branch{Cond: cond, Succs: []*Block{ifTrue, ifFalse}}
	b.terminate(br)
	return br
}

// Ret terminates the block with a return; v may be nil.
func (b *Block) Ret(v Value) *Return {
	r := &Return{Value: v}
	b.terminate(r)
	return r
}
