// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ir provides the intermediate representation that branch hint
// passes operate on.
//
// A Module (one compilation unit) holds Functions; a Function holds an
// ordered list of basic Blocks; a Block holds non-terminator instructions
// followed by exactly one Terminator.
//
// # Ownership Model
//
// The Module is owned by the caller. Passes traverse it and mutate branch
// metadata in place (weights, successor order) but never add or remove
// functions or blocks.
//
// # Thread Safety
//
// A Module is NOT safe for concurrent mutation. Distinct Functions share no
// mutable state, so a driver may process different Functions from
// different goroutines as long as each Function has a single writer.
//
// # Instruction Kinds
//
// Instruction kinds form a closed sum type. Callers dispatch with a type
// switch over *Call, *Cmp, *BinOp, *Branch and *Return, ignoring kinds
// they do not handle:
//
//	switch inst := inst.(type) {
//	case *ir.Branch:
//	    handle(inst)
//	default:
//	    // leave untouched
//	}
package ir

import (
	"fmt"
	"strconv"
)

// Predicate is an integer comparison predicate.
type Predicate int

const (
	// PredEQ is "equal".
	PredEQ Predicate = iota

	// PredNE is "not equal".
	PredNE

	// PredSGT is signed greater-than.
	PredSGT

	// PredSGE is signed greater-or-equal.
	PredSGE

	// PredSLT is signed less-than.
	PredSLT

	// PredSLE is signed less-or-equal.
	PredSLE

	// PredUGT is unsigned greater-than.
	PredUGT

	// PredUGE is unsigned greater-or-equal.
	PredUGE

	// PredULT is unsigned less-than.
	PredULT

	// PredULE is unsigned less-or-equal.
	PredULE
)

var predicateNames = map[Predicate]string{
	PredEQ:  "eq",
	PredNE:  "ne",
	PredSGT: "sgt",
	PredSGE: "sge",
	PredSLT: "slt",
	PredSLE: "sle",
	PredUGT: "ugt",
	PredUGE: "uge",
	PredULT: "ult",
	PredULE: "ule",
}

// String returns the textual form used in unit files ("eq", "ne", ...).
func (p Predicate) String() string {
	if name, ok := predicateNames[p]; ok {
		return name
	}
	return "unknown"
}

// ParsePredicate converts a textual predicate back into a Predicate.
func ParsePredicate(s string) (Predicate, bool) {
	for p, name := range predicateNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// BranchWeights is the profile annotation of a two-way branch.
//
// Index 0 weighs the successor taken when the condition is true, index 1
// the successor taken when it is false.
type BranchWeights [2]uint32

// Swapped returns the pair in reverse order.
func (w BranchWeights) Swapped() BranchWeights {
	return BranchWeights{w[1], w[0]}
}

// String renders the weights the way the textual printer attaches them.
func (w BranchWeights) String() string {
	return fmt.Sprintf("!{\"branch_weights\", %d, %d}", w[0], w[1])
}

// =============================================================================
// Values
// =============================================================================

// Value is anything that can appear as an operand.
type Value interface {
	// Ident returns the operand spelling: "%name" for named values, the
	// literal for constants.
	Ident() string

	isValue()
}

// Instruction is a node stored in a Block.
type Instruction interface {
	// Parent returns the block holding the instruction, or nil while
	// detached.
	Parent() *Block

	isInstruction()
}

// Terminator is an instruction that ends a Block.
type Terminator interface {
	Instruction

	// Successors returns the blocks control may transfer to.
	Successors() []*Block
}

// Const is a compile-time integer constant. Bits == 1 is a boolean.
type Const struct {
	Int  int64
	Bits int
}

// ConstInt returns an integer constant of the given bit width.
func ConstInt(v int64, bits int) *Const {
	return &Const{Int: v, Bits: bits}
}

// ConstBool returns an i1 constant.
func ConstBool(b bool) *Const {
	if b {
		return &Const{Int: 1, Bits: 1}
	}
	return &Const{Int: 0, Bits: 1}
}

// IsOne reports whether the constant equals 1 (or true).
func (c *Const) IsOne() bool { return c.Int == 1 }

// IsZero reports whether the constant equals 0 (or false).
func (c *Const) IsZero() bool { return c.Int == 0 }

// Ident implements Value.
func (c *Const) Ident() string {
	if c.Bits == 1 {
		if c.Int == 0 {
			return "false"
		}
		return "true"
	}
	return strconv.FormatInt(c.Int, 10)
}

func (c *Const) isValue() {}

// Param is a function argument: a value known only at run time.
type Param struct {
	Name  string
	Index int

	parent *Function
}

// Function returns the function declaring the parameter.
func (p *Param) Function() *Function { return p.parent }

// Ident implements Value.
func (p *Param) Ident() string { return "%" + p.Name }

func (p *Param) isValue() {}

// =============================================================================
// Instructions
// =============================================================================

// Call invokes a function. Callee is nil for indirect calls, in which case
// Target holds the called value.
type Call struct {
	Name   string
	Callee *Function
	Target Value
	Args   []Value

	block *Block
}

// CalleeName returns the statically known callee name.
//
// The second result is false for indirect calls and for callees without a
// name; such call sites cannot be matched against anything.
func (c *Call) CalleeName() (string, bool) {
	if c == nil || c.Callee == nil || c.Callee.Name == "" {
		return "", false
	}
	return c.Callee.Name, true
}

// Arg returns argument i, or nil when the call has fewer arguments.
func (c *Call) Arg(i int) Value {
	if i < 0 || i >= len(c.Args) {
		return nil
	}
	return c.Args[i]
}

// Parent implements Instruction.
func (c *Call) Parent() *Block { return c.block }

// Ident implements Value.
func (c *Call) Ident() string { return "%" + c.Name }

func (c *Call) isValue()       {}
func (c *Call) isInstruction() {}

// Cmp is an integer comparison producing an i1.
type Cmp struct {
	Name string
	Pred Predicate
	X, Y Value

	block *Block
}

// Operands returns both compared values in order.
func (c *Cmp) Operands() []Value { return []Value{c.X, c.Y} }

// Parent implements Instruction.
func (c *Cmp) Parent() *Block { return c.block }

// Ident implements Value.
func (c *Cmp) Ident() string { return "%" + c.Name }

func (c *Cmp) isValue()       {}
func (c *Cmp) isInstruction() {}

// BinOp is any other two-operand computation ("add", "xor", ...). Passes
// treat it as opaque.
type BinOp struct {
	Name   string
	Opcode string
	X, Y   Value

	block *Block
}

// Parent implements Instruction.
func (b *BinOp) Parent() *Block { return b.block }

// Ident implements Value.
func (b *BinOp) Ident() string { return "%" + b.Name }

func (b *BinOp) isValue()       {}
func (b *BinOp) isInstruction() {}

// Branch transfers control to one of its successors.
//
// An unconditional branch has a nil Cond and exactly one successor. A
// conditional branch has a Cond and exactly two successors: Succs[0] is
// taken when Cond is true, Succs[1] when it is false.
type Branch struct {
	Cond    Value
	Succs   []*Block
	Weights *BranchWeights

	block *Block
}

// IsConditional reports whether the branch has a condition and two edges.
func (b *Branch) IsConditional() bool {
	return b.Cond != nil && len(b.Succs) == 2
}

// IsUnconditional is the negation of IsConditional.
func (b *Branch) IsUnconditional() bool {
	return !b.IsConditional()
}

// SetWeights replaces any weights attached to the branch.
func (b *Branch) SetWeights(w BranchWeights) {
	b.Weights = &w
}

// SwapSuccessors exchanges the two edges of a conditional branch together
// with their weights.
//
// The condition is left alone; callers that want to keep the program's
// meaning pair this with InvertCondition.
func (b *Branch) SwapSuccessors() {
	if !b.IsConditional() {
		return
	}
	b.Succs[0], b.Succs[1] = b.Succs[1], b.Succs[0]
	if b.Weights != nil {
		b.SetWeights(b.Weights.Swapped())
	}
}

// InvertCondition replaces the condition c with "xor c, true", inserted
// right before the branch. It returns nil and changes nothing when the
// branch is not attached to a block of some function.
func (b *Branch) InvertCondition() *BinOp {
	if !b.IsConditional() || b.block == nil || b.block.parent == nil {
		return nil
	}
	blk := b.block
	not := &BinOp{
		Name:   blk.parent.freshName("not"),
		Opcode: "xor",
		X:      b.Cond,
		Y:      ConstBool(true),
	}
	blk.append(not)
	b.Cond = not
	return not
}

// Successors implements Terminator.
func (b *Branch) Successors() []*Block { return b.Succs }

// Parent implements Instruction.
func (b *Branch) Parent() *Block { return b.block }

func (b *Branch) isInstruction() {}

// Return leaves the function. Value is nil for a void return.
type Return struct {
	Value Value

	block *Block
}

// Successors implements Terminator.
func (r *Return) Successors() []*Block { return nil }

// Parent implements Instruction.
func (r *Return) Parent() *Block { return r.block }

func (r *Return) isInstruction() {}

// =============================================================================
// Containers
// =============================================================================

// Block is a basic block.
type Block struct {
	Label  string
	Instrs []Instruction
	Term   Terminator

	parent *Function
}

// Function returns the function owning the block.
func (b *Block) Function() *Function { return b.parent }

// Function is a defined function, or a declaration when it has no blocks.
type Function struct {
	Name   string
	Params []*Param
	Blocks []*Block

	module *Module
	names  map[string]bool
	next   int
}

// Module returns the module the function belongs to.
func (f *Function) Module() *Module { return f.module }

// IsDeclaration reports whether the function has no body.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// Block returns the block with the given label, or nil.
func (f *Function) Block(label string) *Block {
	for _, b := range f.Blocks {
		if b.Label == label {
			return b
		}
	}
	return nil
}

// Param returns the parameter with the given name, or nil.
func (f *Function) Param(name string) *Param {
	for _, p := range f.Params {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Module is one compilation unit.
type Module struct {
	Name      string
	Functions []*Function
}

// Function returns the function with the given name, or nil.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}
