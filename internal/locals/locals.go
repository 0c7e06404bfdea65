// Package locals reconstructs the set of local variables visible at a given
// program point by simulating local-slot liveness across the control-flow
// graph, refined by debug info when the class carries it.
package locals

import (
	"errors"
	"fmt"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
)

// ErrImplicitDiscriminator reports that implicit by-type matching found zero
// or several candidate locals and refuses to guess.
var ErrImplicitDiscriminator = errors.New("implicit local discriminator is ambiguous")

// top marks the second slot of a long or double value.
const top = "TOP"

// Variable is one reconstructed local visible at a program point.
type Variable struct {
	Slot    int
	Name    string
	Desc    string
	Ordinal int  // rank among same-typed visible locals
	IsTop   bool // second slot of a wide value, never addressable
}

// ResolveAt computes the locals visible immediately before the instruction
// at. Formal parameters (plus the receiver for instance methods) are always
// included; other slots only when the simulated control flow initializes them
// on every path and, absent debug info, never at all: the args-only fallback
// is strictly smaller but always safe.
func ResolveAt(owner string, mt *classfile.Method, at *bytecode.Insn) ([]*Variable, error) {
	if mt.Code == nil {
		return nil, fmt.Errorf("method %s%s has no body", mt.Name, mt.Desc)
	}
	if !mt.Code.Insns.Contains(at) {
		return nil, fmt.Errorf("instruction is not part of %s%s", mt.Name, mt.Desc)
	}

	entry := entryFrame(owner, mt)
	argSlots := len(entry)

	frame, err := simulate(mt.Code, entry, at)
	if err != nil {
		return nil, err
	}

	debug := debugIndex(mt.Code, at)

	var out []*Variable

	byDesc := map[string]int{}

	for slot := 0; slot < len(frame); slot++ {
		desc := frame[slot]
		if desc == "" {
			continue
		}

		if desc == top {
			out = append(out, &Variable{Slot: slot, Name: top, Desc: top, IsTop: true})
			continue
		}

		dbg, hasDebug := debug[slot]

		switch {
		case slot < argSlots:
			// Parameters are always visible; prefer their debug names.
		case hasDebug:
			desc = dbg.Desc
		default:
			// Initialized on every path but invisible to debug info: skip,
			// the inferred store type is too coarse for signature checks.
			continue
		}

		v := &Variable{Slot: slot, Desc: desc}

		if hasDebug {
			v.Name = dbg.Name
			v.Desc = dbg.Desc
		} else {
			v.Name = fmt.Sprintf("var%d", slot)
		}

		v.Ordinal = byDesc[v.Desc]
		byDesc[v.Desc]++

		out = append(out, v)
	}

	return out, nil
}

// Discriminator selects one local among the reconstructed candidates.
type Discriminator struct {
	Ordinal *int   // rank among locals of the wanted type
	Index   *int   // explicit slot index
	Name    string // debug name
	Type    string // wanted type descriptor, used by ordinal and implicit modes
}

// Find applies the discriminator: explicit index, then name, then ordinal,
// then implicit sole-candidate-by-type. Implicit mode fails rather than
// guessing when the candidate count is not exactly one.
func (d Discriminator) Find(vars []*Variable) (*Variable, error) {
	if d.Index != nil {
		for _, v := range vars {
			if v.Slot == *d.Index && !v.IsTop {
				return v, nil
			}
		}

		return nil, fmt.Errorf("no local at slot %d", *d.Index)
	}

	if d.Name != "" {
		for _, v := range vars {
			if v.Name == d.Name {
				return v, nil
			}
		}

		return nil, fmt.Errorf("no local named %q", d.Name)
	}

	var typed []*Variable
	for _, v := range vars {
		if !v.IsTop && v.Desc == d.Type {
			typed = append(typed, v)
		}
	}

	if d.Ordinal != nil {
		if *d.Ordinal < 0 || *d.Ordinal >= len(typed) {
			return nil, fmt.Errorf("ordinal %d out of range for %d locals of type %s", *d.Ordinal, len(typed), d.Type)
		}

		return typed[*d.Ordinal], nil
	}

	if len(typed) != 1 {
		return nil, fmt.Errorf("%w: %d candidates of type %s", ErrImplicitDiscriminator, len(typed), d.Type)
	}

	return typed[0], nil
}

func entryFrame(owner string, mt *classfile.Method) []string {
	var frame []string

	if !mt.IsStatic() {
		frame = append(frame, "L"+owner+";")
	}

	for _, arg := range mt.ArgTypes() {
		frame = append(frame, arg)
		if bytecode.TypeSize(arg) == 2 {
			frame = append(frame, top)
		}
	}

	return frame
}

// simulate runs a forward initialized-slot dataflow to the program point.
// Merging at joins intersects: a slot survives only when every incoming path
// agrees on its type.
func simulate(code *classfile.Code, entry []string, at *bytecode.Insn) ([]string, error) {
	states := map[*bytecode.Insn][]string{}

	first := code.Insns.First()
	if first == nil {
		return nil, fmt.Errorf("empty method body")
	}

	padded := make([]string, code.MaxLocals)
	copy(padded, entry)

	merge := func(n *bytecode.Insn, in []string) bool {
		cur, ok := states[n]
		if !ok {
			states[n] = append([]string(nil), in...)
			return true
		}

		changed := false
		for i := range cur {
			if cur[i] != in[i] && cur[i] != "" {
				cur[i] = ""
				changed = true
			}
		}

		return changed
	}

	work := []*bytecode.Insn{first}
	merge(first, padded)

	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]

		out := append([]string(nil), states[n]...)
		apply(n, out)

		for _, succ := range successors(code, n) {
			if succ != nil && merge(succ, out) {
				work = append(work, succ)
			}
		}
	}

	state, ok := states[at]
	if !ok {
		// Unreachable code: only the parameters are trustworthy.
		return padded, nil
	}

	return state, nil
}

func apply(n *bytecode.Insn, frame []string) {
	if !bytecode.IsStore(n.Op) || n.Var >= len(frame) {
		return
	}

	var desc string

	switch n.Op {
	case bytecode.OpIstore:
		desc = "I"
	case bytecode.OpLstore:
		desc = "J"
	case bytecode.OpFstore:
		desc = "F"
	case bytecode.OpDstore:
		desc = "D"
	default:
		desc = "Ljava/lang/Object;"
	}

	frame[n.Var] = desc

	if bytecode.TypeSize(desc) == 2 && n.Var+1 < len(frame) {
		frame[n.Var+1] = top
	}
}

func successors(code *classfile.Code, n *bytecode.Insn) []*bytecode.Insn {
	op := n.Op

	if bytecode.IsReturn(op) || op == bytecode.OpAthrow {
		return nil
	}

	var out []*bytecode.Insn

	switch {
	case op == bytecode.OpGoto:
		out = append(out, labelSucc(code, n.Target))
	case op == bytecode.OpTableswitch || op == bytecode.OpLookupswitch:
		out = append(out, labelSucc(code, n.Default))
		for _, t := range n.SwitchTargets {
			out = append(out, labelSucc(code, t))
		}
	case n.Target != nil:
		out = append(out, labelSucc(code, n.Target), n.NextReal())
	default:
		out = append(out, n.NextReal())
	}

	// Entering a protected range makes its handler reachable too.
	for _, tc := range code.Try {
		if code.Insns.LabelNode(tc.Start) != nil && withinRange(code, tc, n) {
			out = append(out, labelSucc(code, tc.Handler))
		}
	}

	return out
}

func labelSucc(code *classfile.Code, lbl *bytecode.Label) *bytecode.Insn {
	anchor := code.Insns.LabelNode(lbl)
	if anchor == nil {
		return nil
	}

	return anchor.NextReal()
}

func withinRange(code *classfile.Code, tc classfile.TryCatch, n *bytecode.Insn) bool {
	inside := false

	for cur := code.Insns.First(); cur != nil; cur = cur.Next() {
		if cur.Op == bytecode.OpLabel {
			if cur.Lbl == tc.Start {
				inside = true
			}
			if cur.Lbl == tc.End {
				inside = false
			}
		}

		if cur == n {
			return inside
		}
	}

	return false
}

// debugIndex returns the LVT entries covering the program point, by slot.
func debugIndex(code *classfile.Code, at *bytecode.Insn) map[int]classfile.LocalVar {
	out := map[int]classfile.LocalVar{}
	if len(code.LocalVars) == 0 {
		return out
	}

	pos := map[*bytecode.Label]int{}
	atPos := -1

	idx := 0
	for n := code.Insns.First(); n != nil; n = n.Next() {
		if n.Op == bytecode.OpLabel {
			pos[n.Lbl] = idx
		}
		if n == at {
			atPos = idx
		}
		if n.IsReal() {
			idx++
		}
	}

	for _, v := range code.LocalVars {
		start, ok1 := pos[v.Start]
		end, ok2 := pos[v.End]

		if ok1 && ok2 && atPos >= start && atPos < end {
			out[v.Slot] = v
		}
	}

	return out
}
