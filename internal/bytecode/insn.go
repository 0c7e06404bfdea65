package bytecode

import (
	"fmt"

	m "weft.dev/pkg/weft/internal/model"
)

// Label is a stable branch-target identity. Labels are represented in an
// InsnList by pseudo-nodes (Op == OpLabel) so that inserting or removing
// instructions never invalidates a jump target or exception range.
type Label struct {
	id int
}

var labelSeq int

// NewLabel allocates a fresh label.
func NewLabel() *Label {
	labelSeq++
	return &Label{id: labelSeq}
}

func (l *Label) String() string {
	return fmt.Sprintf("L%d", l.id)
}

// ClassConst marks an ldc operand as a class literal rather than a string.
type ClassConst string

// Insn is a single node in a method body: one bytecode operation or a
// label/line pseudo-node. The operand fields form a variant; only the ones
// relevant for Op are meaningful.
type Insn struct {
	Op int

	Var    int         // local slot for load/store/iinc/ret
	IncrBy int         // iinc delta
	Int    int64       // bipush/sipush value, newarray atype
	Const  any         // ldc payload: int32, int64, float32, float64, string, ClassConst
	CPIdx  uint16      // raw constant-pool passthrough (invokedynamic, exotic ldc)
	Type   string      // internal name for new/anewarray/checkcast/instanceof/multianewarray
	Dims   int         // multianewarray dimension count
	Ref    m.MemberRef // field/method reference ops

	Target *Label // branch target
	Lbl    *Label // identity when Op == OpLabel
	Line   int    // line number when Op == OpLine

	// switch payloads
	SwitchLo, SwitchHi int32
	SwitchKeys         []int32
	SwitchTargets      []*Label
	Default            *Label

	prev, next *Insn
	list       *InsnList
}

// Prev returns the preceding node, or nil at the head.
func (i *Insn) Prev() *Insn { return i.prev }

// Next returns the following node, or nil at the tail.
func (i *Insn) Next() *Insn { return i.next }

// IsReal reports whether the node is an actual instruction rather than a
// label or line pseudo-node.
func (i *Insn) IsReal() bool { return i.Op >= 0 }

// NextReal returns the next actual instruction after i, skipping pseudo-nodes.
func (i *Insn) NextReal() *Insn {
	for n := i.next; n != nil; n = n.next {
		if n.IsReal() {
			return n
		}
	}

	return nil
}

// PrevReal returns the previous actual instruction before i.
func (i *Insn) PrevReal() *Insn {
	for n := i.prev; n != nil; n = n.prev {
		if n.IsReal() {
			return n
		}
	}

	return nil
}

func (i *Insn) String() string {
	switch {
	case i.Op == OpLabel:
		return i.Lbl.String() + ":"
	case i.Op == OpLine:
		return fmt.Sprintf(".line %d", i.Line)
	case IsLoad(i.Op) || IsStore(i.Op) || i.Op == OpRet:
		return fmt.Sprintf("%s %d", Mnemonic(i.Op), i.Var)
	case i.Op == OpIinc:
		return fmt.Sprintf("iinc %d %d", i.Var, i.IncrBy)
	case i.Op == OpBipush || i.Op == OpSipush:
		return fmt.Sprintf("%s %d", Mnemonic(i.Op), i.Int)
	case i.Op == OpLdc || i.Op == OpLdcW || i.Op == OpLdc2W:
		return fmt.Sprintf("%s %v", Mnemonic(i.Op), i.Const)
	case IsInvoke(i.Op) || IsFieldAccess(i.Op):
		return fmt.Sprintf("%s %s", Mnemonic(i.Op), i.Ref)
	case i.Op == OpNew || i.Op == OpAnewarray || i.Op == OpCheckcast || i.Op == OpInstanceof:
		return fmt.Sprintf("%s %s", Mnemonic(i.Op), i.Type)
	case i.Target != nil:
		return fmt.Sprintf("%s %s", Mnemonic(i.Op), i.Target)
	default:
		return Mnemonic(i.Op)
	}
}

// Raw builds an operand-less instruction.
func Raw(op int) *Insn { return &Insn{Op: op} }

// VarInsn builds a load/store/ret instruction for a local slot.
func VarInsn(op, slot int) *Insn { return &Insn{Op: op, Var: slot} }

// IincInsn builds an iinc instruction.
func IincInsn(slot, by int) *Insn { return &Insn{Op: OpIinc, Var: slot, IncrBy: by} }

// IntInsn builds a bipush/sipush/newarray instruction.
func IntInsn(op int, v int64) *Insn { return &Insn{Op: op, Int: v} }

// LdcInsn builds an ldc instruction for a constant value. The width (ldc vs
// ldc2_w) is decided at encode time from the value's type.
func LdcInsn(v any) *Insn { return &Insn{Op: OpLdc, Const: v} }

// RefInsn builds a field or method instruction.
func RefInsn(op int, ref m.MemberRef) *Insn { return &Insn{Op: op, Ref: ref} }

// TypeInsn builds a new/anewarray/checkcast/instanceof instruction.
func TypeInsn(op int, name string) *Insn { return &Insn{Op: op, Type: name} }

// JumpInsn builds a branch to a label.
func JumpInsn(op int, target *Label) *Insn { return &Insn{Op: op, Target: target} }

// LabelInsn builds the pseudo-node anchoring a label in a list.
func LabelInsn(l *Label) *Insn { return &Insn{Op: OpLabel, Lbl: l} }

// LineInsn builds a line-number pseudo-node.
func LineInsn(line int) *Insn { return &Insn{Op: OpLine, Line: line} }

// PushConst builds the most compact instruction sequence pushing an int
// constant.
func PushConst(v int) *Insn {
	switch {
	case v >= -1 && v <= 5:
		return Raw(OpIconst0 + v)
	case v >= -128 && v <= 127:
		return IntInsn(OpBipush, int64(v))
	case v >= -32768 && v <= 32767:
		return IntInsn(OpSipush, int64(v))
	default:
		return LdcInsn(int32(v))
	}
}

// ConstantValue extracts the literal pushed by a constant instruction.
// ok is false when the instruction does not push a literal constant.
func ConstantValue(i *Insn) (any, bool) {
	switch i.Op {
	case OpAconstNull:
		return nil, true
	case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
		return int32(i.Op - OpIconst0), true
	case OpLconst0, OpLconst1:
		return int64(i.Op - OpLconst0), true
	case OpFconst0, OpFconst1, OpFconst2:
		return float32(i.Op - OpFconst0), true
	case OpDconst0, OpDconst1:
		return float64(i.Op - OpDconst0), true
	case OpBipush, OpSipush:
		return int32(i.Int), true
	case OpLdc, OpLdcW, OpLdc2W:
		if i.Const == nil {
			return nil, false // exotic pool entry carried by index
		}

		return i.Const, true
	}

	return nil, false
}

// ConstantDesc returns the type descriptor of a constant value as produced
// by ConstantValue. The null constant reports "Ljava/lang/Object;".
func ConstantDesc(v any) string {
	switch v.(type) {
	case int32:
		return "I"
	case int64:
		return "J"
	case float32:
		return "F"
	case float64:
		return "D"
	case string:
		return "Ljava/lang/String;"
	case ClassConst:
		return "Ljava/lang/Class;"
	default:
		return "Ljava/lang/Object;"
	}
}
