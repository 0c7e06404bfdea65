package bytecode

import m "weft.dev/pkg/weft/internal/model"

// Builder assembles an instruction sequence while tracking the operand-stack
// depth it needs, so injectors can grow a method's max-stack by exactly the
// extra simultaneous depth their splice introduces.
type Builder struct {
	list  *InsnList
	depth int
	max   int
	entry int // stack depth assumed present when the sequence begins
}

// NewBuilder creates a Builder whose sequence starts with entry values
// already on the operand stack (e.g. the arguments of a call about to be
// redirected).
func NewBuilder(entry int) *Builder {
	return &Builder{list: NewInsnList(), depth: entry, entry: entry}
}

// Add appends an instruction and accounts for its stack effect.
func (b *Builder) Add(n *Insn) *Builder {
	pop, push := stackEffect(n)

	b.depth -= pop
	if b.depth < 0 {
		// Underflow relative to the assumed entry depth means the caller
		// mis-declared the sequence; clamp and keep the worst-case max.
		b.depth = 0
	}

	b.depth += push
	if b.depth > b.max {
		b.max = b.depth
	}

	b.list.Append(n)

	return b
}

// Load appends the load instruction for a typed local slot.
func (b *Builder) Load(desc string, slot int) *Builder {
	return b.Add(VarInsn(LoadOpFor(desc), slot))
}

// Store appends the store instruction for a typed local slot.
func (b *Builder) Store(desc string, slot int) *Builder {
	return b.Add(VarInsn(StoreOpFor(desc), slot))
}

// Invoke appends a method invocation.
func (b *Builder) Invoke(op int, ref m.MemberRef) *Builder {
	return b.Add(RefInsn(op, ref))
}

// List hands over the built sequence. The builder must not be reused after.
func (b *Builder) List() *InsnList { return b.list }

// MaxDepth returns the peak operand-stack depth the sequence reaches,
// including the assumed entry values.
func (b *Builder) MaxDepth() int { return b.max }

// stackEffect returns the pop and push slot counts of an instruction. Only
// the opcodes the injectors synthesize need exact accounting; anything else
// reports zero effect.
func stackEffect(n *Insn) (pop, push int) {
	switch n.Op {
	case OpAconstNull, OpIconstM1, OpIconst0, OpIconst1, OpIconst2,
		OpIconst3, OpIconst4, OpIconst5, OpFconst0, OpFconst1, OpFconst2,
		OpBipush, OpSipush:
		return 0, 1
	case OpLconst0, OpLconst1, OpDconst0, OpDconst1:
		return 0, 2
	case OpLdc, OpLdcW, OpLdc2W:
		if n.Const != nil {
			return 0, TypeSize(ConstantDesc(n.Const))
		}

		return 0, 1
	case OpIload, OpFload, OpAload:
		return 0, 1
	case OpLload, OpDload:
		return 0, 2
	case OpIstore, OpFstore, OpAstore:
		return 1, 0
	case OpLstore, OpDstore:
		return 2, 0
	case OpPop:
		return 1, 0
	case OpPop2:
		return 2, 0
	case OpDup:
		return 1, 2
	case OpDupX1:
		return 2, 3
	case OpDup2:
		return 2, 4
	case OpSwap:
		return 2, 2
	case OpNew:
		return 0, 1
	case OpAnewarray, OpNewarray, OpArraylength, OpCheckcast, OpInstanceof,
		OpI2l, OpI2d, OpF2l, OpF2d:
		// Conversions to wide types push one extra slot; fold the common
		// single-slot transforms in here too.
		if n.Op == OpI2l || n.Op == OpI2d || n.Op == OpF2l || n.Op == OpF2d {
			return 1, 2
		}

		return 1, 1
	case OpL2i, OpL2f, OpD2i, OpD2f:
		return 2, 1
	case OpAaload:
		return 2, 1
	case OpAastore:
		return 3, 0
	case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle, OpIfnull, OpIfnonnull:
		return 1, 0
	case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt,
		OpIfIcmple, OpIfAcmpeq, OpIfAcmpne:
		return 2, 0
	case OpGoto, OpLabel, OpLine, OpNop, OpIinc:
		return 0, 0
	case OpReturn:
		return 0, 0
	case OpIreturn, OpFreturn, OpAreturn:
		return 1, 0
	case OpLreturn, OpDreturn:
		return 2, 0
	case OpAthrow:
		return 1, 0
	case OpGetstatic:
		return 0, TypeSize(n.Ref.Desc)
	case OpPutstatic:
		return TypeSize(n.Ref.Desc), 0
	case OpGetfield:
		return 1, TypeSize(n.Ref.Desc)
	case OpPutfield:
		return 1 + TypeSize(n.Ref.Desc), 0
	case OpInvokevirtual, OpInvokespecial, OpInvokestatic, OpInvokeinterface:
		argw, err := ArgsSize(n.Ref.Desc)
		if err != nil {
			return 0, 0
		}

		_, ret, _ := ParseMethodDesc(n.Ref.Desc)

		recv := 1
		if n.Op == OpInvokestatic {
			recv = 0
		}

		return recv + argw, TypeSize(ret)
	}

	return 0, 0
}
