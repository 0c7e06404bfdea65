package inject

import (
	"fmt"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/locals"
	"weft.dev/pkg/weft/internal/model"
)

// injectModifyVariable loads the designated local at the matched point,
// passes it through the handler and stores the result back into the same
// slot. The handler's first parameter type picks the candidate pool for the
// discriminator.
func injectModifyVariable(tgt *Target, spec *model.InjectorSpec, h handler, node *bytecode.Insn) error {
	if len(h.args) == 0 || h.ret != h.args[0] {
		return fmt.Errorf("%w: handler %s%s must take and return the variable type",
			ErrSignatureMismatch, h.ref.Name, h.ref.Desc)
	}

	varType := h.args[0]

	if err := checkWrapSignature(tgt, h, varType); err != nil {
		return err
	}

	vars, err := locals.ResolveAt(tgt.Class.Name, tgt.Method, node)
	if err != nil {
		return err
	}

	disc := locals.Discriminator{Type: varType}
	if spec.Locals != nil {
		disc.Ordinal = spec.Locals.Ordinal
		disc.Index = spec.Locals.Index
		disc.Name = spec.Locals.Name
	}

	v, err := disc.Find(vars)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInjection, err)
	}

	if v.Desc != varType {
		return fmt.Errorf("%w: local %s is %s, handler wants %s",
			ErrSignatureMismatch, v.Name, v.Desc, varType)
	}

	b := bytecode.NewBuilder(0)

	b.Load(varType, v.Slot)
	wrapTop(tgt, b, h, varType)
	b.Store(varType, v.Slot)

	spliceBefore(tgt, node, b)

	return nil
}

// injectModifyConstant wraps a matched constant through the handler. A plain
// constant push is wrapped in place; an implicit-zero comparison branch is
// first expanded into an explicit zero push plus the two-operand comparison
// opcode, and the synthesized zero is what gets wrapped.
func injectModifyConstant(tgt *Target, h handler, node *bytecode.Insn) error {
	if cmp, ok := bytecode.ExplicitCmpFor(node.Op); ok {
		return expandZeroBranch(tgt, h, node, cmp)
	}

	v, ok := bytecode.ConstantValue(node)
	if !ok {
		return fmt.Errorf("%w: %s does not push a literal constant", ErrInjection, node.String())
	}

	constType := bytecode.ConstantDesc(v)

	if err := checkWrapSignature(tgt, h, constType); err != nil {
		return err
	}

	b := bytecode.NewBuilder(bytecode.TypeSize(constType))
	wrapTop(tgt, b, h, constType)

	spliceAfter(tgt, node, b)

	return nil
}

func expandZeroBranch(tgt *Target, h handler, node *bytecode.Insn, cmp int) error {
	if err := checkWrapSignature(tgt, h, "I"); err != nil {
		return err
	}

	if err := tgt.MarkReplaced(node); err != nil {
		return err
	}

	b := bytecode.NewBuilder(1)

	b.Add(bytecode.PushConst(0))
	wrapTop(tgt, b, h, "I")
	b.Add(bytecode.JumpInsn(cmp, node.Target))

	replaceWithList(tgt, node, b)

	return nil
}
