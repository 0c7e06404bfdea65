package inject

import (
	"fmt"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/model"
)

// callShape decomposes a matched invocation: its receiver type (empty for
// static calls), argument types and return type.
type callShape struct {
	recv string
	args []string
	ret  string
}

func shapeOf(node *bytecode.Insn) (callShape, error) {
	if !bytecode.IsInvoke(node.Op) || node.Op == bytecode.OpInvokedynamic {
		return callShape{}, fmt.Errorf("%w: %s is not a redirectable call", ErrInjection, node.String())
	}

	args, ret, err := bytecode.ParseMethodDesc(node.Ref.Desc)
	if err != nil {
		return callShape{}, err
	}

	shape := callShape{args: args, ret: ret}
	if node.Op != bytecode.OpInvokestatic {
		shape.recv = "L" + node.Ref.Owner + ";"
	}

	return shape, nil
}

// injectRedirect replaces a matched call with a call to the handler. The
// handler takes the original receiver (for instance calls) followed by the
// original arguments, optionally extended with the target method's own
// parameters, and returns the original return type.
func injectRedirect(tgt *Target, h handler, node *bytecode.Insn) error {
	shape, err := shapeOf(node)
	if err != nil {
		return err
	}

	base := []string{}
	if shape.recv != "" {
		base = append(base, shape.recv)
	}

	base = append(base, shape.args...)

	extended, err := acceptsExtended(tgt, h, base, shape.ret)
	if err != nil {
		return err
	}

	if err := tgt.MarkReplaced(node); err != nil {
		return err
	}

	// The original receiver and arguments sit on the stack in evaluation
	// order; route them through fresh locals so the handler's own receiver
	// can go underneath.
	b := bytecode.NewBuilder(len(base))
	slots := stash(tgt, b, base)

	if !h.static {
		b.Load("Ljava/lang/Object;", 0)
	}

	reload(b, base, slots)

	if extended {
		argSlots, argTypes := tgt.argSlots()
		for i, a := range argTypes {
			b.Load(a, argSlots[i])
		}
	}

	h.invoke(b)

	replaceWithList(tgt, node, b)

	return nil
}

// acceptsExtended validates the handler signature against the plain and the
// target-extended forms, reporting which one it uses.
func acceptsExtended(tgt *Target, h handler, base []string, ret string) (bool, error) {
	if h.ret == ret && sameDescs(h.args, base) {
		return false, nil
	}

	withTarget := append(append([]string{}, base...), tgt.Method.ArgTypes()...)
	if h.ret == ret && sameDescs(h.args, withTarget) {
		return true, nil
	}

	return false, fmt.Errorf("%w: handler %s%s, call expects (%s)%s",
		ErrSignatureMismatch, h.ref.Name, h.ref.Desc, joinDescs(base), ret)
}

// injectModifyArg wraps one argument of a matched call through the handler:
// the designated value is routed through a call taking and returning its
// exact type just before the original invocation.
func injectModifyArg(tgt *Target, spec *model.InjectorSpec, h handler, node *bytecode.Insn) error {
	shape, err := shapeOf(node)
	if err != nil {
		return err
	}

	if spec.Index == nil || *spec.Index < 0 || *spec.Index >= len(shape.args) {
		return fmt.Errorf("%w: modify-arg needs a valid argument index, call has %d arguments",
			ErrInjection, len(shape.args))
	}

	idx := *spec.Index
	argType := shape.args[idx]

	if err := checkWrapSignature(tgt, h, argType); err != nil {
		return err
	}

	// Peel trailing arguments into locals so the designated one surfaces on
	// top of the stack, wrap it, then restore the tail.
	tail := shape.args[idx+1:]

	b := bytecode.NewBuilder(len(shape.args))
	slots := stash(tgt, b, tail)

	wrapTop(tgt, b, h, argType)

	reload(b, tail, slots)

	spliceBefore(tgt, node, b)

	return nil
}

// injectModifyArgs bundles every argument of a matched call into a runtime
// Args object, hands the bundle to the handler, then unpacks the possibly
// mutated values back onto the stack in evaluation order. The original call
// is left in place.
func injectModifyArgs(tgt *Target, h handler, node *bytecode.Insn) error {
	shape, err := shapeOf(node)
	if err != nil {
		return err
	}

	if err := checkBundleSignature(tgt, h); err != nil {
		return err
	}

	extended := len(h.args) > 1

	b := bytecode.NewBuilder(len(shape.args))
	slots := stash(tgt, b, shape.args)

	// Box the stashed values into an Object[] and wrap it in the bundle.
	arrSlot := tgt.AllocLocal("[Ljava/lang/Object;")

	b.Add(bytecode.PushConst(len(shape.args)))
	b.Add(bytecode.TypeInsn(bytecode.OpAnewarray, "java/lang/Object"))

	for i, a := range shape.args {
		b.Add(bytecode.Raw(bytecode.OpDup))
		b.Add(bytecode.PushConst(i))
		b.Load(a, slots[i])
		box(b, a)
		b.Add(bytecode.Raw(bytecode.OpAastore))
	}

	b.Store("[Ljava/lang/Object;", arrSlot)

	bundleSlot := tgt.AllocLocal("L" + ArgsClass + ";")

	b.Add(bytecode.TypeInsn(bytecode.OpNew, ArgsClass))
	b.Add(bytecode.Raw(bytecode.OpDup))
	b.Load("[Ljava/lang/Object;", arrSlot)
	b.Invoke(bytecode.OpInvokespecial,
		model.NewMethodRef(ArgsClass, "<init>", "([Ljava/lang/Object;)V"))
	b.Store("L"+ArgsClass+";", bundleSlot)

	if !h.static {
		b.Load("Ljava/lang/Object;", 0)
	}

	b.Load("L"+ArgsClass+";", bundleSlot)

	if extended {
		argSlots, argTypes := tgt.argSlots()
		for i, a := range argTypes {
			b.Load(a, argSlots[i])
		}
	}

	h.invoke(b)

	for i, a := range shape.args {
		b.Load("L"+ArgsClass+";", bundleSlot)
		b.Add(bytecode.PushConst(i))
		b.Invoke(bytecode.OpInvokevirtual,
			model.NewMethodRef(ArgsClass, "get", "(I)Ljava/lang/Object;"))
		unbox(b, a)
	}

	spliceBefore(tgt, node, b)

	return nil
}

// checkWrapSignature accepts (T)T and the target-extended (T, targetArgs)T.
func checkWrapSignature(tgt *Target, h handler, argType string) error {
	plain := []string{argType}
	extended := append([]string{argType}, tgt.Method.ArgTypes()...)

	if h.ret == argType && (sameDescs(h.args, plain) || sameDescs(h.args, extended)) {
		return nil
	}

	return fmt.Errorf("%w: handler %s%s must take and return %s",
		ErrSignatureMismatch, h.ref.Name, h.ref.Desc, argType)
}

// checkBundleSignature accepts (Args)V and the target-extended form.
func checkBundleSignature(tgt *Target, h handler) error {
	bundle := "L" + ArgsClass + ";"
	plain := []string{bundle}
	extended := append([]string{bundle}, tgt.Method.ArgTypes()...)

	if h.ret == "V" && (sameDescs(h.args, plain) || sameDescs(h.args, extended)) {
		return nil
	}

	return fmt.Errorf("%w: handler %s%s must take the argument bundle and return void",
		ErrSignatureMismatch, h.ref.Name, h.ref.Desc)
}

// wrapTop routes the value on top of the stack through the handler. Virtual
// handlers need the receiver underneath, so the value detours through a
// local; extended handlers additionally receive the target's parameters.
func wrapTop(tgt *Target, b *bytecode.Builder, h handler, desc string) {
	extended := len(h.args) > 1

	if !h.static || extended {
		tmp := tgt.AllocLocal(desc)
		b.Store(desc, tmp)

		if !h.static {
			b.Load("Ljava/lang/Object;", 0)
		}

		b.Load(desc, tmp)
	}

	if extended {
		argSlots, argTypes := tgt.argSlots()
		for i, a := range argTypes {
			b.Load(a, argSlots[i])
		}
	}

	h.invoke(b)
}

// replaceWithList substitutes node with a built sequence, keeping list order.
func replaceWithList(tgt *Target, node *bytecode.Insn, b *bytecode.Builder) {
	tgt.Method.Code.Insns.InsertListBefore(node, b.List())
	tgt.Method.Code.Insns.Remove(node)
	tgt.GrowStack(b.MaxDepth())
}