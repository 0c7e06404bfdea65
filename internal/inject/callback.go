package inject

import (
	"fmt"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/locals"
	"weft.dev/pkg/weft/internal/model"
)

// injectCallback splices a handler call ahead of the matched instruction.
// The handler receives the target's arguments, a callback-info object and,
// when capture is on, the locals visible at the point. A cancellable
// callback is followed by a conditional early return driven by the info
// object's cancelled flag.
func injectCallback(tgt *Target, spec *model.InjectorSpec, h handler, node *bytecode.Insn) error {
	slots, args := tgt.argSlots()
	retType := tgt.Method.ReturnType()

	ciClass := CallbackInfoClass
	if spec.Cancellable && retType != "V" {
		ciClass = CallbackInfoReturnClass
	}

	var captured []*locals.Variable

	if spec.CaptureLocals {
		vars, err := capturedLocals(tgt, spec, h, len(args), node)
		if err != nil {
			return err
		}

		captured = vars
	}

	if err := checkCallbackSignature(h, args, ciClass, captured); err != nil {
		return err
	}

	b := bytecode.NewBuilder(0)

	// Construct the info object once per injection and keep it in a fresh
	// local, the cancellation check reads it back after the handler returns.
	ciSlot := tgt.AllocLocal("L" + ciClass + ";")

	b.Add(bytecode.TypeInsn(bytecode.OpNew, ciClass))
	b.Add(bytecode.Raw(bytecode.OpDup))
	b.Add(bytecode.LdcInsn(tgt.Method.Name))
	b.Add(bytecode.PushConst(boolInt(spec.Cancellable)))
	b.Invoke(bytecode.OpInvokespecial,
		model.NewMethodRef(ciClass, "<init>", "(Ljava/lang/String;Z)V"))
	b.Store("L"+ciClass+";", ciSlot)

	if !h.static {
		b.Load("Ljava/lang/Object;", 0)
	}

	for i, a := range args {
		b.Load(a, slots[i])
	}

	b.Load("L"+ciClass+";", ciSlot)

	for _, v := range captured {
		b.Load(v.Desc, v.Slot)
	}

	h.invoke(b)

	if spec.Cancellable {
		resume := bytecode.NewLabel()

		b.Load("L"+ciClass+";", ciSlot)
		b.Invoke(bytecode.OpInvokevirtual,
			model.NewMethodRef(ciClass, "isCancelled", "()Z"))
		b.Add(bytecode.JumpInsn(bytecode.OpIfeq, resume))

		if retType != "V" {
			b.Load("L"+ciClass+";", ciSlot)
			b.Invoke(bytecode.OpInvokevirtual,
				model.NewMethodRef(ciClass, "getReturnValue", "()Ljava/lang/Object;"))
			unbox(b, retType)
		}

		b.Add(bytecode.Raw(bytecode.ReturnOpFor(retType)))
		b.Add(bytecode.LabelInsn(resume))
	}

	spliceBefore(tgt, node, b)

	return nil
}

// capturedLocals resolves the locals visible at the point and decides which
// of them feed the handler's trailing parameters. With an explicit
// designation exactly one local is captured; otherwise the locals past the
// formal arguments are taken in slot order, as many as the handler declares.
func capturedLocals(tgt *Target, spec *model.InjectorSpec, h handler, argCount int, node *bytecode.Insn) ([]*locals.Variable, error) {
	vars, err := locals.ResolveAt(tgt.Class.Name, tgt.Method, node)
	if err != nil {
		return nil, err
	}

	if spec.Locals != nil && (spec.Locals.Ordinal != nil || spec.Locals.Index != nil || spec.Locals.Name != "") {
		disc := locals.Discriminator{
			Ordinal: spec.Locals.Ordinal,
			Index:   spec.Locals.Index,
			Name:    spec.Locals.Name,
			Type:    h.args[len(h.args)-1],
		}

		one, err := disc.Find(vars)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
		}

		return []*locals.Variable{one}, nil
	}

	var avail []*locals.Variable

	for _, v := range vars {
		if !v.IsTop && v.Slot >= slotEnd(tgt) {
			avail = append(avail, v)
		}
	}

	want := len(h.args) - argCount - 1 // after the target args and the info object
	if want < 0 || want > len(avail) {
		return nil, fmt.Errorf("%w: handler %s captures %d locals, %d are visible",
			ErrSignatureMismatch, h.ref.Name, want, len(avail))
	}

	return avail[:want], nil
}

// slotEnd returns the first local slot past the receiver and formal
// arguments.
func slotEnd(tgt *Target) int {
	end := 0
	if !tgt.Method.IsStatic() {
		end = 1
	}

	for _, a := range tgt.Method.ArgTypes() {
		end += bytecode.TypeSize(a)
	}

	return end
}

func checkCallbackSignature(h handler, args []string, ciClass string, captured []*locals.Variable) error {
	expected := append([]string{}, args...)
	expected = append(expected, "L"+ciClass+";")

	for _, v := range captured {
		expected = append(expected, v.Desc)
	}

	if h.ret != "V" || !sameDescs(h.args, expected) {
		return fmt.Errorf("%w: handler %s%s, expected (%s)V",
			ErrSignatureMismatch, h.ref.Name, h.ref.Desc, joinDescs(expected))
	}

	return nil
}

func joinDescs(descs []string) string {
	out := ""
	for _, d := range descs {
		out += d
	}

	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
