package inject

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
	"weft.dev/pkg/weft/internal/model"
	"weft.dev/pkg/weft/internal/point"
)

const widgetClass = "com/example/Widget"

// widgetTarget builds void update(int n) calling this.helper(n) and
// discarding the result.
func widgetTarget(t *testing.T) *Target {
	t.Helper()

	list := bytecode.NewInsnList()
	list.Append(bytecode.VarInsn(bytecode.OpAload, 0))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.RefInsn(bytecode.OpInvokevirtual,
		model.NewMethodRef(widgetClass, "helper", "(I)I")))
	list.Append(bytecode.Raw(bytecode.OpPop))
	list.Append(bytecode.Raw(bytecode.OpReturn))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "update",
		Desc:   "(I)V",
		Code:   &classfile.Code{MaxStack: 2, MaxLocals: 2, Insns: list},
	}
	cls.Methods = append(cls.Methods, mt)

	return NewTarget(cls, mt)
}

func mnemonics(tgt *Target) []string {
	var out []string

	for n := tgt.Method.Code.Insns.First(); n != nil; n = n.Next() {
		if n.IsReal() {
			out = append(out, bytecode.Mnemonic(n.Op))
		}
	}

	return out
}

func findOp(tgt *Target, op int) *bytecode.Insn {
	for n := tgt.Method.Code.Insns.First(); n != nil; n = n.Next() {
		if n.Op == op {
			return n
		}
	}

	return nil
}

func TestCallbackAtHead(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	spec := &model.InjectorSpec{
		Kind:          model.KindCallback,
		Handler:       "onUpdate(ILweft/runtime/CallbackInfo;)V",
		HandlerStatic: true,
		At:            []model.At{{Name: "HEAD"}},
	}

	before := tgt.Method.Code.MaxStack

	out, err := inj.Apply(tgt, spec)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Matched)
	assert.Equal(t, 1, out.Injected)

	asm := mnemonics(tgt)
	require.Greater(t, len(asm), 5)

	// The splice lands ahead of the original first instruction.
	assert.Equal(t, "new", asm[0])
	assert.Contains(t, asm, "invokestatic")
	assert.Greater(t, tgt.Method.Code.MaxStack, before)

	call := findOp(tgt, bytecode.OpInvokestatic)
	require.NotNil(t, call)
	assert.Equal(t, "onUpdate", call.Ref.Name)
	assert.Equal(t, widgetClass, call.Ref.Owner)

	// Info object local was reserved past the declared ones.
	assert.Equal(t, 3, tgt.Method.Code.MaxLocals)
}

func TestCallbackCancellableReturnsEarly(t *testing.T) {
	list := bytecode.NewInsnList()
	list.Append(bytecode.VarInsn(bytecode.OpIload, 0))
	list.Append(bytecode.Raw(bytecode.OpIreturn))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic | classfile.AccStatic,
		Name:   "scale",
		Desc:   "(I)I",
		Code:   &classfile.Code{MaxStack: 1, MaxLocals: 1, Insns: list},
	}
	cls.Methods = append(cls.Methods, mt)

	tgt := NewTarget(cls, mt)
	inj := &Injector{Points: point.NewRegistry()}

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindCallback,
		Handler:       "onScale(ILweft/runtime/CallbackInfoReturnable;)V",
		HandlerStatic: true,
		Cancellable:   true,
		At:            []model.At{{Name: "HEAD"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	asm := mnemonics(tgt)
	assert.Contains(t, asm, "ifeq")

	// Cancellation path unboxes the stored return value before ireturn.
	cast := findOp(tgt, bytecode.OpCheckcast)
	require.NotNil(t, cast)
	assert.Equal(t, "java/lang/Integer", cast.Type)

	isCancelled := findOp(tgt, bytecode.OpInvokevirtual)
	require.NotNil(t, isCancelled)
	assert.Equal(t, CallbackInfoReturnClass, isCancelled.Ref.Owner)
}

func TestCallbackSignatureMismatch(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	_, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindCallback,
		Handler:       "onUpdate(Ljava/lang/String;)V",
		HandlerStatic: true,
		At:            []model.At{{Name: "HEAD"}},
	})
	assert.ErrorIs(t, err, ErrSignatureMismatch)
}

func TestInstanceHandlerOnStaticTarget(t *testing.T) {
	list := bytecode.NewInsnList()
	list.Append(bytecode.Raw(bytecode.OpReturn))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic | classfile.AccStatic,
		Name:   "tick",
		Desc:   "()V",
		Code:   &classfile.Code{MaxStack: 0, MaxLocals: 0, Insns: list},
	}
	cls.Methods = append(cls.Methods, mt)

	inj := &Injector{Points: point.NewRegistry()}

	_, err := inj.Apply(NewTarget(cls, mt), &model.InjectorSpec{
		Kind:    model.KindCallback,
		Handler: "onTick(Lweft/runtime/CallbackInfo;)V",
		At:      []model.At{{Name: "HEAD"}},
	})
	assert.ErrorIs(t, err, ErrStaticMismatch)
}

func TestRedirectReplacesCall(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindRedirect,
		Handler:       "helperProxy(Lcom/example/Widget;I)I",
		HandlerStatic: true,
		At: []model.At{{
			Name:   "INVOKE",
			Target: "Lcom/example/Widget;helper(I)I",
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	assert.Nil(t, findOp(tgt, bytecode.OpInvokevirtual), "original call must be gone")

	call := findOp(tgt, bytecode.OpInvokestatic)
	require.NotNil(t, call)
	assert.Equal(t, "helperProxy", call.Ref.Name)
	assert.Equal(t, "(Lcom/example/Widget;I)I", call.Ref.Desc)

	// Receiver and argument detoured through fresh locals.
	assert.Equal(t, 4, tgt.Method.Code.MaxLocals)
	assert.Contains(t, mnemonics(tgt), "astore")
}

func TestRedirectSignatureRejectedBeforeRewrite(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	before := mnemonics(tgt)

	_, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindRedirect,
		Handler:       "helperProxy(I)I", // missing the receiver parameter
		HandlerStatic: true,
		At: []model.At{{
			Name:   "INVOKE",
			Target: "Lcom/example/Widget;helper(I)I",
		}},
	})
	require.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Equal(t, before, mnemonics(tgt), "no bytecode may be emitted on validation failure")
}

func TestModifyArgWrapsDesignatedArgument(t *testing.T) {
	list := bytecode.NewInsnList()
	list.Append(bytecode.VarInsn(bytecode.OpAload, 0))
	list.Append(bytecode.PushConst(3))
	list.Append(bytecode.PushConst(4))
	list.Append(bytecode.RefInsn(bytecode.OpInvokevirtual,
		model.NewMethodRef(widgetClass, "resize", "(II)V")))
	list.Append(bytecode.Raw(bytecode.OpReturn))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "grow",
		Desc:   "()V",
		Code:   &classfile.Code{MaxStack: 3, MaxLocals: 1, Insns: list},
	}
	cls.Methods = append(cls.Methods, mt)

	tgt := NewTarget(cls, mt)
	inj := &Injector{Points: point.NewRegistry()}

	idx := 0
	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindModifyArg,
		Handler:       "clampWidth(I)I",
		HandlerStatic: true,
		Index:         &idx,
		At: []model.At{{
			Name:   "INVOKE",
			Target: "Lcom/example/Widget;resize(II)V",
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	asm := mnemonics(tgt)

	// The second argument detours through a local while the first is wrapped.
	assert.Contains(t, asm, "istore")
	assert.Contains(t, asm, "invokestatic")
	assert.NotNil(t, findOp(tgt, bytecode.OpInvokevirtual), "original call stays")

	call := findOp(tgt, bytecode.OpInvokestatic)
	require.NotNil(t, call)
	assert.Equal(t, "clampWidth", call.Ref.Name)
}

func TestModifyArgsBundlesArguments(t *testing.T) {
	list := bytecode.NewInsnList()
	list.Append(bytecode.VarInsn(bytecode.OpAload, 0))
	list.Append(bytecode.PushConst(3))
	list.Append(bytecode.PushConst(4))
	list.Append(bytecode.RefInsn(bytecode.OpInvokevirtual,
		model.NewMethodRef(widgetClass, "resize", "(II)V")))
	list.Append(bytecode.Raw(bytecode.OpReturn))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "grow",
		Desc:   "()V",
		Code:   &classfile.Code{MaxStack: 3, MaxLocals: 1, Insns: list},
	}
	cls.Methods = append(cls.Methods, mt)

	tgt := NewTarget(cls, mt)
	inj := &Injector{Points: point.NewRegistry()}

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindModifyArgs,
		Handler:       "onResize(Lweft/runtime/Args;)V",
		HandlerStatic: true,
		At: []model.At{{
			Name:   "INVOKE",
			Target: "Lcom/example/Widget;resize(II)V",
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	asm := mnemonics(tgt)
	assert.Contains(t, asm, "anewarray")
	assert.Contains(t, asm, "aastore")
	assert.Contains(t, asm, "checkcast")
	assert.NotNil(t, findOp(tgt, bytecode.OpInvokevirtual), "original call stays")

	// Primitive ints box through Integer.valueOf and unbox via intValue.
	var sawValueOf, sawIntValue bool

	for n := tgt.Method.Code.Insns.First(); n != nil; n = n.Next() {
		if n.Op == bytecode.OpInvokestatic && n.Ref.Name == "valueOf" {
			sawValueOf = true
		}
		if n.Op == bytecode.OpInvokevirtual && n.Ref.Name == "intValue" {
			sawIntValue = true
		}
	}

	assert.True(t, sawValueOf, "boxing call missing")
	assert.True(t, sawIntValue, "unboxing call missing")
}

func TestModifyVariable(t *testing.T) {
	list := bytecode.NewInsnList()
	start := bytecode.NewLabel()
	end := bytecode.NewLabel()

	list.Append(bytecode.LabelInsn(start))
	list.Append(bytecode.PushConst(10))
	list.Append(bytecode.VarInsn(bytecode.OpIstore, 1))
	ret := bytecode.Raw(bytecode.OpReturn)
	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.Raw(bytecode.OpPop))
	list.Append(ret)
	list.Append(bytecode.LabelInsn(end))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "settle",
		Desc:   "()V",
		Code: &classfile.Code{
			MaxStack:  1,
			MaxLocals: 2,
			Insns:     list,
			LocalVars: []classfile.LocalVar{
				{Name: "this", Desc: "L" + widgetClass + ";", Start: start, End: end, Slot: 0},
				{Name: "budget", Desc: "I", Start: start, End: end, Slot: 1},
			},
		},
	}
	cls.Methods = append(cls.Methods, mt)

	tgt := NewTarget(cls, mt)
	inj := &Injector{Points: point.NewRegistry()}

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindModifyVariable,
		Handler:       "adjustBudget(I)I",
		HandlerStatic: true,
		Locals:        &model.LocalsSpec{Name: "budget"},
		At:            []model.At{{Name: "RETURN"}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	// iload 1, invokestatic, istore 1 directly ahead of return.
	store := ret.PrevReal()
	require.NotNil(t, store)
	assert.Equal(t, bytecode.OpIstore, store.Op)
	assert.Equal(t, 1, store.Var)

	call := store.PrevReal()
	require.NotNil(t, call)
	assert.Equal(t, bytecode.OpInvokestatic, call.Op)
	assert.Equal(t, "adjustBudget", call.Ref.Name)
}

func TestModifyVariableAtStore(t *testing.T) {
	list := bytecode.NewInsnList()
	start := bytecode.NewLabel()
	end := bytecode.NewLabel()

	store := bytecode.VarInsn(bytecode.OpIstore, 1)

	list.Append(bytecode.LabelInsn(start))
	list.Append(bytecode.PushConst(10))
	list.Append(store)
	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.Raw(bytecode.OpPop))
	list.Append(bytecode.Raw(bytecode.OpReturn))
	list.Append(bytecode.LabelInsn(end))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "settle",
		Desc:   "()V",
		Code: &classfile.Code{
			MaxStack:  1,
			MaxLocals: 2,
			Insns:     list,
			LocalVars: []classfile.LocalVar{
				{Name: "this", Desc: "L" + widgetClass + ";", Start: start, End: end, Slot: 0},
				{Name: "budget", Desc: "I", Start: start, End: end, Slot: 1},
			},
		},
	}
	cls.Methods = append(cls.Methods, mt)

	tgt := NewTarget(cls, mt)
	inj := &Injector{Points: point.NewRegistry()}

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindModifyVariable,
		Handler:       "adjustBudget(I)I",
		HandlerStatic: true,
		Locals:        &model.LocalsSpec{Name: "budget"},
		At:            []model.At{{Name: "STORE", Args: map[string]string{"name": "budget"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	// The wrap lands right after the store, so the handler reads the value
	// the store just wrote and its result survives.
	wrapLoad := store.NextReal()
	require.NotNil(t, wrapLoad)
	assert.Equal(t, bytecode.OpIload, wrapLoad.Op)
	assert.Equal(t, 1, wrapLoad.Var)

	call := wrapLoad.NextReal()
	require.NotNil(t, call)
	assert.Equal(t, bytecode.OpInvokestatic, call.Op)
	assert.Equal(t, "adjustBudget", call.Ref.Name)

	wrapStore := call.NextReal()
	require.NotNil(t, wrapStore)
	assert.Equal(t, bytecode.OpIstore, wrapStore.Op)
	assert.Equal(t, 1, wrapStore.Var)
}

func TestModifyConstantPlain(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	list := tgt.Method.Code.Insns
	list.InsertBefore(list.First(), bytecode.PushConst(100))
	list.InsertAfter(list.First(), bytecode.Raw(bytecode.OpPop))

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindModifyConstant,
		Handler:       "tuneLimit(I)I",
		HandlerStatic: true,
		At: []model.At{{
			Name: "CONSTANT",
			Args: map[string]string{"intValue": "100"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	wrap := list.First().NextReal()
	require.NotNil(t, wrap)
	assert.Equal(t, bytecode.OpInvokestatic, wrap.Op)
	assert.Equal(t, "tuneLimit", wrap.Ref.Name)
}

func TestModifyConstantExpandsZeroBranch(t *testing.T) {
	list := bytecode.NewInsnList()
	skip := bytecode.NewLabel()

	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.JumpInsn(bytecode.OpIfgt, skip))
	list.Append(bytecode.Raw(bytecode.OpReturn))
	list.Append(bytecode.LabelInsn(skip))
	list.Append(bytecode.Raw(bytecode.OpReturn))

	cls := classfile.NewClass(widgetClass, "java/lang/Object")
	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "guard",
		Desc:   "(I)V",
		Code:   &classfile.Code{MaxStack: 1, MaxLocals: 2, Insns: list},
	}
	cls.Methods = append(cls.Methods, mt)

	tgt := NewTarget(cls, mt)
	inj := &Injector{Points: point.NewRegistry()}

	out, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindModifyConstant,
		Handler:       "tuneThreshold(I)I",
		HandlerStatic: true,
		At: []model.At{{
			Name: "CONSTANT",
			Args: map[string]string{"intValue": "0"},
		}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, out.Injected)

	assert.Nil(t, findOp(tgt, bytecode.OpIfgt), "implicit branch must be expanded")

	cmp := findOp(tgt, bytecode.OpIfIcmpgt)
	require.NotNil(t, cmp)
	assert.Same(t, skip, cmp.Target, "expanded comparison keeps the branch target")

	zero := findOp(tgt, bytecode.OpIconst0)
	require.NotNil(t, zero)

	call := zero.NextReal()
	require.NotNil(t, call)
	assert.Equal(t, "tuneThreshold", call.Ref.Name)
}

func TestRequireUnmet(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	_, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindCallback,
		Handler:       "onUpdate(ILweft/runtime/CallbackInfo;)V",
		HandlerStatic: true,
		Require:       1,
		At: []model.At{{
			Name:   "INVOKE",
			Target: "Lcom/example/Widget;missing()V",
		}},
	})
	assert.ErrorIs(t, err, ErrRequireUnmet)
}

func TestAllowCapFailsLoudly(t *testing.T) {
	tgt := widgetTarget(t)
	inj := &Injector{Points: point.NewRegistry()}

	_, err := inj.Apply(tgt, &model.InjectorSpec{
		Kind:          model.KindCallback,
		Handler:       "onUpdate(ILweft/runtime/CallbackInfo;)V",
		HandlerStatic: true,
		Allow:         1,
		At: []model.At{
			{Name: "HEAD"},
			{Name: "RETURN"},
		},
	})
	assert.ErrorIs(t, err, point.ErrAllowExceeded)
}

func TestMarkReplacedRejectsReuse(t *testing.T) {
	tgt := widgetTarget(t)
	node := tgt.Method.Code.Insns.First()

	require.NoError(t, tgt.MarkReplaced(node))
	assert.ErrorIs(t, tgt.MarkReplaced(node), ErrNodeReplaced)
}
