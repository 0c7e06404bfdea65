package point

import (
	"errors"
	"testing"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
	"weft.dev/pkg/weft/internal/model"
)

// buildBody assembles a method calling Helper.step three times with two
// return paths, sprinkled with constants for the CONSTANT strategy tests.
func buildBody() *classfile.Method {
	list := bytecode.NewInsnList()

	step := func() *bytecode.Insn {
		return bytecode.RefInsn(bytecode.OpInvokevirtual,
			model.NewMethodRef("com/example/Helper", "step", "(I)V"))
	}

	skip := bytecode.NewLabel()

	list.Append(bytecode.VarInsn(bytecode.OpAload, 0))
	list.Append(bytecode.PushConst(0))
	list.Append(step())
	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.JumpInsn(bytecode.OpIfle, skip))
	list.Append(bytecode.VarInsn(bytecode.OpAload, 0))
	list.Append(bytecode.PushConst(7))
	list.Append(step())
	list.Append(bytecode.Raw(bytecode.OpReturn))
	list.Append(bytecode.LabelInsn(skip))
	list.Append(bytecode.VarInsn(bytecode.OpAload, 0))
	list.Append(bytecode.LdcInsn("checkpoint"))
	list.Append(bytecode.Raw(bytecode.OpPop))
	list.Append(bytecode.PushConst(42))
	list.Append(step())
	list.Append(bytecode.Raw(bytecode.OpReturn))

	return &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "run",
		Desc:   "(I)V",
		Code:   &classfile.Code{MaxStack: 2, MaxLocals: 2, Insns: list},
	}
}

func newCtx(mt *classfile.Method) *Context {
	return NewContext("com/example/Runner", mt)
}

func TestInvokeQueryOrdinals(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	at := &model.At{Name: "INVOKE", Target: "Lcom/example/Helper;step(I)V"}

	all, err := reg.Query(newCtx(mt), at)
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(all) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(all))
	}

	for i := range all {
		ord := i

		one, err := reg.Query(newCtx(mt), &model.At{
			Name:    "INVOKE",
			Target:  "Lcom/example/Helper;step(I)V",
			Ordinal: &ord,
		})
		if err != nil {
			t.Fatalf("ordinal %d: %v", i, err)
		}

		if len(one) != 1 || one[0] != all[i] {
			t.Errorf("ordinal %d did not select the %d-th match in program order", i, i)
		}
	}

	out := 3

	none, err := reg.Query(newCtx(mt), &model.At{
		Name:    "INVOKE",
		Target:  "Lcom/example/Helper;step(I)V",
		Ordinal: &out,
	})
	if err != nil || len(none) != 0 {
		t.Errorf("out-of-range ordinal: got %d matches, err %v", len(none), err)
	}
}

func TestReturnOrdinalEqualsTail(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	returns, err := reg.Query(newCtx(mt), &model.At{Name: "RETURN"})
	if err != nil {
		t.Fatalf("RETURN: %v", err)
	}

	if len(returns) != 2 {
		t.Fatalf("expected 2 returns, got %d", len(returns))
	}

	last := len(returns) - 1

	byOrdinal, err := reg.Query(newCtx(mt), &model.At{Name: "RETURN", Ordinal: &last})
	if err != nil {
		t.Fatalf("RETURN ordinal: %v", err)
	}

	tail, err := reg.Query(newCtx(mt), &model.At{Name: "TAIL"})
	if err != nil {
		t.Fatalf("TAIL: %v", err)
	}

	if len(byOrdinal) != 1 || len(tail) != 1 || byOrdinal[0] != tail[0] {
		t.Error("RETURN with last ordinal and TAIL disagree")
	}
}

func TestHeadAndShift(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	head, err := reg.Query(newCtx(mt), &model.At{Name: "HEAD"})
	if err != nil {
		t.Fatalf("HEAD: %v", err)
	}

	if len(head) != 1 || head[0].Op != bytecode.OpAload {
		t.Fatalf("HEAD = %v", head)
	}

	after, err := reg.Query(newCtx(mt), &model.At{Name: "HEAD", Shift: model.ShiftAfter})
	if err != nil {
		t.Fatalf("HEAD shift AFTER: %v", err)
	}

	if after[0] != head[0].NextReal() {
		t.Error("AFTER shift did not move one real instruction forward")
	}

	_, err = reg.Query(newCtx(mt), &model.At{Name: "TAIL", Shift: model.ShiftAfter})
	if !errors.Is(err, ErrShiftOutOfRange) {
		t.Errorf("shifting past the final return: got %v", err)
	}
}

func TestConstantQuery(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	t.Run("int value", func(t *testing.T) {
		got, err := reg.Query(newCtx(mt), &model.At{
			Name: "CONSTANT",
			Args: map[string]string{"intValue": "42"},
		})
		if err != nil || len(got) != 1 {
			t.Fatalf("got %d matches, err %v", len(got), err)
		}
	})

	t.Run("string value", func(t *testing.T) {
		got, err := reg.Query(newCtx(mt), &model.At{
			Name: "CONSTANT",
			Args: map[string]string{"stringValue": "checkpoint"},
		})
		if err != nil || len(got) != 1 {
			t.Fatalf("got %d matches, err %v", len(got), err)
		}
	})

	t.Run("zero claims implicit comparison branches", func(t *testing.T) {
		got, err := reg.Query(newCtx(mt), &model.At{
			Name: "CONSTANT",
			Args: map[string]string{"intValue": "0"},
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}

		// iconst_0 plus the ifle branch.
		if len(got) != 2 {
			t.Fatalf("expected iconst_0 and the ifle branch, got %d matches", len(got))
		}

		if got[1].Op != bytecode.OpIfle {
			t.Errorf("second match is %s, want ifle", got[1].String())
		}
	})

	t.Run("needs exactly one value", func(t *testing.T) {
		_, err := reg.Query(newCtx(mt), &model.At{Name: "CONSTANT"})
		if !errors.Is(err, ErrBadQuery) {
			t.Errorf("got %v", err)
		}
	})
}

func TestSliceScoping(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	ctx := newCtx(mt)
	ctx.Slices["tail-half"] = model.SliceSpec{
		ID:   "tail-half",
		From: &model.At{Name: "CONSTANT", Args: map[string]string{"stringValue": "checkpoint"}},
	}

	got, err := reg.Query(ctx, &model.At{
		Name:   "INVOKE",
		Target: "Lcom/example/Helper;step(I)V",
		Slice:  "tail-half",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("slice should leave only the final invocation, got %d", len(got))
	}

	if v, ok := bytecode.ConstantValue(got[0].PrevReal()); !ok || v != int32(42) {
		t.Error("sliced match is not the invocation after the 42 push")
	}
}

func TestDegenerateSliceMatchesNothing(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	query := func(t *testing.T, spec model.SliceSpec) []*bytecode.Insn {
		t.Helper()

		ctx := newCtx(mt)
		ctx.Slices[spec.ID] = spec

		got, err := reg.Query(ctx, &model.At{
			Name:   "INVOKE",
			Target: "Lcom/example/Helper;step(I)V",
			Slice:  spec.ID,
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}

		return got
	}

	t.Run("after the last instruction", func(t *testing.T) {
		got := query(t, model.SliceSpec{
			ID:   "past-end",
			From: &model.At{Name: "TAIL"},
		})
		if len(got) != 0 {
			t.Fatalf("slice past the final return matched %d instructions", len(got))
		}
	})

	t.Run("before the first instruction", func(t *testing.T) {
		got := query(t, model.SliceSpec{
			ID: "pre-start",
			To: &model.At{Name: "HEAD"},
		})
		if len(got) != 0 {
			t.Fatalf("slice ahead of the first instruction matched %d instructions", len(got))
		}
	})

	t.Run("inverted bounds", func(t *testing.T) {
		got := query(t, model.SliceSpec{
			ID:   "inverted",
			From: &model.At{Name: "CONSTANT", Args: map[string]string{"stringValue": "checkpoint"}},
			To:   &model.At{Name: "CONSTANT", Args: map[string]string{"intValue": "7"}},
		})
		if len(got) != 0 {
			t.Fatalf("inverted slice matched %d instructions", len(got))
		}
	})
}

func TestSliceBoundaryMustResolveUniquely(t *testing.T) {
	reg := NewRegistry()
	mt := buildBody()

	_, err := reg.ResolveSlice(newCtx(mt), model.SliceSpec{
		ID:   "calls",
		From: &model.At{Name: "INVOKE", Target: "Lcom/example/Helper;step(I)V"},
	})
	if !errors.Is(err, ErrSliceUnresolved) {
		t.Fatalf("expected ErrSliceUnresolved, got %v", err)
	}
}

func TestUnknownStrategy(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Query(newCtx(buildBody()), &model.At{Name: "TELEPORT"})
	if !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("got %v", err)
	}
}

func TestCheckAllow(t *testing.T) {
	if err := CheckAllow(3, 0); err != nil {
		t.Errorf("allow 0 means unlimited: %v", err)
	}

	if err := CheckAllow(3, 3); err != nil {
		t.Errorf("at the cap: %v", err)
	}

	if err := CheckAllow(4, 3); !errors.Is(err, ErrAllowExceeded) {
		t.Errorf("over the cap: %v", err)
	}
}

func TestStoreQueryByName(t *testing.T) {
	reg := NewRegistry()

	list := bytecode.NewInsnList()
	start := bytecode.NewLabel()
	end := bytecode.NewLabel()

	list.Append(bytecode.LabelInsn(start))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.PushConst(1))
	list.Append(bytecode.Raw(bytecode.OpIadd))
	list.Append(bytecode.VarInsn(bytecode.OpIstore, 2))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 2))
	list.Append(bytecode.Raw(bytecode.OpIreturn))
	list.Append(bytecode.LabelInsn(end))

	mt := &classfile.Method{
		Access: classfile.AccPublic,
		Name:   "bump",
		Desc:   "(I)I",
		Code: &classfile.Code{
			MaxStack:  2,
			MaxLocals: 3,
			Insns:     list,
			LocalVars: []classfile.LocalVar{
				{Name: "this", Desc: "Lcom/example/Runner;", Start: start, End: end, Slot: 0},
				{Name: "n", Desc: "I", Start: start, End: end, Slot: 1},
				{Name: "bumped", Desc: "I", Start: start, End: end, Slot: 2},
			},
		},
	}

	got, err := reg.Query(newCtx(mt), &model.At{
		Name: "STORE",
		Args: map[string]string{"name": "bumped"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	// The reported point sits just after the store, where "bumped" is live.
	if len(got) != 1 || got[0].Op != bytecode.OpIload || got[0].Var != 2 {
		t.Fatalf("got %v", got)
	}

	if prev := got[0].PrevReal(); prev.Op != bytecode.OpIstore || prev.Var != 2 {
		t.Error("match does not follow the matched store")
	}

	loads, err := reg.Query(newCtx(mt), &model.At{
		Name: "LOAD",
		Args: map[string]string{"name": "n"},
	})
	if err != nil || len(loads) != 1 || loads[0].Var != 1 {
		t.Fatalf("LOAD by name: %v matches, err %v", loads, err)
	}
}
