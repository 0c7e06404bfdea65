package locals

import (
	"errors"
	"testing"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
)

// buildMethod assembles int sum(int bound): iterates a counter named "i" and
// an accumulator "acc", returning acc. Debug entries cover both locals.
func buildMethod(withDebug bool) *classfile.Method {
	list := bytecode.NewInsnList()

	start := bytecode.NewLabel()
	end := bytecode.NewLabel()
	loop := bytecode.NewLabel()
	done := bytecode.NewLabel()

	list.Append(bytecode.LabelInsn(start))
	list.Append(bytecode.PushConst(0))
	list.Append(bytecode.VarInsn(bytecode.OpIstore, 2)) // acc
	list.Append(bytecode.PushConst(0))
	list.Append(bytecode.VarInsn(bytecode.OpIstore, 3)) // i
	list.Append(bytecode.LabelInsn(loop))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 3))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 1))
	list.Append(bytecode.JumpInsn(bytecode.OpIfIcmpge, done))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 2))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 3))
	list.Append(bytecode.Raw(bytecode.OpIadd))
	list.Append(bytecode.VarInsn(bytecode.OpIstore, 2))
	list.Append(bytecode.IincInsn(3, 1))
	list.Append(bytecode.JumpInsn(bytecode.OpGoto, loop))
	list.Append(bytecode.LabelInsn(done))
	list.Append(bytecode.VarInsn(bytecode.OpIload, 2))
	list.Append(bytecode.Raw(bytecode.OpIreturn))
	list.Append(bytecode.LabelInsn(end))

	code := &classfile.Code{MaxStack: 2, MaxLocals: 4, Insns: list}

	if withDebug {
		code.LocalVars = []classfile.LocalVar{
			{Name: "this", Desc: "Lcom/example/Sums;", Start: start, End: end, Slot: 0},
			{Name: "bound", Desc: "I", Start: start, End: end, Slot: 1},
			{Name: "acc", Desc: "I", Start: start, End: end, Slot: 2},
			{Name: "i", Desc: "I", Start: start, End: end, Slot: 3},
		}
	}

	return &classfile.Method{Access: classfile.AccPublic, Name: "sum", Desc: "(I)I", Code: code}
}

func findReturn(mt *classfile.Method) *bytecode.Insn {
	for n := mt.Code.Insns.First(); n != nil; n = n.Next() {
		if n.Op == bytecode.OpIreturn {
			return n
		}
	}

	return nil
}

func TestResolveAtWithDebugInfo(t *testing.T) {
	mt := buildMethod(true)

	vars, err := ResolveAt("com/example/Sums", mt, findReturn(mt))
	if err != nil {
		t.Fatalf("ResolveAt: %v", err)
	}

	byName := map[string]*Variable{}
	for _, v := range vars {
		byName[v.Name] = v
	}

	for _, name := range []string{"this", "bound", "acc", "i"} {
		if byName[name] == nil {
			t.Fatalf("expected local %q, got %v", name, byName)
		}
	}

	if byName["acc"].Slot != 2 || byName["acc"].Desc != "I" {
		t.Errorf("acc resolved to slot %d desc %s", byName["acc"].Slot, byName["acc"].Desc)
	}

	// Ints rank in slot order: bound, acc, i.
	if byName["bound"].Ordinal != 0 || byName["acc"].Ordinal != 1 || byName["i"].Ordinal != 2 {
		t.Errorf("unexpected ordinals: bound=%d acc=%d i=%d",
			byName["bound"].Ordinal, byName["acc"].Ordinal, byName["i"].Ordinal)
	}
}

func TestResolveAtFallsBackToArgs(t *testing.T) {
	mt := buildMethod(false)

	vars, err := ResolveAt("com/example/Sums", mt, findReturn(mt))
	if err != nil {
		t.Fatalf("ResolveAt: %v", err)
	}

	if len(vars) != 2 {
		t.Fatalf("expected receiver and bound only, got %d locals", len(vars))
	}

	if vars[0].Slot != 0 || vars[0].Desc != "Lcom/example/Sums;" {
		t.Errorf("slot 0 = %+v", vars[0])
	}

	if vars[1].Slot != 1 || vars[1].Desc != "I" {
		t.Errorf("slot 1 = %+v", vars[1])
	}
}

func TestResolveAtBeforeInitialization(t *testing.T) {
	mt := buildMethod(true)

	// At the very first store, acc and i are not yet on every path.
	var firstStore *bytecode.Insn
	for n := mt.Code.Insns.First(); n != nil; n = n.Next() {
		if n.Op == bytecode.OpIstore {
			firstStore = n
			break
		}
	}

	vars, err := ResolveAt("com/example/Sums", mt, firstStore)
	if err != nil {
		t.Fatalf("ResolveAt: %v", err)
	}

	for _, v := range vars {
		if v.Slot >= 2 {
			t.Errorf("slot %d visible before initialization", v.Slot)
		}
	}
}

func TestResolveAtWideArgOccupiesTwoSlots(t *testing.T) {
	list := bytecode.NewInsnList()
	list.Append(bytecode.VarInsn(bytecode.OpLload, 0))
	ret := bytecode.Raw(bytecode.OpLreturn)
	list.Append(ret)

	mt := &classfile.Method{
		Access: classfile.AccPublic | classfile.AccStatic,
		Name:   "id",
		Desc:   "(J)J",
		Code:   &classfile.Code{MaxStack: 2, MaxLocals: 2, Insns: list},
	}

	vars, err := ResolveAt("com/example/Sums", mt, ret)
	if err != nil {
		t.Fatalf("ResolveAt: %v", err)
	}

	if len(vars) != 2 {
		t.Fatalf("expected value and top slots, got %d", len(vars))
	}

	if vars[0].Desc != "J" || !vars[1].IsTop {
		t.Errorf("wide arg layout wrong: %+v %+v", vars[0], vars[1])
	}
}

func TestDiscriminatorModes(t *testing.T) {
	vars := []*Variable{
		{Slot: 0, Name: "this", Desc: "Lcom/example/Sums;", Ordinal: 0},
		{Slot: 1, Name: "bound", Desc: "I", Ordinal: 0},
		{Slot: 2, Name: "acc", Desc: "I", Ordinal: 1},
	}

	t.Run("by index", func(t *testing.T) {
		idx := 2

		v, err := Discriminator{Index: &idx}.Find(vars)
		if err != nil || v.Name != "acc" {
			t.Fatalf("got %v, %v", v, err)
		}
	})

	t.Run("by name", func(t *testing.T) {
		v, err := Discriminator{Name: "bound"}.Find(vars)
		if err != nil || v.Slot != 1 {
			t.Fatalf("got %v, %v", v, err)
		}
	})

	t.Run("by ordinal", func(t *testing.T) {
		ord := 1

		v, err := Discriminator{Ordinal: &ord, Type: "I"}.Find(vars)
		if err != nil || v.Name != "acc" {
			t.Fatalf("got %v, %v", v, err)
		}
	})

	t.Run("implicit unique", func(t *testing.T) {
		v, err := Discriminator{Type: "Lcom/example/Sums;"}.Find(vars)
		if err != nil || v.Slot != 0 {
			t.Fatalf("got %v, %v", v, err)
		}
	})

	t.Run("implicit ambiguous", func(t *testing.T) {
		_, err := Discriminator{Type: "I"}.Find(vars)
		if !errors.Is(err, ErrImplicitDiscriminator) {
			t.Fatalf("expected ErrImplicitDiscriminator, got %v", err)
		}
	})

	t.Run("implicit absent", func(t *testing.T) {
		_, err := Discriminator{Type: "D"}.Find(vars)
		if !errors.Is(err, ErrImplicitDiscriminator) {
			t.Fatalf("expected ErrImplicitDiscriminator, got %v", err)
		}
	})
}
