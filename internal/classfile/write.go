package classfile

import (
	"fmt"
	"math"

	"weft.dev/pkg/weft/internal/bytecode"
)

// Write serializes the class. Method bodies are encoded first because they
// intern new constant pool entries; the pool itself is emitted afterwards.
func Write(c *Class) ([]byte, error) {
	if c.Pool == nil {
		c.Pool = NewConstPool()
	}

	body := &writer{}

	body.u2(c.Access)
	body.u2(c.Pool.Class(c.Name))

	if c.Super == "" {
		body.u2(0)
	} else {
		body.u2(c.Pool.Class(c.Super))
	}

	body.u2(uint16(len(c.Interfaces)))
	for _, iface := range c.Interfaces {
		body.u2(c.Pool.Class(iface))
	}

	body.u2(uint16(len(c.Fields)))
	for _, f := range c.Fields {
		if err := writeField(body, f, c.Pool); err != nil {
			return nil, err
		}
	}

	body.u2(uint16(len(c.Methods)))
	for _, mt := range c.Methods {
		if err := writeMethod(body, mt, c.Pool); err != nil {
			return nil, fmt.Errorf("method %s%s: %w", mt.Name, mt.Desc, err)
		}
	}

	var classAttrs [][]byte
	if c.SourceFile != "" {
		a := &writer{}
		a.u2(c.Pool.Utf8("SourceFile"))
		a.u4(2)
		a.u2(c.Pool.Utf8(c.SourceFile))
		classAttrs = append(classAttrs, a.bytes())
	}

	attrs := &writer{}
	attrs.u2(uint16(len(classAttrs)))
	for _, a := range classAttrs {
		attrs.raw(a)
	}

	// The writer drops StackMapTable, so rewritten classes must verify by
	// type inference: clamp the version to the last release that allows it.
	major := c.Major
	if major > VersionPreFrames {
		major = VersionPreFrames
	}

	out := &writer{}
	out.u4(Magic)
	out.u2(c.Minor)
	out.u2(major)
	writePool(out, c.Pool)
	out.raw(body.bytes())
	out.raw(attrs.bytes())

	return out.bytes(), nil
}

func writePool(w *writer, p *ConstPool) {
	w.u2(uint16(len(p.entries)))

	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]
		if e.tag == 0 {
			continue // second slot of a wide entry
		}

		w.u1(e.tag)

		switch e.tag {
		case tagUtf8:
			w.u2(uint16(len(e.str)))
			w.raw([]byte(e.str))
		case tagInteger:
			w.u4(uint32(e.i32))
		case tagFloat:
			w.u4(floatBits(e.f32))
		case tagLong:
			w.u4(uint32(uint64(e.i64) >> 32))
			w.u4(uint32(uint64(e.i64)))
		case tagDouble:
			bits := doubleBits(e.f64)
			w.u4(uint32(bits >> 32))
			w.u4(uint32(bits))
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			w.u2(e.ref1)
		case tagFieldref, tagMethodref, tagInterfaceMethod, tagNameAndType,
			tagDynamic, tagInvokeDynamic:
			w.u2(e.ref1)
			w.u2(e.ref2)
		case tagMethodHandle:
			w.u1(e.kind)
			w.u2(e.ref1)
		}
	}
}

func writeField(w *writer, f *Field, pool *ConstPool) error {
	w.u2(f.Access)
	w.u2(pool.Utf8(f.Name))
	w.u2(pool.Utf8(f.Desc))

	if f.ConstValue == nil {
		w.u2(0)
		return nil
	}

	idx, _, err := pool.ConstIndex(f.ConstValue)
	if err != nil {
		return err
	}

	w.u2(1)
	w.u2(pool.Utf8("ConstantValue"))
	w.u4(2)
	w.u2(idx)

	return nil
}

func writeMethod(w *writer, mt *Method, pool *ConstPool) error {
	w.u2(mt.Access)
	w.u2(pool.Utf8(mt.Name))
	w.u2(pool.Utf8(mt.Desc))

	var attrs [][]byte

	if mt.Code != nil {
		payload, err := encodeCode(mt.Code, pool)
		if err != nil {
			return err
		}

		a := &writer{}
		a.u2(pool.Utf8("Code"))
		a.u4(uint32(len(payload)))
		a.raw(payload)
		attrs = append(attrs, a.bytes())
	}

	if len(mt.Exceptions) > 0 {
		a := &writer{}
		a.u2(pool.Utf8("Exceptions"))
		a.u4(uint32(2 + 2*len(mt.Exceptions)))
		a.u2(uint16(len(mt.Exceptions)))
		for _, ex := range mt.Exceptions {
			a.u2(pool.Class(ex))
		}
		attrs = append(attrs, a.bytes())
	}

	w.u2(uint16(len(attrs)))
	for _, a := range attrs {
		w.raw(a)
	}

	return nil
}

// encodeCode lowers the instruction list back to bytes: one sizing pass
// assigns every node an offset, then the emission pass resolves labels.
func encodeCode(code *Code, pool *ConstPool) ([]byte, error) {
	offsets := map[*bytecode.Insn]int{}
	labelOffsets := map[*bytecode.Label]int{}

	offset := 0

	for n := code.Insns.First(); n != nil; n = n.Next() {
		offsets[n] = offset

		if n.Op == bytecode.OpLabel {
			labelOffsets[n.Lbl] = offset
			continue
		}
		if n.Op == bytecode.OpLine {
			continue
		}

		size, err := insnSize(n, offset, pool)
		if err != nil {
			return nil, err
		}

		offset += size
	}

	codeLen := offset

	cw := &writer{}
	for n := code.Insns.First(); n != nil; n = n.Next() {
		if !n.IsReal() {
			continue
		}

		if err := emitInsn(cw, n, offsets[n], labelOffsets, pool); err != nil {
			return nil, err
		}
	}

	if cw.length() != codeLen {
		return nil, fmt.Errorf("%w: sizing pass disagrees with emission (%d vs %d)", ErrClassFormat, codeLen, cw.length())
	}

	out := &writer{}
	out.u2(uint16(code.MaxStack))
	out.u2(uint16(code.MaxLocals))
	out.u4(uint32(codeLen))
	out.raw(cw.bytes())

	out.u2(uint16(len(code.Try)))
	for _, tc := range code.Try {
		start, ok1 := labelOffsets[tc.Start]
		end, ok2 := labelOffsets[tc.End]
		handler, ok3 := labelOffsets[tc.Handler]

		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("%w: exception range references an unplaced label", ErrClassFormat)
		}

		out.u2(uint16(start))
		out.u2(uint16(end))
		out.u2(uint16(handler))

		if tc.Type == "" {
			out.u2(0)
		} else {
			out.u2(pool.Class(tc.Type))
		}
	}

	var attrs [][]byte

	if lineAttr := encodeLineNumbers(code, offsets, pool); lineAttr != nil {
		attrs = append(attrs, lineAttr)
	}
	if lvtAttr, err := encodeLocalVars(code, labelOffsets, pool); err != nil {
		return nil, err
	} else if lvtAttr != nil {
		attrs = append(attrs, lvtAttr)
	}

	out.u2(uint16(len(attrs)))
	for _, a := range attrs {
		out.raw(a)
	}

	return out.bytes(), nil
}

func encodeLineNumbers(code *Code, offsets map[*bytecode.Insn]int, pool *ConstPool) []byte {
	type entry struct{ pc, line int }

	var entries []entry
	for n := code.Insns.First(); n != nil; n = n.Next() {
		if n.Op == bytecode.OpLine {
			entries = append(entries, entry{offsets[n], n.Line})
		}
	}

	if len(entries) == 0 {
		return nil
	}

	a := &writer{}
	a.u2(pool.Utf8("LineNumberTable"))
	a.u4(uint32(2 + 4*len(entries)))
	a.u2(uint16(len(entries)))
	for _, e := range entries {
		a.u2(uint16(e.pc))
		a.u2(uint16(e.line))
	}

	return a.bytes()
}

func encodeLocalVars(code *Code, labelOffsets map[*bytecode.Label]int, pool *ConstPool) ([]byte, error) {
	if len(code.LocalVars) == 0 {
		return nil, nil
	}

	a := &writer{}
	a.u2(pool.Utf8("LocalVariableTable"))
	a.u4(uint32(2 + 10*len(code.LocalVars)))
	a.u2(uint16(len(code.LocalVars)))

	for _, v := range code.LocalVars {
		start, ok1 := labelOffsets[v.Start]
		end, ok2 := labelOffsets[v.End]

		if !ok1 || !ok2 {
			return nil, fmt.Errorf("%w: local variable %q references an unplaced label", ErrClassFormat, v.Name)
		}

		a.u2(uint16(start))
		a.u2(uint16(end - start))
		a.u2(pool.Utf8(v.Name))
		a.u2(pool.Utf8(v.Desc))
		a.u2(uint16(v.Slot))
	}

	return a.bytes(), nil
}

func insnSize(n *bytecode.Insn, offset int, pool *ConstPool) (int, error) {
	op := n.Op

	switch {
	case op == bytecode.OpBipush || op == bytecode.OpNewarray:
		return 2, nil
	case op == bytecode.OpSipush:
		return 3, nil
	case op == bytecode.OpLdc || op == bytecode.OpLdcW || op == bytecode.OpLdc2W:
		if n.Const == nil {
			return 3, nil // exotic pool entry, always ldc_w width
		}

		idx, wide, err := pool.ConstIndex(n.Const)
		if err != nil {
			return 0, err
		}
		if wide {
			return 3, nil
		}
		if idx <= 0xFF {
			return 2, nil
		}

		return 3, nil
	case bytecode.IsLoad(op) || bytecode.IsStore(op) || op == bytecode.OpRet:
		switch {
		case n.Var <= 3 && op != bytecode.OpRet:
			return 1, nil
		case n.Var <= 0xFF:
			return 2, nil
		default:
			return 4, nil // wide form
		}
	case op == bytecode.OpIinc:
		if n.Var <= 0xFF && n.IncrBy >= -128 && n.IncrBy <= 127 {
			return 3, nil
		}

		return 6, nil
	case isBranch16(op):
		return 3, nil
	case op == bytecode.OpTableswitch:
		pad := (4 - (offset+1)%4) % 4
		return 1 + pad + 12 + 4*len(n.SwitchTargets), nil
	case op == bytecode.OpLookupswitch:
		pad := (4 - (offset+1)%4) % 4
		return 1 + pad + 8 + 8*len(n.SwitchKeys), nil
	case bytecode.IsFieldAccess(op) || op == bytecode.OpInvokevirtual ||
		op == bytecode.OpInvokespecial || op == bytecode.OpInvokestatic ||
		op == bytecode.OpNew || op == bytecode.OpAnewarray ||
		op == bytecode.OpCheckcast || op == bytecode.OpInstanceof:
		return 3, nil
	case op == bytecode.OpInvokeinterface || op == bytecode.OpInvokedynamic:
		return 5, nil
	case op == bytecode.OpMultianewarray:
		return 4, nil
	default:
		return 1, nil
	}
}

func emitInsn(w *writer, n *bytecode.Insn, offset int, labels map[*bytecode.Label]int, pool *ConstPool) error {
	op := n.Op

	branchTo := func(lbl *bytecode.Label) (int16, error) {
		target, ok := labels[lbl]
		if !ok {
			return 0, fmt.Errorf("%w: branch to unplaced label %s", ErrClassFormat, lbl)
		}

		delta := target - offset
		if delta < -32768 || delta > 32767 {
			return 0, fmt.Errorf("%w: branch offset %d exceeds 16 bits", ErrClassFormat, delta)
		}

		return int16(delta), nil
	}

	switch {
	case op == bytecode.OpBipush:
		w.u1(uint8(op))
		w.u1(uint8(int8(n.Int)))
	case op == bytecode.OpSipush:
		w.u1(uint8(op))
		w.u2(uint16(int16(n.Int)))
	case op == bytecode.OpNewarray:
		w.u1(uint8(op))
		w.u1(uint8(n.Int))
	case op == bytecode.OpLdc || op == bytecode.OpLdcW || op == bytecode.OpLdc2W:
		if n.Const == nil {
			w.u1(bytecode.OpLdcW)
			w.u2(n.CPIdx)
			return nil
		}

		idx, wide, err := pool.ConstIndex(n.Const)
		if err != nil {
			return err
		}

		switch {
		case wide:
			w.u1(bytecode.OpLdc2W)
			w.u2(idx)
		case idx <= 0xFF:
			w.u1(bytecode.OpLdc)
			w.u1(uint8(idx))
		default:
			w.u1(bytecode.OpLdcW)
			w.u2(idx)
		}
	case bytecode.IsLoad(op) || bytecode.IsStore(op) || op == bytecode.OpRet:
		emitVarInsn(w, n)
	case op == bytecode.OpIinc:
		if n.Var <= 0xFF && n.IncrBy >= -128 && n.IncrBy <= 127 {
			w.u1(uint8(op))
			w.u1(uint8(n.Var))
			w.u1(uint8(int8(n.IncrBy)))
		} else {
			w.u1(bytecode.OpWide)
			w.u1(uint8(op))
			w.u2(uint16(n.Var))
			w.u2(uint16(int16(n.IncrBy)))
		}
	case isBranch16(op):
		delta, err := branchTo(n.Target)
		if err != nil {
			return err
		}

		w.u1(uint8(op))
		w.u2(uint16(delta))
	case op == bytecode.OpTableswitch:
		w.u1(uint8(op))
		for range (4 - (offset+1)%4) % 4 {
			w.u1(0)
		}

		if err := emitSwitchTarget(w, n.Default, offset, labels); err != nil {
			return err
		}

		w.u4(uint32(n.SwitchLo))
		w.u4(uint32(n.SwitchHi))

		for _, t := range n.SwitchTargets {
			if err := emitSwitchTarget(w, t, offset, labels); err != nil {
				return err
			}
		}
	case op == bytecode.OpLookupswitch:
		w.u1(uint8(op))
		for range (4 - (offset+1)%4) % 4 {
			w.u1(0)
		}

		if err := emitSwitchTarget(w, n.Default, offset, labels); err != nil {
			return err
		}

		w.u4(uint32(len(n.SwitchKeys)))

		for i, key := range n.SwitchKeys {
			w.u4(uint32(key))

			if err := emitSwitchTarget(w, n.SwitchTargets[i], offset, labels); err != nil {
				return err
			}
		}
	case bytecode.IsFieldAccess(op) || op == bytecode.OpInvokevirtual ||
		op == bytecode.OpInvokespecial || op == bytecode.OpInvokestatic:
		w.u1(uint8(op))
		w.u2(pool.MemberRef(n.Ref, false))
	case op == bytecode.OpInvokeinterface:
		argw, err := bytecode.ArgsSize(n.Ref.Desc)
		if err != nil {
			return err
		}

		w.u1(uint8(op))
		w.u2(pool.MemberRef(n.Ref, true))
		w.u1(uint8(argw + 1))
		w.u1(0)
	case op == bytecode.OpInvokedynamic:
		w.u1(uint8(op))
		w.u2(n.CPIdx)
		w.u2(0)
	case op == bytecode.OpNew || op == bytecode.OpAnewarray ||
		op == bytecode.OpCheckcast || op == bytecode.OpInstanceof:
		w.u1(uint8(op))
		w.u2(pool.Class(n.Type))
	case op == bytecode.OpMultianewarray:
		w.u1(uint8(op))
		w.u2(pool.Class(n.Type))
		w.u1(uint8(n.Dims))
	default:
		w.u1(uint8(op))
	}

	return nil
}

func emitVarInsn(w *writer, n *bytecode.Insn) {
	op := n.Op

	switch {
	case n.Var <= 3 && bytecode.IsLoad(op):
		w.u1(uint8(bytecode.OpIload0 + (op-bytecode.OpIload)*4 + n.Var))
	case n.Var <= 3 && bytecode.IsStore(op):
		w.u1(uint8(bytecode.OpIstore0 + (op-bytecode.OpIstore)*4 + n.Var))
	case n.Var <= 0xFF:
		w.u1(uint8(op))
		w.u1(uint8(n.Var))
	default:
		w.u1(bytecode.OpWide)
		w.u1(uint8(op))
		w.u2(uint16(n.Var))
	}
}

func emitSwitchTarget(w *writer, lbl *bytecode.Label, base int, labels map[*bytecode.Label]int) error {
	target, ok := labels[lbl]
	if !ok {
		return fmt.Errorf("%w: switch target is an unplaced label", ErrClassFormat)
	}

	w.u4(uint32(target - base))

	return nil
}

func floatBits(v float32) uint32 {
	return math.Float32bits(v)
}

func doubleBits(v float64) uint64 {
	return math.Float64bits(v)
}
