package classfile

import (
	"fmt"
	"sort"

	"weft.dev/pkg/weft/internal/bytecode"
)

// insnRec is one decoded instruction before branch targets become labels.
type insnRec struct {
	offset     int
	insn       *bytecode.Insn
	targetOff  int   // branch target offset, -1 when none
	switchOffs []int // switch case target offsets
	defaultOff int
}

// decodeCode parses a Code attribute payload into the instruction model.
// Branch offsets become labels so the body survives arbitrary insertion.
func decodeCode(data []byte, pool *ConstPool) (*Code, error) {
	r := newReader(data)

	code := &Code{
		MaxStack:  int(r.u2()),
		MaxLocals: int(r.u2()),
		Insns:     bytecode.NewInsnList(),
	}

	codeLen := int(r.u4())
	raw := r.take(codeLen)
	if r.err != nil {
		return nil, r.err
	}

	recs, err := decodeInsns(raw, pool)
	if err != nil {
		return nil, err
	}

	targets := map[int]*bytecode.Label{}
	labelAt := func(off int) *bytecode.Label {
		if l, ok := targets[off]; ok {
			return l
		}

		l := bytecode.NewLabel()
		targets[off] = l

		return l
	}

	for _, rec := range recs {
		if rec.targetOff >= 0 {
			rec.insn.Target = labelAt(rec.targetOff)
		}
		if rec.insn.Op == bytecode.OpTableswitch || rec.insn.Op == bytecode.OpLookupswitch {
			rec.insn.Default = labelAt(rec.defaultOff)
			for _, off := range rec.switchOffs {
				rec.insn.SwitchTargets = append(rec.insn.SwitchTargets, labelAt(off))
			}
		}
	}

	// Exception table ranges also pin labels.
	excCount := int(r.u2())
	for range excCount {
		start, end, handler := int(r.u2()), int(r.u2()), int(r.u2())
		catchIdx := r.u2()

		tc := TryCatch{
			Start:   labelAt(start),
			End:     labelAt(end),
			Handler: labelAt(handler),
		}

		if catchIdx != 0 {
			name, err := pool.ClassNameAt(catchIdx)
			if err != nil {
				return nil, err
			}

			tc.Type = name
		}

		code.Try = append(code.Try, tc)
	}

	lines := map[int]int{}

	var rawVars []struct {
		start, length, slot int
		name, desc          string
	}

	attrCount := int(r.u2())
	for range attrCount {
		attrName, payload, err := parseAttr(r, pool)
		if err != nil {
			return nil, err
		}

		switch attrName {
		case "LineNumberTable":
			lr := newReader(payload)

			n := int(lr.u2())
			for range n {
				pc, line := int(lr.u2()), int(lr.u2())
				lines[pc] = line
			}
		case "LocalVariableTable":
			lr := newReader(payload)

			n := int(lr.u2())
			for range n {
				start, length := int(lr.u2()), int(lr.u2())
				nameIdx, descIdx := lr.u2(), lr.u2()
				slot := int(lr.u2())

				name, err := pool.UTF8At(nameIdx)
				if err != nil {
					return nil, err
				}

				desc, err := pool.UTF8At(descIdx)
				if err != nil {
					return nil, err
				}

				rawVars = append(rawVars, struct {
					start, length, slot int
					name, desc          string
				}{start, length, slot, name, desc})
			}
		}
	}

	for _, v := range rawVars {
		code.LocalVars = append(code.LocalVars, LocalVar{
			Name:  v.name,
			Desc:  v.desc,
			Start: labelAt(v.start),
			End:   labelAt(v.start + v.length),
			Slot:  v.slot,
		})
	}

	// Assemble the list in offset order: labels anchor first, then the line
	// marker, then the instruction itself.
	pending := map[int]*bytecode.Label{}
	for off, lbl := range targets {
		pending[off] = lbl
	}

	for _, rec := range recs {
		if lbl, ok := pending[rec.offset]; ok {
			code.Insns.Append(bytecode.LabelInsn(lbl))
			delete(pending, rec.offset)
		}
		if line, ok := lines[rec.offset]; ok {
			code.Insns.Append(bytecode.LineInsn(line))
		}

		code.Insns.Append(rec.insn)
	}

	// Labels at code end (exception range ends, LVT ends) trail the list.
	endOffsets := make([]int, 0, len(pending))
	for off := range pending {
		endOffsets = append(endOffsets, off)
	}
	sort.Ints(endOffsets)

	for _, off := range endOffsets {
		if off < codeLen {
			return nil, fmt.Errorf("%w: branch or range target %d inside an instruction", ErrClassFormat, off)
		}

		code.Insns.Append(bytecode.LabelInsn(pending[off]))
	}

	return code, nil
}

func decodeInsns(raw []byte, pool *ConstPool) ([]*insnRec, error) {
	var recs []*insnRec

	r := newReader(raw)
	for r.pos < len(raw) {
		offset := r.pos
		op := int(r.u1())

		rec := &insnRec{offset: offset, targetOff: -1}

		switch {
		case op == bytecode.OpBipush:
			rec.insn = bytecode.IntInsn(op, int64(int8(r.u1())))
		case op == bytecode.OpSipush:
			rec.insn = bytecode.IntInsn(op, int64(int16(r.u2())))
		case op == bytecode.OpLdc:
			rec.insn = ldcInsn(uint16(r.u1()), pool)
		case op == bytecode.OpLdcW || op == bytecode.OpLdc2W:
			rec.insn = ldcInsn(r.u2(), pool)
		case op >= bytecode.OpIload && op <= bytecode.OpAload:
			rec.insn = bytecode.VarInsn(op, int(r.u1()))
		case op >= bytecode.OpIload0 && op <= bytecode.OpAload3:
			base := (op - bytecode.OpIload0) / 4
			rec.insn = bytecode.VarInsn(bytecode.OpIload+base, (op-bytecode.OpIload0)%4)
		case op >= bytecode.OpIstore && op <= bytecode.OpAstore:
			rec.insn = bytecode.VarInsn(op, int(r.u1()))
		case op >= bytecode.OpIstore0 && op <= bytecode.OpAstore3:
			base := (op - bytecode.OpIstore0) / 4
			rec.insn = bytecode.VarInsn(bytecode.OpIstore+base, (op-bytecode.OpIstore0)%4)
		case op == bytecode.OpIinc:
			slot := int(r.u1())
			rec.insn = bytecode.IincInsn(slot, int(int8(r.u1())))
		case op == bytecode.OpRet:
			rec.insn = bytecode.VarInsn(op, int(r.u1()))
		case op == bytecode.OpWide:
			wop := int(r.u1())
			slot := int(r.u2())

			if wop == bytecode.OpIinc {
				rec.insn = bytecode.IincInsn(slot, int(int16(r.u2())))
			} else {
				rec.insn = bytecode.VarInsn(wop, slot)
			}
		case isBranch16(op):
			delta := int(int16(r.u2()))
			rec.insn = &bytecode.Insn{Op: op}
			rec.targetOff = offset + delta
		case op == bytecode.OpGotoW || op == bytecode.OpJsrW:
			delta := int(int32(r.u4()))
			narrow := bytecode.OpGoto
			if op == bytecode.OpJsrW {
				narrow = bytecode.OpJsr
			}

			rec.insn = &bytecode.Insn{Op: narrow}
			rec.targetOff = offset + delta
		case op == bytecode.OpTableswitch:
			r.skip((4 - (r.pos % 4)) % 4)

			rec.defaultOff = offset + int(int32(r.u4()))
			lo, hi := int32(r.u4()), int32(r.u4())
			rec.insn = &bytecode.Insn{Op: op, SwitchLo: lo, SwitchHi: hi}

			for i := lo; i <= hi; i++ {
				rec.switchOffs = append(rec.switchOffs, offset+int(int32(r.u4())))
			}
		case op == bytecode.OpLookupswitch:
			r.skip((4 - (r.pos % 4)) % 4)

			rec.defaultOff = offset + int(int32(r.u4()))
			n := int(int32(r.u4()))
			rec.insn = &bytecode.Insn{Op: op}

			for range n {
				rec.insn.SwitchKeys = append(rec.insn.SwitchKeys, int32(r.u4()))
				rec.switchOffs = append(rec.switchOffs, offset+int(int32(r.u4())))
			}
		case bytecode.IsFieldAccess(op) || op == bytecode.OpInvokevirtual ||
			op == bytecode.OpInvokespecial || op == bytecode.OpInvokestatic:
			ref, _, err := pool.MemberAt(r.u2())
			if err != nil {
				return nil, err
			}

			rec.insn = bytecode.RefInsn(op, ref)
		case op == bytecode.OpInvokeinterface:
			ref, _, err := pool.MemberAt(r.u2())
			if err != nil {
				return nil, err
			}

			r.skip(2) // count and reserved zero byte

			rec.insn = bytecode.RefInsn(op, ref)
		case op == bytecode.OpInvokedynamic:
			idx := r.u2()
			r.skip(2)

			rec.insn = &bytecode.Insn{Op: op, CPIdx: idx}
		case op == bytecode.OpNew || op == bytecode.OpAnewarray ||
			op == bytecode.OpCheckcast || op == bytecode.OpInstanceof:
			name, err := pool.ClassNameAt(r.u2())
			if err != nil {
				return nil, err
			}

			rec.insn = bytecode.TypeInsn(op, name)
		case op == bytecode.OpNewarray:
			rec.insn = bytecode.IntInsn(op, int64(r.u1()))
		case op == bytecode.OpMultianewarray:
			name, err := pool.ClassNameAt(r.u2())
			if err != nil {
				return nil, err
			}

			dims := int(r.u1())
			rec.insn = &bytecode.Insn{Op: op, Type: name, Dims: dims}
		default:
			if bytecode.Mnemonic(op) == "unknown" {
				return nil, fmt.Errorf("%w: unknown opcode 0x%02X at offset %d", ErrClassFormat, op, offset)
			}

			rec.insn = bytecode.Raw(op)
		}

		if r.err != nil {
			return nil, r.err
		}

		recs = append(recs, rec)
	}

	return recs, nil
}

func ldcInsn(idx uint16, pool *ConstPool) *bytecode.Insn {
	v, ok, _ := pool.ConstAt(idx)
	if !ok {
		// Method handles and dynamic constants pass through by pool index.
		return &bytecode.Insn{Op: bytecode.OpLdc, CPIdx: idx}
	}

	return bytecode.LdcInsn(v)
}

func isBranch16(op int) bool {
	return (op >= bytecode.OpIfeq && op <= bytecode.OpJsr) ||
		op == bytecode.OpIfnull || op == bytecode.OpIfnonnull
}
