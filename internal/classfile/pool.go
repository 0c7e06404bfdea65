// Package classfile reads and writes JVM class files, decoding method bodies
// into the bytecode instruction model and encoding them back after injection.
package classfile

import (
	"errors"
	"fmt"
	"math"

	"weft.dev/pkg/weft/internal/bytecode"
	m "weft.dev/pkg/weft/internal/model"
)

// ErrClassFormat reports a structurally invalid class file.
var ErrClassFormat = errors.New("bad class file")

// Constant pool tags.
const (
	tagUtf8            = 1
	tagInteger         = 3
	tagFloat           = 4
	tagLong            = 5
	tagDouble          = 6
	tagClass           = 7
	tagString          = 8
	tagFieldref        = 9
	tagMethodref       = 10
	tagInterfaceMethod = 11
	tagNameAndType     = 12
	tagMethodHandle    = 15
	tagMethodType      = 16
	tagDynamic         = 17
	tagInvokeDynamic   = 18
	tagModule          = 19
	tagPackage         = 20
)

type poolEntry struct {
	tag  uint8
	str  string // Utf8 payload
	i32  int32
	i64  int64
	f32  float32
	f64  float64
	ref1 uint16 // Class/String/MethodType/Module/Package ref, or first ref
	ref2 uint16 // second ref (NameAndType, bootstrap index)
	kind uint8  // MethodHandle reference kind
}

type poolKey struct {
	tag        uint8
	str        string
	num        uint64
	ref1, ref2 uint16
	kind       uint8
}

// ConstPool is a mutable constant pool. Parsed entries keep their original
// indices so passthrough attributes stay valid; new entries are interned at
// the end, which is why injectors can freely reference new members.
type ConstPool struct {
	entries []poolEntry // entries[0] is the unused slot zero
	index   map[poolKey]uint16
}

// NewConstPool creates a pool containing only the reserved zero entry.
func NewConstPool() *ConstPool {
	return &ConstPool{
		entries: make([]poolEntry, 1),
		index:   make(map[poolKey]uint16),
	}
}

// Count returns the constant_pool_count value (one past the last index).
func (p *ConstPool) Count() int { return len(p.entries) }

func (p *ConstPool) add(key poolKey, e poolEntry, wide bool) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}

	idx := uint16(len(p.entries))
	p.entries = append(p.entries, e)
	if wide {
		// Long and double entries occupy two pool slots.
		p.entries = append(p.entries, poolEntry{})
	}

	p.index[key] = idx

	return idx
}

// Utf8 interns a modified-UTF8 string entry.
func (p *ConstPool) Utf8(s string) uint16 {
	return p.add(poolKey{tag: tagUtf8, str: s}, poolEntry{tag: tagUtf8, str: s}, false)
}

// Class interns a class entry for an internal name.
func (p *ConstPool) Class(name string) uint16 {
	utf := p.Utf8(name)
	return p.add(poolKey{tag: tagClass, ref1: utf}, poolEntry{tag: tagClass, ref1: utf}, false)
}

// Str interns a string constant entry.
func (p *ConstPool) Str(s string) uint16 {
	utf := p.Utf8(s)
	return p.add(poolKey{tag: tagString, ref1: utf}, poolEntry{tag: tagString, ref1: utf}, false)
}

// Int interns an integer constant entry.
func (p *ConstPool) Int(v int32) uint16 {
	return p.add(poolKey{tag: tagInteger, num: uint64(uint32(v))}, poolEntry{tag: tagInteger, i32: v}, false)
}

// Float interns a float constant entry.
func (p *ConstPool) Float(v float32) uint16 {
	return p.add(poolKey{tag: tagFloat, num: uint64(math.Float32bits(v))}, poolEntry{tag: tagFloat, f32: v}, false)
}

// Long interns a long constant entry.
func (p *ConstPool) Long(v int64) uint16 {
	return p.add(poolKey{tag: tagLong, num: uint64(v)}, poolEntry{tag: tagLong, i64: v}, true)
}

// Double interns a double constant entry.
func (p *ConstPool) Double(v float64) uint16 {
	return p.add(poolKey{tag: tagDouble, num: math.Float64bits(v)}, poolEntry{tag: tagDouble, f64: v}, true)
}

// NameAndType interns a name-and-type entry.
func (p *ConstPool) NameAndType(name, desc string) uint16 {
	n, d := p.Utf8(name), p.Utf8(desc)
	return p.add(
		poolKey{tag: tagNameAndType, ref1: n, ref2: d},
		poolEntry{tag: tagNameAndType, ref1: n, ref2: d},
		false,
	)
}

// MemberRef interns a Fieldref/Methodref/InterfaceMethodref entry for ref.
func (p *ConstPool) MemberRef(ref m.MemberRef, iface bool) uint16 {
	tag := uint8(tagMethodref)
	if ref.IsField {
		tag = tagFieldref
	} else if iface {
		tag = tagInterfaceMethod
	}

	cls := p.Class(ref.Owner)
	nat := p.NameAndType(ref.Name, ref.Desc)

	return p.add(
		poolKey{tag: tag, ref1: cls, ref2: nat},
		poolEntry{tag: tag, ref1: cls, ref2: nat},
		false,
	)
}

// ConstIndex interns a loadable constant and reports whether it needs the
// two-slot ldc2_w form.
func (p *ConstPool) ConstIndex(v any) (uint16, bool, error) {
	switch c := v.(type) {
	case int32:
		return p.Int(c), false, nil
	case float32:
		return p.Float(c), false, nil
	case int64:
		return p.Long(c), true, nil
	case float64:
		return p.Double(c), true, nil
	case string:
		return p.Str(c), false, nil
	case bytecode.ClassConst:
		return p.Class(string(c)), false, nil
	default:
		return 0, false, fmt.Errorf("%w: unsupported ldc constant %T", ErrClassFormat, v)
	}
}

func (p *ConstPool) entry(idx uint16) (poolEntry, error) {
	if int(idx) == 0 || int(idx) >= len(p.entries) {
		return poolEntry{}, fmt.Errorf("%w: constant pool index %d out of range", ErrClassFormat, idx)
	}

	return p.entries[idx], nil
}

// UTF8At resolves a Utf8 entry.
func (p *ConstPool) UTF8At(idx uint16) (string, error) {
	e, err := p.entry(idx)
	if err != nil {
		return "", err
	}
	if e.tag != tagUtf8 {
		return "", fmt.Errorf("%w: index %d is not Utf8", ErrClassFormat, idx)
	}

	return e.str, nil
}

// ClassNameAt resolves a Class entry to its internal name.
func (p *ConstPool) ClassNameAt(idx uint16) (string, error) {
	e, err := p.entry(idx)
	if err != nil {
		return "", err
	}
	if e.tag != tagClass {
		return "", fmt.Errorf("%w: index %d is not a class", ErrClassFormat, idx)
	}

	return p.UTF8At(e.ref1)
}

// MemberAt resolves a field/method reference entry.
func (p *ConstPool) MemberAt(idx uint16) (m.MemberRef, bool, error) {
	e, err := p.entry(idx)
	if err != nil {
		return m.MemberRef{}, false, err
	}

	if e.tag != tagFieldref && e.tag != tagMethodref && e.tag != tagInterfaceMethod {
		return m.MemberRef{}, false, fmt.Errorf("%w: index %d is not a member reference", ErrClassFormat, idx)
	}

	owner, err := p.ClassNameAt(e.ref1)
	if err != nil {
		return m.MemberRef{}, false, err
	}

	nat, err := p.entry(e.ref2)
	if err != nil {
		return m.MemberRef{}, false, err
	}
	if nat.tag != tagNameAndType {
		return m.MemberRef{}, false, fmt.Errorf("%w: index %d is not NameAndType", ErrClassFormat, e.ref2)
	}

	name, err := p.UTF8At(nat.ref1)
	if err != nil {
		return m.MemberRef{}, false, err
	}

	desc, err := p.UTF8At(nat.ref2)
	if err != nil {
		return m.MemberRef{}, false, err
	}

	ref := m.MemberRef{Owner: owner, Name: name, Desc: desc, IsField: e.tag == tagFieldref}

	return ref, e.tag == tagInterfaceMethod, nil
}

// ConstAt resolves a loadable constant for ldc decoding. Exotic entries
// (method handles, dynamic constants) return ok false and are carried by raw
// index instead.
func (p *ConstPool) ConstAt(idx uint16) (any, bool, error) {
	e, err := p.entry(idx)
	if err != nil {
		return nil, false, err
	}

	switch e.tag {
	case tagInteger:
		return e.i32, true, nil
	case tagFloat:
		return e.f32, true, nil
	case tagLong:
		return e.i64, true, nil
	case tagDouble:
		return e.f64, true, nil
	case tagString:
		s, err := p.UTF8At(e.ref1)
		return s, err == nil, err
	case tagClass:
		name, err := p.ClassNameAt(idx)
		return bytecode.ClassConst(name), err == nil, err
	default:
		return nil, false, nil
	}
}
