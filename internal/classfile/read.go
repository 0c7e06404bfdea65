package classfile

import (
	"fmt"
	"math"
)

// Parse decodes a class file. Method bodies are decoded into the instruction
// model; attributes the engine does not act on (annotations, signatures,
// StackMapTable) are discarded.
func Parse(data []byte) (*Class, error) {
	r := newReader(data)

	if r.u4() != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrClassFormat)
	}

	c := &Class{}
	c.Minor = r.u2()
	c.Major = r.u2()

	pool, err := parsePool(r)
	if err != nil {
		return nil, err
	}
	c.Pool = pool

	c.Access = r.u2()

	name, err := pool.ClassNameAt(r.u2())
	if err != nil {
		return nil, err
	}
	c.Name = name

	if superIdx := r.u2(); superIdx != 0 {
		super, err := pool.ClassNameAt(superIdx)
		if err != nil {
			return nil, err
		}

		c.Super = super
	}

	ifaceCount := int(r.u2())
	for range ifaceCount {
		iface, err := pool.ClassNameAt(r.u2())
		if err != nil {
			return nil, err
		}

		c.Interfaces = append(c.Interfaces, iface)
	}

	fieldCount := int(r.u2())
	for range fieldCount {
		f, err := parseField(r, pool)
		if err != nil {
			return nil, err
		}

		c.Fields = append(c.Fields, f)
	}

	methodCount := int(r.u2())
	for range methodCount {
		mt, err := parseMethod(r, pool)
		if err != nil {
			return nil, err
		}

		c.Methods = append(c.Methods, mt)
	}

	attrCount := int(r.u2())
	for range attrCount {
		attrName, data, err := parseAttr(r, pool)
		if err != nil {
			return nil, err
		}

		if attrName == "SourceFile" && len(data) == 2 {
			src, err := pool.UTF8At(u16(data))
			if err != nil {
				return nil, err
			}

			c.SourceFile = src
		}
	}

	if r.err != nil {
		return nil, r.err
	}

	return c, nil
}

func u16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func parsePool(r *reader) (*ConstPool, error) {
	count := int(r.u2())
	if count == 0 {
		return nil, fmt.Errorf("%w: empty constant pool", ErrClassFormat)
	}

	pool := &ConstPool{
		entries: make([]poolEntry, 1, count),
		index:   make(map[poolKey]uint16),
	}

	for len(pool.entries) < count {
		tag := r.u1()
		e := poolEntry{tag: tag}
		wide := false

		switch tag {
		case tagUtf8:
			length := int(r.u2())
			e.str = string(r.take(length))
		case tagInteger:
			e.i32 = int32(r.u4())
		case tagFloat:
			e.f32 = math.Float32frombits(r.u4())
		case tagLong:
			e.i64 = int64(uint64(r.u4())<<32 | uint64(r.u4()))
			wide = true
		case tagDouble:
			e.f64 = math.Float64frombits(uint64(r.u4())<<32 | uint64(r.u4()))
			wide = true
		case tagClass, tagString, tagMethodType, tagModule, tagPackage:
			e.ref1 = r.u2()
		case tagFieldref, tagMethodref, tagInterfaceMethod, tagNameAndType,
			tagDynamic, tagInvokeDynamic:
			e.ref1 = r.u2()
			e.ref2 = r.u2()
		case tagMethodHandle:
			e.kind = r.u1()
			e.ref1 = r.u2()
		default:
			return nil, fmt.Errorf("%w: unknown constant pool tag %d", ErrClassFormat, tag)
		}

		if r.err != nil {
			return nil, r.err
		}

		pool.entries = append(pool.entries, e)
		if wide {
			pool.entries = append(pool.entries, poolEntry{})
		}
	}

	pool.rebuildIndex()

	return pool, nil
}

// rebuildIndex registers parsed entries for interning so later additions
// reuse existing slots instead of growing the pool with duplicates.
func (p *ConstPool) rebuildIndex() {
	for i := 1; i < len(p.entries); i++ {
		e := p.entries[i]

		var key poolKey

		switch e.tag {
		case tagUtf8:
			key = poolKey{tag: tagUtf8, str: e.str}
		case tagInteger:
			key = poolKey{tag: tagInteger, num: uint64(uint32(e.i32))}
		case tagFloat:
			key = poolKey{tag: tagFloat, num: uint64(math.Float32bits(e.f32))}
		case tagLong:
			key = poolKey{tag: tagLong, num: uint64(e.i64)}
		case tagDouble:
			key = poolKey{tag: tagDouble, num: math.Float64bits(e.f64)}
		case tagClass, tagString:
			key = poolKey{tag: e.tag, ref1: e.ref1}
		case tagFieldref, tagMethodref, tagInterfaceMethod, tagNameAndType:
			key = poolKey{tag: e.tag, ref1: e.ref1, ref2: e.ref2}
		default:
			continue
		}

		if _, ok := p.index[key]; !ok {
			p.index[key] = uint16(i)
		}
	}
}

// parseAttr reads one attribute header and returns its name and raw payload.
func parseAttr(r *reader, pool *ConstPool) (string, []byte, error) {
	nameIdx := r.u2()
	length := int(r.u4())
	data := r.take(length)

	if r.err != nil {
		return "", nil, r.err
	}

	name, err := pool.UTF8At(nameIdx)
	if err != nil {
		return "", nil, err
	}

	return name, data, nil
}

func parseField(r *reader, pool *ConstPool) (*Field, error) {
	f := &Field{Access: r.u2()}

	name, err := pool.UTF8At(r.u2())
	if err != nil {
		return nil, err
	}
	f.Name = name

	desc, err := pool.UTF8At(r.u2())
	if err != nil {
		return nil, err
	}
	f.Desc = desc

	attrCount := int(r.u2())
	for range attrCount {
		attrName, data, err := parseAttr(r, pool)
		if err != nil {
			return nil, err
		}

		if attrName == "ConstantValue" && len(data) == 2 {
			v, ok, err := pool.ConstAt(u16(data))
			if err != nil {
				return nil, err
			}
			if ok {
				f.ConstValue = v
			}
		}
	}

	return f, nil
}

func parseMethod(r *reader, pool *ConstPool) (*Method, error) {
	mt := &Method{Access: r.u2()}

	name, err := pool.UTF8At(r.u2())
	if err != nil {
		return nil, err
	}
	mt.Name = name

	desc, err := pool.UTF8At(r.u2())
	if err != nil {
		return nil, err
	}
	mt.Desc = desc

	attrCount := int(r.u2())
	for range attrCount {
		attrName, data, err := parseAttr(r, pool)
		if err != nil {
			return nil, err
		}

		switch attrName {
		case "Code":
			code, err := decodeCode(data, pool)
			if err != nil {
				return nil, fmt.Errorf("method %s%s: %w", mt.Name, mt.Desc, err)
			}

			mt.Code = code
		case "Exceptions":
			ex := newReader(data)

			n := int(ex.u2())
			for range n {
				cls, err := pool.ClassNameAt(ex.u2())
				if err != nil {
					return nil, err
				}

				mt.Exceptions = append(mt.Exceptions, cls)
			}
		}
	}

	return mt, nil
}
