package classfile

import (
	"strings"

	"weft.dev/pkg/weft/internal/bytecode"
	m "weft.dev/pkg/weft/internal/model"
)

// Access flags.
const (
	AccPublic    = 0x0001
	AccPrivate   = 0x0002
	AccProtected = 0x0004
	AccStatic    = 0x0008
	AccFinal     = 0x0010
	AccSuper     = 0x0020
	AccInterface = 0x0200
	AccAbstract  = 0x0400
	AccSynthetic = 0x1000
)

// Magic is the class file signature.
const Magic = 0xCAFEBABE

// VersionPreFrames is the highest class file version whose methods verify by
// type inference, with no StackMapTable required. Rewritten classes are
// clamped to it because the writer does not regenerate frames.
const VersionPreFrames = 49

// TryCatch is one exception-table range, bounded by stable labels.
type TryCatch struct {
	Start, End, Handler *bytecode.Label
	Type                string // internal name; "" means catch-all
}

// LocalVar is one debug local-variable-table entry.
type LocalVar struct {
	Name, Desc string
	Start, End *bytecode.Label
	Slot       int
}

// Code is a decoded Code attribute.
type Code struct {
	MaxStack, MaxLocals int
	Insns               *bytecode.InsnList
	Try                 []TryCatch
	LocalVars           []LocalVar
}

// Method is one method of a class.
type Method struct {
	Access     uint16
	Name, Desc string
	Exceptions []string // declared throws, internal names
	Code       *Code
}

// IsStatic reports whether the method has no receiver.
func (mt *Method) IsStatic() bool { return mt.Access&AccStatic != 0 }

// IsAbstract reports whether the method has no body.
func (mt *Method) IsAbstract() bool { return mt.Access&AccAbstract != 0 }

// ArgTypes returns the method's argument type descriptors.
func (mt *Method) ArgTypes() []string {
	args, _, err := bytecode.ParseMethodDesc(mt.Desc)
	if err != nil {
		return nil
	}

	return args
}

// ReturnType returns the method's return type descriptor.
func (mt *Method) ReturnType() string {
	_, ret, err := bytecode.ParseMethodDesc(mt.Desc)
	if err != nil {
		return "V"
	}

	return ret
}

// Ref builds the member reference identifying this method within owner.
func (mt *Method) Ref(owner string) m.MemberRef {
	return m.NewMethodRef(owner, mt.Name, mt.Desc)
}

// Field is one field of a class.
type Field struct {
	Access     uint16
	Name, Desc string
	ConstValue any // ConstantValue attribute payload, if present
}

// Ref builds the member reference identifying this field within owner.
func (f *Field) Ref(owner string) m.MemberRef {
	return m.NewFieldRef(owner, f.Name, f.Desc)
}

// Class is a decoded class file. The constant pool is carried along so a
// rewritten class can intern new references without disturbing parsed
// indices.
type Class struct {
	Minor, Major uint16
	Access       uint16
	Name         string
	Super        string
	Interfaces   []string
	Fields       []*Field
	Methods      []*Method
	SourceFile   string

	Pool *ConstPool
}

// NewClass creates an empty class for synthesis (tests, generated helpers).
func NewClass(name, super string) *Class {
	return &Class{
		Major:  VersionPreFrames,
		Access: AccPublic | AccSuper,
		Name:   name,
		Super:  super,
		Pool:   NewConstPool(),
	}
}

// FindMethod returns the method with the given name and descriptor, or nil.
func (c *Class) FindMethod(name, desc string) *Method {
	for _, mt := range c.Methods {
		if mt.Name == name && mt.Desc == desc {
			return mt
		}
	}

	return nil
}

// MethodRefs lists all concrete methods as member references, the candidate
// set selectors resolve against.
func (c *Class) MethodRefs() []m.MemberRef {
	refs := make([]m.MemberRef, 0, len(c.Methods))
	for _, mt := range c.Methods {
		refs = append(refs, mt.Ref(c.Name))
	}

	return refs
}

// SimpleName returns the class name without its package.
func (c *Class) SimpleName() string {
	if idx := strings.LastIndexByte(c.Name, '/'); idx >= 0 {
		return c.Name[idx+1:]
	}

	return c.Name
}
