// Package model defines the data structures shared across the injection engine.
package model

import "strings"

// Path represents a filesystem location (class root, config file, output dir).
type Path string

// MemberRef identifies a class member by owner, name and type descriptor.
// It is an immutable value; two refs are equal when all fields are equal.
type MemberRef struct {
	Owner   string // internal name, e.g. "com/example/Foo"
	Name    string
	Desc    string // "(I)V" for methods, "I" for fields
	IsField bool
}

// NewMethodRef builds a method reference.
func NewMethodRef(owner, name, desc string) MemberRef {
	return MemberRef{Owner: owner, Name: name, Desc: desc}
}

// NewFieldRef builds a field reference.
func NewFieldRef(owner, name, desc string) MemberRef {
	return MemberRef{Owner: owner, Name: name, Desc: desc, IsField: true}
}

// IsConstructor reports whether the ref names an instance initializer.
func (r MemberRef) IsConstructor() bool {
	return r.Name == "<init>"
}

// String renders the canonical textual form, e.g. "Lcom/example/Foo;bar(I)V"
// for methods and "Lcom/example/Foo;baz:I" for fields.
func (r MemberRef) String() string {
	var sb strings.Builder
	if r.Owner != "" {
		sb.WriteString("L")
		sb.WriteString(r.Owner)
		sb.WriteString(";")
	}

	sb.WriteString(r.Name)

	if r.Desc != "" {
		if r.IsField {
			sb.WriteString(":")
			sb.WriteString(r.Desc)
		} else {
			sb.WriteString(r.Desc)
		}
	}

	return sb.String()
}
