package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBadDescriptor reports a syntactically invalid type descriptor.
var ErrBadDescriptor = errors.New("malformed type descriptor")

// NextType consumes one type descriptor from the front of s and returns it
// along with the remainder.
func NextType(s string) (string, string, error) {
	if s == "" {
		return "", "", fmt.Errorf("%w: empty input", ErrBadDescriptor)
	}

	switch s[0] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 'V':
		return s[:1], s[1:], nil
	case 'L':
		end := strings.IndexByte(s, ';')
		if end < 0 {
			return "", "", fmt.Errorf("%w: unterminated object type %q", ErrBadDescriptor, s)
		}

		return s[:end+1], s[end+1:], nil
	case '[':
		elem, rest, err := NextType(s[1:])
		if err != nil {
			return "", "", err
		}
		if elem == "V" {
			return "", "", fmt.Errorf("%w: array of void", ErrBadDescriptor)
		}

		return "[" + elem, rest, nil
	}

	return "", "", fmt.Errorf("%w: unexpected %q", ErrBadDescriptor, s)
}

// ParseMethodDesc splits a method descriptor "(args)ret" into its argument
// types and return type.
func ParseMethodDesc(desc string) ([]string, string, error) {
	if desc == "" || desc[0] != '(' {
		return nil, "", fmt.Errorf("%w: %q is not a method descriptor", ErrBadDescriptor, desc)
	}

	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return nil, "", fmt.Errorf("%w: missing ')' in %q", ErrBadDescriptor, desc)
	}

	var args []string

	rest := desc[1:end]
	for rest != "" {
		arg, tail, err := NextType(rest)
		if err != nil {
			return nil, "", err
		}
		if arg == "V" {
			return nil, "", fmt.Errorf("%w: void argument in %q", ErrBadDescriptor, desc)
		}

		args = append(args, arg)
		rest = tail
	}

	ret, tail, err := NextType(desc[end+1:])
	if err != nil {
		return nil, "", err
	}
	if tail != "" {
		return nil, "", fmt.Errorf("%w: trailing text after return type in %q", ErrBadDescriptor, desc)
	}

	return args, ret, nil
}

// IsValidDesc reports whether s is a well-formed field or method descriptor.
func IsValidDesc(s string) bool {
	if s == "" {
		return false
	}

	if s[0] == '(' {
		_, _, err := ParseMethodDesc(s)
		return err == nil
	}

	t, rest, err := NextType(s)
	return err == nil && rest == "" && t != "V"
}

// TypeSize returns the number of local/stack slots a type occupies: 2 for
// long and double, 0 for void, 1 otherwise.
func TypeSize(desc string) int {
	switch desc[0] {
	case 'J', 'D':
		return 2
	case 'V':
		return 0
	default:
		return 1
	}
}

// ArgsSize returns the total slot width of a method descriptor's arguments.
func ArgsSize(desc string) (int, error) {
	args, _, err := ParseMethodDesc(desc)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, a := range args {
		total += TypeSize(a)
	}

	return total, nil
}

// IsPrimitive reports whether desc names a primitive type.
func IsPrimitive(desc string) bool {
	if len(desc) != 1 {
		return false
	}

	switch desc[0] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return true
	}

	return false
}

// boxing describes the wrapper class for a primitive type and the methods
// used to convert to and from it.
type boxing struct {
	wrapper string // internal name of the wrapper class
	unbox   string // instance method on the wrapper returning the primitive
}

var boxings = map[byte]boxing{
	'Z': {"java/lang/Boolean", "booleanValue"},
	'B': {"java/lang/Byte", "byteValue"},
	'C': {"java/lang/Character", "charValue"},
	'S': {"java/lang/Short", "shortValue"},
	'I': {"java/lang/Integer", "intValue"},
	'J': {"java/lang/Long", "longValue"},
	'F': {"java/lang/Float", "floatValue"},
	'D': {"java/lang/Double", "doubleValue"},
}

// BoxInfo returns the wrapper class internal name, the static valueOf
// descriptor, the unbox method name and its descriptor for a primitive type.
// ok is false for non-primitive descriptors, which need no boxing.
func BoxInfo(desc string) (wrapper, valueOfDesc, unboxName, unboxDesc string, ok bool) {
	if !IsPrimitive(desc) {
		return "", "", "", "", false
	}

	b := boxings[desc[0]]

	return b.wrapper,
		"(" + desc + ")L" + b.wrapper + ";",
		b.unbox,
		"()" + desc,
		true
}

// ReferenceName returns the internal class name to use in checkcast for a
// reference type descriptor: the bare class name for Lname; forms, the full
// descriptor for array types.
func ReferenceName(desc string) string {
	if strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";") {
		return desc[1 : len(desc)-1]
	}

	return desc
}
