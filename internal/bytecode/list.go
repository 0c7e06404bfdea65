package bytecode

import "strings"

// InsnList is the ordered, doubly-linked instruction sequence of one method
// body. Mutations never renumber anything; positions only materialize at
// serialization time. A node belongs to at most one list at a time.
type InsnList struct {
	head, tail *Insn
	size       int
}

// NewInsnList creates an empty list.
func NewInsnList() *InsnList {
	return &InsnList{}
}

// First returns the first node, or nil when empty.
func (l *InsnList) First() *Insn { return l.head }

// Last returns the last node, or nil when empty.
func (l *InsnList) Last() *Insn { return l.tail }

// Len returns the number of nodes, pseudo-nodes included.
func (l *InsnList) Len() int { return l.size }

// Contains reports whether n is a member of this list.
func (l *InsnList) Contains(n *Insn) bool { return n != nil && n.list == l }

// Append adds nodes at the end of the list.
func (l *InsnList) Append(nodes ...*Insn) {
	for _, n := range nodes {
		l.attach(n)

		if l.tail == nil {
			l.head, l.tail = n, n
			continue
		}

		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
}

// InsertBefore places n immediately before ref, which must be a member of
// the list.
func (l *InsnList) InsertBefore(ref, n *Insn) {
	l.mustContain(ref)
	l.attach(n)

	n.prev = ref.prev
	n.next = ref

	if ref.prev != nil {
		ref.prev.next = n
	} else {
		l.head = n
	}

	ref.prev = n
}

// InsertAfter places n immediately after ref, which must be a member of the
// list.
func (l *InsnList) InsertAfter(ref, n *Insn) {
	l.mustContain(ref)
	l.attach(n)

	n.next = ref.next
	n.prev = ref

	if ref.next != nil {
		ref.next.prev = n
	} else {
		l.tail = n
	}

	ref.next = n
}

// InsertListBefore splices every node of src before ref, emptying src.
func (l *InsnList) InsertListBefore(ref *Insn, src *InsnList) {
	for n := src.head; n != nil; {
		next := n.next
		src.Remove(n)
		l.InsertBefore(ref, n)
		n = next
	}
}

// InsertListAfter splices every node of src after ref in order, emptying src.
func (l *InsnList) InsertListAfter(ref *Insn, src *InsnList) {
	at := ref
	for n := src.head; n != nil; {
		next := n.next
		src.Remove(n)
		l.InsertAfter(at, n)
		at = n
		n = next
	}
}

// Remove unlinks n from the list. The node keeps its operand payload and can
// be re-inserted elsewhere.
func (l *InsnList) Remove(n *Insn) {
	l.mustContain(n)

	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}

	n.prev, n.next, n.list = nil, nil, nil
	l.size--
}

// Replace substitutes old with n in place.
func (l *InsnList) Replace(old, n *Insn) {
	l.InsertBefore(old, n)
	l.Remove(old)
}

// ToSlice snapshots the current node order. The snapshot is not kept in sync
// with later mutations.
func (l *InsnList) ToSlice() []*Insn {
	out := make([]*Insn, 0, l.size)
	for n := l.head; n != nil; n = n.next {
		out = append(out, n)
	}

	return out
}

// IndexOf returns the position of n counting real instructions only, or -1
// when n is not a member.
func (l *InsnList) IndexOf(n *Insn) int {
	idx := 0

	for cur := l.head; cur != nil; cur = cur.next {
		if cur == n {
			return idx
		}
		if cur.IsReal() {
			idx++
		}
	}

	return -1
}

// LabelNode returns the pseudo-node anchoring label lbl, or nil when the
// label is not placed in this list.
func (l *InsnList) LabelNode(lbl *Label) *Insn {
	for n := l.head; n != nil; n = n.next {
		if n.Op == OpLabel && n.Lbl == lbl {
			return n
		}
	}

	return nil
}

// Disassemble renders the list as one mnemonic per line, for diagnostics and
// diffing.
func (l *InsnList) Disassemble() string {
	var sb strings.Builder

	for n := l.head; n != nil; n = n.next {
		if n.Op == OpLabel {
			sb.WriteString(n.String())
		} else {
			sb.WriteString("    ")
			sb.WriteString(n.String())
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

func (l *InsnList) attach(n *Insn) {
	if n.list != nil {
		panic("bytecode: instruction already belongs to a list")
	}

	n.list = l
	l.size++
}

func (l *InsnList) mustContain(n *Insn) {
	if n == nil || n.list != l {
		panic("bytecode: instruction is not a member of this list")
	}
}
