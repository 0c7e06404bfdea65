// Package inject implements the injector family: the bytecode rewrites that
// splice handler calls into matched program points of a target method.
package inject

import (
	"errors"
	"fmt"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
	"weft.dev/pkg/weft/internal/locals"
	"weft.dev/pkg/weft/internal/model"
	"weft.dev/pkg/weft/internal/point"
	"weft.dev/pkg/weft/internal/selector"
)

// Hard failure sentinels. Any of these aborts the offending injector but not
// its siblings.
var (
	ErrSignatureMismatch = errors.New("handler signature does not fit the injection")
	ErrStaticMismatch    = errors.New("instance handler cannot serve a static target")
	ErrNodeReplaced      = errors.New("instruction was already replaced by an earlier injector")
	ErrRequireUnmet      = errors.New("required injection count not reached")
	ErrInjection         = errors.New("injection failed")
)

// Names of the runtime support classes the synthesized bytecode links against.
const (
	CallbackInfoClass       = "weft/runtime/CallbackInfo"
	CallbackInfoReturnClass = "weft/runtime/CallbackInfoReturnable"
	ArgsClass               = "weft/runtime/Args"
)

// Target wraps one method under injection: it tracks replaced instructions
// and owns the stack and local-count bookkeeping every splice must update
// atomically.
type Target struct {
	Class  *classfile.Class
	Method *classfile.Method

	replaced map[*bytecode.Insn]bool
}

// NewTarget prepares a method for injection.
func NewTarget(cls *classfile.Class, mt *classfile.Method) *Target {
	return &Target{Class: cls, Method: mt, replaced: map[*bytecode.Insn]bool{}}
}

// MarkReplaced consumes an instruction node. Reuse is a hard failure.
func (t *Target) MarkReplaced(n *bytecode.Insn) error {
	if t.replaced[n] {
		return fmt.Errorf("%w: %s", ErrNodeReplaced, n.String())
	}

	t.replaced[n] = true

	return nil
}

// Replaced reports whether an earlier injector already consumed the node.
func (t *Target) Replaced(n *bytecode.Insn) bool { return t.replaced[n] }

// AllocLocal reserves a fresh local slot for a value of the given type and
// returns its index.
func (t *Target) AllocLocal(desc string) int {
	slot := t.Method.Code.MaxLocals
	t.Method.Code.MaxLocals += bytecode.TypeSize(desc)

	return slot
}

// GrowStack widens the declared max operand-stack depth by the peak extra
// depth one splice introduces.
func (t *Target) GrowStack(by int) {
	if by > 0 {
		t.Method.Code.MaxStack += by
	}
}

// argSlots returns the local slot index of each formal parameter, accounting
// for the receiver and for wide types.
func (t *Target) argSlots() ([]int, []string) {
	args := t.Method.ArgTypes()
	slots := make([]int, len(args))

	slot := 0
	if !t.Method.IsStatic() {
		slot = 1
	}

	for i, a := range args {
		slots[i] = slot
		slot += bytecode.TypeSize(a)
	}

	return slots, args
}

// handler is the resolved handler method plus its dispatch mode.
type handler struct {
	ref    model.MemberRef
	static bool
	args   []string
	ret    string
}

// invoke appends the call to the handler. Operands must already be on the
// stack, below them the receiver when the handler is virtual.
func (h handler) invoke(b *bytecode.Builder) {
	op := bytecode.OpInvokestatic
	if !h.static {
		op = bytecode.OpInvokevirtual
	}

	b.Invoke(op, h.ref)
}

// Outcome summarizes one injector run for reporting and count validation.
type Outcome struct {
	Matched  int
	Injected int
	// LocalsAt holds the reconstructed locals per match when the injector
	// spec asked for a printout.
	LocalsAt [][]*locals.Variable
}

// Injector applies one injector spec against targets, using a shared point
// registry and an optional reference remapper.
type Injector struct {
	Points   *point.Registry
	Remapper selector.Remapper
}

// Apply runs the spec against the target method: query the points, rewrite
// every matched node, then enforce the count policy. Zero matches is a soft
// outcome unless require says otherwise.
func (inj *Injector) Apply(tgt *Target, spec *model.InjectorSpec) (*Outcome, error) {
	h, err := inj.resolveHandler(tgt, spec)
	if err != nil {
		return nil, err
	}

	if !h.static && tgt.Method.IsStatic() {
		return nil, fmt.Errorf("%w: handler %s, target %s%s",
			ErrStaticMismatch, h.ref.Name, tgt.Method.Name, tgt.Method.Desc)
	}

	nodes, err := inj.queryPoints(tgt, spec)
	if err != nil {
		return nil, err
	}

	if err := point.CheckAllow(len(nodes), spec.Allow); err != nil {
		return nil, err
	}

	out := &Outcome{Matched: len(nodes)}

	for _, node := range nodes {
		if tgt.Replaced(node) {
			return out, fmt.Errorf("%w: %s", ErrNodeReplaced, node.String())
		}

		if spec.Locals != nil && spec.Locals.Print {
			vars, err := locals.ResolveAt(tgt.Class.Name, tgt.Method, node)
			if err != nil {
				return out, err
			}

			out.LocalsAt = append(out.LocalsAt, vars)
		}

		if err := inj.applyAt(tgt, spec, h, node); err != nil {
			return out, err
		}

		out.Injected++
	}

	if out.Injected < spec.Require {
		return out, fmt.Errorf("%w: %d of %d in %s%s",
			ErrRequireUnmet, out.Injected, spec.Require, tgt.Method.Name, tgt.Method.Desc)
	}

	return out, nil
}

func (inj *Injector) applyAt(tgt *Target, spec *model.InjectorSpec, h handler, node *bytecode.Insn) error {
	switch spec.Kind {
	case model.KindCallback:
		return injectCallback(tgt, spec, h, node)
	case model.KindRedirect:
		return injectRedirect(tgt, h, node)
	case model.KindModifyArg:
		return injectModifyArg(tgt, spec, h, node)
	case model.KindModifyArgs:
		return injectModifyArgs(tgt, h, node)
	case model.KindModifyVariable:
		return injectModifyVariable(tgt, spec, h, node)
	case model.KindModifyConstant:
		return injectModifyConstant(tgt, h, node)
	default:
		return fmt.Errorf("%w: unknown injector kind %q", ErrInjection, spec.Kind)
	}
}

// queryPoints runs every point query of the spec and concatenates the
// matches, deduplicated, in query order.
func (inj *Injector) queryPoints(tgt *Target, spec *model.InjectorSpec) ([]*bytecode.Insn, error) {
	ctx := point.NewContext(tgt.Class.Name, tgt.Method)
	ctx.Remapper = inj.Remapper

	for _, s := range spec.Slices {
		ctx.Slices[s.ID] = s
	}

	var (
		nodes []*bytecode.Insn
		seen  = map[*bytecode.Insn]bool{}
	)

	for i := range spec.At {
		matches, err := inj.Points.Query(ctx, &spec.At[i])
		if err != nil {
			return nil, err
		}

		for _, n := range matches {
			if !seen[n] {
				seen[n] = true
				nodes = append(nodes, n)
			}
		}
	}

	return nodes, nil
}

// resolveHandler parses the handler selector and pins down its signature.
// A handler without an explicit owner lives on the target class itself.
func (inj *Injector) resolveHandler(tgt *Target, spec *model.InjectorSpec) (handler, error) {
	sel, err := selector.Parse(spec.Handler)
	if err != nil {
		return handler{}, err
	}

	if inj.Remapper != nil {
		sel, err = sel.Configure(inj.Remapper, tgt.Class.Name)
		if err != nil {
			return handler{}, err
		}
	}

	if err := sel.Validate(selector.Strict); err != nil {
		return handler{}, err
	}

	owner := sel.Owner
	if owner == "" {
		owner = tgt.Class.Name
	}

	args, ret, err := bytecode.ParseMethodDesc(sel.Desc)
	if err != nil {
		return handler{}, err
	}

	return handler{
		ref:    model.NewMethodRef(owner, sel.Name, sel.Desc),
		static: spec.HandlerStatic,
		args:   args,
		ret:    ret,
	}, nil
}

// spliceBefore inserts a built sequence ahead of node and applies its stack
// cost in the same step.
func spliceBefore(tgt *Target, node *bytecode.Insn, b *bytecode.Builder) {
	tgt.Method.Code.Insns.InsertListBefore(node, b.List())
	tgt.GrowStack(b.MaxDepth())
}

// spliceAfter is spliceBefore's counterpart for after-semantics rewrites.
func spliceAfter(tgt *Target, node *bytecode.Insn, b *bytecode.Builder) {
	tgt.Method.Code.Insns.InsertListAfter(node, b.List())
	tgt.GrowStack(b.MaxDepth())
}

// stash stores the values currently on the stack into fresh locals, last
// value first, and returns the slot per value in original order.
func stash(tgt *Target, b *bytecode.Builder, descs []string) []int {
	slots := make([]int, len(descs))

	for i := len(descs) - 1; i >= 0; i-- {
		slots[i] = tgt.AllocLocal(descs[i])
		b.Store(descs[i], slots[i])
	}

	return slots
}

// reload pushes stashed values back in original order.
func reload(b *bytecode.Builder, descs []string, slots []int) {
	for i, d := range descs {
		b.Load(d, slots[i])
	}
}

// box wraps the primitive on top of the stack into its wrapper object;
// reference types pass through.
func box(b *bytecode.Builder, desc string) {
	wrapper, valueOf, _, _, ok := bytecode.BoxInfo(desc)
	if !ok {
		return
	}

	b.Invoke(bytecode.OpInvokestatic, model.NewMethodRef(wrapper, "valueOf", valueOf))
}

// unbox casts the object on top of the stack to desc, unwrapping primitives
// through their wrapper types.
func unbox(b *bytecode.Builder, desc string) {
	wrapper, _, unboxName, unboxDesc, ok := bytecode.BoxInfo(desc)
	if !ok {
		b.Add(bytecode.TypeInsn(bytecode.OpCheckcast, bytecode.ReferenceName(desc)))
		return
	}

	b.Add(bytecode.TypeInsn(bytecode.OpCheckcast, wrapper))
	b.Invoke(bytecode.OpInvokevirtual, model.NewMethodRef(wrapper, unboxName, unboxDesc))
}

// sameDescs reports whether two type lists match exactly.
func sameDescs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
