// Package point implements the injection point query engine: a registry of
// named search strategies that scan a method's instruction range and return
// the instructions a query matches.
package point

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
	"weft.dev/pkg/weft/internal/locals"
	"weft.dev/pkg/weft/internal/model"
	"weft.dev/pkg/weft/internal/selector"
)

// Sentinel errors reported by the query engine.
var (
	ErrUnknownStrategy = errors.New("unknown injection point strategy")
	ErrBadQuery        = errors.New("malformed injection point query")
	ErrSliceUnresolved = errors.New("slice boundary did not resolve uniquely")
	ErrAllowExceeded   = errors.New("match count exceeds allow cap")
	ErrShiftOutOfRange = errors.New("shift moves past the method body")
)

// Context carries everything a finder needs: the enclosing class and method,
// an optional sub-range restriction, and the named slices available to
// queries.
type Context struct {
	Owner    string
	Method   *classfile.Method
	Slices   map[string]model.SliceSpec
	Remapper selector.Remapper

	from, to *bytecode.Insn // inclusive real-instruction bounds, nil = open
	empty    bool           // range holds no instructions at all
}

// NewContext builds a query context spanning the whole method body.
func NewContext(owner string, mt *classfile.Method) *Context {
	return &Context{Owner: owner, Method: mt, Slices: map[string]model.SliceSpec{}}
}

// scan visits every real instruction inside the context's range in program
// order, stopping early when fn returns false.
func (c *Context) scan(fn func(*bytecode.Insn) bool) {
	if c.empty {
		return
	}

	start := c.from
	if start == nil {
		start = c.Method.Code.Insns.First()
		if start != nil && !start.IsReal() {
			start = start.NextReal()
		}
	}

	for n := start; n != nil; n = n.NextReal() {
		if !fn(n) {
			return
		}

		if n == c.to {
			return
		}
	}
}

// restricted clones the context with new range bounds.
func (c *Context) restricted(from, to *bytecode.Insn) *Context {
	sub := *c
	sub.from = from
	sub.to = to

	return &sub
}

// emptied clones the context into a range containing no instructions.
func (c *Context) emptied() *Context {
	sub := *c
	sub.empty = true

	return &sub
}

// parseTarget parses and remaps the query's target selector.
func (c *Context) parseTarget(at *model.At) (*selector.Selector, error) {
	if at.Target == "" {
		return nil, fmt.Errorf("%w: %s requires a target", ErrBadQuery, at.Name)
	}

	sel, err := selector.Parse(at.Target)
	if err != nil {
		return nil, err
	}

	if c.Remapper != nil {
		sel, err = sel.Configure(c.Remapper, c.Owner)
		if err != nil {
			return nil, err
		}
	}

	return sel, nil
}

// Finder is one named search strategy.
type Finder interface {
	Name() string
	Find(ctx *Context, at *model.At) ([]*bytecode.Insn, error)
}

// Registry holds the available finders. Strategy names are case-insensitive.
type Registry struct {
	finders map[string]Finder
}

// NewRegistry returns a registry pre-populated with the built-in strategies.
func NewRegistry() *Registry {
	r := &Registry{finders: map[string]Finder{}}

	for _, f := range []Finder{
		headFinder{},
		returnFinder{},
		tailFinder{},
		invokeFinder{},
		fieldFinder{},
		newFinder{},
		constantFinder{},
		varFinder{name: "LOAD"},
		varFinder{name: "STORE", store: true},
	} {
		r.finders[f.Name()] = f
	}

	return r
}

// Register adds a custom finder, rejecting duplicate names.
func (r *Registry) Register(f Finder) error {
	name := strings.ToUpper(f.Name())
	if _, dup := r.finders[name]; dup {
		return fmt.Errorf("finder %s is already registered", name)
	}

	r.finders[name] = f

	return nil
}

// Names lists the registered strategy names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.finders))
	for name := range r.finders {
		out = append(out, name)
	}

	sort.Strings(out)

	return out
}

// Query runs one point query: slice restriction first, then the named
// strategy, then ordinal filtering and shift adjustment.
func (r *Registry) Query(ctx *Context, at *model.At) ([]*bytecode.Insn, error) {
	if at.Slice != "" {
		spec, ok := ctx.Slices[at.Slice]
		if !ok {
			return nil, fmt.Errorf("%w: slice %q is not declared", ErrBadQuery, at.Slice)
		}

		sub, err := r.ResolveSlice(ctx, spec)
		if err != nil {
			return nil, err
		}

		ctx = sub
	}

	finder, ok := r.finders[strings.ToUpper(at.Name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, at.Name)
	}

	matches, err := finder.Find(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", strings.ToUpper(at.Name), err)
	}

	if at.Ordinal != nil {
		i := *at.Ordinal
		if i < 0 || i >= len(matches) {
			return nil, nil
		}

		matches = matches[i : i+1]
	}

	return shift(matches, at.Shift, at.By)
}

// ResolveSlice narrows the context to the sub-range a slice spec describes.
// Each boundary query must match exactly one instruction; the range runs from
// just after the from-match to just before the to-match.
func (r *Registry) ResolveSlice(ctx *Context, spec model.SliceSpec) (*Context, error) {
	boundary := func(at *model.At) (*bytecode.Insn, error) {
		if at == nil {
			return nil, nil
		}

		matches, err := r.Query(ctx, at)
		if err != nil {
			return nil, err
		}

		if len(matches) != 1 {
			return nil, fmt.Errorf("%w: slice %q boundary %s matched %d instructions",
				ErrSliceUnresolved, spec.ID, at.Name, len(matches))
		}

		return matches[0], nil
	}

	fromNode, err := boundary(spec.From)
	if err != nil {
		return nil, err
	}

	toNode, err := boundary(spec.To)
	if err != nil {
		return nil, err
	}

	// A boundary sitting at the very edge of the body leaves nothing beyond
	// it. Keeping that distinct from a nil bound stops a degenerate slice
	// from reopening into a whole-body scan.
	if fromNode != nil {
		fromNode = fromNode.NextReal()
		if fromNode == nil {
			return ctx.emptied(), nil
		}
	}

	if toNode != nil {
		toNode = toNode.PrevReal()
		if toNode == nil {
			return ctx.emptied(), nil
		}
	}

	if fromNode != nil && toNode != nil && !reaches(fromNode, toNode) {
		return ctx.emptied(), nil
	}

	return ctx.restricted(fromNode, toNode), nil
}

// reaches reports whether to sits at or after from in program order.
func reaches(from, to *bytecode.Insn) bool {
	for n := from; n != nil; n = n.NextReal() {
		if n == to {
			return true
		}
	}

	return false
}

// CheckAllow enforces the allow cap: it never truncates, it fails loudly.
func CheckAllow(count, allow int) error {
	if allow > 0 && count > allow {
		return fmt.Errorf("%w: %d matches, at most %d allowed", ErrAllowExceeded, count, allow)
	}

	return nil
}

func shift(matches []*bytecode.Insn, s model.Shift, by int) ([]*bytecode.Insn, error) {
	steps := 0

	switch s {
	case model.ShiftNone, model.ShiftBefore:
		if by == 0 {
			return matches, nil
		}

		steps = by
	case model.ShiftAfter:
		steps = 1 + by
	default:
		return nil, fmt.Errorf("%w: unknown shift %q", ErrBadQuery, s)
	}

	out := make([]*bytecode.Insn, len(matches))

	for i, n := range matches {
		for k := steps; k > 0 && n != nil; k-- {
			n = n.NextReal()
		}
		for k := steps; k < 0 && n != nil; k++ {
			n = n.PrevReal()
		}

		if n == nil {
			return nil, fmt.Errorf("%w: shift by %d", ErrShiftOutOfRange, steps)
		}

		out[i] = n
	}

	return out, nil
}

type headFinder struct{}

func (headFinder) Name() string { return "HEAD" }

func (headFinder) Find(ctx *Context, _ *model.At) ([]*bytecode.Insn, error) {
	var first *bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		first = n
		return false
	})

	if first == nil {
		return nil, nil
	}

	return []*bytecode.Insn{first}, nil
}

type returnFinder struct{}

func (returnFinder) Name() string { return "RETURN" }

func (returnFinder) Find(ctx *Context, _ *model.At) ([]*bytecode.Insn, error) {
	var out []*bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		if bytecode.IsReturn(n.Op) {
			out = append(out, n)
		}

		return true
	})

	return out, nil
}

type tailFinder struct{}

func (tailFinder) Name() string { return "TAIL" }

func (tailFinder) Find(ctx *Context, _ *model.At) ([]*bytecode.Insn, error) {
	var last *bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		if bytecode.IsReturn(n.Op) {
			last = n
		}

		return true
	})

	if last == nil {
		return nil, nil
	}

	return []*bytecode.Insn{last}, nil
}

type invokeFinder struct{}

func (invokeFinder) Name() string { return "INVOKE" }

func (invokeFinder) Find(ctx *Context, at *model.At) ([]*bytecode.Insn, error) {
	sel, err := ctx.parseTarget(at)
	if err != nil {
		return nil, err
	}

	var out []*bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		// invokedynamic carries no member reference and is never matchable.
		if bytecode.IsInvoke(n.Op) && n.Op != bytecode.OpInvokedynamic && sel.Matches(n.Ref) {
			out = append(out, n)
		}

		return true
	})

	return out, nil
}

type fieldFinder struct{}

func (fieldFinder) Name() string { return "FIELD" }

func (fieldFinder) Find(ctx *Context, at *model.At) ([]*bytecode.Insn, error) {
	sel, err := ctx.parseTarget(at)
	if err != nil {
		return nil, err
	}

	wantGet, wantPut := true, true

	switch at.Args["opcode"] {
	case "":
	case "get":
		wantPut = false
	case "put":
		wantGet = false
	default:
		return nil, fmt.Errorf("%w: field opcode filter %q", ErrBadQuery, at.Args["opcode"])
	}

	var out []*bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		if !bytecode.IsFieldAccess(n.Op) || !sel.Matches(n.Ref) {
			return true
		}

		isGet := n.Op == bytecode.OpGetstatic || n.Op == bytecode.OpGetfield
		if (isGet && wantGet) || (!isGet && wantPut) {
			out = append(out, n)
		}

		return true
	})

	return out, nil
}

type newFinder struct{}

func (newFinder) Name() string { return "NEW" }

func (newFinder) Find(ctx *Context, at *model.At) ([]*bytecode.Insn, error) {
	if at.Target == "" {
		return nil, fmt.Errorf("%w: NEW requires a target class", ErrBadQuery)
	}

	want := bytecode.ReferenceName(at.Target)

	var out []*bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		if n.Op == bytecode.OpNew && n.Type == want {
			out = append(out, n)
		}

		return true
	})

	return out, nil
}

type constantFinder struct{}

func (constantFinder) Name() string { return "CONSTANT" }

func (constantFinder) Find(ctx *Context, at *model.At) ([]*bytecode.Insn, error) {
	match, zero, err := constantMatcher(at.Args)
	if err != nil {
		return nil, err
	}

	var out []*bytecode.Insn

	ctx.scan(func(n *bytecode.Insn) bool {
		if v, ok := bytecode.ConstantValue(n); ok && match(v) {
			out = append(out, n)
			return true
		}

		// An int compare against zero compiles to a one-operand branch, so
		// zero-constant queries also claim those branches.
		if zero {
			if _, ok := bytecode.ExplicitCmpFor(n.Op); ok {
				out = append(out, n)
			}
		}

		return true
	})

	return out, nil
}

// constantMatcher compiles the query arguments into a predicate over decoded
// constant values. Exactly one value argument must be present.
func constantMatcher(args map[string]string) (func(any) bool, bool, error) {
	var (
		match func(any) bool
		zero  bool
		seen  int
	)

	set := func(fn func(any) bool) {
		match = fn
		seen++
	}

	if _, ok := args["nullValue"]; ok {
		set(func(v any) bool { return v == nil })
	}

	if s, ok := args["intValue"]; ok {
		want, err := strconv.Atoi(s)
		if err != nil {
			return nil, false, fmt.Errorf("%w: intValue %q", ErrBadQuery, s)
		}

		zero = want == 0
		set(func(v any) bool { got, ok := v.(int32); return ok && got == int32(want) })
	}

	if s, ok := args["longValue"]; ok {
		want, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("%w: longValue %q", ErrBadQuery, s)
		}

		set(func(v any) bool { got, ok := v.(int64); return ok && got == want })
	}

	if s, ok := args["floatValue"]; ok {
		want, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, false, fmt.Errorf("%w: floatValue %q", ErrBadQuery, s)
		}

		set(func(v any) bool { got, ok := v.(float32); return ok && got == float32(want) })
	}

	if s, ok := args["doubleValue"]; ok {
		want, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, false, fmt.Errorf("%w: doubleValue %q", ErrBadQuery, s)
		}

		set(func(v any) bool { got, ok := v.(float64); return ok && got == want })
	}

	if want, ok := args["stringValue"]; ok {
		set(func(v any) bool { got, ok := v.(string); return ok && got == want })
	}

	if s, ok := args["classValue"]; ok {
		want := bytecode.ClassConst(bytecode.ReferenceName(s))
		set(func(v any) bool { got, ok := v.(bytecode.ClassConst); return ok && got == want })
	}

	if seen != 1 {
		return nil, false, fmt.Errorf("%w: constant query needs exactly one value argument, got %d", ErrBadQuery, seen)
	}

	return match, zero, nil
}

// varFinder matches loads or stores of one designated local slot. Store
// matches report the instruction after the store, where the stored local
// is live.
type varFinder struct {
	name  string
	store bool
}

func (f varFinder) Name() string { return f.name }

func (f varFinder) Find(ctx *Context, at *model.At) ([]*bytecode.Insn, error) {
	disc := locals.Discriminator{
		Name: at.Args["name"],
		Type: at.Args["type"],
	}

	if s, ok := args(at, "ordinal"); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: ordinal %q", ErrBadQuery, s)
		}

		disc.Ordinal = &n
	}

	if s, ok := args(at, "index"); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("%w: index %q", ErrBadQuery, s)
		}

		disc.Index = &n
	}

	var (
		out     []*bytecode.Insn
		scanErr error
	)

	ctx.scan(func(n *bytecode.Insn) bool {
		if f.store && !bytecode.IsStore(n.Op) {
			return true
		}

		if !f.store && !bytecode.IsLoad(n.Op) {
			return true
		}

		if disc.Type != "" && !opMatchesType(n.Op, disc.Type, f.store) {
			return true
		}

		// A store's local only becomes visible after it executes, so both
		// the locals resolution and the reported match sit at the following
		// instruction. A store with nothing after it has no such point.
		probe := n
		if f.store {
			next := n.NextReal()
			if next == nil {
				return true
			}

			probe = next
		}

		vars, err := locals.ResolveAt(ctx.Owner, ctx.Method, probe)
		if err != nil {
			scanErr = err
			return false
		}

		v, err := disc.Find(vars)
		if err != nil {
			// No designated local is visible here, not a match.
			return true
		}

		if n.Var == v.Slot {
			out = append(out, probe)
		}

		return true
	})

	if scanErr != nil {
		return nil, scanErr
	}

	return out, nil
}

func args(at *model.At, key string) (string, bool) {
	v, ok := at.Args[key]
	return v, ok
}

func opMatchesType(op int, desc string, store bool) bool {
	if store {
		return op == bytecode.StoreOpFor(desc)
	}

	return op == bytecode.LoadOpFor(desc)
}
