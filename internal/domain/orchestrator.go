package domain

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"weft.dev/pkg/weft/internal/adapter"
	"weft.dev/pkg/weft/internal/bytecode"
	"weft.dev/pkg/weft/internal/classfile"
	"weft.dev/pkg/weft/internal/inject"
	"weft.dev/pkg/weft/internal/point"
	"weft.dev/pkg/weft/internal/selector"

	m "weft.dev/pkg/weft/internal/model"
)

// ErrGroupCount reports an injector group whose aggregate injection count
// fell outside its declared bounds.
var ErrGroupCount = errors.New("group count out of bounds")

// ErrMixinRequired reports a required mixin that failed to apply.
var ErrMixinRequired = errors.New("required mixin failed")

// ErrHelperClass reports a helper class that could not be resolved.
var ErrHelperClass = errors.New("helper class unavailable")

// ClassResolver returns the raw bytes of a named class, if known.
type ClassResolver func(name string) ([]byte, bool)

// ClassOutcome is the result of applying a configuration to one class: the
// report entry, the rewritten bytes when anything changed, and the per-group
// injection counts this class contributed.
type ClassOutcome struct {
	Result      m.ClassResult
	Data        []byte
	GroupCounts map[string]int
}

// Orchestrator applies mixin configurations to individual classes.
type Orchestrator interface {
	// ApplyClass runs every applicable mixin against one class and returns
	// the outcome. A nil error with Failed reports inside means tolerated
	// per-injector failures; an error means the class had to be abandoned.
	ApplyClass(entry adapter.ClassEntry, cfg *m.Config) (*ClassOutcome, error)

	// ResolvePoints resolves every injection point of the configuration
	// against one class without rewriting anything.
	ResolvePoints(entry adapter.ClassEntry, cfg *m.Config) ([]m.PointReport, error)
}

// NewOrchestrator creates an orchestrator with the standard point registry,
// the given reference remapper, and an optional resolver for helper classes.
func NewOrchestrator(remapper selector.Remapper, resolve ClassResolver) Orchestrator {
	return &orchestrator{
		points:   point.NewRegistry(),
		remapper: remapper,
		resolve:  resolve,
	}
}

type orchestrator struct {
	points   *point.Registry
	remapper selector.Remapper
	resolve  ClassResolver
}

func (o *orchestrator) ApplyClass(entry adapter.ClassEntry, cfg *m.Config) (*ClassOutcome, error) {
	cls, err := classfile.Parse(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", entry.Name, err)
	}

	out := &ClassOutcome{
		Result:      m.ClassResult{Class: cls.Name},
		GroupCounts: map[string]int{},
	}

	mixins := o.applicable(cfg, cls.Name)
	if len(mixins) == 0 {
		return out, nil
	}

	injector := &inject.Injector{Points: o.points, Remapper: o.remapper}
	targets := map[*classfile.Method]*inject.Target{}

	for _, mixin := range mixins {
		slog.Debug("applying mixin", "mixin", mixin.Name, "class", cls.Name)

		if mixin.Helpers != "" {
			appended, err := o.appendHelpers(cls, mixin)
			if err != nil {
				if mixin.Required {
					return nil, fmt.Errorf("%w: %s: %v", ErrMixinRequired, mixin.Name, err)
				}

				out.Result.Reports = append(out.Result.Reports, m.InjectionReport{
					Mixin:   mixin.Name,
					Class:   cls.Name,
					Handler: mixin.Helpers,
					Status:  m.Failed,
					Err:     err,
				})

				continue
			}

			if appended > 0 {
				out.Result.Modified = true
			}
		}

		for i := range mixin.Injectors {
			spec := &mixin.Injectors[i]

			report := m.InjectionReport{
				Mixin:   mixin.Name,
				Class:   cls.Name,
				Kind:    spec.Kind,
				Handler: spec.Handler,
			}

			methods, err := o.resolveMethods(cls, mixin.Name, spec)
			if err != nil {
				report.Status = m.Failed
				report.Err = err
				out.Result.Reports = append(out.Result.Reports, report)

				if mixin.Required {
					return nil, fmt.Errorf("%w: %s: %v", ErrMixinRequired, mixin.Name, err)
				}

				continue
			}

			if len(methods) == 0 {
				report.Status = m.Missed
				out.Result.Reports = append(out.Result.Reports, report)

				slog.Debug("injector matched no methods",
					"mixin", mixin.Name, "class", cls.Name, "handler", spec.Handler)

				continue
			}

			injected, err := o.runInjector(injector, targets, cls, methods, spec)
			report.Count = injected

			switch {
			case err != nil:
				report.Status = m.Failed
				report.Err = err

				if mixin.Required {
					out.Result.Reports = append(out.Result.Reports, report)
					return nil, fmt.Errorf("%w: %s: %v", ErrMixinRequired, mixin.Name, err)
				}
			case injected == 0:
				report.Status = m.Missed
			default:
				report.Status = m.Injected
				out.Result.Modified = true
			}

			out.Result.Reports = append(out.Result.Reports, report)

			if spec.Expect > 0 && injected < spec.Expect {
				slog.Warn("injector fell short of expected count",
					"mixin", mixin.Name, "class", cls.Name,
					"expected", spec.Expect, "injected", injected)
			}

			if spec.Group != nil {
				out.GroupCounts[spec.Group.Name] += injected
			}
		}
	}

	if out.Result.Modified {
		data, err := classfile.Write(cls)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", cls.Name, err)
		}

		out.Data = data
	}

	return out, nil
}

func (o *orchestrator) ResolvePoints(entry adapter.ClassEntry, cfg *m.Config) ([]m.PointReport, error) {
	cls, err := classfile.Parse(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", entry.Name, err)
	}

	var points []m.PointReport

	for _, mixin := range o.applicable(cfg, cls.Name) {
		if mixin.Helpers != "" {
			// Appended helpers are selectable, so listing sees the same
			// method set apply does.
			if _, err := o.appendHelpers(cls, mixin); err != nil {
				return nil, fmt.Errorf("mixin %s: %w", mixin.Name, err)
			}
		}

		for i := range mixin.Injectors {
			spec := &mixin.Injectors[i]

			methods, err := o.resolveMethods(cls, mixin.Name, spec)
			if err != nil {
				return nil, fmt.Errorf("mixin %s: %w", mixin.Name, err)
			}

			for _, mt := range methods {
				found, err := o.queryMethod(cls, mixin.Name, mt, spec)
				if err != nil {
					return nil, fmt.Errorf("mixin %s, method %s%s: %w",
						mixin.Name, mt.Name, mt.Desc, err)
				}

				for j := range found {
					found[j].Mixin = mixin.Name
					found[j].Kind = spec.Kind
				}

				points = append(points, found...)
			}
		}
	}

	return points, nil
}

// applicable returns the mixins targeting the class, in ascending priority
// order. Ties keep declaration order.
func (o *orchestrator) applicable(cfg *m.Config, class string) []*m.Mixin {
	var mixins []*m.Mixin

	for i := range cfg.Mixins {
		mixin := &cfg.Mixins[i]

		for _, target := range mixin.Targets {
			if o.remapper != nil {
				target = o.remapper.Remap(mixin.Name, target)
			}

			if target == class {
				mixins = append(mixins, mixin)
				break
			}
		}
	}

	sort.SliceStable(mixins, func(a, b int) bool {
		return mixins[a].Priority < mixins[b].Priority
	})

	return mixins
}

// appendHelpers copies the mixin's helper class methods into the target.
// Instructions reference members symbolically, so the copied bodies survive
// re-encoding against the target's constant pool untouched.
func (o *orchestrator) appendHelpers(cls *classfile.Class, mixin *m.Mixin) (int, error) {
	name := mixin.Helpers
	if o.remapper != nil {
		name = o.remapper.Remap(mixin.Name, name)
	}

	if o.resolve == nil {
		return 0, fmt.Errorf("%w: %s", ErrHelperClass, name)
	}

	data, ok := o.resolve(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrHelperClass, name)
	}

	helper, err := classfile.Parse(data)
	if err != nil {
		return 0, fmt.Errorf("parse helper %s: %w", name, err)
	}

	appended := 0

	for _, mt := range helper.Methods {
		if mt.Name == "<init>" || mt.Name == "<clinit>" || mt.Code == nil {
			continue
		}

		if cls.FindMethod(mt.Name, mt.Desc) != nil {
			continue
		}

		cls.Methods = append(cls.Methods, mt)
		appended++

		slog.Debug("helper method appended",
			"mixin", mixin.Name, "class", cls.Name, "method", mt.Name+mt.Desc)
	}

	return appended, nil
}

// resolveMethods resolves an injector's method selectors against the class.
// A selector matching nothing is a soft miss; a malformed one is an error.
func (o *orchestrator) resolveMethods(cls *classfile.Class, mixinName string, spec *m.InjectorSpec) ([]*classfile.Method, error) {
	refs := cls.MethodRefs()

	var methods []*classfile.Method

	seen := map[*classfile.Method]bool{}

	for _, raw := range spec.Methods {
		sel, err := selector.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("method selector %q: %w", raw, err)
		}

		sel, err = sel.Configure(o.remapper, mixinName)
		if err != nil {
			return nil, fmt.Errorf("method selector %q: %w", raw, err)
		}

		for _, ref := range sel.Match(refs).Candidates {
			mt := cls.FindMethod(ref.Name, ref.Desc)
			if mt == nil || mt.IsAbstract() || mt.Code == nil {
				continue
			}

			if !seen[mt] {
				seen[mt] = true
				methods = append(methods, mt)
			}
		}
	}

	return methods, nil
}

func (o *orchestrator) runInjector(injector *inject.Injector, targets map[*classfile.Method]*inject.Target,
	cls *classfile.Class, methods []*classfile.Method, spec *m.InjectorSpec) (int, error) {
	injected := 0

	for _, mt := range methods {
		tgt := targets[mt]
		if tgt == nil {
			tgt = inject.NewTarget(cls, mt)
			targets[mt] = tgt
		}

		out, err := injector.Apply(tgt, spec)
		if err != nil {
			return injected, err
		}

		injected += out.Injected

		for _, vars := range out.LocalsAt {
			for _, v := range vars {
				slog.Info("local variable",
					"class", cls.Name, "method", mt.Name,
					"slot", v.Slot, "name", v.Name, "desc", v.Desc)
			}
		}
	}

	return injected, nil
}

// queryMethod resolves the spec's injection points inside one method without
// applying anything.
func (o *orchestrator) queryMethod(cls *classfile.Class, mixinName string, mt *classfile.Method, spec *m.InjectorSpec) ([]m.PointReport, error) {
	ctx := point.NewContext(cls.Name, mt)
	ctx.Remapper = o.remapper

	for _, s := range spec.Slices {
		ctx.Slices[s.ID] = s
	}

	var points []m.PointReport

	for i := range spec.At {
		at := &spec.At[i]

		nodes, err := o.points.Query(ctx, at)
		if err != nil {
			return nil, err
		}

		for _, n := range nodes {
			points = append(points, m.PointReport{
				Class:    cls.Name,
				Method:   mt.Name + mt.Desc,
				At:       at.Name,
				Opcode:   bytecode.Mnemonic(n.Op),
				Position: mt.Code.Insns.IndexOf(n),
			})
		}
	}

	return points, nil
}

// CheckGroups validates aggregate group counts against the bounds declared
// in the configuration.
func CheckGroups(cfg *m.Config, counts map[string]int) error {
	type bounds struct{ min, max int }

	declared := map[string]bounds{}

	for i := range cfg.Mixins {
		for j := range cfg.Mixins[i].Injectors {
			g := cfg.Mixins[i].Injectors[j].Group
			if g == nil {
				continue
			}

			b := declared[g.Name]
			if g.Min > b.min {
				b.min = g.Min
			}

			if g.Max > b.max {
				b.max = g.Max
			}

			declared[g.Name] = b
		}
	}

	names := make([]string, 0, len(declared))
	for name := range declared {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		b := declared[name]
		total := counts[name]

		if total < b.min {
			return fmt.Errorf("%w: group %q injected %d, need at least %d",
				ErrGroupCount, name, total, b.min)
		}

		if b.max > 0 && total > b.max {
			return fmt.Errorf("%w: group %q injected %d, allowed at most %d",
				ErrGroupCount, name, total, b.max)
		}
	}

	return nil
}
