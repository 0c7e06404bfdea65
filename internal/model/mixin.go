package model

// InjectorKind represents the category of bytecode rewrite an injector performs.
type InjectorKind string

const (
	// KindCallback splices a call to the handler at the match point.
	KindCallback InjectorKind = "callback"
	// KindRedirect replaces a matched call instruction with a call to the handler.
	KindRedirect InjectorKind = "redirect"
	// KindModifyArg wraps a single argument of a matched call through the handler.
	KindModifyArg InjectorKind = "modify-arg"
	// KindModifyArgs bundles all arguments of a matched call through the handler.
	KindModifyArgs InjectorKind = "modify-args"
	// KindModifyVariable passes a local variable through the handler at the match point.
	KindModifyVariable InjectorKind = "modify-variable"
	// KindModifyConstant wraps a matched constant value through the handler.
	KindModifyConstant InjectorKind = "modify-constant"
)

// Shift adjusts where an injection lands relative to the matched instruction.
type Shift string

// Available Shift values.
const (
	ShiftNone   Shift = ""
	ShiftBefore Shift = "BEFORE"
	ShiftAfter  Shift = "AFTER"
)

// At describes an injection point query: a named search strategy plus its
// parameters.
type At struct {
	Name    string            `yaml:"name"`
	Target  string            `yaml:"target,omitempty"`
	Ordinal *int              `yaml:"ordinal,omitempty"`
	Shift   Shift             `yaml:"shift,omitempty"`
	By      int               `yaml:"by,omitempty"`
	Slice   string            `yaml:"slice,omitempty"`
	Args    map[string]string `yaml:"args,omitempty"`
}

// SliceSpec bounds a named sub-range of a method body. From/To are nested
// point queries; a nil boundary means start/end of the method.
type SliceSpec struct {
	ID   string `yaml:"id,omitempty"`
	From *At    `yaml:"from,omitempty"`
	To   *At    `yaml:"to,omitempty"`
}

// LocalsSpec configures local-variable capture or designation. Exactly one of
// Ordinal/Index/Name should be set for designation; all empty means implicit
// single-candidate-by-type matching.
type LocalsSpec struct {
	Ordinal *int   `yaml:"ordinal,omitempty"`
	Index   *int   `yaml:"index,omitempty"`
	Name    string `yaml:"name,omitempty"`
	Print   bool   `yaml:"print,omitempty"`
}

// GroupSpec names an injector group and its aggregate count bounds.
type GroupSpec struct {
	Name string `yaml:"name"`
	Min  int    `yaml:"min,omitempty"`
	Max  int    `yaml:"max,omitempty"` // 0 means unbounded
}

// InjectorSpec is one injection declaration inside a mixin.
type InjectorSpec struct {
	Kind          InjectorKind `yaml:"kind"`
	Methods       []string     `yaml:"methods"`
	Handler       string       `yaml:"handler"`
	HandlerStatic bool         `yaml:"handlerStatic,omitempty"`
	At            []At         `yaml:"at"`
	Slices        []SliceSpec  `yaml:"slices,omitempty"`
	Cancellable   bool         `yaml:"cancellable,omitempty"`
	CaptureLocals bool         `yaml:"captureLocals,omitempty"`
	Locals        *LocalsSpec  `yaml:"locals,omitempty"`
	Index         *int         `yaml:"index,omitempty"` // argument index for modify-arg
	Allow         int          `yaml:"allow,omitempty"` // 0 means unlimited
	Require       int          `yaml:"require,omitempty"`
	Expect        int          `yaml:"expect,omitempty"`
	Group         *GroupSpec   `yaml:"group,omitempty"`
}

// Mixin is one mixin declaration: a set of injectors applied to one or more
// target classes in priority order.
type Mixin struct {
	Name     string   `yaml:"name"`
	Targets  []string `yaml:"targets"`
	Priority int      `yaml:"priority,omitempty"`
	Required bool     `yaml:"required,omitempty"`
	// Helpers optionally names a class whose methods are copied into each
	// target class, so handlers without an owner resolve at runtime.
	Helpers   string         `yaml:"helpers,omitempty"`
	Injectors []InjectorSpec `yaml:"injectors"`
}

// Config is the root of a mixin configuration file.
type Config struct {
	Version int     `yaml:"version"`
	Mixins  []Mixin `yaml:"mixins"`
}
