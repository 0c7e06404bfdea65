package model

// InjectionStatus represents the outcome of one planned injection.
type InjectionStatus int

const (
	// Injected indicates the rewrite was applied.
	Injected InjectionStatus = iota
	// Missed indicates the selector matched no target (tolerated soft miss).
	Missed
	// Failed indicates a hard validation or injection error.
	Failed
)

// InjectionReport records the outcome of one injector applied to one class.
type InjectionReport struct {
	Mixin   string
	Class   string
	Kind    InjectorKind
	Handler string
	Count   int // successful injections
	Status  InjectionStatus
	Err     error
}

// ClassResult holds the injection results for a single target class.
type ClassResult struct {
	Class    string
	Output   Path // where the rewritten class was written, if any
	Modified bool
	Diff     string // unified bytecode diff, filled only when requested
	Reports  []InjectionReport
}

// Report aggregates the results of one full apply run.
type Report struct {
	Classes []ClassResult
}

// Injections returns the total number of successful injections in the run.
func (r *Report) Injections() int {
	total := 0

	for _, c := range r.Classes {
		for _, rep := range c.Reports {
			total += rep.Count
		}
	}

	return total
}

// Failures returns the number of injector reports that ended in a hard error.
func (r *Report) Failures() int {
	failed := 0

	for _, c := range r.Classes {
		for _, rep := range c.Reports {
			if rep.Status == Failed {
				failed++
			}
		}
	}

	return failed
}

// PointReport describes one resolved injection point for the list command.
type PointReport struct {
	Class    string
	Method   string
	Mixin    string
	Kind     InjectorKind
	At       string
	Opcode   string
	Position int // index of the matched instruction in program order
}
