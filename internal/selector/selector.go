// Package selector implements the textual member-reference grammar used to
// identify injection targets: [owner;]name[desc][:ordinal], with wildcard
// names and independently optional components.
package selector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"weft.dev/pkg/weft/internal/bytecode"
	m "weft.dev/pkg/weft/internal/model"
)

// Sentinel errors for the selector taxonomy.
var (
	// ErrMalformed reports selector text that does not parse.
	ErrMalformed = errors.New("malformed selector")
	// ErrInvalid reports a parsed selector whose components contradict the
	// current strictness mode.
	ErrInvalid = errors.New("invalid selector")
	// ErrNoMatch reports a strict resolution that matched no candidate.
	ErrNoMatch = errors.New("selector matched no candidates")
	// ErrAmbiguous reports a strict resolution with several candidates and no
	// exact match.
	ErrAmbiguous = errors.New("selector is ambiguous")
)

// Strictness controls how much of a selector must be specified.
type Strictness int

// Available Strictness values.
const (
	// Lenient accepts partially specified selectors.
	Lenient Strictness = iota
	// Strict requires a concrete name and a descriptor.
	Strict
)

// Wildcard is the name component matching any member name.
const Wildcard = "*"

// Selector is a parsed member query. Zero-value components are unspecified
// and match anything; Ordinal is -1 when unspecified.
type Selector struct {
	Owner   string
	Name    string
	Desc    string
	IsField bool
	Ordinal int
}

// Parse builds a Selector from its textual form. Whitespace around the
// expression is ignored.
func Parse(input string) (*Selector, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrMalformed)
	}

	sel := &Selector{Ordinal: -1}

	// Trailing ":<digits>" is an ordinal; a field descriptor after ':' always
	// starts with a type character, so the two cannot collide.
	if idx := strings.LastIndexByte(s, ':'); idx >= 0 && idx < len(s)-1 {
		if n, err := strconv.Atoi(s[idx+1:]); err == nil {
			if n < 0 {
				return nil, fmt.Errorf("%w: negative ordinal in %q", ErrMalformed, input)
			}

			sel.Ordinal = n
			s = s[:idx]
		}
	}

	// Optional owner terminated by ';', in either "Lcom/foo/Bar;" or
	// "com/foo/Bar;" form.
	if idx := strings.IndexByte(s, ';'); idx >= 0 && !strings.ContainsAny(s[:idx], "(:") {
		owner := s[:idx]
		owner = strings.TrimPrefix(owner, "L")

		if owner == "" {
			return nil, fmt.Errorf("%w: empty owner in %q", ErrMalformed, input)
		}

		sel.Owner = owner
		s = s[idx+1:]
	}

	// Name runs up to the descriptor, if any.
	nameEnd := strings.IndexAny(s, "(:")
	if nameEnd < 0 {
		nameEnd = len(s)
	}

	sel.Name = s[:nameEnd]
	if sel.Name == "" {
		return nil, fmt.Errorf("%w: missing member name in %q", ErrMalformed, input)
	}
	if err := checkName(sel.Name); err != nil {
		return nil, fmt.Errorf("%w in %q", err, input)
	}

	rest := s[nameEnd:]

	switch {
	case rest == "":
		// no descriptor
	case rest[0] == '(':
		if !bytecode.IsValidDesc(rest) {
			return nil, fmt.Errorf("%w: bad method descriptor %q in %q", ErrMalformed, rest, input)
		}

		sel.Desc = rest
	case rest[0] == ':':
		fieldDesc := rest[1:]
		if !bytecode.IsValidDesc(fieldDesc) || fieldDesc[0] == '(' {
			return nil, fmt.Errorf("%w: bad field descriptor %q in %q", ErrMalformed, fieldDesc, input)
		}

		sel.Desc = fieldDesc
		sel.IsField = true
	}

	return sel, nil
}

func checkName(name string) error {
	if name == Wildcard || name == "<init>" || name == "<clinit>" {
		return nil
	}

	if strings.ContainsAny(name, ".;[/<>") {
		return fmt.Errorf("%w: illegal character in name %q", ErrMalformed, name)
	}

	return nil
}

// String renders the canonical textual form; Parse(sel.String()) yields a
// structurally equal selector.
func (s *Selector) String() string {
	var sb strings.Builder

	if s.Owner != "" {
		sb.WriteString("L")
		sb.WriteString(s.Owner)
		sb.WriteString(";")
	}

	sb.WriteString(s.Name)

	if s.Desc != "" {
		if s.IsField {
			sb.WriteString(":")
		}

		sb.WriteString(s.Desc)
	}

	if s.Ordinal >= 0 {
		sb.WriteString(":")
		sb.WriteString(strconv.Itoa(s.Ordinal))
	}

	return sb.String()
}

// Validate checks the selector against a strictness mode.
func (s *Selector) Validate(mode Strictness) error {
	if s.Name == "<init>" || s.Name == "<clinit>" {
		if s.Desc != "" && !s.IsField {
			_, ret, err := bytecode.ParseMethodDesc(s.Desc)
			if err != nil || ret != "V" {
				return fmt.Errorf("%w: constructor selector must return void, got %q", ErrInvalid, s.Desc)
			}
		}

		if s.IsField {
			return fmt.Errorf("%w: %s cannot be a field", ErrInvalid, s.Name)
		}
	}

	if mode == Strict {
		if s.Name == Wildcard {
			return fmt.Errorf("%w: wildcard name not allowed in strict mode", ErrInvalid)
		}

		if s.Desc == "" {
			return fmt.Errorf("%w: descriptor required in strict mode", ErrInvalid)
		}
	}

	return nil
}

// Remapper rewrites raw member references via an external reference map.
// Absent entries pass the reference through unchanged.
type Remapper interface {
	Remap(context, ref string) string
}

// Configure resolves the selector against a reference map before any
// matching happens. The whole textual form is remapped first; when the map
// has no entry for it, the owner is remapped on its own.
func (s *Selector) Configure(rm Remapper, context string) (*Selector, error) {
	if rm == nil {
		return s, nil
	}

	raw := s.String()
	if mapped := rm.Remap(context, raw); mapped != raw {
		remapped, err := Parse(mapped)
		if err != nil {
			return nil, fmt.Errorf("reference map produced unparseable selector %q: %w", mapped, err)
		}

		return remapped, nil
	}

	if s.Owner != "" {
		if mapped := rm.Remap(context, s.Owner); mapped != s.Owner {
			out := *s
			out.Owner = mapped

			return &out, nil
		}
	}

	return s, nil
}

// Matches reports whether the candidate satisfies every specified component.
func (s *Selector) Matches(ref m.MemberRef) bool {
	if s.Owner != "" && s.Owner != ref.Owner {
		return false
	}

	if s.Name != Wildcard && s.Name != ref.Name {
		return false
	}

	if s.Desc != "" {
		if s.IsField != ref.IsField || s.Desc != ref.Desc {
			return false
		}
	}

	return true
}

// matchesExactly requires every component to be specified and equal.
func (s *Selector) matchesExactly(ref m.MemberRef) bool {
	return s.Owner == ref.Owner &&
		s.Name == ref.Name &&
		s.Desc == ref.Desc &&
		s.IsField == ref.IsField
}

// Result is the outcome of matching a selector against a candidate list.
type Result struct {
	// Exact is the candidate matching owner, name and descriptor precisely,
	// or nil when the selector was partial or nothing matched in full.
	Exact *m.MemberRef
	// Candidates are all structural matches in candidate order.
	Candidates []m.MemberRef
}

// Match resolves the selector against a candidate member list.
func (s *Selector) Match(candidates []m.MemberRef) Result {
	var res Result

	for _, c := range candidates {
		if !s.Matches(c) {
			continue
		}

		res.Candidates = append(res.Candidates, c)

		if res.Exact == nil && s.matchesExactly(c) {
			exact := c
			res.Exact = &exact
		}
	}

	return res
}

// Single picks the one intended member: the exact match when present,
// otherwise a sole candidate. With strict set, zero or several inexact
// candidates are errors; otherwise the first candidate (or a zero ref) is
// returned best-effort.
func (r Result) Single(strict bool) (m.MemberRef, error) {
	if r.Exact != nil {
		return *r.Exact, nil
	}

	switch len(r.Candidates) {
	case 0:
		if strict {
			return m.MemberRef{}, ErrNoMatch
		}

		return m.MemberRef{}, nil
	case 1:
		return r.Candidates[0], nil
	default:
		if strict {
			return m.MemberRef{}, fmt.Errorf("%w: %d candidates", ErrAmbiguous, len(r.Candidates))
		}

		return r.Candidates[0], nil
	}
}
