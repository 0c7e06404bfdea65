package selector

import (
	"errors"
	"testing"

	m "weft.dev/pkg/weft/internal/model"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  Selector
	}{
		{
			"fully qualified method",
			"Lcom/example/Foo;bar(II)I",
			Selector{Owner: "com/example/Foo", Name: "bar", Desc: "(II)I", Ordinal: -1},
		},
		{
			"bare name",
			"bar",
			Selector{Name: "bar", Ordinal: -1},
		},
		{
			"name with ordinal",
			"bar:2",
			Selector{Name: "bar", Ordinal: 2},
		},
		{
			"method with ordinal",
			"bar(I)V:0",
			Selector{Name: "bar", Desc: "(I)V", Ordinal: 0},
		},
		{
			"field with descriptor",
			"Lcom/example/Foo;count:I",
			Selector{Owner: "com/example/Foo", Name: "count", Desc: "I", IsField: true, Ordinal: -1},
		},
		{
			"wildcard name",
			"*(I)V",
			Selector{Name: "*", Desc: "(I)V", Ordinal: -1},
		},
		{
			"constructor",
			"<init>(Ljava/lang/String;)V",
			Selector{Name: "<init>", Desc: "(Ljava/lang/String;)V", Ordinal: -1},
		},
		{
			"owner without L prefix",
			"com/example/Foo;bar",
			Selector{Owner: "com/example/Foo", Name: "bar", Ordinal: -1},
		},
		{
			"descriptor containing object types",
			"bar(Ljava/lang/String;J)Ljava/lang/Object;",
			Selector{Name: "bar", Desc: "(Ljava/lang/String;J)Ljava/lang/Object;", Ordinal: -1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *got != tc.want {
				t.Fatalf("expected %+v, got %+v", tc.want, *got)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"Lcom/example/Foo;",
		";bar",
		"bar(I",
		"bar:(I)V",
		"ba.r",
		"bar:-1",
	} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"Lcom/example/Foo;bar(II)I",
		"bar(I)V:3",
		"Lcom/example/Foo;count:I",
		"*",
		"<init>()V",
		"Lcom/example/Foo;count:I:1",
	}

	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			first, err := Parse(input)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}

			second, err := Parse(first.String())
			if err != nil {
				t.Fatalf("reparse of %q: %v", first.String(), err)
			}

			if *first != *second {
				t.Fatalf("round trip changed selector: %+v vs %+v", *first, *second)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Run("constructor must return void", func(t *testing.T) {
		sel, err := Parse("<init>(I)I")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		if err := sel.Validate(Lenient); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	})

	t.Run("strict requires descriptor", func(t *testing.T) {
		sel, err := Parse("bar")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		if err := sel.Validate(Strict); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
		if err := sel.Validate(Lenient); err != nil {
			t.Fatalf("lenient should accept partial selector: %v", err)
		}
	})

	t.Run("strict rejects wildcard", func(t *testing.T) {
		sel, err := Parse("*(I)V")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		if err := sel.Validate(Strict); !errors.Is(err, ErrInvalid) {
			t.Fatalf("expected ErrInvalid, got %v", err)
		}
	})
}

type mapRemapper map[string]string

func (r mapRemapper) Remap(_, ref string) string {
	if mapped, ok := r[ref]; ok {
		return mapped
	}

	return ref
}

func TestConfigure(t *testing.T) {
	t.Run("remaps the full reference before matching", func(t *testing.T) {
		sel, err := Parse("Lcom/example/Foo;bar(I)V")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		rm := mapRemapper{"Lcom/example/Foo;bar(I)V": "La/a;a(I)V"}

		resolved, err := sel.Configure(rm, "FooMixin")
		if err != nil {
			t.Fatalf("configure: %v", err)
		}
		if resolved.Owner != "a/a" || resolved.Name != "a" {
			t.Fatalf("remap not applied: %+v", *resolved)
		}
	})

	t.Run("unmapped selectors pass through unchanged", func(t *testing.T) {
		sel, err := Parse("bar(I)V")
		if err != nil {
			t.Fatalf("parse: %v", err)
		}

		resolved, err := sel.Configure(mapRemapper{}, "FooMixin")
		if err != nil {
			t.Fatalf("configure: %v", err)
		}
		if *resolved != *sel {
			t.Fatalf("pass-through changed selector")
		}
	})
}

func TestMatch(t *testing.T) {
	candidates := []m.MemberRef{
		m.NewMethodRef("com/example/Foo", "bar", "(I)V"),
		m.NewMethodRef("com/example/Foo", "bar", "(II)V"),
		m.NewMethodRef("com/example/Foo", "baz", "(I)V"),
	}

	t.Run("partial selector collects all structural matches", func(t *testing.T) {
		sel, _ := Parse("bar")
		res := sel.Match(candidates)

		if len(res.Candidates) != 2 {
			t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
		}
		if res.Exact != nil {
			t.Fatalf("partial selector cannot match exactly")
		}
	})

	t.Run("exact match is distinguished", func(t *testing.T) {
		sel, _ := Parse("Lcom/example/Foo;bar(II)V")
		res := sel.Match(candidates)

		if res.Exact == nil || res.Exact.Desc != "(II)V" {
			t.Fatalf("expected exact match, got %+v", res)
		}
	})

	t.Run("single returns sole candidate", func(t *testing.T) {
		sel, _ := Parse("baz")

		got, err := sel.Match(candidates).Single(true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Name != "baz" {
			t.Fatalf("expected baz, got %s", got.Name)
		}
	})

	t.Run("strict ambiguity fails", func(t *testing.T) {
		sel, _ := Parse("bar")

		if _, err := sel.Match(candidates).Single(true); !errors.Is(err, ErrAmbiguous) {
			t.Fatalf("expected ErrAmbiguous, got %v", err)
		}
	})

	t.Run("strict miss fails", func(t *testing.T) {
		sel, _ := Parse("missing")

		if _, err := sel.Match(candidates).Single(true); !errors.Is(err, ErrNoMatch) {
			t.Fatalf("expected ErrNoMatch, got %v", err)
		}
	})

	t.Run("wildcard matches every member", func(t *testing.T) {
		sel, _ := Parse("*")
		res := sel.Match(candidates)

		if len(res.Candidates) != len(candidates) {
			t.Fatalf("expected all candidates, got %d", len(res.Candidates))
		}
	})
}
