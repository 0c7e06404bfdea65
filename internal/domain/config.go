// Package domain holds the application workflows: loading mixin
// configurations, orchestrating per-class injection, and producing reports.
package domain

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	m "weft.dev/pkg/weft/internal/model"
)

// CurrentConfigVersion is the mixin configuration schema version this build
// understands.
const CurrentConfigVersion = 1

// ErrConfig reports an invalid mixin configuration document.
var ErrConfig = errors.New("invalid mixin configuration")

// LoadConfig reads and validates a mixin configuration file.
func LoadConfig(path m.Path) (*m.Config, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		return nil, fmt.Errorf("read mixin config: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("mixin config %s: %w", path, err)
	}

	return cfg, nil
}

// ParseConfig decodes and validates a mixin configuration document.
func ParseConfig(data []byte) (*m.Config, error) {
	var cfg m.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validateConfig(cfg *m.Config) error {
	if cfg.Version != CurrentConfigVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrConfig, cfg.Version)
	}

	if len(cfg.Mixins) == 0 {
		return fmt.Errorf("%w: no mixins declared", ErrConfig)
	}

	seen := map[string]bool{}

	for i := range cfg.Mixins {
		mixin := &cfg.Mixins[i]

		if mixin.Name == "" {
			return fmt.Errorf("%w: mixin %d has no name", ErrConfig, i)
		}

		if seen[mixin.Name] {
			return fmt.Errorf("%w: duplicate mixin name %q", ErrConfig, mixin.Name)
		}

		seen[mixin.Name] = true

		if len(mixin.Targets) == 0 {
			return fmt.Errorf("%w: mixin %q has no targets", ErrConfig, mixin.Name)
		}

		for j := range mixin.Injectors {
			if err := validateInjector(mixin.Name, j, &mixin.Injectors[j]); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateInjector(mixin string, idx int, spec *m.InjectorSpec) error {
	if spec.Kind == "" {
		return fmt.Errorf("%w: mixin %q injector %d has no kind", ErrConfig, mixin, idx)
	}

	if spec.Handler == "" {
		return fmt.Errorf("%w: mixin %q injector %d has no handler", ErrConfig, mixin, idx)
	}

	if len(spec.Methods) == 0 {
		return fmt.Errorf("%w: mixin %q injector %d targets no methods", ErrConfig, mixin, idx)
	}

	if len(spec.At) == 0 {
		return fmt.Errorf("%w: mixin %q injector %d has no injection points", ErrConfig, mixin, idx)
	}

	if spec.Kind == m.KindModifyArg && spec.Index == nil {
		return fmt.Errorf("%w: mixin %q injector %d needs an argument index", ErrConfig, mixin, idx)
	}

	sliceIDs := map[string]bool{}
	for _, s := range spec.Slices {
		if sliceIDs[s.ID] {
			return fmt.Errorf("%w: mixin %q injector %d declares slice %q twice", ErrConfig, mixin, idx, s.ID)
		}

		sliceIDs[s.ID] = true
	}

	for _, at := range spec.At {
		if at.Slice != "" && !sliceIDs[at.Slice] {
			return fmt.Errorf("%w: mixin %q injector %d references undeclared slice %q", ErrConfig, mixin, idx, at.Slice)
		}
	}

	return nil
}
