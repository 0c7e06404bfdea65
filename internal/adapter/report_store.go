package adapter

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	m "weft.dev/pkg/weft/internal/model"
)

// ReportStore persists apply-run reports so later runs and CI tooling can
// inspect what was injected where.
type ReportStore interface {
	SaveReport(path m.Path, report *m.Report) error
	LoadReport(path m.Path) (*m.Report, error)
}

// reportDoc is the serialized shape of a report. Errors flatten to strings.
type reportDoc struct {
	Classes []classDoc `yaml:"classes"`
}

type classDoc struct {
	Class      string         `yaml:"class"`
	Output     string         `yaml:"output,omitempty"`
	Modified   bool           `yaml:"modified"`
	Injections []injectionDoc `yaml:"injections,omitempty"`
}

type injectionDoc struct {
	Mixin   string `yaml:"mixin"`
	Kind    string `yaml:"kind"`
	Handler string `yaml:"handler"`
	Count   int    `yaml:"count"`
	Status  string `yaml:"status"`
	Error   string `yaml:"error,omitempty"`
}

type yamlReportStore struct{}

// NewReportStore returns the YAML-file backed report store.
func NewReportStore() ReportStore {
	return &yamlReportStore{}
}

func (s *yamlReportStore) SaveReport(path m.Path, report *m.Report) error {
	doc := reportDoc{}

	for _, c := range report.Classes {
		cd := classDoc{
			Class:    c.Class,
			Output:   string(c.Output),
			Modified: c.Modified,
		}

		for _, r := range c.Reports {
			id := injectionDoc{
				Mixin:   r.Mixin,
				Kind:    string(r.Kind),
				Handler: r.Handler,
				Count:   r.Count,
				Status:  statusLabel(r.Status),
			}
			if r.Err != nil {
				id.Error = r.Err.Error()
			}

			cd.Injections = append(cd.Injections, id)
		}

		doc.Classes = append(doc.Classes, cd)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(string(path)), 0o750); err != nil {
		return err
	}

	return os.WriteFile(string(path), data, 0o600)
}

func (s *yamlReportStore) LoadReport(path m.Path) (*m.Report, error) {
	data, err := os.ReadFile(string(path))
	if err != nil {
		return nil, err
	}

	var doc reportDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}

	report := &m.Report{}

	for _, cd := range doc.Classes {
		cr := m.ClassResult{
			Class:    cd.Class,
			Output:   m.Path(cd.Output),
			Modified: cd.Modified,
		}

		for _, id := range cd.Injections {
			rep := m.InjectionReport{
				Mixin:   id.Mixin,
				Class:   cd.Class,
				Kind:    m.InjectorKind(id.Kind),
				Handler: id.Handler,
				Count:   id.Count,
				Status:  statusFromLabel(id.Status),
			}
			if id.Error != "" {
				rep.Err = fmt.Errorf("%s", id.Error)
			}

			cr.Reports = append(cr.Reports, rep)
		}

		report.Classes = append(report.Classes, cr)
	}

	return report, nil
}

func statusLabel(s m.InjectionStatus) string {
	switch s {
	case m.Injected:
		return "injected"
	case m.Missed:
		return "missed"
	default:
		return "failed"
	}
}

func statusFromLabel(label string) m.InjectionStatus {
	switch label {
	case "injected":
		return m.Injected
	case "missed":
		return m.Missed
	default:
		return m.Failed
	}
}
