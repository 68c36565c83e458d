package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"orderintake/internal"
	"orderintake/internal/util"
)

//go:embed formats.yaml
var defaultFormatsYAML []byte

// LabelSet holds candidate header labels per semantic field.
type LabelSet map[internal.Field][]string

type FormatSpec struct {
	Type     string
	Vendor   string
	Keywords []string
	Labels   LabelSet
}

// Registry is the ordered vendor format table. It is read-only once built
// and safe to share between concurrent runs.
type Registry struct {
	formats        []FormatSpec
	keywords       [][]string
	defaultLabels  LabelSet
	summaryMarkers map[string]struct{}
}

type registryDoc struct {
	Labels         map[string][]string `yaml:"labels"`
	SummaryMarkers []string            `yaml:"summary_markers"`
	Formats        []formatDoc         `yaml:"formats"`
}

type formatDoc struct {
	Type     string              `yaml:"type"`
	Vendor   string              `yaml:"vendor"`
	Keywords []string            `yaml:"keywords"`
	Labels   map[string][]string `yaml:"labels"`
}

func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultFormatsYAML)
}

func LoadRegistry(path string) (*Registry, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	reg, err := ParseRegistry(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

func ParseRegistry(blob []byte) (*Registry, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(blob, &doc); err != nil {
		return nil, fmt.Errorf("parse format registry: %w", err)
	}

	labels, err := toLabelSet(doc.Labels)
	if err != nil {
		return nil, err
	}
	specs := make([]FormatSpec, 0, len(doc.Formats))
	for i, f := range doc.Formats {
		fl, err := toLabelSet(f.Labels)
		if err != nil {
			return nil, fmt.Errorf("format #%d (%s): %w", i+1, f.Type, err)
		}
		specs = append(specs, FormatSpec{Type: f.Type, Vendor: f.Vendor, Keywords: f.Keywords, Labels: fl})
	}
	return NewRegistry(specs, labels, doc.SummaryMarkers)
}

func toLabelSet(raw map[string][]string) (LabelSet, error) {
	out := LabelSet{}
	for name, labels := range raw {
		field := internal.Field(name)
		if !knownField(field) {
			return nil, fmt.Errorf("unknown field %q in labels", name)
		}
		out[field] = labels
	}
	return out, nil
}

func knownField(f internal.Field) bool {
	for _, known := range internal.Fields() {
		if f == known {
			return true
		}
	}
	return false
}

// NewRegistry validates and copies the given formats. Registration order is
// detector priority.
func NewRegistry(formats []FormatSpec, defaultLabels LabelSet, summaryMarkers []string) (*Registry, error) {
	if len(formats) == 0 {
		return nil, fmt.Errorf("format registry has no formats")
	}
	for _, required := range []internal.Field{internal.FieldProductName, internal.FieldQuantity} {
		if len(nonBlank(defaultLabels[required])) == 0 {
			return nil, fmt.Errorf("default labels for %s are empty", required)
		}
	}

	reg := &Registry{
		defaultLabels:  copyLabels(defaultLabels),
		summaryMarkers: map[string]struct{}{},
	}
	for i, spec := range formats {
		spec.Type = strings.TrimSpace(spec.Type)
		if spec.Type == "" {
			return nil, fmt.Errorf("format #%d has no type", i+1)
		}
		keywords := make([]string, 0, len(spec.Keywords))
		for _, kw := range spec.Keywords {
			if norm := util.NormalizeLabel(kw); norm != "" {
				keywords = append(keywords, norm)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("format %s has no keywords", spec.Type)
		}
		if strings.TrimSpace(spec.Vendor) == "" {
			spec.Vendor = spec.Type
		}
		spec.Keywords = append([]string(nil), spec.Keywords...)
		spec.Labels = copyLabels(spec.Labels)
		reg.formats = append(reg.formats, spec)
		reg.keywords = append(reg.keywords, keywords)
	}
	for _, m := range summaryMarkers {
		if norm := util.NormalizeLabel(m); norm != "" {
			reg.summaryMarkers[norm] = struct{}{}
		}
	}
	return reg, nil
}

// Formats returns the registered formats in priority order.
func (r *Registry) Formats() []FormatSpec {
	out := make([]FormatSpec, len(r.formats))
	for i, f := range r.formats {
		f.Keywords = append([]string(nil), f.Keywords...)
		f.Labels = copyLabels(f.Labels)
		out[i] = f
	}
	return out
}

// Match returns the first format whose keywords are all contained in the
// normalized signature.
func (r *Registry) Match(signature string) (FormatSpec, bool) {
	for i, keywords := range r.keywords {
		matched := true
		for _, kw := range keywords {
			if !strings.Contains(signature, kw) {
				matched = false
				break
			}
		}
		if matched {
			return r.formats[i], true
		}
	}
	return FormatSpec{}, false
}

// Lookup resolves a vendor hint by format type or vendor name.
func (r *Registry) Lookup(hint string) (FormatSpec, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return FormatSpec{}, false
	}
	for _, f := range r.formats {
		if strings.EqualFold(f.Type, hint) || strings.EqualFold(f.Vendor, hint) {
			return f, true
		}
	}
	return FormatSpec{}, false
}

// LabelsFor returns the header labels of formatType: the default table with
// fields overridden by the first registered entry of that type.
func (r *Registry) LabelsFor(formatType string) LabelSet {
	out := copyLabels(r.defaultLabels)
	for _, f := range r.formats {
		if f.Type != formatType {
			continue
		}
		for field, labels := range f.Labels {
			if len(nonBlank(labels)) > 0 {
				out[field] = append([]string(nil), labels...)
			}
		}
		break
	}
	return out
}

// IsSummaryName reports whether a product cell is a footer total marker.
func (r *Registry) IsSummaryName(name string) bool {
	_, ok := r.summaryMarkers[util.NormalizeLabel(name)]
	return ok
}

func copyLabels(in LabelSet) LabelSet {
	out := LabelSet{}
	for field, labels := range in {
		out[field] = append([]string(nil), labels...)
	}
	return out
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}
