package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gridsim/internal/area"
	"gridsim/internal/domain"
	"gridsim/internal/strategy"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// StrategySpec selects a leaf strategy by kind.
type StrategySpec struct {
	Kind   string            `yaml:"kind"`
	Params map[string]string `yaml:"params"`
}

// AreaSpec is one node of a setup file. Count > 1 replicates the node;
// "{n}" in its name becomes the 1-based copy number and "{parent}" the
// parent's name, in the node and in every descendant.
type AreaSpec struct {
	Name     string                   `yaml:"name"`
	Count    int                      `yaml:"count"`
	Offload  bool                     `yaml:"offload"`
	Config   *domain.SimulationConfig `yaml:"config"` // overlays the inherited config
	Strategy *StrategySpec            `yaml:"strategy"`
	Children []AreaSpec               `yaml:"children"`
}

// LoadSetup reads a setup file.
func LoadSetup(path string) (*AreaSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: setup %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}
	return ParseSetup(data)
}

// ParseSetup decodes a setup document.
func ParseSetup(data []byte) (*AreaSpec, error) {
	var spec AreaSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &domain.ConfigError{Field: "setup", Err: err}
	}
	if spec.Name == "" {
		return nil, &domain.ConfigError{Field: "setup.name", Err: errors.New("the root area needs a name")}
	}
	if spec.Count > 1 {
		return nil, &domain.ConfigError{Field: "setup.count", Err: errors.New("the root area cannot be replicated")}
	}
	return &spec, nil
}

type builder struct {
	slugs map[string]string // slug -> name
}

// BuildGrid turns a setup into an area tree. base is the root config; a
// node's config block overlays the config it inherits.
func BuildGrid(spec *AreaSpec, base domain.SimulationConfig) (*area.Area, error) {
	b := &builder{slugs: make(map[string]string)}
	roots, err := b.build(*spec, "", base, true)
	if err != nil {
		return nil, err
	}
	return roots[0], nil
}

func (b *builder) build(spec AreaSpec, parent string, inherited domain.SimulationConfig, root bool) ([]*area.Area, error) {
	count := spec.Count
	if count < 1 {
		count = 1
	}
	if count > 1 && !strings.Contains(spec.Name, "{n}") {
		return nil, &domain.ConfigError{Field: "setup.count", Err: fmt.Errorf("area %q is replicated but has no {n} in its name", spec.Name)}
	}

	cfg := inherited
	if spec.Config != nil {
		cfg = domain.MergeSimulation(inherited, *spec.Config)
	}

	out := make([]*area.Area, 0, count)
	for n := 1; n <= count; n++ {
		name := expand(spec.Name, n, parent)
		if name == "" {
			return nil, &domain.ConfigError{Field: "setup.name", Err: fmt.Errorf("empty area name below %q", parent)}
		}
		s := slug.Make(name)
		if prev, dup := b.slugs[s]; dup {
			return nil, &domain.ConfigError{Field: "setup.name", Err: fmt.Errorf("areas %q and %q share slug %q", prev, name, s)}
		}
		b.slugs[s] = name

		var opts []area.Option
		if root || spec.Config != nil {
			opts = append(opts, area.WithConfig(cfg))
		}
		if spec.Offload {
			opts = append(opts, area.WithOffload())
		}
		if spec.Strategy != nil {
			strat, err := newStrategy(*spec.Strategy)
			if err != nil {
				return nil, fmt.Errorf("area %s: %w", name, err)
			}
			opts = append(opts, area.WithStrategy(strat))
		}

		var children []*area.Area
		for _, cs := range spec.Children {
			built, err := b.build(cs, name, cfg, false)
			if err != nil {
				return nil, err
			}
			children = append(children, built...)
		}
		if len(children) > 0 {
			opts = append(opts, area.WithChildren(children...))
		}

		out = append(out, area.New(name, opts...))
	}
	return out, nil
}

func expand(tmpl string, n int, parent string) string {
	r := strings.NewReplacer("{n}", strconv.Itoa(n), "{parent}", parent)
	return strings.TrimSpace(r.Replace(tmpl))
}

func newStrategy(spec StrategySpec) (strategy.Strategy, error) {
	switch spec.Kind {
	case "commercial":
		rate, err := param(spec.Params, "rate", "30")
		if err != nil {
			return nil, err
		}
		energy, err := param(spec.Params, "energy", "100")
		if err != nil {
			return nil, err
		}
		return strategy.NewCommercialProducer(rate, energy), nil
	case "load":
		energy, err := param(spec.Params, "energy", "1")
		if err != nil {
			return nil, err
		}
		maxRate, err := param(spec.Params, "max_rate", "35")
		if err != nil {
			return nil, err
		}
		return strategy.NewLoad(energy, maxRate), nil
	default:
		return nil, &domain.ConfigError{Field: "strategy.kind", Err: fmt.Errorf("unknown strategy %q", spec.Kind)}
	}
}

func param(params map[string]string, key, fallback string) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok {
		raw = fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &domain.ConfigError{Field: "strategy.params." + key, Err: err}
	}
	if v.IsNegative() {
		return decimal.Zero, &domain.ConfigError{Field: "strategy.params." + key, Err: errors.New("must not be negative")}
	}
	return v, nil
}
