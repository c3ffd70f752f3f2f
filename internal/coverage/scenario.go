package coverage

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Scenario is one reproducible coverage run as a YAML document: the decay
// model, resolutions and input locations in a single reviewable file. Zero
// values fall back to the run defaults, so a minimal scenario only names
// what it changes.
type Scenario struct {
	Name         string        `yaml:"name"`
	Decay        ScenarioDecay `yaml:"decay"`
	Grades       int           `yaml:"grades"`
	GridDelta    float64       `yaml:"grid_delta"`
	H3Resolution *int          `yaml:"h3_resolution"` // absent leaves hex output off
	Points       string        `yaml:"points"`        // service points file
	Population   string        `yaml:"population"`    // population dataset name
	Out          string        `yaml:"out"`           // output directory
}

// ScenarioDecay mirrors quality.DecayParams in YAML form.
type ScenarioDecay struct {
	Elasticity        float64 `yaml:"elasticity"`
	ReferenceDistance float64 `yaml:"reference_distance"`
	MaxDistance       float64 `yaml:"max_distance"`
}

// LoadScenario reads a scenario document from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "coverage: read scenario %s", path)
	}

	sc := &Scenario{}
	if err := yaml.Unmarshal(data, sc); err != nil {
		return nil, eris.Wrap(err, "coverage: parse scenario")
	}
	return sc, nil
}

// Params materializes the scenario onto the default run parameters.
func (s *Scenario) Params() Params {
	p := DefaultParams()
	if s.Decay.Elasticity > 0 {
		p.Decay.Elasticity = s.Decay.Elasticity
	}
	if s.Decay.ReferenceDistance > 0 {
		p.Decay.ReferenceDistance = s.Decay.ReferenceDistance
	}
	if s.Decay.MaxDistance > 0 {
		p.Decay.MaxDistance = s.Decay.MaxDistance
	}
	if s.Grades > 0 {
		p.Grades = s.Grades
	}
	if s.GridDelta > 0 {
		p.GridDelta = s.GridDelta
	}
	if s.H3Resolution != nil {
		p.H3Resolution = *s.H3Resolution
	}
	return p
}
