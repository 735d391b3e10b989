package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/coachai/coach-backend/internal/shared"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios.yaml
var builtinScenarios []byte

var ErrUnknownScenario = fmt.Errorf("unknown scenario: %w", shared.ErrNotFound)

type Category string

const (
	CategoryFeedback          Category = "feedback"
	CategoryTermination       Category = "termination"
	CategoryPerformanceReview Category = "performance_review"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryFeedback, CategoryTermination, CategoryPerformanceReview:
		return true
	}
	return false
}

type Persona struct {
	Name       string `yaml:"name" json:"name"`
	Role       string `yaml:"role" json:"role"`
	Background string `yaml:"background" json:"-"`
	Stance     string `yaml:"stance" json:"-"`
}

type Scenario struct {
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Category     Category `yaml:"category" json:"category"`
	Persona      Persona  `yaml:"persona" json:"persona"`
	Voice        string   `yaml:"voice" json:"voice"`
	Language     string   `yaml:"language" json:"language"`
	LearnerGoals []string `yaml:"learner_goals" json:"learner_goals"`
	OpeningLine  string   `yaml:"opening_line" json:"-"`
}

type catalogFile struct {
	Default   string     `yaml:"default"`
	Scenarios []Scenario `yaml:"scenarios"`
}

// Catalog is an immutable set of scenarios keyed by id.
type Catalog struct {
	scenarios map[string]Scenario
	ordered   []Scenario
	def       string
}

// NewCatalog loads the scenarios compiled into the binary.
func NewCatalog() (*Catalog, error) {
	return ParseCatalog(builtinScenarios)
}

// LoadCatalogFile reads a catalog from disk, replacing the built-in one.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenarios: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse scenarios: %w", err)
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("scenario catalog is empty")
	}

	c := &Catalog{scenarios: make(map[string]Scenario, len(file.Scenarios))}
	for _, s := range file.Scenarios {
		if err := validate(s); err != nil {
			return nil, err
		}
		if _, dup := c.scenarios[s.ID]; dup {
			return nil, fmt.Errorf("duplicate scenario id %q", s.ID)
		}
		c.scenarios[s.ID] = s
		c.ordered = append(c.ordered, s)
	}

	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].ID < c.ordered[j].ID })

	c.def = file.Default
	if c.def == "" {
		c.def = c.ordered[0].ID
	}
	if _, ok := c.scenarios[c.def]; !ok {
		return nil, fmt.Errorf("default scenario %q not in catalog", c.def)
	}
	return c, nil
}

func validate(s Scenario) error {
	switch {
	case s.ID == "":
		return errors.New("scenario without id")
	case s.Title == "":
		return fmt.Errorf("scenario %q: title is required", s.ID)
	case !s.Category.Valid():
		return fmt.Errorf("scenario %q: invalid category %q", s.ID, s.Category)
	case s.Persona.Name == "":
		return fmt.Errorf("scenario %q: persona name is required", s.ID)
	}
	return nil
}

func (c *Catalog) Get(id string) (Scenario, error) {
	s, ok := c.scenarios[id]
	if !ok {
		return Scenario{}, fmt.Errorf("%w: %s", ErrUnknownScenario, id)
	}
	return s, nil
}

func (c *Catalog) List() []Scenario {
	out := make([]Scenario, len(c.ordered))
	copy(out, c.ordered)
	return out
}

func (c *Catalog) Default() Scenario {
	return c.scenarios[c.def]
}

// Resolve returns the scenario for id, or the default when id is empty.
func (c *Catalog) Resolve(id string) (Scenario, error) {
	if id == "" {
		return c.Default(), nil
	}
	return c.Get(id)
}
