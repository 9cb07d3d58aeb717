package intakeoutput

import (
	"fmt"
	"strings"
)

// Kind classifies a category as fluid entering or leaving the patient.
type Kind string

const (
	KindIntake Kind = "intake"
	KindOutput Kind = "output"
)

// ParseKind accepts "intake" or "output" in any case.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindIntake:
		return KindIntake, nil
	case KindOutput:
		return KindOutput, nil
	}
	return "", fmt.Errorf("invalid kind: %q", s)
}

// Category is one row of the intake/output flowsheet.
type Category struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Kind           Kind     `json:"kind"`
	AllowedSources []string `json:"allowed_sources"`
}

// AllowsSource reports whether source is one of the category's routes.
func (c Category) AllowsSource(source string) bool {
	for _, s := range c.AllowedSources {
		if s == source {
			return true
		}
	}
	return false
}

// QuickAmounts are the one-click volumes offered by the entry form, in mL.
var QuickAmounts = []float64{30, 60, 120, 240, 500, 1000}

// Registry is the immutable category taxonomy. It keeps registration order,
// which is also the row order of every snapshot and aggregate.
type Registry struct {
	categories []Category
	index      map[string]int
}

// NewRegistry validates and freezes the given categories. Ids must be
// non-empty and unique.
func NewRegistry(categories ...Category) (*Registry, error) {
	r := &Registry{
		categories: make([]Category, 0, len(categories)),
		index:      make(map[string]int, len(categories)),
	}
	for _, c := range categories {
		if c.ID == "" {
			return nil, fmt.Errorf("category id is required")
		}
		if c.Kind != KindIntake && c.Kind != KindOutput {
			return nil, fmt.Errorf("category %s: invalid kind %q", c.ID, c.Kind)
		}
		if _, dup := r.index[c.ID]; dup {
			return nil, fmt.Errorf("category %s: duplicate id", c.ID)
		}
		if c.Name == "" {
			c.Name = c.ID
		}
		c.AllowedSources = append([]string(nil), c.AllowedSources...)
		r.index[c.ID] = len(r.categories)
		r.categories = append(r.categories, c)
	}
	return r, nil
}

// MustRegistry is NewRegistry for static tables; it panics on invalid input.
func MustRegistry(categories ...Category) *Registry {
	r, err := NewRegistry(categories...)
	if err != nil {
		panic(err)
	}
	return r
}

// List returns the categories of the given kinds in registration order. With
// no kinds it returns every category.
func (r *Registry) List(kinds ...Kind) []Category {
	out := make([]Category, 0, len(r.categories))
	for _, c := range r.categories {
		if len(kinds) == 0 || hasKind(kinds, c.Kind) {
			out = append(out, copyCategory(c))
		}
	}
	return out
}

// Get looks up a category by id.
func (r *Registry) Get(id string) (Category, error) {
	i, ok := r.index[id]
	if !ok {
		return Category{}, fmt.Errorf("%w: %s", ErrUnknownCategory, id)
	}
	return copyCategory(r.categories[i]), nil
}

// Len returns the number of registered categories.
func (r *Registry) Len() int {
	return len(r.categories)
}

func (r *Registry) position(id string) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

func copyCategory(c Category) Category {
	c.AllowedSources = append([]string(nil), c.AllowedSources...)
	return c
}

// DefaultRegistry returns the standard adult intake/output taxonomy.
func DefaultRegistry() *Registry {
	return MustRegistry(
		Category{ID: "po", Name: "PO Fluids", Kind: KindIntake,
			AllowedSources: []string{"Water", "Juice", "Coffee/Tea", "Soda", "Ice Chips", "Soup/Broth", "Other"}},
		Category{ID: "iv", Name: "IV Fluids", Kind: KindIntake,
			AllowedSources: []string{"Normal Saline", "Lactated Ringers", "D5W", "D5 1/2 NS", "Other"}},
		Category{ID: "ivmed", Name: "IV Medications", Kind: KindIntake,
			AllowedSources: []string{"Antibiotic", "Pain Med", "Other"}},
		Category{ID: "blood", Name: "Blood Products", Kind: KindIntake,
			AllowedSources: []string{"pRBC", "Platelets", "FFP", "Cryoprecipitate"}},
		Category{ID: "tube", Name: "TPN/Tube Feeds", Kind: KindIntake,
			AllowedSources: []string{"TPN", "Tube Feeding", "Lipids"}},
		Category{ID: "irrigin", Name: "Irrigation (In)", Kind: KindIntake},

		Category{ID: "urine", Name: "Urine", Kind: KindOutput,
			AllowedSources: []string{"Foley", "Void", "Straight Cath", "Condom Cath"}},
		Category{ID: "stool", Name: "Stool", Kind: KindOutput,
			AllowedSources: []string{"Formed", "Soft", "Loose", "Liquid", "Bloody"}},
		Category{ID: "emesis", Name: "Emesis", Kind: KindOutput,
			AllowedSources: []string{"Bilious", "Non-bilious", "Coffee-ground", "Bloody"}},
		Category{ID: "ng", Name: "NG/OG Drainage", Kind: KindOutput,
			AllowedSources: []string{"NG Tube", "OG Tube", "G-Tube"}},
		Category{ID: "drain", Name: "Drain Output", Kind: KindOutput,
			AllowedSources: []string{"JP Drain", "Penrose", "Wound VAC", "Other"}},
		Category{ID: "chest", Name: "Chest Tube", Kind: KindOutput,
			AllowedSources: []string{"Chest Tube"}},
		Category{ID: "irrigout", Name: "Irrigation (Out)", Kind: KindOutput},
	)
}
