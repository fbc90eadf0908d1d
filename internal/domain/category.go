package domain

import (
	"errors"
	"fmt"
)

// ErrUnknownCategory is returned when a category tag is outside the closed set.
var ErrUnknownCategory = errors.New("unknown category")

// Category tags the body part or wellness type an activity belongs to.
type Category string

// Body parts.
const (
	BodyPartWrists      Category = "wrists"
	BodyPartNeck        Category = "neck"
	BodyPartPelvicFloor Category = "pelvic_floor"
	BodyPartAnkles      Category = "ankles"
	BodyPartLowerBack   Category = "lower_back"
	BodyPartJaw         Category = "jaw"
	BodyPartHips        Category = "hips"
	BodyPartShoulders   Category = "shoulders"
	BodyPartEyes        Category = "eyes"
)

// Wellness types.
const (
	WellnessMeditation    Category = "meditation"
	WellnessBreathing     Category = "breathing"
	WellnessMindfulness   Category = "mindfulness"
	WellnessRelaxation    Category = "relaxation"
	WellnessVisualization Category = "visualization"
	WellnessGratitude     Category = "gratitude"
)

// CategoryKind separates body parts from wellness types.
type CategoryKind string

const (
	KindBodyPart CategoryKind = "body_part"
	KindWellness CategoryKind = "wellness"
)

var bodyParts = []Category{
	BodyPartWrists,
	BodyPartNeck,
	BodyPartPelvicFloor,
	BodyPartAnkles,
	BodyPartLowerBack,
	BodyPartJaw,
	BodyPartHips,
	BodyPartShoulders,
	BodyPartEyes,
}

var wellnessTypes = []Category{
	WellnessMeditation,
	WellnessBreathing,
	WellnessMindfulness,
	WellnessRelaxation,
	WellnessVisualization,
	WellnessGratitude,
}

var categoryKinds = func() map[Category]CategoryKind {
	out := make(map[Category]CategoryKind, len(bodyParts)+len(wellnessTypes))
	for _, c := range bodyParts {
		out[c] = KindBodyPart
	}
	for _, c := range wellnessTypes {
		out[c] = KindWellness
	}
	return out
}()

// ParseCategory validates raw against the closed set.
func ParseCategory(raw string) (Category, error) {
	c := Category(raw)
	if _, ok := categoryKinds[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
	return c, nil
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	_, ok := categoryKinds[c]
	return ok
}

// Kind returns the category kind, or "" for unknown categories.
func (c Category) Kind() CategoryKind {
	return categoryKinds[c]
}

func (c Category) String() string { return string(c) }

// MarshalText implements encoding.TextMarshaler.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, string(c))
	}
	return []byte(c), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and rejects unknown tags,
// which makes a blob containing them undecodable.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Catalog supplies the closed set of categories used to enumerate metrics.
type Catalog interface {
	BodyParts() []Category
	WellnessTypes() []Category
}

type staticCatalog struct{}

// DefaultCatalog is the built-in catalog of body parts and wellness types.
var DefaultCatalog Catalog = staticCatalog{}

func (staticCatalog) BodyParts() []Category {
	out := make([]Category, len(bodyParts))
	copy(out, bodyParts)
	return out
}

func (staticCatalog) WellnessTypes() []Category {
	out := make([]Category, len(wellnessTypes))
	copy(out, wellnessTypes)
	return out
}

// AllCategories returns body parts followed by wellness types.
func AllCategories(catalog Catalog) []Category {
	return append(catalog.BodyParts(), catalog.WellnessTypes()...)
}
