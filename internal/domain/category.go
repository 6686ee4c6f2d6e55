// Package domain defines the biometric record, bucket and summary types shared by the aggregation engine.
package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Category identifies a biometric record stream.
type Category string

const (
	CategorySteps     Category = "steps"
	CategoryHydration Category = "hydration"
	CategorySleep     Category = "sleep"
	CategoryExercise  Category = "exercise"
	CategoryHeartRate Category = "heart_rate"
)

// AllCategories lists every category in display order.
var AllCategories = []Category{
	CategorySteps,
	CategoryHydration,
	CategorySleep,
	CategoryExercise,
	CategoryHeartRate,
}

// Shape describes how records of a category are attributed to buckets.
type Shape int

const (
	ShapePoint Shape = iota
	ShapeInterval
	ShapeSample
)

func (s Shape) String() string {
	switch s {
	case ShapePoint:
		return "point"
	case ShapeInterval:
		return "interval"
	case ShapeSample:
		return "sample"
	default:
		return fmt.Sprintf("shape(%d)", int(s))
	}
}

// Shape returns the record shape carried by the category.
func (c Category) Shape() Shape {
	switch c {
	case CategorySleep, CategoryExercise:
		return ShapeInterval
	case CategoryHeartRate:
		return ShapeSample
	default:
		return ShapePoint
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalises and validates a category name.
func ParseCategory(raw string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	if c == "heartrate" || c == "heart-rate" {
		c = CategoryHeartRate
	}
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
	return c, nil
}

// CategorySet is an unordered set of categories.
type CategorySet map[Category]struct{}

// NewCategorySet builds a set from the provided categories.
func NewCategorySet(categories ...Category) CategorySet {
	set := make(CategorySet, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}
	return set
}

// Has reports whether c is in the set.
func (s CategorySet) Has(c Category) bool {
	_, ok := s[c]
	return ok
}

// Sorted returns the members in AllCategories order.
func (s CategorySet) Sorted() []Category {
	out := make([]Category, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	order := make(map[Category]int, len(AllCategories))
	for i, c := range AllCategories {
		order[c] = i
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}
