package enums

import (
	"fmt"
	"strings"
)

// ProductType identifies what a payment buys.
type ProductType string

const (
	ProductTypePlan   ProductType = "PLAN"
	ProductTypeCourse ProductType = "COURSE"
)

var validProductTypes = []ProductType{
	ProductTypePlan,
	ProductTypeCourse,
}

// String implements fmt.Stringer.
func (p ProductType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p ProductType) IsValid() bool {
	for _, candidate := range validProductTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParseProductType converts raw input into a ProductType.
func ParseProductType(value string) (ProductType, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validProductTypes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid product type %q", value)
}
