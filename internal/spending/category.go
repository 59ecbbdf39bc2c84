package spending

import (
	"fmt"
	"strings"
)

// Category is the closed set of expense categories a receipt can belong to.
// The zero value is not a valid category.
type Category uint8

const (
	Food Category = iota + 1
	Gas
	Travel
	Other
)

// Categories lists every valid category in canonical display order.
var Categories = [...]Category{Food, Gas, Travel, Other}

var categoryNames = [...]string{
	Food:   "FOOD",
	Gas:    "GAS",
	Travel: "TRAVEL",
	Other:  "OTHER",
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	return c >= Food && c <= Other
}

func (c Category) index() int {
	return int(c - Food)
}

func (c Category) String() string {
	if !c.Valid() {
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
	return categoryNames[c]
}

// ParseCategory converts the text form (FOOD, GAS, TRAVEL, OTHER) into a Category.
// Matching is case-insensitive; anything else is rejected.
func ParseCategory(s string) (Category, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, c := range Categories {
		if categoryNames[c] == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return []byte(categoryNames[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
