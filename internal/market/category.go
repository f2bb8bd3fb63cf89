package market

import "fmt"

// Category partitions items for market browsing.
type Category string

const (
	Profile Category = "profile"
	Gotchi  Category = "gotchi"
	Misc    Category = "misc"
	Land    Category = "land"
)

// Categories lists every known category.
var Categories = []Category{Profile, Gotchi, Misc, Land}

// ParseCategory returns the category named s.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string {
	return string(c)
}
