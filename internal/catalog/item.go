// Package catalog loads the product list and answers search queries over it.
package catalog

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrItemNotFound is returned by Get for unknown ids.
var ErrItemNotFound = errors.New("catalog: item not found")

// Item is one product as exported from the store's catalog feed.
type Item struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	PriceRaw  string   `json:"price_raw,omitempty" yaml:"price_raw,omitempty"`
	Price     *float64 `json:"price,omitempty" yaml:"price,omitempty"`
	Image     string   `json:"image,omitempty" yaml:"image,omitempty"`
	URL       string   `json:"url,omitempty" yaml:"url,omitempty"`
	Category  string   `json:"category,omitempty" yaml:"category,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

var rawPricePattern = regexp.MustCompile(`\$\s?([0-9]{1,3}(?:\.[0-9]{3})+|[0-9]{4,})`)

// PriceARS returns the numeric price, falling back to parsing the raw label
// ("$ 1.299.999"). ok is false when no positive price is known.
func (it Item) PriceARS() (float64, bool) {
	if it.Price != nil && *it.Price > 0 {
		return *it.Price, true
	}
	m := rawPricePattern.FindStringSubmatch(it.PriceRaw)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ".", ""), 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
