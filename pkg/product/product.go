// Package product defines the catalog product record returned by the
// product lookup endpoint.
package product

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Validation errors for decoded products.
var (
	// ErrInvalidID is returned when the product identifier is not positive.
	ErrInvalidID = errors.New("product id must be positive")

	// ErrNegativePrice is returned when the price is below zero.
	ErrNegativePrice = errors.New("product price must not be negative")

	// ErrRatingOutOfRange is returned when the rating is outside [0, 5].
	ErrRatingOutOfRange = errors.New("product rating must be between 0 and 5")

	// ErrMissingField is returned by Decode when a schema field is absent or null.
	ErrMissingField = errors.New("product field missing")
)

// Fields lists the JSON fields every product body must carry.
var Fields = []string{"id", "title", "description", "category", "price", "rating", "brand", "thumbnail"}

// MaxRating is the upper bound of the rating scale.
const MaxRating = 5.0

// Product is a single catalog entry. Values are never mutated after decoding.
type Product struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Rating      float64         `json:"rating"`
	Brand       string          `json:"brand"`
	Thumbnail   string          `json:"thumbnail"`
}

// Validate rejects decoded products with values the catalog never serves.
func (p Product) Validate() error {
	if p.ID <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidID, p.ID)
	}
	if p.Price.IsNegative() {
		return fmt.Errorf("%w (got %s)", ErrNegativePrice, p.Price.String())
	}
	if p.Rating < 0 || p.Rating > MaxRating {
		return fmt.Errorf("%w (got %g)", ErrRatingOutOfRange, p.Rating)
	}
	return nil
}

// Decode parses a product body. Every field in Fields must be present and
// non-null; fields outside the schema are ignored. The result is validated.
func Decode(data []byte) (Product, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Product{}, err
	}
	for _, name := range Fields {
		v, ok := raw[name]
		if !ok || string(v) == "null" {
			return Product{}, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}

	var p Product
	if err := json.Unmarshal(data, &p); err != nil {
		return Product{}, err
	}
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// MarshalJSON encodes the price as a JSON number, matching the catalog.
func (p Product) MarshalJSON() ([]byte, error) {
	type plain Product
	return json.Marshal(struct {
		plain
		Price json.RawMessage `json:"price"`
	}{
		plain: plain(p),
		Price: json.RawMessage(p.Price.String()),
	})
}

// ByID orders products by ascending identifier. It is suitable for
// slices.SortFunc and slices.BinarySearchFunc.
func ByID(a, b Product) int {
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}
