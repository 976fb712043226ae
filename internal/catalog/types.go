package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Product is one validated catalog record. Rows are insert-once: the store
// never updates or deletes them.
type Product struct {
	ID          int64     `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Price       float64   `db:"price" json:"price"`
	Category    string    `db:"category" json:"category"`
	Description string    `db:"description" json:"description"`
	InsertedAt  time.Time `db:"inserted_at" json:"inserted_at"`
}

const minTitleLength = 3

// rawProduct mirrors one entry of the API payload with every field optional,
// so missing keys can be told apart from zero values.
type rawProduct struct {
	ID          *json.Number `json:"id"`
	Title       *string      `json:"title"`
	Price       *json.Number `json:"price"`
	Category    *string      `json:"category"`
	Description *string      `json:"description"`
}

// validate coerces a raw record into a Product or explains why it is dropped.
func (r rawProduct) validate(now time.Time) (Product, error) {
	if r.ID == nil || r.Title == nil || r.Price == nil || r.Category == nil || r.Description == nil {
		return Product{}, fmt.Errorf("missing required field")
	}
	id, err := r.ID.Int64()
	if err != nil {
		// Some feeds serialize ids as floats.
		f, ferr := r.ID.Float64()
		if ferr != nil {
			return Product{}, fmt.Errorf("invalid id %q", r.ID.String())
		}
		id = int64(f)
	}
	price, err := r.Price.Float64()
	if err != nil {
		return Product{}, fmt.Errorf("invalid price %q", r.Price.String())
	}
	if price <= 0 {
		return Product{}, fmt.Errorf("non-positive price %v", price)
	}
	title := strings.TrimSpace(*r.Title)
	if utf8.RuneCountInString(title) < minTitleLength {
		return Product{}, fmt.Errorf("title %q too short", title)
	}
	return Product{
		ID:          id,
		Title:       title,
		Price:       price,
		Category:    strings.TrimSpace(*r.Category),
		Description: strings.TrimSpace(*r.Description),
		InsertedAt:  now,
	}, nil
}
