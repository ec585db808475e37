package entities

import "time"

// Product is the write-side aggregate commands operate against; the
// perspective-side ProductModel is its separately-materialized read model.
type Product struct {
	ProductID   string
	Name        string
	Description string
	Price       float64
	ImageURL    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p Product) ValidateBasics() bool {
	return p.Name != "" && p.Price >= 0
}
