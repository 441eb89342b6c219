package domain

import "time"

// Product is the slice of the catalog's product row this service reads and writes.
type Product struct {
	ID        int64
	Title     string
	Price     int64
	Stock     int
	Unit      string
	WeightKg  float64
	UpdatedAt time.Time
}
