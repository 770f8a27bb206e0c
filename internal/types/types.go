// Package types holds the small value objects shared across modules.
package types

// ID is an opaque entity identifier.
type ID string

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Money is an integer amount in the smallest practical unit of the currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}
