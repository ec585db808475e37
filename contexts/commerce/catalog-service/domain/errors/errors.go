package errors

import "errors"

var (
	ErrInvalidProductInput = errors.New("invalid product input")
	ErrProductNotFound     = errors.New("product not found")
	ErrNegativeStock       = errors.New("stock quantity cannot be negative")
)
