package catalog

import "errors"

var (
	// ErrUnknownItem is returned when an item has no usable rarity data.
	ErrUnknownItem = errors.New("unknown item")
	// ErrInvalidPlayer is returned for player ids that are not snowflakes.
	ErrInvalidPlayer = errors.New("invalid player id")
)
