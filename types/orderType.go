package types

type Side string

type Direction string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"

	DirectionOpen  Direction = "OPEN"
	DirectionClose Direction = "CLOSE"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

// DirectionFromQuantity maps the sign of an order quantity to its direction.
// Positive quantities open, negative quantities close.
func DirectionFromQuantity(sign int) Direction {
	if sign > 0 {
		return DirectionOpen
	}
	return DirectionClose
}
