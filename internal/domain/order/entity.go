package order

import (
	"cloud.google.com/go/civil"
)

// Entity is the persistence shape of an order.
type Entity struct {
	ID            int64
	Name          string
	Description   *string
	EffectiveDate *civil.Date
	Status        Status
}

// ToEntity projects a validated event onto the persistence shape.
//
// The effective timestamp collapses to the calendar date in the offset the
// event was sent with, not the UTC date: 2025-07-25T10:00:00+12:00 becomes
// 2025-07-25 even though the instant is 2025-07-24 in UTC. The projection is
// lossy and the rule must stay fixed, otherwise redelivered events would flip
// between two dates and produce spurious updates.
func ToEntity(evt Event) Entity {
	out := Entity{
		ID:          evt.ID,
		Name:        evt.Name,
		Description: evt.Description,
		Status:      evt.Status,
	}
	if evt.EffectiveAt != nil {
		d := civil.DateOf(*evt.EffectiveAt)
		out.EffectiveDate = &d
	}
	return out
}

// Equivalent reports whether two entities agree on every business field.
// The identifier is not compared.
func (e Entity) Equivalent(other Entity) bool {
	return e.Name == other.Name &&
		equalPtr(e.Description, other.Description) &&
		equalPtr(e.EffectiveDate, other.EffectiveDate) &&
		e.Status == other.Status
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
