package order

import "fmt"

// Outcome is the result of reconciling one entity against the store.
type Outcome uint8

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeUpdated
	OutcomeUnchanged
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "INSERTED"
	case OutcomeUpdated:
		return "UPDATED"
	case OutcomeUnchanged:
		return "UNCHANGED"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Wrote reports whether the outcome issued a store mutation.
func (o Outcome) Wrote() bool {
	return o == OutcomeInserted || o == OutcomeUpdated
}
