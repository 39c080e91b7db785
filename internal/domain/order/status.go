package order

import "fmt"

// Status is the closed set of order lifecycle states. The zero value is not a
// valid status, so an unset field can never pass as one.
type Status uint8

const (
	StatusApproved Status = iota + 1
	StatusCancelled
	StatusDone
	StatusDraft
)

var allStatuses = []Status{StatusApproved, StatusCancelled, StatusDone, StatusDraft}

// Statuses returns every valid status in declaration order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus matches the canonical upper-case name exactly.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "APPROVED":
		return StatusApproved, nil
	case "CANCELLED":
		return StatusCancelled, nil
	case "DONE":
		return StatusDone, nil
	case "DRAFT":
		return StatusDraft, nil
	default:
		return 0, fmt.Errorf("unknown status %q", raw)
	}
}

func (s Status) String() string {
	switch s {
	case StatusApproved:
		return "APPROVED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusDone:
		return "DONE"
	case StatusDraft:
		return "DRAFT"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

func (s Status) Valid() bool {
	return s >= StatusApproved && s <= StatusDraft
}
