package courier

// Status is the unified shipment status across all couriers.
// Every courier-specific status code must map to exactly one member.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPickedUp       Status = "picked_up"
	StatusInTransit      Status = "in_transit"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusDeliveryFailed Status = "delivery_failed"
	StatusCancelled      Status = "cancelled"
	StatusReturned       Status = "returned"
	StatusException      Status = "exception"
)

// Statuses lists every unified status.
var Statuses = []Status{
	StatusPending,
	StatusPickedUp,
	StatusInTransit,
	StatusOutForDelivery,
	StatusDelivered,
	StatusDeliveryFailed,
	StatusCancelled,
	StatusReturned,
	StatusException,
}

// IsTerminal reports whether no further updates are expected for this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// IsProblematic reports whether this status indicates a delivery problem.
func (s Status) IsProblematic() bool {
	switch s {
	case StatusDeliveryFailed, StatusException:
		return true
	}
	return false
}

// Label returns a human-readable label for the status.
func (s Status) Label() string {
	switch s {
	case StatusPending:
		return "Pending Pickup"
	case StatusPickedUp:
		return "Picked Up"
	case StatusInTransit:
		return "In Transit"
	case StatusOutForDelivery:
		return "Out for Delivery"
	case StatusDelivered:
		return "Delivered"
	case StatusDeliveryFailed:
		return "Delivery Failed"
	case StatusCancelled:
		return "Cancelled"
	case StatusReturned:
		return "Returned to Sender"
	default:
		return "Exception"
	}
}
