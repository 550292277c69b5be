package orders

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusOnTheWay   Status = "ON_THE_WAY"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

// fulfilment order of the forward-only happy path
var rank = map[Status]int{
	StatusPending:    0,
	StatusProcessing: 1,
	StatusShipped:    2,
	StatusOnTheWay:   3,
	StatusDelivered:  4,
}

func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok || s == StatusCancelled
}

// Terminal statuses accept no further transition.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// Cancellable reports whether the compensation path may run from s.
func (s Status) Cancellable() bool {
	return s.Valid() && !s.Terminal()
}

// CanTransition covers the administrative status-update path only.
// CANCELLED is never a valid target here; it is reached through Cancel.
// Skipping ahead is allowed, moving backwards or staying put is not.
func CanTransition(from, to Status) bool {
	if from.Terminal() || to == StatusCancelled {
		return false
	}
	f, ok := rank[from]
	if !ok {
		return false
	}
	t, ok := rank[to]
	if !ok {
		return false
	}
	return t > f
}
