package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusCompleted Status = "completed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPending: true, StatusPreparing: true},
	StatusPreparing: {StatusPreparing: true, StatusCompleted: true},
	StatusCompleted: {StatusCompleted: true},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// CanTransition reports whether from -> to follows the kitchen flow
// pending -> preparing -> completed. Rewriting the current status is allowed.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
