package model

// transitions is the state machine of an item, keyed by the current state.
// PUBLISHED has no outgoing edge; FAILED_* only go back to PENDING through a
// requeue.
var transitions = map[Status][]Status{
	StatusPending: {StatusProcessing},
	StatusProcessing: {
		StatusSkippedDuplicate,
		StatusFailedSanity,
		StatusPublished,
		StatusFailedCrawl,
		StatusFailedAI,
		StatusFailedWP,
	},
	StatusFailedCrawl:  {StatusPending},
	StatusFailedAI:     {StatusPending},
	StatusFailedSanity: {StatusPending},
	StatusFailedWP:     {StatusPending},
}

// CanTransition reports whether an item may move from one state to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
