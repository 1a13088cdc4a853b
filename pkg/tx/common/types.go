package common

// TxState is a phase of the checkout transaction state machine.
type TxState string

const (
	TxNotStarted   TxState = "NOT_STARTED"
	TxReadingStock TxState = "READING_STOCK"
	TxValidating   TxState = "VALIDATING"
	TxWriting      TxState = "WRITING"
	TxCommitted    TxState = "COMMITTED"
	TxAborted      TxState = "ABORTED"
)

// Terminal reports whether no further transition is allowed.
func (s TxState) Terminal() bool {
	return s == TxCommitted || s == TxAborted
}

var transitions = map[TxState][]TxState{
	// Committed straight from NotStarted is an idempotent replay.
	TxNotStarted:   {TxReadingStock, TxCommitted, TxAborted},
	TxReadingStock: {TxValidating, TxReadingStock, TxAborted},
	TxValidating:   {TxWriting, TxReadingStock, TxAborted},
	TxWriting:      {TxCommitted, TxReadingStock, TxAborted},
}

// CanTransition reports whether from -> to is a legal edge. A retry after a
// write conflict re-enters ReadingStock from any non-terminal phase.
func CanTransition(from, to TxState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type CorrelationID string
