package ledger

import "errors"

var (
	ErrConnectorBusy      = errors.New("connector busy")
	ErrUnknownTag         = errors.New("unknown tag")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNonMonotonicEnergy = errors.New("non-monotonic energy")
	ErrAlreadyFinalized   = errors.New("session already finalized")
	ErrConflictingStop    = errors.New("conflicting stop")
	ErrExternalTimeout    = errors.New("external timeout")
	ErrUnknownSession     = errors.New("unknown session")
)
