package sync

import "errors"

var (
	// ErrInvalidPeer indicates an empty peer ID or a missing acknowledgement clock.
	ErrInvalidPeer = errors.New("invalid peer acknowledgement")
	// ErrDuplicateCompactor indicates a compactor name is already registered.
	ErrDuplicateCompactor = errors.New("compactor already registered")
)
