package domain

import "errors"

// Error taxonomy shared by the managers. Recoverable conditions
// (ErrRoomFull, ErrDuplicateResult) are absorbed by the caller and must not
// interrupt a running room or tournament; structural conditions are surfaced
// as a rejection of the originating request.
var (
	ErrRoomFull           = errors.New("room is full")
	ErrRoomNotFound       = errors.New("room not found")
	ErrTournamentNotFound = errors.New("tournament not found")
	ErrMatchNotFound      = errors.New("match not found")
	ErrDuplicateResult    = errors.New("match result already recorded")
	ErrInvalidPlayerCount = errors.New("invalid tournament player count")
	ErrUnauthorizedScore  = errors.New("score event from non-authoritative participant")
	ErrUnauthorizedResult = errors.New("result from a non-participant")
	ErrMatchNotReady      = errors.New("match is not fully seated")
	ErrMalformedState     = errors.New("malformed game state")
	ErrTransportSend      = errors.New("transport send failure")
)
