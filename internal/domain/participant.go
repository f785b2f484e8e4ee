package domain

import "time"

// Participant is a connected client identity as seen by the managers.
// The transport layer supplies the ID; Name is display-only.
type Participant struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Slot is an occupied player slot inside a room. Ordinal is 1 or 2.
type Slot struct {
	Ordinal       int         `json:"ordinal"`
	Participant   Participant `json:"participant"`
	Authoritative bool        `json:"authoritative"`
	NPC           bool        `json:"npc"`
}
