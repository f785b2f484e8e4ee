// Package relay maps the managers' "send to room" / "send to player"
// operations onto the transport. Events travel through the bus so every
// producer shares one path; the relay's wildcard subscriptions fan them out
// to the websocket connections registered for each room.
package relay

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/bus"
	"github.com/ernie/paddle-arena/internal/domain"
)

const (
	reliableRetries = 3
	retryBackoff    = 25 * time.Millisecond

	// outboxSize bounds the per-participant delivery queue. A participant
	// this far behind on control traffic is effectively dead.
	outboxSize = 64
)

// Sender is one participant's transport sink, implemented by the websocket
// client wrapper.
type Sender interface {
	// SendUnreliable enqueues without blocking and may drop the message.
	SendUnreliable(data []byte)
	// SendReliable blocks until written or failed.
	SendReliable(data []byte) error
}

// LeaveFunc is invoked when the transport reports a participant gone.
type LeaveFunc func(roomID, participantID string)

// delivery is one queued message for a participant.
type delivery struct {
	data     []byte
	reliable bool
	subject  string
}

// outbox serializes one participant's deliveries on its own goroutine so a
// stalled connection only ever backs up its own queue, never the shared bus
// subscription.
type outbox struct {
	sink Sender
	ch   chan delivery
	done chan struct{}
}

// Relay is the room-channel facade.
type Relay struct {
	bus *bus.Bus
	log *zap.Logger

	mu           sync.RWMutex
	participants map[string]*outbox             // participantID -> delivery queue
	rooms        map[string]map[string]struct{} // roomID -> member ids
	onLeave      []LeaveFunc
}

// New creates the relay and installs its bus subscriptions.
func New(b *bus.Bus, log *zap.Logger) (*Relay, error) {
	r := &Relay{
		bus:          b,
		log:          log,
		participants: make(map[string]*outbox),
		rooms:        make(map[string]map[string]struct{}),
	}

	if _, err := b.Subscribe("room.*.*", r.forwardRoom); err != nil {
		return nil, fmt.Errorf("installing room subscription: %w", err)
	}
	if _, err := b.Subscribe("player.*.*", r.forwardPlayer); err != nil {
		return nil, fmt.Errorf("installing player subscription: %w", err)
	}
	return r, nil
}

// OnLeave registers a disconnect callback. Managers use this to reassign
// authority and clean up slots.
func (r *Relay) OnLeave(fn LeaveFunc) {
	r.mu.Lock()
	r.onLeave = append(r.onLeave, fn)
	r.mu.Unlock()
}

// Register attaches a participant's transport sink and starts its delivery
// loop. Must precede Join. Re-registering replaces the previous sink.
func (r *Relay) Register(participantID string, s Sender) {
	o := &outbox{
		sink: s,
		ch:   make(chan delivery, outboxSize),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	if old, ok := r.participants[participantID]; ok {
		close(old.done)
	}
	r.participants[participantID] = o
	r.mu.Unlock()
	go r.drain(o)
}

// drain runs one participant's delivery loop until Disconnect.
func (r *Relay) drain(o *outbox) {
	for {
		select {
		case d := <-o.ch:
			r.deliver(o.sink, d.data, d.reliable, d.subject)
		case <-o.done:
			return
		}
	}
}

// Join adds the participant to a room's delivery set.
func (r *Relay) Join(roomID, participantID string) {
	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[participantID] = struct{}{}
	r.mu.Unlock()
}

// Leave removes the participant from one room and fires the registered
// disconnect callbacks.
func (r *Relay) Leave(roomID, participantID string) {
	r.mu.Lock()
	if members, ok := r.rooms[roomID]; ok {
		delete(members, participantID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	callbacks := append([]LeaveFunc(nil), r.onLeave...)
	r.mu.Unlock()

	for _, fn := range callbacks {
		fn(roomID, participantID)
	}
}

// Disconnect drops the participant entirely: every room membership is
// released and the sink forgotten. Called by the transport on socket close.
func (r *Relay) Disconnect(participantID string) {
	r.mu.Lock()
	var left []string
	for roomID, members := range r.rooms {
		if _, ok := members[participantID]; ok {
			delete(members, participantID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
			left = append(left, roomID)
		}
	}
	if o, ok := r.participants[participantID]; ok {
		close(o.done)
		delete(r.participants, participantID)
	}
	callbacks := append([]LeaveFunc(nil), r.onLeave...)
	r.mu.Unlock()

	for _, roomID := range left {
		for _, fn := range callbacks {
			fn(roomID, participantID)
		}
	}
}

// Broadcast publishes an event to everyone in a room. State snapshots go
// best-effort; control events go reliable.
func (r *Relay) Broadcast(roomID string, ev domain.Event, reliable bool) error {
	ev.RoomID = roomID
	subject := bus.RoomState(roomID)
	if reliable {
		subject = bus.RoomControl(roomID)
	}
	return r.bus.Publish(subject, ev)
}

// SendToParticipant publishes an event addressed to a single participant.
func (r *Relay) SendToParticipant(participantID string, ev domain.Event, reliable bool) error {
	// Targeted state delivery is unused today, but the facade keeps both
	// classes symmetrical with Broadcast.
	subject := bus.PlayerControl(participantID)
	if !reliable {
		subject = "player." + participantID + ".state"
	}
	return r.bus.Publish(subject, ev)
}

// forwardRoom fans a room-subject message out to the room's members.
func (r *Relay) forwardRoom(subject string, data []byte) {
	roomID := bus.SubjectRoomID(subject)
	reliable := bus.SubjectReliable(subject)

	r.mu.RLock()
	boxes := make([]*outbox, 0, 4)
	for id := range r.rooms[roomID] {
		if o, ok := r.participants[id]; ok {
			boxes = append(boxes, o)
		}
	}
	r.mu.RUnlock()

	for _, o := range boxes {
		r.enqueue(o, delivery{data: data, reliable: reliable, subject: subject})
	}
}

// forwardPlayer delivers a targeted message to one participant.
func (r *Relay) forwardPlayer(subject string, data []byte) {
	participantID := bus.SubjectRoomID(subject)

	r.mu.RLock()
	o, ok := r.participants[participantID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.enqueue(o, delivery{data: data, reliable: bus.SubjectReliable(subject), subject: subject})
}

// enqueue hands a delivery to the participant's loop without ever blocking
// the shared bus goroutine. A full queue drops the message; for control
// traffic the drop is surfaced in the log.
func (r *Relay) enqueue(o *outbox, d delivery) {
	select {
	case o.ch <- d:
	case <-o.done:
	default:
		if d.reliable {
			r.log.Error("delivery queue overflow",
				zap.String("subject", d.subject),
				zap.Error(domain.ErrTransportSend))
		}
	}
}

// deliver drops and continues for best-effort traffic; control traffic is
// retried and the failure surfaced in the log if every attempt fails.
func (r *Relay) deliver(s Sender, data []byte, reliable bool, subject string) {
	if !reliable {
		s.SendUnreliable(data)
		return
	}
	var err error
	for attempt := 0; attempt < reliableRetries; attempt++ {
		if err = s.SendReliable(data); err == nil {
			return
		}
		time.Sleep(retryBackoff)
	}
	r.log.Error("reliable delivery failed",
		zap.String("subject", subject),
		zap.NamedError("cause", err),
		zap.Error(domain.ErrTransportSend))
}

// Members returns a snapshot of a room's delivery set, for diagnostics.
func (r *Relay) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		out = append(out, id)
	}
	return out
}
