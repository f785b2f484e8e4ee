// Package bus is the in-process event dispatcher. Managers publish typed
// domain events to per-room and per-player subjects; the relay subscribes
// and forwards them to connected clients. It runs an embedded NATS server
// with networking disabled, so events never leave the process.
package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ernie/paddle-arena/internal/domain"
)

const readyTimeout = 5 * time.Second

// Subject helpers. The last token is the delivery class: state snapshots
// ride "state" (best-effort at the transport edge), everything else rides
// "ctrl" (reliable). Player subjects carry targeted control events;
// tournament match notifications in particular are never broadcast.
func RoomState(roomID string) string            { return "room." + roomID + ".state" }
func RoomControl(roomID string) string          { return "room." + roomID + ".ctrl" }
func PlayerControl(participantID string) string { return "player." + participantID + ".ctrl" }

// SubjectRoomID extracts the room or participant id from a subject built by
// the helpers above.
func SubjectRoomID(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}

// SubjectReliable reports whether a subject names the reliable class.
func SubjectReliable(subject string) bool {
	return strings.HasSuffix(subject, ".ctrl")
}

// Bus wraps the embedded server and its single in-process connection.
type Bus struct {
	srv *server.Server
	nc  *nats.Conn
	log *zap.Logger
}

// New starts the embedded server and connects to it in-process.
func New(log *zap.Logger) (*Bus, error) {
	srv, err := server.NewServer(&server.Options{
		ServerName: "paddle-arena-bus",
		DontListen: true, // in-process connections only
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedded nats server: %w", err)
	}
	go srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded nats server not ready after %v", readyTimeout)
	}

	nc, err := nats.Connect("", nats.InProcessServer(srv))
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting to embedded nats server: %w", err)
	}

	return &Bus{srv: srv, nc: nc, log: log}, nil
}

// Publish serializes the event and publishes it on subject. Publishing is
// fire-and-forget; reliability decisions happen at the transport edge.
func (b *Bus) Publish(subject string, ev domain.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", ev.Type, err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers the raw serialized events for subject (wildcards
// allowed) to fn on the subscription's own goroutine. The concrete subject
// is passed along so wildcard subscribers can recover the room id.
func (b *Bus) Subscribe(subject string, fn func(subject string, data []byte)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	return sub, nil
}

// SubscribeEvents is Subscribe with envelope decoding for consumers that
// want the typed wrapper rather than raw bytes.
func (b *Bus) SubscribeEvents(subject string, fn func(ev domain.Event)) (*nats.Subscription, error) {
	return b.Subscribe(subject, func(_ string, data []byte) {
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			b.log.Warn("dropping undecodable bus event",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		fn(ev)
	})
}

// Close drains the connection and shuts the embedded server down.
func (b *Bus) Close() {
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
	if b.srv != nil {
		b.srv.Shutdown()
		b.srv.WaitForShutdown()
	}
}
