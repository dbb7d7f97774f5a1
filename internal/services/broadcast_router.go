package services

import (
	"github.com/AnshRaj112/circles-backend/internal/metrics"
	"github.com/AnshRaj112/circles-backend/pkg/log"
)

// BroadcastRouter renders events once and hands the frame to every target connection.
// Delivery is at-most-once: offline users get nothing and a failing connection
// does not affect the others.
type BroadcastRouter struct {
	registry *ConnectionRegistry
	metrics  *metrics.Metrics
}

func NewBroadcastRouter(registry *ConnectionRegistry, m *metrics.Metrics) *BroadcastRouter {
	return &BroadcastRouter{registry: registry, metrics: m}
}

// EmitToUser delivers ev to every live connection of userID and returns how many accepted it.
func (b *BroadcastRouter) EmitToUser(userID string, ev Event) int {
	return b.EmitToUsers(ev, userID)
}

// EmitToUsers delivers ev once to each live connection of the listed users.
func (b *BroadcastRouter) EmitToUsers(ev Event, userIDs ...string) int {
	frame, ok := b.encode(ev)
	if !ok {
		return 0
	}
	var n int
	b.registry.Dispatch(func(conns []Conn) {
		if len(conns) == 0 {
			b.metrics.EventDropped(ev.Name, "offline")
			return
		}
		n = b.deliver(conns, ev.Name, frame)
	}, userIDs...)
	return n
}

// EmitToAll delivers ev to every open connection, identified or not.
func (b *BroadcastRouter) EmitToAll(ev Event) int {
	frame, ok := b.encode(ev)
	if !ok {
		return 0
	}
	var n int
	b.registry.DispatchAll(func(conns []Conn) {
		n = b.deliver(conns, ev.Name, frame)
	})
	return n
}

// EmitToConn delivers ev to a single connection.
func (b *BroadcastRouter) EmitToConn(c Conn, ev Event) bool {
	frame, ok := b.encode(ev)
	if !ok {
		return false
	}
	return b.deliver([]Conn{c}, ev.Name, frame) == 1
}

// Announce delivers ev to conns. It is meant for registry callbacks that already hold the lock.
func (b *BroadcastRouter) Announce(conns []Conn, ev Event) int {
	frame, ok := b.encode(ev)
	if !ok {
		return 0
	}
	return b.deliver(conns, ev.Name, frame)
}

func (b *BroadcastRouter) encode(ev Event) ([]byte, bool) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldEvent, ev.Name).Msg("encode event failed")
		b.metrics.EventDropped(ev.Name, "encode")
		return nil, false
	}
	return frame, true
}

func (b *BroadcastRouter) deliver(conns []Conn, name string, frame []byte) int {
	var n int
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			log.L().Warn().Err(err).Str(log.FieldConnID, c.ID()).Str(log.FieldEvent, name).Msg("event not delivered")
			b.metrics.EventDropped(name, "send")
			continue
		}
		n++
	}
	return n
}
