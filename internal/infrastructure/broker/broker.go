package broker

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/intervo/stream-gateway/internal/infrastructure/logging"
	"github.com/intervo/stream-gateway/internal/infrastructure/metrics"
)

// Connection is the broker's view of a room member. The broker holds a
// non-owning reference; the connection's session owns the socket itself.
type Connection interface {
	ID() string
	SetID(id string)
	IsOpen() bool
	WriteText(data []byte) error
}

// EventBus propagates room events to every gateway instance.
type EventBus interface {
	Publish(ctx context.Context, channel string, body []byte) error
	Subscribe(channel string, fn func(body []byte)) error
}

// MembershipDirectory records which connection IDs belong to which room key
// across all instances. Advisory state only: local delivery never reads it.
type MembershipDirectory interface {
	AddMember(ctx context.Context, roomKey, connectionID string) error
	RemoveMember(ctx context.Context, roomKey, connectionID string) error
	Members(ctx context.Context, roomKey string) ([]string, error)
}

// room keeps its members as an ordered slice so broadcasts deliver in
// insertion order.
type room struct {
	members []Connection
}

func (r *room) indexOf(conn Connection) int {
	for i, m := range r.members {
		if m == conn {
			return i
		}
	}
	return -1
}

type BroadcastOptions struct {
	// Exclude suppresses delivery to one member, typically the sender.
	Exclude Connection
}

// Broker presents one logical room abstraction per process. Local membership
// is authoritative for local delivery; the event bus and directory extend the
// room across instances on a best-effort basis. Both collaborators are
// optional: with neither configured the broker degrades to single-instance
// behavior.
type Broker struct {
	instanceID string
	bus        EventBus
	directory  MembershipDirectory
	logger     logging.Logger

	mu    sync.Mutex
	rooms map[string]*room
}

type Options struct {
	InstanceID string // generated when empty
	Bus        EventBus
	Directory  MembershipDirectory
	Logger     logging.Logger
}

func New(opts Options) *Broker {
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	return &Broker{
		instanceID: opts.InstanceID,
		bus:        opts.Bus,
		directory:  opts.Directory,
		logger:     opts.Logger,
		rooms:      make(map[string]*room),
	}
}

func (b *Broker) InstanceID() string {
	return b.instanceID
}

// Subscribe wires the broker's inbound handler to the shared channel.
func (b *Broker) Subscribe() error {
	if b.bus == nil {
		return nil
	}
	return b.bus.Subscribe(Channel, b.HandleEvent)
}

// Join registers conn in the room for roomKey, creating the room on first
// join, and announces the membership change. Missing arguments no-op: the
// guard is deliberately permissive, not a validation layer.
func (b *Broker) Join(ctx context.Context, roomKey string, conn Connection) {
	if roomKey == "" || conn == nil {
		return
	}

	if conn.ID() == "" {
		conn.SetID(uuid.NewString())
	}

	b.mu.Lock()
	rm, ok := b.rooms[roomKey]
	if !ok {
		rm = &room{}
		b.rooms[roomKey] = rm
		metrics.RoomsOpen.Inc()
	}
	if rm.indexOf(conn) == -1 {
		rm.members = append(rm.members, conn)
		metrics.LocalConnections.Inc()
	}
	b.mu.Unlock()

	b.announceMembership(ctx, EventJoin, roomKey, conn.ID())
}

// Leave removes conn from the room and deletes the room entry the moment its
// local member set is empty. Unknown rooms and connections no-op.
func (b *Broker) Leave(ctx context.Context, roomKey string, conn Connection) {
	if roomKey == "" || conn == nil {
		return
	}

	b.mu.Lock()
	if rm, ok := b.rooms[roomKey]; ok {
		if i := rm.indexOf(conn); i != -1 {
			rm.members = append(rm.members[:i], rm.members[i+1:]...)
			metrics.LocalConnections.Dec()
		}
		if len(rm.members) == 0 {
			delete(b.rooms, roomKey)
			metrics.RoomsOpen.Dec()
		}
	}
	b.mu.Unlock()

	// A connection that never joined has no ID and nothing to announce.
	if conn.ID() != "" {
		b.announceMembership(ctx, EventLeave, roomKey, conn.ID())
	}
}

// BroadcastLocal delivers payload synchronously to every open member of the
// room, in insertion order, skipping exclude when supplied.
func (b *Broker) BroadcastLocal(roomKey string, payload any, exclude Connection) {
	data, err := encodePayload(payload)
	if err != nil {
		b.logger.Warn(logging.RoomBroker, logging.Broadcast, "failed to encode payload", map[logging.ExtraKey]any{
			logging.RoomKey:      roomKey,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	b.mu.Lock()
	rm, ok := b.rooms[roomKey]
	if !ok {
		b.mu.Unlock()
		return
	}
	members := make([]Connection, len(rm.members))
	copy(members, rm.members)
	b.mu.Unlock()

	for _, member := range members {
		if member == exclude || !member.IsOpen() {
			continue
		}
		if err := member.WriteText(data); err != nil {
			b.logger.Warn(logging.RoomBroker, logging.Broadcast, "failed to deliver to member", map[logging.ExtraKey]any{
				logging.RoomKey:      roomKey,
				logging.ConnectionID: member.ID(),
				logging.ErrorMessage: err.Error(),
			})
			continue
		}
		metrics.BroadcastDeliveries.Inc()
	}
}

// Broadcast delivers locally and republishes on the event bus so members on
// other instances receive the payload too.
func (b *Broker) Broadcast(ctx context.Context, roomKey string, payload any, opts *BroadcastOptions) {
	var exclude Connection
	if opts != nil {
		exclude = opts.Exclude
	}

	b.BroadcastLocal(roomKey, payload, exclude)
	b.publishMessage(ctx, roomKey, payload)
}

// HandleEvent is the inbound bus handler. Events this instance published are
// discarded; without that check every broadcast would be re-delivered to its
// own local members once the bus fans it back in.
func (b *Broker) HandleEvent(raw []byte) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		b.logger.Warn(logging.RoomBroker, logging.EventBus, "failed to decode bus event", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if ev.OriginInstanceID == b.instanceID {
		metrics.SelfEchoesSuppressed.Inc()
		return
	}

	metrics.BusEventsReceived.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case EventMessage:
		if ev.RoomKey == "" {
			return
		}
		// Remote-origin messages are always new to local members. String
		// payloads travel JSON-quoted; unwrap so members receive the same
		// text the origin's local members did.
		var text string
		if json.Unmarshal(ev.Payload, &text) == nil {
			b.BroadcastLocal(ev.RoomKey, text, nil)
		} else {
			b.BroadcastLocal(ev.RoomKey, json.RawMessage(ev.Payload), nil)
		}
	case EventJoin, EventLeave:
		// Remote membership changes never mutate local rooms; each instance
		// is authoritative over its own connections.
	}
}

func (b *Broker) RoomCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms)
}

func (b *Broker) HasRoom(roomKey string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.rooms[roomKey]
	return ok
}

// Presence returns the connection IDs joined to the room across all
// instances, per the directory. Without a directory, or when it fails, the
// local member list stands in.
func (b *Broker) Presence(ctx context.Context, roomKey string) []string {
	if b.directory != nil {
		members, err := b.directory.Members(ctx, roomKey)
		if err == nil {
			return members
		}
		b.logger.Warn(logging.RoomBroker, logging.Membership, "failed to read membership directory", map[logging.ExtraKey]any{
			logging.RoomKey:      roomKey,
			logging.ErrorMessage: err.Error(),
		})
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rm, ok := b.rooms[roomKey]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.members))
	for _, m := range rm.members {
		ids = append(ids, m.ID())
	}
	return ids
}

func (b *Broker) MemberCount(roomKey string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rm, ok := b.rooms[roomKey]; ok {
		return len(rm.members)
	}
	return 0
}

// announceMembership records the change in the directory and publishes a
// membership event. Failures degrade to local-only behavior.
func (b *Broker) announceMembership(ctx context.Context, typ EventType, roomKey, connectionID string) {
	if b.directory != nil {
		var err error
		switch typ {
		case EventJoin:
			err = b.directory.AddMember(ctx, roomKey, connectionID)
		case EventLeave:
			err = b.directory.RemoveMember(ctx, roomKey, connectionID)
		}
		if err != nil {
			b.logger.Warn(logging.RoomBroker, logging.Membership, "failed to update membership directory", map[logging.ExtraKey]any{
				logging.RoomKey:      roomKey,
				logging.ConnectionID: connectionID,
				logging.ErrorMessage: err.Error(),
			})
		}
	}

	b.publish(ctx, Event{
		Type:             typ,
		RoomKey:          roomKey,
		ConnectionID:     connectionID,
		OriginInstanceID: b.instanceID,
	})
}

func (b *Broker) publishMessage(ctx context.Context, roomKey string, payload any) {
	raw, err := payloadToRaw(payload)
	if err != nil {
		b.logger.Warn(logging.RoomBroker, logging.EventBus, "failed to encode message event", map[logging.ExtraKey]any{
			logging.RoomKey:      roomKey,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	b.publish(ctx, Event{
		Type:             EventMessage,
		RoomKey:          roomKey,
		Payload:          raw,
		OriginInstanceID: b.instanceID,
	})
}

func (b *Broker) publish(ctx context.Context, ev Event) {
	if b.bus == nil {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn(logging.RoomBroker, logging.EventBus, "failed to marshal event", map[logging.ExtraKey]any{
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	if err := b.bus.Publish(ctx, Channel, body); err != nil {
		b.logger.Warn(logging.RoomBroker, logging.EventBus, "failed to publish event", map[logging.ExtraKey]any{
			logging.RoomKey:      ev.RoomKey,
			logging.ErrorMessage: err.Error(),
		})
		return
	}

	metrics.BusEventsPublished.WithLabelValues(string(ev.Type)).Inc()
}

// encodePayload serializes a broadcast payload to the text frame sent to
// members. Strings and pre-encoded JSON pass through untouched.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// payloadToRaw produces the JSON payload field carried by a message event.
func payloadToRaw(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if json.Valid(p) {
			return json.RawMessage(p), nil
		}
		return json.Marshal(string(p))
	default:
		return json.Marshal(p)
	}
}
