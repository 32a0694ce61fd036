package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"streamhub/internal/models"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
	"streamhub/internal/storage"
)

var (
	ErrRoomRequired  = errors.New("chat id required")
	ErrRoomForbidden = errors.New("not a participant of this chat")
	ErrRoomNotFound  = errors.New("chat not found")
	ErrNotConnected  = errors.New("client is not connected")

	errInvalidMessage = errors.New("message is not valid json")
)

const (
	busPublishTimeout   = 5 * time.Second
	defaultBusHeartbeat = 15 * time.Second
)

// RoomAccess decides whether userID may join roomID.
type RoomAccess interface {
	CanJoin(ctx context.Context, roomID, userID string) error
}

type RoomAccessFunc func(ctx context.Context, roomID, userID string) error

func (f RoomAccessFunc) CanJoin(ctx context.Context, roomID, userID string) error {
	return f(ctx, roomID, userID)
}

// RoomLookup is the slice of storage.Repository ParticipantAccess needs.
type RoomLookup interface {
	GetChatRoom(ctx context.Context, id string) (models.ChatRoom, error)
}

// ParticipantAccess admits only the two participants of a stored room.
func ParticipantAccess(rooms RoomLookup) RoomAccess {
	return RoomAccessFunc(func(ctx context.Context, roomID, userID string) error {
		room, err := rooms.GetChatRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrRoomNotFound
			}
			return fmt.Errorf("load chat room: %w", err)
		}
		if !room.HasParticipant(userID) {
			return ErrRoomForbidden
		}
		return nil
	})
}

// HubConfig configures a Hub. Every field is optional.
type HubConfig struct {
	// Bus relays room messages and presence changes between instances.
	Bus Bus
	// Access is consulted on join and on client sends when set.
	Access     RoomAccess
	Logger     *slog.Logger
	Metrics    *metrics.Recorder
	InstanceID string
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// HeartbeatInterval controls websocket pings; the read deadline is derived
	// from it.
	HeartbeatInterval time.Duration
	// AllowedOrigins limits browser upgrades. Empty allows same-host requests
	// only; "*" allows any origin.
	AllowedOrigins []string
	// BusHeartbeat is how often the hub announces its connected users on the
	// bus.
	BusHeartbeat time.Duration
	// PresenceTTL drops users learned from an instance that has not announced
	// itself for this long. Zero means three bus heartbeats.
	PresenceTTL time.Duration
}

// Hub owns presence and room membership for the connections of one process
// and fans frames out to them.
type Hub struct {
	bus        Bus
	access     RoomAccess
	logger     *slog.Logger
	metrics    *metrics.Recorder
	instanceID string
	sendBuffer int
	heartbeat  time.Duration
	upgrader   websocket.Upgrader

	presence     *Presence
	busHeartbeat time.Duration
	presenceTTL  time.Duration

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	joined  map[*Client]map[string]struct{}
}

func NewHub(cfg HubConfig) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	instanceID := strings.TrimSpace(cfg.InstanceID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	busHeartbeat := cfg.BusHeartbeat
	if busHeartbeat <= 0 {
		busHeartbeat = defaultBusHeartbeat
	}
	presenceTTL := cfg.PresenceTTL
	if presenceTTL <= 0 {
		presenceTTL = 3 * busHeartbeat
	}
	h := &Hub{
		bus:          cfg.Bus,
		access:       cfg.Access,
		logger:       logging.WithComponent(logger, "chat"),
		metrics:      metrics.Or(cfg.Metrics),
		instanceID:   instanceID,
		sendBuffer:   cfg.SendBuffer,
		heartbeat:    heartbeat,
		presence:     NewPresence(),
		busHeartbeat: busHeartbeat,
		presenceTTL:  presenceTTL,
		clients:      make(map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		joined:       make(map[*Client]map[string]struct{}),
	}
	h.upgrader = newUpgrader(cfg.AllowedOrigins)
	return h
}

func (h *Hub) Presence() *Presence {
	return h.presence
}

func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Connect registers c, sends the presence snapshot to every connection and
// announces the new entry to the others.
func (h *Hub) Connect(ctx context.Context, c *Client) {
	entry := c.entry()

	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.mu.Unlock()
		return
	}
	firstLocal := h.presence.LocalConnections(entry.UserID) == 0
	h.clients[c] = struct{}{}
	h.presence.Add(c, entry)
	h.broadcastLocked(EventUsersOnline, h.presence.Snapshot(), nil)
	h.broadcastLocked(EventUserConnected, entry, c)
	online := h.presence.Len()
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.metrics.SetOnlineUsers(online)
	h.logger.Debug("client connected", "user_id", entry.UserID, "online", online)
	if firstLocal {
		h.publish(ctx, EventUserConnected, "", entry)
	}
}

// Join adds c to roomID. Joining twice is a no-op.
func (h *Hub) Join(ctx context.Context, c *Client, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrRoomRequired
	}
	if h.access != nil {
		if err := h.access.CanJoin(ctx, roomID, c.user.ID); err != nil {
			return err
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return ErrNotConnected
	}
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
	if h.joined[c] == nil {
		h.joined[c] = make(map[string]struct{})
	}
	h.joined[c][roomID] = struct{}{}
	h.metrics.ObserveChatEvent(EventJoinChat)
	return nil
}

// Leave removes c from roomID. Leaving a room that was never joined is a
// no-op.
func (h *Hub) Leave(c *Client, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, strings.TrimSpace(roomID))
}

func (h *Hub) leaveLocked(c *Client, roomID string) {
	if members := h.rooms[roomID]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if rooms := h.joined[c]; rooms != nil {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.joined, c)
		}
	}
}

// Send delivers payload as receive-message to every connection joined to
// roomID, the sender's own included. Nothing is persisted.
func (h *Hub) Send(ctx context.Context, roomID string, payload json.RawMessage) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrRoomRequired
	}
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	if !json.Valid(payload) {
		return errInvalidMessage
	}
	h.deliverRoom(roomID, payload)
	h.metrics.ObserveChatEvent(EventReceiveMessage)
	h.publish(ctx, EventReceiveMessage, roomID, payload)
	return nil
}

// SendFrom is Send on behalf of a connected client. When room access is
// configured the client must be allowed into roomID; membership itself is not
// required.
func (h *Hub) SendFrom(ctx context.Context, c *Client, roomID string, payload json.RawMessage) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return ErrRoomRequired
	}
	if h.access != nil {
		if err := h.access.CanJoin(ctx, roomID, c.user.ID); err != nil {
			return err
		}
	}
	return h.Send(ctx, roomID, payload)
}

// Disconnect removes c from every room and from presence and closes its
// outbound queue. user:disconnected is announced once the user has no
// connection left. Calling it again is a no-op.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		c.close()
		return
	}
	delete(h.clients, c)
	for roomID := range h.joined[c] {
		h.leaveLocked(c, roomID)
	}
	entry, _ := h.presence.Remove(c)
	lastLocal := h.presence.LocalConnections(entry.UserID) == 0
	if !h.presence.Online(entry.UserID) {
		h.broadcastLocked(EventUserDisconnected, disconnectedPayload{UserID: entry.UserID}, nil)
	}
	online := h.presence.Len()
	h.mu.Unlock()

	c.close()
	h.metrics.ConnectionClosed()
	h.metrics.SetOnlineUsers(online)
	h.logger.Debug("client disconnected", "user_id", entry.UserID, "online", online, "dropped_frames", c.Dropped())
	if lastLocal {
		h.publish(ctx, EventUserDisconnected, "", disconnectedPayload{UserID: entry.UserID})
	}
}

// Run relays envelopes published by other instances until ctx is done. It
// also announces the local users every bus heartbeat and drops users of
// instances that went silent. It returns immediately when no bus is
// configured.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus == nil {
		return nil
	}
	sub, err := h.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to chat bus: %w", err)
	}
	defer sub.Close()

	beat := time.NewTicker(h.busHeartbeat)
	defer beat.Stop()
	h.announce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-beat.C:
			h.announce(ctx)
			h.expireRemote(now)
		case env, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if env.Origin == h.instanceID {
				continue
			}
			h.applyRemote(env)
		}
	}
}

func (h *Hub) announce(ctx context.Context) {
	h.publish(ctx, EventInstanceAlive, "", h.presence.LocalSnapshot())
}

// expireRemote forgets instances not heard from within the presence TTL.
func (h *Hub) expireRemote(now time.Time) {
	h.mu.Lock()
	before := h.presence.Snapshot()
	expired := h.presence.ExpireRemote(now.Add(-h.presenceTTL))
	if len(expired) > 0 {
		h.announceChangesLocked(before)
	}
	online := h.presence.Len()
	h.mu.Unlock()
	if len(expired) > 0 {
		h.logger.Warn("dropped presence of silent chat instances", "instances", expired, "online", online)
		h.metrics.SetOnlineUsers(online)
	}
}

func (h *Hub) applyRemote(env Envelope) {
	switch env.Event {
	case EventReceiveMessage:
		h.deliverRoom(env.RoomID, env.Data)
		return
	case EventUserConnected:
		var entry models.PresenceEntry
		if err := json.Unmarshal(env.Data, &entry); err != nil || entry.UserID == "" {
			h.logger.Warn("discarding malformed presence envelope", "origin", env.Origin, "error", err)
			return
		}
		h.mu.Lock()
		before := h.presence.Snapshot()
		h.presence.AddRemote(env.Origin, entry)
		h.announceChangesLocked(before)
	case EventUserDisconnected:
		var payload disconnectedPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil || payload.UserID == "" {
			h.logger.Warn("discarding malformed presence envelope", "origin", env.Origin, "error", err)
			return
		}
		h.mu.Lock()
		before := h.presence.Snapshot()
		h.presence.RemoveRemote(env.Origin, payload.UserID)
		h.announceChangesLocked(before)
	case EventInstanceAlive:
		var entries []models.PresenceEntry
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			h.logger.Warn("discarding malformed presence envelope", "origin", env.Origin, "error", err)
			return
		}
		h.mu.Lock()
		before := h.presence.Snapshot()
		h.presence.ReplaceRemote(env.Origin, entries, time.Now())
		h.announceChangesLocked(before)
	default:
		h.logger.Debug("ignoring unknown bus event", "event", env.Event, "origin", env.Origin)
		return
	}
	online := h.presence.Len()
	h.mu.Unlock()
	h.metrics.SetOnlineUsers(online)
}

// announceChangesLocked tells local connections how presence moved since
// before. New users produce a users:online snapshot followed by one
// user:connected each; users gone offline produce user:disconnected.
func (h *Hub) announceChangesLocked(before []models.PresenceEntry) {
	after := h.presence.Snapshot()
	was := make(map[string]struct{}, len(before))
	for _, entry := range before {
		was[entry.UserID] = struct{}{}
	}
	is := make(map[string]struct{}, len(after))
	var joined []models.PresenceEntry
	for _, entry := range after {
		is[entry.UserID] = struct{}{}
		if _, ok := was[entry.UserID]; !ok {
			joined = append(joined, entry)
		}
	}
	if len(joined) > 0 {
		h.broadcastLocked(EventUsersOnline, after, nil)
		for _, entry := range joined {
			h.broadcastLocked(EventUserConnected, entry, nil)
		}
	}
	for _, entry := range before {
		if _, ok := is[entry.UserID]; !ok {
			h.broadcastLocked(EventUserDisconnected, disconnectedPayload{UserID: entry.UserID}, nil)
		}
	}
}

func (h *Hub) deliverRoom(roomID string, data json.RawMessage) {
	frame, err := json.Marshal(Frame{Event: EventReceiveMessage, Data: data})
	if err != nil {
		h.logger.Error("failed to encode chat frame", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		c.deliver(frame)
	}
}

// broadcastLocked sends to every connection except skip. Callers hold h.mu so
// presence frames reach each client in the order the changes happened.
func (h *Hub) broadcastLocked(event string, data any, skip *Client) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("failed to encode chat frame", "event", event, "error", err)
		return
	}
	for c := range h.clients {
		if c == skip {
			continue
		}
		c.deliver(frame)
	}
	h.metrics.ObserveChatEvent(event)
}

func (h *Hub) publish(ctx context.Context, event, roomID string, data any) {
	if h.bus == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to encode bus envelope", "event", event, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), busPublishTimeout)
	defer cancel()
	env := Envelope{Origin: h.instanceID, Event: event, RoomID: roomID, Data: raw, OccurredAt: time.Now().UTC()}
	if err := h.bus.Publish(ctx, env); err != nil {
		h.metrics.ObserveBusPublishError()
		h.logger.Warn("failed to publish chat envelope", "event", event, "error", err)
	}
}
