package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"streamhub/internal/models"
	"streamhub/internal/observability/logging"
	"streamhub/internal/observability/metrics"
	"streamhub/internal/storage"
)

func newTestHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return NewHub(cfg)
}

func testUser(id, name string) models.User {
	return models.User{ID: id, Username: name, AvatarURL: "https://cdn.example.com/" + id + ".png"}
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case payload, ok := <-c.Outbound():
		if !ok {
			t.Fatalf("outbound closed for %s", c.User().ID)
		}
		var frame Frame
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame for %s", c.User().ID)
	}
	return Frame{}
}

func expectFrame(t *testing.T, c *Client, event string) Frame {
	t.Helper()
	frame := nextFrame(t, c)
	if frame.Event != event {
		t.Fatalf("expected %s for %s, got %s (%s)", event, c.User().ID, frame.Event, frame.Data)
	}
	return frame
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload, ok := <-c.Outbound():
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.User().ID, payload)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func decodeEntries(t *testing.T, frame Frame) []models.PresenceEntry {
	t.Helper()
	var entries []models.PresenceEntry
	if err := json.Unmarshal(frame.Data, &entries); err != nil {
		t.Fatalf("decode presence: %v", err)
	}
	return entries
}

func userIDs(entries []models.PresenceEntry) []string {
	ids := make([]string, len(entries))
	for i, entry := range entries {
		ids[i] = entry.UserID
	}
	return ids
}

func equalIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestConnectBroadcastsSnapshotAndAnnouncement(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	ctx := context.Background()

	alice := NewClient(testUser("alice", "alice"), 8)
	hub.Connect(ctx, alice)
	first := expectFrame(t, alice, EventUsersOnline)
	if ids := userIDs(decodeEntries(t, first)); !equalIDs(ids, "alice") {
		t.Fatalf("unexpected snapshot %v", ids)
	}
	expectNoFrame(t, alice)

	bob := NewClient(testUser("bob", "bob"), 8)
	hub.Connect(ctx, bob)

	snapshot := expectFrame(t, alice, EventUsersOnline)
	if ids := userIDs(decodeEntries(t, snapshot)); !equalIDs(ids, "alice", "bob") {
		t.Fatalf("unexpected snapshot %v", ids)
	}
	connected := expectFrame(t, alice, EventUserConnected)
	var entry models.PresenceEntry
	if err := json.Unmarshal(connected.Data, &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry.UserID != "bob" || entry.Username != "bob" || entry.AvatarURL == "" {
		t.Fatalf("unexpected entry %+v", entry)
	}

	expectFrame(t, bob, EventUsersOnline)
	expectNoFrame(t, bob)
}

func TestConnectTwiceIsNoop(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	alice := NewClient(testUser("alice", "alice"), 8)
	hub.Connect(context.Background(), alice)
	hub.Connect(context.Background(), alice)
	expectFrame(t, alice, EventUsersOnline)
	expectNoFrame(t, alice)
}

func TestSnapshotHasOneEntryPerUser(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	ctx := context.Background()
	tabA := NewClient(testUser("alice", "alice"), 8)
	tabB := NewClient(testUser("alice", "alice"), 8)
	hub.Connect(ctx, tabA)
	hub.Connect(ctx, tabB)

	snapshot := hub.Presence().Snapshot()
	if len(snapshot) != 1 || snapshot[0].UserID != "alice" {
		t.Fatalf("expected a single alice entry, got %+v", snapshot)
	}
	if got := hub.Presence().Len(); got != 1 {
		t.Fatalf("expected 1 online user, got %d", got)
	}
	if got := hub.Presence().LocalConnections("alice"); got != 2 {
		t.Fatalf("expected 2 connections, got %d", got)
	}
}

func TestDisconnectAnnouncesAfterLastConnection(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	ctx := context.Background()
	tabA := NewClient(testUser("alice", "alice"), 16)
	tabB := NewClient(testUser("alice", "alice"), 16)
	bob := NewClient(testUser("bob", "bob"), 16)
	hub.Connect(ctx, tabA)
	hub.Connect(ctx, tabB)
	hub.Connect(ctx, bob)
	expectFrame(t, bob, EventUsersOnline)

	hub.Disconnect(ctx, tabA)
	expectNoFrame(t, bob)
	if !hub.Presence().Online("alice") {
		t.Fatal("alice should still be online")
	}

	hub.Disconnect(ctx, tabB)
	frame := expectFrame(t, bob, EventUserDisconnected)
	var payload map[string]any
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload) != 1 || payload["userId"] != "alice" {
		t.Fatalf("expected only the user id, got %v", payload)
	}
	for _, entry := range hub.Presence().Snapshot() {
		if entry.UserID == "alice" {
			t.Fatal("alice still in snapshot after disconnect")
		}
	}

	hub.Disconnect(ctx, tabB)
	expectNoFrame(t, bob)

	for range tabB.Outbound() {
	}
	if _, ok := <-tabB.Outbound(); ok {
		t.Fatal("expected outbound to be closed")
	}
}

func TestSendReachesJoinedConnectionsOnly(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	ctx := context.Background()
	alice := NewClient(testUser("alice", "alice"), 16)
	bob := NewClient(testUser("bob", "bob"), 16)
	carol := NewClient(testUser("carol", "carol"), 16)
	for _, c := range []*Client{alice, bob, carol} {
		hub.Connect(ctx, c)
	}
	for _, c := range []*Client{alice, bob, carol} {
		for len(c.Outbound()) > 0 {
			<-c.Outbound()
		}
	}

	for _, c := range []*Client{alice, bob} {
		if err := hub.Join(ctx, c, "room-1"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := hub.Join(ctx, carol, "room-2"); err != nil {
		t.Fatalf("join: %v", err)
	}

	message := json.RawMessage(`{"content":"hi","chatId":"room-1"}`)
	if err := hub.Send(ctx, "room-1", message); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, c := range []*Client{alice, bob} {
		frame := expectFrame(t, c, EventReceiveMessage)
		if string(frame.Data) != string(message) {
			t.Fatalf("unexpected payload %s", frame.Data)
		}
	}
	expectNoFrame(t, carol)

	// Senders do not need to be members.
	if err := hub.Send(ctx, "room-2", json.RawMessage(`"ping"`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectFrame(t, carol, EventReceiveMessage)
	expectNoFrame(t, alice)
}

func TestJoinAndLeaveAreIdempotent(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	ctx := context.Background()
	alice := NewClient(testUser("alice", "alice"), 16)
	hub.Connect(ctx, alice)
	expectFrame(t, alice, EventUsersOnline)

	for i := 0; i < 2; i++ {
		if err := hub.Join(ctx, alice, "room-1"); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if err := hub.Send(ctx, "room-1", json.RawMessage(`1`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectFrame(t, alice, EventReceiveMessage)
	expectNoFrame(t, alice)

	hub.Leave(alice, "room-1")
	hub.Leave(alice, "room-1")
	hub.Leave(alice, "never-joined")
	if err := hub.Send(ctx, "room-1", json.RawMessage(`2`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	expectNoFrame(t, alice)

	if err := hub.Join(ctx, alice, "  "); !errors.Is(err, ErrRoomRequired) {
		t.Fatalf("expected ErrRoomRequired, got %v", err)
	}
}

func TestJoinAfterDisconnectFails(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	alice := NewClient(testUser("alice", "alice"), 4)
	hub.Connect(context.Background(), alice)
	hub.Disconnect(context.Background(), alice)
	if err := hub.Join(context.Background(), alice, "room-1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

type roomLookupFunc func(ctx context.Context, id string) (models.ChatRoom, error)

func (f roomLookupFunc) GetChatRoom(ctx context.Context, id string) (models.ChatRoom, error) {
	return f(ctx, id)
}

func TestParticipantAccess(t *testing.T) {
	lookup := roomLookupFunc(func(_ context.Context, id string) (models.ChatRoom, error) {
		if id != "room-1" {
			return models.ChatRoom{}, storage.ErrNotFound
		}
		return models.ChatRoom{ID: id, Participants: []string{"alice", "bob"}}, nil
	})
	hub := newTestHub(t, HubConfig{Access: ParticipantAccess(lookup)})
	ctx := context.Background()
	alice := NewClient(testUser("alice", "alice"), 4)
	mallory := NewClient(testUser("mallory", "mallory"), 4)
	hub.Connect(ctx, alice)
	hub.Connect(ctx, mallory)

	if err := hub.Join(ctx, alice, "room-1"); err != nil {
		t.Fatalf("participant join: %v", err)
	}
	if err := hub.Join(ctx, mallory, "room-1"); !errors.Is(err, ErrRoomForbidden) {
		t.Fatalf("expected ErrRoomForbidden, got %v", err)
	}
	if err := hub.Join(ctx, alice, "room-9"); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("expected ErrRoomNotFound, got %v", err)
	}
}

func TestSendFromChecksRoomAccess(t *testing.T) {
	lookup := roomLookupFunc(func(_ context.Context, id string) (models.ChatRoom, error) {
		return models.ChatRoom{ID: id, Participants: []string{"alice", "bob"}}, nil
	})
	hub := newTestHub(t, HubConfig{Access: ParticipantAccess(lookup)})
	ctx := context.Background()
	alice := NewClient(testUser("alice", "alice"), 8)
	bob := NewClient(testUser("bob", "bob"), 8)
	mallory := NewClient(testUser("mallory", "mallory"), 8)
	for _, c := range []*Client{alice, bob, mallory} {
		hub.Connect(ctx, c)
	}
	if err := hub.Join(ctx, alice, "room-1"); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, c := range []*Client{alice, bob, mallory} {
		drain(c)
	}

	err := hub.SendFrom(ctx, mallory, "room-1", json.RawMessage(`{"content":"forged","sender":"bob"}`))
	if !errors.Is(err, ErrRoomForbidden) {
		t.Fatalf("expected ErrRoomForbidden, got %v", err)
	}
	expectNoFrame(t, alice)

	if err := hub.SendFrom(ctx, bob, "room-1", json.RawMessage(`{"content":"hi"}`)); err != nil {
		t.Fatalf("participant send: %v", err)
	}
	frame := expectFrame(t, alice, EventReceiveMessage)
	if string(frame.Data) != `{"content":"hi"}` {
		t.Fatalf("unexpected payload %s", frame.Data)
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

func TestSlowConsumerDropsFrames(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	ctx := context.Background()
	slow := NewClient(testUser("slow", "slow"), 1)
	hub.Connect(ctx, slow)
	if err := hub.Join(ctx, slow, "room-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			_ = hub.Send(ctx, "room-1", json.RawMessage(`{}`))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fan-out blocked on a slow consumer")
	}
	if slow.Dropped() == 0 {
		t.Fatal("expected dropped frames")
	}
}

func TestSendRejectsInvalidPayload(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	if err := hub.Send(context.Background(), "", json.RawMessage(`{}`)); !errors.Is(err, ErrRoomRequired) {
		t.Fatalf("expected ErrRoomRequired, got %v", err)
	}
	if err := hub.Send(context.Background(), "room-1", json.RawMessage(`{`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}

func subscriberCount(bus Bus) int {
	mem := bus.(*memoryBus)
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	return len(mem.subs)
}

func TestRunRelaysBetweenInstances(t *testing.T) {
	bus := NewMemoryBus(16)
	hubA := newTestHub(t, HubConfig{Bus: bus, InstanceID: "a"})
	hubB := newTestHub(t, HubConfig{Bus: bus, InstanceID: "b"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 2)
	go func() { errs <- hubA.Run(ctx) }()
	go func() { errs <- hubB.Run(ctx) }()
	waitUntil(t, time.Second, func() bool { return subscriberCount(bus) == 2 })

	bob := NewClient(testUser("bob", "bob"), 16)
	hubB.Connect(ctx, bob)
	expectFrame(t, bob, EventUsersOnline)
	if err := hubB.Join(ctx, bob, "room-1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	alice := NewClient(testUser("alice", "alice"), 16)
	hubA.Connect(ctx, alice)
	expectFrame(t, alice, EventUsersOnline)

	snapshot := expectFrame(t, bob, EventUsersOnline)
	if ids := userIDs(decodeEntries(t, snapshot)); !equalIDs(ids, "alice", "bob") {
		t.Fatalf("unexpected remote snapshot %v", ids)
	}
	expectFrame(t, bob, EventUserConnected)

	if err := hubA.Send(ctx, "room-1", json.RawMessage(`{"content":"across"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	frame := expectFrame(t, bob, EventReceiveMessage)
	if string(frame.Data) != `{"content":"across"}` {
		t.Fatalf("unexpected payload %s", frame.Data)
	}

	hubA.Disconnect(ctx, alice)
	expectFrame(t, bob, EventUserDisconnected)
	if hubB.Presence().Online("alice") {
		t.Fatal("alice should be offline on hub b")
	}

	cancel()
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("run: %v", err)
		}
	}
}

func TestPresenceExpiresSilentOrigins(t *testing.T) {
	presence := NewPresence()
	start := time.Now()
	presence.ReplaceRemote("a", []models.PresenceEntry{{UserID: "alice", Username: "alice"}}, start)
	presence.ReplaceRemote("b", []models.PresenceEntry{{UserID: "bob", Username: "bob"}}, start.Add(time.Minute))

	if expired := presence.ExpireRemote(start.Add(30 * time.Second)); len(expired) != 1 || expired[0] != "a" {
		t.Fatalf("expected origin a to expire, got %v", expired)
	}
	if ids := userIDs(presence.Snapshot()); !equalIDs(ids, "bob") {
		t.Fatalf("unexpected snapshot %v", ids)
	}

	presence.ReplaceRemote("b", nil, start.Add(2*time.Minute))
	if presence.Len() != 0 {
		t.Fatalf("expected an empty heartbeat to clear origin b, got %d users", presence.Len())
	}
}

func TestHubDropsUsersOfSilentInstance(t *testing.T) {
	hub := newTestHub(t, HubConfig{PresenceTTL: time.Minute})
	ctx := context.Background()
	alice := NewClient(testUser("alice", "alice"), 16)
	hub.Connect(ctx, alice)
	expectFrame(t, alice, EventUsersOnline)

	data, err := json.Marshal([]models.PresenceEntry{{UserID: "bob", Username: "bob"}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	alive := Envelope{Origin: "other", Event: EventInstanceAlive, Data: data}
	hub.applyRemote(alive)
	if ids := userIDs(decodeEntries(t, expectFrame(t, alice, EventUsersOnline))); !equalIDs(ids, "alice", "bob") {
		t.Fatalf("unexpected snapshot %v", ids)
	}
	expectFrame(t, alice, EventUserConnected)

	hub.applyRemote(alive)
	expectNoFrame(t, alice)

	hub.expireRemote(time.Now().Add(30 * time.Second))
	expectNoFrame(t, alice)

	hub.expireRemote(time.Now().Add(2 * time.Minute))
	frame := expectFrame(t, alice, EventUserDisconnected)
	var payload disconnectedPayload
	if err := json.Unmarshal(frame.Data, &payload); err != nil || payload.UserID != "bob" {
		t.Fatalf("unexpected disconnect payload %s", frame.Data)
	}
	if hub.Presence().Online("bob") {
		t.Fatal("bob should be offline once the other instance went silent")
	}
}

func TestRunAnnouncesExistingUsersToNewInstance(t *testing.T) {
	bus := NewMemoryBus(64)
	hubA := newTestHub(t, HubConfig{Bus: bus, InstanceID: "a", BusHeartbeat: 20 * time.Millisecond})
	hubB := newTestHub(t, HubConfig{Bus: bus, InstanceID: "b", BusHeartbeat: 20 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := NewClient(testUser("alice", "alice"), 64)
	hubA.Connect(ctx, alice)

	go func() { _ = hubA.Run(ctx) }()
	go func() { _ = hubB.Run(ctx) }()
	waitUntil(t, 2*time.Second, func() bool { return hubB.Presence().Online("alice") })
}

func TestRunWithoutBusReturns(t *testing.T) {
	hub := newTestHub(t, HubConfig{})
	if err := hub.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestHubRecordsConnectionMetrics(t *testing.T) {
	recorder := metrics.New()
	hub := newTestHub(t, HubConfig{Metrics: recorder})
	alice := NewClient(testUser("alice", "alice"), 4)
	hub.Connect(context.Background(), alice)

	families, err := recorder.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, family := range families {
		if family.GetName() == "streamhub_realtime_online_users" {
			found = true
			if got := family.GetMetric()[0].GetGauge().GetValue(); got != 1 {
				t.Fatalf("expected 1 online user, got %v", got)
			}
		}
	}
	if !found {
		t.Fatal("online users gauge not registered")
	}
}
