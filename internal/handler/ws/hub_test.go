package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamspace-backend/internal/domain"
	"teamspace-backend/internal/service/messaging"
	"teamspace-backend/pkg/metrics"
)

// stubConversationStore answers membership checks; everything else is
// unreachable in these tests
type stubConversationStore struct {
	messaging.ConversationStore
	participant bool
}

func (s *stubConversationStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	return s.participant, nil
}

func newTestHub(t *testing.T, participant bool) *Hub {
	t.Helper()
	service := messaging.NewService(&stubConversationStore{participant: participant}, nil, nil, nil, metrics.New("test"))
	return NewHub(service, metrics.New("test"))
}

func newTestClient(hub *Hub, userID uuid.UUID) *Client {
	return &Client{
		hub:    hub,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		rooms:  make(map[uuid.UUID]*room),
	}
}

func receiveEvent(t *testing.T, client *Client) *outEvent {
	t.Helper()
	select {
	case raw := <-client.send:
		var event outEvent
		require.NoError(t, json.Unmarshal(raw, &event))
		return &event
	case <-time.After(time.Second):
		t.Fatal("expected an event but none arrived")
		return nil
	}
}

func drain(client *Client) {
	for {
		select {
		case <-client.send:
		default:
			return
		}
	}
}

func TestPresenceFlipsOnFirstAndLastConnection(t *testing.T) {
	hub := newTestHub(t, true)

	userID := uuid.New()
	observerID := uuid.New()

	observer := newTestClient(hub, observerID)
	hub.register(observer)
	drain(observer)

	first := newTestClient(hub, userID)
	second := newTestClient(hub, userID)

	hub.register(first)
	event := receiveEvent(t, observer)
	assert.Equal(t, domain.EventPresenceOnline, event.Type)
	assert.True(t, hub.IsOnline(userID))

	// Second connection of the same user flips nothing
	hub.register(second)
	assert.Empty(t, observer.send)

	// Closing one of two connections keeps the user online
	hub.unregister(first)
	assert.Empty(t, observer.send)
	assert.True(t, hub.IsOnline(userID))

	hub.unregister(second)
	event = receiveEvent(t, observer)
	assert.Equal(t, domain.EventPresenceOffline, event.Type)
	assert.False(t, hub.IsOnline(userID))
}

func TestToRoomDeliversOnlyToSubscribers(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	subscriber := newTestClient(hub, uuid.New())
	outsider := newTestClient(hub, uuid.New())
	hub.register(subscriber)
	hub.register(outsider)
	drain(subscriber)
	drain(outsider)

	hub.joinRoom(subscriber, conversationID)

	hub.ToRoom(conversationID, domain.EventMessageNew, map[string]any{"content": "hello"})

	event := receiveEvent(t, subscriber)
	assert.Equal(t, domain.EventMessageNew, event.Type)
	assert.Empty(t, outsider.send)
}

func TestJoinByNonParticipantIsSilent(t *testing.T) {
	hub := newTestHub(t, false)
	conversationID := uuid.New()

	client := newTestClient(hub, uuid.New())
	hub.register(client)
	drain(client)

	hub.joinRoom(client, conversationID)

	// No room subscription, no error event
	assert.Empty(t, hub.ActiveViewers(conversationID))
	assert.Empty(t, client.send)
	assert.False(t, client.inRoom(conversationID))
}

func TestActiveViewers(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	userID := uuid.New()
	client := newTestClient(hub, userID)
	hub.register(client)
	hub.joinRoom(client, conversationID)

	viewers := hub.ActiveViewers(conversationID)
	assert.Len(t, viewers, 1)
	_, ok := viewers[userID]
	assert.True(t, ok)

	hub.leaveRoom(client, conversationID)
	assert.Empty(t, hub.ActiveViewers(conversationID))
}

func TestRoomDroppedWhenLastSubscriberLeaves(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	client := newTestClient(hub, uuid.New())
	hub.register(client)
	hub.joinRoom(client, conversationID)
	require.NotNil(t, hub.getRoom(conversationID))

	hub.leaveRoom(client, conversationID)
	assert.Nil(t, hub.getRoom(conversationID))
}

func TestSlowClientIsDisconnected(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	slow := &Client{
		hub:    hub,
		send:   make(chan []byte, 1),
		userID: uuid.New(),
		rooms:  make(map[uuid.UUID]*room),
	}
	hub.register(slow)
	drain(slow)
	hub.joinRoom(slow, conversationID)

	// First event fills the buffer, second overflows it
	hub.ToRoom(conversationID, domain.EventMessageNew, map[string]any{"n": 1})
	hub.ToRoom(conversationID, domain.EventMessageNew, map[string]any{"n": 2})

	assert.Eventually(t, func() bool {
		return len(hub.ActiveViewers(conversationID)) == 0 && !hub.IsOnline(slow.userID)
	}, time.Second, 10*time.Millisecond)
}

func TestTypingIndicatorExpires(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	typist := newTestClient(hub, uuid.New())
	watcher := newTestClient(hub, uuid.New())
	hub.register(typist)
	hub.register(watcher)
	drain(typist)
	drain(watcher)

	hub.joinRoom(typist, conversationID)
	hub.joinRoom(watcher, conversationID)

	hub.typingStart(typist, conversationID)

	event := receiveEvent(t, watcher)
	assert.Equal(t, domain.EventTypingStart, event.Type)

	// No explicit stop; the indicator times out on its own
	assert.Eventually(t, func() bool {
		select {
		case raw := <-watcher.send:
			var ev outEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return false
			}
			return ev.Type == domain.EventTypingStop
		default:
			return false
		}
	}, typingTTL+time.Second, 20*time.Millisecond)
}

func TestTypingStopIsImmediate(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	typist := newTestClient(hub, uuid.New())
	watcher := newTestClient(hub, uuid.New())
	hub.register(typist)
	hub.register(watcher)
	drain(typist)
	drain(watcher)

	hub.joinRoom(typist, conversationID)
	hub.joinRoom(watcher, conversationID)

	hub.typingStart(typist, conversationID)
	event := receiveEvent(t, watcher)
	require.Equal(t, domain.EventTypingStart, event.Type)

	hub.typingStop(typist, conversationID)
	event = receiveEvent(t, watcher)
	assert.Equal(t, domain.EventTypingStop, event.Type)

	// A stop without a start is a no-op
	hub.typingStop(typist, conversationID)
	assert.Empty(t, watcher.send)
}

func TestTypingRequiresRoomMembership(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	member := newTestClient(hub, uuid.New())
	stranger := newTestClient(hub, uuid.New())
	hub.register(member)
	hub.register(stranger)
	drain(member)
	drain(stranger)

	hub.joinRoom(member, conversationID)

	// stranger never joined the room
	hub.typingStart(stranger, conversationID)
	assert.Empty(t, member.send)
}

func TestBroadcastToClosedClientIsDropped(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	client := newTestClient(hub, uuid.New())
	hub.register(client)
	drain(client)
	hub.joinRoom(client, conversationID)

	// A broadcast snapshots the room before the close lands; the late
	// enqueue must hit the closed-flag guard, not the closed channel
	r := hub.getRoom(conversationID)
	require.NotNil(t, r)
	snapshot := r.snapshot()

	client.close()

	data, err := encodeEvent(domain.EventMessageNew, map[string]any{"content": "late"})
	require.NoError(t, err)
	for _, c := range snapshot {
		c.enqueue(data)
	}
}

func TestEnqueueRacingCloseNeverPanics(t *testing.T) {
	hub := newTestHub(t, true)

	client := newTestClient(hub, uuid.New())
	hub.register(client)
	drain(client)

	data, err := encodeEvent(domain.EventMessageNew, map[string]any{"content": "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				client.enqueue(data)
			}
		}()
	}
	client.close()
	wg.Wait()

	assert.False(t, hub.IsOnline(client.userID))
}

func TestJoinSurvivesConcurrentRoomDrop(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	churner := newTestClient(hub, uuid.New())
	hub.register(churner)
	drain(churner)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			hub.joinRoom(churner, conversationID)
			hub.leaveRoom(churner, conversationID)
			drain(churner)
		}
	}()

	joiner := newTestClient(hub, uuid.New())
	hub.register(joiner)
	drain(joiner)

	// A concurrent last-subscriber leave must never reap a room that
	// just gained a subscriber
	for i := 0; i < 200; i++ {
		hub.joinRoom(joiner, conversationID)
		require.NotNil(t, hub.getRoom(conversationID))

		hub.ToRoom(conversationID, domain.EventMessageNew, map[string]any{"n": i})
		event := receiveEvent(t, joiner)
		require.Equal(t, domain.EventMessageNew, event.Type)

		hub.leaveRoom(joiner, conversationID)
		drain(joiner)
	}
	<-done
}

func TestShutdownDrainsAllConnections(t *testing.T) {
	hub := newTestHub(t, true)
	conversationID := uuid.New()

	alice := newTestClient(hub, uuid.New())
	bob := newTestClient(hub, uuid.New())
	hub.register(alice)
	hub.register(bob)
	hub.joinRoom(alice, conversationID)

	hub.Shutdown()

	assert.False(t, hub.IsOnline(alice.userID))
	assert.False(t, hub.IsOnline(bob.userID))
	assert.Nil(t, hub.getRoom(conversationID))
	assert.Empty(t, hub.OnlineUsers())
}
