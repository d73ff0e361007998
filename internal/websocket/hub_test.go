package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Close)
	return hub
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data := <-c.Send():
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestSendToUserReachesOnlyThatUser(t *testing.T) {
	hub := startHub(t)
	alice1 := NewClient(hub, "alice")
	alice2 := NewClient(hub, "alice")
	bob := NewClient(hub, "bob")
	hub.Register(alice1)
	hub.Register(alice2)
	hub.Register(bob)

	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, hub.UserClientCount("alice"))

	NewPublisher(hub).SendToUser("alice", TypeReminderDue, map[string]string{"reminder_id": "r1"})

	for _, c := range []*Client{alice1, alice2} {
		msg := receive(t, c)
		assert.Equal(t, TypeReminderDue, msg.Type)
		assert.Equal(t, map[string]interface{}{"reminder_id": "r1"}, msg.Payload)
	}
	select {
	case <-bob.Send():
		t.Fatal("bob must not receive alice's reminder")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	hub := startHub(t)
	c := NewClient(hub, "alice")
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	assert.Zero(t, hub.ClientCount())
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	c := NewClient(hub, "alice")
	hub.Register(c)
	hub.Close()
	hub.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	_, ok := <-c.Send()
	assert.False(t, ok)

	// Registering after close must not block.
	late := NewClient(hub, "bob")
	hub.Register(late)
	_, ok = <-late.Send()
	assert.False(t, ok)
}
