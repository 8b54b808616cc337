package core

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTimeout = time.Second

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestServeHTTPRefusesBadCredentials(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	index := NewRoomIndex(f.chatStore, f.logger)
	verifier := NewJWTVerifier(testSecret, f.userStore)
	registry := NewRegistry(verifier, index, WithRegistryLogger(f.logger))

	server := httptest.NewServer(registry)
	defer server.Close()

	// no token
	_, res, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// garbage token
	_, res, err = websocket.DefaultDialer.Dial(wsURL(server)+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestConnectSendAndReceive(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice")
	alice := users[0]

	index := NewRoomIndex(f.chatStore, f.logger)
	verifier := NewJWTVerifier(testSecret, f.userStore)
	registry := NewRegistry(verifier, index, WithRegistryLogger(f.logger))
	defer registry.Close()

	server := httptest.NewServer(registry)
	defer server.Close()

	token, _, err := NewToken(Identity{ID: alice.ID, Username: alice.Username}, time.Hour, testSecret)
	require.NoError(t, err)

	client, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"?token="+token, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool {
		return registry.IsOnline(alice.ID)
	}, baseTimeout, baseTimeout/20, "connection never registered")

	// client to server
	require.NoError(t, client.WriteJSON(Event{Type: SetTypingEvent, Payload: []byte(`{"room_id":"r1","is_typing":true}`)}))
	select {
	case e := <-registry.Receive():
		assert.Equal(t, SetTypingEvent, e.Type)
		require.NotNil(t, e.Sender())
		assert.Equal(t, alice.ID, e.Sender().Identity().ID)
	case <-time.After(baseTimeout):
		t.Fatal("inbound event never surfaced")
	}

	// server to client
	out, err := NewEvent(PresenceChangedEvent, PresenceChangedPayload{UserID: alice.ID, Status: StatusOnline})
	require.NoError(t, err)
	registry.SendToIdentities(out, alice.ID)

	var got Event
	client.SetReadDeadline(time.Now().Add(baseTimeout))
	require.NoError(t, client.ReadJSON(&got))
	assert.Equal(t, PresenceChangedEvent, got.Type)

	// closing the transport drives the offline edge
	client.Close()
	require.Eventually(t, func() bool {
		return !registry.IsOnline(alice.ID)
	}, baseTimeout, baseTimeout/20, "connection never unregistered")
}

func TestSendToIdentitiesTargetsEveryDevice(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]

	index := NewRoomIndex(f.chatStore, f.logger)
	registry := NewRegistry(nil, index, WithRegistryLogger(f.logger))

	aliceDev1 := registerTestConn(f, registry, alice, 1)
	aliceDev2 := registerTestConn(f, registry, alice, 2)
	bobConn := registerTestConn(f, registry, bob, 3)

	e, err := NewEvent(ErrorEvent, map[string]string{"reason": "test"})
	require.NoError(t, err)
	registry.SendToIdentities(e, alice.ID)

	receiveEvent(t, aliceDev1)
	receiveEvent(t, aliceDev2)
	noEvent(t, bobConn)

	registry.Broadcast(e)
	receiveEvent(t, aliceDev1)
	receiveEvent(t, aliceDev2)
	receiveEvent(t, bobConn)

	assert.Len(t, registry.ConnectionsOf(alice.ID), 2)
	assert.Len(t, registry.ConnectionsOf(bob.ID), 1)
}
