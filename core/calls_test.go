package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayDeliversToAllTargetDevices(t *testing.T) {
	f := newRouterFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]

	aliceConn := registerTestConn(f.ChatFixture, f.registry, alice, 1)
	bobDev1 := registerTestConn(f.ChatFixture, f.registry, bob, 2)
	bobDev2 := registerTestConn(f.ChatFixture, f.registry, bob, 3)

	relay := NewCallRelay(f.userStore, f.registry, f.logger)

	offer := json.RawMessage(`{"sdp":"v=0..."}`)
	err := relay.Relay(f.ctx, aliceConn, CallRequestEvent, CallSignalInput{
		TargetUserID: bob.ID,
		Data:         offer,
	})
	require.NoError(t, err)

	for _, c := range []*Conn{bobDev1, bobDev2} {
		e := receiveEvent(t, c)
		assert.Equal(t, CallIncomingEvent, e.Type)
		payload := decodePayload[CallSignalPayload](t, e)
		assert.Equal(t, alice.ID, payload.From)
		assert.Equal(t, alice.Username, payload.FromUsername)
		assert.JSONEq(t, string(offer), string(payload.Data))
	}
	noEvent(t, aliceConn)
}

func TestRelayEventTypeMapping(t *testing.T) {
	f := newRouterFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]

	aliceConn := registerTestConn(f.ChatFixture, f.registry, alice, 1)
	bobConn := registerTestConn(f.ChatFixture, f.registry, bob, 2)

	relay := NewCallRelay(f.userStore, f.registry, f.logger)

	pairs := map[string]string{
		CallRequestEvent: CallIncomingEvent,
		CallAnswerEvent:  CallAnsweredEvent,
		CallSignalEvent:  CallSignaledEvent,
		CallRejectEvent:  CallRejectedEvent,
		CallEndEvent:     CallEndedEvent,
	}
	for in, out := range pairs {
		err := relay.Relay(f.ctx, aliceConn, in, CallSignalInput{TargetUserID: bob.ID})
		require.NoError(t, err)
		e := receiveEvent(t, bobConn)
		assert.Equal(t, out, e.Type)
	}
}

func TestRelayRejectsBadInput(t *testing.T) {
	f := newRouterFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	aliceConn := registerTestConn(f.ChatFixture, f.registry, alice, 1)

	relay := NewCallRelay(f.userStore, f.registry, f.logger)

	err := relay.Relay(f.ctx, aliceConn, "wave-hands", CallSignalInput{TargetUserID: bob.ID})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = relay.Relay(f.ctx, aliceConn, CallRequestEvent, CallSignalInput{})
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = relay.Relay(f.ctx, aliceConn, CallRequestEvent, CallSignalInput{TargetUserID: "no-such-user"})
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestRelayToOfflineTargetIsSilent(t *testing.T) {
	f := newRouterFixture(t)
	defer f.tearDown()

	users := seedUsers(f.ctx, t, f.userStore, "alice", "bob")
	alice, bob := users[0], users[1]
	aliceConn := registerTestConn(f.ChatFixture, f.registry, alice, 1)

	relay := NewCallRelay(f.userStore, f.registry, f.logger)

	// bob exists but has no live connection: the signal is dropped and
	// the caller times out on its own
	err := relay.Relay(f.ctx, aliceConn, CallRequestEvent, CallSignalInput{TargetUserID: bob.ID})
	require.NoError(t, err)
	noEvent(t, aliceConn)
}
