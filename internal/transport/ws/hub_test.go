package ws

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multiplymonsters/internal/model"
)

func TestHub_RegisterDisconnect(t *testing.T) {
	hub := NewHub()
	claims := &model.ParticipantClaims{Collection: model.CollectionSessions, Code: "AB12", Name: "Ana", Role: model.RoleStudent}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	a := newConnection(claims, cancelA)
	b := newConnection(claims, func() {})
	other := newConnection(&model.ParticipantClaims{Collection: model.CollectionSquadBattles, Code: "AB1"}, func() {})
	hub.Register(a)
	hub.Register(b)
	hub.Register(other)
	require.Eventually(t, func() bool {
		return hub.Count(model.CollectionSessions, "AB12") == 2
	}, time.Second, 5*time.Millisecond)

	assert.True(t, a.Deliver([]byte("hi")))
	hub.Disconnect(model.CollectionSessions, "AB12")
	require.Eventually(t, func() bool {
		return hub.Count(model.CollectionSessions, "AB12") == 0
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []byte("hi"), <-a.send, "queued frames survive the close")
	_, open := <-a.send
	assert.False(t, open)
	assert.Error(t, ctxA.Err(), "closing cancels the connection's tracker")
	assert.False(t, b.Deliver([]byte("late")))
	assert.Equal(t, 1, hub.Count(model.CollectionSquadBattles, "AB1"))

	// unregistering a connection the hub already dropped is harmless
	hub.Unregister(a)
	hub.Unregister(other)
	require.Eventually(t, func() bool {
		return hub.Count(model.CollectionSquadBattles, "AB1") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestConnection_DropsWhenFull(t *testing.T) {
	c := newConnection(&model.ParticipantClaims{}, func() {})
	for i := 0; i < sendBuffer; i++ {
		require.True(t, c.Deliver([]byte{byte(i)}))
	}
	assert.False(t, c.Deliver([]byte("overflow")))
}
