package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/solteris/imagebridge/bridge"
)

func TestEmissionStoreOrderAndIsolation(t *testing.T) {
	store := NewEmissionStore()
	a := store.EmitterFor("session-a")
	b := store.EmitterFor("session-b")

	a.Emit(bridge.Emission{Seq: 1, DisplayName: "one"})
	b.Emit(bridge.Emission{Seq: 1, DisplayName: "other"})
	a.Emit(bridge.Emission{Seq: 2, DisplayName: "two"})

	forA := store.ForSession("session-a")
	assert.Len(t, forA, 2)
	assert.Equal(t, "one", forA[0].DisplayName)
	assert.Equal(t, "two", forA[1].DisplayName)
	assert.Len(t, store.ForSession("session-b"), 1)

	// The returned slice is a copy.
	forA[0].DisplayName = "mutated"
	assert.Equal(t, "one", store.ForSession("session-a")[0].DisplayName)

	store.Clear("session-a")
	assert.Empty(t, store.ForSession("session-a"))
	assert.Len(t, store.ForSession("session-b"), 1)
}

func TestEmissionStoreNotifiesListeners(t *testing.T) {
	var seen []string
	store := NewEmissionStore(func(sessionID string, e bridge.Emission) {
		seen = append(seen, sessionID+"/"+e.DisplayName)
	})

	store.Add("s", bridge.Emission{Seq: 1, DisplayName: "a"})
	store.Add("s", bridge.Emission{Seq: 2, DisplayName: "b"})

	assert.Equal(t, []string{"s/a", "s/b"}, seen)
}
