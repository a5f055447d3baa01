package presence_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/circulatord/internal/presence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rooms = []string{"kitchen", "living_room", "hallway", "bathroom"}

func at(sec int) time.Time {
	return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC).Add(time.Duration(sec) * time.Second)
}

func TestDemandIsUnionOfRooms(t *testing.T) {
	agg := presence.New(rooms, "kitchen")

	record, changed := agg.Update(presence.Signal{RoomID: "hallway", Active: true, ObservedAt: at(0)})
	require.True(t, changed)
	assert.True(t, record.Active)
	assert.Equal(t, presence.PriorityNormal, record.Priority)
	assert.Equal(t, "hallway", record.SourceRoom)

	record, changed = agg.Update(presence.Signal{RoomID: "bathroom", Active: true, ObservedAt: at(5)})
	require.True(t, changed)
	assert.True(t, record.Active)
	assert.Equal(t, "bathroom", record.SourceRoom)

	// One room dropping out keeps demand active while another is occupied.
	record, changed = agg.Update(presence.Signal{RoomID: "bathroom", Active: false, ObservedAt: at(10)})
	require.True(t, changed)
	assert.True(t, record.Active)
	assert.Equal(t, "hallway", record.SourceRoom)

	record, changed = agg.Update(presence.Signal{RoomID: "hallway", Active: false, ObservedAt: at(15)})
	require.True(t, changed)
	assert.False(t, record.Active)
	assert.Empty(t, record.SourceRoom)
}

func TestPriorityRoomElevates(t *testing.T) {
	agg := presence.New(rooms, "kitchen")

	record, changed := agg.Update(presence.Signal{RoomID: "living_room", Active: true, ObservedAt: at(0)})
	require.True(t, changed)
	assert.Equal(t, presence.PriorityNormal, record.Priority)

	record, changed = agg.Update(presence.Signal{RoomID: "kitchen", Active: true, ObservedAt: at(1)})
	require.True(t, changed)
	assert.Equal(t, presence.PriorityElevated, record.Priority)
	assert.Equal(t, "kitchen", record.SourceRoom)

	// Priority drops back to normal when the kitchen clears.
	record, changed = agg.Update(presence.Signal{RoomID: "kitchen", Active: false, ObservedAt: at(2)})
	require.True(t, changed)
	assert.Equal(t, presence.PriorityNormal, record.Priority)
	assert.True(t, record.Active)
}

func TestDuplicateSignalIsNoOp(t *testing.T) {
	agg := presence.New(rooms, "kitchen")

	_, changed := agg.Update(presence.Signal{RoomID: "hallway", Active: true, ObservedAt: at(0)})
	require.True(t, changed)

	// Same state again: absorbed without a new record.
	_, changed = agg.Update(presence.Signal{RoomID: "hallway", Active: true, ObservedAt: at(1)})
	assert.False(t, changed)

	// A different room changing without affecting the aggregate is also absorbed.
	_, changed = agg.Update(presence.Signal{RoomID: "hallway", Active: true, ObservedAt: at(2)})
	assert.False(t, changed)
}

func TestUnmonitoredRoomIgnored(t *testing.T) {
	agg := presence.New(rooms, "kitchen")

	record, changed := agg.Update(presence.Signal{RoomID: "garage", Active: true, ObservedAt: at(0)})
	assert.False(t, changed)
	assert.False(t, record.Active)
}

func TestSourceRoomTieBreak(t *testing.T) {
	agg := presence.New(rooms, "kitchen")

	ts := at(0)
	agg.Update(presence.Signal{RoomID: "living_room", Active: true, ObservedAt: ts})
	record, changed := agg.Update(presence.Signal{RoomID: "kitchen", Active: true, ObservedAt: ts})
	require.True(t, changed)
	assert.Equal(t, "kitchen", record.SourceRoom)
}
