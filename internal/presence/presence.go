// Package presence reduces raw per-room occupancy signals into a single
// demand record with a priority class. It is pure state reduction: no
// timers, no side effects.
package presence

import (
	"time"
)

// Priority classifies a demand record.
type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityElevated Priority = "elevated"
)

// Signal is a raw per-room occupancy state change.
type Signal struct {
	RoomID     string
	Active     bool
	ObservedAt time.Time
}

// DemandRecord is the aggregated occupancy state driving the controller.
type DemandRecord struct {
	Active     bool
	Priority   Priority
	SourceRoom string
	DecidedAt  time.Time
}

type roomState struct {
	active      bool
	activeSince time.Time
}

// Aggregator maintains the last-known occupancy boolean per monitored
// room and recomputes the demand record on every signal.
type Aggregator struct {
	priorityRoom string
	rooms        map[string]*roomState
	last         DemandRecord
	hasLast      bool
}

// New creates an aggregator for the given monitored rooms. Signals for
// rooms outside the monitored set are ignored.
func New(monitored []string, priorityRoom string) *Aggregator {
	rooms := make(map[string]*roomState, len(monitored))
	for _, id := range monitored {
		rooms[id] = &roomState{}
	}

	return &Aggregator{
		priorityRoom: priorityRoom,
		rooms:        rooms,
	}
}

// Update applies a signal and recomputes the demand record. The second
// return value is false when the signal leaves the demand record
// unchanged; callers must treat that as a no-op to avoid re-entering
// the controller on bursty sensor chatter.
func (a *Aggregator) Update(sig Signal) (DemandRecord, bool) {
	room, ok := a.rooms[sig.RoomID]
	if !ok {
		return a.last, false
	}

	if room.active != sig.Active {
		room.active = sig.Active
		if sig.Active {
			room.activeSince = sig.ObservedAt
		}
	}

	record := a.recompute(sig.ObservedAt)
	if a.hasLast && record.sameAs(a.last) {
		return a.last, false
	}

	a.last = record
	a.hasLast = true

	return record, true
}

// Current returns the last computed demand record.
func (a *Aggregator) Current() DemandRecord {
	return a.last
}

func (a *Aggregator) recompute(decidedAt time.Time) DemandRecord {
	record := DemandRecord{
		Priority:  PriorityNormal,
		DecidedAt: decidedAt,
	}

	var latest time.Time
	for id, room := range a.rooms {
		if !room.active {
			continue
		}

		record.Active = true
		switch {
		case record.SourceRoom == "" || room.activeSince.After(latest):
			record.SourceRoom = id
			latest = room.activeSince
		case room.activeSince.Equal(latest) && id == a.priorityRoom:
			// Ties go to the priority room.
			record.SourceRoom = id
		}
	}

	if priority, ok := a.rooms[a.priorityRoom]; ok && priority.active {
		record.Priority = PriorityElevated
	}

	return record
}

func (d DemandRecord) sameAs(other DemandRecord) bool {
	return d.Active == other.Active &&
		d.Priority == other.Priority &&
		d.SourceRoom == other.SourceRoom
}
