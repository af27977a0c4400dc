package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidPillCount is returned when a refill is logged with a count of zero or less.
var ErrInvalidPillCount = errors.New("refill pill count must be greater than zero")

// RefillEventKind distinguishes refill requests from refill receipts.
type RefillEventKind string

const (
	RefillRequested RefillEventKind = "REQUESTED"
	RefillReceived  RefillEventKind = "RECEIVED"
)

func (k RefillEventKind) String() string {
	return string(k)
}

// Valid reports whether k is a known event kind.
func (k RefillEventKind) Valid() bool {
	return k == RefillRequested || k == RefillReceived
}

// UnmarshalJSON rejects unknown kinds so a corrupt log cannot load.
func (k *RefillEventKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind := RefillEventKind(s)
	if !kind.Valid() {
		return fmt.Errorf("unknown refill event kind %q", s)
	}
	*k = kind
	return nil
}

// RefillEvent is an immutable entry in the refill log.
type RefillEvent struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      RefillEventKind `json:"kind"`
	PillCount *int            `json:"pill_count,omitempty"` // Absolute count after a receipt; nil for requests
}

// NewRequestedEvent builds a refill request entry.
func NewRequestedEvent(id string, at time.Time) RefillEvent {
	return RefillEvent{ID: id, Timestamp: at, Kind: RefillRequested}
}

// NewReceivedEvent builds a refill receipt entry.
func NewReceivedEvent(id string, at time.Time, pillCount int) RefillEvent {
	return RefillEvent{ID: id, Timestamp: at, Kind: RefillReceived, PillCount: &pillCount}
}

// ReceivedCount returns the recorded pill count, or 0 for requests.
func (e RefillEvent) ReceivedCount() int {
	if e.PillCount == nil {
		return 0
	}
	return *e.PillCount
}

// MachineState is the refill state derived from the event log.
type MachineState string

const (
	StateIdle    MachineState = "IDLE"
	StateWaiting MachineState = "WAITING"
)

func (s MachineState) String() string {
	return string(s)
}

// InventoryState is the medication inventory for one installation.
//
// The refill log is the source of truth for the waiting state; nothing else
// stores it. Mutating operations never modify the receiver. They return a new
// state that shares no mutable data with the old one.
type InventoryState struct {
	CurrentPillCount int           `json:"current_pill_count"`
	RefillEvents     []RefillEvent `json:"refill_events"`
	DailyUsageRate   float64       `json:"daily_usage_rate"`
}

// ZeroInventory returns the empty state used on first run and after a reset.
func ZeroInventory() InventoryState {
	return InventoryState{RefillEvents: []RefillEvent{}}
}

// Clone returns a deep copy of the state.
func (s InventoryState) Clone() InventoryState {
	events := make([]RefillEvent, len(s.RefillEvents))
	for i, e := range s.RefillEvents {
		if e.PillCount != nil {
			n := *e.PillCount
			e.PillCount = &n
		}
		events[i] = e
	}
	s.RefillEvents = events
	return s
}

// SortedEvents returns the log ordered by timestamp, oldest first.
// Events with equal timestamps keep their insertion order.
func (s InventoryState) SortedEvents() []RefillEvent {
	events := s.Clone().RefillEvents
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
	return events
}

// LatestEvent returns the newest event by timestamp.
func (s InventoryState) LatestEvent() (RefillEvent, bool) {
	events := s.SortedEvents()
	if len(events) == 0 {
		return RefillEvent{}, false
	}
	return events[len(events)-1], true
}

// LastReceived returns the newest receipt event by timestamp.
func (s InventoryState) LastReceived() (RefillEvent, bool) {
	events := s.SortedEvents()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Kind == RefillReceived {
			return events[i], true
		}
	}
	return RefillEvent{}, false
}

// IsWaitingForRefill reports whether the newest event is a request.
func (s InventoryState) IsWaitingForRefill() bool {
	latest, ok := s.LatestEvent()
	return ok && latest.Kind == RefillRequested
}

// MachineState returns Waiting while a request is outstanding, Idle otherwise.
func (s InventoryState) MachineState() MachineState {
	if s.IsWaitingForRefill() {
		return StateWaiting
	}
	return StateIdle
}

// RefillRequestDate returns the timestamp of the outstanding request, if any.
func (s InventoryState) RefillRequestDate() (time.Time, bool) {
	latest, ok := s.LatestEvent()
	if !ok || latest.Kind != RefillRequested {
		return time.Time{}, false
	}
	return latest.Timestamp, true
}

// LastRefillDate returns the timestamp of the newest receipt, or now if the
// medication has never been refilled.
func (s InventoryState) LastRefillDate(now time.Time) time.Time {
	if e, ok := s.LastReceived(); ok {
		return e.Timestamp
	}
	return now
}

// LogMedicationTaken records one dose. The count never drops below zero.
func (s InventoryState) LogMedicationTaken() InventoryState {
	next := s.Clone()
	if next.CurrentPillCount > 0 {
		next.CurrentPillCount--
	} else {
		next.CurrentPillCount = 0
	}
	return next
}

// LogRefillRequested appends a request. It reports false and leaves the state
// untouched when a request is already outstanding.
func (s InventoryState) LogRefillRequested(id string, at time.Time) (InventoryState, bool) {
	if s.IsWaitingForRefill() {
		return s, false
	}
	next := s.Clone()
	next.RefillEvents = append(next.RefillEvents, NewRequestedEvent(id, at))
	return next, true
}

// LogRefillReceived appends a receipt, resets the pill count to the absolute
// pillCount and sets the usage rate from usageRate.
func (s InventoryState) LogRefillReceived(id string, at time.Time, pillCount int, usageRate float64) (InventoryState, error) {
	if pillCount <= 0 {
		return s, fmt.Errorf("%w: got %d", ErrInvalidPillCount, pillCount)
	}
	if usageRate < 0 {
		usageRate = 0
	}
	next := s.Clone()
	next.RefillEvents = append(next.RefillEvents, NewReceivedEvent(id, at, pillCount))
	next.CurrentPillCount = pillCount
	next.DailyUsageRate = usageRate
	return next, nil
}

// Normalize enforces the non-negative invariants on loaded data.
func (s InventoryState) Normalize() InventoryState {
	next := s.Clone()
	if next.CurrentPillCount < 0 {
		next.CurrentPillCount = 0
	}
	if next.DailyUsageRate < 0 {
		next.DailyUsageRate = 0
	}
	if next.RefillEvents == nil {
		next.RefillEvents = []RefillEvent{}
	}
	return next
}

// MarshalState serializes the state as JSON.
func MarshalState(s InventoryState) ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState parses a state serialized by MarshalState.
func UnmarshalState(data []byte) (InventoryState, error) {
	var s InventoryState
	if err := json.Unmarshal(data, &s); err != nil {
		return InventoryState{}, fmt.Errorf("decoding inventory state: %w", err)
	}
	return s.Normalize(), nil
}
