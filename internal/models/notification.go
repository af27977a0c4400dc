package models

import "time"

// Notification is a scheduled local alert, keyed by its reminder channel.
type Notification struct {
	Key    string
	FireAt time.Time
	Title  string
	Body   string

	// Delivery bookkeeping, owned by the notification store
	CreatedAt   time.Time
	DeliveredAt *time.Time
	Attempts    int
	LastError   string
}

// IsDue reports whether the notification should be delivered at now.
func (n *Notification) IsDue(now time.Time) bool {
	return n.DeliveredAt == nil && !n.FireAt.After(now)
}

// IsPending reports whether the notification is still waiting for delivery.
func (n *Notification) IsPending() bool {
	return n.DeliveredAt == nil
}
