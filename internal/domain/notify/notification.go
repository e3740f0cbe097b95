// Package notify carries user-visible transient notifications (toasts).
package notify

import "sync"

// Variant selects the notification styling.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a short message surfaced to the user once.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Notifier accepts notifications for later display.
type Notifier interface {
	Notify(n Notification)
}

// Error builds the destructive "Error" notification.
func Error(description string) Notification {
	return Notification{Title: "Error", Description: description, Variant: VariantDestructive}
}

// Success builds the default "Success" notification.
func Success(description string) Notification {
	return Notification{Title: "Success", Description: description, Variant: VariantDefault}
}

// Recorder collects notifications in memory. Safe for concurrent use.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify appends n.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// All returns a copy of everything recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Drain returns everything recorded and empties the recorder.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// Discard drops every notification.
type Discard struct{}

// Notify does nothing.
func (Discard) Notify(Notification) {}
