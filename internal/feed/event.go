package feed

import "time"

// Kind is the type of change an event describes.
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Event represents one durable change pushed by the store.
// ConversationID scopes message and conversation events so that subscribers
// can filter on a foreign-key equality predicate.
type Event struct {
	Table          string
	Kind           Kind
	ConversationID string
	Timestamp      time.Time
	Record         any
}

// Filter selects the events a subscription receives. Table is required.
// ConversationID, when non-empty, restricts events to a single conversation.
// An empty Kinds slice matches every kind.
type Filter struct {
	Table          string
	ConversationID string
	Kinds          []Kind
}

// Match reports whether evt satisfies the filter.
func (f Filter) Match(evt Event) bool {
	if evt.Table != f.Table {
		return false
	}
	if f.ConversationID != "" && evt.ConversationID != f.ConversationID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if evt.Kind == k {
			return true
		}
	}
	return false
}
