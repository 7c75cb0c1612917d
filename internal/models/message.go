package models

import (
	"sort"
	"time"
)

// Message is one entry of a room's append-only log.
type Message struct {
	ID        string `json:"id"`   // ULID, chosen by the sender
	RoomCode  string `json:"room"` // Owning room
	Author    string `json:"author"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`  // Unix ms at send time
	Seq       int64  `json:"seq"` // Assigned by the store on commit
}

// Time returns the send time of the message.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Before reports whether m sorts before o: by timestamp, then commit order.
func (m Message) Before(o Message) bool {
	if m.Timestamp != o.Timestamp {
		return m.Timestamp < o.Timestamp
	}
	return m.Seq < o.Seq
}

// SortMessages orders messages ascending by timestamp, ties broken by Seq.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}
