package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortMessages(t *testing.T) {
	msgs := []Message{
		{ID: "c", Timestamp: 300, Seq: 1},
		{ID: "b2", Timestamp: 200, Seq: 4},
		{ID: "a", Timestamp: 100, Seq: 3},
		{ID: "b1", Timestamp: 200, Seq: 2},
	}

	SortMessages(msgs)

	var ids []string
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids)
}

func TestMessageTime(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123e6, time.UTC)
	m := Message{Timestamp: ts.UnixMilli()}
	assert.True(t, ts.Equal(m.Time()))
}
