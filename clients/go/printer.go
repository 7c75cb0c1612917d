package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/eldtechnologies/chatroom/internal/chat"
)

// printer renders deliveries one per line. The poller and the input loop
// both print, so writes are serialized.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) print(ds []chat.Delivery) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, d := range ds {
		fmt.Fprintln(p.out, formatDelivery(d))
	}
}

// formatDelivery renders "[15:04:05] name: body", naming own messages "you".
func formatDelivery(d chat.Delivery) string {
	name := d.Message.Author
	if d.Own {
		name = "you"
	}
	return fmt.Sprintf("[%s] %s: %s", d.Time(), name, d.Message.Body)
}
