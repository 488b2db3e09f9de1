// Package convo holds the bounded conversation context that gives the
// reasoning model a short memory of what was said on a connection.
package convo

import (
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of messages a Buffer retains.
const DefaultCapacity = 10

// Role names used when rendering messages into a prompt.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation context.
type Message struct {
	// Text is the transcript (user) or raw model reply (assistant).
	Text string

	// IsUser is true for transcribed speech.
	IsUser bool

	// Ordinal increases by one per appended message and is never reused,
	// even after eviction.
	Ordinal uint64

	// At records when the message was appended.
	At time.Time
}

// Role returns RoleUser or RoleAssistant.
func (m Message) Role() string {
	if m.IsUser {
		return RoleUser
	}
	return RoleAssistant
}

// Buffer is a FIFO of the most recent messages. Once full, every append
// evicts the oldest message.
//
// All methods are safe for concurrent use.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Message
	capacity int
	next     uint64
}

// NewBuffer creates a buffer retaining at most capacity messages. A
// non-positive capacity selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries:  make([]Message, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a message and evicts the oldest one if the buffer is over
// capacity. It returns the stored message.
func (b *Buffer) Append(text string, isUser bool) Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	m := Message{Text: text, IsUser: isUser, Ordinal: b.next, At: time.Now()}
	b.entries = append(b.entries, m)
	if len(b.entries) > b.capacity {
		// Copy to a fresh slice so evicted entries can be garbage collected.
		fresh := make([]Message, b.capacity)
		copy(fresh, b.entries[len(b.entries)-b.capacity:])
		b.entries = fresh
	}
	return m
}

// Snapshot returns every retained message in insertion order. The returned
// slice is a copy.
func (b *Buffer) Snapshot() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Message, len(b.entries))
	copy(out, b.entries)
	return out
}

// Recent returns up to n of the newest messages in chronological order.
func (b *Buffer) Recent(n int) []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := max(len(b.entries)-n, 0)
	out := make([]Message, len(b.entries)-start)
	copy(out, b.entries[start:])
	return out
}

// Len reports the number of retained messages.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Cap reports the buffer capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Reset drops every message. Ordinals keep increasing afterwards.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make([]Message, 0, b.capacity)
}

// RenderWindow renders msgs one per line as "<role>: <text>", in the given
// order.
func RenderWindow(msgs []Message) string {
	var sb strings.Builder
	for i, m := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(m.Role())
		sb.WriteString(": ")
		sb.WriteString(m.Text)
	}
	return sb.String()
}
