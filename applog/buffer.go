package applog

import (
	"sync"
	"time"
)

// Entry is a single buffered log line from an app.
type Entry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
}

// Buffer maintains a circular buffer of recent log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	capacity int
	nextID   int64
}

// NewBuffer creates a buffer holding at most capacity entries.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// Add appends a new entry, evicting the oldest when the buffer is full.
func (b *Buffer) Add(source, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry := Entry{
		ID:        b.nextID,
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
	}
	if len(b.entries) >= b.capacity {
		b.entries = b.entries[1:]
	}
	b.entries = append(b.entries, entry)
	b.nextID++
}

// Latest returns the most recent count entries, oldest first.
func (b *Buffer) Latest(count int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if count <= 0 || len(b.entries) == 0 {
		return []Entry{}
	}
	start := len(b.entries) - count
	if start < 0 {
		start = 0
	}
	result := make([]Entry, len(b.entries)-start)
	copy(result, b.entries[start:])
	return result
}

// Since returns all entries with ID greater than fromID.
func (b *Buffer) Since(fromID int64) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]Entry, 0)
	for _, entry := range b.entries {
		if entry.ID > fromID {
			result = append(result, entry)
		}
	}
	return result
}
