package lifecycle

import "sync"

// command is the closed set of instructions an app actor accepts.
type command int

const (
	cmdReload command = iota
	cmdTerminate
)

// mailbox is an unbounded FIFO command queue. put never blocks; take blocks
// until a command is available. One actor goroutine consumes, any goroutine
// may produce.
type mailbox struct {
	mu    sync.Mutex
	queue []command
	ready chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) put(c command) {
	m.mu.Lock()
	m.queue = append(m.queue, c)
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

func (m *mailbox) take() command {
	for {
		m.mu.Lock()
		if len(m.queue) > 0 {
			c := m.queue[0]
			m.queue = m.queue[1:]
			m.mu.Unlock()
			return c
		}
		m.mu.Unlock()
		<-m.ready
	}
}
