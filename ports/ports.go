// Package ports manages the pool of TCP ports handed to app processes and the
// live hostname→port table consulted by the request router.
package ports

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrExhausted is returned by Acquire when every port in the configured range
// is either allocated or busy.
var ErrExhausted = errors.New("ports: no available ports in range")

// Registry allocates ports from a fixed range and maintains the hostname
// routing table. All operations are atomic; callers never hold any lock across
// calls.
type Registry struct {
	mu            sync.Mutex
	minPort       int
	maxPort       int
	allocated     map[int]bool
	nextCandidate int
	hosts         map[string]int
}

// NewRegistry creates a Registry for the inclusive port range [minPort, maxPort].
func NewRegistry(minPort, maxPort int) (*Registry, error) {
	if minPort <= 0 || maxPort <= 0 || minPort > maxPort {
		return nil, fmt.Errorf("ports: invalid port range: min %d, max %d", minPort, maxPort)
	}
	return &Registry{
		minPort:       minPort,
		maxPort:       maxPort,
		allocated:     make(map[int]bool),
		nextCandidate: minPort,
		hosts:         make(map[string]int),
	}, nil
}

// Acquire finds and allocates an available TCP port within the configured
// range. A candidate port is verified by briefly listening on it, so a port
// held by an unrelated process is skipped.
func (r *Registry) Acquire() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	firstCandidate := r.nextCandidate

	for {
		portToTry := r.nextCandidate

		r.nextCandidate++
		if r.nextCandidate > r.maxPort {
			r.nextCandidate = r.minPort
		}

		if !r.allocated[portToTry] {
			l, err := net.Listen("tcp", fmt.Sprintf(":%d", portToTry))
			if err == nil {
				l.Close()
				r.allocated[portToTry] = true
				return portToTry, nil
			}
		}

		if r.nextCandidate == firstCandidate {
			return 0, fmt.Errorf("%w [%d-%d]", ErrExhausted, r.minPort, r.maxPort)
		}
	}
}

// Release marks a previously acquired port as available again. Ports outside
// the managed range are ignored.
func (r *Registry) Release(port int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if port < r.minPort || port > r.maxPort {
		return
	}
	delete(r.allocated, port)
}

// RegisterHost points host at port in the routing table, replacing any
// previous entry for that host.
func (r *Registry) RegisterHost(host string, port int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[host] = port
}

// DeregisterHost removes host from the routing table.
func (r *Registry) DeregisterHost(host string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, host)
}

// Lookup returns the port registered for host, if any.
func (r *Registry) Lookup(host string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	port, ok := r.hosts[host]
	return port, ok
}

// Hosts returns a snapshot of the routing table.
func (r *Registry) Hosts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[string]int, len(r.hosts))
	for host, port := range r.hosts {
		snapshot[host] = port
	}
	return snapshot
}
