package relay

import (
	"context"
	"sort"
	"sync"

	"cdpilot/internal/config"

	"go.uber.org/multierr"
)

// Registry owns the relay servers of one process, at most one per port.
type Registry struct {
	mu      sync.Mutex
	servers map[int]*Server
}

func NewRegistry() *Registry {
	return &Registry{servers: make(map[int]*Server)}
}

// Ensure returns the running server for cfg.Port or starts one. Port 0
// always starts a new server on an ephemeral port.
func (r *Registry) Ensure(ctx context.Context, cfg config.RelayConfig) (*Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cfg.Port != 0 {
		if s, ok := r.servers[cfg.Port]; ok {
			select {
			case <-s.Done():
				delete(r.servers, cfg.Port)
			default:
				return s, nil
			}
		}
	}

	s, err := Start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	r.servers[s.Port()] = s
	return s, nil
}

// Get returns the server on port, if one is running.
func (r *Registry) Get(port int) (*Server, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.servers[port]
	return s, ok
}

// Ports lists the ports with a registered server.
func (r *Registry) Ports() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ports := make([]int, 0, len(r.servers))
	for p := range r.servers {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// Stop closes and forgets the server on port. Stopping an unknown port is a
// no-op.
func (r *Registry) Stop(port int) error {
	r.mu.Lock()
	s, ok := r.servers[port]
	delete(r.servers, port)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// StopAll closes every server and returns their combined errors.
func (r *Registry) StopAll() error {
	r.mu.Lock()
	servers := r.servers
	r.servers = make(map[int]*Server)
	r.mu.Unlock()

	var err error
	for _, s := range servers {
		err = multierr.Append(err, s.Close())
	}
	return err
}
