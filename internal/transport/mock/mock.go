// Package mock provides an in-memory Transport for tests and simulations.
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/cockroachdb/errors"
)

// Network routes requests between in-memory transports.
type Network struct {
	mu           sync.RWMutex
	routes       map[member.ID]*Transport
	disconnected map[member.ID]bool
	requests     atomic.Int64
}

func NewNetwork() *Network {
	return &Network{routes: make(map[member.ID]*Transport), disconnected: make(map[member.ID]bool)}
}

// Route attaches a transport for the given member to the network.
func (n *Network) Route(self member.ID) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	t := &Transport{net: n, self: self, services: make(map[digest.Digest]transport.Service)}
	n.routes[self] = t
	return t
}

// Disconnect makes every request to or from the member fail until Reconnect.
func (n *Network) Disconnect(id member.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected[id] = true
}

func (n *Network) Reconnect(id member.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.disconnected, id)
}

// Requests returns the number of requests delivered so far.
func (n *Network) Requests() int { return int(n.requests.Load()) }

func (n *Network) resolve(from, to member.ID, id digest.Digest) (transport.Service, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.disconnected[from] || n.disconnected[to] {
		return nil, transport.ErrUnreachable
	}
	t, ok := n.routes[to]
	if !ok {
		return nil, transport.ErrUnreachable
	}
	svc, ok := t.service(id)
	if !ok {
		return nil, transport.ErrUnavailable
	}
	n.requests.Add(1)
	return svc, nil
}

// Transport is one member's endpoint on a Network.
type Transport struct {
	net      *Network
	self     member.ID
	mu       sync.RWMutex
	services map[digest.Digest]transport.Service
}

var _ transport.Transport = (*Transport)(nil)

func (t *Transport) Connect(id digest.Digest, to member.Member) (transport.Link, error) {
	t.net.mu.RLock()
	_, ok := t.net.routes[to.ID]
	t.net.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(transport.ErrUnreachable, "no route to %s", to.ID.Short())
	}
	return &link{t: t, id: id, to: to}, nil
}

func (t *Transport) Register(id digest.Digest, svc transport.Service) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services[id] = svc
}

func (t *Transport) Deregister(id digest.Digest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.services, id)
}

func (t *Transport) service(id digest.Digest) (transport.Service, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	svc, ok := t.services[id]
	return svc, ok
}

type link struct {
	t  *Transport
	id digest.Digest
	to member.Member
}

func (l *link) Member() member.Member { return l.to }

func (l *link) Gossip(ctx context.Context, req message.Gossip) (message.Reconcile, error) {
	if err := ctx.Err(); err != nil {
		return message.Reconcile{}, err
	}
	svc, err := l.t.net.resolve(l.t.self, l.to.ID, l.id)
	if err != nil {
		return message.Reconcile{}, err
	}
	return svc.Gossip(ctx, l.t.self, req), nil
}

func (l *link) Update(ctx context.Context, req message.Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	svc, err := l.t.net.resolve(l.t.self, l.to.ID, l.id)
	if err != nil {
		return err
	}
	svc.Update(ctx, l.t.self, req)
	return nil
}

func (l *link) Close() error { return nil }
