// Package grpc carries broadcast rounds over gRPC. One Transport serves every
// broadcast context of a member on a single server and keeps a bounded cache of
// client connections to its peers.
package grpc

import (
	"context"
	"encoding/hex"
	"net"
	"sync"

	"github.com/arya-analytics/rbc/internal/address"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/message"
	"github.com/arya-analytics/rbc/internal/transport"
	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	fromKey    = "rbc-from"
	contextKey = "rbc-context"
)

type Config struct {
	// Self is the member requests are sent on behalf of.
	Self member.ID
	// CacheSize bounds the number of client connections kept open.
	CacheSize     int
	DialOptions   []grpc.DialOption
	ServerOptions []grpc.ServerOption
	Logger        *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.CacheSize == 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.DialOptions == nil {
		cfg.DialOptions = def.DialOptions
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func (cfg Config) Validate() error {
	if cfg.Self.IsZero() {
		return errors.New("[grpc] - self required")
	}
	if cfg.CacheSize <= 0 {
		return errors.Newf("[grpc] - cache size must be positive, got %d", cfg.CacheSize)
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		CacheSize:   64,
		DialOptions: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		Logger:      zap.NewNop(),
	}
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	Config
	L      *zap.SugaredLogger
	server *grpc.Server

	mu       sync.RWMutex
	services map[digest.Digest]transport.Service

	connMu sync.Mutex
	conns  *lru.Cache[address.Address, *grpc.ClientConn]
}

var _ transport.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	cfg = cfg.Merge(DefaultConfig())
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		Config:   cfg,
		L:        cfg.Logger.Sugar(),
		services: make(map[digest.Digest]transport.Service),
	}
	conns, err := lru.NewWithEvict[address.Address, *grpc.ClientConn](cfg.CacheSize, t.evict)
	if err != nil {
		return nil, err
	}
	t.conns = conns
	t.server = grpc.NewServer(append([]grpc.ServerOption{grpc.ForceServerCodec(codec{})}, cfg.ServerOptions...)...)
	t.server.RegisterService(&serviceDesc, &handler{t: t})
	return t, nil
}

// Serve accepts requests on lis until Stop is called.
func (t *Transport) Serve(lis net.Listener) error {
	t.L.Infow("serving broadcast transport", "address", lis.Addr().String(), "self", t.Self.Short())
	return t.server.Serve(lis)
}

// Stop finishes in-flight requests, stops the server and closes every cached
// connection.
func (t *Transport) Stop() {
	t.server.GracefulStop()
	t.connMu.Lock()
	defer t.connMu.Unlock()
	t.conns.Purge()
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

// Connect returns a link to the member. Connections are established lazily, so an
// unreachable peer surfaces on the first request rather than here.
func (t *Transport) Connect(id digest.Digest, to member.Member) (transport.Link, error) {
	conn, err := t.conn(to.Address)
	if err != nil {
		return nil, err
	}
	return &link{t: t, id: id, to: to, conn: conn}, nil
}

func (t *Transport) conn(addr address.Address) (*grpc.ClientConn, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if c, ok := t.conns.Get(addr); ok {
		return c, nil
	}
	c, err := grpc.NewClient("passthrough:///"+addr.String(), t.DialOptions...)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "[grpc] - failed to create client for %s", addr), transport.ErrUnreachable)
	}
	t.conns.Add(addr, c)
	return c, nil
}

// evict closes connections dropped from the cache. Requests still using one fail
// and count as a failed round.
func (t *Transport) evict(addr address.Address, c *grpc.ClientConn) {
	if err := c.Close(); err != nil {
		t.L.Debugw("failed to close connection", "address", addr, "error", err)
	}
}

func (t *Transport) service(id digest.Digest) (transport.Service, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	svc, ok := t.services[id]
	return svc, ok
}

// |||||| CLIENT ||||||

type link struct {
	t    *Transport
	id   digest.Digest
	to   member.Member
	conn *grpc.ClientConn
}

func (l *link) Member() member.Member { return l.to }

func (l *link) Gossip(ctx context.Context, req message.Gossip) (message.Reconcile, error) {
	res := &reconcileResponse{}
	if err := l.conn.Invoke(l.outgoing(ctx), gossipMethod, &gossipRequest{Gossip: req}, res, grpc.ForceCodec(codec{})); err != nil {
		return message.Reconcile{}, translateErr(err)
	}
	return res.Reconcile, nil
}

func (l *link) Update(ctx context.Context, req message.Update) error {
	return translateErr(l.conn.Invoke(l.outgoing(ctx), updateMethod, &updateRequest{Update: req}, &ack{}, grpc.ForceCodec(codec{})))
}

// Close leaves the connection in the cache for the next round.
func (l *link) Close() error { return nil }

func (l *link) outgoing(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, fromKey, l.t.Self.String(), contextKey, l.id.String())
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return errors.Mark(err, transport.ErrUnavailable)
	}
	return errors.Mark(err, transport.ErrUnreachable)
}

// |||||| SERVER ||||||

type handler struct{ t *Transport }

var _ broadcastServer = (*handler)(nil)

func (h *handler) Gossip(ctx context.Context, req *gossipRequest) (*reconcileResponse, error) {
	svc, from, err := h.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return &reconcileResponse{Reconcile: svc.Gossip(ctx, from, req.Gossip)}, nil
}

func (h *handler) Update(ctx context.Context, req *updateRequest) (*ack, error) {
	svc, from, err := h.resolve(ctx)
	if err != nil {
		return nil, err
	}
	svc.Update(ctx, from, req.Update)
	return &ack{}, nil
}

// resolve reads the caller and broadcast context from the request metadata.
func (h *handler) resolve(ctx context.Context) (transport.Service, member.ID, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	from, err := parseDigest(md.Get(fromKey))
	if err != nil {
		return nil, member.ID{}, status.Error(codes.InvalidArgument, "missing or malformed caller")
	}
	id, err := parseDigest(md.Get(contextKey))
	if err != nil {
		return nil, member.ID{}, status.Error(codes.InvalidArgument, "missing or malformed broadcast context")
	}
	svc, ok := h.t.service(id)
	if !ok {
		return nil, member.ID{}, status.Errorf(codes.NotFound, "no broadcast context %s", id.Short())
	}
	return svc, from, nil
}

func parseDigest(vals []string) (digest.Digest, error) {
	if len(vals) != 1 {
		return digest.Zero, errors.New("[grpc] - expected a single value")
	}
	b, err := hex.DecodeString(vals[0])
	if err != nil {
		return digest.Zero, err
	}
	return digest.FromBytes(b)
}
