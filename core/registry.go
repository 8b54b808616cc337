package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Registry tracks live connections per authenticated identity. It owns
// the authentication handshake: a connection is upgraded and registered
// only after its credential resolves to an Identity and its room
// subscriptions are established, so fan-out never observes a
// half-registered connection.
type Registry struct {
	verifier CredentialVerifier
	index    *RoomIndex
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu     sync.RWMutex
	conns  map[string][]*Conn
	nextID atomic.Int64

	inbound chan *Event
	wg      sync.WaitGroup
	baseCtx context.Context

	handshakeTimeout time.Duration
	sendBuffer       int
	closeTimeout     time.Duration

	onIdentityOnline  func(context.Context, Identity)
	onIdentityOffline func(context.Context, Identity)
	onConnect         func(context.Context, *Conn)
}

type RegistryOption func(*Registry)

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

func WithBaseContext(ctx context.Context) RegistryOption {
	return func(r *Registry) {
		r.baseCtx = ctx
	}
}

func WithHandshakeTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		r.handshakeTimeout = d
	}
}

func WithSendBuffer(n int) RegistryOption {
	return func(r *Registry) {
		r.sendBuffer = n
	}
}

func WithCheckOrigin(f func(r *http.Request) bool) RegistryOption {
	return func(r *Registry) {
		r.upgrader.CheckOrigin = f
	}
}

func NewRegistry(verifier CredentialVerifier, index *RoomIndex, opts ...RegistryOption) *Registry {
	r := &Registry{
		verifier:         verifier,
		index:            index,
		upgrader:         defaultUpgrader,
		logger:           slog.Default(),
		conns:            make(map[string][]*Conn),
		inbound:          make(chan *Event, 100),
		baseCtx:          context.Background(),
		handshakeTimeout: 10 * time.Second,
		sendBuffer:       100,
		closeTimeout:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive returns the stream of inbound events from all connections.
func (r *Registry) Receive() <-chan *Event {
	return r.inbound
}

// OnIdentityOnline registers a callback fired when an identity's first
// connection registers.
func (r *Registry) OnIdentityOnline(f func(context.Context, Identity)) {
	r.onIdentityOnline = f
}

// OnIdentityOffline registers a callback fired when an identity's last
// connection closes. It does not fire for intermediate closes.
func (r *Registry) OnIdentityOffline(f func(context.Context, Identity)) {
	r.onIdentityOffline = f
}

// OnConnect registers a callback fired for every registered connection,
// after it is subscribed and visible.
func (r *Registry) OnConnect(f func(context.Context, *Conn)) {
	r.onConnect = f
}

// ServeHTTP authenticates the request, upgrades it to a websocket and
// registers the connection. An invalid credential refuses the
// connection before the upgrade; no partial state is created.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), r.handshakeTimeout)
	defer cancel()

	identity, err := r.verifier.Verify(ctx, bearerToken(req))
	if err != nil {
		if Denial(err) {
			http.Error(w, "authentication failed", http.StatusUnauthorized)
		} else {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	sock, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	conn := r.newConn(sock, identity)
	if err := r.register(ctx, conn); err != nil {
		r.logger.Error(fmt.Sprintf("register %s: %v", identity.Username, err))
		sock.Close()
		return
	}
	r.startConn(conn)
}

func (r *Registry) newConn(sock *websocket.Conn, identity Identity) *Conn {
	id := r.nextID.Add(1)
	return &Conn{
		sock:     sock,
		identity: identity,
		id:       id,
		out:      make(chan *Event, r.sendBuffer),
		inbound:  r.inbound,
		done:     make(chan struct{}),
		ticker:   time.NewTicker(pingPeriod),
		logger:   r.logger.With(slog.String("conn", fmt.Sprintf("%s:%d", identity.Username, id))),
		onClose:  r.unregister,
	}
}

// register subscribes the connection to every room its identity is a
// persisted member of, then makes it visible to fan-out. The online
// edge fires only for the identity's first connection.
func (r *Registry) register(ctx context.Context, c *Conn) error {
	if err := r.index.SubscribeAll(ctx, c); err != nil {
		return fmt.Errorf("SubscribeAll: %w", err)
	}

	r.mu.Lock()
	r.conns[c.identity.ID] = append(r.conns[c.identity.ID], c)
	first := len(r.conns[c.identity.ID]) == 1
	r.mu.Unlock()

	r.logger.Info("connection registered",
		slog.String("user", c.identity.Username), slog.Int64("conn", c.id))

	if first && r.onIdentityOnline != nil {
		r.onIdentityOnline(r.baseCtx, c.identity)
	}
	if r.onConnect != nil {
		r.onConnect(r.baseCtx, c)
	}
	return nil
}

func (r *Registry) startConn(c *Conn) {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer r.wg.Done()
		c.writeLoop()
	}()
}

// unregister removes the connection and re-evaluates presence: the
// offline edge fires only when the identity's connection set empties.
// It is invoked on every transport close, graceful or not.
func (r *Registry) unregister(c *Conn) {
	r.mu.Lock()
	conns, ok := r.conns[c.identity.ID]
	if !ok {
		r.mu.Unlock()
		return
	}
	idx := slices.Index(conns, c)
	if idx == -1 {
		r.mu.Unlock()
		return
	}
	conns = slices.Delete(conns, idx, idx+1)
	last := len(conns) == 0
	if last {
		delete(r.conns, c.identity.ID)
	} else {
		r.conns[c.identity.ID] = conns
	}
	r.mu.Unlock()

	r.index.Drop(c)
	c.close()

	r.logger.Info("connection unregistered",
		slog.String("user", c.identity.Username), slog.Int64("conn", c.id))

	if last && r.onIdentityOffline != nil {
		r.onIdentityOffline(r.baseCtx, c.identity)
	}
}

// ConnectionsOf returns a snapshot of the identity's live connections.
func (r *Registry) ConnectionsOf(identityID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.conns[identityID])
}

func (r *Registry) IsOnline(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[identityID]) > 0
}

// SendToIdentities delivers an event to every live connection of the
// given identities. Delivery failures are isolated per connection: a
// dead or slow connection is killed and the rest still receive the
// event.
func (r *Registry) SendToIdentities(e *Event, identityIDs ...string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range identityIDs {
		for _, c := range r.conns[id] {
			r.sendOrKill(c, e)
		}
	}
}

// SendToConns delivers an event to specific connections.
func (r *Registry) SendToConns(e *Event, conns ...*Conn) {
	for _, c := range conns {
		r.sendOrKill(c, e)
	}
}

// Broadcast delivers an event to every live connection in the registry.
func (r *Registry) Broadcast(e *Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, conns := range r.conns {
		for _, c := range conns {
			r.sendOrKill(c, e)
		}
	}
}

func (r *Registry) sendOrKill(c *Conn, e *Event) {
	if !c.trySend(e) {
		r.logger.Error("send buffer full, dropping connection",
			slog.String("user", c.identity.Username), slog.Int64("conn", c.id))
		if c.sock != nil {
			go c.kill()
		}
	}
}

// Close disconnects every connection and waits for their goroutines to
// exit, up to the close timeout.
func (r *Registry) Close() {
	r.mu.RLock()
	var all []*Conn
	for _, conns := range r.conns {
		all = append(all, conns...)
	}
	r.mu.RUnlock()

	for _, c := range all {
		r.unregister(c)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("registry closed gracefully")
	case <-time.After(r.closeTimeout):
		r.logger.Info("registry closed with timeout")
	}
}

func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return req.URL.Query().Get("token")
}
