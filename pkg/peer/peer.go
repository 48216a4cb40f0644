// Package peer implements PeerClient: the per-peer coordination layer
// that owns the executor, the incoming-package queue, the
// type-indexed handler table, and the worker that dispatches received
// packages. It constructs at most one Connection at a time and knows
// nothing about TCP vs TLS beyond which constructor to call.
package peer

import (
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net/netip"
	"sync"

	"github.com/glycerine/base58"
	"github.com/glycerine/idem"

	"github.com/samharper/streampeer/internal/xlog"
	"github.com/samharper/streampeer/pkg/certs"
	"github.com/samharper/streampeer/pkg/conn"
	"github.com/samharper/streampeer/pkg/inqueue"
	"github.com/samharper/streampeer/pkg/localip"
	"github.com/samharper/streampeer/pkg/wire"
)

// TransportMode selects the Connection variant PeerClient builds.
type TransportMode int

const (
	TCP TransportMode = iota
	TLS
)

// Role mirrors the original design's ClientRole. It is carried in
// Config only; PeerClient does not read it. The connect-vs-accept
// decision, and with it the side of the TLS handshake, is made per
// call: Connect runs the client side, SeekLocal the server side.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ConnectionMode selects whether SeekLocal restricts itself to the
// host's private IPv4 (LocalNetwork) or binds on all interfaces
// (GlobalNetwork), per the original design's ConnectionMode.
type ConnectionMode int

const (
	LocalNetwork ConnectionMode = iota
	GlobalNetwork
)

// HandlerFunc is invoked by the dispatch goroutine for every inbound
// non-file package of the matching message type, in arrival order.
type HandlerFunc func(pkg *wire.Package)

// Config configures a PeerClient. NumMessageTypes bounds the handler
// table; AddHandler panics (a startup misconfiguration, not a runtime
// fault) if asked to register past that bound.
type Config struct {
	Transport       TransportMode
	Role            Role
	ConnectionMode  ConnectionMode
	CertDir         string
	NumMessageTypes int
	Conn            conn.Config
}

func NewConfig() *Config {
	return &Config{
		Transport:      TCP,
		Role:           RoleClient,
		ConnectionMode: LocalNetwork,
		Conn:           *conn.NewConfig(),
	}
}

// PeerClient owns the executor, the worker pool, a single Connection
// at a time, the shared inbound queue and the handler table.
type PeerClient struct {
	cfg Config
	id  string

	inbound *inqueue.Queue
	halt    *idem.Halter

	mu         sync.Mutex
	activeConn conn.Connection

	handlersMu sync.RWMutex
	handlers   map[wire.MessageType]HandlerFunc

	tlsCfg *tls.Config
}

// New constructs an idle PeerClient and starts its dispatch
// goroutine; there is no Connection yet until Connect or SeekLocal is
// called.
func New(cfg Config) *PeerClient {
	p := &PeerClient{
		cfg:      cfg,
		id:       mintHandle(),
		inbound:  inqueue.New(),
		halt:     idem.NewHalter(),
		handlers: make(map[wire.MessageType]HandlerFunc),
	}
	go p.dispatchLoop()
	return p
}

func mintHandle() string {
	var b [9]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "peer"
	}
	return base58.Encode(b[:])
}

// ID is a short, human-displayable token for log lines; it carries no
// protocol meaning.
func (p *PeerClient) ID() string { return p.id }

// AddHandler registers fn for msgType. Call before Connect/SeekLocal;
// registering out of NumMessageTypes range is a startup
// misconfiguration, not a recoverable runtime error.
func (p *PeerClient) AddHandler(msgType wire.MessageType, fn HandlerFunc) {
	if p.cfg.NumMessageTypes > 0 && int(msgType) >= p.cfg.NumMessageTypes {
		xlog.PanicOn(fmt.Errorf("peer: message type %d out of range [0,%d)", msgType, p.cfg.NumMessageTypes))
	}
	p.handlersMu.Lock()
	p.handlers[msgType] = fn
	p.handlersMu.Unlock()
}

func (p *PeerClient) dispatchLoop() {
	defer p.halt.Done.Close()
	for {
		for {
			pkg, _, ok := p.inbound.TryDequeue()
			if !ok {
				break
			}
			p.dispatch(pkg)
		}
		select {
		case <-p.inbound.Notify():
		case <-p.halt.ReqStop.Chan:
			return
		}
	}
}

func (p *PeerClient) dispatch(pkg *wire.Package) {
	p.handlersMu.RLock()
	fn := p.handlers[pkg.Header.Type]
	p.handlersMu.RUnlock()
	if fn != nil {
		fn(pkg)
	}
}

func (p *PeerClient) callbacks() conn.Callbacks {
	return conn.Callbacks{
		OnConnected: func() {
			xlog.V("peer %s: connected", p.id)
		},
	}
}

// ensureTLSConfig bootstraps the certificate directory and builds the
// *tls.Config used by every TLS Connection this client creates,
// generating a key pair on first use.
func (p *PeerClient) ensureTLSConfig() error {
	if p.tlsCfg != nil {
		return nil
	}
	dir := p.cfg.CertDir
	if dir == "" {
		dir = certs.DefaultDir()
	}
	if err := certs.EnsureValid(dir); err != nil {
		return fmt.Errorf("peer: tls bootstrap: %w", err)
	}
	tlsCfg, err := certs.BuildConfig(dir)
	if err != nil {
		return fmt.Errorf("peer: tls config: %w", err)
	}
	p.tlsCfg = tlsCfg
	return nil
}

// newConnection builds (but does not start) a Connection of the
// configured transport using cb, bootstrapping TLS material on first
// use.
func (p *PeerClient) newConnection(cb conn.Callbacks) (conn.Connection, error) {
	switch p.cfg.Transport {
	case TLS:
		if err := p.ensureTLSConfig(); err != nil {
			return nil, err
		}
		return conn.NewTLS(p.cfg.Conn, cb, p.inbound, p.tlsCfg), nil
	default:
		return conn.NewTCP(p.cfg.Conn, cb, p.inbound), nil
	}
}

// Connect dials addr:ports (message channel first, then file
// channel), completing TLS handshakes if configured for TLS.
func (p *PeerClient) Connect(addr netip.Addr, ports conn.Endpoints) error {
	c, err := p.newConnection(p.callbacks())
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.activeConn = c
	p.mu.Unlock()
	return c.Start(addr, ports)
}

// SeekLocal discovers the host's private IPv4 (unless ConnectionMode
// is GlobalNetwork, in which case it binds on all interfaces), binds
// ephemeral acceptors, and awaits one inbound connection pair.
// advertise is invoked with the bound address and ports once the
// acceptors are up, so the caller can tell the peer where to dial.
func (p *PeerClient) SeekLocal(advertise func(conn.Endpoints)) error {
	var bindAddr netip.Addr
	if p.cfg.ConnectionMode == GlobalNetwork {
		bindAddr = netip.IPv4Unspecified()
	} else {
		addr, err := localip.PrivateIPv4()
		if err != nil {
			xlog.VV("peer: seek_local: %v", err)
			return nil
		}
		bindAddr = addr
	}

	cb := p.callbacks()
	cb.OnSeekEstablished = func(ep conn.Endpoints) {
		if advertise != nil {
			advertise(ep)
		}
	}

	c, err := p.newConnection(cb)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.activeConn = c
	p.mu.Unlock()

	return c.Seek(conn.Endpoints{Addr: bindAddr, MessagePort: 0, FilePort: 0})
}

// Send builds a one-field-string package of msgType and hands it to
// the active Connection; use SendPackage for anything richer.
func (p *PeerClient) Send(msgType wire.MessageType, body string) error {
	pkg, err := wire.NewBuilder(msgType).AppendString(body).Build()
	if err != nil {
		return err
	}
	return p.SendPackage(pkg)
}

// SendPackage hands an already-built package to the active
// Connection.
func (p *PeerClient) SendPackage(pkg *wire.Package) error {
	c := p.conn()
	if c == nil {
		return conn.ErrNotConnected
	}
	return c.Send(pkg)
}

// RequestFile forwards to the active Connection.
func (p *PeerClient) RequestFile(sourcePath, destFilename string) (int64, error) {
	c := p.conn()
	if c == nil {
		return 0, conn.ErrNotConnected
	}
	return c.RequestFile(sourcePath, destFilename)
}

// Disconnect forwards to the active Connection, if any.
func (p *PeerClient) Disconnect() error {
	c := p.conn()
	if c == nil {
		return nil
	}
	return c.Disconnect()
}

// Close disconnects the active Connection, stops the executor, and
// joins the dispatch worker.
func (p *PeerClient) Close() error {
	c := p.conn()
	if c != nil {
		c.Destroy()
	}
	p.halt.ReqStop.Close()
	<-p.halt.Done.Chan
	return nil
}

func (p *PeerClient) conn() conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeConn
}

// State reports the active Connection's state, or Disconnected if
// none has been created yet.
func (p *PeerClient) State() conn.State {
	c := p.conn()
	if c == nil {
		return conn.Disconnected
	}
	return c.State()
}

// LocalEndpoints reports the active Connection's bound endpoints.
func (p *PeerClient) LocalEndpoints() conn.Endpoints {
	c := p.conn()
	if c == nil {
		return conn.Endpoints{}
	}
	return c.LocalEndpoints()
}
