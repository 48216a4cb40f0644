// Package conn implements the dual-stream Connection state machine:
// a message channel and a file channel, optionally TLS-wrapped, with
// four cooperative I/O tasks spawned once both sockets are up.
package conn

import (
	"errors"
	"net/netip"

	"github.com/samharper/streampeer/pkg/wire"
)

// State is the Connection's lifecycle state, transitioning
// DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTING ->
// DISCONNECTED and never backward while the object is alive.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Endpoints names the local address and the two ports: MessagePort is
// the message channel, FilePort is the file channel.
type Endpoints struct {
	Addr        netip.Addr
	MessagePort uint16
	FilePort    uint16
}

// Config holds the transport-tunable knobs named in the external
// interface: buffer sizing and the download directory the
// receive-file task writes into.
type Config struct {
	// DownloadDir is where received files land. Created if absent.
	DownloadDir string

	// FileBufferSize is the chunk size used streaming file bytes in
	// both directions. Fixed at 128 KiB by default, matching the
	// reference design.
	FileBufferSize int

	// MaxFullPackageSize is an advisory soft cap on non-file package
	// body size; it is not enforced (see DESIGN.md — the open
	// question of whether this is a hard cap is resolved as "no").
	MaxFullPackageSize int
}

func NewConfig() *Config {
	return &Config{
		FileBufferSize:     128 * 1024,
		MaxFullPackageSize: 64 * 1024,
	}
}

// Callbacks are invoked synchronously on the goroutine running Start
// or Seek, which does not return until they do; keep them fast and
// non-blocking.
type Callbacks struct {
	// OnConnected fires once both sockets (and, for TLS, both
	// handshakes) have completed, right after the four tasks spawn.
	OnConnected func()

	// OnSeekEstablished fires once Seek has bound both acceptors,
	// carrying the actually-bound address and ports so the caller can
	// advertise them to the peer, before the first inbound connection
	// is accepted.
	OnSeekEstablished func(Endpoints)
}

var (
	ErrAlreadyStarted   = errors.New("conn: already started")
	ErrNotConnected     = errors.New("conn: not connected")
	ErrUnknownRequestID = errors.New("conn: unknown request id")
	ErrSourceNotFound   = errors.New("conn: source file not found")
)

// Handle identifies which Connection a package came in on, handed
// back to callers of the shared inbound queue. The handle is the
// *tcpConnection or *tlsConnection itself, which satisfies this
// trivially since it is just `any`.
type Handle = any

// Connection is the capability set shared by the TCP and TLS
// transport variants: dial, accept, send, request a file, tear down.
type Connection interface {
	// Start dials addr:ports, connecting the message socket first and
	// then the file socket (completing TLS handshakes as it goes).
	Start(addr netip.Addr, ports Endpoints) error

	// Seek binds local acceptors (ephemeral if a port is 0), invokes
	// Callbacks.OnSeekEstablished once bound, then awaits one inbound
	// connection pair.
	Seek(ports Endpoints) error

	// Send enqueues pkg on the outbound message queue.
	Send(pkg *wire.Package) error

	// RequestFile mints a request id, remembers destFilename for it,
	// and sends a FILE_REQUEST package naming sourcePath.
	RequestFile(sourcePath, destFilename string) (requestID int64, err error)

	Disconnect() error
	Destroy() error

	State() State
	LocalEndpoints() Endpoints
}
