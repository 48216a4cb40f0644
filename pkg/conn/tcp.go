package conn

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/samharper/streampeer/internal/xlog"
	"github.com/samharper/streampeer/pkg/inqueue"
)

// tcpConnection is the plain-TCP Connection variant: no handshake
// step; disconnect simply closes both sockets, tolerating the benign
// close-related error set.
type tcpConnection struct {
	*base
}

// NewTCP constructs an idle, DISCONNECTED TCP Connection. inbound is
// the shared queue its receive-message task deposits non-file
// packages onto.
func NewTCP(cfg Config, cb Callbacks, inbound *inqueue.Queue) Connection {
	c := &tcpConnection{base: newBase(cfg, cb, inbound)}
	c.handle = Handle(c)
	c.shutdownFn = c.closeSockets
	return c
}

// wrapConnForTest, when non-nil, wraps every socket a tcpConnection
// dials or accepts before it is stored on msgConn/fileConn. Tests use
// this seam to instrument writes (e.g. to detect two goroutines
// writing the same socket at once) without touching the dial/accept
// path itself.
var wrapConnForTest func(net.Conn) net.Conn

func wrapConn(c net.Conn) net.Conn {
	if wrapConnForTest != nil {
		return wrapConnForTest(c)
	}
	return c
}

func (c *tcpConnection) closeSockets() {
	if c.msgConn != nil {
		c.msgConn.Close()
	}
	if c.fileConn != nil {
		c.fileConn.Close()
	}
}

// Start dials the message socket, then the file socket; both must
// succeed or the attempt fails and the state falls back to
// DISCONNECTED.
func (c *tcpConnection) Start(addr netip.Addr, ports Endpoints) error {
	if !c.beginConnecting() {
		xlog.VV("conn: tcp Start: %v", ErrAlreadyStarted)
		return ErrAlreadyStarted
	}

	msgAddr := netip.AddrPortFrom(addr, ports.MessagePort).String()
	fileAddr := netip.AddrPortFrom(addr, ports.FilePort).String()

	msgConn, err := net.Dial("tcp", msgAddr)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("conn: tcp dial message socket: %w", err)
	}
	fileConn, err := net.Dial("tcp", fileAddr)
	if err != nil {
		msgConn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("conn: tcp dial file socket: %w", err)
	}

	c.local = localEndpointsOf(msgConn, fileConn)
	c.msgConn = wrapConn(msgConn)
	c.fileConn = wrapConn(fileConn)
	c.spawnFourTasks()
	return nil
}

// Seek binds two TCP listeners (ephemeral if the requested port is 0),
// reports the bound endpoints via OnSeekEstablished, then accepts
// exactly one inbound connection on each.
func (c *tcpConnection) Seek(ports Endpoints) error {
	if !c.beginConnecting() {
		xlog.VV("conn: tcp Seek: %v", ErrAlreadyStarted)
		return ErrAlreadyStarted
	}

	msgLn, err := net.Listen("tcp", netip.AddrPortFrom(ports.Addr, ports.MessagePort).String())
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("conn: tcp listen message socket: %w", err)
	}
	fileLn, err := net.Listen("tcp", netip.AddrPortFrom(ports.Addr, ports.FilePort).String())
	if err != nil {
		msgLn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("conn: tcp listen file socket: %w", err)
	}
	defer msgLn.Close()
	defer fileLn.Close()

	bound := Endpoints{
		Addr:        ports.Addr,
		MessagePort: uint16(msgLn.Addr().(*net.TCPAddr).Port),
		FilePort:    uint16(fileLn.Addr().(*net.TCPAddr).Port),
	}
	c.local = bound
	if c.callbacks.OnSeekEstablished != nil {
		c.callbacks.OnSeekEstablished(bound)
	}

	msgConn, err := msgLn.Accept()
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("conn: tcp accept message socket: %w", err)
	}
	fileConn, err := fileLn.Accept()
	if err != nil {
		msgConn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("conn: tcp accept file socket: %w", err)
	}

	c.msgConn = wrapConn(msgConn)
	c.fileConn = wrapConn(fileConn)
	c.spawnFourTasks()
	return nil
}

func (c *tcpConnection) Disconnect() error {
	c.disconnectCommon()
	return nil
}

func (c *tcpConnection) Destroy() error {
	c.destroyCommon()
	return nil
}

// beginConnecting CASes DISCONNECTED to CONNECTING, the only legal
// starting point for both Start and Seek.
func (b *base) beginConnecting() bool {
	return b.state.CompareAndSwap(int32(Disconnected), int32(Connecting))
}

func localEndpointsOf(msgConn, fileConn net.Conn) Endpoints {
	var ep Endpoints
	if la, ok := msgConn.LocalAddr().(*net.TCPAddr); ok {
		ep.Addr, _ = netip.AddrFromSlice(la.IP)
		ep.Addr = ep.Addr.Unmap()
		ep.MessagePort = uint16(la.Port)
	}
	if la, ok := fileConn.LocalAddr().(*net.TCPAddr); ok {
		ep.FilePort = uint16(la.Port)
	}
	return ep
}
