package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/samharper/streampeer/internal/xlog"
	"github.com/samharper/streampeer/pkg/inqueue"
)

const handshakeTimeout = 20 * time.Second

// tlsConnection is the TLS-over-TCP Connection variant. Both sockets
// must complete their handshake before the connection is CONNECTED;
// disconnect attempts a graceful async_shutdown-equivalent
// (tls.Conn.Close already sends a close_notify) before closing,
// tolerating the benign error set.
type tlsConnection struct {
	*base
	tlsCfg *tls.Config
}

// NewTLS constructs an idle, DISCONNECTED TLS Connection using tlsCfg
// (see pkg/certs.BuildConfig) for both dialing and accepting.
func NewTLS(cfg Config, cb Callbacks, inbound *inqueue.Queue, tlsCfg *tls.Config) Connection {
	c := &tlsConnection{base: newBase(cfg, cb, inbound), tlsCfg: tlsCfg}
	c.handle = Handle(c)
	c.shutdownFn = c.shutdownSockets
	return c
}

func (c *tlsConnection) shutdownSockets() {
	for _, conn := range []net.Conn{c.msgConn, c.fileConn} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && !isBenignShutdown(err) {
			xlog.V("conn: tls shutdown: %v", err)
		}
	}
}

func (c *tlsConnection) Start(addr netip.Addr, ports Endpoints) error {
	if !c.beginConnecting() {
		xlog.VV("conn: tls Start: %v", ErrAlreadyStarted)
		return ErrAlreadyStarted
	}

	msgAddr := netip.AddrPortFrom(addr, ports.MessagePort).String()
	fileAddr := netip.AddrPortFrom(addr, ports.FilePort).String()

	msgConn, err := c.dialAndHandshake(msgAddr)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("conn: tls dial message socket: %w", err)
	}
	fileConn, err := c.dialAndHandshake(fileAddr)
	if err != nil {
		msgConn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("conn: tls dial file socket: %w", err)
	}

	c.msgConn = msgConn
	c.fileConn = fileConn
	c.local = localEndpointsOf(msgConn, fileConn)
	c.spawnFourTasks()
	return nil
}

func (c *tlsConnection) dialAndHandshake(addr string) (*tls.Conn, error) {
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Client(raw, c.tlsCfg)
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

func (c *tlsConnection) Seek(ports Endpoints) error {
	if !c.beginConnecting() {
		xlog.VV("conn: tls Seek: %v", ErrAlreadyStarted)
		return ErrAlreadyStarted
	}

	msgLn, err := net.Listen("tcp", netip.AddrPortFrom(ports.Addr, ports.MessagePort).String())
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("conn: tls listen message socket: %w", err)
	}
	fileLn, err := net.Listen("tcp", netip.AddrPortFrom(ports.Addr, ports.FilePort).String())
	if err != nil {
		msgLn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("conn: tls listen file socket: %w", err)
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

	msgConn, err := c.acceptAndHandshake(msgLn)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("conn: tls accept message socket: %w", err)
	}
	fileConn, err := c.acceptAndHandshake(fileLn)
	if err != nil {
		msgConn.Close()
		c.setState(Disconnected)
		return fmt.Errorf("conn: tls accept file socket: %w", err)
	}

	c.msgConn = msgConn
	c.fileConn = fileConn
	c.spawnFourTasks()
	return nil
}

func (c *tlsConnection) acceptAndHandshake(ln net.Listener) (*tls.Conn, error) {
	raw, err := ln.Accept()
	if err != nil {
		return nil, err
	}
	tlsConn := tls.Server(raw, c.tlsCfg)
	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}

func (c *tlsConnection) Disconnect() error {
	c.disconnectCommon()
	return nil
}

func (c *tlsConnection) Destroy() error {
	c.destroyCommon()
	return nil
}
