package conn

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/glycerine/idem"

	"github.com/samharper/streampeer/internal/xlog"
	"github.com/samharper/streampeer/pkg/cmap"
	"github.com/samharper/streampeer/pkg/inqueue"
	"github.com/samharper/streampeer/pkg/pflag"
	"github.com/samharper/streampeer/pkg/wire"
)

// base holds everything the four I/O tasks need that does not differ
// between the plain-TCP and TLS-over-TCP variants: both sockets are
// just net.Conn once connected, and the routing/queueing/await-flag
// machinery around them is identical either way. Only dialing,
// accepting, handshaking and the graceful-shutdown error tolerance
// set are transport-specific (see tcp.go, tls.go).
type base struct {
	cfg       Config
	callbacks Callbacks
	inbound   *inqueue.Queue
	handle    Handle

	halt *idem.Halter

	sendMessageFlag *pflag.Flag
	sendFileFlag    *pflag.Flag
	receiveFileFlag *pflag.Flag

	state atomic.Int32

	msgConn  net.Conn
	fileConn net.Conn

	local Endpoints

	outMu    sync.Mutex
	outQueue []*wire.Package

	fileReqMu    sync.Mutex
	fileReqQueue []*wire.Package

	fileInfoMu    sync.Mutex
	fileInfoQueue []*wire.Package

	pending       *cmap.Map[int64, string]
	nextRequestID atomic.Int64

	// shutdownFn performs the transport-specific socket teardown
	// (plain close for TCP, async_shutdown-then-close tolerance for
	// TLS); set once by the NewTCP/NewTLS constructor, and it skips
	// whichever socket does not exist yet.
	shutdownFn func()

	wg sync.WaitGroup
}

func newBase(cfg Config, cb Callbacks, inbound *inqueue.Queue) *base {
	return &base{
		cfg:             cfg,
		callbacks:       cb,
		inbound:         inbound,
		halt:            idem.NewHalter(),
		sendMessageFlag: pflag.New(),
		sendFileFlag:    pflag.New(),
		receiveFileFlag: pflag.New(),
		pending:         cmap.New[int64, string](),
	}
}

func (b *base) State() State              { return State(b.state.Load()) }
func (b *base) setState(s State)          { b.state.Store(int32(s)) }
func (b *base) LocalEndpoints() Endpoints { return b.local }

func (b *base) Send(pkg *wire.Package) error {
	if b.State() != Connected {
		return ErrNotConnected
	}
	b.outMu.Lock()
	b.outQueue = append(b.outQueue, pkg)
	b.outMu.Unlock()
	b.sendMessageFlag.Signal()
	return nil
}

func (b *base) RequestFile(sourcePath, destFilename string) (int64, error) {
	if b.State() != Connected {
		return 0, ErrNotConnected
	}
	id := b.nextRequestID.Add(1)
	b.pending.InsertOrAssign(id, destFilename)
	pkg, err := buildFileRequest(id, sourcePath)
	if err != nil {
		b.pending.Erase(id)
		return 0, err
	}
	if err := b.Send(pkg); err != nil {
		b.pending.Erase(id)
		return 0, err
	}
	return id, nil
}

// beginDisconnect CASes CONNECTING or CONNECTED to DISCONNECTING,
// reporting whether this call won the race. A Connection already
// DISCONNECTED or DISCONNECTING no-ops, making disconnect idempotent
// (P7) under concurrent callers.
func (b *base) beginDisconnect() bool {
	for {
		cur := State(b.state.Load())
		if cur == Disconnected || cur == Disconnecting {
			return false
		}
		if b.state.CompareAndSwap(int32(cur), int32(Disconnecting)) {
			return true
		}
	}
}

// disconnectCommon runs the shared half of disconnect: the
// transport-specific socket teardown, then the state transition to
// DISCONNECTED and waking every task parked on a flag. It does not
// wait for the tasks to exit, since it is itself called from within
// one of those tasks on the error path; callers invoking disconnect
// from outside the tasks (PeerClient, tests) should follow with
// Destroy if they need to join.
func (b *base) disconnectCommon() {
	if !b.beginDisconnect() {
		return
	}
	if b.shutdownFn != nil {
		b.shutdownFn()
	}
	b.setState(Disconnected)
	b.sendMessageFlag.Signal()
	b.sendFileFlag.Signal()
	b.receiveFileFlag.Signal()
}

// destroyCommon disconnects, requests the halt, and joins the four
// tasks. Safe to call from outside the tasks only.
func (b *base) destroyCommon() {
	b.disconnectCommon()
	b.halt.ReqStop.Close()
	b.wg.Wait()
	b.halt.Done.Close()
}

// spawnFourTasks starts the receive-message, receive-file,
// send-message and send-file goroutines and invokes OnConnected.
// Called once both sockets (and, for TLS, both handshakes) are up.
func (b *base) spawnFourTasks() {
	b.setState(Connected)
	b.wg.Add(4)
	go b.receiveMessageTask()
	go b.sendMessageTask()
	go b.receiveFileTask()
	go b.sendFileTask()
	if b.callbacks.OnConnected != nil {
		b.callbacks.OnConnected()
	}
}

// waitFlag parks until f is signalled or the halt is requested,
// returning true if the halt fired first.
func (b *base) waitFlag(f *pflag.Flag) (stopped bool) {
	for {
		wake, isSet := f.Snapshot()
		if isSet {
			return false
		}
		select {
		case <-wake:
		case <-b.halt.ReqStop.Chan:
			return true
		}
	}
}

func readPackage(c net.Conn) (wire.Header, []byte, error) {
	var hb [wire.HeaderSize]byte
	if _, err := io.ReadFull(c, hb[:]); err != nil {
		return wire.Header{}, nil, err
	}
	var h wire.Header
	if err := h.UnmarshalBinary(hb[:]); err != nil {
		return wire.Header{}, nil, err
	}
	body := make([]byte, h.Size)
	if h.Size > 0 {
		if _, err := io.ReadFull(c, body); err != nil {
			return wire.Header{}, nil, err
		}
	}
	return h, body, nil
}

func writePackage(c net.Conn, pkg *wire.Package) error {
	bufs := net.Buffers{pkg.Header.MarshalBinary()}
	if pkg.Header.Size > 0 {
		bufs = append(bufs, pkg.RawBody())
	}
	_, err := bufs.WriteTo(c)
	return err
}

// 4.3.1 receive-message: loop reading frames off the message socket,
// routing FILE_REQUEST/FILE_RECEIVE_INFO to their internal deques and
// everything else to the shared inbound queue.
func (b *base) receiveMessageTask() {
	defer b.wg.Done()
	for b.State() == Connected {
		h, body, err := readPackage(b.msgConn)
		if err != nil {
			b.logIOError("receive-message", err)
			b.disconnectCommon()
			return
		}
		pkg, err := wire.NewReader(h, body)
		if err != nil {
			xlog.VV("conn: receive-message: malformed frame: %v", err)
			continue
		}
		switch {
		case h.Flags.Has(wire.FlagFileReceiveInfo):
			b.fileInfoMu.Lock()
			b.fileInfoQueue = append(b.fileInfoQueue, pkg)
			b.fileInfoMu.Unlock()
			b.receiveFileFlag.Signal()
		case h.Flags.Has(wire.FlagFileRequest):
			b.fileReqMu.Lock()
			b.fileReqQueue = append(b.fileReqQueue, pkg)
			b.fileReqMu.Unlock()
			b.sendFileFlag.Signal()
		default:
			b.inbound.Enqueue(pkg, b.handle)
		}
	}
}

// 4.3.2 send-message: wait for work, drain the outbound queue FIFO,
// write each package as a gathered header+body write.
func (b *base) sendMessageTask() {
	defer b.wg.Done()
	for {
		if b.State() != Connected {
			return
		}
		pkg := b.dequeueOutbound()
		if pkg == nil {
			if b.waitFlag(b.sendMessageFlag) {
				return
			}
			b.sendMessageFlag.Reset()
			continue
		}
		if err := writePackage(b.msgConn, pkg); err != nil {
			b.logIOError("send-message", err)
			b.disconnectCommon()
			return
		}
	}
}

func (b *base) dequeueOutbound() *wire.Package {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	if len(b.outQueue) == 0 {
		return nil
	}
	pkg := b.outQueue[0]
	b.outQueue = b.outQueue[1:]
	return pkg
}

func (b *base) dequeueFileInfo() *wire.Package {
	b.fileInfoMu.Lock()
	defer b.fileInfoMu.Unlock()
	if len(b.fileInfoQueue) == 0 {
		return nil
	}
	pkg := b.fileInfoQueue[0]
	b.fileInfoQueue = b.fileInfoQueue[1:]
	return pkg
}

func (b *base) dequeueFileRequest() *wire.Package {
	b.fileReqMu.Lock()
	defer b.fileReqMu.Unlock()
	if len(b.fileReqQueue) == 0 {
		return nil
	}
	pkg := b.fileReqQueue[0]
	b.fileReqQueue = b.fileReqQueue[1:]
	return pkg
}

// 4.3.3 receive-file: for each queued FILE_RECEIVE_INFO, resolve the
// destination filename the requester remembered, then copy exactly
// byte_count bytes off the file socket onto disk.
func (b *base) receiveFileTask() {
	defer b.wg.Done()
	for {
		if b.State() != Connected {
			return
		}
		infoPkg := b.dequeueFileInfo()
		if infoPkg == nil {
			if b.waitFlag(b.receiveFileFlag) {
				return
			}
			b.receiveFileFlag.Reset()
			continue
		}
		requestID, byteCount, err := parseFileReceiveInfo(infoPkg)
		if err != nil {
			xlog.VV("conn: receive-file: malformed info package: %v", err)
			continue
		}
		destName, ok := b.pending.Get(requestID)
		if !ok {
			xlog.VV("conn: receive-file: unknown request id %d", requestID)
			b.disconnectCommon()
			return
		}
		b.pending.Erase(requestID)
		if err := b.streamToDisk(destName, int64(byteCount)); err != nil {
			xlog.VV("conn: receive-file: %v", err)
			b.disconnectCommon()
			return
		}
	}
}

func (b *base) streamToDisk(destName string, size int64) error {
	if err := os.MkdirAll(b.cfg.DownloadDir, 0700); err != nil {
		return fmt.Errorf("conn: mkdir download dir: %w", err)
	}
	destPath := filepath.Join(b.cfg.DownloadDir, destName)
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("conn: open destination: %w", err)
	}
	defer f.Close()

	bufSize := b.cfg.FileBufferSize
	if bufSize <= 0 {
		bufSize = 128 * 1024
	}
	buf := make([]byte, bufSize)
	remaining := size
	for remaining > 0 {
		want := int64(bufSize)
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(b.fileConn, buf[:want])
		if err != nil {
			return fmt.Errorf("conn: read file bytes: %w", err)
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("conn: write destination: %w", err)
		}
		remaining -= int64(n)
	}
	return nil
}

// 4.3.4 send-file: for each queued FILE_REQUEST, announce the size on
// the message channel via FILE_RECEIVE_INFO, then stream the source
// file's bytes out the file socket.
func (b *base) sendFileTask() {
	defer b.wg.Done()
	for {
		if b.State() != Connected {
			return
		}
		reqPkg := b.dequeueFileRequest()
		if reqPkg == nil {
			if b.waitFlag(b.sendFileFlag) {
				return
			}
			b.sendFileFlag.Reset()
			continue
		}
		requestID, sourcePath, err := parseFileRequest(reqPkg)
		if err != nil {
			xlog.VV("conn: send-file: malformed request package: %v", err)
			continue
		}
		if err := b.streamFromDisk(requestID, sourcePath); err != nil {
			xlog.VV("conn: send-file: %v", err)
			b.disconnectCommon()
			return
		}
	}
}

func (b *base) streamFromDisk(requestID int64, sourcePath string) error {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourcePath)
	}
	f, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("conn: open source: %w", err)
	}
	defer f.Close()

	size := info.Size()
	infoPkg, err := buildFileReceiveInfo(requestID, uint32(size))
	if err != nil {
		return err
	}
	if err := b.Send(infoPkg); err != nil {
		return err
	}

	bufSize := b.cfg.FileBufferSize
	if bufSize <= 0 {
		bufSize = 128 * 1024
	}
	buf := make([]byte, bufSize)
	remaining := size
	for remaining > 0 {
		want := int64(bufSize)
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(f, buf[:want])
		if err != nil {
			return fmt.Errorf("conn: read source: %w", err)
		}
		if _, err := b.fileConn.Write(buf[:n]); err != nil {
			return fmt.Errorf("conn: write file bytes: %w", err)
		}
		remaining -= int64(n)
	}
	return nil
}

func (b *base) logIOError(task string, err error) {
	if isBenignShutdown(err) {
		xlog.V("conn: %s: peer shutdown: %v", task, err)
	} else {
		xlog.VV("conn: %s: error: %v", task, err)
	}
}
