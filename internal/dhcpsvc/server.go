package dhcpsvc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// maxPacketLen is the size of the read buffer.  It's the largest UDP payload.
const maxPacketLen = 65535

// Server is the DHCP service serving both address families over the network
// interfaces.
type Server struct {
	logger  *slog.Logger
	conf    *Config
	metrics Metrics
	p6      *processor6
	p4      *processor4
	pool    *workerPool

	// mu protects conns and cancel.
	mu     *sync.Mutex
	conns  []io.Closer
	cancel context.CancelFunc

	// loops tracks the reading goroutines and the reaper.
	loops *sync.WaitGroup
}

// New returns a new properly initialized *Server.  conf must not be nil.
func New(conf *Config) (srv *Server, err error) {
	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("configuration: %w", err)
	}

	srv = &Server{
		logger:  conf.Logger,
		conf:    conf,
		metrics: conf.Metrics,
		pool:    newWorkerPool(conf.Logger, conf.Workers, conf.QueueSize, conf.RequestTimeout),
		mu:      &sync.Mutex{},
		loops:   &sync.WaitGroup{},
	}

	if conf.V6 != nil {
		srv.p6 = newProcessor6(conf)
	}

	if conf.V4 != nil {
		srv.p4 = newProcessor4(conf)
	}

	return srv, nil
}

// type check
var _ Interface = (*Server)(nil)

// Config implements the [Interface] interface for *Server.
func (srv *Server) Config() (conf *Config) {
	return srv.conf
}

// Start implements the [service.Interface] interface for *Server.  It opens
// the connections and starts serving.  ctx is only used for logging.
func (srv *Server) Start(ctx context.Context) (err error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.cancel != nil {
		return errors.Error("already started")
	}

	var c6 map[string]conn6
	var c4 map[string]conn4
	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, closeAll(c6, c4))
		}
	}()

	c6, err = srv.open6()
	if err != nil {
		return fmt.Errorf("opening dhcpv6 connections: %w", err)
	}

	c4, err = srv.open4()
	if err != nil {
		return fmt.Errorf("opening dhcpv4 connections: %w", err)
	}

	baseCtx := context.WithoutCancel(ctx)
	reaperCtx, cancel := context.WithCancel(baseCtx)
	srv.cancel = cancel
	srv.pool.start(baseCtx)

	for name, c := range c6 {
		srv.conns = append(srv.conns, c)
		srv.loops.Add(1)
		go srv.serve6(baseCtx, name, c)
	}

	for name, c := range c4 {
		srv.conns = append(srv.conns, c)
		srv.loops.Add(1)
		go srv.serve4(baseCtx, name, c)
	}

	srv.loops.Add(1)
	go func() {
		defer srv.loops.Done()

		srv.conf.Bindings.RunReaper(reaperCtx, srv.onExpired)
	}()

	srv.logger.InfoContext(ctx, "started", "v6_ifaces", len(c6), "v4_ifaces", len(c4))

	return nil
}

// onExpired passes the expired lease to the processor of its family.
func (srv *Server) onExpired(ctx context.Context, l *lease.Lease) {
	is4 := l.IAType == lease.IATypeV4
	switch {
	case is4 && srv.p4 != nil:
		srv.p4.onExpired(ctx, l)
	case !is4 && srv.p6 != nil:
		srv.p6.onExpired(ctx, l)
	default:
		srv.metrics.AddExpired(ctx, 1)
	}
}

// open6 opens the DHCPv6 connections on the configured interfaces.
func (srv *Server) open6() (conns map[string]conn6, err error) {
	if srv.conf.V6 == nil {
		return nil, nil
	}

	conns = map[string]conn6{}
	for _, name := range srv.conf.V6.Interfaces {
		var iface *net.Interface
		iface, err = net.InterfaceByName(name)
		if err != nil {
			return conns, fmt.Errorf("interface %q: %w", name, err)
		}

		var c conn6
		c, err = newConn6(iface)
		if err != nil {
			return conns, fmt.Errorf("interface %q: %w", name, err)
		}

		conns[name] = c
	}

	return conns, nil
}

// open4 opens the DHCPv4 connections on the configured interfaces.  Each
// interface must have a directly attached link.
func (srv *Server) open4() (conns map[string]conn4, err error) {
	if srv.conf.V4 == nil {
		return nil, nil
	}

	conns = map[string]conn4{}
	for _, name := range srv.conf.V4.Interfaces {
		link := srv.p4.links.byInterface(name)
		if link == nil {
			return conns, fmt.Errorf("interface %q: %w", name, errNoLink)
		}

		var iface *net.Interface
		iface, err = net.InterfaceByName(name)
		if err != nil {
			return conns, fmt.Errorf("interface %q: %w", name, err)
		}

		var c conn4
		c, err = newConn4(iface, link.ServerIP4)
		if err != nil {
			return conns, fmt.Errorf("interface %q: %w", name, err)
		}

		conns[name] = c
	}

	return conns, nil
}

// closeAll closes the connections of both families.
func closeAll(c6 map[string]conn6, c4 map[string]conn4) (err error) {
	var errs []error
	for name, c := range c6 {
		errs = append(errs, errors.Annotate(c.Close(), "closing %q: %w", name))
	}

	for name, c := range c4 {
		errs = append(errs, errors.Annotate(c.Close(), "closing %q: %w", name))
	}

	return errors.Join(errs...)
}

// Shutdown implements the [service.Interface] interface for *Server.  It
// closes the connections and waits for the queued messages to be processed.
func (srv *Server) Shutdown(ctx context.Context) (err error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.cancel == nil {
		return nil
	}

	var errs []error
	for _, c := range srv.conns {
		errs = append(errs, c.Close())
	}

	srv.cancel()
	srv.loops.Wait()
	srv.pool.stop()

	srv.conns, srv.cancel = nil, nil

	err = errors.Join(errs...)
	if err != nil {
		return fmt.Errorf("closing connections: %w", err)
	}

	srv.logger.InfoContext(ctx, "stopped")

	return nil
}

// serve6 reads the DHCPv6 messages from c until it's closed.  It is intended
// to be used as a goroutine.
func (srv *Server) serve6(ctx context.Context, iface string, c conn6) {
	defer srv.loops.Done()
	defer slogutil.RecoverAndLog(ctx, srv.logger)

	l := srv.logger.With(keyFamily, familyV6, keyInterface, iface)
	buf := make([]byte, maxPacketLen)
	for {
		n, src, dst, err := c.readFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			l.ErrorContext(ctx, "reading", slogutil.KeyError, err)

			continue
		}

		data := slices.Clone(buf[:n])
		ok := srv.pool.trySubmit(func(ctx context.Context) {
			srv.handle6(ctx, l.With(keyPeer, src), c, iface, data, src, dst)
		})
		if !ok {
			srv.metrics.IncrementQueueOverflow(ctx, familyV6)
			l.DebugContext(ctx, "queue is full", keyPeer, src)
		}
	}
}

// handle6 processes a single DHCPv6 packet received from src and sends the
// reply back.
func (srv *Server) handle6(
	ctx context.Context,
	l *slog.Logger,
	c conn6,
	iface string,
	data []byte,
	src netip.AddrPort,
	dst netip.Addr,
) {
	start := time.Now()

	pkt, err := srv.conf.V6.Decoder.Decode(data)
	if err != nil {
		l.DebugContext(ctx, "decoding", "dst", dst, slogutil.KeyError, err)
		srv.metrics.ObserveRequest(ctx, familyV6, "malformed", ResultDrop, time.Since(start))

		return
	}

	msgType := pkt.MessageType().String()
	l = l.With(keyMsgType, msgType)
	if msg, ok := pkt.(*dhcp6.Message); ok {
		l = l.With(keyXID, fmt.Sprintf("%06x", msg.TransactionID))
	}

	var result string
	defer func() {
		srv.metrics.ObserveRequest(ctx, familyV6, msgType, result, time.Since(start))
	}()

	reply, err := srv.p6.process(ctx, pkt, iface)
	if err != nil {
		result = logProcessErr(ctx, l, err)

		return
	}

	b, err := dhcp6.Encode(reply)
	if err != nil {
		result = ResultError
		l.ErrorContext(ctx, "encoding reply", slogutil.KeyError, err)

		return
	}

	err = c.writeTo(b, src)
	if err != nil {
		result = ResultError
		l.ErrorContext(ctx, "sending reply", slogutil.KeyError, err)

		return
	}

	result = ResultReply
	l.DebugContext(ctx, "replied", "reply_type", reply.MessageType())
}

// serve4 reads the DHCPv4 messages from c until it's closed.  It is intended
// to be used as a goroutine.
func (srv *Server) serve4(ctx context.Context, iface string, c conn4) {
	defer srv.loops.Done()
	defer slogutil.RecoverAndLog(ctx, srv.logger)

	l := srv.logger.With(keyFamily, familyV4, keyInterface, iface)
	buf := make([]byte, maxPacketLen)
	for {
		n, err := c.readFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}

			l.ErrorContext(ctx, "reading", slogutil.KeyError, err)

			continue
		}

		data := slices.Clone(buf[:n])
		ok := srv.pool.trySubmit(func(ctx context.Context) {
			srv.handle4(ctx, l, c, iface, data)
		})
		if !ok {
			srv.metrics.IncrementQueueOverflow(ctx, familyV4)
			l.DebugContext(ctx, "queue is full")
		}
	}
}

// handle4 processes a single DHCPv4 packet received on iface and sends the
// reply.
func (srv *Server) handle4(ctx context.Context, l *slog.Logger, c conn4, iface string, data []byte) {
	start := time.Now()

	req, err := srv.conf.V4.Decoder.Decode(data)
	if err != nil {
		l.DebugContext(ctx, "decoding", slogutil.KeyError, err)
		srv.metrics.ObserveRequest(ctx, familyV4, "malformed", ResultDrop, time.Since(start))

		return
	}

	msgType := req.MessageType().String()
	l = l.With(
		keyMsgType, msgType,
		keyXID, fmt.Sprintf("%08x", req.TransactionID),
		keyPeer, req.HardwareAddr(),
	)

	var result string
	defer func() {
		srv.metrics.ObserveRequest(ctx, familyV4, msgType, result, time.Since(start))
	}()

	resp, err := srv.p4.process(ctx, req, iface)
	switch {
	case err != nil:
		result = logProcessErr(ctx, l, err)

		return
	case resp == nil:
		result = ResultNoReply

		return
	}

	b, err := resp.Encode()
	if err != nil {
		result = ResultError
		l.ErrorContext(ctx, "encoding reply", slogutil.KeyError, err)

		return
	}

	p := replyPeer(req, resp)
	err = c.send(dhcp4.PadToMin(b), p)
	if err != nil {
		result = ResultError
		l.ErrorContext(ctx, "sending reply", "dst", p, slogutil.KeyError, err)

		return
	}

	result = ResultReply
	l.DebugContext(ctx, "replied", "reply_type", resp.MessageType(), "dst", p)
}

// logProcessErr logs the processing error and returns the corresponding
// result.
func logProcessErr(ctx context.Context, l *slog.Logger, err error) (result string) {
	dErr := &dropError{}
	if errors.As(err, &dErr) {
		l.Log(ctx, dErr.level, "dropped", "reason", dErr.reason)

		return ResultDrop
	}

	l.ErrorContext(ctx, "processing", slogutil.KeyError, err)

	return ResultError
}
