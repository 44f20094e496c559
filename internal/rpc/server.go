package rpc

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/corralhq/corral/internal/corerr"
	"github.com/corralhq/corral/internal/daemon"
	"github.com/corralhq/corral/internal/orchestrator"
	"github.com/corralhq/corral/internal/ratelimit"
)

// socketMode restricts the control socket to the owning user, per
// spec.md §6.
const socketMode = 0o600

// shutdownDrain bounds how long Close waits for in-flight connections to
// finish before giving up on a graceful drain.
const shutdownDrain = 5 * time.Second

// maxFrameBytes caps a single request frame; a client that exceeds it is
// dropped rather than left to fill memory decoding a runaway gob stream
// (spec.md §4.9's oversized-frame drop).
const maxFrameBytes = 1 << 20

// Server accepts one connection per RPC call on a Unix domain socket.
type Server struct {
	ln       net.Listener
	orch     *orchestrator.Orchestrator
	limiter  *ratelimit.Limiter
	logsRoot string
	logger   *slog.Logger

	wg       sync.WaitGroup
	closeCh  chan struct{}
	closeOne sync.Once
}

// Listen creates (replacing any stale socket file) and binds the control
// socket at path.
func Listen(path string, orch *orchestrator.Orchestrator, limiter *ratelimit.Limiter, logsRoot string, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err == nil {
		os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, socketMode); err != nil {
		ln.Close()
		return nil, err
	}
	return &Server{
		ln:       ln,
		orch:     orch,
		limiter:  limiter,
		logsRoot: logsRoot,
		logger:   logger,
		closeCh:  make(chan struct{}),
	}, nil
}

// Serve accepts connections until Close is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.closeCh:
				return nil
			default:
				return err
			}
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close stops accepting new connections, waits up to shutdownDrain for
// in-flight ones to finish, and removes the socket file.
func (s *Server) Close() error {
	s.closeOne.Do(func() { close(s.closeCh) })
	err := s.ln.Close()

	drained := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(shutdownDrain):
		s.logger.Warn("rpc server: connections still draining at shutdown deadline")
	}
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	reqID := uuid.NewString()

	limiterKey := limiterKeyFor(conn)
	if s.limiter != nil && !s.limiter.Allow(limiterKey) {
		s.logger.Warn("rpc: rate limited", "request_id", reqID, "limiter_key", limiterKey)
		enc := gob.NewEncoder(conn)
		enc.Encode(Response{OK: false, Err: &ErrorWire{Kind: string(corerr.RateLimited), Message: "too many requests"}})
		conn.Write([]byte{resyncByte})
		return
	}

	lr := &limitedReader{r: conn, remaining: maxFrameBytes}
	dec := gob.NewDecoder(lr)
	var req Request
	if err := dec.Decode(&req); err != nil {
		if lr.exceeded {
			s.logger.Warn("rpc: oversized frame dropped", "request_id", reqID, "limiter_key", limiterKey)
			enc := gob.NewEncoder(conn)
			enc.Encode(Response{OK: false, Err: &ErrorWire{Kind: string(corerr.Protocol), Message: "request frame too large"}})
			conn.Write([]byte{resyncByte})
		}
		return
	}

	resp := s.dispatch(&req)
	s.logger.Debug("rpc: handled request", "request_id", reqID, "method", req.Method, "ok", resp.OK)

	enc := gob.NewEncoder(conn)
	if err := enc.Encode(resp); err != nil {
		s.logger.Warn("rpc: encode response failed", "request_id", reqID, "err", err)
		return
	}
	conn.Write([]byte{resyncByte})
}

// limiterKeyFor keys the rate limiter by the connecting peer's uid via
// SO_PEERCRED, so one noisy client can't exhaust another's budget on a
// shared socket. Falls back to a single shared key for connections the
// credential lookup doesn't apply to (anything but a real Unix socket,
// e.g. the net.Pipe conns tests dial through).
func limiterKeyFor(conn net.Conn) string {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return "socket"
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return "socket"
	}
	var cred *unix.Ucred
	var credErr error
	ctlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctlErr != nil || credErr != nil {
		return "socket"
	}
	return fmt.Sprintf("uid:%d", cred.Uid)
}

// limitedReader caps how many bytes a gob.Decoder can pull off conn,
// distinguishing "client sent an oversized frame" (exceeded) from an
// ordinary short read so handle only emits the oversized-frame response
// in the former case.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		l.exceeded = true
		return 0, io.EOF
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}

func (s *Server) dispatch(req *Request) Response {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch req.Method {
	case MethodRun:
		res, err := s.orch.Run(ctx, req.Spec.ToSpec(), req.WaitReady, req.Force)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, PID: res.PID, ExitCode: res.ExitCode, RunOutcome: outcomeName(res.Outcome)}

	case MethodStop:
		if err := s.orch.Stop(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case MethodRestart:
		res, err := s.orch.Restart(ctx, req.ID)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, PID: res.PID, RunOutcome: outcomeName(res.Outcome)}

	case MethodEnable:
		s.orch.Enable(req.ID)
		return Response{OK: true}

	case MethodDisable:
		s.orch.Disable(req.ID)
		return Response{OK: true}

	case MethodList:
		return Response{OK: true, Records: s.orch.List()}

	case MethodStatus:
		rec, ok := s.orch.Get(req.ID)
		if !ok {
			return errResponse(corerr.New(corerr.NotFound, "no such daemon %s", req.ID.String()))
		}
		return Response{OK: true, Records: []daemon.Record{rec}}

	case MethodUpdateShellDir:
		s.orch.UpdateShellDir(req.ShellPID, req.Dir)
		return Response{OK: true}

	case MethodShutdown:
		go s.orch.Shutdown(context.Background())
		return Response{OK: true}

	case MethodLogs:
		return s.dispatchLogs(req)

	case MethodClean:
		return Response{OK: true, CleanedIDs: s.orch.Clean()}

	default:
		return errResponse(corerr.New(corerr.Protocol, "unknown method %q", req.Method))
	}
}

func outcomeName(o orchestrator.RunOutcome) string {
	switch o {
	case orchestrator.OutcomeReady:
		return "ready"
	case orchestrator.OutcomeAlreadyRunning:
		return "already_running"
	case orchestrator.OutcomeStarted:
		return "started"
	case orchestrator.OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func errResponse(err error) Response {
	wire := &ErrorWire{Kind: string(corerr.KindOf(err)), Message: err.Error()}
	var cerr *corerr.Error
	if errors.As(err, &cerr) {
		wire.ExitCode = cerr.ExitCode
	}
	return Response{OK: false, Err: wire}
}
