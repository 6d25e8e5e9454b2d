// Package control exposes the daemon's operations over a Unix domain
// socket. The wire protocol is one JSON BaseMessage per line; every request
// receives exactly one response carrying the same request id.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/codefionn/gitspace/internal/credentials"
	"github.com/codefionn/gitspace/internal/gitenv"
	"github.com/codefionn/gitspace/internal/gitrepo"
	"github.com/codefionn/gitspace/internal/logger"
	"github.com/codefionn/gitspace/internal/secrets"
	"github.com/codefionn/gitspace/internal/store"
	"github.com/codefionn/gitspace/internal/syncer"
	"github.com/codefionn/gitspace/internal/workspace"
)

const defaultMaxConns = 10

// Deps bundles everything the handlers reach.
type Deps struct {
	Version string
	DataDir string
	Store   *store.Store
	Vault   *secrets.Vault
	Env     *gitenv.Builder
	Repos   *syncer.Service
	Work    *workspace.Service
	Creds   *credentials.Service
}

// Server is the Unix socket control server.
type Server struct {
	deps     Deps
	path     string
	listener net.Listener
	log      *logger.Logger

	maxConns int
	connMu   sync.Mutex
	conns    map[net.Conn]struct{}
	stopping bool

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a control server listening on socketPath once started.
func NewServer(socketPath string, deps Deps) *Server {
	return &Server{
		deps:     deps,
		path:     socketPath,
		log:      logger.Global().WithPrefix("control"),
		maxConns: defaultMaxConns,
		conns:    make(map[net.Conn]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Start binds the socket and serves until Stop. The socket file is owner-
// only; a leftover file from an earlier run is replaced.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("control server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	listener, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	if err := os.Chmod(s.path, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("restrict socket permissions: %w", err)
	}
	s.listener = listener
	s.log.Info("listening on %s", s.path)

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop closes the listener and every open connection, waits for their
// goroutines and removes the socket file. Closing the connections is what
// unblocks serveConn goroutines parked in a read on an idle client.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}
		s.connMu.Lock()
		s.stopping = true
		for conn := range s.conns {
			conn.Close()
		}
		s.connMu.Unlock()
	})
	s.wg.Wait()
	os.Remove(s.path)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			s.log.Warn("accept failed: %v", err)
			continue
		}

		s.connMu.Lock()
		if s.stopping {
			s.connMu.Unlock()
			conn.Close()
			return
		}
		if len(s.conns) >= s.maxConns {
			s.connMu.Unlock()
			s.log.Warn("rejecting connection, limit of %d reached", s.maxConns)
			writeMessage(conn, &BaseMessage{
				Type:  MessageTypeError,
				Error: &ErrorInfo{Code: ErrCodeConflict, Message: "too many connections"},
			})
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.connMu.Lock()
				delete(s.conns, conn)
				s.connMu.Unlock()
			}()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-s.stopChan:
			return
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req BaseMessage
		if err := json.Unmarshal(line, &req); err != nil {
			writeMessage(conn, errorMessage("", ErrCodeInvalid, "malformed message"))
			continue
		}
		resp := s.dispatch(ctx, &req)
		resp.RequestID = req.RequestID
		if err := writeMessage(conn, resp); err != nil {
			s.log.Debug("write to client failed: %v", err)
			return
		}
	}
}

func writeMessage(conn net.Conn, msg *BaseMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

func errorMessage(requestID, code, message string) *BaseMessage {
	return &BaseMessage{
		Type:      MessageTypeError,
		RequestID: requestID,
		Error:     &ErrorInfo{Code: code, Message: message},
	}
}

// dispatch routes a request to its handler and converts the outcome to a
// response message.
func (s *Server) dispatch(ctx context.Context, req *BaseMessage) *BaseMessage {
	handler, ok := s.handlers()[req.Type]
	if !ok {
		return errorMessage(req.RequestID, ErrCodeInvalid, fmt.Sprintf("unknown message type %q", req.Type))
	}
	resp, err := handler(ctx, req.Data)
	if err != nil {
		return errorMessage(req.RequestID, classifyError(err), err.Error())
	}
	return resp
}

type handlerFunc func(ctx context.Context, data json.RawMessage) (*BaseMessage, error)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		MessageTypePing:   s.handlePing,
		MessageTypeStatus: s.handleStatus,

		MessageTypeRepoCreate:        s.handleRepoCreate,
		MessageTypeRepoList:          s.handleRepoList,
		MessageTypeRepoGet:           s.handleRepoGet,
		MessageTypeRepoResync:        s.handleRepoResync,
		MessageTypeRepoSetCredential: s.handleRepoSetCredential,
		MessageTypeRepoDelete:        s.handleRepoDelete,

		MessageTypeWorkspaceCreate: s.handleWorkspaceCreate,
		MessageTypeWorkspaceList:   s.handleWorkspaceList,
		MessageTypeWorkspaceDelete: s.handleWorkspaceDelete,
		MessageTypeWorkspaceAttach: s.handleAttach,
		MessageTypeWorkspaceDetach: s.handleDetach,

		MessageTypeCredentialCreate:     s.handleCredentialCreate,
		MessageTypeCredentialList:       s.handleCredentialList,
		MessageTypeCredentialUpdate:     s.handleCredentialUpdate,
		MessageTypeCredentialSetDefault: s.handleCredentialSetDefault,
		MessageTypeCredentialDelete:     s.handleCredentialDelete,
		MessageTypeKeypairGenerate:      s.handleKeypairGenerate,

		MessageTypeGitStatus:       s.handleGitStatus,
		MessageTypeGitStage:        s.handleGitStage,
		MessageTypeGitUnstage:      s.handleGitUnstage,
		MessageTypeGitDiscard:      s.handleGitDiscard,
		MessageTypeGitCommit:       s.handleGitCommit,
		MessageTypeGitPush:         s.handleGitPush,
		MessageTypeGitPull:         s.handleGitPull,
		MessageTypeGitSwitchBranch: s.handleGitSwitchBranch,
		MessageTypeIdentityGet:     s.handleIdentityGet,
		MessageTypeIdentitySet:     s.handleIdentitySet,
	}
}

// classifyError maps service errors onto wire error codes so clients can
// branch without parsing message text.
func classifyError(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, syncer.ErrRepoInUse),
		errors.Is(err, credentials.ErrCredentialInUse),
		errors.Is(err, workspace.ErrRepoSyncing):
		return ErrCodeConflict
	case errors.Is(err, syncer.ErrCredentialMissing),
		errors.Is(err, workspace.ErrInvalidDirName),
		errors.Is(err, workspace.ErrOutsideWorkspace),
		errors.Is(err, credentials.ErrInvalidHost),
		errors.Is(err, credentials.ErrInvalidKind),
		errors.Is(err, gitenv.ErrCredentialNotFound):
		return ErrCodeInvalid
	}
	if gitrepo.KindOf(err) == gitrepo.FailureAuth {
		return ErrCodeAuth
	}
	return ErrCodeInternal
}
