// Package wsgateway carries ledger invocations over a WebSocket.
//
// A Server exposes a ledger (usually a chaincode.Contract) on /ws. A
// connection starts with a handshake: the server sends a Challenge nonce,
// the client answers with a Hello signed by its private key, and the server
// verifies the signature against the key the user registered. The user is
// then bound to the connection. A user that is not registered yet may only
// register itself, with the key it signed the challenge with.
//
// After the handshake each text frame is one Request, answered by one
// Response carrying the same id. A connection handles one request at a
// time.
//
//	srv := wsgateway.NewServer(contract, &wsgateway.Config{Addr: ":7051"})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Stop()
//
// Clients use Dial, which returns a ledger.Client.
package wsgateway

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/mschirtzinger/ledgit/internal/identity"
	"github.com/mschirtzinger/ledgit/internal/ledger"
)

// MaxMessageSize bounds a single request or response frame. Clone
// responses carry whole repository records.
const MaxMessageSize = 64 << 20

// NonceSize is the length of a handshake challenge
const NonceSize = 32

// Challenge is the first frame the server sends on a connection
type Challenge struct {
	Nonce []byte `json:"nonce"`
}

// Hello answers a Challenge. PublicKey is only consulted for users that
// are not registered yet.
type Hello struct {
	User      string `json:"user"`
	PublicKey string `json:"publicKey,omitempty"`
	Signature []byte `json:"signature"`
}

// Welcome ends the handshake. A set Error means the server refused the
// caller and closes the connection.
type Welcome struct {
	User       string     `json:"user"`
	Registered bool       `json:"registered"`
	Error      *ErrorBody `json:"error,omitempty"`
}

// Request is one ledger invocation sent by a client. It runs as the user
// bound to the connection.
type Request struct {
	ID       string   `json:"id"`
	Function string   `json:"function"`
	Args     []string `json:"args"`
}

// Response answers the Request with the same ID. Exactly one of Payload
// and Error is meaningful.
type Response struct {
	ID      string     `json:"id"`
	Payload []byte     `json:"payload,omitempty"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is a ledger rejection or an internal failure
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Executor runs ledger functions on behalf of an authenticated user and
// looks up registered keys. PublicKey returns a not_found rejection for
// unknown users. *chaincode.Contract implements it.
type Executor interface {
	Execute(ctx context.Context, user, fn string, args []string) ([]byte, error)
	PublicKey(ctx context.Context, user string) (string, error)
}

// peer is the caller bound to one connection
type peer struct {
	user       string
	publicKey  string
	registered bool
}

// Config holds server configuration
type Config struct {
	// Addr to listen on (default: ":7051")
	Addr string

	// Timeout bounds one invocation (default: 30s)
	Timeout time.Duration

	// Logger for server activity (default: disabled)
	Logger zerolog.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Addr:    ":7051",
		Timeout: 30 * time.Second,
		Logger:  zerolog.Nop(),
	}
}

// Server serves a ledger over WebSocket connections
type Server struct {
	exec    Executor
	addr    string
	timeout time.Duration

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log zerolog.Logger
}

// NewServer creates a gateway server in front of exec
func NewServer(exec Executor, config *Config) *Server {
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		exec:    exec,
		addr:    config.Addr,
		timeout: config.Timeout,
		clients: make(map[*websocket.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
		log:     config.Logger,
	}
}

// Handler returns the HTTP routes of the gateway: /ws and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start begins the HTTP server
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info().Str("addr", ln.Addr().String()).Msg("ledger gateway listening")
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("gateway server error")
		}
	}()
	return nil
}

// Stop closes every connection and shuts the server down
func (s *Server) Stop() error {
	s.log.Info().Msg("stopping ledger gateway")
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}
	s.wg.Wait()
	return nil
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(MaxMessageSize)

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.log.Debug().Int("clients", clientCount).Str("remote", r.RemoteAddr).Msg("client connected")

	s.serve(conn)
}

// serve runs the handshake and then answers requests on conn until the
// client goes away or the server stops.
func (s *Server) serve(conn *websocket.Conn) {
	defer s.removeClient(conn)

	p, err := s.handshake(conn)
	if err != nil {
		s.log.Info().Err(err).Msg("handshake failed")
		return
	}
	s.log.Debug().Str("user", p.user).Bool("registered", p.registered).Msg("client authenticated")

	for {
		var req Request
		if err := wsjson.Read(s.ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && s.ctx.Err() == nil {
				s.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		resp := s.handle(p, req)
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		err := wsjson.Write(ctx, conn, resp)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("id", req.ID).Msg("failed to send response")
			return
		}
	}
}

// handshake challenges the client to prove it holds the private key of the
// user it claims to be.
func (s *Server) handshake(conn *websocket.Conn) (*peer, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	if err := wsjson.Write(ctx, conn, Challenge{Nonce: nonce}); err != nil {
		return nil, fmt.Errorf("failed to send challenge: %w", err)
	}
	var hello Hello
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return nil, fmt.Errorf("failed to read hello: %w", err)
	}

	p, err := s.authenticate(ctx, hello, nonce)
	if err != nil {
		_ = wsjson.Write(ctx, conn, Welcome{User: hello.User, Error: errorBody(err)})
		return nil, err
	}
	if err := wsjson.Write(ctx, conn, Welcome{User: p.user, Registered: p.registered}); err != nil {
		return nil, fmt.Errorf("failed to send welcome: %w", err)
	}
	return p, nil
}

func (s *Server) authenticate(ctx context.Context, hello Hello, nonce []byte) (*peer, error) {
	if hello.User == "" {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "no user given")
	}
	p := &peer{user: hello.User, registered: true}
	key, err := s.exec.PublicKey(ctx, hello.User)
	switch {
	case ledger.IsNotFound(err):
		if hello.PublicKey == "" {
			return nil, ledger.Reject(ledger.CodeUnauthorized, "user %s is not registered", hello.User)
		}
		p.registered = false
		key = hello.PublicKey
	case err != nil:
		return nil, err
	}
	if err := identity.Verify(key, nonce, hello.Signature); err != nil {
		return nil, ledger.Reject(ledger.CodeUnauthorized, "authentication failed for user %s", hello.User)
	}
	p.publicKey = key
	return p, nil
}

// handle runs one request as the connection's user. Until the user is
// registered, registering itself with the handshake key is the only
// function allowed.
func (s *Server) handle(p *peer, req Request) Response {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	resp := Response{ID: req.ID}
	if !p.registered {
		if err := checkRegistration(p, req); err != nil {
			resp.Error = errorBody(err)
			return resp
		}
	}

	out, err := s.exec.Execute(ctx, p.user, req.Function, req.Args)
	if err != nil {
		resp.Error = errorBody(err)
		return resp
	}
	if req.Function == ledger.FnRegisterNewUser {
		p.registered = true
	}
	resp.Payload = out
	return resp
}

func checkRegistration(p *peer, req Request) error {
	if req.Function != ledger.FnRegisterNewUser {
		return ledger.Reject(ledger.CodeUnauthorized, "user %s is not registered", p.user)
	}
	if len(req.Args) != 3 || req.Args[0] != p.user {
		return ledger.Reject(ledger.CodeUnauthorized, "users can only register themselves")
	}
	if req.Args[2] != p.publicKey {
		return ledger.Reject(ledger.CodeUnauthorized, "registered key must be the key the connection was authenticated with")
	}
	return nil
}

// errorBody hides internal failures from clients; rejections are passed
// through.
func errorBody(err error) *ErrorBody {
	var te *ledger.TransactionError
	if errors.As(err, &te) {
		return &ErrorBody{Code: te.Code, Message: te.Message}
	}
	return &ErrorBody{Code: ledger.CodeInternal, Message: "internal ledger error"}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.Debug().Int("clients", clientCount).Msg("client disconnected")
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
