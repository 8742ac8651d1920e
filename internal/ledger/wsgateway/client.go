package wsgateway

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/mschirtzinger/ledgit/internal/identity"
	"github.com/mschirtzinger/ledgit/internal/ledger"
)

// Credentials identify the user a Client acts as. Key signs the server's
// challenge; its public half must be the key registered for User.
type Credentials struct {
	User string
	Key  ed25519.PrivateKey
}

// Client is a ledger.Client talking to a Server. Invocations on one Client
// are serialized.
//
// A cancelled context closes the underlying connection; the Client cannot
// be used afterwards.
type Client struct {
	conn       *websocket.Conn
	user       string
	registered bool
	mu         sync.Mutex
}

var _ ledger.Client = (*Client)(nil)

// Dial connects to the gateway at url, e.g. ws://ledger.example:7051/ws,
// and authenticates as creds.User. A refused handshake is returned as a
// *ledger.TransactionError.
//
// The caller MUST call Close() when done.
func Dial(ctx context.Context, url string, creds Credentials) (*Client, error) {
	if creds.User == "" || len(creds.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ledger gateway credentials need a user and a private key")
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger gateway %s: %w", url, err)
	}
	conn.SetReadLimit(MaxMessageSize)

	welcome, err := handshake(ctx, conn, creds)
	if err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}
	return &Client{conn: conn, user: welcome.User, registered: welcome.Registered}, nil
}

func handshake(ctx context.Context, conn *websocket.Conn, creds Credentials) (Welcome, error) {
	var challenge Challenge
	if err := wsjson.Read(ctx, conn, &challenge); err != nil {
		return Welcome{}, fmt.Errorf("failed to read challenge: %w", err)
	}
	if len(challenge.Nonce) != NonceSize {
		return Welcome{}, fmt.Errorf("malformed challenge from ledger gateway")
	}
	hello := Hello{
		User:      creds.User,
		PublicKey: identity.PublicKey(creds.Key),
		Signature: identity.Sign(creds.Key, challenge.Nonce),
	}
	if err := wsjson.Write(ctx, conn, hello); err != nil {
		return Welcome{}, fmt.Errorf("failed to send hello: %w", err)
	}
	var welcome Welcome
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		return Welcome{}, fmt.Errorf("failed to read welcome: %w", err)
	}
	if welcome.Error != nil {
		return Welcome{}, &ledger.TransactionError{Function: "authenticate", Code: welcome.Error.Code, Message: welcome.Error.Message}
	}
	return welcome, nil
}

// User returns the identity the client acts as
func (c *Client) User() string {
	return c.user
}

// Registered reports whether the user was registered when the connection
// was authenticated.
func (c *Client) Registered() bool {
	return c.registered
}

// Invoke implements ledger.Client.
func (c *Client) Invoke(ctx context.Context, fn string, args ...string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if args == nil {
		args = []string{}
	}
	req := Request{
		ID:       uuid.NewString(),
		Function: fn,
		Args:     args,
	}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", fn, err)
	}

	var resp Response
	if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", fn, err)
	}
	if resp.ID != req.ID {
		return nil, fmt.Errorf("response id %s does not match request %s", resp.ID, req.ID)
	}
	if resp.Error != nil {
		return nil, &ledger.TransactionError{Function: fn, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	return resp.Payload, nil
}

// Close implements ledger.Client.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
