// ABOUTME: Matrix implementation of the assistant Dialer and Session contract
// ABOUTME: Each assistant is a Matrix account driven through its access token with mautrix

package matrix

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/2389/assistant-manager/internal/assistant"
)

// DefaultRetryAfter is used when the homeserver throttles without a hint.
const DefaultRetryAfter = 5 * time.Second

// ErrNoHomeserver indicates neither the credentials nor the config name a homeserver.
var ErrNoHomeserver = errors.New("no homeserver configured")

// api is the slice of the Matrix client API a session uses.
type api interface {
	whoami(ctx context.Context) (string, error)
	resolveAlias(ctx context.Context, alias string) (string, error)
	join(ctx context.Context, roomID string) error
	leave(ctx context.Context, roomID string) error
	send(ctx context.Context, roomID, body string) error
}

type clientAPI struct {
	cli *mautrix.Client
}

func (c clientAPI) whoami(ctx context.Context) (string, error) {
	resp, err := c.cli.Whoami(ctx)
	if err != nil {
		return "", err
	}
	return resp.UserID.String(), nil
}

func (c clientAPI) resolveAlias(ctx context.Context, alias string) (string, error) {
	resp, err := c.cli.ResolveAlias(ctx, id.RoomAlias(alias))
	if err != nil {
		return "", err
	}
	return resp.RoomID.String(), nil
}

func (c clientAPI) join(ctx context.Context, roomID string) error {
	_, err := c.cli.JoinRoomByID(ctx, id.RoomID(roomID))
	return err
}

func (c clientAPI) leave(ctx context.Context, roomID string) error {
	_, err := c.cli.LeaveRoom(ctx, id.RoomID(roomID))
	return err
}

func (c clientAPI) send(ctx context.Context, roomID, body string) error {
	_, err := c.cli.SendText(ctx, id.RoomID(roomID), body)
	return err
}

// Dialer connects assistant accounts to their homeserver.
type Dialer struct {
	homeserver string
	logger     *slog.Logger
	newAPI     func(homeserver, token string) (api, error)
}

// NewDialer creates a Dialer. homeserver is used for credentials that do not name one.
func NewDialer(homeserver string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		homeserver: homeserver,
		logger:     logger.With("component", "matrix-transport"),
		newAPI: func(hs, token string) (api, error) {
			cli, err := mautrix.NewClient(hs, "", token)
			if err != nil {
				return nil, err
			}
			return clientAPI{cli: cli}, nil
		},
	}
}

// Homeserver picks the homeserver for creds.
func (d *Dialer) Homeserver(creds assistant.Credentials) string {
	if strings.Contains(creds.APIHash, "://") {
		return creds.APIHash
	}
	return d.homeserver
}

// Connect validates the access token with whoami and returns a live session.
func (d *Dialer) Connect(ctx context.Context, creds assistant.Credentials) (assistant.Session, error) {
	hs := d.Homeserver(creds)
	if hs == "" {
		return nil, ErrNoHomeserver
	}
	if creds.Session == "" {
		return nil, errors.New("empty access token")
	}

	cli, err := d.newAPI(hs, creds.Session)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	userID, err := cli.whoami(ctx)
	if err != nil {
		return nil, fmt.Errorf("whoami: %w", err)
	}

	d.logger.Debug("assistant connected", "user_id", userID, "homeserver", hs)
	return &Session{
		api:    cli,
		ident:  assistant.Identity{ID: IdentityID(userID), Handle: userID},
		logger: d.logger.With("user_id", userID),
	}, nil
}

// Session is one connected assistant account.
type Session struct {
	api    api
	ident  assistant.Identity
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

var errClosed = errors.New("session closed")

// Identity returns the account's identity.
func (s *Session) Identity() assistant.Identity { return s.ident }

// Probe checks the token is still accepted.
func (s *Session) Probe(ctx context.Context) assistant.Result {
	if s.isClosed() {
		return assistant.Failed(errClosed)
	}
	_, err := s.api.whoami(ctx)
	return Classify(err)
}

// JoinChat joins the room named by ref.
func (s *Session) JoinChat(ctx context.Context, ref string) assistant.Result {
	roomID, res, ok := s.resolve(ctx, ref)
	if !ok {
		return res
	}
	return Classify(s.api.join(ctx, roomID))
}

// LeaveChat leaves the room named by ref.
func (s *Session) LeaveChat(ctx context.Context, ref string) assistant.Result {
	roomID, res, ok := s.resolve(ctx, ref)
	if !ok {
		return res
	}
	return Classify(s.api.leave(ctx, roomID))
}

// SendMessage posts body as plain text to the room named by ref.
func (s *Session) SendMessage(ctx context.Context, ref, body string) assistant.Result {
	roomID, res, ok := s.resolve(ctx, ref)
	if !ok {
		return res
	}
	return Classify(s.api.send(ctx, roomID, body))
}

// Close marks the session closed. Access tokens are not revoked; the
// account stays logged in for the next start.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) resolve(ctx context.Context, raw string) (string, assistant.Result, bool) {
	if s.isClosed() {
		return "", assistant.Failed(errClosed), false
	}
	ref, err := ParseRef(raw)
	if err != nil {
		return "", assistant.Failed(err), false
	}
	if !ref.IsAlias() {
		return ref.RoomID, assistant.Result{}, true
	}
	roomID, err := s.api.resolveAlias(ctx, ref.Alias)
	if err != nil {
		s.logger.Debug("alias resolution failed", "alias", ref.Alias, "error", err)
		return "", Classify(err), false
	}
	return roomID, assistant.Result{}, true
}

// Classify maps a Matrix client error to a call Result.
func Classify(err error) assistant.Result {
	if err == nil {
		return assistant.OK()
	}
	if wait, ok := RetryAfter(err); ok {
		return assistant.RateLimited(wait)
	}
	return assistant.Failed(err)
}

// RetryAfter reports whether err is a rate limit and how long to wait.
func RetryAfter(err error) (time.Duration, bool) {
	var httpErr mautrix.HTTPError
	hasHTTP := errors.As(err, &httpErr)

	limited := errors.Is(err, mautrix.MLimitExceeded)
	if hasHTTP {
		if httpErr.Response != nil && httpErr.Response.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
		if httpErr.RespError != nil && httpErr.RespError.ErrCode == mautrix.MLimitExceeded.ErrCode {
			limited = true
		}
	}
	if !limited {
		return 0, false
	}

	if hasHTTP && httpErr.RespError != nil {
		if ms, ok := httpErr.RespError.ExtraData["retry_after_ms"].(float64); ok && ms > 0 {
			return time.Duration(ms) * time.Millisecond, true
		}
	}
	return DefaultRetryAfter, true
}

// IdentityID derives a stable positive numeric id from a Matrix user id.
func IdentityID(userID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	n := int64(h.Sum64() & math.MaxInt64)
	if n == 0 {
		n = 1
	}
	return n
}
