package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/brojonat/lazorpass/service/metrics"
	"github.com/brojonat/lazorpass/service/wallet"
	"github.com/google/uuid"
)

// Request describes one in-flight connect attempt.
type Request struct {
	ID        string    `json:"request_id"`
	PortalURL string    `json:"portal_url"`
	StartedAt time.Time `json:"started_at"`
	Deadline  time.Time `json:"deadline"`
}

// Window is an open portal window as seen by the connector.
type Window interface {
	// Messages delivers messages posted by the portal.
	Messages() <-chan Message
	// Closed reports whether the user closed the window.
	Closed() bool
	// Close removes the window's message listener. It is safe to call more
	// than once.
	Close() error
	// URL is the address the user completes the ceremony at.
	URL() string
}

// Opener opens portal windows. The Bridge is the production implementation.
type Opener interface {
	Open(ctx context.Context, req Request) (Window, error)
}

// Connector runs the passkey connect handshake against the portal.
type Connector struct {
	opener       Opener
	portalURL    string
	origin       string
	timeout      time.Duration
	pollInterval time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewConnector creates a connector. timeout bounds the whole handshake and
// pollInterval sets how often window closure is checked.
func NewConnector(opener Opener, portalURL string, timeout, pollInterval time.Duration, m *metrics.Metrics, logger *slog.Logger) (*Connector, error) {
	u, err := url.Parse(portalURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid portal URL %q", portalURL)
	}
	if timeout <= 0 || pollInterval <= 0 {
		return nil, fmt.Errorf("timeout and poll interval must be positive")
	}
	return &Connector{
		opener:       opener,
		portalURL:    portalURL,
		origin:       u.Scheme + "://" + u.Host,
		timeout:      timeout,
		pollInterval: pollInterval,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}, nil
}

// Pending is a connect attempt whose window is open. Wait must be called
// exactly once to resolve it and release its resources.
type Pending struct {
	Request Request

	c       *Connector
	attempt *wallet.ConnectAttempt
	window  Window
}

// Begin claims the session's connect slot and opens the portal window.
func (c *Connector) Begin(ctx context.Context, session *wallet.Session) (*Pending, error) {
	attempt, err := session.BeginConnect()
	if err != nil {
		return nil, err
	}

	now := c.now()
	id := uuid.New().String()
	req := Request{
		ID:        id,
		PortalURL: c.connectURL(id),
		StartedAt: now,
		Deadline:  now.Add(c.timeout),
	}

	win, err := c.opener.Open(ctx, req)
	if err != nil {
		err = attempt.Finish(nil, fmt.Errorf("open portal window: %w", err))
		c.metrics.RecordConnect("open_failed", 0)
		return nil, err
	}
	req.PortalURL = win.URL()

	c.logger.InfoContext(ctx, "portal window opened",
		"request_id", req.ID,
		"deadline", req.Deadline,
	)

	return &Pending{Request: req, c: c, attempt: attempt, window: win}, nil
}

// Connect runs a full handshake: open the window and wait for the outcome.
func (c *Connector) Connect(ctx context.Context, session *wallet.Session) (*wallet.Identity, error) {
	p, err := c.Begin(ctx, session)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// Wait blocks until the portal reports success or failure, the window is
// closed, the deadline passes, the session is disconnected, or ctx is
// cancelled. Whichever comes first wins; the listener, timer, and ticker are
// always torn down before return.
func (p *Pending) Wait(ctx context.Context) (*wallet.Identity, error) {
	c := p.c
	defer p.window.Close()

	timer := time.NewTimer(time.Until(p.Request.Deadline))
	defer timer.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	id, err := c.await(ctx, p.Request, p.window, p.attempt.Cancelled(), timer.C, ticker.C)
	// A disconnect that lands after the portal answered still wins.
	err = p.attempt.Finish(id, err)
	outcome := outcomeLabel(err)
	c.metrics.RecordConnect(outcome, c.now().Sub(p.Request.StartedAt).Seconds())

	if err != nil {
		c.logger.WarnContext(ctx, "passkey connect failed",
			"request_id", p.Request.ID,
			"outcome", outcome,
			"error", err,
		)
		return nil, err
	}

	c.logger.InfoContext(ctx, "passkey connect succeeded",
		"request_id", p.Request.ID,
		"address", id.Address,
	)
	return id, nil
}

func (c *Connector) await(ctx context.Context, req Request, win Window, abandoned <-chan struct{}, deadline <-chan time.Time, poll <-chan time.Time) (*wallet.Identity, error) {
	msgs := win.Messages()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return nil, wallet.ErrAuthenticationCancelled
			}
			if msg.Origin != c.origin {
				c.metrics.RecordPortalMessage(string(msg.Type), false)
				c.logger.WarnContext(ctx, "ignoring message from foreign origin",
					"request_id", req.ID,
					"origin", msg.Origin,
					"type", msg.Type,
				)
				continue
			}
			c.metrics.RecordPortalMessage(string(msg.Type), true)

			switch msg.Type {
			case MessageConnectSuccess:
				id, err := msg.Identity(c.now())
				if err != nil {
					return nil, &wallet.AuthenticationFailedError{Reason: err.Error()}
				}
				return id, nil
			case MessageConnectError:
				return nil, &wallet.AuthenticationFailedError{Reason: msg.failureReason()}
			case MessageClosed:
				return nil, wallet.ErrAuthenticationCancelled
			}

		case <-poll:
			if win.Closed() {
				return nil, wallet.ErrAuthenticationCancelled
			}

		case <-deadline:
			return nil, wallet.ErrAuthenticationTimeout

		case <-abandoned:
			return nil, fmt.Errorf("%w: wallet disconnected", wallet.ErrAuthenticationCancelled)

		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", wallet.ErrAuthenticationCancelled, ctx.Err())
		}
	}
}

func (c *Connector) connectURL(requestID string) string {
	u, _ := url.Parse(c.portalURL)
	q := u.Query()
	q.Set("action", "connect")
	q.Set("request_id", requestID)
	u.RawQuery = q.Encode()
	return u.String()
}

func outcomeLabel(err error) string {
	var authErr *wallet.AuthenticationFailedError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &authErr):
		return "failed"
	case errors.Is(err, wallet.ErrAuthenticationTimeout):
		return "timeout"
	default:
		return "cancelled"
	}
}
