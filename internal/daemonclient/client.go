package daemonclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/g960059/agthud/internal/api"
	"github.com/g960059/agthud/internal/config"
	"github.com/g960059/agthud/internal/ipc"
	"github.com/g960059/agthud/internal/logging"
)

const (
	defaultTimeout  = 750 * time.Millisecond
	defaultMaxBytes = ipc.DefaultMaxLine
)

var (
	ErrDisabled      = errors.New("daemon client disabled")
	ErrTimeout       = errors.New("daemon request timed out")
	ErrUnavailable   = errors.New("daemon unavailable")
	ErrEmptyResponse = errors.New("daemon returned empty response")
	ErrIDMismatch    = errors.New("daemon response id mismatch")
	ErrProtocol      = errors.New("daemon protocol error")
)

// RequestError is an explicit {ok:false} reply.
type RequestError struct {
	Method  string
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s: %s", e.Method, code, message)
	case code != "":
		return fmt.Sprintf("%s: %s", e.Method, code)
	case message != "":
		return fmt.Sprintf("%s: %s", e.Method, message)
	default:
		return fmt.Sprintf("%s: daemon error", e.Method)
	}
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(e.Code)) {
	case "busy", "unavailable", "timeout", "starting":
		return true
	default:
		return false
	}
}

type Client struct {
	socketPath string
	enabled    bool
	timeout    time.Duration
	maxBytes   int
	logger     *slog.Logger
	newID      func() string
}

func New(cfg config.Config, logger *slog.Logger) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		enabled:    cfg.DaemonEnabled,
		timeout:    cfg.RequestTimeout,
		maxBytes:   cfg.MaxResponseBytes,
		logger:     logging.OrDiscard(logger),
		newID:      uuid.NewString,
	}
}

// NewWithSocket builds an enabled client with default limits.
func NewWithSocket(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		enabled:    true,
		timeout:    defaultTimeout,
		maxBytes:   defaultMaxBytes,
		logger:     logging.Discard(),
		newID:      uuid.NewString,
	}
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.timeout = timeout
	return &clone
}

func (c *Client) WithMaxBytes(n int) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.maxBytes = n
	return &clone
}

func (c *Client) Enabled() bool {
	return c != nil && c.enabled
}

func (c *Client) SocketPath() string {
	return c.socketPath
}

func (c *Client) Health(ctx context.Context) (api.HealthData, error) {
	var out api.HealthData
	err := c.Call(ctx, api.MethodGetHealth, nil, &out)
	return out, err
}

func (c *Client) ShellState(ctx context.Context) (api.ShellStateData, error) {
	var out api.ShellStateData
	err := c.Call(ctx, api.MethodGetShellState, nil, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context) (api.SessionsData, error) {
	var out api.SessionsData
	err := c.Call(ctx, api.MethodGetSessions, nil, &out)
	return out, err
}

func (c *Client) ProjectStates(ctx context.Context) (api.ProjectStatesData, error) {
	var out api.ProjectStatesData
	err := c.Call(ctx, api.MethodGetProjectStates, nil, &out)
	return out, err
}

// Call performs one request/response exchange on a fresh connection.
func (c *Client) Call(ctx context.Context, method string, params any, dst any) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	reqCtx := ctx
	if c.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	req := api.Request{
		ProtocolVersion: api.ProtocolVersion,
		Method:          method,
		ID:              c.newID(),
		Params:          json.RawMessage("null"),
	}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}

	resp, err := c.exchange(reqCtx, req)
	if err != nil {
		err = classify(reqCtx, err)
		c.logger.Debug("daemon request failed", "method", method, "request_id", req.ID, "error", err)
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.ID != "" && resp.ID != req.ID {
		c.logger.Warn("daemon response id mismatch", "method", method, "request_id", req.ID, "response_id", resp.ID)
		return fmt.Errorf("%s: %w", method, ErrIDMismatch)
	}
	if !resp.OK {
		reqErr := &RequestError{Method: method}
		if resp.Error != nil {
			reqErr.Code = resp.Error.Code
			reqErr.Message = resp.Error.Message
		}
		c.logger.Warn("daemon returned error", "method", method, "request_id", req.ID, "code", reqErr.Code, "message", reqErr.Message)
		return reqErr
	}
	if dst == nil {
		return nil
	}
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		return fmt.Errorf("%s: %w", method, ErrEmptyResponse)
	}
	if err := json.Unmarshal(resp.Data, dst); err != nil {
		c.logger.Warn("daemon payload decode failed", "method", method, "request_id", req.ID, "error", err)
		return fmt.Errorf("%s: %w: decode data: %v", method, ErrProtocol, err)
	}
	return nil
}

func (c *Client) exchange(ctx context.Context, req api.Request) (api.Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return api.Response{}, err
	}
	defer conn.Close() //nolint:errcheck
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := ipc.WriteLine(conn, req, c.maxBytes); err != nil {
		return api.Response{}, err
	}
	line, err := ipc.ReadLine(bufio.NewReader(conn), c.maxBytes)
	if err != nil {
		if errors.Is(err, ipc.ErrEmptyLine) {
			return api.Response{}, ErrEmptyResponse
		}
		return api.Response{}, err
	}
	var resp api.Response
	if err := ipc.Decode(line, &resp); err != nil {
		return api.Response{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return resp, nil
}

func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, os.ErrNotExist) || isConnRefused(err) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// IsTransport reports whether err is a transport-level failure rather than
// an explicit daemon error.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return false
	}
	for _, protocolErr := range []error{ErrDisabled, ErrProtocol, ErrEmptyResponse, ErrIDMismatch, ipc.ErrLineTooLarge} {
		if errors.Is(err, protocolErr) {
			return false
		}
	}
	return true
}
