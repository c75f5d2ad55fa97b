package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/talkback/internal/errors"
	"github.com/GriffinCanCode/talkback/internal/protocol"
	"github.com/GriffinCanCode/talkback/internal/resilience"
	"github.com/GriffinCanCode/talkback/internal/trace"
)

// Client talks to the backend REST API. Calls are traced, retried on
// transient failures and guarded by a circuit breaker.
type Client struct {
	apiURL  string
	http    *http.Client
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// New creates a client for the API rooted at apiURL, e.g.
// http://localhost:8000/api.
func New(apiURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	breaker := resilience.New("backend", resilience.BackendConfig()).
		WithHook(func(from, to resilience.State) {
			slog.Warn("backend circuit changed", "from", from, "to", to)
		})
	return &Client{
		apiURL:  strings.TrimRight(apiURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: &trace.Transport{}},
		breaker: breaker,
		retry:   resilience.InteractiveRetryConfig(),
	}
}

// ListConversations returns all stored conversations.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns up to limit messages of a conversation, oldest first. An
// unknown conversation has an empty history.
func (c *Client) History(ctx context.Context, conversationID string, limit int) ([]HistoryMessage, error) {
	if conversationID == "" {
		return nil, apperrors.New(apperrors.InvalidArgument, "conversation id required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages?limit=" + strconv.Itoa(limit)

	var out []HistoryMessage
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	if apperrors.IsCode(err, apperrors.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteConversation removes a conversation and returns how many messages
// were deleted.
func (c *Client) DeleteConversation(ctx context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, apperrors.New(apperrors.InvalidArgument, "conversation id required")
	}
	var out deleteResponse
	if err := c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(conversationID), nil, &out); err != nil {
		return 0, err
	}
	return out.DeletedCount, nil
}

// Upload sends a file and returns the attachment to reference it by.
func (c *Client) Upload(ctx context.Context, path string) (protocol.Attachment, error) {
	res, err := c.UploadFile(ctx, path)
	if err != nil {
		return protocol.Attachment{}, err
	}
	return res.Attachment(), nil
}

// UploadFile sends a file and returns the full upload result.
func (c *Client) UploadFile(ctx context.Context, path string) (UploadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return UploadResult{}, apperrors.Wrapf(err, apperrors.InvalidArgument, "read %s", path)
	}
	name := filepath.Base(path)

	ctx, cancel := context.WithTimeout(ctx, UploadTimeout)
	defer cancel()

	var out UploadResult
	body := func() (io.Reader, string, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		part, err := w.CreateFormFile(uploadField, name)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
	if err := c.do(ctx, http.MethodPost, "/upload", body, &out); err != nil {
		return UploadResult{}, err
	}
	slog.Info("file uploaded", "file", out.FileName, "file_id", out.FileID, "bytes", len(data))
	return out, nil
}

// bodyFunc builds a fresh request body for each attempt.
type bodyFunc func() (io.Reader, string, error)

func (c *Client) do(ctx context.Context, method, path string, body bodyFunc, out any) error {
	ctx, span := trace.StartSpan(ctx, "backend "+method+" "+path)
	defer span.End()

	err := resilience.Retry(ctx, c.retry, func() error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.once(ctx, method, path, body, out)
		})
	})
	if err != nil {
		err = classify(ctx, err)
		span.SetAttr("error", err.Error())
	}
	return err
}

// classify gives every failure leaving the client an error code, including
// the breaker's rejection and a context that ended between attempts.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, resilience.ErrOpen) {
		return apperrors.Wrap(err, apperrors.Unavailable, "backend unavailable")
	}
	if _, ok := apperrors.As(err); !ok && ctx.Err() != nil {
		return transportError(ctx, err)
	}
	return apperrors.FromStatus(err)
}

func (c *Client) once(ctx context.Context, method, path string, body bodyFunc, out any) error {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		var err error
		if reader, contentType, err = body(); err != nil {
			return apperrors.Wrap(err, apperrors.Internal, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.InvalidArgument, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrapf(err, apperrors.Protocol, "decode %s %s", method, path)
	}
	return nil
}

func transportError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return apperrors.Wrap(err, apperrors.Cancelled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.Timeout, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperrors.Wrap(err, apperrors.Timeout, "request timed out")
	}
	return apperrors.Wrap(err, apperrors.Transport, "backend unreachable")
}

// statusError maps an HTTP failure onto the error taxonomy.
func statusError(method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	msg := strings.TrimSpace(string(raw))
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil {
		if er.Detail != "" {
			msg = er.Detail
		} else if er.Error != "" {
			msg = er.Error
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	code := apperrors.Unknown
	switch s := resp.StatusCode; {
	case s == http.StatusBadRequest, s == http.StatusUnprocessableEntity, s == http.StatusRequestEntityTooLarge:
		code = apperrors.InvalidArgument
	case s == http.StatusNotFound:
		code = apperrors.NotFound
	case s == http.StatusRequestTimeout, s == http.StatusGatewayTimeout:
		code = apperrors.Timeout
	case s == http.StatusTooManyRequests:
		code = apperrors.RateLimited
	case s == http.StatusInternalServerError:
		code = apperrors.Internal
	case s >= 500:
		code = apperrors.Unavailable
	}
	return apperrors.New(code, fmt.Sprintf("%s %s: %s", method, path, msg)).
		WithMetadata("status", strconv.Itoa(resp.StatusCode))
}
