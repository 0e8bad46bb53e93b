// Package apiclient talks to a running daemon's control plane.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/openmined/treesync/internal/controlplane"
	"github.com/openmined/treesync/internal/folder"
	"github.com/openmined/treesync/internal/jsonx"
	"github.com/openmined/treesync/internal/version"
)

const defaultTimeout = 10 * time.Second

// APIError is a non-2xx answer from the control plane.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
}

type Client struct {
	c *req.Client
}

// New builds a client for addr, a host:port or a full http URL.
func New(addr, token string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	c := req.C().
		SetBaseURL(addr).
		SetTimeout(defaultTimeout).
		SetUserAgent(version.AppName+"/"+version.Version).
		SetCommonErrorResult(&controlplane.ErrorResponse{}).
		SetJsonMarshal(jsonx.Marshal).
		SetJsonUnmarshal(jsonx.Unmarshal)
	if token != "" {
		c.SetCommonBearerAuthToken(token)
	}
	return &Client{c: c}
}

func (c *Client) Status(ctx context.Context) (*controlplane.StatusResponse, error) {
	var out controlplane.StatusResponse
	resp, err := c.c.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		Get("/v1/status")
	if err := check(resp, err, "status"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Folder(ctx context.Context, alias string) (*folder.Status, error) {
	var out folder.Status
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("alias", alias).
		SetSuccessResult(&out).
		Get("/v1/folders/{alias}")
	if err := check(resp, err, "folder"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) FileStatus(ctx context.Context, alias, path string) (folder.FileStatus, error) {
	var out controlplane.FileStatusResponse
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("alias", alias).
		SetQueryParam("path", path).
		SetSuccessResult(&out).
		Get("/v1/folders/{alias}/file")
	if err := check(resp, err, "file status"); err != nil {
		return folder.FileNone, err
	}
	return out.Status, nil
}

// Sync asks the daemon to start a full sync of the folder.
func (c *Client) Sync(ctx context.Context, alias string) error {
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("alias", alias).
		Post("/v1/folders/{alias}/sync")
	return check(resp, err, "sync")
}

// Terminate reports whether a run was active and got cancelled.
func (c *Client) Terminate(ctx context.Context, alias string) (bool, error) {
	var out controlplane.TerminateResponse
	resp, err := c.c.R().
		SetContext(ctx).
		SetPathParam("alias", alias).
		SetSuccessResult(&out).
		Post("/v1/folders/{alias}/terminate")
	if err := check(resp, err, "terminate"); err != nil {
		return false, err
	}
	return out.Terminated, nil
}

func check(resp *req.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s request: %w", op, err)
	}
	if !resp.IsErrorState() {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Code: controlplane.ErrCodeUnknownError, Message: http.StatusText(resp.StatusCode)}
	if body, ok := resp.ErrorResult().(*controlplane.ErrorResponse); ok && body.Code != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	}
	return fmt.Errorf("%s: %w", op, apiErr)
}
