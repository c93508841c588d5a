/*
Package client talks to the remote version management API.

Client implements the per-site job operations (submit a batch delete, submit a
version report, read job progress). AdminClient uses the same transport for the
tenant admin endpoints: listing sites and reading or writing tenant settings.
Every request is throttled by a shared rate limiter, carries a bearer token when
one is configured, and is recorded in metrics and traces.
*/
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/site-version-jobs/monitoring"
	"github.com/Nexora-Open-Source/site-version-jobs/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	versionPolicyPath = "/_api/site/versionpolicy"
	maxResponseBytes  = 1 << 20
)

var (
	// ErrInvalidDestination is returned when a report destination is not inside the site
	ErrInvalidDestination = errors.New("invalid report destination")
	// ErrDestinationExists is returned when the remote service already has a file at the destination
	ErrDestinationExists = errors.New("report destination already exists")
)

// RemoteError describes a failed call to the remote API
type RemoteError struct {
	Op         string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.URL)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ", body: %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Options configures a Client
type Options struct {
	AccessToken       string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client performs the per-site job operations
type Client struct {
	httpClient *http.Client
	token      string
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// New creates a client. A zero RequestsPerSecond disables throttling.
func New(opts Options, logger *logrus.Logger) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		httpClient: httpClient,
		token:      opts.AccessToken,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

type batchDeleteRequest struct {
	DeleteBeforeDays int `json:"deleteBeforeDays"`
}

type batchDeleteResponse struct {
	WorkItemID string `json:"workItemId"`
}

type reportRequest struct {
	ReportURL string `json:"reportUrl"`
}

// SubmitCleanupJob queues a batch delete of versions older than thresholdDays
func (c *Client) SubmitCleanupJob(ctx context.Context, entityURL string, thresholdDays int) (types.JobHandle, error) {
	endpoint, err := siteEndpoint(entityURL, "/batchdelete", nil)
	if err != nil {
		return types.JobHandle{}, err
	}

	var resp batchDeleteResponse
	if _, err := c.do(ctx, "submit_cleanup", http.MethodPost, endpoint, batchDeleteRequest{DeleteBeforeDays: thresholdDays}, &resp); err != nil {
		return types.JobHandle{}, err
	}
	if resp.WorkItemID == "" {
		return types.JobHandle{}, &RemoteError{Op: "submit_cleanup", URL: endpoint, Err: errors.New("response carried no work item id")}
	}

	return types.JobHandle{Value: resp.WorkItemID, EntityURL: entityURL, Mode: types.ModeCleanup}, nil
}

// SubmitReportJob asks the site to write a version report to destination.
// The returned handle is the destination itself.
func (c *Client) SubmitReportJob(ctx context.Context, entityURL, destination string) (types.JobHandle, error) {
	if err := ValidateDestination(entityURL, destination); err != nil {
		return types.JobHandle{}, err
	}
	endpoint, err := siteEndpoint(entityURL, "/reports", nil)
	if err != nil {
		return types.JobHandle{}, err
	}

	status, err := c.do(ctx, "submit_report", http.MethodPost, endpoint, reportRequest{ReportURL: destination}, nil)
	if err != nil {
		if status == http.StatusConflict {
			return types.JobHandle{}, fmt.Errorf("%w: %s: %w", ErrDestinationExists, destination, err)
		}
		return types.JobHandle{}, err
	}

	return types.JobHandle{Value: destination, EntityURL: entityURL, Mode: types.ModeReport}, nil
}

// FetchProgress reads the current progress of the job behind handle. A job the
// service cannot see yet is reported as status "no_report_found", not as an error.
func (c *Client) FetchProgress(ctx context.Context, entityURL string, handle types.JobHandle) (types.RawProgress, error) {
	endpoint, err := siteEndpoint(entityURL, "/progress", url.Values{
		"handle": {handle.Value},
		"mode":   {string(handle.Mode)},
	})
	if err != nil {
		return types.RawProgress{}, err
	}

	var body json.RawMessage
	status, err := c.do(ctx, "fetch_progress", http.MethodGet, endpoint, nil, &body)
	if status == http.StatusNotFound {
		return types.RawProgress{Status: "no_report_found"}, nil
	}
	if err != nil {
		return types.RawProgress{}, err
	}

	progress, err := ParseProgress(body)
	if err != nil {
		return types.RawProgress{}, &RemoteError{Op: "fetch_progress", URL: endpoint, StatusCode: status, Err: err}
	}
	return progress, nil
}

// ValidateDestination checks that destination is an absolute URL inside the site
func ValidateDestination(entityURL, destination string) error {
	site, err := url.Parse(entityURL)
	if err != nil || site.Scheme == "" || site.Host == "" {
		return fmt.Errorf("%w: site URL %q is not absolute", ErrInvalidDestination, entityURL)
	}
	dest, err := url.Parse(destination)
	if err != nil || dest.Scheme == "" || dest.Host == "" {
		return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidDestination, destination)
	}
	if !strings.EqualFold(site.Host, dest.Host) {
		return fmt.Errorf("%w: %q is not on host %s", ErrInvalidDestination, destination, site.Host)
	}
	prefix := strings.TrimSuffix(site.Path, "/") + "/"
	if !strings.HasPrefix(strings.ToLower(dest.Path), strings.ToLower(prefix)) || len(dest.Path) <= len(prefix) {
		return fmt.Errorf("%w: %q is outside site %s", ErrInvalidDestination, destination, entityURL)
	}
	return nil
}

func siteEndpoint(entityURL, path string, query url.Values) (string, error) {
	u, err := url.Parse(entityURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("site URL %q is not absolute", entityURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + versionPolicyPath + path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// do sends one JSON request. The returned status is set whenever a response
// was received, including non-2xx responses reported as *RemoteError.
func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out interface{}) (int, error) {
	ctx, span := monitoring.CreateSpan(ctx, "remote."+op)
	defer span.End()

	start := time.Now()
	status, err := c.send(ctx, op, method, endpoint, in, out)

	label := "error"
	if status != 0 {
		label = strconv.Itoa(status)
	}
	monitoring.RecordRemoteRequest(op, label, time.Since(start).Seconds())
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"http.method":      method,
		"http.url":         endpoint,
		"http.status_code": status,
	})
	if err != nil {
		monitoring.SetSpanError(span, err)
	}
	return status, err
}

func (c *Client) send(ctx context.Context, op, method, endpoint string, in, out interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, &RemoteError{Op: op, URL: endpoint, Err: err}
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, &RemoteError{Op: op, URL: endpoint, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, &RemoteError{Op: op, URL: endpoint, Err: err}
	}
	requestID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &RemoteError{Op: op, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, &RemoteError{Op: op, URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.WithFields(logrus.Fields{
		"operation":  op,
		"url":        endpoint,
		"status":     resp.StatusCode,
		"request_id": requestID,
	}).Debug("Remote request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, &RemoteError{
			Op:         op,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(respBody)), 512),
		}
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, &RemoteError{Op: op, URL: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return resp.StatusCode, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
