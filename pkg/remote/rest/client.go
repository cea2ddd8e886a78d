// Package rest implements remote.Client over the backend's PostgREST API.
package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	serrors "github.com/zfogg/sidechain/clientsync/pkg/errors"
	"github.com/zfogg/sidechain/clientsync/pkg/remote"
	"github.com/zfogg/sidechain/clientsync/pkg/telemetry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	restPrefix = "/rest/v1/"
	rpcPrefix  = "/rest/v1/rpc/"

	defaultUserAgent = "Sidechain-Sync/0.1.0"
	objectMediaType  = "application/vnd.pgrst.object+json"
)

// Config configures a Client
type Config struct {
	BaseURL     string
	APIKey      string
	AccessToken string
	Timeout     time.Duration
	UserAgent   string

	// Reads are retried with exponential backoff; writes never are.
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration

	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client talks to the backend's table and rpc endpoints
type Client struct {
	http   *resty.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

var _ remote.Client = (*Client)(nil)

// New creates a Client
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	switch {
	case cfg.RetryCount == 0:
		cfg.RetryCount = 3
	case cfg.RetryCount < 0:
		cfg.RetryCount = 0
	}
	if cfg.RetryWait == 0 {
		cfg.RetryWait = time.Second
	}
	if cfg.RetryMaxWait == 0 {
		cfg.RetryMaxWait = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		logger: logger.Named("rest"),
		token:  cfg.AccessToken,
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	httpClient.SetTimeout(cfg.Timeout)
	httpClient.SetTransport(telemetry.NewTransport(cfg.Transport))
	httpClient.SetHeader("User-Agent", cfg.UserAgent)
	httpClient.SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		httpClient.SetHeader("apikey", cfg.APIKey)
	}
	httpClient.SetJSONMarshaler(json.Marshal)
	httpClient.SetJSONUnmarshaler(json.Unmarshal)

	httpClient.SetRetryCount(cfg.RetryCount)
	httpClient.SetRetryWaitTime(cfg.RetryWait)
	httpClient.SetRetryMaxWaitTime(cfg.RetryMaxWait)
	httpClient.AddRetryCondition(shouldRetry)

	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		c.logger.Debug("HTTP Request", zap.String("method", req.Method), zap.String("url", req.URL))
		return nil
	})
	httpClient.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		c.logger.Debug("HTTP Response",
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("elapsed", resp.Time()),
		)
		return nil
	})

	c.http = httpClient
	return c
}

// shouldRetry retries reads on network errors, 429 and 5xx
func shouldRetry(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	req := resp.Request
	read := req.Method == http.MethodGet || req.Method == http.MethodHead ||
		(req.Context() != nil && remote.IsReadOnly(req.Context()))
	if !read {
		return false
	}
	if err != nil {
		return req.Context() == nil || req.Context().Err() == nil
	}
	status := resp.StatusCode()
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// SetAccessToken swaps the bearer token used for subsequent requests
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// AccessToken returns the current bearer token
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) request(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if token := c.AccessToken(); token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// Query reads rows from a table
func (c *Client) Query(ctx context.Context, q remote.Query) (*remote.Result, error) {
	ctx, span := telemetry.TraceRemoteCall(ctx, "query", q.Table)
	defer span.End()

	params := url.Values{}
	sel := q.Select
	if sel == "" {
		sel = "*"
	}
	params.Set("select", sel)
	addFilters(params, q.Filters)
	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			parts[i] = o.String()
		}
		params.Set("order", strings.Join(parts, ","))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}

	req := c.request(ctx).SetQueryParamsFromValues(params)
	if q.Count || q.Head {
		req.SetHeader("Prefer", "count=exact")
	}
	if q.Single {
		req.SetHeader("Accept", objectMediaType)
	}

	var (
		resp *resty.Response
		err  error
	)
	if q.Head {
		resp, err = req.Head(restPrefix + q.Table)
	} else {
		resp, err = req.Get(restPrefix + q.Table)
	}
	result, err := c.finish(resp, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if q.Count || q.Head {
		result.Count = parseContentRange(resp.Header().Get("Content-Range"))
	}
	if q.Head {
		result.Body = nil
	}
	telemetry.RecordSuccess(span, attribute.Int("backend.count", result.Count))
	return result, nil
}

// Mutate writes rows to a table
func (c *Client) Mutate(ctx context.Context, m remote.Mutation) (*remote.Result, error) {
	ctx, span := telemetry.TraceRemoteCall(ctx, string(m.Op), m.Table)
	defer span.End()

	if (m.Op == remote.OpUpdate || m.Op == remote.OpDelete) && len(m.Filters) == 0 {
		err := serrors.ValidationError(m.Table, string(m.Op)+" requires at least one filter")
		telemetry.RecordError(span, err)
		return nil, err
	}

	params := url.Values{}
	addFilters(params, m.Filters)
	prefer := []string{"return=minimal"}
	if m.Returning {
		prefer[0] = "return=representation"
	}
	if m.Op == remote.OpUpsert {
		prefer = append(prefer, "resolution=merge-duplicates")
		if m.OnConflict != "" {
			params.Set("on_conflict", m.OnConflict)
		}
	}

	req := c.request(ctx).
		SetQueryParamsFromValues(params).
		SetHeader("Prefer", strings.Join(prefer, ","))
	if m.Payload != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(m.Payload)
	}

	path := restPrefix + m.Table
	var (
		resp *resty.Response
		err  error
	)
	switch m.Op {
	case remote.OpInsert, remote.OpUpsert:
		resp, err = req.Post(path)
	case remote.OpUpdate:
		resp, err = req.Patch(path)
	case remote.OpDelete:
		resp, err = req.Delete(path)
	default:
		err = serrors.ValidationError("op", "unknown mutation "+string(m.Op))
		telemetry.RecordError(span, err)
		return nil, err
	}

	result, err := c.finish(resp, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// RPC calls a database function. Calls are only retried when ctx was
// marked with remote.ReadOnly.
func (c *Client) RPC(ctx context.Context, fn string, args any) (*remote.Result, error) {
	ctx, span := telemetry.TraceRemoteCall(ctx, "rpc", fn)
	defer span.End()

	if args == nil {
		args = map[string]any{}
	}
	resp, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(args).
		Post(rpcPrefix + fn)
	result, err := c.finish(resp, err)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

func (c *Client) finish(resp *resty.Response, err error) (*remote.Result, error) {
	if err != nil {
		var ctxErr error
		if resp != nil && resp.Request != nil && resp.Request.Context() != nil {
			ctxErr = resp.Request.Context().Err()
		}
		if ctxErr != nil {
			return nil, serrors.TransientFetchError(ctxErr)
		}
		return nil, serrors.TransientFetchError(err)
	}
	if resp.IsError() {
		syncErr := classify(resp)
		c.logger.Debug("backend error",
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Error(syncErr),
		)
		return nil, syncErr
	}
	return &remote.Result{Body: resp.Body()}, nil
}

func addFilters(params url.Values, filters []remote.Filter) {
	for _, f := range filters {
		params.Add(f.Column, f.String())
	}
}

// parseContentRange reads the total from "0-24/3573" or "*/0"
func parseContentRange(header string) int {
	i := strings.LastIndexByte(header, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(header[i+1:])
	if err != nil {
		return 0
	}
	return n
}
