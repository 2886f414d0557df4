// Package network is the network-stack boundary of a profile.
//
// Every request the engine makes (navigations, sub-resources, script
// fetches, service-worker fetches and prefetches) goes through a Client.
// The transport chain, outermost first:
//
//	resty (redirects, timeout, user agent)
//	  headers.Transport (origin-matched headers, once per hop)
//	    retryablehttp.RoundTripper (retries a single hop)
//	      cleanhttp pooled transport
//
// The inner retrying client never follows redirects itself, so every hop
// is seen by the header transport.
package network

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/youtube/cobalt-sub008/internal/headers"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/config"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/monitoring"
	"github.com/youtube/cobalt-sub008/internal/infrastructure/resilience"
	"github.com/youtube/cobalt-sub008/internal/origin"
)

// Options configures a Client.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RequestsPerSecond paces all requests of the client. Zero or less
	// means unlimited.
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	MaxRedirects      int
	MaxBodyBytes      int64
	// BreakerFailures is the consecutive failure count that opens an
	// origin's breaker.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// TLSConfig overrides the TLS settings of the pooled transport.
	TLSConfig *tls.Config

	Logger  *zap.Logger
	Metrics *monitoring.Metrics
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:           30 * time.Second,
		Retries:           2,
		RetryWaitMin:      100 * time.Millisecond,
		RetryWaitMax:      2 * time.Second,
		RequestsPerSecond: 50,
		Burst:             100,
		UserAgent:         "cobalt-host/1.0",
		MaxRedirects:      10,
		MaxBodyBytes:      10 << 20,
		BreakerFailures:   10,
		BreakerTimeout:    30 * time.Second,
	}
}

// OptionsFromConfig maps the FETCH_* settings onto the defaults.
func OptionsFromConfig(cfg config.FetchConfig) Options {
	opts := DefaultOptions()
	opts.Timeout = cfg.Timeout
	opts.Retries = cfg.Retries
	opts.RequestsPerSecond = cfg.RequestsPerSecond
	opts.Burst = cfg.Burst
	if cfg.UserAgent != "" {
		opts.UserAgent = cfg.UserAgent
	}
	return opts
}

// Client issues requests for one profile.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.Set
	metrics  *monitoring.Metrics
	log      *zap.Logger
	maxBody  int64
}

// NewClient builds the transport chain around store.
func NewClient(store *headers.Store, opts Options) *Client {
	def := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = def.MaxRedirects
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = def.MaxBodyBytes
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = def.RetryWaitMin
	}
	if opts.RetryWaitMax < opts.RetryWaitMin {
		opts.RetryWaitMax = opts.RetryWaitMin
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = def.BreakerFailures
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = def.BreakerTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Client{
		metrics: opts.Metrics,
		log:     log,
		maxBody: opts.MaxBodyBytes,
	}

	// Single-hop retrying client
	inner := cleanhttp.DefaultPooledClient()
	if opts.TLSConfig != nil {
		if t, ok := inner.Transport.(*http.Transport); ok {
			t.TLSClientConfig = opts.TLSConfig.Clone()
		}
	}
	inner.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	retry := retryablehttp.NewClient()
	retry.HTTPClient = inner
	retry.RetryMax = opts.Retries
	retry.RetryWaitMin = opts.RetryWaitMin
	retry.RetryWaitMax = opts.RetryWaitMax
	retry.Logger = leveledLogger{log.Sugar()}
	retry.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retry.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt == 0 {
			return
		}
		initiator, _ := InitiatorFromContext(req.Context())
		log.Debug("Retrying request",
			zap.String("url", req.URL.String()),
			zap.String("initiator", initiator.String()),
			zap.Int("attempt", attempt))
	}

	var headerOpts []headers.TransportOption
	headerOpts = append(headerOpts, headers.WithLogger(log))
	if opts.Metrics != nil {
		headerOpts = append(headerOpts, headers.WithRecorder(opts.Metrics))
	}
	transport := headers.NewTransport(store, &retryablehttp.RoundTripper{Client: retry}, headerOpts...)

	maxRedirects := opts.MaxRedirects
	c.resty = resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept-Encoding", AcceptEncoding).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		}))

	if opts.RequestsPerSecond <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		burst := opts.Burst
		if burst <= 0 {
			burst = int(opts.RequestsPerSecond) + 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	failures := opts.BreakerFailures
	c.breakers = resilience.NewSet(resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to resilience.State) {
			log.Warn("Origin breaker changed state",
				zap.String("origin", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to))
			if c.metrics != nil {
				c.metrics.RecordBreakerTransition(to.String())
			}
		},
	})

	return c
}

// Do sends req and reads the whole response. Non-2xx statuses are not
// errors.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", req.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	target, err := origin.FromURL(u)
	if err != nil {
		return nil, err
	}

	crossOrigin := !req.Origin.IsZero() && !origin.SameOrigin(req.Origin, target)
	if crossOrigin && req.Mode == ModeSameOrigin {
		return nil, fmt.Errorf("%w: %s from %s", ErrCrossOrigin, target, req.Origin)
	}

	if crossOrigin && req.Mode == ModeCORS {
		req.Header = req.Header.Clone()
		if req.Header == nil {
			req.Header = http.Header{}
		}
		if need, names := needsPreflight(req.Method, req.Header); need {
			pre, err := c.execute(ctx, target, preflightRequest(req, names))
			if err != nil {
				return nil, fmt.Errorf("preflight: %w", err)
			}
			if cerr := checkPreflight(pre, req.Origin, req.Method, names); cerr != nil {
				return nil, cerr
			}
		}
		req.Header.Set("Origin", req.Origin.String())
	}

	resp, err := c.execute(ctx, target, req)
	if err != nil {
		return nil, err
	}
	if crossOrigin && req.Mode == ModeCORS {
		if cerr := checkAllowOrigin(resp, req.Origin); cerr != nil {
			return nil, cerr
		}
	}
	return resp, nil
}

func (c *Client) execute(ctx context.Context, target origin.Origin, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	timer := monitoring.NewTimer(c.metrics, req.Initiator.String())
	breaker := c.breakers.Get(target.String())

	var raw *resty.Response
	err := breaker.Execute(func() error {
		r := c.resty.R().
			SetContext(WithInitiator(ctx, req.Initiator)).
			SetDoNotParseResponse(true)
		for name, values := range req.Header {
			r.Header[name] = append([]string(nil), values...)
		}
		if req.Body != nil {
			r.SetBody(req.Body)
		}

		resp, err := r.Execute(req.Method, req.URL)
		raw = resp
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 500 {
			return errServerStatus
		}
		return nil
	})

	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		timer.Stop("rejected")
		return nil, fmt.Errorf("%w: %s", ErrOriginUnavailable, target)
	case err != nil && !errors.Is(err, errServerStatus):
		timer.Stop("error")
		closeRaw(raw)
		c.log.Debug("Request failed",
			zap.String("url", req.URL),
			zap.Stringer("initiator", req.Initiator),
			zap.Error(err))
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}

	resp, err := c.readResponse(raw, req.Initiator)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}
	resp.Duration = timer.Stop(statusClass(resp.StatusCode))
	return resp, nil
}

func (c *Client) readResponse(raw *resty.Response, initiator Initiator) (*Response, error) {
	httpResp := raw.RawResponse
	if httpResp == nil {
		return nil, errors.New("empty response")
	}
	defer httpResp.Body.Close()

	body, err := readBody(httpResp.Header, httpResp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", httpResp.Request.URL, err)
	}

	header := httpResp.Header.Clone()
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return &Response{
		URL:        httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Header:     header,
		Body:       body,
		MIMEType:   mimeType(httpResp.Header, body),
		Initiator:  initiator,
	}, nil
}

// BreakerStates reports the breaker of every origin contacted so far.
func (c *Client) BreakerStates() map[string]resilience.State {
	return c.breakers.States()
}

func closeRaw(raw *resty.Response) {
	if raw != nil && raw.RawResponse != nil && raw.RawResponse.Body != nil {
		raw.RawResponse.Body.Close()
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
