// client.go contains the protocol tier: signed, fingerprinted requests against
// the private api with rotation on block events. It never retries by itself.

package zhihu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/sessions"
	"zhihu-archive/internal/signature"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_client_fetch   = "client.fetch"
	report_client_block   = "client.block"
	report_client_rebuild = "client.rebuild"
)

var tracer = otel.Tracer("zhihu-archive/scrapers/zhihu")
var meter = otel.Meter("zhihu-archive/scrapers/zhihu")
var blockCounter, _ = meter.Int64Counter("protocol_blocks")

type Options struct {
	BaseURL        string
	ArticleBaseURL string
	// Transport is one of TransportTLSClient, TransportCloudflare or TransportStandard.
	Transport      string
	Timeout        time.Duration
	Proxy          string
	UserAgent      string
	AcceptLanguage string
	// Pacer may be nil to send requests as fast as possible.
	Pacer *Pacer
	// Dump may be nil.
	Dump telemetry.DumpOutput
}

func (o *Options) setDefaults() {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	if o.ArticleBaseURL == "" {
		o.ArticleBaseURL = DefaultArticleBaseURL
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.UserAgent == "" {
		o.UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"
	}
	if o.AcceptLanguage == "" {
		o.AcceptLanguage = "zh-CN,zh;q=0.9,en;q=0.8"
	}
}

type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeBlocked
	OutcomeFailed
)

// Outcome is the result of one protocol request, callers branch on Kind.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	// Err is a *errs.BlockedError for OutcomeBlocked and the failure for OutcomeFailed.
	Err error
}

// Client is the protocol tier client. It is safe for concurrent use, the
// underlying http session is swapped out whenever the session pool rotates.
type Client struct {
	opts   Options
	pool   *sessions.Pool
	signer signature.Provider
	tel    telemetry.API

	mutex   sync.RWMutex
	http    *resty.Client
	session sessions.Session
}

func NewClient(opts Options, pool *sessions.Pool, signer signature.Provider, tel telemetry.API) (*Client, error) {
	assert.NotNil(pool)
	assert.NotNil(signer)
	assert.NotNil(tel)

	opts.setDefaults()
	c := &Client{
		opts:   opts,
		pool:   pool,
		signer: signer,
		tel:    telemetry.NewScopedAPI("zhihu", tel),
	}
	err := c.rebuild()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// rebuild binds a fresh http session to the pool's current session.
func (c *Client) rebuild() error {
	session, _ := c.pool.Current()

	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	httpClient.SetCookieJar(jar)

	transport, err := newTransport(c.opts.Transport, c.opts.Timeout, c.opts.Proxy)
	if err != nil {
		return errs.Config(report_client_rebuild, err)
	}
	httpClient.SetTransport(transport)

	var hosts []string
	for _, base := range []string{c.opts.BaseURL, c.opts.ArticleBaseURL} {
		parsed, err := url.Parse(base)
		if err != nil {
			return errs.Config(report_client_rebuild, err)
		}
		hosts = append(hosts, parsed.Hostname())
	}
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(hosts...))
	httpClient.SetTimeout(c.opts.Timeout)
	httpClient.SetHeaders(map[string]string{
		"user-agent":      c.opts.UserAgent,
		"accept":          "application/json, text/plain, */*",
		"accept-language": c.opts.AcceptLanguage,
		"referer":         DefaultBaseURL + "/",
	})

	cookies := make([]*http.Cookie, 0, len(session.Cookies))
	for name, value := range session.Cookies {
		cookies = append(cookies, &http.Cookie{
			Name:   name,
			Value:  value,
			Domain: ".zhihu.com",
			Path:   "/",
		})
	}
	httpClient.SetCookies(cookies)

	pacer := c.opts.Pacer
	httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return pacer.Wait(req.Context())
	})

	telemetry.InstrumentResty(httpClient, c.tel, c.opts.Dump)

	c.mutex.Lock()
	c.http = httpClient
	c.session = session
	c.mutex.Unlock()

	c.tel.ReportDebug(report_client_rebuild, session.Label())
	return nil
}

func (c *Client) current() (*resty.Client, sessions.Session) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.http, c.session
}

// Do issues a signed GET for an api path relative to the base url.
func (c *Client) Do(ctx context.Context, path string) Outcome {
	return c.get(ctx, c.opts.BaseURL+path, path, true, "")
}

func (c *Client) get(ctx context.Context, fullURL, path string, sign bool, accept string) Outcome {
	ctx, span := tracer.Start(ctx, "client:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.path", path))

	httpClient, session := c.current()

	req := httpClient.R().SetContext(ctx)
	if sign {
		req.SetHeaders(c.signer.Sign(path, session.Secret()))
	}
	if accept != "" {
		req.SetHeader("accept", accept)
	}

	res, err := req.Get(fullURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("fetch %s: %w", path, ctx.Err())}
		}
		return Outcome{Kind: OutcomeFailed, Err: errs.Network(report_client_fetch, err).With("path", path)}
	}

	switch res.StatusCode() {
	case http.StatusOK:
		return Outcome{Kind: OutcomeOK, StatusCode: res.StatusCode(), Body: res.Body()}
	case http.StatusForbidden:
		span.SetStatus(codes.Error, "blocked")
		return Outcome{
			Kind:       OutcomeBlocked,
			StatusCode: res.StatusCode(),
			Body:       res.Body(),
			Err:        c.handleBlock(ctx, path, res),
		}
	default:
		span.SetStatus(codes.Error, res.Status())
		failure := fmt.Errorf("unexpected status %s", res.Status())
		var fetchErr *errs.Error
		if res.StatusCode() == http.StatusNotFound || res.StatusCode() == http.StatusGone {
			fetchErr = errs.ContentNotFound(report_client_fetch, failure)
		} else {
			fetchErr = errs.Network(report_client_fetch, failure)
		}
		c.tel.ReportWarning(report_client_fetch, path, res.StatusCode())
		return Outcome{
			Kind:       OutcomeFailed,
			StatusCode: res.StatusCode(),
			Body:       res.Body(),
			Err:        fetchErr.With("path", path),
		}
	}
}

// handleBlock rotates the pool and rebinds the http session to the new
// identity. The caller decides whether to retry.
func (c *Client) handleBlock(ctx context.Context, path string, res *resty.Response) error {
	blockCounter.Add(ctx, 1)

	body := res.String()
	if len(body) > 200 {
		body = body[:200]
	}
	c.tel.ReportWarning(report_client_block, path, res.StatusCode(), body)

	return &errs.BlockedError{
		Path:       path,
		StatusCode: res.StatusCode(),
		Rotated:    c.Rotate(),
	}
}

// Rotate moves the pool to its next session and rebinds the http session to
// it. It reports false when the pool is empty.
func (c *Client) Rotate() bool {
	_, rotated := c.pool.Rotate()
	if !rotated {
		return false
	}
	err := c.rebuild()
	if err != nil {
		c.tel.ReportBroken(report_client_rebuild, err)
	}
	return true
}

// Fetch is Do with the body decoded into `out`.
func (c *Client) Fetch(ctx context.Context, path string, out any) error {
	outcome := c.Do(ctx, path)
	if outcome.Kind != OutcomeOK {
		return outcome.Err
	}
	err := json.Unmarshal(outcome.Body, out)
	if err != nil {
		return errs.Parse(report_client_fetch, err).With("path", path)
	}
	return nil
}

// Session returns the session the http session is currently bound to.
func (c *Client) Session() sessions.Session {
	_, session := c.current()
	return session
}
