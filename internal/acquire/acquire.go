// Package acquire holds the escalation controller: every fetch starts on the
// protocol tier and falls back to a rendered browser page when the protocol
// tier is blocked or the content type is known to resist it.
package acquire

import (
	"context"
	"fmt"
	"time"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/render"
	"zhihu-archive/internal/scrapers/zhihu"
	"zhihu-archive/internal/sessions"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_controller_fetch    = "controller.fetch"
	report_controller_escalate = "controller.escalate"
	report_controller_retry    = "controller.retry"
	report_controller_question = "controller.fetch-question"
)

var tracer = otel.Tracer("zhihu-archive/acquire")
var meter = otel.Meter("zhihu-archive/acquire")
var escalationCounter, _ = meter.Int64Counter("escalations")

// Protocol is the part of the protocol client the controller drives.
//
// note: fault injection point
type Protocol interface {
	GetAnswer(ctx context.Context, id string) (zhihu.FetchResult, error)
	GetArticle(ctx context.Context, id string) (zhihu.FetchResult, error)
	GetQuestionAnswers(ctx context.Context, questionID string, limit, offset int) ([]zhihu.FetchResult, zhihu.Paging, error)
	// Session is the identity the protocol tier currently uses, the browser
	// tier borrows its cookies.
	Session() sessions.Session
	// Rotate abandons the current identity, it reports false when there is
	// nothing to rotate to.
	Rotate() bool
}

type Options struct {
	// RetryBlocked retries the protocol tier once after a block, the pool
	// has already rotated by then.
	RetryBlocked bool
	// PreferBrowserForArticles skips the protocol tier for articles.
	PreferBrowserForArticles bool
	ContentTimeout           time.Duration
	FieldTimeout             time.Duration
}

type Controller struct {
	protocol Protocol
	// engine is nil when the browser tier is disabled.
	engine render.Engine
	clock  chrono.API
	tel    telemetry.API
	opts   Options
}

func NewController(protocol Protocol, engine render.Engine, clock chrono.API, opts Options, tel telemetry.API) *Controller {
	assert.NotNil(protocol)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.ContentTimeout <= 0 {
		opts.ContentTimeout = 10 * time.Second
	}
	if opts.FieldTimeout <= 0 {
		opts.FieldTimeout = 3 * time.Second
	}
	return &Controller{
		protocol: protocol,
		engine:   engine,
		clock:    clock,
		tel:      telemetry.NewScopedAPI("acquire", tel),
		opts:     opts,
	}
}

// Fetch acquires a single article or answer.
func (c *Controller) Fetch(ctx context.Context, target zhihu.Target) (zhihu.FetchResult, error) {
	ctx, span := tracer.Start(ctx, "controller:Fetch")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.url", target.URL))

	if target.Kind == zhihu.TargetQuestion {
		return zhihu.FetchResult{}, fmt.Errorf("fetch %s: questions hold many answers, use FetchQuestion", target.URL)
	}

	hostile := target.Kind == zhihu.TargetArticle && c.opts.PreferBrowserForArticles
	if !hostile || c.engine == nil {
		result, err := c.fetchProtocol(ctx, target)
		if err == nil {
			return result, nil
		}
		if !c.shouldEscalate(ctx, target, err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "protocol tier failed")
			return zhihu.FetchResult{}, err
		}
		c.tel.ReportWarning(report_controller_escalate, target.URL, err)
	}

	escalationCounter.Add(ctx, 1)
	span.AddEvent("escalate")

	result, err := c.fetchBrowser(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "browser tier failed")
		return zhihu.FetchResult{}, err
	}
	return result, nil
}

func (c *Controller) fetchProtocol(ctx context.Context, target zhihu.Target) (zhihu.FetchResult, error) {
	fetch := func() (zhihu.FetchResult, error) {
		if target.Kind == zhihu.TargetArticle {
			return c.protocol.GetArticle(ctx, target.ID)
		}
		return c.protocol.GetAnswer(ctx, target.ID)
	}

	result, err := fetch()
	if err == nil || !errs.IsBlocked(err) || !c.opts.RetryBlocked {
		return result, err
	}

	c.tel.ReportDebug(report_controller_retry, target.URL)
	return fetch()
}

// shouldEscalate decides whether a protocol failure moves the fetch to the
// browser tier.
func (c *Controller) shouldEscalate(ctx context.Context, target zhihu.Target, err error) bool {
	if c.engine == nil || ctx.Err() != nil {
		return false
	}
	if errs.IsBlocked(err) {
		return true
	}
	// article pages hide their state behind a js challenge when they get
	// suspicious, which looks like a page without content from here
	if target.Kind == zhihu.TargetArticle {
		category, _ := errs.Classify(err)
		return category == errs.CategoryContentNotFound || category == errs.CategoryParse
	}
	return false
}

// FetchQuestion walks a question's answers from `offset` until `limit`
// answers were collected or the question runs out of answers. Answers
// collected before a failure are returned alongside the error.
func (c *Controller) FetchQuestion(ctx context.Context, questionID string, limit, offset int) ([]zhihu.FetchResult, error) {
	ctx, span := tracer.Start(ctx, "controller:FetchQuestion")
	defer span.End()

	var out []zhihu.FetchResult
	seen := map[string]struct{}{}

	for len(out) < limit {
		size := min(limit-len(out), zhihu.MaxPageSize)

		page, paging, err := c.protocol.GetQuestionAnswers(ctx, questionID, size, offset)
		if errs.IsBlocked(err) && c.opts.RetryBlocked {
			c.tel.ReportDebug(report_controller_retry, questionID, offset)
			page, paging, err = c.protocol.GetQuestionAnswers(ctx, questionID, size, offset)
		}
		if err != nil {
			c.tel.ReportWarning(report_controller_question, questionID, offset, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "page failed")
			return out, err
		}
		if len(page) == 0 {
			break
		}

		for _, answer := range page {
			if _, dup := seen[answer.ID]; dup {
				continue
			}
			seen[answer.ID] = struct{}{}
			out = append(out, answer)
			if len(out) >= limit {
				break
			}
		}
		offset += len(page)

		if paging.IsEnd {
			break
		}
	}

	return out, nil
}
