package acquire

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/render"
	"zhihu-archive/internal/scrapers/zhihu"
)

const report_controller_browser = "controller.browser"

type selectors struct {
	content    string
	title      string
	author     string
	upvote     string
	titleImage string
	published  string
}

var articleSelectors = selectors{
	content:    ".Post-RichTextContainer",
	author:     ".AuthorInfo-name",
	upvote:     "button.VoteButton--up",
	titleImage: "img.TitleImage",
	published:  `meta[itemprop="datePublished"]`,
}

var answerSelectors = selectors{
	content:   ".QuestionAnswer-content .RichContent-inner",
	title:     ".QuestionHeader-title",
	author:    ".QuestionAnswer-content .AuthorInfo-name",
	upvote:    ".QuestionAnswer-content button.VoteButton--up",
	published: `.QuestionAnswer-content meta[itemprop="dateCreated"]`,
}

const homeURL = zhihu.DefaultBaseURL + "/"

var upvoteRegex = regexp.MustCompile(`赞同\s*([\d,]+)`)

// fetchBrowser renders the target in a browser of its own. The browser is
// torn down on every exit path.
func (c *Controller) fetchBrowser(ctx context.Context, target zhihu.Target) (result zhihu.FetchResult, err error) {
	ctx, span := tracer.Start(ctx, "controller:fetchBrowser")
	defer span.End()

	handle, err := c.engine.Launch(ctx)
	if err != nil {
		c.tel.ReportBroken(report_controller_browser, err)
		return zhihu.FetchResult{}, errs.Rendering(report_controller_browser, err)
	}
	defer func() {
		closeErr := handle.Close()
		if closeErr != nil {
			c.tel.ReportWarning(report_controller_browser, "close", closeErr)
		}
	}()

	page, err := handle.NewPage(ctx, sessionCookies(c.protocol.Session().Cookies), target.URL)
	if err != nil {
		if ctx.Err() != nil {
			return zhihu.FetchResult{}, fmt.Errorf("render %s: %w", target.URL, ctx.Err())
		}
		return zhihu.FetchResult{}, errs.Rendering(report_controller_browser, err).With("url", target.URL)
	}

	location, err := page.URL(ctx)
	if err == nil && isSignInPage(location) {
		c.tel.ReportWarning(report_controller_browser, target.URL, "redirected to sign-in", location)
		c.protocol.Rotate()
		return zhihu.FetchResult{}, fmt.Errorf("render %s: %w", target.URL, errs.ErrSignInRedirect)
	}

	sel := answerSelectors
	if target.Kind == zhihu.TargetArticle {
		sel = articleSelectors
	}

	err = page.WaitForSelector(ctx, sel.content, c.opts.ContentTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return zhihu.FetchResult{}, fmt.Errorf("render %s: %w", target.URL, ctx.Err())
		}
		return zhihu.FetchResult{}, fmt.Errorf("render %s: %w: %w", target.URL, errs.ErrContentNotRendered, err)
	}

	markup, err := page.QueryInnerHTML(ctx, sel.content)
	if err != nil || strings.TrimSpace(markup) == "" {
		return zhihu.FetchResult{}, fmt.Errorf("render %s: %w", target.URL, errs.ErrContentNotRendered)
	}

	result = zhihu.FetchResult{
		ID:         target.ID,
		Type:       zhihu.TypeAnswer,
		RawMarkup:  markup,
		URL:        target.URL,
		QuestionID: target.QuestionID,
	}
	if target.Kind == zhihu.TargetArticle {
		result.Type = zhihu.TypeArticle
	}

	result.Title = c.extractTitle(ctx, page, sel)
	result.Author = c.extractAuthor(ctx, page, sel)
	result.UpvoteCount = c.extractUpvotes(ctx, page, sel)
	result.PublishedDate = c.extractPublished(ctx, page, sel)
	if sel.titleImage != "" {
		result.TitleImage, _ = page.QueryAttribute(ctx, sel.titleImage, "src")
	}

	return result, nil
}

func sessionCookies(cookies map[string]string) []render.Cookie {
	out := make([]render.Cookie, 0, len(cookies))
	for name, value := range cookies {
		out = append(out, render.Cookie{
			Name:     name,
			Value:    value,
			Domain:   ".zhihu.com",
			Path:     "/",
			Secure:   true,
			SameSite: "Lax",
		})
	}
	return out
}

func isSignInPage(location string) bool {
	return location == homeURL || strings.Contains(location, "signin")
}

// every extractor below tolerates a missing element and falls back to a default

func (c *Controller) extractTitle(ctx context.Context, page render.Page, sel selectors) string {
	if sel.title != "" {
		text, err := page.QueryText(ctx, sel.title)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	title, err := page.Title(ctx)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), " - 知乎"))
}

func (c *Controller) extractAuthor(ctx context.Context, page render.Page, sel selectors) string {
	err := page.WaitForSelector(ctx, sel.author, c.opts.FieldTimeout)
	if err != nil {
		return zhihu.UnknownAuthor
	}
	name, err := page.QueryText(ctx, sel.author)
	if err != nil || strings.TrimSpace(name) == "" {
		return zhihu.UnknownAuthor
	}
	return strings.TrimSpace(name)
}

func (c *Controller) extractUpvotes(ctx context.Context, page render.Page, sel selectors) int {
	err := page.WaitForSelector(ctx, sel.upvote, c.opts.FieldTimeout)
	if err != nil {
		return 0
	}
	label, err := page.QueryAttribute(ctx, sel.upvote, "aria-label")
	if err != nil {
		return 0
	}
	return parseUpvotes(label)
}

func parseUpvotes(label string) int {
	groups := upvoteRegex.FindStringSubmatch(label)
	if groups == nil {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(groups[1], ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func (c *Controller) extractPublished(ctx context.Context, page render.Page, sel selectors) time.Time {
	raw, err := page.QueryAttribute(ctx, sel.published, "content")
	if err != nil && !errors.Is(err, render.ErrElementNotFound) {
		c.tel.ReportDebug("published date lookup failed", err)
	}
	if raw != "" {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z07:00", "2006-01-02"} {
			parsed, err := time.Parse(layout, raw)
			if err == nil {
				return parsed.In(c.clock.Location())
			}
		}
	}
	return c.clock.Now()
}
