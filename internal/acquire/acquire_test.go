package acquire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/render"
	"zhihu-archive/internal/scrapers/zhihu"
	"zhihu-archive/internal/sessions"

	"github.com/stretchr/testify/require"
)

type fakeProtocol struct {
	mutex        sync.Mutex
	answerCalls  int
	articleCalls int
	answers      []error
	article      error
	pages        map[int][]zhihu.FetchResult
	pageCalls    []int
	rotations    int
}

func (f *fakeProtocol) GetAnswer(ctx context.Context, id string) (zhihu.FetchResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	idx := f.answerCalls
	f.answerCalls++
	if idx < len(f.answers) && f.answers[idx] != nil {
		return zhihu.FetchResult{}, f.answers[idx]
	}
	return zhihu.FetchResult{ID: id, Type: zhihu.TypeAnswer, Title: "protocol"}, nil
}

func (f *fakeProtocol) GetArticle(ctx context.Context, id string) (zhihu.FetchResult, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.articleCalls++
	if f.article != nil {
		return zhihu.FetchResult{}, f.article
	}
	return zhihu.FetchResult{ID: id, Type: zhihu.TypeArticle, Title: "protocol"}, nil
}

func (f *fakeProtocol) GetQuestionAnswers(ctx context.Context, questionID string, limit, offset int) ([]zhihu.FetchResult, zhihu.Paging, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.pageCalls = append(f.pageCalls, offset)
	page := f.pages[offset]
	if len(page) > limit {
		page = page[:limit]
	}
	_, more := f.pages[offset+len(page)]
	return page, zhihu.Paging{IsEnd: !more}, nil
}

func (f *fakeProtocol) Session() sessions.Session {
	return sessions.Session{Cookies: map[string]string{"z_c0": "token"}}
}

func (f *fakeProtocol) Rotate() bool {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.rotations++
	return true
}

type fakeElement struct {
	text  string
	html  string
	attrs map[string]string
}

type fakePage struct {
	url      string
	title    string
	elements map[string]fakeElement
}

func (p *fakePage) URL(context.Context) (string, error)   { return p.url, nil }
func (p *fakePage) Title(context.Context) (string, error) { return p.title, nil }

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if _, ok := p.elements[selector]; ok {
		return nil
	}
	return context.DeadlineExceeded
}

func (p *fakePage) QueryText(ctx context.Context, selector string) (string, error) {
	el, ok := p.elements[selector]
	if !ok {
		return "", render.ErrElementNotFound
	}
	return el.text, nil
}

func (p *fakePage) QueryAttribute(ctx context.Context, selector, attribute string) (string, error) {
	el, ok := p.elements[selector]
	if !ok {
		return "", render.ErrElementNotFound
	}
	return el.attrs[attribute], nil
}

func (p *fakePage) QueryInnerHTML(ctx context.Context, selector string) (string, error) {
	el, ok := p.elements[selector]
	if !ok {
		return "", render.ErrElementNotFound
	}
	return el.html, nil
}

type fakeEngine struct {
	page     *fakePage
	launches int
	closes   int
	cookies  []render.Cookie
	url      string
}

func (e *fakeEngine) Launch(ctx context.Context) (render.Handle, error) {
	e.launches++
	return fakeHandle{engine: e}, nil
}

type fakeHandle struct {
	engine *fakeEngine
}

func (h fakeHandle) NewPage(ctx context.Context, cookies []render.Cookie, url string) (render.Page, error) {
	h.engine.cookies = cookies
	h.engine.url = url
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return h.engine.page, nil
}

func (h fakeHandle) Close() error {
	h.engine.closes++
	return nil
}

var today = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func renderedArticle() *fakePage {
	return &fakePage{
		url:   "https://zhuanlan.zhihu.com/p/100",
		title: "A title - 知乎",
		elements: map[string]fakeElement{
			".Post-RichTextContainer": {html: "<p>rendered</p>"},
			"button.VoteButton--up":   {attrs: map[string]string{"aria-label": "赞同 1,234 "}},
			"img.TitleImage":          {attrs: map[string]string{"src": "https://pic.zhimg.com/t.jpg"}},
		},
	}
}

func newController(protocol Protocol, engine render.Engine, opts Options) (*Controller, *telemetry.Recorder) {
	rec := telemetry.NewRecorder()
	return NewController(protocol, engine, chrono.FixedImpl{Instant: today}, opts, rec), rec
}

var blocked = fmt.Errorf("get answer: %w", &errs.BlockedError{Path: "/api", StatusCode: 403, Rotated: true})

func answerTarget() zhihu.Target {
	target, _ := zhihu.ParseTarget("https://www.zhihu.com/question/1/answer/2")
	return target
}

func articleTarget() zhihu.Target {
	target, _ := zhihu.ParseTarget("https://zhuanlan.zhihu.com/p/100")
	return target
}

func TestProtocolSuccessNeverLaunches(t *testing.T) {
	protocol := &fakeProtocol{}
	engine := &fakeEngine{page: renderedArticle()}
	controller, _ := newController(protocol, engine, Options{RetryBlocked: true})

	result, err := controller.Fetch(context.Background(), answerTarget())
	require.NoError(t, err)
	require.Equal(t, "protocol", result.Title)
	require.Equal(t, 0, engine.launches)
}

func TestRetryOnceAfterBlock(t *testing.T) {
	protocol := &fakeProtocol{answers: []error{blocked}}
	engine := &fakeEngine{page: renderedArticle()}
	controller, _ := newController(protocol, engine, Options{RetryBlocked: true})

	result, err := controller.Fetch(context.Background(), answerTarget())
	require.NoError(t, err)
	require.Equal(t, "protocol", result.Title)
	require.Equal(t, 2, protocol.answerCalls)
	require.Equal(t, 0, engine.launches)
}

func TestEscalatesAfterRepeatedBlock(t *testing.T) {
	protocol := &fakeProtocol{article: fmt.Errorf("get article: %w", &errs.BlockedError{StatusCode: 403})}
	engine := &fakeEngine{page: renderedArticle()}
	controller, rec := newController(protocol, engine, Options{RetryBlocked: true})

	result, err := controller.Fetch(context.Background(), articleTarget())
	require.NoError(t, err)
	require.Equal(t, 2, protocol.articleCalls)
	require.Equal(t, 1, engine.launches)
	require.Equal(t, 1, engine.closes)
	require.True(t, rec.HasWarning(report_controller_escalate))

	require.Equal(t, zhihu.FetchResult{
		ID:            "100",
		Type:          zhihu.TypeArticle,
		Title:         "A title",
		Author:        zhihu.UnknownAuthor,
		RawMarkup:     "<p>rendered</p>",
		PublishedDate: today,
		UpvoteCount:   1234,
		URL:           "https://zhuanlan.zhihu.com/p/100",
		TitleImage:    "https://pic.zhimg.com/t.jpg",
	}, result)

	require.Equal(t, "https://zhuanlan.zhihu.com/p/100", engine.url)
	require.Equal(t, []render.Cookie{{
		Name:     "z_c0",
		Value:    "token",
		Domain:   ".zhihu.com",
		Path:     "/",
		Secure:   true,
		SameSite: "Lax",
	}}, engine.cookies)
}

func TestBrowserFailuresStillTearDown(t *testing.T) {
	cases := []struct {
		name      string
		page      *fakePage
		expected  error
		rotations int
	}{
		{
			name:      "sign-in redirect",
			page:      &fakePage{url: "https://www.zhihu.com/signin?next=%2Fp%2F100"},
			expected:  errs.ErrSignInRedirect,
			rotations: 1,
		},
		{
			name:      "bounced to home",
			page:      &fakePage{url: "https://www.zhihu.com/"},
			expected:  errs.ErrSignInRedirect,
			rotations: 1,
		},
		{
			name:     "content never appears",
			page:     &fakePage{url: "https://zhuanlan.zhihu.com/p/100"},
			expected: errs.ErrContentNotRendered,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			protocol := &fakeProtocol{}
			engine := &fakeEngine{page: c.page}
			controller, _ := newController(protocol, engine, Options{PreferBrowserForArticles: true})

			_, err := controller.Fetch(context.Background(), articleTarget())
			require.ErrorIs(t, err, c.expected)
			require.Equal(t, 1, engine.launches)
			require.Equal(t, 1, engine.closes)
			require.Equal(t, c.rotations, protocol.rotations)
		})
	}
}

func TestCanceledFetchReleasesBrowser(t *testing.T) {
	engine := &fakeEngine{page: renderedArticle()}
	controller, _ := newController(&fakeProtocol{}, engine, Options{PreferBrowserForArticles: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := controller.Fetch(ctx, articleTarget())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, engine.launches, engine.closes)
}

func TestPreferBrowserSkipsProtocol(t *testing.T) {
	protocol := &fakeProtocol{}
	engine := &fakeEngine{page: renderedArticle()}
	controller, _ := newController(protocol, engine, Options{PreferBrowserForArticles: true})

	result, err := controller.Fetch(context.Background(), articleTarget())
	require.NoError(t, err)
	require.Equal(t, "<p>rendered</p>", result.RawMarkup)
	require.Equal(t, 0, protocol.articleCalls)
}

func TestNoEscalation(t *testing.T) {
	t.Run("non-block answer failure", func(t *testing.T) {
		notFound := errs.ContentNotFound("client.fetch", errors.New("404"))
		protocol := &fakeProtocol{answers: []error{notFound}}
		engine := &fakeEngine{page: renderedArticle()}
		controller, _ := newController(protocol, engine, Options{RetryBlocked: true})

		_, err := controller.Fetch(context.Background(), answerTarget())
		require.ErrorIs(t, err, notFound)
		require.Equal(t, 1, protocol.answerCalls)
		require.Equal(t, 0, engine.launches)
	})

	t.Run("browser disabled", func(t *testing.T) {
		protocol := &fakeProtocol{answers: []error{blocked, blocked}}
		controller, _ := newController(protocol, nil, Options{RetryBlocked: true})

		_, err := controller.Fetch(context.Background(), answerTarget())
		require.True(t, errs.IsBlocked(err))
		require.Equal(t, 2, protocol.answerCalls)
	})

	t.Run("question target", func(t *testing.T) {
		controller, _ := newController(&fakeProtocol{}, nil, Options{})
		target, err := zhihu.ParseTarget("https://www.zhihu.com/question/1")
		require.NoError(t, err)
		_, err = controller.Fetch(context.Background(), target)
		require.Error(t, err)
	})
}

func answers(ids ...string) []zhihu.FetchResult {
	var out []zhihu.FetchResult
	for _, id := range ids {
		out = append(out, zhihu.FetchResult{ID: id, Type: zhihu.TypeAnswer})
	}
	return out
}

func TestFetchQuestion(t *testing.T) {
	var first []string
	for i := 0; i < 20; i++ {
		first = append(first, fmt.Sprint(i))
	}
	protocol := &fakeProtocol{pages: map[int][]zhihu.FetchResult{
		0: answers(first...),
		// the listing shifted between requests, answer 19 shows up again
		20: answers("19", "20", "21"),
	}}
	controller, _ := newController(protocol, nil, Options{})

	results, err := controller.FetchQuestion(context.Background(), "1", 50, 0)
	require.NoError(t, err)
	require.Len(t, results, 22)
	require.Equal(t, "21", results[21].ID)
	require.Equal(t, []int{0, 20}, protocol.pageCalls)

	limited, err := controller.FetchQuestion(context.Background(), "1", 3, 0)
	require.NoError(t, err)
	require.Len(t, limited, 3)
}

func TestParseUpvotes(t *testing.T) {
	require.Equal(t, 42, parseUpvotes("赞同 42"))
	require.Equal(t, 1234, parseUpvotes("赞同 1,234 "))
	require.Equal(t, 0, parseUpvotes("赞同"))
	require.Equal(t, 0, parseUpvotes(""))
}
