package render

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodEngine launches a local chromium through the devtools protocol with the
// stealth patches applied to every page.
type RodEngine struct {
	// Bin is the browser binary, when empty rod looks one up or downloads it.
	Bin             string
	Headful         bool
	UserAgent       string
	NavigateTimeout time.Duration
}

func (e RodEngine) Launch(ctx context.Context) (Handle, error) {
	l := launcher.New().
		Context(ctx).
		Headless(!e.Headful).
		NoSandbox(true).
		Set("disable-blink-features", "AutomationControlled")
	if e.Bin != "" {
		l = l.Bin(e.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		l.Kill()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	err = browser.Connect()
	if err != nil {
		l.Kill()
		l.Cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	timeout := e.NavigateTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &rodHandle{
		launcher:  l,
		browser:   browser,
		userAgent: e.UserAgent,
		timeout:   timeout,
	}, nil
}

type rodHandle struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	userAgent string
	timeout   time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (h *rodHandle) NewPage(ctx context.Context, cookies []Cookie, url string) (Page, error) {
	page, err := h.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	_, err = page.EvalOnNewDocument(stealth.JS)
	if err != nil {
		return nil, fmt.Errorf("apply stealth script: %w", err)
	}
	if h.userAgent != "" {
		err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: h.userAgent})
		if err != nil {
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             1920,
		Height:            1080,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		})
	}
	if len(params) > 0 {
		err = page.SetCookies(params)
		if err != nil {
			return nil, fmt.Errorf("set cookies: %w", err)
		}
	}

	bounded := page.Timeout(h.timeout)
	wait := bounded.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	err = bounded.Navigate(url)
	if err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", url, err)
	}
	wait()

	return rodPage{page: page}, nil
}

func (h *rodHandle) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.browser.Close()
		h.launcher.Kill()
		h.launcher.Cleanup()
	})
	return h.closeErr
}

type rodPage struct {
	page *rod.Page
}

func (p rodPage) URL(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

func (p rodPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := p.page.Context(ctx).Timeout(timeout).Element(selector)
	if err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (p rodPage) find(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, selector)
	}
	return el, nil
}

func (p rodPage) QueryText(ctx context.Context, selector string) (string, error) {
	el, err := p.find(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (p rodPage) QueryAttribute(ctx context.Context, selector, attribute string) (string, error) {
	el, err := p.find(ctx, selector)
	if err != nil {
		return "", err
	}
	value, err := el.Attribute(attribute)
	if err != nil {
		return "", err
	}
	if value == nil {
		return "", nil
	}
	return *value, nil
}

func (p rodPage) QueryInnerHTML(ctx context.Context, selector string) (string, error) {
	el, err := p.find(ctx, selector)
	if err != nil {
		return "", err
	}
	res, err := el.Eval(`() => this.innerHTML`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
