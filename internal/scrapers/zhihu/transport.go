package zhihu

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	fhttp "github.com/bogdanfinn/fhttp"
	tlsclient "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

const (
	TransportTLSClient  = "tls-client"
	TransportCloudflare = "cloudflare"
	TransportStandard   = "standard"
)

// the order a desktop chrome sends its headers in for an xhr
var headerOrder = []string{
	"host",
	"sec-ch-ua",
	"x-zse-93",
	"x-zse-96",
	"x-api-version",
	"sec-ch-ua-mobile",
	"user-agent",
	"accept",
	"x-requested-with",
	"sec-ch-ua-platform",
	"sec-fetch-site",
	"sec-fetch-mode",
	"sec-fetch-dest",
	"referer",
	"accept-encoding",
	"accept-language",
	"cookie",
}

// fingerprintTransport adapts a tls-client to net/http so it can sit under
// resty, the TLS and HTTP/2 handshake then look like a real chrome. Cookies and
// redirects stay with the net/http client above it.
type fingerprintTransport struct {
	client tlsclient.HttpClient
}

func newFingerprintTransport(timeout time.Duration, proxy string) (*fingerprintTransport, error) {
	options := []tlsclient.HttpClientOption{
		tlsclient.WithClientProfile(profiles.Chrome_133),
		tlsclient.WithNotFollowRedirects(),
		tlsclient.WithTimeoutSeconds(int(timeout.Seconds())),
		tlsclient.WithRandomTLSExtensionOrder(),
	}
	if proxy != "" {
		options = append(options, tlsclient.WithProxyUrl(proxy))
	}

	client, err := tlsclient.NewHttpClient(tlsclient.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("create tls client: %w", err)
	}
	return &fingerprintTransport{client: client}, nil
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	freq, err := fhttp.NewRequestWithContext(req.Context(), req.Method, req.URL.String(), req.Body)
	if err != nil {
		return nil, err
	}

	freq.Header = fhttp.Header{}
	for key, values := range req.Header {
		freq.Header[strings.ToLower(key)] = values
	}
	freq.Header[fhttp.HeaderOrderKey] = headerOrder

	res, err := t.client.Do(freq)
	if err != nil {
		return nil, err
	}

	header := http.Header(res.Header)
	contentLength := res.ContentLength
	// the tls client already decompressed the body
	if header.Get("Content-Encoding") != "" {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
		contentLength = -1
	}

	return &http.Response{
		Status:        res.Status,
		StatusCode:    res.StatusCode,
		Proto:         res.Proto,
		ProtoMajor:    res.ProtoMajor,
		ProtoMinor:    res.ProtoMinor,
		Header:        header,
		Body:          res.Body,
		ContentLength: contentLength,
		Request:       req,
	}, nil
}

// newTransport builds the round tripper for one of the configured transport names.
func newTransport(kind string, timeout time.Duration, proxy string) (http.RoundTripper, error) {
	switch kind {
	case TransportTLSClient, "":
		return newFingerprintTransport(timeout, proxy)
	case TransportCloudflare:
		base := http.DefaultTransport.(*http.Transport).Clone()
		if proxy != "" {
			proxyURL, err := parseProxy(proxy)
			if err != nil {
				return nil, err
			}
			base.Proxy = http.ProxyURL(proxyURL)
		}
		return cloudflarebp.AddCloudFlareByPass(base), nil
	case TransportStandard:
		base := http.DefaultTransport.(*http.Transport).Clone()
		if proxy != "" {
			proxyURL, err := parseProxy(proxy)
			if err != nil {
				return nil, err
			}
			base.Proxy = http.ProxyURL(proxyURL)
		}
		return base, nil
	}
	return nil, fmt.Errorf("unknown transport %q", kind)
}

func parseProxy(proxy string) (*url.URL, error) {
	parsed, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", proxy, err)
	}
	return parsed, nil
}
