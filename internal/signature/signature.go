package signature

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
	"zhihu-archive/internal/components/telemetry"

	"github.com/dop251/goja"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	report_provider_init = "provider.init"
	report_provider_sign = "provider.sign"
)

//go:embed assets
var assets embed.FS

const embeddedScript = "assets/sign.js"

// Provider computes the extra authentication headers for an api path.
//
// note: fault injection point
type Provider interface {
	Sign(path, secret string) map[string]string
}

// NoopProvider never signs anything.
type NoopProvider struct{}

func (NoopProvider) Sign(string, string) map[string]string {
	return map[string]string{}
}

// ScriptProvider runs the platform's own signing script inside an embedded
// javascript interpreter. The interpreter is not safe for concurrent use so
// calls are serialized, results are cached per (path, secret).
type ScriptProvider struct {
	tel     telemetry.API
	timeout time.Duration

	mutex   sync.Mutex
	runtime *goja.Runtime
	sign    goja.Callable

	cache *expirable.LRU[string, map[string]string]
}

// NewScriptProvider compiles `script` and looks up `function` in its global scope.
func NewScriptProvider(script []byte, function string, tel telemetry.API) (*ScriptProvider, error) {
	runtime := goja.New()
	_, err := runtime.RunString(string(script))
	if err != nil {
		return nil, fmt.Errorf("evaluate signing script: %w", err)
	}
	sign, ok := goja.AssertFunction(runtime.Get(function))
	if !ok {
		return nil, fmt.Errorf("signing script does not define function %q", function)
	}

	return &ScriptProvider{
		tel:     telemetry.NewScopedAPI("signature", tel),
		timeout: 2 * time.Second,
		runtime: runtime,
		sign:    sign,
		cache:   expirable.NewLRU[string, map[string]string](2048, nil, time.Minute*30),
	}, nil
}

func (p *ScriptProvider) Sign(path, secret string) map[string]string {
	key := path + "\x00" + secret
	cached, hit := p.cache.Get(key)
	if hit {
		return copyHeaders(cached)
	}

	headers, err := p.call(path, secret)
	if err != nil {
		p.tel.ReportWarning(report_provider_sign, path, err)
		return map[string]string{}
	}
	p.cache.Add(key, headers)
	return copyHeaders(headers)
}

func (p *ScriptProvider) call(path, secret string) (map[string]string, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	fired := make(chan struct{})
	timer := time.AfterFunc(p.timeout, func() {
		p.runtime.Interrupt("signing script timed out")
		close(fired)
	})
	defer func() {
		// a timer that already fired must finish interrupting before the
		// interrupt is cleared, or it leaks into the next call
		if !timer.Stop() {
			<-fired
		}
		p.runtime.ClearInterrupt()
	}()

	value, err := p.sign(goja.Undefined(), p.runtime.ToValue(path), p.runtime.ToValue(secret))
	if err != nil {
		return nil, err
	}
	return exportHeaders(value)
}

func exportHeaders(value goja.Value) (map[string]string, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, errors.New("signing script returned nothing")
	}

	switch exported := value.Export().(type) {
	case string:
		// older scripts return only the x-zse-96 digest
		return map[string]string{
			"x-zse-93": "101_3_3.0",
			"x-zse-96": exported,
		}, nil
	case map[string]any:
		out := make(map[string]string, len(exported))
		for k, v := range exported {
			out[k] = fmt.Sprint(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("signing script returned unsupported type %T", exported)
	}
}

func copyHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	return out
}

// Load returns the signing provider for this process. `scriptPath` overrides
// the embedded script. When no script is available, or it fails to
// initialize, the NoopProvider is returned: signing is best-effort.
func Load(scriptPath, function string, tel telemetry.API) Provider {
	tel = telemetry.NewScopedAPI("signature", tel)

	var script []byte
	var err error
	if scriptPath != "" {
		script, err = os.ReadFile(scriptPath)
	} else {
		script, err = fs.ReadFile(assets, embeddedScript)
	}
	if errors.Is(err, fs.ErrNotExist) {
		tel.ReportDebug("no signing script available, requests will be unsigned")
		return NoopProvider{}
	}
	if err != nil {
		tel.ReportBroken(report_provider_init, err)
		return NoopProvider{}
	}

	provider, err := NewScriptProvider(script, function, tel)
	if err != nil {
		tel.ReportBroken(report_provider_init, err)
		return NoopProvider{}
	}
	return provider
}
