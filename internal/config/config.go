package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"

	"dario.cat/mergo"
)

const FileName = "zhihu.json5"

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36"

type Sessions struct {
	// Files are credential documents, each either a list of {name, value}
	// pairs or a flat key/value map.
	Files []string `json:"files"`
	// Dirs are scanned for *.json credential documents.
	Dirs []string `json:"dirs"`
}

type Signature struct {
	// Script overrides the embedded signing script.
	Script   string `json:"script"`
	Function string `json:"function"`
}

type HTTP struct {
	// Transport is one of "tls-client", "cloudflare" or "standard".
	Transport      string `json:"transport"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Proxy          string `json:"proxy"`
	UserAgent      string `json:"user_agent"`
	AcceptLanguage string `json:"accept_language"`
	// DumpDir, when set, receives every http exchange as a file.
	DumpDir string `json:"dump_dir"`
}

func (h HTTP) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

type Pacing struct {
	Disabled   bool    `json:"disabled"`
	MinDelayMs int     `json:"min_delay_ms"`
	MaxDelayMs int     `json:"max_delay_ms"`
	RPS        float64 `json:"rps"`
	Burst      int     `json:"burst"`
}

type Browser struct {
	Disabled               bool   `json:"disabled"`
	Headful                bool   `json:"headful"`
	Bin                    string `json:"bin"`
	NavigateTimeoutSeconds int    `json:"navigate_timeout_seconds"`
	ContentTimeoutSeconds  int    `json:"content_timeout_seconds"`
	FieldTimeoutSeconds    int    `json:"field_timeout_seconds"`
	PreferForArticles      bool   `json:"prefer_for_articles"`
}

type Crawler struct {
	Concurrency    int  `json:"concurrency"`
	NoRetryBlocked bool `json:"no_retry_blocked"`
}

type Images struct {
	Disabled       bool `json:"disabled"`
	Concurrency    int  `json:"concurrency"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

type Output struct {
	Directory    string `json:"directory"`
	ImagesSubdir string `json:"images_subdir"`
}

type Storage struct {
	// Archive is the sqlite database path.
	Archive string `json:"archive"`
	// State is the badger directory holding sync watermarks.
	State string `json:"state"`
}

type Logging struct {
	Verbose bool `json:"verbose"`
}

type Config struct {
	Sessions  Sessions         `json:"sessions"`
	Signature Signature        `json:"signature"`
	HTTP      HTTP             `json:"http"`
	Pacing    Pacing           `json:"pacing"`
	Browser   Browser          `json:"browser"`
	Crawler   Crawler          `json:"crawler"`
	Images    Images           `json:"images"`
	Output    Output           `json:"output"`
	Storage   Storage          `json:"storage"`
	Telemetry telemetry.Config `json:"telemetry"`
	Logging   Logging          `json:"logging"`
}

func Defaults() Config {
	return Config{
		Sessions: Sessions{
			Files: []string{"cookies.json"},
			Dirs:  []string{"cookie_pool"},
		},
		Signature: Signature{Function: "get_sign"},
		HTTP: HTTP{
			Transport:      "tls-client",
			TimeoutSeconds: 15,
			UserAgent:      DefaultUserAgent,
			AcceptLanguage: "zh-CN,zh;q=0.9,en;q=0.8",
		},
		Pacing: Pacing{
			MinDelayMs: 500,
			MaxDelayMs: 2000,
			RPS:        2,
			Burst:      2,
		},
		Browser: Browser{
			NavigateTimeoutSeconds: 15,
			ContentTimeoutSeconds:  10,
			FieldTimeoutSeconds:    3,
		},
		Crawler: Crawler{Concurrency: 4},
		Images: Images{
			Concurrency:    4,
			TimeoutSeconds: 30,
		},
		Output: Output{
			Directory:    "data",
			ImagesSubdir: "images",
		},
		Storage: Storage{
			Archive: filepath.Join("data", "zhihu.db"),
			State:   filepath.Join("data", ".sync_state"),
		},
	}
}

// Load searches for zhihu.json5 upward from the cwd, fills anything left
// unset with defaults and validates the result. A missing file is not an error.
func Load() (Config, error) {
	cfg, _, err := ReadRecursively[Config](FileName)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errs.Config("config.load", err)
	}
	return withDefaults(cfg)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (Config, error) {
	cfg, err := ReadConfig[Config](path)
	if err != nil {
		return Config{}, errs.Config("config.load", err).With("path", path)
	}
	return withDefaults(cfg)
}

func withDefaults(cfg Config) (Config, error) {
	err := mergo.Merge(&cfg, Defaults())
	if err != nil {
		return Config{}, errs.Config("config.defaults", err)
	}
	err = cfg.Validate()
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []error

	switch c.HTTP.Transport {
	case "tls-client", "cloudflare", "standard":
	default:
		problems = append(problems, fmt.Errorf("unknown http transport %q", c.HTTP.Transport))
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		problems = append(problems, fmt.Errorf("http.timeout_seconds must be positive"))
	}
	if c.Pacing.MinDelayMs < 0 || c.Pacing.MaxDelayMs < c.Pacing.MinDelayMs {
		problems = append(problems, fmt.Errorf(
			"pacing delay range [%d, %d] is invalid",
			c.Pacing.MinDelayMs, c.Pacing.MaxDelayMs,
		))
	}
	if c.Pacing.RPS < 0 {
		problems = append(problems, fmt.Errorf("pacing.rps cannot be negative"))
	}
	if c.Crawler.Concurrency < 1 || c.Crawler.Concurrency > 32 {
		problems = append(problems, fmt.Errorf("crawler.concurrency must be within [1, 32], got %d", c.Crawler.Concurrency))
	}
	if c.Images.Concurrency < 1 {
		problems = append(problems, fmt.Errorf("images.concurrency must be positive"))
	}
	if c.Browser.NavigateTimeoutSeconds <= 0 || c.Browser.ContentTimeoutSeconds <= 0 || c.Browser.FieldTimeoutSeconds <= 0 {
		problems = append(problems, fmt.Errorf("browser timeouts must be positive"))
	}

	if len(problems) > 0 {
		return errs.Config("config.validate", errors.Join(problems...))
	}
	return nil
}
