package commands

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"
	"zhihu-archive/internal/acquire"
	"zhihu-archive/internal/archive"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/convert"
	"zhihu-archive/internal/images"
	"zhihu-archive/internal/incremental"
	"zhihu-archive/internal/pipeline"
	"zhihu-archive/internal/render"
	"zhihu-archive/internal/scrapers/zhihu"
	"zhihu-archive/internal/sessions"
	"zhihu-archive/internal/signature"

	"github.com/dgraph-io/badger/v4"
	"github.com/jedib0t/go-pretty/v6/table"
)

// app is the object graph every command runs on, it is built once per
// invocation from cfg.
type app struct {
	tel        telemetry.API
	clock      chrono.API
	pool       *sessions.Pool
	client     *zhihu.Client
	controller *acquire.Controller
	archive    archive.Store
	state      *badger.DB
	syncer     incremental.Syncer
	pipeline   pipeline.Pipeline
}

func newRng() *rand.Rand {
	return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
}

func loadPool(tel telemetry.API) *sessions.Pool {
	pool := sessions.NewPool(newRng(), tel)
	pool.Load(sessions.ReadSources(cfg.Sessions.Files, cfg.Sessions.Dirs, tel))
	return pool
}

func newApp(ctx context.Context, questionLimit, questionOffset int) (*app, error) {
	tel := telemetry.SlogAPI{}
	clock := chrono.NewStandardImpl()

	pool := loadPool(tel)
	if !pool.HasSessions() {
		slog.Warn("no valid sessions loaded, continuing as guest", "files", cfg.Sessions.Files, "dirs", cfg.Sessions.Dirs)
	}

	var pacer *zhihu.Pacer
	if !cfg.Pacing.Disabled {
		pacer = zhihu.NewPacer(
			time.Duration(cfg.Pacing.MinDelayMs)*time.Millisecond,
			time.Duration(cfg.Pacing.MaxDelayMs)*time.Millisecond,
			cfg.Pacing.RPS,
			cfg.Pacing.Burst,
		)
	}

	var dump telemetry.DumpOutput
	if cfg.HTTP.DumpDir != "" {
		output, err := telemetry.NewFilesystemOutput(cfg.HTTP.DumpDir)
		if err != nil {
			return nil, err
		}
		dump = output
	}

	client, err := zhihu.NewClient(zhihu.Options{
		Transport:      cfg.HTTP.Transport,
		Timeout:        cfg.HTTP.Timeout(),
		Proxy:          cfg.HTTP.Proxy,
		UserAgent:      cfg.HTTP.UserAgent,
		AcceptLanguage: cfg.HTTP.AcceptLanguage,
		Pacer:          pacer,
		Dump:           dump,
	}, pool, signature.Load(cfg.Signature.Script, cfg.Signature.Function, tel), tel)
	if err != nil {
		return nil, err
	}

	var engine render.Engine
	if !cfg.Browser.Disabled {
		engine = render.RodEngine{
			Bin:             cfg.Browser.Bin,
			Headful:         cfg.Browser.Headful,
			UserAgent:       cfg.HTTP.UserAgent,
			NavigateTimeout: time.Duration(cfg.Browser.NavigateTimeoutSeconds) * time.Second,
		}
	}
	controller := acquire.NewController(client, engine, clock, acquire.Options{
		RetryBlocked:             !cfg.Crawler.NoRetryBlocked,
		PreferBrowserForArticles: cfg.Browser.PreferForArticles,
		ContentTimeout:           time.Duration(cfg.Browser.ContentTimeoutSeconds) * time.Second,
		FieldTimeout:             time.Duration(cfg.Browser.FieldTimeoutSeconds) * time.Second,
	}, tel)

	err = os.MkdirAll(filepath.Dir(cfg.Storage.Archive), 0755)
	if err != nil {
		return nil, err
	}
	store, err := archive.Open(cfg.Storage.Archive, clock)
	if err != nil {
		return nil, err
	}
	state, err := incremental.OpenBadger(cfg.Storage.State)
	if err != nil {
		store.Close()
		return nil, err
	}
	syncer := incremental.NewSyncer(client, incremental.NewBadgerStore(state), !cfg.Crawler.NoRetryBlocked, tel)

	var downloader pipeline.ImageFetcher
	if !cfg.Images.Disabled {
		downloader = images.NewDownloader(images.Options{
			Concurrency: cfg.Images.Concurrency,
			Timeout:     time.Duration(cfg.Images.TimeoutSeconds) * time.Second,
			UserAgent:   cfg.HTTP.UserAgent,
		}, tel)
	}

	p := pipeline.New(
		controller,
		convert.NewConverter(tel),
		downloader,
		store,
		syncer,
		clock,
		pipeline.Options{
			OutputDir:      cfg.Output.Directory,
			ImagesSubdir:   cfg.Output.ImagesSubdir,
			Concurrency:    cfg.Crawler.Concurrency,
			QuestionLimit:  questionLimit,
			QuestionOffset: questionOffset,
		},
		tel,
	)

	return &app{
		tel:        tel,
		clock:      clock,
		pool:       pool,
		client:     client,
		controller: controller,
		archive:    store,
		state:      state,
		syncer:     syncer,
		pipeline:   p,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.archive.Close(), a.state.Close())
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printResults(results []pipeline.Result) (failed int) {
	t := newTable()
	t.AppendHeader(table.Row{"URL", "Status", "Documents"})
	for _, result := range results {
		status := "ok"
		if result.Err != nil {
			status = result.Err.Error()
			failed++
		}
		var paths []any
		for _, doc := range result.Documents {
			paths = append(paths, doc.Path)
		}
		t.AppendRow(table.Row{result.URL, status, len(paths)})
		for _, path := range paths {
			t.AppendRow(table.Row{"", "", path})
		}
	}
	t.AppendFooter(table.Row{"", "failed", failed})
	t.Render()
	return failed
}
