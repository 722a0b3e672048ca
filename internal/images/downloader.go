// Package images downloads the pictures of an item next to its document.
package images

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	report_images_download = "images.download"
	report_images_skip     = "images.skip-existing"
)

const referer = "https://www.zhihu.com/"

var tracer = otel.Tracer("zhihu-archive/images")

type Options struct {
	Concurrency int
	Timeout     time.Duration
	UserAgent   string
}

type Downloader struct {
	client      *resty.Client
	concurrency int
	tel         telemetry.API
}

func NewDownloader(opts Options, tel telemetry.API) Downloader {
	assert.NotNil(tel)
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	client := resty.New()
	client.SetTimeout(opts.Timeout)
	client.SetHeader("referer", referer)
	if opts.UserAgent != "" {
		client.SetHeader("user-agent", opts.UserAgent)
	}

	return Downloader{
		client:      client,
		concurrency: opts.Concurrency,
		tel:         telemetry.NewScopedAPI("images", tel),
	}
}

// FileName is the stable local name of an image url.
func FileName(rawURL string) string {
	sum := md5.Sum([]byte(rawURL))
	ext := ".jpg"
	parsed, err := url.Parse(rawURL)
	if err == nil {
		candidate := strings.ToLower(path.Ext(parsed.Path))
		switch candidate {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg", ".bmp":
			ext = candidate
		}
	}
	return hex.EncodeToString(sum[:]) + ext
}

// Download saves every url into dir and returns the image map for the
// converter: url -> refPrefix/<file name>. Images that could not be fetched
// are reported and left out of the map so the document keeps the remote url.
func (d Downloader) Download(ctx context.Context, urls []string, dir, refPrefix string) map[string]string {
	ctx, span := tracer.Start(ctx, "images:Download")
	defer span.End()

	out := map[string]string{}
	if len(urls) == 0 {
		return out
	}
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		d.tel.ReportWarning(report_images_download, dir, errs.New(errs.CategoryConfig, errs.SeverityRecoverable, "images.mkdir", err))
		return out
	}

	var mutex sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.concurrency)

	for _, imageURL := range urls {
		group.Go(func() error {
			name := FileName(imageURL)
			err := d.fetch(groupCtx, imageURL, filepath.Join(dir, name))
			if err != nil {
				d.tel.ReportWarning(report_images_download, imageURL, err)
				return nil
			}
			mutex.Lock()
			out[imageURL] = path.Join(refPrefix, name)
			mutex.Unlock()
			return nil
		})
	}
	group.Wait()

	return out
}

func (d Downloader) fetch(ctx context.Context, imageURL, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		d.tel.ReportDebug(report_images_skip, imageURL)
		return nil
	}

	res, err := d.client.R().SetContext(ctx).Get(imageURL)
	if err != nil {
		return errs.New(errs.CategoryNetwork, errs.SeverityRecoverable, "images.fetch", err).With("url", imageURL)
	}
	if !res.IsSuccess() {
		return errs.New(errs.CategoryNetwork, errs.SeverityRecoverable, "images.fetch", fmt.Errorf("status %d", res.StatusCode())).
			With("url", imageURL)
	}

	tmp := dest + ".part"
	err = os.WriteFile(tmp, res.Body(), 0644)
	if err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
