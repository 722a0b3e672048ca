// Package pipeline turns links into documents on disk: acquire, download
// images, convert, write and archive.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"zhihu-archive/internal/archive"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/convert"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/incremental"
	"zhihu-archive/internal/scrapers/zhihu"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_pipeline_process = "pipeline.process"
	report_pipeline_saved   = "pipeline.saved"
	report_pipeline_sync    = "pipeline.sync"
)

var tracer = otel.Tracer("zhihu-archive/pipeline")

// answers of anonymous users would all share one file name
const anonymousAuthor = "匿名用户"

type Acquirer interface {
	Fetch(ctx context.Context, target zhihu.Target) (zhihu.FetchResult, error)
	FetchQuestion(ctx context.Context, questionID string, limit, offset int) ([]zhihu.FetchResult, error)
}

type ImageFetcher interface {
	Download(ctx context.Context, urls []string, dir, refPrefix string) map[string]string
}

type Archive interface {
	Save(ctx context.Context, record archive.Record) error
}

type Sync interface {
	Delta(ctx context.Context, collectionID string) ([]incremental.Item, string, error)
	MarkSynced(ctx context.Context, collectionID, newest string) error
}

type Options struct {
	OutputDir    string
	ImagesSubdir string
	Concurrency  int
	// QuestionLimit is how many answers a question link yields.
	QuestionLimit  int
	QuestionOffset int
}

type Pipeline struct {
	acquirer  Acquirer
	converter convert.Converter
	// images is nil when image downloads are disabled.
	images  ImageFetcher
	archive Archive
	syncer  Sync
	clock   chrono.API
	tel     telemetry.API
	opts    Options
}

func New(
	acquirer Acquirer,
	converter convert.Converter,
	images ImageFetcher,
	archive Archive,
	syncer Sync,
	clock chrono.API,
	opts Options,
	tel telemetry.API,
) Pipeline {
	assert.NotNil(acquirer)
	assert.NotNil(archive)
	assert.NotNil(clock)
	assert.NotNil(tel)

	if opts.ImagesSubdir == "" {
		opts.ImagesSubdir = "images"
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.QuestionLimit < 1 {
		opts.QuestionLimit = 20
	}

	return Pipeline{
		acquirer:  acquirer,
		converter: converter,
		images:    images,
		archive:   archive,
		syncer:    syncer,
		clock:     clock,
		tel:       telemetry.NewScopedAPI("pipeline", tel),
		opts:      opts,
	}
}

// Document is one written file.
type Document struct {
	ID     string
	Title  string
	Author string
	// Path is relative to the output directory.
	Path string
}

// Process acquires every item behind the link and writes it out. Question
// links yield one document per answer, answers written before a failure are
// returned alongside the error.
func (p Pipeline) Process(ctx context.Context, rawURL string) ([]Document, error) {
	return p.process(ctx, rawURL, "")
}

func (p Pipeline) process(ctx context.Context, rawURL, collectionID string) ([]Document, error) {
	ctx, span := tracer.Start(ctx, "pipeline:Process")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.url", rawURL))

	target, err := zhihu.ParseTarget(rawURL)
	if err != nil {
		return nil, errs.New(errs.CategoryConfig, errs.SeverityRecoverable, "pipeline.parse-target", err)
	}

	if target.Kind == zhihu.TargetQuestion {
		answers, fetchErr := p.acquirer.FetchQuestion(ctx, target.ID, p.opts.QuestionLimit, p.opts.QuestionOffset)
		var docs []Document
		for _, answer := range answers {
			doc, err := p.write(ctx, answer, true, collectionID)
			if err != nil {
				span.RecordError(err)
				return docs, err
			}
			docs = append(docs, doc)
		}
		if fetchErr != nil {
			span.RecordError(fetchErr)
			span.SetStatus(codes.Error, "question incomplete")
		}
		return docs, fetchErr
	}

	item, err := p.acquirer.Fetch(ctx, target)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to acquire")
		return nil, err
	}
	doc, err := p.write(ctx, item, false, collectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write")
		return nil, err
	}
	return []Document{doc}, nil
}

func (p Pipeline) date(item zhihu.FetchResult) string {
	if item.PublishedDate.IsZero() {
		return p.clock.Now().Format("2006-01-02")
	}
	return item.PublishedDate.In(p.clock.Location()).Format("2006-01-02")
}

// layout returns the folder and file name of an item relative to the output
// directory:
//
//	[date] title - author/index.md
//	[date] question/author.md
func (p Pipeline) layout(item zhihu.FetchResult, question bool) (folder, file string) {
	if question {
		folder = SanitizeFilename(fmt.Sprintf("[%s] %s", p.clock.Now().Format("2006-01-02"), item.Title))
		name := item.Author
		if name == zhihu.UnknownAuthor || name == anonymousAuthor {
			name += "-" + item.ID
		}
		return folder, SanitizeFilename(name) + ".md"
	}
	folder = SanitizeFilename(fmt.Sprintf("[%s] %s - %s", p.date(item), item.Title, item.Author))
	return folder, "index.md"
}

func (p Pipeline) write(ctx context.Context, item zhihu.FetchResult, question bool, collectionID string) (Document, error) {
	folder, file := p.layout(item, question)
	dir := filepath.Join(p.opts.OutputDir, folder)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return Document{}, errs.New(errs.CategoryConfig, errs.SeverityFatal, "pipeline.mkdir", err).With("dir", dir)
	}

	imageDir := filepath.Join(dir, p.opts.ImagesSubdir)
	imageMap := map[string]string{}
	if p.images != nil {
		urls := convert.ExtractImageURLs(item.RawMarkup)
		if item.TitleImage != "" {
			urls = append([]string{item.TitleImage}, urls...)
		}
		imageMap = p.images.Download(ctx, urls, imageDir, p.opts.ImagesSubdir)
	}

	body, err := p.converter.Convert(item.RawMarkup, imageMap)
	if err != nil {
		return Document{}, err
	}
	markdown := p.header(item, imageMap) + body

	path := filepath.Join(dir, file)
	err = os.WriteFile(path, []byte(markdown), 0644)
	if err != nil {
		return Document{}, errs.New(errs.CategoryConfig, errs.SeverityFatal, "pipeline.write", err).With("path", path)
	}
	removeIfEmpty(imageDir)

	relative := filepath.ToSlash(filepath.Join(folder, file))
	err = p.archive.Save(ctx, archive.Record{
		Item:         item,
		Markdown:     markdown,
		Path:         relative,
		CollectionID: collectionID,
	})
	if err != nil {
		// the document is on disk, a later run will archive it again
		p.tel.ReportWarning(report_pipeline_process, item.ID, "archive", err)
	}

	p.tel.ReportDebug(report_pipeline_saved, relative)
	return Document{ID: item.ID, Title: item.Title, Author: item.Author, Path: relative}, nil
}

func (p Pipeline) header(item zhihu.FetchResult, imageMap map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	if item.TitleImage != "" {
		src := item.TitleImage
		if local, ok := imageMap[src]; ok {
			src = local
		}
		fmt.Fprintf(&b, "![](%s)\n\n", src)
	}
	fmt.Fprintf(&b, "> **作者**: %s  \n", item.Author)
	fmt.Fprintf(&b, "> **来源**: [%s](%s)  \n", item.URL, item.URL)
	fmt.Fprintf(&b, "> **赞同**: %d  \n", item.UpvoteCount)
	fmt.Fprintf(&b, "> **日期**: %s\n\n", p.date(item))
	b.WriteString("---\n\n")
	return b.String()
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		os.Remove(dir)
	}
}
