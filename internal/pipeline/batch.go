package pipeline

import (
	"context"
	"errors"
	"fmt"
	"zhihu-archive/internal/errs"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one link of a batch.
type Result struct {
	URL       string
	Documents []Document
	Err       error
}

// Batch processes urls concurrently. A failed link does not stop the others
// unless its error is fatal, then the remaining links are abandoned and the
// fatal error is returned. Results keep the order of urls.
func (p Pipeline) Batch(ctx context.Context, urls []string) ([]Result, error) {
	return p.batch(ctx, urls, "")
}

func (p Pipeline) batch(ctx context.Context, urls []string, collectionID string) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline:Batch")
	defer span.End()

	results := make([]Result, len(urls))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.opts.Concurrency)

	for i, url := range urls {
		results[i].URL = url
		group.Go(func() error {
			if groupCtx.Err() != nil {
				results[i].Err = groupCtx.Err()
				return nil
			}
			docs, err := p.process(groupCtx, url, collectionID)
			results[i].Documents = docs
			results[i].Err = err
			if err == nil {
				return nil
			}
			p.tel.ReportWarning(report_pipeline_process, url, err)
			if errs.IsFatal(err) && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", url, err)
			}
			return nil
		})
	}

	err := group.Wait()
	return results, err
}

// SyncReport summarizes one collection sync round.
type SyncReport struct {
	CollectionID string
	Results      []Result
	// Newest is the marker stored by this round, empty when nothing was stored.
	Newest string
}

func (r SyncReport) Failed() int {
	n := 0
	for _, result := range r.Results {
		if result.Err != nil {
			n++
		}
	}
	return n
}

// SyncCollection archives the items added to a collection since the last
// successful round. The marker only moves when every new item was written.
func (p Pipeline) SyncCollection(ctx context.Context, collectionID string) (SyncReport, error) {
	ctx, span := tracer.Start(ctx, "pipeline:SyncCollection")
	defer span.End()

	report := SyncReport{CollectionID: collectionID}
	if p.syncer == nil {
		return report, errs.Config("pipeline.sync", errors.New("sync state is not configured"))
	}

	items, newest, err := p.syncer.Delta(ctx, collectionID)
	if err != nil {
		return report, err
	}

	urls := make([]string, len(items))
	for i, item := range items {
		urls[i] = item.URL
	}
	report.Results, err = p.batch(ctx, urls, collectionID)
	if err != nil {
		return report, err
	}

	if failed := report.Failed(); failed > 0 {
		p.tel.ReportWarning(report_pipeline_sync, collectionID, "marker kept", failed)
		return report, fmt.Errorf("sync %s: %d of %d items failed", collectionID, failed, len(items))
	}

	err = p.syncer.MarkSynced(ctx, collectionID, newest)
	if err != nil {
		return report, err
	}
	report.Newest = newest
	return report, nil
}
