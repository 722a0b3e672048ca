// Package incremental finds the items added to a collection since the last
// confirmed sync.
package incremental

import (
	"context"
	"fmt"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/scrapers/zhihu"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_sync_skip_item = "sync.skip-item"
	report_sync_retry     = "sync.retry-page"
	report_sync_mark      = "sync.mark-synced"
	report_sync_new_items = "sync.new-items"
)

var tracer = otel.Tracer("zhihu-archive/incremental")

// Pager lists one page of a collection, newest first.
type Pager interface {
	GetCollectionPage(ctx context.Context, collectionID string, limit, offset int) (zhihu.CollectionPage, error)
}

// Item is a collection entry that can be acquired.
type Item struct {
	ID    string
	Type  zhihu.ContentType
	Title string
	URL   string
}

type Syncer struct {
	pager        Pager
	store        Store
	tel          telemetry.API
	retryBlocked bool
}

func NewSyncer(pager Pager, store Store, retryBlocked bool, tel telemetry.API) Syncer {
	assert.NotNil(pager)
	assert.NotNil(store)
	assert.NotNil(tel)
	return Syncer{
		pager:        pager,
		store:        store,
		retryBlocked: retryBlocked,
		tel:          telemetry.NewScopedAPI("incremental", tel),
	}
}

// Delta returns the items newer than the stored marker in the order the
// collection lists them, and the id that becomes the marker once every item
// is processed. newest is empty when the collection has no items. Delta never
// writes the marker, see MarkSynced.
func (s Syncer) Delta(ctx context.Context, collectionID string) (items []Item, newest string, err error) {
	ctx, span := tracer.Start(ctx, "sync:Delta")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.collection", collectionID))

	lastSeen, synced, err := s.store.Get(ctx, collectionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read marker")
		return nil, "", errs.New(errs.CategoryUnknown, errs.SeverityFatal, "sync.read-marker", err).
			With("collection", collectionID)
	}

	offset := 0
	for {
		page, err := s.page(ctx, collectionID, offset)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to list collection")
			return nil, "", err
		}
		if len(page.Data) == 0 {
			break
		}
		if offset == 0 {
			newest = page.Data[0].ID()
		}

		for _, entry := range page.Data {
			if synced && entry.ID() == lastSeen {
				s.tel.ReportCount(report_sync_new_items, int64(len(items)))
				return items, newest, nil
			}
			url, ok := entry.URL()
			if !ok {
				s.tel.ReportDebug(report_sync_skip_item, entry.Type(), entry.ID())
				continue
			}
			items = append(items, Item{
				ID:    entry.ID(),
				Type:  zhihu.ContentType(entry.Type()),
				Title: entry.Title(),
				URL:   url,
			})
		}

		offset += len(page.Data)
		if page.Paging.IsEnd {
			break
		}
	}

	s.tel.ReportCount(report_sync_new_items, int64(len(items)))
	return items, newest, nil
}

func (s Syncer) page(ctx context.Context, collectionID string, offset int) (zhihu.CollectionPage, error) {
	page, err := s.pager.GetCollectionPage(ctx, collectionID, zhihu.MaxPageSize, offset)
	if err != nil && errs.IsBlocked(err) && s.retryBlocked {
		s.tel.ReportDebug(report_sync_retry, collectionID, offset)
		page, err = s.pager.GetCollectionPage(ctx, collectionID, zhihu.MaxPageSize, offset)
	}
	if err != nil {
		return zhihu.CollectionPage{}, fmt.Errorf("list collection %s at %d: %w", collectionID, offset, err)
	}
	return page, nil
}

// MarkSynced stores newest as the marker of the collection. Callers invoke
// it only after every item returned by Delta was processed.
func (s Syncer) MarkSynced(ctx context.Context, collectionID, newest string) error {
	if newest == "" {
		return nil
	}
	err := s.store.Set(ctx, collectionID, newest)
	if err != nil {
		s.tel.ReportBroken(report_sync_mark, collectionID, err)
		return errs.New(errs.CategoryUnknown, errs.SeverityFatal, "sync.mark-synced", err).
			With("collection", collectionID)
	}
	s.tel.ReportDebug(report_sync_mark, collectionID, newest)
	return nil
}
