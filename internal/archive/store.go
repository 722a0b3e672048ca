// Package archive keeps every acquired item in a local sqlite database so
// that documents can be searched and re-syncs can tell what is already kept.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
	"zhihu-archive/internal/archive/db"
	"zhihu-archive/internal/components/chrono"
	"zhihu-archive/internal/errs"
	"zhihu-archive/internal/scrapers/zhihu"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("zhihu-archive/archive")

type Store struct {
	db     *sql.DB
	qry    *db.Queries
	makeTx db.MakeTx
	clock  chrono.API
}

// Open opens (or creates) the archive at path, ":memory:" is accepted.
func Open(path string, clock chrono.API) (Store, error) {
	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		return Store{}, errs.Config("archive.open", err).With("path", path)
	}
	// a single writer avoids SQLITE_BUSY between workers, an in-memory
	// database also exists only once per connection
	sqlite.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"pragma journal_mode = wal",
		"pragma busy_timeout = 5000",
		"pragma foreign_keys = on",
	} {
		_, err = sqlite.Exec(pragma)
		if err != nil {
			sqlite.Close()
			return Store{}, errs.Config("archive.pragma", err).With("path", path)
		}
	}

	_, err = sqlite.Exec(db.Schema)
	if err != nil {
		sqlite.Close()
		return Store{}, errs.Config("archive.schema", err).With("path", path)
	}

	return Store{
		db:     sqlite,
		qry:    db.New(sqlite),
		makeTx: db.NewMakeTx(sqlite),
		clock:  clock,
	}, nil
}

func (s Store) Close() error {
	return s.db.Close()
}

// Record is one archived document.
type Record struct {
	Item     zhihu.FetchResult
	Markdown string
	// Path is where the document was written, relative to the output directory.
	Path string
	// CollectionID is empty for items archived outside of a sync.
	CollectionID string
}

// Save inserts or replaces the item. An empty CollectionID keeps the
// collection the item was recorded with before.
func (s Store) Save(ctx context.Context, record Record) error {
	ctx, span := tracer.Start(ctx, "archive:Save")
	defer span.End()
	span.SetAttributes(attribute.String("zhihu.id", record.Item.ID))

	tx, discard, commit, err := s.makeTx()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to begin transaction")
		return err
	}
	defer discard()

	item := record.Item
	err = tx.UpsertItem(ctx, db.Item{
		ID:           item.ID,
		Type:         db.ItemType(item.Type),
		Title:        item.Title,
		Author:       item.Author,
		Url:          item.URL,
		QuestionID:   nullable(item.QuestionID),
		Upvotes:      int64(item.UpvoteCount),
		PublishedAt:  unix(item.PublishedDate),
		Markdown:     record.Markdown,
		Path:         record.Path,
		CollectionID: nullable(record.CollectionID),
		ArchivedAt:   s.clock.Now().Unix(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert item")
		return fmt.Errorf("save %s: %w", item.ID, err)
	}
	return commit()
}

func (s Store) Exists(ctx context.Context, id string) (bool, error) {
	return s.qry.ItemExists(ctx, id)
}

// Get returns the stored record, ok is false when the id is unknown.
func (s Store) Get(ctx context.Context, id string) (Record, bool, error) {
	row, err := s.qry.GetItem(ctx, id)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return Record{
		Item: zhihu.FetchResult{
			ID:            row.ID,
			Type:          zhihu.ContentType(row.Type),
			Title:         row.Title,
			Author:        row.Author,
			URL:           row.Url,
			QuestionID:    row.QuestionID.String,
			UpvoteCount:   int(row.Upvotes),
			PublishedDate: fromUnix(row.PublishedAt, s.clock.Location()),
		},
		Markdown:     row.Markdown,
		Path:         row.Path,
		CollectionID: row.CollectionID.String,
	}, true, nil
}

type SearchHit struct {
	ID            string
	Type          zhihu.ContentType
	Title         string
	Author        string
	URL           string
	UpvoteCount   int
	PublishedDate time.Time
	Path          string
}

// Search matches keyword against titles, authors and document bodies, newest first.
func (s Store) Search(ctx context.Context, keyword string, limit int) ([]SearchHit, error) {
	ctx, span := tracer.Start(ctx, "archive:Search")
	defer span.End()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.qry.SearchItems(ctx, likePattern(keyword), int64(limit))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to search")
		return nil, err
	}

	hits := make([]SearchHit, len(rows))
	for i, row := range rows {
		hits[i] = SearchHit{
			ID:            row.ID,
			Type:          zhihu.ContentType(row.Type),
			Title:         row.Title,
			Author:        row.Author,
			URL:           row.Url,
			UpvoteCount:   int(row.Upvotes),
			PublishedDate: fromUnix(row.PublishedAt, s.clock.Location()),
			Path:          row.Path,
		}
	}
	return hits, nil
}

func (s Store) Count(ctx context.Context) (int64, error) {
	return s.qry.CountItems(ctx)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(seconds int64, location *time.Location) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).In(location)
}
