package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Item struct {
	ID           string
	Type         ItemType
	Title        string
	Author       string
	Url          string
	QuestionID   sql.NullString
	Upvotes      int64
	PublishedAt  int64
	Markdown     string
	Path         string
	CollectionID sql.NullString
	ArchivedAt   int64
}

const upsertItem = `
insert into item (
    id, type, title, author, url, question_id, upvotes,
    published_at, markdown, path, collection_id, archived_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
on conflict (id) do update set
    type = excluded.type,
    title = excluded.title,
    author = excluded.author,
    url = excluded.url,
    question_id = excluded.question_id,
    upvotes = excluded.upvotes,
    published_at = excluded.published_at,
    markdown = excluded.markdown,
    path = excluded.path,
    collection_id = coalesce(excluded.collection_id, item.collection_id),
    archived_at = excluded.archived_at
`

func (q *Queries) UpsertItem(ctx context.Context, arg Item) error {
	_, err := q.db.ExecContext(ctx, upsertItem,
		arg.ID,
		arg.Type,
		arg.Title,
		arg.Author,
		arg.Url,
		arg.QuestionID,
		arg.Upvotes,
		arg.PublishedAt,
		arg.Markdown,
		arg.Path,
		arg.CollectionID,
		arg.ArchivedAt,
	)
	return err
}

const itemExists = `select count(*) from item where id = ?`

func (q *Queries) ItemExists(ctx context.Context, id string) (bool, error) {
	row := q.db.QueryRowContext(ctx, itemExists, id)
	var count int64
	err := row.Scan(&count)
	return count > 0, err
}

const getItem = `
select id, type, title, author, url, question_id, upvotes,
    published_at, markdown, path, collection_id, archived_at
from item where id = ?
`

func (q *Queries) GetItem(ctx context.Context, id string) (Item, error) {
	row := q.db.QueryRowContext(ctx, getItem, id)
	var i Item
	err := row.Scan(
		&i.ID,
		&i.Type,
		&i.Title,
		&i.Author,
		&i.Url,
		&i.QuestionID,
		&i.Upvotes,
		&i.PublishedAt,
		&i.Markdown,
		&i.Path,
		&i.CollectionID,
		&i.ArchivedAt,
	)
	return i, err
}

const searchItems = `
select id, type, title, author, url, upvotes, published_at, path
from item
where title like ?1 escape '\' or author like ?1 escape '\' or markdown like ?1 escape '\'
order by published_at desc, id
limit ?2
`

type SearchItemsRow struct {
	ID          string
	Type        ItemType
	Title       string
	Author      string
	Url         string
	Upvotes     int64
	PublishedAt int64
	Path        string
}

func (q *Queries) SearchItems(ctx context.Context, pattern string, limit int64) ([]SearchItemsRow, error) {
	rows, err := q.db.QueryContext(ctx, searchItems, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SearchItemsRow
	for rows.Next() {
		var i SearchItemsRow
		if err := rows.Scan(
			&i.ID,
			&i.Type,
			&i.Title,
			&i.Author,
			&i.Url,
			&i.Upvotes,
			&i.PublishedAt,
			&i.Path,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countItems = `select count(*) from item`

func (q *Queries) CountItems(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countItems)
	var count int64
	err := row.Scan(&count)
	return count, err
}
