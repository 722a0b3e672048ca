package db

import (
	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

type ItemType string

const (
	ITEM_ARTICLE ItemType = "article"
	ITEM_ANSWER  ItemType = "answer"
)
