package zhihu

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type ContentType string

const (
	TypeArticle ContentType = "article"
	TypeAnswer  ContentType = "answer"
)

// FetchResult is the normalized shape produced by every acquisition path, both
// the protocol and the browser tier produce exactly this.
type FetchResult struct {
	ID    string
	Type  ContentType
	Title string
	// Author is never empty, unknown authors are reported as UnknownAuthor.
	Author    string
	RawMarkup string
	// PublishedDate is the zero time when the source did not carry one.
	PublishedDate time.Time
	UpvoteCount   int

	// URL is the canonical link of the item.
	URL string
	// QuestionID is set for answers.
	QuestionID string
	TitleImage string
}

const UnknownAuthor = "未知作者"

// ID is an identifier the api sometimes sends as a number and sometimes as a string.
type ID string

func (i *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*i = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		err := json.Unmarshal(data, &s)
		if err != nil {
			return err
		}
		*i = ID(s)
		return nil
	}
	var n json.Number
	err := json.Unmarshal(data, &n)
	if err != nil {
		return fmt.Errorf("id is neither a string nor a number: %w", err)
	}
	*i = ID(n.String())
	return nil
}

type author struct {
	Name string `json:"name"`
}

func (a author) name() string {
	if a.Name == "" {
		return UnknownAuthor
	}
	return a.Name
}

type questionRef struct {
	ID    ID     `json:"id"`
	Title string `json:"title"`
}

type Paging struct {
	IsEnd  bool `json:"is_end"`
	Totals int  `json:"totals"`
}

type rawAnswer struct {
	ID          ID          `json:"id"`
	Type        string      `json:"type"`
	Content     string      `json:"content"`
	VoteupCount int         `json:"voteup_count"`
	CreatedTime int64       `json:"created_time"`
	Author      author      `json:"author"`
	Question    questionRef `json:"question"`
}

func (a rawAnswer) result() FetchResult {
	return FetchResult{
		ID:            string(a.ID),
		Type:          TypeAnswer,
		Title:         a.Question.Title,
		Author:        a.Author.name(),
		RawMarkup:     a.Content,
		PublishedDate: unixDate(a.CreatedTime),
		UpvoteCount:   a.VoteupCount,
		URL:           AnswerURL(string(a.Question.ID), string(a.ID)),
		QuestionID:    string(a.Question.ID),
	}
}

type rawQuestionAnswers struct {
	Data   []rawAnswer `json:"data"`
	Paging Paging      `json:"paging"`
}

// rawArticle is the server-rendered article entity, it uses camelCase keys
// unlike the v4 api.
type rawArticle struct {
	ID          ID     `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	Author      author `json:"author"`
	VoteupCount int    `json:"voteupCount"`
	Created     int64  `json:"created"`
	ImageURL    string `json:"imageUrl"`
}

func (a rawArticle) result(id string) FetchResult {
	return FetchResult{
		ID:            id,
		Type:          TypeArticle,
		Title:         a.Title,
		Author:        a.Author.name(),
		RawMarkup:     a.Content,
		PublishedDate: unixDate(a.Created),
		UpvoteCount:   a.VoteupCount,
		URL:           ArticleURL(id),
		TitleImage:    a.ImageURL,
	}
}

type initialData struct {
	InitialState struct {
		Entities struct {
			Articles map[string]rawArticle `json:"articles"`
		} `json:"entities"`
	} `json:"initialState"`
}

// CollectionItem is one entry of a collection listing.
type CollectionItem struct {
	Content struct {
		Type     string       `json:"type"`
		ID       ID           `json:"id"`
		Title    string       `json:"title"`
		Question *questionRef `json:"question"`
	} `json:"content"`
}

func (i CollectionItem) ID() string {
	return string(i.Content.ID)
}

func (i CollectionItem) Type() string {
	return i.Content.Type
}

func (i CollectionItem) Title() string {
	if i.Content.Question != nil && i.Content.Question.Title != "" {
		return i.Content.Question.Title
	}
	return i.Content.Title
}

// URL builds the canonical link of the item, ok is false for item types
// without a known url rule.
func (i CollectionItem) URL() (url string, ok bool) {
	switch i.Content.Type {
	case string(TypeAnswer):
		if i.Content.Question == nil || i.Content.Question.ID == "" {
			return "", false
		}
		return AnswerURL(string(i.Content.Question.ID), i.ID()), true
	case string(TypeArticle):
		return ArticleURL(i.ID()), true
	}
	return "", false
}

// CollectionPage keeps the paging information next to the items since the
// sync walk depends on it.
type CollectionPage struct {
	Data   []CollectionItem `json:"data"`
	Paging Paging           `json:"paging"`
}

var chinaTime = time.FixedZone("CST", 8*60*60)

func unixDate(seconds int64) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).In(chinaTime)
}
