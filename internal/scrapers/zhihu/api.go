package zhihu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"zhihu-archive/internal/errs"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_client_get_answer           = "client.get-answer"
	report_client_get_question_answers = "client.get-question-answers"
	report_client_get_article          = "client.get-article"
)

// the api only returns the rendered body and vote counts when asked for them
const answerInclude = "data[*].is_normal,admin_closed_comment,reward_info,is_collapsed," +
	"annotation_action,annotation_detail,collapse_reason,is_sticky,collapsed_by," +
	"suggest_edit,comment_count,can_comment,content,editable_content,attachment," +
	"voteup_count,reshipment_settings,comment_permission,created_time,updated_time," +
	"review_info,relevant_info,question,excerpt,is_labeled,paid_info,paid_info_content," +
	"reaction_instruction,relationship.is_authorized,is_author,voting,is_thanked," +
	"is_nothelp,is_recognized;data[*].mark_infos[*].url;data[*].author.follower_count," +
	"vip_info,badge[*].topics;data[*].settings.table_of_content.enabled"

const collectionInclude = "data[*].content.is_normal,admin_closed_comment,reward_info,is_collapsed," +
	"annotation_action,annotation_detail,collapse_reason,is_sticky,collapsed_by," +
	"suggest_edit,comment_count,can_comment,content,editable_content,attachment," +
	"voteup_count,reshipment_settings,comment_permission,created_time,updated_time," +
	"review_info,relevant_info,question,excerpt,is_labeled,paid_info,paid_info_content," +
	"reaction_instruction,relationship.is_authorized,is_author,voting,is_thanked," +
	"is_nothelp,is_recognized;data[*].content.author.follower_count,vip_info,badge[*].topics"

// MaxPageSize is the largest page the listing endpoints accept.
const MaxPageSize = 20

func AnswerPath(id string) string {
	return fmt.Sprintf("/api/v4/answers/%s?include=%s", id, url.QueryEscape(answerInclude))
}

func QuestionAnswersPath(questionID string, limit, offset int) string {
	return fmt.Sprintf(
		"/api/v4/questions/%s/answers?include=%s&limit=%d&offset=%d&platform=desktop&sort_by=default",
		questionID, url.QueryEscape(answerInclude), limit, offset,
	)
}

func CollectionPath(collectionID string, limit, offset int) string {
	return fmt.Sprintf(
		"/api/v4/collections/%s/items?offset=%d&limit=%d&include=%s",
		collectionID, offset, limit, url.QueryEscape(collectionInclude),
	)
}

func (c *Client) GetAnswer(ctx context.Context, id string) (FetchResult, error) {
	var raw rawAnswer
	err := c.Fetch(ctx, AnswerPath(id), &raw)
	if err != nil {
		return FetchResult{}, fmt.Errorf("get answer %s: %w", id, err)
	}
	if raw.ID == "" || raw.Content == "" {
		return FetchResult{}, errs.ContentNotFound(
			report_client_get_answer,
			fmt.Errorf("answer %s has no content", id),
		)
	}
	return raw.result(), nil
}

// GetQuestionAnswers returns one page of a question's answers in the default order.
func (c *Client) GetQuestionAnswers(ctx context.Context, questionID string, limit, offset int) ([]FetchResult, Paging, error) {
	var raw rawQuestionAnswers
	err := c.Fetch(ctx, QuestionAnswersPath(questionID, limit, offset), &raw)
	if err != nil {
		return nil, Paging{}, fmt.Errorf("get question %s answers: %w", questionID, err)
	}

	results := make([]FetchResult, 0, len(raw.Data))
	for _, answer := range raw.Data {
		if answer.ID == "" {
			c.tel.ReportWarning(report_client_get_question_answers, questionID, "answer without id")
			continue
		}
		result := answer.result()
		if result.QuestionID == "" {
			result.QuestionID = questionID
			result.URL = AnswerURL(questionID, result.ID)
		}
		results = append(results, result)
	}
	return results, raw.Paging, nil
}

func (c *Client) GetCollectionPage(ctx context.Context, collectionID string, limit, offset int) (CollectionPage, error) {
	var page CollectionPage
	err := c.Fetch(ctx, CollectionPath(collectionID, limit, offset), &page)
	if err != nil {
		return CollectionPage{}, fmt.Errorf("get collection %s page at %d: %w", collectionID, offset, err)
	}
	return page, nil
}

// GetArticle reads an article out of the state the article page embeds for
// its own hydration, the api endpoint for articles is far more aggressively
// guarded than the page itself.
func (c *Client) GetArticle(ctx context.Context, id string) (FetchResult, error) {
	path := "/p/" + id
	outcome := c.get(
		ctx,
		c.opts.ArticleBaseURL+path,
		path,
		false,
		"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	)
	if outcome.Kind != OutcomeOK {
		return FetchResult{}, fmt.Errorf("get article %s: %w", id, outcome.Err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(outcome.Body))
	if err != nil {
		return FetchResult{}, errs.Parse(report_client_get_article, err).With("id", id)
	}
	state := strings.TrimSpace(doc.Find("script#js-initialData").Text())
	if state == "" {
		c.tel.ReportWarning(report_client_get_article, id, "page has no initial data")
		return FetchResult{}, errs.ContentNotFound(
			report_client_get_article,
			fmt.Errorf("article %s page carries no initial data", id),
		)
	}

	var data initialData
	err = json.Unmarshal([]byte(state), &data)
	if err != nil {
		return FetchResult{}, errs.Parse(report_client_get_article, err).With("id", id)
	}
	article, ok := data.InitialState.Entities.Articles[id]
	if !ok || article.Content == "" {
		return FetchResult{}, errs.ContentNotFound(
			report_client_get_article,
			fmt.Errorf("article %s missing from initial data", id),
		)
	}
	return article.result(id), nil
}
