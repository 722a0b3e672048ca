package zhihu

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/purell"
)

const (
	DefaultBaseURL        = "https://www.zhihu.com"
	DefaultArticleBaseURL = "https://zhuanlan.zhihu.com"
)

func ArticleURL(id string) string {
	return fmt.Sprintf("%s/p/%s", DefaultArticleBaseURL, id)
}

func AnswerURL(questionID, answerID string) string {
	return fmt.Sprintf("%s/question/%s/answer/%s", DefaultBaseURL, questionID, answerID)
}

func QuestionURL(questionID string) string {
	return fmt.Sprintf("%s/question/%s", DefaultBaseURL, questionID)
}

type TargetKind string

const (
	TargetArticle  TargetKind = "article"
	TargetAnswer   TargetKind = "answer"
	TargetQuestion TargetKind = "question"
)

// Target is a classified content link.
type Target struct {
	Kind TargetKind
	// ID is the article or answer id, or the question id for questions.
	ID         string
	QuestionID string
	// URL is the canonical form of the link.
	URL string
}

var (
	articlePath  = regexp.MustCompile(`^/p/(\d+)$`)
	answerPath   = regexp.MustCompile(`^/question/(\d+)/answer/(\d+)$`)
	questionPath = regexp.MustCompile(`^/question/(\d+)$`)
)

const normalizeFlags = purell.FlagsSafe |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveTrailingSlash |
	purell.FlagRemoveFragment

// ParseTarget classifies a link. The query string and fragment are dropped.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("parse target %q: %w", raw, err)
	}
	parsed.RawQuery = ""
	normalized, err := url.Parse(purell.NormalizeURL(parsed, normalizeFlags))
	if err != nil {
		return Target{}, fmt.Errorf("normalize target %q: %w", raw, err)
	}

	host := strings.TrimPrefix(normalized.Hostname(), "www.")
	if host != "zhihu.com" && host != "zhuanlan.zhihu.com" {
		return Target{}, fmt.Errorf("%q is not a zhihu link", raw)
	}

	path := normalized.Path
	if groups := articlePath.FindStringSubmatch(path); groups != nil {
		return Target{Kind: TargetArticle, ID: groups[1], URL: ArticleURL(groups[1])}, nil
	}
	if groups := answerPath.FindStringSubmatch(path); groups != nil {
		return Target{
			Kind:       TargetAnswer,
			ID:         groups[2],
			QuestionID: groups[1],
			URL:        AnswerURL(groups[1], groups[2]),
		}, nil
	}
	if groups := questionPath.FindStringSubmatch(path); groups != nil {
		return Target{
			Kind:       TargetQuestion,
			ID:         groups[1],
			QuestionID: groups[1],
			URL:        QuestionURL(groups[1]),
		}, nil
	}
	return Target{}, fmt.Errorf("unsupported zhihu link %q", raw)
}

var linkRegex = regexp.MustCompile(`(?:https?://)?(?:www\.|zhuanlan\.)?zhihu\.com/(?:p/\d+|question/\d+(?:/answer/\d+)?)`)

// ExtractURLs finds every content link in free text and returns their
// canonical forms, deduplicated in order of first appearance.
func ExtractURLs(text string) []string {
	var out []string
	seen := map[string]struct{}{}
	for _, match := range linkRegex.FindAllString(text, -1) {
		target, err := ParseTarget(match)
		if err != nil {
			continue
		}
		if _, dup := seen[target.URL]; dup {
			continue
		}
		seen[target.URL] = struct{}{}
		out = append(out, target.URL)
	}
	return out
}
