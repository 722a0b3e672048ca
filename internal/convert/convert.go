// Package convert turns rendered zhihu markup into markdown without losing
// the formulas, which the markdown converter would otherwise escape.
package convert

import (
	"fmt"
	"regexp"
	"strings"
	"zhihu-archive/internal/assert"
	"zhihu-archive/internal/components/telemetry"
	"zhihu-archive/internal/errs"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/atom"
)

const report_convert_formulas = "convert.formulas"

var noiseSelectors = []string{
	"div.VideoCard", ".RichText-video", ".VideoCard-player",
	".LinkCard", ".RichText-LinkCard", ".Card", ".Reward",
	".ContentItem-actions", ".RichContent-actions",
	".Post-SideActions", ".BottomActions",
	".css-1gomreu", ".Voters",
	"noscript",
}

type Converter struct {
	tel telemetry.API
}

func NewConverter(tel telemetry.API) Converter {
	assert.NotNil(tel)
	return Converter{tel: telemetry.NewScopedAPI("convert", tel)}
}

// Convert renders markup as markdown. Images found in `images` are rewritten
// to their local reference. Every call keeps its own formula store so calls
// may run concurrently.
func (c Converter) Convert(markup string, images map[string]string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", errs.Rendering("convert.parse", err)
	}
	body := doc.Find("body")

	store := newMathStore()
	protectFormulas(body, store)
	stripNoise(body)
	prepareCode(body)

	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
	})
	converter.Remove("script", "style", "noscript")
	converter.AddRules(imageRule(images))

	text := converter.Convert(body)
	if len(store.formulas) > 0 {
		c.tel.ReportDebug(report_convert_formulas, len(store.formulas))
	}
	return tidy(store.restore(tidy(text))), nil
}

// protectFormulas swaps every formula for a <var> holding its placeholder.
// A formula without any tex is left untouched.
func protectFormulas(root *goquery.Selection, store *mathStore) {
	root.Find("span.ztext-math").Each(func(_ int, span *goquery.Selection) {
		tex := span.AttrOr("data-tex", "")
		if tex == "" {
			return
		}
		tex, block := splitBlock(tex)
		span.ReplaceWithHtml(marker(store.put(tex, block)))
	})

	// older answers render formulas as images
	root.Find("img.ztext-math").Each(func(_ int, img *goquery.Selection) {
		tex := img.AttrOr("data-formula", "")
		if tex == "" {
			return
		}
		parent := img.Parent()
		block := blockContainer(parent) && strings.TrimSpace(parent.Text()) == ""
		img.ReplaceWithHtml(marker(store.put(tex, block)))
	})
}

func blockContainer(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	switch s.Get(0).DataAtom {
	case atom.P, atom.Div, atom.Figure:
		return true
	}
	return false
}

func marker(token string) string {
	return fmt.Sprintf("<var>%s</var>", token)
}

func stripNoise(root *goquery.Selection) {
	for _, selector := range noiseSelectors {
		root.Find(selector).Remove()
	}
}

func prepareCode(root *goquery.Selection) {
	root.Find("code br").ReplaceWithHtml("\n")

	root.Find("pre code").Each(func(_ int, code *goquery.Selection) {
		for _, class := range strings.Fields(code.AttrOr("class", "")) {
			if strings.HasPrefix(class, "language-") && len(class) > len("language-") {
				code.SetAttr("class", class)
				return
			}
		}
	})
}

var blankLinesRegex = regexp.MustCompile(`\n{3,}`)

func tidy(text string) string {
	text = blankLinesRegex.ReplaceAllString(text, "\n\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(text) + "\n"
}
