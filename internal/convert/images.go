package convert

import (
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// imageSource picks the real image url, lazy loaded images keep it in a
// data attribute and a placeholder in src.
func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"data-actualsrc", "data-original", "src"} {
		value, ok := img.Attr(attr)
		if ok && value != "" {
			return value
		}
	}
	return ""
}

func inertImage(src string) bool {
	if strings.Contains(src, "zhihu.com/equation") {
		return false
	}
	return strings.HasPrefix(src, "data:") || strings.Contains(src, "noavatar")
}

// ExtractImageURLs lists the images worth downloading in order of first
// appearance. Formula images are not included.
func ExtractImageURLs(markup string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil
	}

	var out []string
	seen := map[string]struct{}{}
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if img.HasClass("ztext-math") {
			return
		}
		src := imageSource(img)
		if src == "" || strings.HasPrefix(src, "data:") || strings.Contains(src, "noavatar") {
			return
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		out = append(out, src)
	})
	return out
}

func imageRule(images map[string]string) md.Rule {
	return md.Rule{
		Filter: []string{"img"},
		Replacement: func(content string, img *goquery.Selection, opt *md.Options) *string {
			src := imageSource(img)
			if src == "" || inertImage(src) {
				return md.String("")
			}
			if local, ok := images[src]; ok {
				src = local
			}
			alt := img.AttrOr("alt", "")
			return md.String("![" + alt + "](" + src + ")\n\n")
		},
	}
}
