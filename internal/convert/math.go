package convert

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

type formula struct {
	token string
	tex   string
	block bool
}

// mathStore holds the formulas of a single Convert call.
type mathStore struct {
	runID    string
	formulas []formula
}

func newMathStore() *mathStore {
	return &mathStore{runID: fmt.Sprintf("%08x", rand.Uint32())}
}

// put stores tex and returns its placeholder token. Tokens are alphanumeric
// and end in E so that token 1 is never a prefix of token 10.
func (s *mathStore) put(tex string, block bool) string {
	prefix := "I"
	if block {
		prefix = "B"
	}
	token := fmt.Sprintf("%sMATH%sX%dE", prefix, s.runID, len(s.formulas))
	s.formulas = append(s.formulas, formula{token: token, tex: tex, block: block})
	return token
}

func (s *mathStore) restore(text string) string {
	for _, f := range s.formulas {
		tex := expandArrayColumns(f.tex)
		if f.block {
			text = strings.ReplaceAll(text, f.token, "\n\n$$\n"+tex+"\n$$\n\n")
			continue
		}
		text = strings.ReplaceAll(text, f.token, "$"+tex+"$")
	}
	return text
}

var repeatedColumnRegex = regexp.MustCompile(`\*\{(\d+)\}\{(.)\}`)

// expandArrayColumns rewrites the *{N}{X} column shorthand of array
// environments into N copies of X, which KaTeX does not understand.
func expandArrayColumns(tex string) string {
	return repeatedColumnRegex.ReplaceAllStringFunc(tex, func(match string) string {
		groups := repeatedColumnRegex.FindStringSubmatch(match)
		n, err := strconv.Atoi(groups[1])
		if err != nil || n > 256 {
			return match
		}
		return strings.Repeat(groups[2], n)
	})
}

// splitBlock strips the \[ \] pair block formulas are exported with.
func splitBlock(tex string) (string, bool) {
	if strings.HasPrefix(tex, `\[`) && strings.HasSuffix(tex, `\]`) && len(tex) >= 4 {
		return strings.TrimSpace(tex[2 : len(tex)-2]), true
	}
	return tex, false
}
