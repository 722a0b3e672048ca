package convert

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"zhihu-archive/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

var residualToken = regexp.MustCompile(`[IB]MATH[0-9a-f]{8}X\d+E`)

func TestConvertFormulas(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	markup := `<p>Energy is <span class="ztext-math" data-tex="E = mc^2">E = mc^2</span> as usual.</p>` +
		`<p><span class="ztext-math" data-tex="\[\int_0^1 x_i \, dx\]">x</span></p>` +
		`<p>After the block.</p>`

	out, err := converter.Convert(markup, nil)
	require.NoError(t, err)
	require.Empty(t, residualToken.FindAllString(out, -1))
	require.Contains(t, out, "Energy is $E = mc^2$ as usual.")
	require.Contains(t, out, "\n\n$$\n\\int_0^1 x_i \\, dx\n$$\n\n")
	require.NotContains(t, out, `\[`)
	require.True(t, strings.HasSuffix(out, "After the block.\n"))
}

func TestConvertLegacyFormulaImages(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	markup := `<p>inline <img class="ztext-math" data-formula="a+b" src="https://www.zhihu.com/equation?tex=a+b"> here</p>` +
		`<p><img class="ztext-math" data-formula="\sum_i i" src="https://www.zhihu.com/equation?tex=x"></p>`

	out, err := converter.Convert(markup, nil)
	require.NoError(t, err)
	require.Contains(t, out, "inline $a+b$ here")
	require.Contains(t, out, "$$\n\\sum_i i\n$$")
	require.NotContains(t, out, "equation?tex")
}

func TestMalformedFormulaPassesThrough(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	out, err := converter.Convert(`<p>see <span class="ztext-math">kept</span></p>`, nil)
	require.NoError(t, err)
	require.Equal(t, "see kept\n", out)
}

func TestExpandArrayColumns(t *testing.T) {
	testCases := []struct {
		in     string
		expect string
	}{
		{in: `\begin{array}{*{3}{c}} a \end{array}`, expect: `\begin{array}{ccc} a \end{array}`},
		{in: `{*{2}{l}|*{1}{r}}`, expect: `{ll|r}`},
		{in: `x^2 + y^2`, expect: `x^2 + y^2`},
		{in: `*{3}{cc}`, expect: `*{3}{cc}`},
	}
	for _, test := range testCases {
		t.Run(test.in, func(t *testing.T) {
			require.Equal(t, test.expect, expandArrayColumns(test.in))
		})
	}

	converter := NewConverter(telemetry.NewRecorder())
	out, err := converter.Convert(`<p><span class="ztext-math" data-tex="\[\left(\begin{array}{*{3}{c}}1&amp;2&amp;3\end{array}\right)\]"></span></p>`, nil)
	require.NoError(t, err)
	require.Contains(t, out, `\begin{array}{ccc}1&2&3\end{array}`)
}

func TestConcurrentConvertKeepsFormulasApart(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	const workers = 16
	outputs := make([]string, workers)
	failures := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			markup := fmt.Sprintf(
				`<p>a <span class="ztext-math" data-tex="x_{%d}"></span> b <span class="ztext-math" data-tex="y_{%d}"></span></p>`+
					`<p><span class="ztext-math" data-tex="\[z_{%d}\]"></span></p>`,
				i, i, i,
			)
			outputs[i], failures[i] = converter.Convert(markup, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, failures[i])
		require.Empty(t, residualToken.FindAllString(outputs[i], -1))
		require.Contains(t, outputs[i], fmt.Sprintf("a $x_{%d}$ b $y_{%d}$", i, i))
		require.Contains(t, outputs[i], fmt.Sprintf("$$\nz_{%d}\n$$", i))
		for j := 0; j < workers; j++ {
			if j != i {
				require.NotContains(t, outputs[i], fmt.Sprintf("_{%d}$", j))
			}
		}
	}
}

func TestConvertNoiseAndCode(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	markup := `<h2>Title</h2>` +
		`<div class="VideoCard">video</div>` +
		`<a class="LinkCard" href="https://example.com">card</a>` +
		`<div class="Voters">100 people agree</div>` +
		`<pre><code class="hljs language-go">fmt.Println(1)<br>return</code></pre>` +
		`<p>text</p>`

	out, err := converter.Convert(markup, nil)
	require.NoError(t, err)
	require.Contains(t, out, "## Title")
	require.NotContains(t, out, "video")
	require.NotContains(t, out, "card")
	require.NotContains(t, out, "people agree")
	require.Contains(t, out, "```go\nfmt.Println(1)\nreturn\n```")
}

func TestConvertImages(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	markup := `<figure><img src="data:image/svg+xml;utf8,&lt;svg&gt;" data-actualsrc="https://pic1.zhimg.com/a.jpg" alt="cat"></figure>` +
		`<p><img src="https://pic2.zhimg.com/b.png"></p>` +
		`<p><img src="https://pic3.zhimg.com/noavatar.png"></p>` +
		`<p><img src="data:image/gif;base64,AAAA"></p>`

	out, err := converter.Convert(markup, map[string]string{
		"https://pic1.zhimg.com/a.jpg": "images/0a1b.jpg",
	})
	require.NoError(t, err)
	require.Contains(t, out, "![cat](images/0a1b.jpg)")
	require.Contains(t, out, "![](https://pic2.zhimg.com/b.png)")
	require.NotContains(t, out, "noavatar")
	require.NotContains(t, out, "data:")
}

func TestConvertTidiesBlankLines(t *testing.T) {
	converter := NewConverter(telemetry.NewRecorder())

	out, err := converter.Convert("<p>one</p><br><br><br><br><p>two   </p>", nil)
	require.NoError(t, err)
	require.NotContains(t, out, "\n\n\n")
	require.True(t, strings.HasSuffix(out, "two\n"))
	require.False(t, strings.HasSuffix(out, "\n\n"))
}

func TestExtractImageURLs(t *testing.T) {
	markup := `<img data-actualsrc="https://pic1.zhimg.com/a.jpg" src="data:image/svg+xml,x">` +
		`<img data-original="https://pic1.zhimg.com/b.jpg" src="https://pic1.zhimg.com/b_small.jpg">` +
		`<img class="ztext-math" data-formula="x" src="https://www.zhihu.com/equation?tex=x">` +
		`<img src="https://pic1.zhimg.com/a.jpg">` +
		`<img src="https://pic1.zhimg.com/da/noavatar.jpg">` +
		`<img src="data:image/png;base64,AAAA">` +
		`<img>`

	require.Equal(t, []string{
		"https://pic1.zhimg.com/a.jpg",
		"https://pic1.zhimg.com/b.jpg",
	}, ExtractImageURLs(markup))
}
