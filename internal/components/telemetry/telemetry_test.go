package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := NewRecorder()
	scoped := NewScopedAPI("acquire", NewScopedAPI("zhihu", rec))

	scoped.ReportWarning("escalate", "blocked")
	scoped.ReportBroken("render", "boom")
	scoped.ReportCount("fetches", 3)

	require.True(t, rec.HasWarning("escalate"))
	require.True(t, rec.HasBroken("render"))
	require.Equal(t, "zhihu: acquire: escalate", rec.Warnings()[0].ID)
	require.Equal(t, []any{"blocked"}, rec.Warnings()[0].Params)
	require.Equal(t, int64(3), rec.Count("zhihu: acquire: fetches"))
}

func TestInstrumentRestyDump(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":40362}}`))
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "dump")
	output, err := NewFilesystemOutput(dir)
	require.NoError(t, err)

	client := resty.New()
	rec := NewRecorder()
	InstrumentResty(client, rec, output)

	res, err := client.R().Get(srv.URL + "/api/v4/answers/1")
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, res.StatusCode())

	contents, err := os.ReadFile(filepath.Join(dir, "1"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "---- RESPONSE ----")
	require.Contains(t, string(contents), "40362")
	require.Contains(t, string(contents), "<NO BODY AVAILABLE>")
}

func TestFormatRequestBody(t *testing.T) {
	cases := []struct {
		name     string
		getBody  func() (io.ReadCloser, error)
		expected string
	}{
		{
			name:     "no GetBody",
			expected: "<NO BODY AVAILABLE>",
		},
		{
			name:     "nil body",
			getBody:  func() (io.ReadCloser, error) { return nil, nil },
			expected: "<NO BODY AVAILABLE>",
		},
		{
			name:     "http.NoBody",
			getBody:  func() (io.ReadCloser, error) { return http.NoBody, nil },
			expected: "<NO BODY AVAILABLE>",
		},
		{
			name: "form body",
			getBody: func() (io.ReadCloser, error) {
				return io.NopCloser(strings.NewReader("a=1")), nil
			},
			expected: "a=1",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "https://www.zhihu.com/api/v4/answers/1", nil)
			req.GetBody = c.getBody
			require.Equal(t, c.expected, formatRequestBody(req))
		})
	}
	require.Equal(t, "<NO BODY AVAILABLE>", formatRequestBody(nil))
}
