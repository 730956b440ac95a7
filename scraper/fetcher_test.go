package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/aluiziolira/go-scrape-eggprices/config"
	"github.com/aluiziolira/go-scrape-eggprices/models"
)

const testReportURL = "https://necc.example.test/home/eggprice"

const formPage = `<html><body><form method="post" id="form1">
<input type="hidden" name="__VIEWSTATE" value="vs-token" />
<input type="hidden" name="__VIEWSTATEGENERATOR" value="CA0B0334" />
<input type="hidden" name="__EVENTVALIDATION" value="ev-token" />
<select name="ddlMonth"><option value="01">January</option></select>
</form></body></html>`

func TestFetcherReplaysViewState(t *testing.T) {
	cfg := testConfig()
	transport := httpmock.NewMockTransport()

	var (
		mu      sync.Mutex
		posted  url.Values
		session string
	)
	transport.RegisterResponder(http.MethodGet, testReportURL, func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, formPage)
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Header.Set("Set-Cookie", "ASP.NET_SessionId=sess-1; path=/; HttpOnly")
		return resp, nil
	})
	transport.RegisterResponder(http.MethodPost, testReportURL, func(req *http.Request) (*http.Response, error) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		mu.Lock()
		posted = form
		if c, err := req.Cookie("ASP.NET_SessionId"); err == nil {
			session = c.Value
		}
		mu.Unlock()
		return htmlResponse(buildReportPage("Namakkal(CC)", "Barwala")), nil
	})

	metrics := NewMetrics()
	f, err := NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(transport)

	params := models.FetchParams{Month: "02", Year: "2025", ReportType: "Monthly Avg. Sheet"}
	result := f.Fetch(context.Background(), params)
	if result.Failed() {
		t.Fatalf("fetch failed: %v", result.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	if session != "sess-1" {
		t.Fatalf("session cookie = %q, want sess-1", session)
	}
	wantFields := map[string]string{
		"__VIEWSTATE":          "vs-token",
		"__VIEWSTATEGENERATOR": "CA0B0334",
		"__EVENTVALIDATION":    "ev-token",
		"ddlMonth":             "02",
		"ddlYear":              "2025",
		"rblReportType":        "Monthly Avg. Sheet",
		"__EVENTTARGET":        "",
		"__EVENTARGUMENT":      "",
	}
	for name, want := range wantFields {
		values, ok := posted[name]
		if !ok {
			t.Fatalf("posted form missing %q: %v", name, posted)
		}
		if values[0] != want {
			t.Fatalf("posted %s = %q, want %q", name, values[0], want)
		}
	}

	if len(result.Table) != 4 {
		t.Fatalf("rows = %d, want 4: %q", len(result.Table), result.Table)
	}
	if got := result.Table[2][0]; got != "Namakkal(CC)" {
		t.Fatalf("first city cell = %q", got)
	}
	if got := len(result.Table[2]); got != 33 {
		t.Fatalf("city row cells = %d, want 33", got)
	}

	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("get")); got != 1 {
		t.Fatalf("get requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("post")); got != 1 {
		t.Fatalf("post requests = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.RowsExtractedTotal); got != 4 {
		t.Fatalf("rows extracted = %v, want 4", got)
	}
}

func TestFetcherPostTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.PostTimeout = 50 * time.Millisecond

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testReportURL, func(*http.Request) (*http.Response, error) {
		return htmlResponse(formPage), nil
	})
	transport.RegisterResponder(http.MethodPost, testReportURL, func(req *http.Request) (*http.Response, error) {
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(5 * time.Second):
			return htmlResponse(buildReportPage("Pune")), nil
		}
	})

	metrics := NewMetrics()
	f, err := NewFetcher(cfg, metrics)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(transport)

	start := time.Now()
	result := f.Fetch(context.Background(), models.FetchParams{}.WithDefaults())
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("fetch took %v, post timeout not applied", elapsed)
	}
	if !result.Failed() {
		t.Fatalf("expected scrape error, got table %q", result.Table)
	}
	if result.Err.Kind != "timeout" {
		t.Fatalf("kind = %q, want timeout (%v)", result.Err.Kind, result.Err)
	}
	if !strings.Contains(result.Err.Message, "post report form") {
		t.Fatalf("message = %q", result.Err.Message)
	}
	if got := testutil.ToFloat64(metrics.ErrorsTotal.WithLabelValues("timeout")); got != 1 {
		t.Fatalf("timeout errors = %v, want 1", got)
	}
}

func TestFetcherTransportErrors(t *testing.T) {
	tests := []struct {
		name      string
		responder httpmock.Responder
		kind      string
	}{
		{
			name:      "deadline",
			responder: httpmock.NewErrorResponder(context.DeadlineExceeded),
			kind:      "timeout",
		},
		{
			name:      "connection refused",
			responder: httpmock.NewErrorResponder(&net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}),
			kind:      "connection",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, testReportURL, tt.responder)

			f, err := NewFetcher(testConfig(), NewMetrics())
			if err != nil {
				t.Fatalf("new fetcher: %v", err)
			}
			f.WithTransport(transport)

			result := f.Fetch(context.Background(), models.FetchParams{}.WithDefaults())
			if !result.Failed() {
				t.Fatalf("expected scrape error")
			}
			if result.Err.Kind != tt.kind {
				t.Fatalf("kind = %q, want %q (%v)", result.Err.Kind, tt.kind, result.Err)
			}
			if result.Table != nil {
				t.Fatalf("error result must not carry a table")
			}
			if transport.GetCallCountInfo()["POST "+testReportURL] != 0 {
				t.Fatalf("post must not be sent after a failed get")
			}
		})
	}
}

func TestFetcherParsesErrorStatusBodies(t *testing.T) {
	tests := []struct {
		name       string
		getStatus  int
		postStatus int
		getBody    string
		wantRows   int
	}{
		{name: "server error on both", getStatus: http.StatusInternalServerError, postStatus: http.StatusInternalServerError, getBody: formPage, wantRows: 3},
		{name: "not found form", getStatus: http.StatusNotFound, postStatus: http.StatusOK, getBody: "gone", wantRows: 3},
		{name: "forbidden report", getStatus: http.StatusOK, postStatus: http.StatusForbidden, getBody: formPage, wantRows: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, testReportURL, func(*http.Request) (*http.Response, error) {
				resp := htmlResponse(tt.getBody)
				resp.StatusCode = tt.getStatus
				return resp, nil
			})
			transport.RegisterResponder(http.MethodPost, testReportURL, func(*http.Request) (*http.Response, error) {
				resp := htmlResponse(buildReportPage("Ajmer"))
				resp.StatusCode = tt.postStatus
				return resp, nil
			})

			metrics := NewMetrics()
			f, err := NewFetcher(testConfig(), metrics)
			if err != nil {
				t.Fatalf("new fetcher: %v", err)
			}
			f.WithTransport(transport)

			result := f.Fetch(context.Background(), models.FetchParams{}.WithDefaults())
			if result.Failed() {
				t.Fatalf("fetch failed: %v", result.Err)
			}
			if len(result.Table) != tt.wantRows {
				t.Fatalf("rows = %d, want %d", len(result.Table), tt.wantRows)
			}
			if transport.GetCallCountInfo()["POST "+testReportURL] != 1 {
				t.Fatalf("post must be sent regardless of the get status")
			}
			getCode := fmt.Sprint(tt.getStatus)
			if got := testutil.ToFloat64(metrics.UpstreamStatus.WithLabelValues("get", getCode)); got != 1 {
				t.Fatalf("get status %s count = %v, want 1", getCode, got)
			}
			postCode := fmt.Sprint(tt.postStatus)
			if got := testutil.ToFloat64(metrics.UpstreamStatus.WithLabelValues("post", postCode)); got != 1 {
				t.Fatalf("post status %s count = %v, want 1", postCode, got)
			}
		})
	}
}

func TestFetcherCanceledContext(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testReportURL, func(*http.Request) (*http.Response, error) {
		return htmlResponse(formPage), nil
	})

	f, err := NewFetcher(testConfig(), nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(transport)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := f.Fetch(ctx, models.FetchParams{}.WithDefaults())
	if !result.Failed() {
		t.Fatalf("expected scrape error")
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", result.Err)
	}
}

func TestFetcherSessionsAreIsolated(t *testing.T) {
	var (
		issued int64
		leaked int64
	)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, testReportURL, func(req *http.Request) (*http.Response, error) {
		if _, err := req.Cookie("ASP.NET_SessionId"); err == nil {
			atomic.AddInt64(&leaked, 1)
		}
		n := atomic.AddInt64(&issued, 1)
		resp := htmlResponse(formPage)
		resp.Header.Set("Set-Cookie", fmt.Sprintf("ASP.NET_SessionId=sess-%d; path=/", n))
		return resp, nil
	})
	transport.RegisterResponder(http.MethodPost, testReportURL, func(*http.Request) (*http.Response, error) {
		return htmlResponse(buildReportPage("Hyderabad")), nil
	})

	f, err := NewFetcher(testConfig(), nil)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	f.WithTransport(transport)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if result := f.Fetch(context.Background(), models.FetchParams{}.WithDefaults()); result.Failed() {
				t.Errorf("fetch failed: %v", result.Err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&leaked); got != 0 {
		t.Fatalf("%d GET requests carried a cookie from another session", got)
	}
}

func TestBuildFormPayload(t *testing.T) {
	hidden := map[string]string{
		"__VIEWSTATE":   "abc",
		"__EVENTTARGET": "btnSubmit",
		"ddlMonth":      "12",
	}
	params := models.FetchParams{Month: "03", Year: "2024", ReportType: "Daily Rate Sheet"}

	got := BuildFormPayload(hidden, params)
	want := map[string]string{
		"__VIEWSTATE":     "abc",
		"__EVENTTARGET":   "",
		"__EVENTARGUMENT": "",
		"ddlMonth":        "03",
		"ddlYear":         "2024",
		"rblReportType":   "Daily Rate Sheet",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("payload = %v, want %v", got, want)
	}
	if hidden["ddlMonth"] != "12" {
		t.Fatalf("hidden fields were mutated: %v", hidden)
	}
}

func TestNewFetcherRejectsBadURL(t *testing.T) {
	cfg := testConfig()
	cfg.ReportURL = "/home/eggprice"
	if _, err := NewFetcher(cfg, nil); err == nil {
		t.Fatalf("expected error for url without host")
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ReportURL = testReportURL
	cfg.GetTimeout = 2 * time.Second
	cfg.PostTimeout = 2 * time.Second
	return cfg
}

func htmlResponse(body string) *http.Response {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html; charset=utf-8")
	return resp
}

// buildReportPage renders a title table and a price table with one row per
// city: the city label, 31 daily cells and the monthly average.
func buildReportPage(cities ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	b.WriteString("<table><tr><td>NECC SUGGESTED EGG PRICES</td></tr></table>")
	b.WriteString("<table><tr><th>Name Of Zone / Day</th>")
	for day := 1; day <= 31; day++ {
		fmt.Fprintf(&b, "<th>%d</th>", day)
	}
	b.WriteString("<th>Average</th></tr>")
	for i, city := range cities {
		fmt.Fprintf(&b, "<tr><td>%s</td>", city)
		for day := 1; day <= 31; day++ {
			if day > 28 {
				b.WriteString("<td>-</td>")
				continue
			}
			fmt.Fprintf(&b, "<td>%d</td>", 400+10*i+day)
		}
		fmt.Fprintf(&b, "<td>%d</td></tr>", 410+10*i)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}
