package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/omr/internal/server"
)

// RegisterServerSteps registers the HTTP API steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the grading server is running$`, testCtx.theGradingServerIsRunning)
	sc.Step(`^the grading server is running with (\d+) requests per minute$`, testCtx.theGradingServerIsRunningRateLimited)
	sc.Step(`^I request "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I upload the sheet to "([^"]*)"$`, testCtx.iUploadTheSheetTo)
	sc.Step(`^I upload the sheet to "([^"]*)" with field "([^"]*)" set to "([^"]*)"$`, testCtx.iUploadTheSheetWithField)
	sc.Step(`^I post a batch of (\d+) copies of the sheet$`, testCtx.iPostABatchOfCopies)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response should be a PNG image$`, testCtx.theResponseShouldBeAPNG)
}

func (testCtx *TestContext) startServer(cfg server.Config) error {
	p, err := testCtx.pipeline()
	if err != nil {
		return err
	}
	s, err := server.NewServerWithPipeline(cfg, p)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	testCtx.Server = s
	testCtx.HTTPServer = httptest.NewServer(mux)
	return nil
}

func (testCtx *TestContext) theGradingServerIsRunning() error {
	return testCtx.startServer(server.DefaultConfig())
}

func (testCtx *TestContext) theGradingServerIsRunningRateLimited(perMinute int) error {
	cfg := server.DefaultConfig()
	cfg.RateLimit = server.RateLimitConfig{Enabled: true, RequestsPerMinute: perMinute}
	return testCtx.startServer(cfg)
}

func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPServer.Client().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse, err = io.ReadAll(resp.Body)
	return err
}

func (testCtx *TestContext) url(path string) (string, error) {
	if testCtx.HTTPServer == nil {
		return "", errors.New("server is not running")
	}
	return testCtx.HTTPServer.URL + path, nil
}

func (testCtx *TestContext) iRequest(path string) error {
	u, err := testCtx.url(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

func (testCtx *TestContext) sheetPNG() ([]byte, error) {
	img, err := testCtx.image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (testCtx *TestContext) upload(path string, fields map[string]string) error {
	u, err := testCtx.url(path)
	if err != nil {
		return err
	}
	data, err := testCtx.sheetPNG()
	if err != nil {
		return err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("sheet", "scenario.png")
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, u, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iUploadTheSheetTo(path string) error {
	return testCtx.upload(path, nil)
}

func (testCtx *TestContext) iUploadTheSheetWithField(path, field, value string) error {
	return testCtx.upload(path, map[string]string{field: value})
}

func (testCtx *TestContext) iPostABatchOfCopies(n int) error {
	u, err := testCtx.url("/batch")
	if err != nil {
		return err
	}
	data, err := testCtx.sheetPNG()
	if err != nil {
		return err
	}
	req := server.BatchRequest{}
	for i := range n {
		req.Sheets = append(req.Sheets, server.BatchSheet{Name: fmt.Sprintf("copy-%d.png", i+1), Data: data})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return testCtx.do(httpReq)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(string(testCtx.LastHTTPResponse), text) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseJSONFieldShouldBe follows a dotted path into the response;
// numeric segments index arrays.
func (testCtx *TestContext) theResponseJSONFieldShouldBe(path, want string) error {
	var v any
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &v); err != nil {
		return fmt.Errorf("response is not JSON: %w", err)
	}
	for _, seg := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			v = node[seg]
		case []any:
			var i int
			if _, err := fmt.Sscanf(seg, "%d", &i); err != nil || i < 0 || i >= len(node) {
				return fmt.Errorf("bad index %q in %s", seg, path)
			}
			v = node[i]
		default:
			return fmt.Errorf("cannot descend into %s at %q", path, seg)
		}
	}
	if got := fmt.Sprint(v); got != want {
		return fmt.Errorf("%s: expected %q, got %q", path, want, got)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldBeAPNG() error {
	if _, err := png.Decode(bytes.NewReader(testCtx.LastHTTPResponse)); err != nil {
		return fmt.Errorf("response is not a PNG: %w", err)
	}
	return nil
}
