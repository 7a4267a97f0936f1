package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"verdictline/internal/app"
	"verdictline/internal/engine"
	"verdictline/internal/rubric"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type serverOptions struct {
	noHistory bool
	noCatalog bool
	secret    string
}

func newTestServer(t *testing.T, opts serverOptions) (*testServer, func()) {
	t.Helper()
	var catalog *rubric.Catalog
	if !opts.noCatalog {
		catalog = rubric.Default()
	}
	svc := app.Service{Engine: engine.New(catalog)}
	closeDB := func() {}
	if !opts.noHistory {
		conn, r, err := app.OpenStore(context.Background(), t.TempDir())
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		svc.Repo = r
		closeDB = func() { conn.Close() }
	}
	handler, err := New(Config{Service: svc, BasePath: "/v1", Auth: AuthConfig{JWTSecret: opts.secret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			closeDB()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doRaw(t *testing.T, client *http.Client, method, url string, body []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		raw = b
	}
	return doRaw(t, client, method, url, raw, headers)
}

func scoredVerdict() map[string]any {
	return map[string]any{
		"decision":           "PASS",
		"reasons":            []string{"Good overall"},
		"next_instructions":  "",
		"questions_for_user": []string{},
		"task_type":          "feature",
		"scores": map[string]float64{
			"correctness": 4.5, "runnability": 5.0, "test_and_validation": 4.0, "security": 4.5,
			"architecture_and_modularity": 3.5, "readability_and_maintainability": 4.0, "performance": 3.5,
		},
		"weights": map[string]float64{
			"correctness": 0.20, "runnability": 0.18, "test_and_validation": 0.16, "security": 0.14,
			"architecture_and_modularity": 0.12, "readability_and_maintainability": 0.10, "performance": 0.10,
		},
		"raw_score_0_5":     4.24,
		"penalty":           0,
		"final_score_0_5":   4.24,
		"final_score_0_100": 85,
		"gated":             false,
		"gating_reasons":    []string{},
		"top_issues":        []string{"Architecture could be improved", "Performance needs optimization"},
		"fix_suggestions":   []string{"Refactor data layer"},
		"scoring_mode_used": "rubric_analytic",
	}
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, data)
	}
	return env.Error
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, data)
	}
	var body map[string]any
	_ = json.Unmarshal(data, &body)
	if body["status"] != "ok" || body["history"] != true || body["rubrics"] != true {
		t.Fatalf("unexpected health: %s", data)
	}
}

func TestValidateAndRecord(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate?record=true&source=judge-1", scoredVerdict(), map[string]string{"X-Actor-Id": "judge"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, data)
	}
	var out ValidateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != "valid" || out.ExitCode != 0 || !out.Recorded || out.SchemaVersion != "v2" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	var rawOut map[string]any
	_ = json.Unmarshal(data, &rawOut)
	if _, ok := rawOut["$schema"]; !ok || rawOut["schema"] != "v2" {
		t.Fatalf("validate response lacks $schema link or schema tag: %s", data)
	}

	runRes, runData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+out.RunID, nil, nil)
	if runRes.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", runRes.StatusCode, runData)
	}
	var run RunResponse
	_ = json.Unmarshal(runData, &run)
	var rawRun map[string]any
	_ = json.Unmarshal(runData, &rawRun)
	if _, ok := rawRun["$schema"]; !ok || rawRun["schema"] != "v2" {
		t.Fatalf("run response lacks $schema link or schema tag: %s", runData)
	}
	if run.Source != "judge-1" || run.ActorID != "judge" || run.TaskType != "feature" {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.FinalScore100 == nil || *run.FinalScore100 != 85 {
		t.Fatalf("final score not stored: %+v", run.FinalScore100)
	}

	listRes, listData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs?status=valid", nil, nil)
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list runs status %d: %s", listRes.StatusCode, listData)
	}
	var page paginatedRuns
	_ = json.Unmarshal(listData, &page)
	if len(page.Items) != 1 || page.Items[0].ID != out.RunID {
		t.Fatalf("unexpected runs page: %s", listData)
	}

	evRes, evData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=verdict.validated", nil, nil)
	if evRes.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", evRes.StatusCode, evData)
	}
	var events paginatedEvents
	_ = json.Unmarshal(evData, &events)
	if len(events.Items) != 1 || events.Items[0].EntityID != out.RunID || events.Items[0].Payload["status"] != "valid" {
		t.Fatalf("unexpected events: %s", evData)
	}
}

func TestValidateReportsInvalidAndInconsistent(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()

	v := scoredVerdict()
	v["penalty"] = 0.3
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate", v, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var out ValidateResponse
	_ = json.Unmarshal(data, &out)
	if out.ExitCode != 1 || out.ErrorClass != "VERDICT_INVALID" || len(out.Errors) != 1 || out.Errors[0] != "penalty 0.3 must be a multiple of 0.5" {
		t.Fatalf("unexpected invalid outcome: %s", data)
	}
	if out.Recorded {
		t.Fatalf("run should not be recorded without record=true")
	}

	v = scoredVerdict()
	v["top_issues"] = []string{"逻辑错误 in parser", "Minor"}
	_, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate", v, nil)
	out = ValidateResponse{}
	_ = json.Unmarshal(data, &out)
	if out.ExitCode != 2 || out.ErrorClass != "VERDICT_INCONSISTENT" || len(out.Inconsistencies) != 1 {
		t.Fatalf("unexpected inconsistent outcome: %s", data)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	cases := map[string]string{
		"{broken": "invalid JSON: invalid character",
		"[1,2]":   "invalid JSON: verdict must be a JSON object",
		"":        "invalid JSON: empty input",
		`"text"`:  "invalid JSON: verdict must be a JSON object",
	}
	for body, want := range cases {
		res, data := doRaw(t, srv.Client(), http.MethodPost, srv.URL+"/v1/verdicts/validate", []byte(body), nil)
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%q: expected 400, got %d %s", body, res.StatusCode, data)
		}
		apiErr := decodeError(t, data)
		if apiErr.Code != "invalid_json" || !strings.HasPrefix(apiErr.Message, want) {
			t.Fatalf("%q: unexpected envelope %+v", body, apiErr)
		}
	}
}

func TestValidateDocumentsRequestBody(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc struct {
		Paths map[string]map[string]struct {
			RequestBody struct {
				Content map[string]any `json:"content"`
			} `json:"requestBody"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal openapi: %v", err)
	}
	op, ok := doc.Paths["/v1/verdicts/validate"]["post"]
	if !ok {
		t.Fatalf("validate operation missing from openapi: %v", doc.Paths)
	}
	if _, ok := op.RequestBody.Content["application/json"]; !ok {
		t.Fatalf("validate request body not documented")
	}
}

func TestRubrics(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/rubrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list RubricListResponse
	_ = json.Unmarshal(data, &list)
	if !list.Configured || len(list.Items) != 4 || list.Items[0].TaskType != "bugfix" {
		t.Fatalf("unexpected rubric list: %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/rubrics/bug", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alias status %d: %s", res.StatusCode, data)
	}
	var rb RubricResponse
	_ = json.Unmarshal(data, &rb)
	if rb.TaskType != "bugfix" || len(rb.Dimensions) == 0 {
		t.Fatalf("alias did not resolve: %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/rubrics/nope", nil, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "unknown_task_type" {
		t.Fatalf("expected unknown_task_type 404, got %d %s", res.StatusCode, data)
	}
}

func TestRubricsWithoutCatalog(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{noCatalog: true})
	defer cleanup()
	_, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/rubrics", nil, nil)
	var list RubricListResponse
	_ = json.Unmarshal(data, &list)
	if list.Configured || len(list.Items) != 0 {
		t.Fatalf("expected empty unconfigured list: %s", data)
	}
}

func TestRunsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	client := srv.Client()
	for i := 0; i < 3; i++ {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate?record=true", scoredVerdict(), nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("validate %d: %d %s", i, res.StatusCode, data)
		}
	}
	seen := map[string]bool{}
	next := ""
	for pages := 0; pages < 5; pages++ {
		u := srv.URL + "/v1/runs?limit=2"
		if next != "" {
			u += "&cursor=" + url.QueryEscape(next)
		}
		res, data := doJSON(t, client, http.MethodGet, u, nil, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("page status %d: %s", res.StatusCode, data)
		}
		var page paginatedRuns
		_ = json.Unmarshal(data, &page)
		for _, item := range page.Items {
			if seen[item.ID] {
				t.Fatalf("run %s returned twice", item.ID)
			}
			seen[item.ID] = true
		}
		if page.NextCursor == "" {
			break
		}
		next = page.NextCursor
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 runs across pages, got %d", len(seen))
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs?cursor=garbage", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad cursor 400, got %d %s", res.StatusCode, data)
	}
}

func TestRunNotFound(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/runs/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "not_found" {
		t.Fatalf("expected 404 not_found, got %d %s", res.StatusCode, data)
	}
}

func TestHistoryDisabled(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{noHistory: true})
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, nil)
	if res.StatusCode != http.StatusConflict || decodeError(t, data).Code != "history_disabled" {
		t.Fatalf("expected 409 history_disabled, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate?record=true", scoredVerdict(), nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for record without history, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate", scoredVerdict(), nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("plain validate should work without history, got %d %s", res.StatusCode, data)
	}
}

func TestBearerAuth(t *testing.T) {
	const secret = "test-secret"
	srv, cleanup := newTestServer(t, serverOptions{secret: secret})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/rubrics", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}

	bad := signToken(t, "wrong-secret", "ci-bot")
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/rubrics", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, data)
	}

	token := signToken(t, secret, "ci-bot")
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/verdicts/validate?record=true", scoredVerdict(), map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("authorized validate: %d %s", res.StatusCode, data)
	}
	var out ValidateResponse
	_ = json.Unmarshal(data, &out)
	_, runData := doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+out.RunID, nil, map[string]string{"Authorization": "Bearer " + token})
	var run RunResponse
	_ = json.Unmarshal(runData, &run)
	if run.ActorID != "ci-bot" {
		t.Fatalf("expected actor from sub claim, got %q", run.ActorID)
	}
}

func TestOpenAPI(t *testing.T) {
	srv, cleanup := newTestServer(t, serverOptions{})
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("openapi not json: %v", err)
	}
	paths, _ := doc["paths"].(map[string]any)
	if _, ok := paths["/v1/verdicts/validate"]; !ok {
		t.Fatalf("validate path missing from openapi")
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}
