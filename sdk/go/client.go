package verdictlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Verdictline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// ValidateResult mirrors the validate endpoint response.
type ValidateResult struct {
	RunID           string   `json:"run_id"`
	Schema          string   `json:"schema"`
	Status          string   `json:"status"`
	ErrorClass      string   `json:"error_class,omitempty"`
	ExitCode        int      `json:"exit_code"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
	VerdictSHA256   string   `json:"verdict_sha256"`
	Recorded        bool     `json:"recorded"`
}

// Rubric is one task type entry.
type Rubric struct {
	TaskType    string             `json:"task_type"`
	Description string             `json:"description,omitempty"`
	Dimensions  []string           `json:"dimensions"`
	Weights     map[string]float64 `json:"weights,omitempty"`
	HardGates   []string           `json:"hard_gates"`
	Aliases     []string           `json:"aliases"`
}

type RubricList struct {
	Configured bool     `json:"configured"`
	Version    string   `json:"version,omitempty"`
	Items      []Rubric `json:"items"`
}

// Run is a recorded validation run.
type Run struct {
	ID              string   `json:"id"`
	Source          string   `json:"source"`
	Schema          string   `json:"schema"`
	Status          string   `json:"status"`
	TaskType        string   `json:"task_type,omitempty"`
	Decision        string   `json:"decision,omitempty"`
	FinalScore100   *float64 `json:"final_score_0_100,omitempty"`
	Errors          []string `json:"errors"`
	Inconsistencies []string `json:"inconsistencies"`
	VerdictSHA256   string   `json:"verdict_sha256"`
	ActorID         string   `json:"actor_id"`
	CreatedAt       string   `json:"created_at"`
}

// PaginatedRuns wraps list responses with cursors.
type PaginatedRuns struct {
	Items      []Run  `json:"items"`
	NextCursor string `json:"next_cursor"`
}

type Health struct {
	Status    string   `json:"status"`
	History   bool     `json:"history"`
	Rubrics   bool     `json:"rubrics"`
	TaskTypes []string `json:"task_types"`
}

type ValidateOptions struct {
	Source string
	Record bool
}

type RunsQuery struct {
	Status   string
	TaskType string
	SHA256   string
	Limit    int
	Cursor   string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Validate submits a raw verdict document. The bytes are sent unchanged.
func (c *Client) Validate(ctx context.Context, verdict []byte, opts ValidateOptions) (ValidateResult, error) {
	q := url.Values{}
	if opts.Source != "" {
		q.Set("source", opts.Source)
	}
	if opts.Record {
		q.Set("record", "true")
	}
	var resp ValidateResult
	err := c.do(ctx, http.MethodPost, withQuery("verdicts/validate", q), json.RawMessage(verdict), &resp)
	return resp, err
}

// Rubrics lists the server's rubric catalog.
func (c *Client) Rubrics(ctx context.Context) (RubricList, error) {
	var resp RubricList
	err := c.do(ctx, http.MethodGet, "rubrics", nil, &resp)
	return resp, err
}

// Rubric fetches one task type; aliases resolve server-side.
func (c *Client) Rubric(ctx context.Context, taskType string) (Rubric, error) {
	var resp Rubric
	err := c.do(ctx, http.MethodGet, "rubrics/"+url.PathEscape(taskType), nil, &resp)
	return resp, err
}

// Runs lists recorded runs newest first.
func (c *Client) Runs(ctx context.Context, query RunsQuery) (PaginatedRuns, error) {
	q := url.Values{}
	if query.Status != "" {
		q.Set("status", query.Status)
	}
	if query.TaskType != "" {
		q.Set("task_type", query.TaskType)
	}
	if query.SHA256 != "" {
		q.Set("verdict_sha256", query.SHA256)
	}
	if query.Limit > 0 {
		q.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.Cursor != "" {
		q.Set("cursor", query.Cursor)
	}
	var resp PaginatedRuns
	err := c.do(ctx, http.MethodGet, withQuery("runs", q), nil, &resp)
	return resp, err
}

// Run fetches a recorded run by id.
func (c *Client) Run(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base()+"/"+strings.TrimLeft(endpoint, "/"), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
