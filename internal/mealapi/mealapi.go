package mealapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"smart-meal-manager/internal/analysis"
)

// ErrNotFound is returned when the backend answers 404.
var ErrNotFound = errors.New("not found")

// APIError describes a non-2xx backend response.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d, body: %s", e.Op, e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// StatusResponse is the body of GET /api/session/{id}/status.
type StatusResponse struct {
	Status       string                  `json:"status"`
	ImageCount   int                     `json:"image_count"`
	Ingredients  []analysis.Ingredient   `json:"ingredients"`
	MealPlan     []analysis.DayPlan      `json:"meal_plan"`
	ShoppingList []analysis.ShoppingItem `json:"shopping_list"`
}

// Result extracts the analysis fields carried by a status poll.
func (s *StatusResponse) Result() analysis.Result {
	return analysis.Result{
		Ingredients:  s.Ingredients,
		MealPlan:     s.MealPlan,
		ShoppingList: s.ShoppingList,
	}
}

// ResultResponse is the body of GET /api/session/{id}/result.
type ResultResponse struct {
	Status       string                  `json:"status"`
	Ingredients  []analysis.Ingredient   `json:"ingredients"`
	MealPlan     []analysis.DayPlan      `json:"mealPlan"`
	ShoppingList []analysis.ShoppingItem `json:"shoppingList"`
}

// Result converts the response into an analysis.Result.
func (r *ResultResponse) Result() analysis.Result {
	return analysis.Result{
		Ingredients:  r.Ingredients,
		MealPlan:     r.MealPlan,
		ShoppingList: r.ShoppingList,
	}
}

// File is one image part of a multipart upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Call describes one finished backend request, for metrics.
type Call struct {
	Endpoint   string
	StatusCode int
	Latency    time.Duration
	Failed     bool
}

// Recorder receives a Call after every request.
type Recorder interface {
	RecordCall(c Call) error
}

// Client is an interface for the Smart Meal Manager backend API.
type Client interface {
	CreateSession(ctx context.Context) (string, error)
	Status(ctx context.Context, sessionID string) (*StatusResponse, error)
	UploadImages(ctx context.Context, sessionID string, files []File) error
	Analyze(ctx context.Context, sessionID string) error
	Result(ctx context.Context, sessionID string) (*ResultResponse, error)
	SuggestRecipes(ctx context.Context, ingredient string) ([]string, error)
	NetworkInfo(ctx context.Context) (string, error)
}

// httpClient is the concrete implementation of the backend API client.
type httpClient struct {
	baseURL    string
	httpClient *http.Client
	recorder   Recorder
}

// Option customises a client.
type Option func(*httpClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(h *httpClient) { h.httpClient = c }
}

// WithRecorder records every call's latency and status code.
func WithRecorder(r Recorder) Option {
	return func(h *httpClient) { h.recorder = r }
}

// NewClient creates a new backend API client rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) Client {
	c := &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sessionPath(sessionID, suffix string) string {
	return "/api/session/" + url.PathEscape(sessionID) + "/" + suffix
}

// CreateSession asks the backend to issue a new session id.
func (c *httpClient) CreateSession(ctx context.Context) (string, error) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := c.doJSON(ctx, "create session", http.MethodPost, "/api/sessions", nil, &body); err != nil {
		return "", err
	}
	if body.SessionID == "" {
		return "", fmt.Errorf("create session: empty session_id in response")
	}
	return body.SessionID, nil
}

// Status fetches the current analysis status of a session.
func (c *httpClient) Status(ctx context.Context, sessionID string) (*StatusResponse, error) {
	var body StatusResponse
	if err := c.doJSON(ctx, "poll status", http.MethodGet, sessionPath(sessionID, "status"), nil, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// UploadImages posts all files in a single multipart request under field "files".
func (c *httpClient) UploadImages(ctx context.Context, sessionID string, files []File) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename="%s"`, escapeQuotes(f.Name)))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := mw.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create multipart part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return fmt.Errorf("failed to write multipart part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("failed to close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+sessionPath(sessionID, "images"), &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(req, "upload images")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Analyze starts backend analysis for a session.
func (c *httpClient) Analyze(ctx context.Context, sessionID string) error {
	return c.doJSON(ctx, "start analysis", http.MethodPost, sessionPath(sessionID, "analyze"), nil, nil)
}

// Result fetches the final result of a session.
func (c *httpClient) Result(ctx context.Context, sessionID string) (*ResultResponse, error) {
	var body ResultResponse
	if err := c.doJSON(ctx, "fetch result", http.MethodGet, sessionPath(sessionID, "result"), nil, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// SuggestRecipes asks the backend for recipes that use one ingredient.
func (c *httpClient) SuggestRecipes(ctx context.Context, ingredient string) ([]string, error) {
	payload := map[string]string{"ingredient": ingredient}
	var body struct {
		Recipes []string `json:"recipes"`
	}
	if err := c.doJSON(ctx, "suggest recipes", http.MethodPost, "/api/recipes/suggest", payload, &body); err != nil {
		return nil, err
	}
	return body.Recipes, nil
}

// NetworkInfo returns the LAN IP the backend host is reachable on.
func (c *httpClient) NetworkInfo(ctx context.Context) (string, error) {
	var body struct {
		IP string `json:"ip"`
	}
	if err := c.doJSON(ctx, "network info", http.MethodGet, "/api/network-info", nil, &body); err != nil {
		return "", err
	}
	if body.IP == "" {
		return "", fmt.Errorf("network info: empty ip in response")
	}
	return body.IP, nil
}

func (c *httpClient) doJSON(ctx context.Context, op, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// do executes req, records the call and converts non-2xx answers into *APIError.
func (c *httpClient) do(req *http.Request, op string) (*http.Response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	call := Call{Endpoint: req.Method + " " + endpointName(req.URL.Path), Latency: time.Since(start)}
	if err != nil {
		call.Failed = true
		c.record(call)
		return nil, fmt.Errorf("%s: failed to execute request: %w", op, err)
	}
	call.StatusCode = resp.StatusCode
	call.Failed = resp.StatusCode < 200 || resp.StatusCode > 299
	c.record(call)

	if call.Failed {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (c *httpClient) record(call Call) {
	if c.recorder == nil {
		return
	}
	// Metrics are best effort.
	_ = c.recorder.RecordCall(call)
}

// endpointName collapses the session id so metrics group by route.
func endpointName(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "session" {
		parts[2] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}
