package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// apiClient talks to the tglink HTTP API on behalf of one Telegram user.
type apiClient struct {
	base     string
	initData string
	apiKey   string
	http     *http.Client
}

func newAPIClient(base, initData, apiKey string) *apiClient {
	return &apiClient{
		base:     strings.TrimRight(base, "/"),
		initData: initData,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status   int               `json:"-"`
	Message  string            `json:"error"`
	Class    string            `json:"class,omitempty"`
	ResumeAt *time.Time        `json:"resumeAt,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("http %d: %s", e.Status, e.Message)
	if e.Class != "" {
		msg += " (" + e.Class + ")"
	}
	if e.ResumeAt != nil {
		msg += ", retry after " + e.ResumeAt.Local().Format(time.RFC3339)
	}
	for k, v := range e.Fields {
		msg += fmt.Sprintf("; %s: %s", k, v)
	}
	return msg
}

type initResult struct {
	OperationID string `json:"operationId"`
	Status      string `json:"status"`
}

type callbackResult struct {
	Session string `json:"session"`
	Status  string `json:"status"`
}

type operationResult struct {
	OperationID string    `json:"operationId"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type sessionResult struct {
	Linked  bool       `json:"linked"`
	SavedAt *time.Time `json:"savedAt,omitempty"`
	Session string     `json:"session,omitempty"`
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.initData != "" {
		req.Header.Set("Authorization", "Bearer "+c.initData)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		ae := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(ae); err != nil || ae.Message == "" {
			ae.Message = http.StatusText(resp.StatusCode)
		}
		return ae
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) Init(ctx context.Context, phone, password string) (initResult, error) {
	var out initResult
	err := c.do(ctx, http.MethodPost, "/v2/auth/init", map[string]string{"phone": phone, "password": password}, &out)
	return out, err
}

func (c *apiClient) Callback(ctx context.Context, opID, code string) (callbackResult, error) {
	var out callbackResult
	err := c.do(ctx, http.MethodPost, "/v2/auth/callback", map[string]string{"operationId": opID, "code": code}, &out)
	return out, err
}

func (c *apiClient) Operation(ctx context.Context, opID string) (operationResult, error) {
	var out operationResult
	err := c.do(ctx, http.MethodGet, "/v2/auth/operations/"+opID, nil, &out)
	return out, err
}

func (c *apiClient) Session(ctx context.Context) (sessionResult, error) {
	var out sessionResult
	err := c.do(ctx, http.MethodGet, "/v2/auth/session", nil, &out)
	return out, err
}

func (c *apiClient) Probe(ctx context.Context) (sessionResult, error) {
	var out sessionResult
	err := c.do(ctx, http.MethodPost, "/v2/auth/session/probe", nil, &out)
	return out, err
}

func (c *apiClient) Revoke(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v2/auth/session", nil, nil)
}

func (c *apiClient) AdminRevoke(ctx context.Context, telegramID string) error {
	return c.do(ctx, http.MethodDelete, "/admin/sessions/"+telegramID, nil, nil)
}
