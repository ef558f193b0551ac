package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/yourusername/debridget/internal/domain"
)

// apiError is an error response returned by the server
type apiError struct {
	Status  int
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"error"`
}

func (e *apiError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// client talks to the debridget HTTP API
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// do sends a JSON request and decodes a JSON response into out when out is not nil
func (c *client) do(method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = fmt.Sprintf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type jobList struct {
	Jobs  []*domain.Job `json:"jobs"`
	Count int           `json:"count"`
}

func (c *client) createJob(provider string, payload domain.StartPayload) (*domain.Job, error) {
	var job domain.Job
	err := c.do(http.MethodPost, "/api/v1/jobs", nil, map[string]interface{}{
		"provider": provider,
		"payload":  payload,
	}, &job)
	return &job, err
}

func (c *client) listJobs(query url.Values) ([]*domain.Job, error) {
	var list jobList
	if err := c.do(http.MethodGet, "/api/v1/jobs", query, nil, &list); err != nil {
		return nil, err
	}
	return list.Jobs, nil
}

func (c *client) getJob(id string) (*domain.Job, error) {
	var job domain.Job
	err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, &job)
	return &job, err
}

func (c *client) jobAction(id, action string) (*domain.Job, error) {
	var job domain.Job
	err := c.do(http.MethodPost, "/api/v1/jobs/"+url.PathEscape(id)+"/"+action, nil, nil, &job)
	return &job, err
}

func (c *client) fileLinks(id string) (*domain.FileLinksResult, error) {
	var res domain.FileLinksResult
	err := c.do(http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id)+"/links", nil, nil, &res)
	return &res, err
}

func (c *client) deleteJob(id string) error {
	return c.do(http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, nil, nil)
}

func (c *client) clearCompleted() (int64, error) {
	var res struct {
		Deleted int64 `json:"deleted"`
	}
	err := c.do(http.MethodDelete, "/api/v1/jobs/completed", nil, nil, &res)
	return res.Deleted, err
}

func (c *client) stats() (*domain.JobStats, error) {
	var stats domain.JobStats
	err := c.do(http.MethodGet, "/api/v1/jobs/stats", nil, nil, &stats)
	return &stats, err
}

func (c *client) providers() ([]string, error) {
	var res struct {
		Providers []string `json:"providers"`
	}
	err := c.do(http.MethodGet, "/api/v1/providers", nil, nil, &res)
	return res.Providers, err
}

func (c *client) testProvider(name string) (*domain.ConnectionResult, error) {
	var res domain.ConnectionResult
	err := c.do(http.MethodPost, "/api/v1/providers/"+url.PathEscape(name)+"/test", nil, nil, &res)
	return &res, err
}

func (c *client) healthy() bool {
	hc := &http.Client{Timeout: time.Second}
	resp, err := hc.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
