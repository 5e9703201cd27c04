package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskhive/syncd/internal/core/domain"
)

// HTTPService implements Service over the backend's JSON API.
type HTTPService struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Config holds backend connection configuration.
type Config struct {
	BaseURL      string `yaml:"base_url"`
	GRPCEndpoint string `yaml:"grpc_endpoint"`
	Token        string `yaml:"token"`
}

// NewHTTPService creates a backend client with a pooled transport.
func NewHTTPService(cfg Config) *HTTPService {
	return &HTTPService{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		httpClient: &http.Client{
			// Per-call deadlines come from the caller's context; the client
			// timeout is only a backstop.
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (s *HTTPService) CheckSession(ctx context.Context) error {
	return s.do(ctx, http.MethodGet, "/v1/session", nil, nil)
}

func (s *HTTPService) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	var created domain.Task
	if err := s.do(ctx, http.MethodPost, "/v1/tasks", task, &created); err != nil {
		return domain.Task{}, err
	}
	return created, nil
}

func (s *HTTPService) UpdateTask(ctx context.Context, id string, fields map[string]any) (domain.Task, error) {
	var updated domain.Task
	path := "/v1/tasks/" + url.PathEscape(id)
	if err := s.do(ctx, http.MethodPatch, path, fields, &updated); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

func (s *HTTPService) DeleteTask(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(id), nil, nil)
}

func (s *HTTPService) ListTasks(ctx context.Context, listID string) ([]domain.Task, error) {
	var tasks []domain.Task
	path := "/v1/lists/" + url.PathEscape(listID) + "/tasks"
	if err := s.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// do issues one request and decodes the response into out (if non-nil).
func (s *HTTPService) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend call: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthenticated
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(data))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
