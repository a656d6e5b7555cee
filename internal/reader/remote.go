package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/model"
)

var ErrRemoteJobFailed = errors.New("remote parsing job failed")

type RemoteConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// RemoteParser talks to a LlamaParse-compatible service: upload a file, poll the job until it
// settles, then fetch the markdown result.
type RemoteParser struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	timeout      time.Duration
	httpClient   *http.Client
}

func NewRemoteParser(cfg RemoteConfig) (*RemoteParser, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrRemoteNotConfigured
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &RemoteParser{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		httpClient:   cfg.HTTPClient,
	}, nil
}

type remoteJob struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error_message,omitempty"`
}

type remoteMarkdown struct {
	Markdown string `json:"markdown"`
}

func (p *RemoteParser) Read(ctx context.Context, path string) ([]model.Unit, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	jobID, err := p.upload(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := p.wait(ctx, jobID); err != nil {
		return nil, err
	}

	var result remoteMarkdown
	if err := p.getJSON(ctx, "/api/parsing/job/"+jobID+"/result/markdown", &result); err != nil {
		return nil, fmt.Errorf("fetch parse result failed: %w", err)
	}
	return []model.Unit{{
		Text: result.Markdown,
		Metadata: map[string]string{
			"file_name": filepath.Base(path),
			"source":    path,
			"job_id":    jobID,
		},
	}}, nil
}

func (p *RemoteParser) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open upload file failed: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", fmt.Errorf("create multipart part failed: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("copy upload file failed: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/parsing/upload", &body)
	if err != nil {
		return "", fmt.Errorf("build upload request failed: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job remoteJob
	if err := p.do(req, &job); err != nil {
		return "", fmt.Errorf("upload to remote parser failed: %w", err)
	}
	if job.ID == "" {
		return "", fmt.Errorf("upload to remote parser failed: empty job id")
	}
	return job.ID, nil
}

func (p *RemoteParser) wait(ctx context.Context, jobID string) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		var job remoteJob
		if err := p.getJSON(ctx, "/api/parsing/job/"+jobID, &job); err != nil {
			return fmt.Errorf("poll parse job failed: %w", err)
		}
		switch strings.ToUpper(job.Status) {
		case "SUCCESS":
			return nil
		case "ERROR", "CANCELED", "CANCELLED":
			if job.Error != "" {
				return fmt.Errorf("%w: %s", ErrRemoteJobFailed, job.Error)
			}
			return fmt.Errorf("%w: status %s", ErrRemoteJobFailed, job.Status)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for parse job failed: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *RemoteParser) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *RemoteParser) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response failed: %w", err)
	}
	return nil
}
