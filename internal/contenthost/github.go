package contenthost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/miradorstack/mirador-heal/internal/utils"
)

// GitHubConfig configures the GitHub contents API client.
type GitHubConfig struct {
	BaseURL           string
	Owner             string
	Repo              string
	Branch            string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// GitHubHost reads and commits files through the GitHub contents API.
type GitHubHost struct {
	baseURL    string
	owner      string
	repo       string
	branch     string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGitHubHost constructs a client targeting the configured repository.
func NewGitHubHost(cfg GitHubConfig) *GitHubHost {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GitHubHost{
		baseURL: strings.TrimRight(firstNonEmpty(cfg.BaseURL, "https://api.github.com"), "/"),
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		branch:  cfg.Branch,
		token:   cfg.Token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(limit, 1),
	}
}

type contentResponse struct {
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

// Fetch returns the decoded content of filePath on the configured branch.
func (h *GitHubHost) Fetch(ctx context.Context, filePath string) (string, error) {
	const op = "contenthost.GitHubHost.Fetch"
	file, _, err := h.get(ctx, filePath)
	if err != nil {
		return "", utils.Wrap(op, "fetch "+filePath, utils.ErrFetch, err)
	}
	return file, nil
}

// Write commits content to filePath, creating the file when absent.
func (h *GitHubHost) Write(ctx context.Context, filePath, content, message string) error {
	const op = "contenthost.GitHubHost.Write"
	_, sha, err := h.get(ctx, filePath)
	if err != nil && !isNotFound(err) {
		return utils.Wrap(op, "resolve current revision of "+filePath, utils.ErrWrite, err)
	}

	payload := map[string]string{
		"message": firstNonEmpty(message, "mirador-heal: update "+filePath),
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
	}
	if sha != "" {
		payload["sha"] = sha
	}
	if h.branch != "" {
		payload["branch"] = h.branch
	}

	endpoint, err := h.contentsURL(filePath, false)
	if err != nil {
		return utils.Wrap(op, "build request", utils.ErrWrite, err)
	}
	if err := h.doJSON(ctx, http.MethodPut, endpoint, payload, nil); err != nil {
		return utils.Wrap(op, "write "+filePath, utils.ErrWrite, err)
	}
	return nil
}

func (h *GitHubHost) get(ctx context.Context, filePath string) (string, string, error) {
	endpoint, err := h.contentsURL(filePath, true)
	if err != nil {
		return "", "", err
	}
	var resp contentResponse
	if err := h.doJSON(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return "", "", err
	}
	if resp.Encoding != "" && resp.Encoding != "base64" {
		return "", "", fmt.Errorf("unsupported content encoding %q", resp.Encoding)
	}
	// The API wraps base64 payloads at 60 columns.
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return "", "", fmt.Errorf("decode content: %w", err)
	}
	return string(raw), resp.SHA, nil
}

func (h *GitHubHost) contentsURL(filePath string, withRef bool) (string, error) {
	cleaned, err := CleanPath(filePath)
	if err != nil {
		return "", err
	}
	if h.owner == "" || h.repo == "" {
		return "", fmt.Errorf("github owner and repo must be configured")
	}
	segments := strings.Split(cleaned, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	endpoint := fmt.Sprintf("%s/repos/%s/%s/contents/%s", h.baseURL,
		url.PathEscape(h.owner), url.PathEscape(h.repo), strings.Join(segments, "/"))
	if withRef && h.branch != "" {
		endpoint += "?ref=" + url.QueryEscape(h.branch)
	}
	return endpoint, nil
}

type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "github returned " + e.status
	}
	return fmt.Sprintf("github returned %s: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.code == http.StatusNotFound
}

func (h *GitHubHost) doJSON(ctx context.Context, method, endpoint string, payload any, out any) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
