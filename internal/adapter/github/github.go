// Package github implements the issue tracker adapter against the
// GitHub REST v3 issues API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tandemsync/tandem/internal/adapter"
)

const defaultBaseURL = "https://api.github.com"

// Client talks to the GitHub issues API for one repository.
type Client struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	repo       string
}

// New creates a Client for the given owner/repo using a personal access
// token. The token is carried by an oauth2 transport so every request is
// authenticated.
func New(ctx context.Context, token, ownerRepo string) (*Client, error) {
	owner, repo, ok := strings.Cut(ownerRepo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("repository must be owner/repo (got %q)", ownerRepo)
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = 30 * time.Second

	return &Client{
		httpClient: httpClient,
		baseURL:    defaultBaseURL,
		owner:      owner,
		repo:       repo,
	}, nil
}

// apiIssue is the wire shape of a GitHub issue.
type apiIssue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	StateReason string    `json:"state_reason"`
	HTMLURL     string    `json:"html_url"`
	UpdatedAt   time.Time `json:"updated_at"`
	Labels      []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (a *apiIssue) toIssue() *adapter.Issue {
	iss := &adapter.Issue{
		Number:      a.Number,
		Title:       a.Title,
		Body:        a.Body,
		State:       a.State,
		StateReason: a.StateReason,
		URL:         a.HTMLURL,
		UpdatedAt:   a.UpdatedAt,
	}
	for _, l := range a.Labels {
		iss.Labels = append(iss.Labels, l.Name)
	}
	for _, u := range a.Assignees {
		iss.Assignees = append(iss.Assignees, u.Login)
	}
	return iss
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels, assignees []string) (*adapter.Issue, error) {
	req := map[string]any{"title": title}
	if body != "" {
		req["body"] = body
	}
	if len(labels) > 0 {
		req["labels"] = labels
	}
	if len(assignees) > 0 {
		req["assignees"] = assignees
	}

	var out apiIssue
	if err := c.do(ctx, http.MethodPost, c.issuesPath(""), req, &out); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return out.toIssue(), nil
}

// UpdateIssue patches an existing issue. Nil fields are left unchanged.
func (c *Client) UpdateIssue(ctx context.Context, number int, upd adapter.IssueUpdate) (*adapter.Issue, error) {
	req := map[string]any{}
	if upd.Title != nil {
		req["title"] = *upd.Title
	}
	if upd.Body != nil {
		req["body"] = *upd.Body
	}
	if upd.State != nil {
		req["state"] = *upd.State
	}
	if upd.StateReason != nil {
		req["state_reason"] = *upd.StateReason
	}
	if upd.Labels != nil {
		req["labels"] = upd.Labels
	}
	if upd.Assignees != nil {
		req["assignees"] = upd.Assignees
	}

	var out apiIssue
	path := c.issuesPath(fmt.Sprintf("/%d", number))
	if err := c.do(ctx, http.MethodPatch, path, req, &out); err != nil {
		return nil, fmt.Errorf("failed to update issue #%d: %w", number, err)
	}
	return out.toIssue(), nil
}

// CloseIssue closes an issue as completed.
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	state := "closed"
	reason := "completed"
	_, err := c.UpdateIssue(ctx, number, adapter.IssueUpdate{State: &state, StateReason: &reason})
	return err
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, number int) (*adapter.Issue, error) {
	var out apiIssue
	path := c.issuesPath(fmt.Sprintf("/%d", number))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}
	return out.toIssue(), nil
}

// ListIssues lists issues in the given state ("open", "closed", "all")
// carrying every given label. Pull requests share the issues API and
// are filtered out.
func (c *Client) ListIssues(ctx context.Context, state string, labels []string) ([]*adapter.Issue, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if len(labels) > 0 {
		q.Set("labels", strings.Join(labels, ","))
	}
	q.Set("per_page", "100")

	var issues []*adapter.Issue
	for page := 1; ; page++ {
		q.Set("page", fmt.Sprintf("%d", page))

		var out []apiIssue
		if err := c.do(ctx, http.MethodGet, c.issuesPath("")+"?"+q.Encode(), nil, &out); err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}

		for i := range out {
			if out[i].PullRequest != nil {
				continue
			}
			issues = append(issues, out[i].toIssue())
		}

		if len(out) < 100 {
			return issues, nil
		}
	}
}

func (c *Client) issuesPath(suffix string) string {
	return fmt.Sprintf("/repos/%s/%s/issues%s", c.owner, c.repo, suffix)
}

// do performs one API request. Non-2xx responses become errors carrying
// the API's message when it sends one.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return fmt.Errorf("github: %s (HTTP %d)", body.Message, resp.StatusCode)
	}
	return fmt.Errorf("github: HTTP %d", resp.StatusCode)
}
