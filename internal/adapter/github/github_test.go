package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tandemsync/tandem/internal/adapter"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(context.Background(), "test-token", "acme/widgets")
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	c.baseURL = srv.URL
	return c
}

// TestNew_Validation tests the owner/repo guard.
func TestNew_Validation(t *testing.T) {
	for _, bad := range []string{"", "acme", "acme/", "/widgets"} {
		if _, err := New(context.Background(), "tok", bad); err == nil {
			t.Errorf("New(%q) accepted a malformed repository", bad)
		}
	}
}

// TestCreateIssue tests request shape and response mapping.
func TestCreateIssue(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/acme/widgets/issues" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-token") {
			t.Errorf("missing token in Authorization header: %q", auth)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["title"] != "Fix the flux capacitor" {
			t.Errorf("title = %v", req["title"])
		}

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"number":   42,
			"title":    req["title"],
			"state":    "open",
			"html_url": "https://github.com/acme/widgets/issues/42",
			"labels":   []map[string]string{{"name": "tandem"}},
		})
	})

	iss, err := c.CreateIssue(context.Background(), "Fix the flux capacitor", "body", []string{"tandem"}, nil)
	if err != nil {
		t.Fatalf("CreateIssue() failed: %v", err)
	}
	if iss.Number != 42 || iss.State != "open" {
		t.Errorf("CreateIssue() = %+v", iss)
	}
	if len(iss.Labels) != 1 || iss.Labels[0] != "tandem" {
		t.Errorf("Labels = %v", iss.Labels)
	}
}

// TestUpdateIssue tests that only set fields are sent.
func TestUpdateIssue(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/repos/acme/widgets/issues/7" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req["state"] != "closed" || req["state_reason"] != "completed" {
			t.Errorf("request = %v", req)
		}
		if _, ok := req["title"]; ok {
			t.Error("unset title was sent")
		}

		json.NewEncoder(w).Encode(map[string]any{"number": 7, "state": "closed", "state_reason": "completed"})
	})

	if err := c.CloseIssue(context.Background(), 7); err != nil {
		t.Fatalf("CloseIssue() failed: %v", err)
	}
}

// TestListIssues tests label filtering and that pull requests are dropped.
func TestListIssues(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("labels"); got != "tandem" {
			t.Errorf("labels = %q", got)
		}
		if got := r.URL.Query().Get("state"); got != "all" {
			t.Errorf("state = %q", got)
		}

		json.NewEncoder(w).Encode([]map[string]any{
			{"number": 1, "title": "An issue", "state": "open"},
			{"number": 2, "title": "A PR", "state": "open", "pull_request": map[string]any{}},
		})
	})

	issues, err := c.ListIssues(context.Background(), "all", []string{"tandem"})
	if err != nil {
		t.Fatalf("ListIssues() failed: %v", err)
	}
	if len(issues) != 1 || issues[0].Number != 1 {
		t.Errorf("ListIssues() = %+v", issues)
	}
}

// TestAPIError tests that the API's message surfaces in the error.
func TestAPIError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "Validation Failed"})
	})

	_, err := c.GetIssue(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "Validation Failed") {
		t.Errorf("GetIssue() error = %v", err)
	}
}

var _ adapter.IssueTracker = (*Client)(nil)
