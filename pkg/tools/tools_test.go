package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/edukit/canvas-mcp/internal/testutil"
	"github.com/edukit/canvas-mcp/pkg/bundle"
	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/edukit/canvas-mcp/pkg/pagination"
)

func newTestRegistry(baseURL string) *Registry {
	cfg := client.DefaultConfig("canvas-mcp-test/1.0")
	cfg.Retry = client.RetryConfig{
		MaxAttempts:       1,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
	cred := client.Credential{BaseURL: baseURL, AccessToken: "default-token"}
	return NewRegistry(client.New(cfg), cred, bundle.Config{Concurrency: 4, Timeout: 10 * time.Second})
}

func TestResolveCredential(t *testing.T) {
	registry := newTestRegistry("https://canvas.example.com")

	tests := []struct {
		name      string
		auth      *AuthArgs
		wantBase  string
		wantToken string
	}{
		{
			name:      "default credential",
			auth:      nil,
			wantBase:  "https://canvas.example.com",
			wantToken: "default-token",
		},
		{
			name:      "full override",
			auth:      &AuthArgs{CanvasBaseURL: "https://other.example.com", CanvasAccessToken: "caller-token"},
			wantBase:  "https://other.example.com",
			wantToken: "caller-token",
		},
		{
			name:      "token-only override keeps default base",
			auth:      &AuthArgs{CanvasAccessToken: "caller-token"},
			wantBase:  "https://canvas.example.com",
			wantToken: "caller-token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := registry.resolveCredential(tt.auth)
			if err != nil {
				t.Fatalf("resolveCredential() error = %v", err)
			}
			if cred.BaseURL != tt.wantBase {
				t.Errorf("BaseURL = %q, want %q", cred.BaseURL, tt.wantBase)
			}
			if cred.AccessToken != tt.wantToken {
				t.Errorf("AccessToken = %q, want %q", cred.AccessToken, tt.wantToken)
			}
		})
	}
}

func TestResolveCredential_NoDefaultNoOverride(t *testing.T) {
	cfg := client.DefaultConfig("canvas-mcp-test/1.0")
	registry := NewRegistry(client.New(cfg), client.Credential{}, bundle.DefaultConfig())

	if _, err := registry.resolveCredential(nil); !errors.Is(err, client.ErrMissingCredential) {
		t.Errorf("resolveCredential() = %v, want ErrMissingCredential", err)
	}
}

func TestParseSince(t *testing.T) {
	since, err := parseSince("2026-08-15T00:00:00Z")
	if err != nil {
		t.Fatalf("parseSince() error = %v", err)
	}
	if since == nil || !since.Equal(time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseSince() = %v", since)
	}

	if since, err := parseSince(""); err != nil || since != nil {
		t.Errorf("empty since = (%v, %v), want (nil, nil)", since, err)
	}

	if _, err := parseSince("last tuesday"); err == nil {
		t.Error("Expected error for unparseable since")
	}
}

func TestHandleList(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/courses", testutil.MakeItems(25, "2026-08-20T00:00:00Z"), 10)

	registry := newTestRegistry(mock.URL())
	source, _ := lookupSource("courses")

	_, env, err := registry.handleList(context.Background(), source, ListArgs{PageSize: 10})
	if err != nil {
		t.Fatalf("handleList() error = %v", err)
	}

	if !env.OK {
		t.Error("OK = false")
	}
	if env.Tool != "canvas_list_courses" {
		t.Errorf("Tool = %q", env.Tool)
	}
	// One page only, never the whole collection.
	if len(env.Items) != 10 {
		t.Errorf("items = %d, want 10", len(env.Items))
	}
	if got := mock.Requests("/courses"); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if env.Pagination == nil || env.Pagination.NextPage == nil || *env.Pagination.NextPage != 2 {
		t.Errorf("Pagination = %+v, want next_page 2", env.Pagination)
	}
}

func TestHandleList_SinceFilters(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/courses", []map[string]any{
		{"id": 1, "updated_at": "2026-08-01T00:00:00Z"},
		{"id": 2, "updated_at": "2026-08-20T00:00:00Z"},
	}, 10)

	registry := newTestRegistry(mock.URL())
	source, _ := lookupSource("courses")

	_, env, err := registry.handleList(context.Background(), source, ListArgs{Since: "2026-08-15T00:00:00Z"})
	if err != nil {
		t.Fatalf("handleList() error = %v", err)
	}
	if len(env.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(env.Items))
	}
	if id := env.Items[0]["id"].(float64); id != 2 {
		t.Errorf("kept item id = %v, want 2", id)
	}
}

func TestHandleList_CourseScopedRequiresCourseID(t *testing.T) {
	registry := newTestRegistry("https://canvas.example.com")
	source, _ := lookupSource("assignments")

	_, _, err := registry.handleList(context.Background(), source, ListArgs{})
	if err == nil || !strings.Contains(err.Error(), "course_id") {
		t.Errorf("expected course_id error, got %v", err)
	}
}

func TestHandleList_UpstreamFailureInEnvelope(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeStatus("/courses", 401, "")

	registry := newTestRegistry(mock.URL())
	source, _ := lookupSource("courses")

	_, env, err := registry.handleList(context.Background(), source, ListArgs{})
	if err != nil {
		t.Fatalf("upstream failures belong in the envelope, got transport error %v", err)
	}
	if env.OK {
		t.Error("OK = true with the only source failed")
	}
	if len(env.Errors) != 1 || env.Errors[0].Source != "courses" {
		t.Errorf("Errors = %+v", env.Errors)
	}
	if env.Errors[0].Kind != string(client.KindAuth) {
		t.Errorf("Kind = %q, want auth", env.Errors[0].Kind)
	}
	if strings.Contains(env.Errors[0].Message, "default-token") {
		t.Error("error message leaked the access token")
	}
}

func TestHandleBundle_ExplicitSources(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/users/self/todo", testutil.MakeItems(2, ""), 10)
	mock.ServeLinkPaginated("/planner/items", testutil.MakeItems(3, ""), 10)

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"todo", "planner_items"},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	if !env.OK {
		t.Error("OK = false")
	}
	if len(env.Items) != 2 {
		t.Fatalf("bundle entries = %d, want 2", len(env.Items))
	}
	if env.Items[0]["source"] != "todo" || env.Items[1]["source"] != "planner_items" {
		t.Errorf("bundle order = %v, %v", env.Items[0]["source"], env.Items[1]["source"])
	}
	todoItems := env.Items[0]["items"].([]pagination.Item)
	if len(todoItems) != 2 {
		t.Errorf("todo items = %d, want 2", len(todoItems))
	}
}

func TestHandleBundle_UnknownSource(t *testing.T) {
	registry := newTestRegistry("https://canvas.example.com")

	_, _, err := registry.handleBundle(context.Background(), nil, BundleArgs{Sources: []string{"grades"}})
	if err == nil || !strings.Contains(err.Error(), "grades") {
		t.Errorf("expected unknown-source error, got %v", err)
	}
}

func TestHandleBundle_PartialFailure(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/users/self/todo", testutil.MakeItems(2, ""), 10)
	mock.ServeStatus("/planner/items", 403, "")

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"todo", "planner_items"},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	if !env.OK {
		t.Error("OK = false, partial failure must keep OK true")
	}
	if len(env.Items) != 1 || env.Items[0]["source"] != "todo" {
		t.Errorf("surviving entries = %v", env.Items)
	}
	if len(env.Errors) != 1 || env.Errors[0].Source != "planner_items" {
		t.Errorf("Errors = %+v", env.Errors)
	}
}

func TestHandleBundle_AllSourcesFailed(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeStatus("/users/self/todo", 401, "")
	mock.ServeStatus("/planner/items", 401, "")

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"todo", "planner_items"},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}
	if env.OK {
		t.Error("OK = true with every source failed and zero items")
	}
	if len(env.Errors) != 2 {
		t.Errorf("Errors = %d, want 2", len(env.Errors))
	}
}

func TestHandleBundle_CourseScopedExpansion(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/courses", []map[string]any{
		{"id": float64(11), "name": "Algebra"},
		{"id": float64(12), "name": "Biology"},
	}, 10)
	mock.ServeLinkPaginated("/courses/11/assignments", testutil.MakeItems(1, ""), 10)
	mock.ServeLinkPaginated("/courses/12/assignments", testutil.MakeItems(2, ""), 10)

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"assignments"},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	if !env.OK {
		t.Errorf("OK = false, errors = %+v", env.Errors)
	}
	// One bundle entry per discovered course.
	if len(env.Items) != 2 {
		t.Fatalf("entries = %d, want 2", len(env.Items))
	}
	if env.Items[0]["source"] != "assignments:11" || env.Items[1]["source"] != "assignments:12" {
		t.Errorf("sources = %v, %v", env.Items[0]["source"], env.Items[1]["source"])
	}
}

func TestHandleBundle_ExplicitCourseIDsSkipDiscovery(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/courses/7/quizzes", testutil.MakeItems(1, ""), 10)

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources:   []string{"quizzes"},
		CourseIDs: []int{7},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	if got := mock.Requests("/courses"); got != 0 {
		t.Errorf("course discovery ran despite explicit course_ids, requests = %d", got)
	}
	if len(env.Items) != 1 || env.Items[0]["source"] != "quizzes:7" {
		t.Errorf("entries = %v", env.Items)
	}
}

func TestHandleBundle_CourseDiscoveryFailure(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeStatus("/courses", 500, "")
	mock.ServeLinkPaginated("/users/self/todo", testutil.MakeItems(1, ""), 10)

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"todo", "assignments"},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	// The global source survives; discovery failure is one error entry
	// under its own name, never the courses source's.
	if !env.OK {
		t.Error("OK = false, todo succeeded")
	}
	if len(env.Items) != 1 || env.Items[0]["source"] != "todo" {
		t.Errorf("entries = %v", env.Items)
	}
	found := false
	for _, e := range env.Errors {
		if e.Source == "course_discovery" {
			found = true
		}
		if e.Source == "courses" {
			t.Errorf("discovery error recorded under the courses source name: %+v", e)
		}
	}
	if !found {
		t.Errorf("no course_discovery error recorded: %+v", env.Errors)
	}
}

func TestHandleBundle_DiscoveryErrorDistinctFromCoursesSource(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeStatus("/courses", 500, "")

	registry := newTestRegistry(mock.URL())

	// courses is requested both as a source and as the discovery backing
	// for assignments; its own failure and the discovery failure must stay
	// separate entries.
	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"courses", "assignments"},
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	sources := map[string]int{}
	for _, e := range env.Errors {
		sources[e.Source]++
	}
	if sources["courses"] != 1 {
		t.Errorf("courses errors = %d, want 1: %+v", sources["courses"], env.Errors)
	}
	if sources["course_discovery"] != 1 {
		t.Errorf("course_discovery errors = %d, want 1: %+v", sources["course_discovery"], env.Errors)
	}
}

func TestHandleBundle_SinceAppliedAcrossSources(t *testing.T) {
	mock := testutil.NewMockCanvas()
	defer mock.Close()
	mock.ServeLinkPaginated("/calendar_events", []map[string]any{
		{"id": 1, "updated_at": "2026-08-01T00:00:00Z"},
		{"id": 2, "updated_at": "2026-08-20T00:00:00Z"},
	}, 10)
	mock.ServeLinkPaginated("/users/self/todo", testutil.MakeItems(2, ""), 10)

	registry := newTestRegistry(mock.URL())

	_, env, err := registry.handleBundle(context.Background(), nil, BundleArgs{
		Sources: []string{"calendar_events", "todo"},
		Since:   "2026-08-15T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("handleBundle() error = %v", err)
	}

	calendar := env.Items[0]["items"].([]pagination.Item)
	if len(calendar) != 1 {
		t.Errorf("calendar items = %d, want 1 after since filter", len(calendar))
	}
	// todo has no time field, since must not thin it.
	todo := env.Items[1]["items"].([]pagination.Item)
	if len(todo) != 2 {
		t.Errorf("todo items = %d, want 2 (no time field)", len(todo))
	}
}
