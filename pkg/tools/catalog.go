// Package tools exposes Canvas data sources as MCP tools: one list tool per
// source plus the delta-bundle aggregator.
package tools

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/edukit/canvas-mcp/pkg/delta"
)

// Source describes one named Canvas data source: its endpoint, whether it
// is scoped to a course, and which item field its delta filter reads.
type Source struct {
	// Name is the source name used in bundles and error entries.
	Name string

	// Tool is the MCP tool name exposing the source on its own.
	Tool string

	// Description is the MCP tool description.
	Description string

	// Path is the endpoint path under /api/v1. Course-scoped paths
	// contain one %d verb for the course id.
	PerCourse bool
	Path      string

	// Query holds fixed query parameters sent on every request.
	Query url.Values

	// TimeField is the item field the delta filter reads, FieldNone when
	// the endpoint has no usable timestamp.
	TimeField delta.TimeField
}

// Catalog lists every known source in bundle output order.
var Catalog = []Source{
	{
		Name:        "profile",
		Tool:        "canvas_get_profile",
		Description: "Get the current user's Canvas profile.",
		Path:        "/users/self/profile",
		TimeField:   delta.FieldNone,
	},
	{
		Name:        "courses",
		Tool:        "canvas_list_courses",
		Description: "List the user's active Canvas courses.",
		Path:        "/courses",
		Query:       url.Values{"enrollment_state": {"active"}},
		TimeField:   delta.FieldUpdatedAt,
	},
	{
		Name:        "assignments",
		Tool:        "canvas_list_assignments",
		Description: "List assignments for a Canvas course.",
		PerCourse:   true,
		Path:        "/courses/%d/assignments",
		TimeField:   delta.FieldUpdatedAt,
	},
	{
		Name:        "quizzes",
		Tool:        "canvas_list_quizzes",
		Description: "List quizzes for a Canvas course.",
		PerCourse:   true,
		Path:        "/courses/%d/quizzes",
		TimeField:   delta.FieldUpdatedAt,
	},
	{
		Name:        "discussions",
		Tool:        "canvas_list_discussions",
		Description: "List discussion topics for a Canvas course (excluding announcements).",
		PerCourse:   true,
		Path:        "/courses/%d/discussion_topics",
		TimeField:   delta.FieldUpdatedAt,
	},
	{
		Name:        "announcements",
		Tool:        "canvas_list_announcements",
		Description: "List announcements for a Canvas course.",
		PerCourse:   true,
		Path:        "/announcements",
		TimeField:   delta.FieldCreatedAt,
	},
	{
		Name:        "todo",
		Tool:        "canvas_list_todo_items",
		Description: "List the user's Canvas todo items.",
		Path:        "/users/self/todo",
		TimeField:   delta.FieldNone,
	},
	{
		Name:        "upcoming_events",
		Tool:        "canvas_list_upcoming_events",
		Description: "List the user's upcoming Canvas events.",
		Path:        "/users/self/upcoming_events",
		TimeField:   delta.FieldNone,
	},
	{
		Name:        "calendar_events",
		Tool:        "canvas_list_calendar_events",
		Description: "List the user's Canvas calendar events.",
		Path:        "/calendar_events",
		TimeField:   delta.FieldUpdatedAt,
	},
	{
		Name:        "planner_items",
		Tool:        "canvas_list_planner_items",
		Description: "List the user's Canvas planner items.",
		Path:        "/planner/items",
		TimeField:   delta.FieldUpdatedAt,
	},
}

// SourceNames returns every catalog source name in order.
func SourceNames() []string {
	names := make([]string, len(Catalog))
	for i, source := range Catalog {
		names[i] = source.Name
	}
	return names
}

// lookupSource finds a catalog entry by name.
func lookupSource(name string) (Source, bool) {
	for _, source := range Catalog {
		if source.Name == name {
			return source, true
		}
	}
	return Source{}, false
}

// Seed builds the page request that starts this source's sequence.
func (s Source) Seed(courseID, page, pageSize int) client.PageRequest {
	path := s.Path
	query := url.Values{}
	for key, values := range s.Query {
		query[key] = values
	}

	if s.PerCourse {
		if s.Name == "announcements" {
			// The announcements endpoint scopes by context code instead
			// of a path segment.
			query.Set("context_codes[]", fmt.Sprintf("course_%d", courseID))
		} else {
			path = fmt.Sprintf(s.Path, courseID)
		}
	}
	if page > 1 {
		query.Set("page", strconv.Itoa(page))
	}

	return client.PageRequest{
		Path:     path,
		Query:    query,
		PageSize: pageSize,
	}
}
