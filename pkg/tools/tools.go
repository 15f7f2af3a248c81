package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/edukit/canvas-mcp/pkg/bundle"
	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/edukit/canvas-mcp/pkg/delta"
	"github.com/edukit/canvas-mcp/pkg/envelope"
	"github.com/edukit/canvas-mcp/pkg/pagination"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuthArgs carries an optional per-call credential. Absent fields fall back
// to the process-wide default configuration.
type AuthArgs struct {
	CanvasBaseURL     string `json:"canvas_base_url,omitempty" jsonschema:"Canvas instance base URL"`
	CanvasAccessToken string `json:"canvas_access_token,omitempty" jsonschema:"Canvas API access token"`
}

// ListArgs are the arguments of every per-source list tool.
type ListArgs struct {
	Auth     *AuthArgs `json:"auth,omitempty" jsonschema:"Per-call credential overriding the server default"`
	CourseID int       `json:"course_id,omitempty" jsonschema:"Canvas course ID (required for course-scoped sources)"`
	Page     int       `json:"page,omitempty" jsonschema:"Page number, 1-indexed"`
	PageSize int       `json:"page_size,omitempty" jsonschema:"Items per page, at most 100"`
	Since    string    `json:"since,omitempty" jsonschema:"ISO timestamp; only items changed at or after this time are returned"`
}

// BundleArgs are the arguments of the delta-bundle tool.
type BundleArgs struct {
	Auth      *AuthArgs `json:"auth,omitempty" jsonschema:"Per-call credential overriding the server default"`
	Sources   []string  `json:"sources,omitempty" jsonschema:"Source names to include, defaulting to all known sources"`
	CourseIDs []int     `json:"course_ids,omitempty" jsonschema:"Course IDs for course-scoped sources, defaulting to all active courses"`
	Since     string    `json:"since,omitempty" jsonschema:"ISO timestamp applied uniformly across sources that support a time field"`
}

// Registry wires the Canvas engine to an MCP server.
type Registry struct {
	client      *client.Client
	paginator   *pagination.Paginator
	runner      *bundle.Runner
	defaultCred client.Credential
	logger      zerolog.Logger
}

// NewRegistry creates a tool registry. defaultCred may be empty when every
// caller supplies its own auth argument.
func NewRegistry(c *client.Client, defaultCred client.Credential, cfg bundle.Config) *Registry {
	return &Registry{
		client:      c,
		paginator:   pagination.New(c),
		runner:      bundle.NewRunner(c, cfg),
		defaultCred: defaultCred,
		logger:      log.With().Str("component", "tools").Logger(),
	}
}

// Register adds every catalog list tool and the delta-bundle tool to an MCP
// server.
func (r *Registry) Register(server *mcp.Server) {
	for _, source := range Catalog {
		source := source
		mcp.AddTool(server, &mcp.Tool{
			Name:        source.Tool,
			Description: source.Description,
		}, func(ctx context.Context, req *mcp.CallToolRequest, in ListArgs) (*mcp.CallToolResult, *envelope.Envelope, error) {
			return r.handleList(ctx, source, in)
		})
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: "canvas_get_delta_bundle",
		Description: "Fetch a bundle of Canvas data from multiple sources in one call, " +
			"optionally narrowed to items changed since a timestamp. " +
			"Sources that fail are reported in errors without discarding the rest.",
	}, r.handleBundle)
}

// resolveCredential picks the per-call credential or the process default.
func (r *Registry) resolveCredential(auth *AuthArgs) (client.Credential, error) {
	cred := r.defaultCred
	if auth != nil {
		if auth.CanvasBaseURL != "" {
			cred.BaseURL = auth.CanvasBaseURL
		}
		if auth.CanvasAccessToken != "" {
			cred.AccessToken = auth.CanvasAccessToken
		}
	}
	return cred, cred.Validate()
}

// parseSince validates the optional since argument.
func parseSince(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	stamp, ok := delta.ParseTime(value)
	if !ok {
		return nil, fmt.Errorf("invalid since timestamp %q", value)
	}
	return &stamp, nil
}

// handleList serves one page of a single source.
func (r *Registry) handleList(ctx context.Context, source Source, in ListArgs) (*mcp.CallToolResult, *envelope.Envelope, error) {
	cred, err := r.resolveCredential(in.Auth)
	if err != nil {
		return nil, nil, err
	}
	since, err := parseSince(in.Since)
	if err != nil {
		return nil, nil, err
	}
	if source.PerCourse && in.CourseID <= 0 {
		return nil, nil, fmt.Errorf("course_id is required for %s", source.Tool)
	}

	page := in.Page
	if page <= 0 {
		page = 1
	}

	seed := source.Seed(in.CourseID, page, in.PageSize)
	result, err := r.paginator.Collect(ctx, seed, cred, pagination.Limits{MaxPages: 1})

	env := envelope.New(source.Tool)
	env.AddItems(delta.Filter(result.Items, since, source.TimeField))
	env.Pagination = &result.Meta
	if err != nil {
		env.AddError(source.Name, err)
	} else {
		env.MarkSuccess()
	}

	return nil, env.Finalize(), nil
}

// handleBundle fans out to the requested sources concurrently and merges
// their outcomes into one envelope.
func (r *Registry) handleBundle(ctx context.Context, req *mcp.CallToolRequest, in BundleArgs) (*mcp.CallToolResult, *envelope.Envelope, error) {
	cred, err := r.resolveCredential(in.Auth)
	if err != nil {
		return nil, nil, err
	}
	since, err := parseSince(in.Since)
	if err != nil {
		return nil, nil, err
	}

	names := in.Sources
	if len(names) == 0 {
		names = SourceNames()
	}

	env := envelope.New("canvas_get_delta_bundle")

	specs, err := r.buildSpecs(ctx, names, in.CourseIDs, cred, env)
	if err != nil {
		return nil, nil, err
	}

	outcomes := r.runner.Run(ctx, specs, cred, since)
	for _, outcome := range outcomes {
		item := pagination.Item{
			"source": outcome.Name,
			"items":  outcome.Items,
		}
		if outcome.Meta != nil {
			item["pagination"] = outcome.Meta
		}
		if outcome.Err != nil {
			env.AddError(outcome.Name, outcome.Err)
			if len(outcome.Items) == 0 {
				continue
			}
		} else {
			env.MarkSuccess()
		}
		env.AddItems([]pagination.Item{item})
	}

	return nil, env.Finalize(), nil
}

// buildSpecs expands source names into fetch specs, one per course for
// course-scoped sources. When course-scoped sources are requested without
// explicit course IDs, the user's active courses determine them.
func (r *Registry) buildSpecs(ctx context.Context, names []string, courseIDs []int, cred client.Credential, env *envelope.Envelope) ([]bundle.FetchSpec, error) {
	needsCourses := false
	for _, name := range names {
		source, ok := lookupSource(name)
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		if source.PerCourse {
			needsCourses = true
		}
	}

	if needsCourses && len(courseIDs) == 0 {
		var err error
		courseIDs, err = r.activeCourseIDs(ctx, cred)
		if err != nil {
			// Course discovery failing only takes the course-scoped
			// sources down with it, not the whole bundle. Its error entry
			// carries its own name so it cannot shadow the courses source.
			r.logger.Warn().Err(err).Msg("Active course discovery failed")
			env.AddError("course_discovery", err)
		}
	}

	var specs []bundle.FetchSpec
	for _, name := range names {
		source, _ := lookupSource(name)
		if !source.PerCourse {
			specs = append(specs, bundle.FetchSpec{
				Name:      source.Name,
				Seed:      source.Seed(0, 1, 0),
				TimeField: source.TimeField,
			})
			continue
		}
		for _, courseID := range courseIDs {
			specs = append(specs, bundle.FetchSpec{
				Name:      fmt.Sprintf("%s:%d", source.Name, courseID),
				Seed:      source.Seed(courseID, 1, 0),
				TimeField: source.TimeField,
			})
		}
	}
	return specs, nil
}

// activeCourseIDs lists the ids of the user's active courses.
func (r *Registry) activeCourseIDs(ctx context.Context, cred client.Credential) ([]int, error) {
	source, _ := lookupSource("courses")
	result, err := r.paginator.Collect(ctx, source.Seed(0, 1, 0), cred, pagination.Limits{})
	if err != nil {
		return nil, err
	}

	var ids []int
	for _, item := range result.Items {
		// JSON numbers decode as float64.
		if id, ok := item["id"].(float64); ok {
			ids = append(ids, int(id))
		}
	}
	return ids, nil
}
