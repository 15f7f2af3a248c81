// Package pagination normalizes Canvas list endpoint pagination and drives
// page sequences to completion.
//
// Canvas endpoints paginate in two styles: most signal the next page through
// a Link response header (rel="next" URL), while a few older endpoints
// return {data: [...], meta: {next_page: N}} bodies or rely on the caller
// counting page numbers. This package collapses all three into one opaque
// cursor contract so the paginator never cares which style an endpoint uses.
// Style detection happens once per sequence, from the first response.
//
// Example usage:
//
//	paginator := pagination.New(canvasClient)
//	result, err := paginator.Collect(ctx, seed, cred, pagination.Limits{MaxPages: 5})
//
// A failed page aborts the sequence but the items gathered so far remain in
// the returned result. The bundle orchestrator depends on that for its
// partial-failure semantics.
package pagination
