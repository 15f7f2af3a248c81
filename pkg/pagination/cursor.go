package pagination

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/edukit/canvas-mcp/pkg/client"
)

// Item is one upstream JSON object. The engine does not interpret its shape
// beyond locating the id, updated_at, and created_at fields.
type Item map[string]any

// PageResult is the normalized outcome of one upstream page. NextCursor is
// present iff more pages are known to exist; absence is terminal.
type PageResult struct {
	Items      []Item
	NextCursor string
	TotalCount *int
}

// style identifies which pagination convention an endpoint uses. Detected
// once per sequence from the first response.
type style int

const (
	styleUnknown style = iota

	// styleLinkHeader follows the rel="next" URL in the Link header.
	styleLinkHeader

	// styleBodyMeta reads {meta: {next_page}} from the body.
	styleBodyMeta

	// stylePageNumber assumes page+1 exists while a page comes back full.
	stylePageNumber
)

// bodyMeta is the {meta: ...} block some endpoints embed in object bodies.
type bodyMeta struct {
	NextPage   *int `json:"next_page"`
	TotalCount *int `json:"total_count"`
}

// parsePage normalizes one raw response into a PageResult. page is the
// 1-indexed number of the page this response answers, pageSize the
// requested page size. It returns the (possibly freshly detected) style.
func parsePage(raw *client.RawResponse, st style, page, pageSize int) (*PageResult, style, error) {
	items, meta, err := decodeBody(raw.Body)
	if err != nil {
		return nil, st, err
	}

	if st == styleUnknown {
		st = detectStyle(raw, meta)
	}

	result := &PageResult{Items: items}
	if meta != nil {
		result.TotalCount = meta.TotalCount
	}

	switch st {
	case styleLinkHeader:
		result.NextCursor = nextLinkURL(raw.Header.Get("Link"))
	case styleBodyMeta:
		if meta != nil && meta.NextPage != nil {
			result.NextCursor = strconv.Itoa(*meta.NextPage)
		}
	case stylePageNumber:
		if pageSize > 0 && len(items) == pageSize {
			result.NextCursor = strconv.Itoa(page + 1)
		}
	}

	return result, st, nil
}

// detectStyle picks the pagination style from the first response's shape.
func detectStyle(raw *client.RawResponse, meta *bodyMeta) style {
	if nextLinkURL(raw.Header.Get("Link")) != "" || strings.Contains(raw.Header.Get("Link"), `rel="`) {
		return styleLinkHeader
	}
	if meta != nil && meta.NextPage != nil {
		return styleBodyMeta
	}
	return stylePageNumber
}

// decodeBody accepts the body shapes Canvas produces: a bare JSON array, a
// {data: [...], meta: {...}} wrapper, or a single object (detail endpoints
// such as the user profile).
func decodeBody(body []byte) ([]Item, *bodyMeta, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var items []Item
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, nil, &client.APIError{Kind: client.KindDecode, Message: "decode item array", Err: err}
		}
		return items, nil, nil
	}

	var wrapper struct {
		Data []Item          `json:"data"`
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, nil, &client.APIError{Kind: client.KindDecode, Message: "decode response object", Err: err}
	}

	var meta *bodyMeta
	if len(wrapper.Meta) > 0 {
		meta = &bodyMeta{}
		if err := json.Unmarshal(wrapper.Meta, meta); err != nil {
			return nil, nil, &client.APIError{Kind: client.KindDecode, Message: "decode pagination meta", Err: err}
		}
	}

	if wrapper.Data != nil {
		return wrapper.Data, meta, nil
	}

	// Single-object body: treat as one item.
	var item Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, nil, &client.APIError{Kind: client.KindDecode, Message: "decode item object", Err: err}
	}
	return []Item{item}, meta, nil
}

// nextLinkURL extracts the rel="next" target from a Link header, or "".
func nextLinkURL(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			if rel := strings.TrimSpace(param); rel == `rel="next"` || rel == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
