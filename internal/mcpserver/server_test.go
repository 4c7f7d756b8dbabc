package mcpserver

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/marker/internal/highlightservice"
	"github.com/starford/marker/internal/models"
	"github.com/starford/marker/internal/testutil"
)

func testServer(t *testing.T) (*Server, *highlightservice.Service) {
	t.Helper()
	_, store := testutil.TestStore(t)
	db := testutil.TestDB(t)
	svc := highlightservice.NewService(store, db)
	return New(svc), svc
}

func seed(t *testing.T, svc *highlightservice.Service, key string, markups ...string) {
	t.Helper()
	var recs []models.HighlightRecord
	for i, m := range markups {
		recs = append(recs, models.HighlightRecord{
			Markup: m,
			Position: models.PositionDescriptor{
				StartNodeIndex: i, StartOffset: 0, EndNodeIndex: i, EndOffset: 1,
			},
		})
	}
	if _, err := svc.Append(context.Background(), key, recs); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_pages":
		result, err = srv.listPages(ctx, req)
	case "get_highlights":
		result, err = srv.getHighlights(ctx, req)
	case "search_highlights":
		result, err = srv.searchHighlights(ctx, req)
	case "export_highlights":
		result, err = srv.exportHighlights(ctx, req)
	case "get_descriptor_contract":
		result, err = srv.getDescriptorContract(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestGetHighlights(t *testing.T) {
	srv, svc := testServer(t)
	seed(t, svc, "https://example.com/a", "first quote", "second quote")

	res := callTool(t, srv, "get_highlights", map[string]interface{}{"page_key": "https://example.com/a"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.Contains(text, "first quote") || !strings.Contains(text, "second quote") {
		t.Errorf("result missing records: %s", text)
	}
	if strings.Index(text, "first quote") > strings.Index(text, "second quote") {
		t.Error("records out of saved order")
	}
}

func TestGetHighlightsMissing(t *testing.T) {
	srv, _ := testServer(t)
	res := callTool(t, srv, "get_highlights", map[string]interface{}{"page_key": "https://nope.test/"})
	if !res.IsError {
		t.Error("expected error for unknown page")
	}
}

func TestGetHighlightsRequiresKey(t *testing.T) {
	srv, _ := testServer(t)
	res := callTool(t, srv, "get_highlights", map[string]interface{}{})
	if !res.IsError {
		t.Error("expected error without page_key")
	}
}

func TestListPages(t *testing.T) {
	srv, svc := testServer(t)
	seed(t, svc, "https://example.com/a", "one")
	seed(t, svc, "https://example.com/b", "two")

	res := callTool(t, srv, "list_pages", map[string]interface{}{})
	text := resultText(res)
	if !strings.Contains(text, "https://example.com/a") || !strings.Contains(text, "https://example.com/b") {
		t.Errorf("list missing pages: %s", text)
	}
	if !strings.Contains(text, `"total": 2`) {
		t.Errorf("total missing: %s", text)
	}
}

func TestSearchHighlights(t *testing.T) {
	srv, svc := testServer(t)
	seed(t, svc, "https://example.com/a", "the quick fox")

	res := callTool(t, srv, "search_highlights", map[string]interface{}{"query": "quick"})
	if !strings.Contains(resultText(res), "https://example.com/a") {
		t.Errorf("search result = %s", resultText(res))
	}

	res = callTool(t, srv, "search_highlights", map[string]interface{}{"query": "absent"})
	if resultText(res) != "no highlights found" {
		t.Errorf("empty search = %s", resultText(res))
	}
}

func TestExportHighlights(t *testing.T) {
	srv, svc := testServer(t)
	seed(t, svc, "https://example.com/a", "lo <b>big</b> wo")

	res := callTool(t, srv, "export_highlights", map[string]interface{}{"page_key": "https://example.com/a"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", resultText(res))
	}
	if !strings.Contains(resultText(res), "> lo **big** wo") {
		t.Errorf("export = %s", resultText(res))
	}
}

func TestDescriptorContract(t *testing.T) {
	srv, _ := testServer(t)
	res := callTool(t, srv, "get_descriptor_contract", nil)
	text := resultText(res)
	for _, want := range []string{"start_node_index", "UTF-16", "saved order"} {
		if !strings.Contains(text, want) {
			t.Errorf("contract missing %q", want)
		}
	}

	contents, err := srv.readDescriptorFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil || len(contents) != 1 {
		t.Fatalf("resource = %v, %v", contents, err)
	}
	if tc, ok := contents[0].(mcp.TextResourceContents); !ok || tc.URI != DescriptorFormatURI {
		t.Errorf("resource contents = %#v", contents[0])
	}
}
