package kit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func TestChain_Order(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+"_before")
				resp, err := next(ctx, req)
				order = append(order, name+"_after")
				return resp, err
			}
		}
	}

	base := func(_ context.Context, _ any) (any, error) {
		order = append(order, "endpoint")
		return "ok", nil
	}

	resp, err := Chain(mw("a"), mw("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("response: got %v", resp)
	}

	want := []string{"a_before", "b_before", "endpoint", "b_after", "a_after"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestChain_ErrorPropagation(t *testing.T) {
	errFail := errors.New("fail")
	base := func(_ context.Context, _ any) (any, error) { return nil, errFail }

	_, err := Chain()(base)(context.Background(), nil)
	if !errors.Is(err, errFail) {
		t.Fatalf("error: got %v, want %v", err, errFail)
	}
}

func TestContext_Defaults(t *testing.T) {
	ctx := context.Background()
	if v := GetTransport(ctx); v != "local" {
		t.Fatalf("default transport: got %q", v)
	}
	if v := GetRequestID(ctx); v != "" {
		t.Fatalf("default request_id: got %q", v)
	}

	ctx = WithRequestID(WithTransport(ctx, "mcp"), "req_abc")
	if GetTransport(ctx) != "mcp" || GetRequestID(ctx) != "req_abc" {
		t.Fatalf("transport=%q request_id=%q", GetTransport(ctx), GetRequestID(ctx))
	}
}

var testImpl = &mcp.Implementation{Name: "kit-test", Version: "0.1.0"}

func session(t *testing.T, register func(*mcp.Server)) *mcp.ClientSession {
	t.Helper()
	srv := mcp.NewServer(testImpl, nil)
	register(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	cs, err := mcp.NewClient(testImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func TestRegisterMCPTool(t *testing.T) {
	type echoReq struct {
		Word string `json:"word"`
	}
	cs := session(t, func(srv *mcp.Server) {
		RegisterMCPTool(srv,
			&mcp.Tool{Name: "echo", InputSchema: map[string]any{"type": "object"}},
			func(ctx context.Context, req any) (any, error) {
				r := req.(*echoReq)
				if r.Word == "" {
					return nil, errors.New("word is required")
				}
				return map[string]string{"word": r.Word, "transport": GetTransport(ctx)}, nil
			},
			func(req *mcp.CallToolRequest) (*MCPDecodeResult, error) {
				var r echoReq
				if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
					return nil, err
				}
				return &MCPDecodeResult{Request: &r}, nil
			})
	})

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{"word": "hi"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("tool error: %+v", res.Content)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[string]string{"word": "hi", "transport": "mcp"}, got); diff != "" {
		t.Fatalf("response mismatch (-want +got):\n%s", diff)
	}

	res, err = cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "echo",
		Arguments: map[string]any{},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for empty word")
	}
}
