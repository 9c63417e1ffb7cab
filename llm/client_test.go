package llm

import (
	"context"
	"testing"
)

type stubBackend struct {
	name     string
	lastReq  Request
	response *Response
	err      error
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Complete(ctx context.Context, req Request) (*Response, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func TestClientRoutesToNamedBackend(t *testing.T) {
	a := &stubBackend{name: "a", response: &Response{Content: "from a"}}
	b := &stubBackend{name: "b", response: &Response{Content: "from b"}}
	c := NewClient(WithBackend("a", a), WithBackend("b", b), WithDefaultBackend("a"))

	resp, err := c.Complete(context.Background(), Request{Backend: "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from b" {
		t.Errorf("Content = %q, want from b", resp.Content)
	}
}

func TestClientSingleBackendBecomesDefault(t *testing.T) {
	s := &stubBackend{name: "only", response: &Response{Content: "hi"}}
	c := NewClient(WithBackend("only", s))

	resp, err := c.Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("Content = %q, want hi", resp.Content)
	}
	if s.lastReq.Backend != "only" {
		t.Errorf("Backend = %q, want only (filled by client)", s.lastReq.Backend)
	}
}

func TestClientUnknownBackend(t *testing.T) {
	c := NewClient()
	_, err := c.Complete(context.Background(), Request{Backend: "ghost"})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("error = %T, want ConfigurationError", err)
	}
}

func TestClientNoDefault(t *testing.T) {
	c := NewClient(
		WithBackend("a", &stubBackend{name: "a"}),
		WithBackend("b", &stubBackend{name: "b"}),
	)
	_, err := c.Complete(context.Background(), Request{})
	if _, ok := err.(*ConfigurationError); !ok {
		t.Fatalf("error = %T, want ConfigurationError", err)
	}
}

func TestUsageAdd(t *testing.T) {
	total := Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}.
		Add(Usage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5})
	if total.InputTokens != 13 || total.OutputTokens != 7 || total.TotalTokens != 20 {
		t.Errorf("Add = %+v", total)
	}
}
