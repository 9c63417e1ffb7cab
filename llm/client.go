package llm

import (
	"context"
	"fmt"
	"sync"
)

// Backend is a concrete LLM provider behind the client boundary.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client routes completion requests to registered backends by name. Core loop
// code holds a *Client and never touches backend types directly.
type Client struct {
	backends       map[string]Backend
	defaultBackend string
	mu             sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBackend registers a backend.
func WithBackend(name string, b Backend) ClientOption {
	return func(c *Client) {
		c.backends[name] = b
	}
}

// WithDefaultBackend sets the default backend name.
func WithDefaultBackend(name string) ClientOption {
	return func(c *Client) {
		c.defaultBackend = name
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		backends: make(map[string]Backend),
	}
	for _, opt := range opts {
		opt(c)
	}
	// If no default and exactly one backend, use it.
	if c.defaultBackend == "" && len(c.backends) == 1 {
		for name := range c.backends {
			c.defaultBackend = name
		}
	}
	return c
}

// RegisterBackend adds a backend to the client.
func (c *Client) RegisterBackend(name string, b Backend) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backends[name] = b
	if c.defaultBackend == "" {
		c.defaultBackend = name
	}
}

func (c *Client) resolveBackend(req Request) (Backend, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Backend
	if name == "" {
		name = c.defaultBackend
	}
	if name == "" {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: "no backend specified and no default backend configured",
		}}
	}

	b, ok := c.backends[name]
	if !ok {
		return nil, &ConfigurationError{ClientError: ClientError{
			Message: fmt.Sprintf("backend %q is not registered", name),
		}}
	}
	return b, nil
}

// Complete sends a blocking request to the resolved backend.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	b, err := c.resolveBackend(req)
	if err != nil {
		return nil, err
	}
	if req.Backend == "" {
		req.Backend = b.Name()
	}
	return b.Complete(ctx, req)
}

// CompleteWithRetry wraps Complete with the given retry policy.
func (c *Client) CompleteWithRetry(ctx context.Context, policy RetryPolicy, req Request) (*Response, error) {
	return Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
		return c.Complete(ctx, req)
	})
}
