package adapter

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"github.com/valyala/fasthttp"
)

var ErrMemoryAPI = goerr.New("memory service returned an error")

// MemoryAPI is the HTTP client of the external memory service
type MemoryAPI struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *fasthttp.Client
}

type MemoryAPIOption func(*MemoryAPI)

// WithMemoryAPIKey sends key as a bearer token
func WithMemoryAPIKey(key string) MemoryAPIOption {
	return func(m *MemoryAPI) {
		m.apiKey = key
	}
}

// WithMemoryTimeout bounds requests that carry no context deadline
func WithMemoryTimeout(d time.Duration) MemoryAPIOption {
	return func(m *MemoryAPI) {
		m.timeout = d
	}
}

func NewMemoryAPI(baseURL string, opts ...MemoryAPIOption) *MemoryAPI {
	m := &MemoryAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: 10 * time.Second,
		client: &fasthttp.Client{
			Name:                "copilot-memory",
			MaxIdleConnDuration: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type storeTurnRequest struct {
	UserID   string         `json:"userId"`
	Role     string         `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// StoreTurn writes a turn with POST /memories
func (m *MemoryAPI) StoreTurn(ctx context.Context, turn *model.MemoryTurn) error {
	metadata := turn.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	body, err := json.Marshal(storeTurnRequest{
		UserID:   turn.UserID,
		Role:     string(turn.Role),
		Content:  turn.Content,
		Metadata: metadata,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to encode memory turn")
	}

	if _, err := m.do(ctx, fasthttp.MethodPost, m.baseURL+"/memories", body); err != nil {
		return goerr.Wrap(err, "failed to store turn", goerr.V("user_id", turn.UserID))
	}
	return nil
}

type entitiesResponse struct {
	Entities *model.Entities `json:"entities"`
}

// Entities reads the snapshot with GET /users/{id}/entities. A missing entities object
// or missing category arrays are zero items.
func (m *MemoryAPI) Entities(ctx context.Context, userID string) (*model.Entities, error) {
	body, err := m.do(ctx, fasthttp.MethodGet, m.baseURL+"/users/"+url.PathEscape(userID)+"/entities", nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch entities", goerr.V("user_id", userID))
	}

	var resp entitiesResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, goerr.Wrap(err, "failed to decode entities", goerr.V("user_id", userID))
		}
	}

	entities := resp.Entities
	if entities == nil {
		entities = &model.Entities{}
	}
	normalize(entities)
	return entities, nil
}

func normalize(e *model.Entities) {
	for _, field := range []*[]string{&e.Roles, &e.Locations, &e.Interests, &e.Experiences} {
		if *field == nil {
			*field = []string{}
		}
	}
}

func (m *MemoryAPI) do(ctx context.Context, method, uri string, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "request cancelled before sending")
	}

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")
	if m.apiKey != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+m.apiKey)
	}
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(m.timeout)
	}
	if err := m.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, goerr.Wrap(err, "memory request failed", goerr.V("method", method), goerr.V("uri", uri))
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, goerr.Wrap(ErrMemoryAPI, "unexpected status",
			goerr.V("method", method), goerr.V("uri", uri), goerr.V("status", code))
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return out, nil
}
