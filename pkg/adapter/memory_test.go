package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fractionalquest/copilot/pkg/adapter"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/m-mizutani/gt"
)

type memoryServer struct {
	mu       sync.Mutex
	bodies   []map[string]any
	auth     string
	status   int
	entities string
}

func (s *memoryServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = r.Header.Get("Authorization")

	if s.status != 0 {
		w.WriteHeader(s.status)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/memories":
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		s.bodies = append(s.bodies, body)
		w.WriteHeader(http.StatusCreated)
	case r.Method == http.MethodGet && r.URL.Path == "/users/u1/entities":
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, s.entities)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func TestMemoryAPIStoreTurn(t *testing.T) {
	srv := &memoryServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	client := adapter.NewMemoryAPI(ts.URL+"/", adapter.WithMemoryAPIKey("secret"))
	err := client.StoreTurn(context.Background(), &model.MemoryTurn{
		UserID:   "u1",
		Role:     model.MemoryRoleUser,
		Content:  "London",
		Metadata: map[string]any{"page": "fractional-cfo-jobs"},
	})
	gt.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	gt.A(t, srv.bodies).Length(1)
	gt.Equal(t, srv.bodies[0]["userId"], any("u1"))
	gt.Equal(t, srv.bodies[0]["role"], any("user"))
	gt.Equal(t, srv.bodies[0]["content"], any("London"))
	gt.Map(t, srv.bodies[0]).HasKey("metadata")
	gt.Equal(t, srv.auth, "Bearer secret")
}

func TestMemoryAPINon2xxIsError(t *testing.T) {
	ts := httptest.NewServer(&memoryServer{status: http.StatusServiceUnavailable})
	defer ts.Close()

	client := adapter.NewMemoryAPI(ts.URL)
	err := client.StoreTurn(context.Background(), &model.MemoryTurn{UserID: "u1", Role: model.MemoryRoleUser, Content: "London"})
	gt.True(t, errors.Is(err, adapter.ErrMemoryAPI))

	_, err = client.Entities(context.Background(), "u1")
	gt.True(t, errors.Is(err, adapter.ErrMemoryAPI))
}

func TestMemoryAPIEntities(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		expected model.Entities
	}{
		{
			name: "full",
			body: `{"entities":{"roles":["CFO"],"locations":["London"],"interests":["SaaS"],"experiences":["M&A"]}}`,
			expected: model.Entities{
				Roles: []string{"CFO"}, Locations: []string{"London"}, Interests: []string{"SaaS"}, Experiences: []string{"M&A"},
			},
		},
		{
			name:     "missing arrays",
			body:     `{"entities":{"roles":["CTO"]}}`,
			expected: model.Entities{Roles: []string{"CTO"}, Locations: []string{}, Interests: []string{}, Experiences: []string{}},
		},
		{
			name:     "missing entities",
			body:     `{}`,
			expected: model.Entities{Roles: []string{}, Locations: []string{}, Interests: []string{}, Experiences: []string{}},
		},
		{
			name:     "empty body",
			body:     ``,
			expected: model.Entities{Roles: []string{}, Locations: []string{}, Interests: []string{}, Experiences: []string{}},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(&memoryServer{entities: tc.body})
			defer ts.Close()

			got, err := adapter.NewMemoryAPI(ts.URL).Entities(context.Background(), "u1")
			gt.NoError(t, err)
			gt.Equal(t, *got, tc.expected)
		})
	}
}

func TestMemoryAPITimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := adapter.NewMemoryAPI(ts.URL).Entities(ctx, "u1")
	gt.Error(t, err)
}
