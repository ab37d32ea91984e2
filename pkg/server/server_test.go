package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fractionalquest/copilot/pkg/catalog"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/repository"
	"github.com/fractionalquest/copilot/pkg/server"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/fractionalquest/copilot/pkg/tool/confirm"
	"github.com/fractionalquest/copilot/pkg/tool/jobs"
	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/gofiber/fiber/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type mockGemini struct {
	mu     sync.Mutex
	script []*genai.GenerateContentResponse
	calls  int
	block  bool
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.script) {
		return nil, errors.New("unexpected GenerateContent call")
	}
	return m.script[i], nil
}

func text(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: genai.NewContentFromText(s, genai.RoleModel)},
	}}
}

func confirmCall() *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{
			Role: genai.RoleModel,
			Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{
				Name: "confirm_job_interest",
				Args: map[string]any{"job_title": "CFO", "company": "Acme", "location": "London"},
			}}},
		}},
	}}
}

func newServer(t *testing.T, gemini *mockGemini, memory *repository.Memory, opts ...server.Option) *fiber.App {
	t.Helper()
	cat := catalog.Default()
	client := &tool.Client{Jobs: cat, Memory: memory}
	confirmTool, err := confirm.New()
	gt.NoError(t, err)

	manager := chat.NewManager(chat.NewInput{
		Gemini: gemini,
		Tools:  tool.New(jobs.NewSearch(client), jobs.NewChart(client), confirmTool),
		Memory: memory,
	})
	t.Cleanup(func() { manager.Shutdown(context.Background()) })
	return server.New(manager, cat, opts...).App()
}

func do(t *testing.T, app *fiber.App, method, path string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		gt.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 2000)
	gt.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	gt.NoError(t, err)
	return resp.StatusCode, data
}

func openSession(t *testing.T, app *fiber.App, userID string) string {
	t.Helper()
	code, body := do(t, app, http.MethodPost, "/api/sessions", map[string]any{
		"page": "fractional-cfo-jobs", "user_id": userID,
	})
	gt.Equal(t, code, http.StatusCreated)
	var resp struct {
		SessionID string           `json:"session_id"`
		State     model.AgentState `json:"state"`
	}
	gt.NoError(t, json.Unmarshal(body, &resp))
	gt.NotEqual(t, resp.SessionID, "")
	gt.Equal(t, resp.State.PageContext().Slug, "fractional-cfo-jobs")
	return resp.SessionID
}

func TestHealth(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	code, body := do(t, app, http.MethodGet, "/health", nil)
	gt.Equal(t, code, http.StatusOK)
	gt.S(t, string(body)).Contains("ok")
}

func TestHandlerPanicBecomesServerError(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	app.Get("/api/sessions/:id/explode", func(c *fiber.Ctx) error {
		panic("renderer bug")
	})

	code, body := do(t, app, http.MethodGet, "/api/sessions/x/explode", nil)
	gt.Equal(t, code, http.StatusInternalServerError)
	gt.S(t, string(body)).Contains("renderer bug")

	code, _ = do(t, app, http.MethodGet, "/health", nil)
	gt.Equal(t, code, http.StatusOK)
}

func TestCreateSessionErrors(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())

	code, _ := do(t, app, http.MethodPost, "/api/sessions", map[string]any{"page": "no-such-page"})
	gt.Equal(t, code, http.StatusNotFound)

	code, body := do(t, app, http.MethodPost, "/api/sessions", map[string]any{})
	gt.Equal(t, code, http.StatusBadRequest)
	gt.S(t, string(body)).Contains("page is required")

	code, _ = do(t, app, http.MethodGet, "/api/sessions/missing/state", nil)
	gt.Equal(t, code, http.StatusNotFound)
}

func TestMessageWhileBusy(t *testing.T) {
	app := newServer(t, &mockGemini{block: true}, repository.NewMemory())
	id := openSession(t, app, "u1")

	code, _ := do(t, app, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]any{"content": "London"})
	gt.Equal(t, code, http.StatusAccepted)

	code, _ = do(t, app, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]any{"content": "hello?"})
	gt.Equal(t, code, http.StatusConflict)
}

func TestMessageRateLimit(t *testing.T) {
	app := newServer(t, &mockGemini{block: true}, repository.NewMemory(), server.WithMessageRate(time.Hour, 1))
	id := openSession(t, app, "")

	code, _ := do(t, app, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]any{"content": "first"})
	gt.Equal(t, code, http.StatusAccepted)
	code, _ = do(t, app, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]any{"content": "second"})
	gt.Equal(t, code, http.StatusTooManyRequests)
}

func TestEmptyMessage(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	id := openSession(t, app, "")
	code, _ := do(t, app, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]any{"content": "  "})
	gt.Equal(t, code, http.StatusBadRequest)
}

func TestPatchState(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	id := openSession(t, app, "u1")

	code, body := do(t, app, http.MethodPatch, "/api/sessions/"+id+"/state", map[string]any{"search_query": "interim cfo"})
	gt.Equal(t, code, http.StatusOK)
	var st model.AgentState
	gt.NoError(t, json.Unmarshal(body, &st))
	gt.Equal(t, st.SearchQuery(), "interim cfo")
	gt.Equal(t, st.User().ID, "u1")
}

func TestGraph(t *testing.T) {
	memory := repository.NewMemory()
	memory.Seed("u1", &model.Entities{Roles: []string{"CFO"}, Locations: []string{"London"}})
	app := newServer(t, &mockGemini{}, memory)

	anonymous := openSession(t, app, "")
	code, _ := do(t, app, http.MethodGet, "/api/sessions/"+anonymous+"/graph", nil)
	gt.Equal(t, code, http.StatusNotFound)

	id := openSession(t, app, "u1")
	var g model.InterestGraph
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		code, body := do(t, app, http.MethodGet, "/api/sessions/"+id+"/graph", nil)
		if code == http.StatusOK {
			gt.NoError(t, json.Unmarshal(body, &g))
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	gt.A(t, g.Nodes).Length(3)

	code, body := do(t, app, http.MethodGet, "/api/sessions/"+id+"/graph?format=html", nil)
	gt.Equal(t, code, http.StatusOK)
	gt.S(t, string(body)).Contains("London")
}

func TestConfirmationOverHTTP(t *testing.T) {
	app := newServer(t, &mockGemini{script: []*genai.GenerateContentResponse{confirmCall(), text("Noted.")}}, repository.NewMemory())
	id := openSession(t, app, "u1")

	code, _ := do(t, app, http.MethodPost, "/api/sessions/"+id+"/messages", map[string]any{"content": "I like Acme"})
	gt.Equal(t, code, http.StatusAccepted)

	var callID string
	deadline := time.Now().Add(2 * time.Second)
	for callID == "" && time.Now().Before(deadline) {
		_, body := do(t, app, http.MethodGet, "/api/sessions/"+id+"/tool-calls", nil)
		var calls []*model.ToolCall
		gt.NoError(t, json.Unmarshal(body, &calls))
		for _, c := range calls {
			if c.Confirmation != nil && c.Confirmation.State == model.ConfirmationAwaiting {
				callID = string(c.ID)
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	gt.NotEqual(t, callID, "")

	code, body := do(t, app, http.MethodGet, "/api/sessions/"+id+"/tool-calls/"+callID, nil)
	gt.Equal(t, code, http.StatusOK)
	gt.S(t, string(body)).Contains("Acme")

	path := "/api/sessions/" + id + "/confirmations/" + callID
	code, body = do(t, app, http.MethodPost, path, map[string]any{"confirmed": true, "remember": true})
	gt.Equal(t, code, http.StatusOK)
	gt.S(t, string(body)).Contains("resolved")

	code, _ = do(t, app, http.MethodPost, path, map[string]any{"confirmed": true})
	gt.Equal(t, code, http.StatusConflict)

	code, _ = do(t, app, http.MethodPost, "/api/sessions/"+id+"/confirmations/unknown", map[string]any{"confirmed": true})
	gt.Equal(t, code, http.StatusNotFound)
}

func TestInvokeUnknownTool(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	id := openSession(t, app, "")
	code, _ := do(t, app, http.MethodPost, "/api/sessions/"+id+"/invocations", map[string]any{"name": "book_flight"})
	gt.Equal(t, code, http.StatusBadRequest)
}

func TestDeleteSession(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	id := openSession(t, app, "")

	code, _ := do(t, app, http.MethodDelete, "/api/sessions/"+id, nil)
	gt.Equal(t, code, http.StatusNoContent)
	code, _ = do(t, app, http.MethodGet, "/api/sessions/"+id+"/state", nil)
	gt.Equal(t, code, http.StatusNotFound)
	code, _ = do(t, app, http.MethodDelete, "/api/sessions/"+id, nil)
	gt.Equal(t, code, http.StatusNotFound)
}

func TestEventStream(t *testing.T) {
	app := newServer(t, &mockGemini{}, repository.NewMemory())
	id := openSession(t, app, "")

	go func() {
		time.Sleep(100 * time.Millisecond)
		req := httptest.NewRequest(http.MethodPatch, "/api/sessions/"+id+"/state",
			bytes.NewReader([]byte(`{"search_query":"cto"}`)))
		req.Header.Set("Content-Type", "application/json")
		if resp, err := app.Test(req, 2000); err == nil {
			resp.Body.Close()
		}
		time.Sleep(100 * time.Millisecond)
		req = httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id, nil)
		if resp, err := app.Test(req, 2000); err == nil {
			resp.Body.Close()
		}
	}()

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id+"/events", nil)
	resp, err := app.Test(req, -1)
	gt.NoError(t, err)
	defer resp.Body.Close()
	gt.Equal(t, resp.Header.Get("Content-Type"), "text/event-stream")

	data, err := io.ReadAll(resp.Body)
	gt.NoError(t, err)
	body := string(data)
	gt.S(t, body).Contains("event: connected")
	gt.S(t, body).Contains("event: state")
	gt.S(t, body).Contains(`"search_query":"cto"`)
}
