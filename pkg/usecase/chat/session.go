package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fractionalquest/copilot/pkg/adapter"
	"github.com/fractionalquest/copilot/pkg/agent"
	"github.com/fractionalquest/copilot/pkg/dispatch"
	"github.com/fractionalquest/copilot/pkg/graph"
	"github.com/fractionalquest/copilot/pkg/hitl"
	"github.com/fractionalquest/copilot/pkg/interfaces"
	"github.com/fractionalquest/copilot/pkg/model"
	"github.com/fractionalquest/copilot/pkg/service/sidechannel"
	"github.com/fractionalquest/copilot/pkg/service/state"
	"github.com/fractionalquest/copilot/pkg/tool"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrSessionClosed = goerr.New("chat session closed")
	ErrBusy          = goerr.New("agent is still working on the previous message")
	ErrEmptyMessage  = goerr.New("message is empty")
	ErrPageRequired  = goerr.New("page is required")
	ErrNotRetryable  = goerr.New("tool call cannot be retried")
)

// DefaultMemoryWriteTimeout bounds the awaited memory write of a confirmation
const DefaultMemoryWriteTimeout = 5 * time.Second

const failedTurnMessage = "Sorry, something went wrong on my side. Please try again."

// Session is one mounted assistant: the page side of the shared state, the tool call
// history with its rendered views, the confirmation queue and the best-effort memory
// writes. It implements agent.Host for the runtime it drives.
type Session struct {
	id        model.SessionID
	page      *model.Page
	user      *model.User
	createdAt time.Time

	runtime   *agent.Runtime
	renderers *dispatch.Registry
	tracker   *dispatch.Tracker
	queue     *hitl.Queue
	channel   *state.Channel
	replica   *state.Replica

	memory        interfaces.MemoryStore
	archive       interfaces.TranscriptArchive
	side          *sidechannel.Runner
	ownsSide      bool
	memoryTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	busy   atomic.Bool
	wg     sync.WaitGroup

	confirmMu sync.Mutex

	mu         sync.Mutex
	closed     bool
	graph      *model.InterestGraph
	transcript []*model.TranscriptEntry
	subs       map[int]chan Event
	nextSub    int
}

// NewInput contains parameters for mounting a chat session
type NewInput struct {
	Page   *model.Page
	User   *model.User // nil for anonymous visitors
	Gemini adapter.Gemini
	Tools  *tool.Registry

	// Optional collaborators
	Renderers   *dispatch.Registry
	Memory      interfaces.MemoryStore
	Graphs      *graph.Loader
	SideChannel *sidechannel.Runner
	Archive     interfaces.TranscriptArchive

	StateDebounce      time.Duration
	MemoryWriteTimeout time.Duration
	MaxIterations      int
}

// New mounts a session: it syncs page_context once and starts loading the interest graph
func New(ctx context.Context, input NewInput) (*Session, error) {
	if input.Page == nil {
		return nil, goerr.Wrap(ErrPageRequired, "cannot mount session")
	}
	if input.Gemini == nil {
		return nil, goerr.New("gemini client is required")
	}

	id := model.NewSessionID()
	sessionCtx, cancel := context.WithCancel(logging.WithAttrs(context.WithoutCancel(ctx),
		"session_id", id, "page", input.Page.Slug))

	s := &Session{
		id:            id,
		page:          input.Page,
		user:          input.User,
		createdAt:     time.Now(),
		runtime:       agent.New(input.Gemini, input.Tools, agent.WithMaxIterations(input.MaxIterations)),
		renderers:     input.Renderers,
		tracker:       dispatch.NewTracker(),
		memory:        input.Memory,
		archive:       input.Archive,
		side:          input.SideChannel,
		memoryTimeout: input.MemoryWriteTimeout,
		ctx:           sessionCtx,
		cancel:        cancel,
		subs:          make(map[int]chan Event),
	}
	if s.renderers == nil {
		s.renderers = dispatch.DefaultRegistry()
	}
	if s.side == nil {
		s.side = sidechannel.New(sidechannel.WithWorkers(1))
		s.ownsSide = true
	}
	if s.memoryTimeout <= 0 {
		s.memoryTimeout = DefaultMemoryWriteTimeout
	}

	s.queue = hitl.NewQueue(hitl.WithObserver(s.onConfirmation))

	name := "copilot/" + string(id)
	s.replica = state.NewReplica(name)
	opts := []state.Option{state.WithContext(sessionCtx)}
	if input.StateDebounce > 0 {
		opts = append(opts, state.WithDebounce(input.StateDebounce))
	}
	s.channel = state.New(name, model.AgentState{}, s.replica, opts...)
	s.replica.Attach(s.channel)

	updates, _ := s.channel.Subscribe()
	go s.forwardState(updates)

	s.channel.SyncPageContext(input.Page.Context(), input.User)

	loader := input.Graphs
	if loader == nil {
		loader = graph.NewLoader(input.Memory)
	}
	if input.User == nil {
		s.graph = graph.Build(nil)
	} else {
		go s.loadGraph(loader, input.User.ID)
	}

	logging.From(sessionCtx).Info("chat session mounted", "user_id", s.UserID())
	return s, nil
}

func (s *Session) ID() model.SessionID { return s.id }

func (s *Session) Page() *model.Page { return s.page }

// UserID returns the signed-in user's id, empty for anonymous visitors
func (s *Session) UserID() string {
	if s.user == nil {
		return ""
	}
	return s.user.ID
}

// Busy reports whether the agent is working on a message
func (s *Session) Busy() bool {
	return s.busy.Load()
}

// loadGraph is not cancelled by unmount; its result is dropped if the session closed
func (s *Session) loadGraph(loader *graph.Loader, userID string) {
	g := loader.Load(context.WithoutCancel(s.ctx), userID)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.graph = g
	s.mu.Unlock()

	s.emit(Event{Type: EventGraph, Graph: g})
}

// Graph returns the latest interest graph, nil while it is still loading
func (s *Session) Graph() *model.InterestGraph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph
}

func (s *Session) forwardState(updates <-chan model.AgentState) {
	for v := range updates {
		s.emit(Event{Type: EventState, State: v})
	}
}

// State returns the page's view of the shared state
func (s *Session) State() model.AgentState {
	return s.channel.State()
}

// SetState merges a page write into the shared state. page_context is written only on
// mount and is ignored here.
func (s *Session) SetState(patch model.AgentState) (model.AgentState, error) {
	if s.isClosed() {
		return nil, goerr.Wrap(ErrSessionClosed, "cannot set state", goerr.V("session_id", s.id))
	}
	s.channel.Patch(patch.WithoutHostOwned())
	return s.channel.State(), nil
}

// Send posts a user message. The agent runs in the background; its output arrives as
// events. Only one message is processed at a time.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return goerr.Wrap(ErrEmptyMessage, "cannot send")
	}
	if s.isClosed() {
		return goerr.Wrap(ErrSessionClosed, "cannot send", goerr.V("session_id", s.id))
	}
	if !s.busy.CompareAndSwap(false, true) {
		return goerr.Wrap(ErrBusy, "cannot send", goerr.V("session_id", s.id))
	}

	s.addMessage(ctx, model.MemoryRoleUser, text)

	s.start(func(ctx context.Context, turn agent.Turn) error {
		turn.Message = text
		return s.runtime.Run(ctx, turn, s)
	})
	return nil
}

// Invoke runs a capability the user triggered from a rendered view
func (s *Session) Invoke(ctx context.Context, kind model.ToolKind, args map[string]any) error {
	if _, err := model.DecodeToolArgs(kind, args); err != nil {
		return err
	}
	if s.isClosed() {
		return goerr.Wrap(ErrSessionClosed, "cannot invoke", goerr.V("session_id", s.id))
	}
	if !s.busy.CompareAndSwap(false, true) {
		return goerr.Wrap(ErrBusy, "cannot invoke", goerr.V("session_id", s.id))
	}

	s.start(func(ctx context.Context, turn agent.Turn) error {
		return s.runtime.Invoke(ctx, turn, s, kind, args)
	})
	return nil
}

// Retry invokes a failed tool call again with the same arguments. The retry gets its
// own call id.
func (s *Session) Retry(ctx context.Context, id model.ToolCallID) error {
	call, ok := s.tracker.Get(id)
	if !ok {
		return goerr.Wrap(dispatch.ErrToolCallNotFound, "cannot retry", goerr.V("id", id))
	}
	if call.Status != model.ToolStatusError {
		return goerr.Wrap(ErrNotRetryable, "only failed calls can be retried", goerr.V("id", id), goerr.V("status", call.Status))
	}
	return s.Invoke(ctx, call.Kind, call.RawArgs)
}

// start runs fn in the background with the session context. busy must already be set.
func (s *Session) start(fn func(ctx context.Context, turn agent.Turn) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)

		ctx := s.ctx
		if err := s.channel.Flush(ctx); err != nil {
			logging.From(ctx).Warn("failed to sync shared state before agent turn", "error", err)
		}
		turn := agent.Turn{
			UserID: s.UserID(),
			State:  s.replica.Snapshot().Values,
			Writer: s.replica,
			Tools:  s.page.Tools,
		}

		if err := fn(ctx, turn); err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.From(ctx).Error("agent turn failed", "error", err)
			s.addMessage(ctx, model.MemoryRoleAssistant, failedTurnMessage)
		}
	}()
}

func (s *Session) addMessage(ctx context.Context, role model.MemoryRole, text string) {
	now := time.Now()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.transcript = append(s.transcript, &model.TranscriptEntry{Role: role, Content: text, At: now})
	s.mu.Unlock()

	s.emit(Event{Type: EventMessage, Message: &Message{Role: role, Content: text, At: now}})
	if text != failedTurnMessage {
		s.recordTurn(ctx, &model.MemoryTurn{
			UserID:  s.UserID(),
			Role:    role,
			Content: text,
			Metadata: map[string]any{
				model.MemoryMetaSource: "chat",
				model.MemoryMetaPage:   s.page.Slug,
			},
			CreatedAt: now,
		})
	}
}

// recordTurn hands a qualifying turn to the side channel. Failures never surface.
func (s *Session) recordTurn(ctx context.Context, turn *model.MemoryTurn) {
	if s.memory == nil || !turn.ShouldStore() {
		return
	}
	s.side.Go(ctx, "store_turn", func(ctx context.Context) error {
		return s.memory.StoreTurn(ctx, turn)
	})
}

// ToolCallStarted implements agent.Host
func (s *Session) ToolCallStarted(ctx context.Context, kind model.ToolKind, args map[string]any) (*model.ToolCall, error) {
	if s.isClosed() {
		return nil, goerr.Wrap(ErrSessionClosed, "tool call rejected", goerr.V("tool", kind))
	}

	call, err := s.tracker.Start(kind, args)
	if err != nil {
		s.emitToolCall(EventToolCall, call)
		return nil, err
	}

	if kind == model.ToolConfirmJobInterest {
		if _, err := s.queue.Enqueue(call.ID, args); err != nil {
			if _, cErr := s.tracker.SetConfirmation(call.ID, model.ConfirmationInvalid, nil); cErr != nil {
				logging.From(ctx).Warn("failed to mark confirmation invalid", "error", cErr)
			}
			if failed, aErr := s.tracker.Advance(call.ID, model.ToolStatusError, nil, err.Error()); aErr == nil {
				s.emitToolCall(EventToolCall, failed)
			}
			return nil, err
		}
		if latest, ok := s.tracker.Get(call.ID); ok {
			call = latest
		}
	}

	s.emitToolCall(EventToolCall, call)
	return call, nil
}

// ToolCallUpdated implements agent.Host
func (s *Session) ToolCallUpdated(ctx context.Context, id model.ToolCallID, status model.ToolStatus, result map[string]any, errMsg string) error {
	call, err := s.tracker.Advance(id, status, result, errMsg)
	if err != nil {
		return err
	}
	if status.IsTerminal() {
		s.mu.Lock()
		if !s.closed {
			s.transcript = append(s.transcript, &model.TranscriptEntry{ToolCall: call, At: call.UpdatedAt})
		}
		s.mu.Unlock()
	}
	s.emitToolCall(EventToolCall, call)
	return nil
}

// AwaitConfirmation implements agent.Host
func (s *Session) AwaitConfirmation(ctx context.Context, id model.ToolCallID) (model.ConfirmationResponse, error) {
	req, ok := s.queue.Get(id)
	if !ok {
		return model.ConfirmationResponse{}, goerr.Wrap(hitl.ErrRequestNotFound, "cannot await", goerr.V("id", id))
	}
	return req.Wait(ctx)
}

// AssistantMessage implements agent.Host
func (s *Session) AssistantMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.addMessage(ctx, model.MemoryRoleAssistant, text)
}

func (s *Session) onConfirmation(req *hitl.Request) {
	call, err := s.tracker.SetConfirmation(req.ID(), req.State(), req.Response())
	if err != nil {
		logging.From(s.ctx).Warn("failed to update confirmation", "id", req.ID(), "error", err)
		return
	}
	s.emitToolCall(EventConfirmation, call)
}

// ConfirmInput is the user's answer to a confirmation prompt
type ConfirmInput struct {
	Confirmed bool
	RoleType  string
	Location  string

	// Remember writes the interest to the memory store before the agent resumes
	Remember bool
}

// Confirm resolves the confirmation of call id. When asked to remember, the memory
// write is awaited but its failure is ignored: the agent always resumes.
func (s *Session) Confirm(ctx context.Context, id model.ToolCallID, in ConfirmInput) error {
	s.confirmMu.Lock()
	defer s.confirmMu.Unlock()

	if s.isClosed() {
		return goerr.Wrap(ErrSessionClosed, "cannot confirm", goerr.V("id", id))
	}
	req, ok := s.queue.Get(id)
	if !ok {
		return goerr.Wrap(hitl.ErrRequestNotFound, "cannot confirm", goerr.V("id", id))
	}
	switch req.State() {
	case model.ConfirmationAwaiting:
	case model.ConfirmationResolved:
		return goerr.Wrap(hitl.ErrAlreadyResolved, "cannot confirm", goerr.V("id", id))
	case model.ConfirmationInvalid:
		return goerr.Wrap(hitl.ErrInvalidArguments, "cannot confirm", goerr.V("id", id))
	default:
		return goerr.Wrap(hitl.ErrNotAwaiting, "cannot confirm", goerr.V("id", id))
	}

	resp := hitl.DeclineResponse()
	if in.Confirmed {
		resp = hitl.ConfirmResponse(req.Args(), in.RoleType, in.Location)
		if in.Remember {
			s.rememberInterest(ctx, req.Args(), resp)
		}
	}

	// the session may have been unmounted during the memory write
	if s.isClosed() {
		return goerr.Wrap(ErrSessionClosed, "cannot confirm", goerr.V("id", id))
	}
	return s.queue.Respond(id, resp)
}

// Decline resolves the confirmation of call id negatively
func (s *Session) Decline(ctx context.Context, id model.ToolCallID) error {
	return s.Confirm(ctx, id, ConfirmInput{Confirmed: false})
}

func (s *Session) rememberInterest(ctx context.Context, args model.ConfirmJobInterestArgs, resp model.ConfirmationResponse) {
	turn := &model.MemoryTurn{
		UserID:  s.UserID(),
		Role:    model.MemoryRoleUser,
		Content: "Interested in " + resp.RoleType + " roles in " + resp.Location,
		Metadata: map[string]any{
			model.MemoryMetaSource:   "confirmation",
			model.MemoryMetaPage:     s.page.Slug,
			model.MemoryMetaCategory: "job_interest",
			model.MemoryMetaRoleType: resp.RoleType,
			model.MemoryMetaLocation: resp.Location,
			"company":                args.Company,
		},
		CreatedAt: time.Now(),
	}
	if s.memory == nil || !turn.ShouldStore() {
		return
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.memoryTimeout)
	defer cancel()
	if err := s.memory.StoreTurn(writeCtx, turn); err != nil {
		logging.From(ctx).Warn("failed to remember interest, resuming agent anyway", "error", err)
	}
}

// ToolCalls returns the tool call history in start order
func (s *Session) ToolCalls() []*model.ToolCall {
	return s.tracker.List()
}

// RenderToolCall returns the current HTML view of call id
func (s *Session) RenderToolCall(id model.ToolCallID) (string, error) {
	call, ok := s.tracker.Get(id)
	if !ok {
		return "", goerr.Wrap(dispatch.ErrToolCallNotFound, "cannot render", goerr.V("id", id))
	}
	return s.renderers.RenderHTML(call), nil
}

// Transcript returns the session record exported on unmount
func (s *Session) Transcript() *model.Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*model.TranscriptEntry, len(s.transcript))
	copy(entries, s.transcript)
	return &model.Transcript{
		SessionID: s.id,
		UserID:    s.UserID(),
		Page:      s.page.Slug,
		CreatedAt: s.createdAt,
		ClosedAt:  time.Now(),
		Entries:   entries,
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close unmounts the session. The running agent turn is cancelled, pending
// confirmations are abandoned and no event is emitted afterwards. In-flight memory
// writes are not aborted.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.mu.Unlock()

	s.cancel()
	s.queue.Close()
	s.channel.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logging.From(ctx).Warn("agent did not stop before unmount deadline", "session_id", s.id)
	}

	if s.archive != nil {
		transcript := s.Transcript()
		s.side.Go(ctx, "archive_transcript", func(ctx context.Context) error {
			return s.archive.PutTranscript(ctx, transcript)
		})
	}

	if s.ownsSide {
		if err := s.side.Close(ctx); err != nil {
			return goerr.Wrap(err, "failed to drain side channel", goerr.V("session_id", s.id))
		}
	}

	logging.From(ctx).Info("chat session unmounted", "session_id", s.id)
	return nil
}
