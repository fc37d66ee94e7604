// Package chat turns streamed assistant tokens and tool events into durable
// chat messages.
package chat

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/conthunt/streamcore/internal/model"
	"github.com/conthunt/streamcore/pkg/metrics"
)

// Phase is the reducer state.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseStreaming
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Reducer accumulates one assistant turn at a time. Partial content lives in
// the streaming state and reaches the message list only on finalize.
type Reducer struct {
	mu       sync.Mutex
	messages []model.ChatMessage
	ids      map[string]struct{}
	phase    Phase
	state    *model.StreamingState
	now      func() time.Time
}

// NewReducer creates an idle reducer.
func NewReducer() *Reducer {
	return &Reducer{
		ids: make(map[string]struct{}),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Load seeds the message list, e.g. with history fetched from the backend.
func (r *Reducer) Load(messages []model.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range messages {
		r.appendLocked(m)
	}
}

// AppendUser appends a user message and returns it.
func (r *Reducer) AppendUser(content string) model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := model.ChatMessage{
		ID:        uuid.NewString(),
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: r.now(),
	}
	r.appendLocked(msg)
	return msg
}

// Begin starts streaming a turn. An empty id gets a generated one.
func (r *Reducer) Begin(messageID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase == PhaseStreaming {
		return "", model.ErrTurnInFlight
	}
	if messageID == "" {
		messageID = uuid.NewString()
	}
	r.state = &model.StreamingState{MessageID: messageID}
	r.phase = PhaseStreaming
	return messageID, nil
}

// ApplyDelta appends text to the streaming message. It is ignored unless a
// turn is streaming.
func (r *Reducer) ApplyDelta(content string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseStreaming {
		return false
	}
	r.state.Content += content
	return true
}

// ApplyToolCall records a tool event. Calls are matched by id, or by name when
// the event has no id; a new call is appended in first-observed order.
// It reports whether the call gained its result with this event.
func (r *Reducer) ApplyToolCall(call model.StreamingToolCall) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseStreaming {
		return false
	}

	for i := range r.state.ToolCalls {
		existing := &r.state.ToolCalls[i]
		if !sameCall(*existing, call) {
			continue
		}
		if existing.ID == "" {
			existing.ID = call.ID
		}
		if call.Name != "" {
			existing.Name = call.Name
		}
		if len(call.Args) > 0 {
			existing.Args = call.Args
		}
		if call.HasResult && !existing.HasResult {
			existing.HasResult = true
			existing.Result = call.Result
			return true
		}
		return false
	}

	r.state.ToolCalls = append(r.state.ToolCalls, call)
	return call.HasResult
}

func sameCall(a, b model.StreamingToolCall) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	return a.Name != "" && a.Name == b.Name
}

// Done finalizes the turn. A non-empty messageID from the backend replaces
// the id given to Begin. It returns the appended messages.
func (r *Reducer) Done(messageID string) []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseStreaming {
		return nil
	}
	if messageID != "" {
		r.state.MessageID = messageID
	}
	return r.finalizeLocked("done", false)
}

// Abort stops the turn. Accumulated text is kept as a truncated message;
// a turn without text appends nothing.
func (r *Reducer) Abort() []model.ChatMessage {
	return r.interrupt("abort")
}

// Fail stops the turn after a stream failure, keeping partial text like Abort.
func (r *Reducer) Fail() []model.ChatMessage {
	return r.interrupt("error")
}

func (r *Reducer) interrupt(trigger string) []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != PhaseStreaming {
		return nil
	}
	if r.state.Content == "" {
		r.state = nil
		r.phase = PhaseFinalized
		return nil
	}
	return r.finalizeLocked(trigger, true)
}

func (r *Reducer) finalizeLocked(trigger string, truncated bool) []model.ChatMessage {
	state := r.state
	r.state = nil
	r.phase = PhaseFinalized

	if state.Content == "" && len(state.ToolCalls) == 0 {
		return nil
	}
	if _, exists := r.ids[state.MessageID]; exists {
		return nil
	}

	now := r.now()
	assistant := model.ChatMessage{
		ID:        state.MessageID,
		Role:      model.RoleAssistant,
		Content:   state.Content,
		Truncated: truncated,
		CreatedAt: now,
	}
	for _, call := range state.ToolCalls {
		assistant.ToolCalls = append(assistant.ToolCalls, model.ToolCall{
			ID:   call.ID,
			Name: call.Name,
			Args: call.Args,
		})
	}

	appended := []model.ChatMessage{assistant}
	for i, call := range state.ToolCalls {
		if !call.HasResult {
			continue
		}
		appended = append(appended, model.ChatMessage{
			ID:         fmt.Sprintf("%s-tool-%d", state.MessageID, i),
			Role:       model.RoleTool,
			Content:    call.ResultText(),
			ToolCallID: call.ID,
			Name:       call.Name,
			CreatedAt:  now,
		})
	}

	for _, m := range appended {
		r.appendLocked(m)
		metrics.MessagesFinalizedTotal.WithLabelValues(string(m.Role), trigger).Inc()
	}
	return appended
}

func (r *Reducer) appendLocked(m model.ChatMessage) {
	if _, exists := r.ids[m.ID]; exists {
		return
	}
	r.ids[m.ID] = struct{}{}
	r.messages = append(r.messages, m)
}

// Messages returns a copy of the durable message list.
func (r *Reducer) Messages() []model.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ChatMessage(nil), r.messages...)
}

// Streaming returns a copy of the in-flight turn, if any.
func (r *Reducer) Streaming() (model.StreamingState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == nil {
		return model.StreamingState{}, false
	}
	out := *r.state
	out.ToolCalls = append([]model.StreamingToolCall(nil), r.state.ToolCalls...)
	return out, true
}

// Phase returns the current phase.
func (r *Reducer) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Reset drops every message and any in-flight turn.
func (r *Reducer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.ids = make(map[string]struct{})
	r.state = nil
	r.phase = PhaseIdle
}
