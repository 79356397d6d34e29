package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	convmock "github.com/ckocel/voxtutor/internal/convstore/mock"
	"github.com/ckocel/voxtutor/internal/tools"
	"github.com/ckocel/voxtutor/pkg/provider/llm"
	llmmock "github.com/ckocel/voxtutor/pkg/provider/llm/mock"
	"github.com/ckocel/voxtutor/pkg/rag"
	ragmock "github.com/ckocel/voxtutor/pkg/rag/mock"
	"github.com/ckocel/voxtutor/pkg/types"
)

type recordedTool struct {
	mu     sync.Mutex
	name   string
	result string
	calls  []map[string]any
}

func (r *recordedTool) Name() string               { return r.name }
func (r *recordedTool) Description() string        { return "test tool" }
func (r *recordedTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (r *recordedTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, args)
	return r.result, nil
}

func (r *recordedTool) Calls() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.calls...)
}

// statusRecorder collects side-channel events across goroutines.
type statusRecorder struct {
	mu     sync.Mutex
	events []types.StatusEvent
}

func (s *statusRecorder) record(ev types.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *statusRecorder) snapshot() []types.StatusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.StatusEvent(nil), s.events...)
}

// runTurn drives one Turn and returns the fragments sent to the sink.
func runTurn(t *testing.T, e *Engine, history []types.Message) []string {
	t.Helper()
	sink := make(chan string, 64)
	if _, err := e.Turn(context.Background(), history, sink); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	close(sink)
	var got []string
	for f := range sink {
		got = append(got, f)
	}
	return got
}

func userTurn(text string) []types.Message {
	return []types.Message{
		{Role: "system", Content: "You are a tutor."},
		{Role: "user", Content: text},
	}
}

func TestTurnStreamsStrippedContent(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{
		{Text: "Photosynthesis is "},
		{Text: "**very** important"},
		{Text: ".", FinishReason: "stop"},
	}}}
	e, err := New(Config{LLM: p})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got := runTurn(t, e, userTurn("explain photosynthesis"))
	if joined := strings.Join(got, ""); joined != "Photosynthesis is very important." {
		t.Errorf("sink = %q", joined)
	}
	if calls := p.Calls(); len(calls) != 1 {
		t.Errorf("got %d model rounds, want 1", len(calls))
	}
}

func TestTurnFirstRoundRequest(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{{Text: "hi", FinishReason: "stop"}}}}
	reg := tools.NewRegistry(nil, nil)
	reg.Register(&recordedTool{name: "web_search"})

	e, _ := New(Config{LLM: p, Tools: reg, Temperature: 0.5})
	runTurn(t, e, userTurn("hello there"))

	req := p.Calls()[0].Req
	if req.MaxTokens != 1024 {
		t.Errorf("MaxTokens = %d, want 1024", req.MaxTokens)
	}
	if req.Temperature != 0.5 {
		t.Errorf("Temperature = %v, want 0.5", req.Temperature)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "web_search" {
		t.Errorf("Tools = %+v", req.Tools)
	}
	if req.ToolChoice != llm.ToolChoiceAuto {
		t.Errorf("ToolChoice = %q, want auto", req.ToolChoice)
	}
}

func TestTurnToolRound(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{
		// Round one: the model calls web_search, arguments split across chunks.
		{
			{ToolCallDeltas: []llm.ToolCallDelta{{Index: 0, ID: "call-1", Name: "web_search"}}},
			{ToolCallDeltas: []llm.ToolCallDelta{{Index: 0, Arguments: `{"query":`}}},
			{ToolCallDeltas: []llm.ToolCallDelta{{Index: 0, Arguments: `"go history"}`}}, FinishReason: "tool_calls"},
		},
		// Round two: plain text synthesis.
		{{Text: "Go was designed at Google.", FinishReason: "stop"}},
	}}
	tool := &recordedTool{name: "web_search", result: "Go appeared in 2009."}
	reg := tools.NewRegistry(nil, nil)
	reg.Register(tool)
	rec := &statusRecorder{}

	e, _ := New(Config{
		LLM:      p,
		Tools:    reg,
		UserID:   "u1",
		DocIDs:   []string{"d1"},
		OnStatus: rec.record,
	})
	got := runTurn(t, e, userTurn("tell me about go"))

	// The filler is spoken before the second round's text arrives.
	if len(got) < 2 || got[0] != "One second, let me search the web." {
		t.Fatalf("sink = %q, want filler first", got)
	}
	if got[len(got)-1] != "Go was designed at Google." {
		t.Errorf("final fragment = %q", got[len(got)-1])
	}

	calls := tool.Calls()
	if len(calls) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(calls))
	}
	if calls[0]["query"] != "go history" {
		t.Errorf("query arg = %v", calls[0]["query"])
	}
	if calls[0]["user_id"] != "u1" {
		t.Errorf("user_id not injected: %v", calls[0])
	}
	if ids, ok := calls[0]["doc_ids"].([]string); !ok || len(ids) != 1 || ids[0] != "d1" {
		t.Errorf("doc_ids not injected: %v", calls[0]["doc_ids"])
	}

	reqs := p.Calls()
	if len(reqs) != 2 {
		t.Fatalf("got %d model rounds, want 2", len(reqs))
	}
	second := reqs[1].Req
	if second.MaxTokens != 4096 {
		t.Errorf("follow-up MaxTokens = %d, want 4096", second.MaxTokens)
	}
	if len(second.Tools) != 0 {
		t.Errorf("follow-up round still offers tools: %+v", second.Tools)
	}

	// Follow-up context carries the assistant tool-call message and its result.
	msgs := second.Messages
	var assistant, result *types.Message
	for i := range msgs {
		switch {
		case msgs[i].Role == "assistant" && len(msgs[i].ToolCalls) > 0:
			assistant = &msgs[i]
		case msgs[i].Role == "tool":
			result = &msgs[i]
		}
	}
	if assistant == nil || assistant.ToolCalls[0].ID != "call-1" || assistant.ToolCalls[0].Name != "web_search" {
		t.Fatalf("assistant tool-call message missing or wrong: %+v", assistant)
	}
	if assistant.ToolCalls[0].Arguments != `{"query":"go history"}` {
		t.Errorf("accumulated arguments = %q", assistant.ToolCalls[0].Arguments)
	}
	if result == nil || result.ToolCallID != "call-1" || result.Content != "Go appeared in 2009." {
		t.Fatalf("tool result message missing or wrong: %+v", result)
	}

	events := rec.snapshot()
	var sawCalling, sawSearching, sawDone bool
	for _, ev := range events {
		switch {
		case ev.Text == "Calling tools...":
			sawCalling = true
		case ev.Text == "Searching the web...":
			sawSearching = true
		case ev.Kind == types.StatusDone:
			sawDone = true
		}
	}
	if !sawCalling || !sawSearching || !sawDone {
		t.Errorf("status events incomplete: %+v", events)
	}
	if events[len(events)-1].Kind != types.StatusDone {
		t.Errorf("last event = %+v, want done", events[len(events)-1])
	}
}

func TestTurnToolRoundsCapped(t *testing.T) {
	toolRound := func(id string) []llm.Chunk {
		return []llm.Chunk{{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: 0, ID: id, Name: "web_search", Arguments: `{"query":"q"}`},
		}, FinishReason: "tool_calls"}}
	}
	// The model insists on calling tools every round; the third script must
	// never be requested.
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{
		toolRound("call-1"),
		toolRound("call-2"),
		toolRound("call-3"),
	}}
	tool := &recordedTool{name: "web_search", result: "a result"}
	reg := tools.NewRegistry(nil, nil)
	reg.Register(tool)

	e, _ := New(Config{LLM: p, Tools: reg})
	runTurn(t, e, userTurn("search everything"))

	reqs := p.Calls()
	if len(reqs) != 2 {
		t.Fatalf("got %d model rounds, want 2", len(reqs))
	}
	if len(reqs[1].Req.Tools) != 0 {
		t.Errorf("follow-up round still offers tools: %+v", reqs[1].Req.Tools)
	}
	// The second round's calls are still executed, only a further round is
	// refused.
	if got := len(tool.Calls()); got != 2 {
		t.Errorf("tool executed %d times, want 2", got)
	}
}

func TestTurnSynthesisesMissingToolCallID(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{
		{{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: 0, Name: "web_search", Arguments: "{}"},
		}, FinishReason: "tool_calls"}},
		{{Text: "ok", FinishReason: "stop"}},
	}}
	reg := tools.NewRegistry(nil, nil)
	reg.Register(&recordedTool{name: "web_search", result: "r"})

	e, _ := New(Config{LLM: p, Tools: reg})
	runTurn(t, e, userTurn("search something"))

	msgs := p.Calls()[1].Req.Messages
	var assistant, result *types.Message
	for i := range msgs {
		switch {
		case msgs[i].Role == "assistant" && len(msgs[i].ToolCalls) > 0:
			assistant = &msgs[i]
		case msgs[i].Role == "tool":
			result = &msgs[i]
		}
	}
	if assistant == nil || assistant.ToolCalls[0].ID != "call_0" {
		t.Fatalf("assistant tool-call ID not filled in: %+v", assistant)
	}
	if result == nil || result.ToolCallID != "call_0" {
		t.Fatalf("tool result not paired with the filled-in ID: %+v", result)
	}
}

func TestTurnToolArgsParseFailure(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{
		{{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: 0, ID: "call-1", Name: "list_documents", Arguments: "{not json"},
		}, FinishReason: "tool_calls"}},
		{{Text: "done", FinishReason: "stop"}},
	}}
	tool := &recordedTool{name: "list_documents", result: "No documents uploaded yet."}
	reg := tools.NewRegistry(nil, nil)
	reg.Register(tool)

	e, _ := New(Config{LLM: p, Tools: reg, UserID: "u1"})
	runTurn(t, e, userTurn("what documents do I have"))

	calls := tool.Calls()
	if len(calls) != 1 {
		t.Fatalf("tool executed %d times, want 1", len(calls))
	}
	// Broken arguments degrade to just the injected context.
	if calls[0]["user_id"] != "u1" || len(calls[0]) != 1 {
		t.Errorf("args = %v, want only injected user_id", calls[0])
	}
}

func TestTurnEmptyToolResultStillAppended(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{
		{{ToolCallDeltas: []llm.ToolCallDelta{
			{Index: 0, ID: "call-1", Name: "web_search", Arguments: "{}"},
		}, FinishReason: "tool_calls"}},
		{{Text: "ok", FinishReason: "stop"}},
	}}
	reg := tools.NewRegistry(nil, nil)
	reg.Register(&recordedTool{name: "web_search", result: ""})

	e, _ := New(Config{LLM: p, Tools: reg})
	runTurn(t, e, userTurn("search something"))

	msgs := p.Calls()[1].Req.Messages
	found := false
	for _, m := range msgs {
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			found = true
			if m.Content != "" {
				t.Errorf("tool result = %q, want empty", m.Content)
			}
		}
	}
	if !found {
		t.Error("empty tool result was not appended to the context")
	}
}

func TestTurnInjectsDocumentContext(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{{Text: "answer", FinishReason: "stop"}}}}
	docs := &ragmock.Store{
		Has:     map[string]bool{"u1": true},
		Results: []rag.SearchResult{{Content: "Chlorophyll absorbs light."}},
	}

	e, _ := New(Config{LLM: p, Documents: docs, UserID: "u1", DocIDs: []string{"bio"}})
	runTurn(t, e, userTurn("explain photosynthesis please"))

	searches := docs.Searches()
	if len(searches) != 1 {
		t.Fatalf("got %d searches, want 1", len(searches))
	}
	if searches[0].Query != "explain photosynthesis please" || searches[0].K != 5 {
		t.Errorf("search call = %+v", searches[0])
	}
	if len(searches[0].DocIDs) != 1 || searches[0].DocIDs[0] != "bio" {
		t.Errorf("doc scope not forwarded: %+v", searches[0].DocIDs)
	}

	msgs := p.Calls()[0].Req.Messages
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	// Injected right after the persona system message.
	if msgs[1].Role != "system" || !strings.Contains(msgs[1].Content, "Chlorophyll absorbs light.") {
		t.Errorf("messages[1] = %+v", msgs[1])
	}
	if msgs[2].Role != "user" {
		t.Errorf("user message displaced: %+v", msgs[2])
	}
}

func TestTurnSkipsRetrievalForShortUtterance(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{{Text: "hello!", FinishReason: "stop"}}}}
	docs := &ragmock.Store{Has: map[string]bool{"u1": true}}

	e, _ := New(Config{LLM: p, Documents: docs, UserID: "u1"})
	runTurn(t, e, userTurn("hi"))

	if n := len(docs.Searches()); n != 0 {
		t.Errorf("got %d searches for a one-word utterance, want 0", n)
	}
}

func TestTurnSkipsRetrievalWithoutDocuments(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{{Text: "sure", FinishReason: "stop"}}}}
	docs := &ragmock.Store{Has: map[string]bool{}}

	e, _ := New(Config{LLM: p, Documents: docs, UserID: "u1"})
	runTurn(t, e, userTurn("explain photosynthesis please"))

	if n := len(docs.Searches()); n != 0 {
		t.Errorf("got %d searches with no documents, want 0", n)
	}
}

func TestTurnPersistsTranscript(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{
		{Text: "Go is a language."},
		{FinishReason: "stop"},
	}}}
	conv := &convmock.Store{}
	c, err := conv.CreateConversation(context.Background(), "u1", "room-1")
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	e, _ := New(Config{LLM: p, Conversations: conv, RoomName: "room-1"})
	runTurn(t, e, userTurn("tell me about go"))

	// Persistence is fire-and-forget; wait for both writes to land.
	deadline := time.After(2 * time.Second)
	for {
		msgs := conv.Messages(c.ID)
		if len(msgs) >= 2 {
			byType := map[string]string{}
			for _, m := range msgs {
				byType[string(m.Type)] = m.Content
			}
			if byType["transcript"] != "tell me about go" {
				t.Errorf("user message = %q", byType["transcript"])
			}
			if byType["ai_response"] != "Go is a language." {
				t.Errorf("assistant message = %q", byType["ai_response"])
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("only %d messages persisted", len(msgs))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewRequiresLLM(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New accepted a config without an LLM provider")
	}
}

func TestTurnReturnsFullResponse(t *testing.T) {
	p := &llmmock.Provider{Rounds: [][]llm.Chunk{{
		{Text: "**Bold** answer"},
		{FinishReason: "stop"},
	}}}
	e, _ := New(Config{LLM: p})

	sink := make(chan string, 64)
	got, err := e.Turn(context.Background(), userTurn("question?"), sink)
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	// The returned history text keeps its markdown; only the spoken stream is
	// stripped.
	if got != "**Bold** answer" {
		t.Errorf("returned text = %q", got)
	}
}
