// Package engine drives a single conversational turn: it streams the language
// model, pipes content into speech synthesis, executes tool calls, and keeps
// the durable transcript up to date.
//
// A turn runs at most two model rounds. The first round offers tools; when the
// model calls some, their results are fed back and a second round runs with
// tools withheld and a larger token budget so the model synthesises a spoken
// answer from the results. Content deltas are stripped of markdown before
// they reach the synthesis sink.
//
// The engine never fails a turn on a tool error: the tool registry converts
// failures into text the model can react to. Persistence is fire-and-forget;
// a slow or broken database must not add latency to a live voice exchange.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ckocel/voxtutor/internal/convstore"
	"github.com/ckocel/voxtutor/internal/observe"
	"github.com/ckocel/voxtutor/internal/tools"
	"github.com/ckocel/voxtutor/pkg/provider/llm"
	"github.com/ckocel/voxtutor/pkg/rag"
	"github.com/ckocel/voxtutor/pkg/types"
)

// maxToolRounds caps how many model rounds one turn may take. Round two runs
// without tools so the loop cannot recurse.
const maxToolRounds = 2

const (
	// firstRoundTokens is the completion budget for a normal voice response.
	firstRoundTokens = 1024

	// toolRoundTokens is the larger budget for the follow-up round, which has
	// to synthesise tool results into an answer.
	toolRoundTokens = 4096

	// ragContextK is how many document chunks are injected as turn context.
	ragContextK = 5

	// minRAGWords skips document retrieval for very short utterances like
	// greetings.
	minRAGWords = 2

	// persistTimeout bounds each fire-and-forget database write.
	persistTimeout = 5 * time.Second
)

// toolStatusMap maps a tool name to the progress indicator published on the
// side channel while the tool runs.
var toolStatusMap = map[string]string{
	"web_search":       "Searching the web...",
	"search_documents": "Searching documents...",
	"list_documents":   "Listing documents...",
	"news_search":      "Searching news...",
	"wikipedia_search": "Searching Wikipedia...",
	"generate_visual":  "Generating visual...",
}

// toolFillerMap maps a tool name to the phrase the agent speaks while the
// tool runs, so the user never sits through dead air.
var toolFillerMap = map[string]string{
	"web_search":       "One second, let me search the web.",
	"search_documents": "Let me check your documents.",
	"list_documents":   "Let me look at your documents.",
	"news_search":      "Let me check the news.",
	"wikipedia_search": "Let me check Wikipedia.",
	"generate_visual":  "I'm preparing a visual, watch the screen.",
}

// defaultFiller is spoken for tools without a dedicated filler phrase.
const defaultFiller = "One moment, let me check."

// StatusFunc receives side-channel events emitted while a turn is processed.
// Calls arrive from the turn's goroutine; implementations must not block.
type StatusFunc func(types.StatusEvent)

// Config assembles an Engine. LLM is required, everything else optional:
// a nil Tools registry disables function calling, a nil Documents store
// disables retrieval, a nil Conversations store disables persistence.
type Config struct {
	LLM           llm.Provider
	Tools         *tools.Registry
	Documents     rag.Store
	Conversations convstore.Store

	// UserID scopes document retrieval and is injected into tool calls.
	UserID string

	// DocIDs optionally restricts retrieval to specific documents.
	DocIDs []string

	// RoomName keys transcript persistence. Empty disables persistence.
	RoomName string

	// Temperature for model sampling. Zero means 0.7.
	Temperature float64

	// OnStatus receives side-channel events. Nil discards them.
	OnStatus StatusFunc

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Engine runs conversational turns for one session. Safe for sequential use;
// a session runs at most one turn at a time.
type Engine struct {
	llm     llm.Provider
	tools   *tools.Registry
	docs    rag.Store
	conv    convstore.Store
	userID  string
	docIDs  []string
	room    string
	temp    float64
	status  StatusFunc
	log     *slog.Logger
	metrics *observe.Metrics
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.LLM == nil {
		return nil, errors.New("engine: LLM provider is required")
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.OnStatus == nil {
		cfg.OnStatus = func(types.StatusEvent) {}
	}
	return &Engine{
		llm:     cfg.LLM,
		tools:   cfg.Tools,
		docs:    cfg.Documents,
		conv:    cfg.Conversations,
		userID:  cfg.UserID,
		docIDs:  cfg.DocIDs,
		room:    cfg.RoomName,
		temp:    cfg.Temperature,
		status:  cfg.OnStatus,
		log:     cfg.Logger.With("component", "engine"),
		metrics: cfg.Metrics,
	}, nil
}

// toolCallAcc accumulates one streamed tool call across chunks.
type toolCallAcc struct {
	id   string
	name string
	args strings.Builder
}

// Turn processes one conversational exchange. history is the ordered message
// context including the user's latest utterance; sink receives speakable text
// fragments in order. Turn sends on sink but never closes it; the caller owns
// the channel and closes it to end the synthesis stream.
//
// Turn returns the full assistant response (before markdown stripping) once
// the model has finished producing text for the exchange. Synthesis and
// playback may still be running.
func (e *Engine) Turn(ctx context.Context, history []types.Message, sink chan<- string) (string, error) {
	messages := make([]types.Message, len(history))
	copy(messages, history)

	userText := lastUserText(messages)
	if userText != "" {
		e.persist(convstore.MessageTranscript, userText)
	}

	e.status(types.StatusEvent{Kind: types.StatusText, Text: "Thinking..."})
	if len(strings.Fields(userText)) >= minRAGWords {
		messages = e.injectDocumentContext(ctx, messages, userText)
	}

	var toolDefs []types.ToolDefinition
	if e.tools != nil {
		toolDefs = e.tools.Definitions()
	}

	var full strings.Builder
	usedTools := false

	for round := 0; round < maxToolRounds; round++ {
		if usedTools {
			e.status(types.StatusEvent{Kind: types.StatusText, Text: "Analyzing results..."})
		}

		req := llm.ChatRequest{
			Messages:    messages,
			Tools:       toolDefs,
			MaxTokens:   firstRoundTokens,
			Temperature: e.temp,
		}
		if len(toolDefs) > 0 {
			req.ToolChoice = llm.ToolChoiceAuto
		}
		if usedTools {
			req.MaxTokens = toolRoundTokens
		}

		calls, err := e.streamRound(ctx, req, sink, &full)
		if err != nil {
			return full.String(), err
		}
		if len(calls) == 0 {
			break
		}

		usedTools = true
		messages = e.executeToolCalls(ctx, messages, calls)

		e.status(types.StatusEvent{Kind: types.StatusText, Text: "Preparing answer..."})
		// The follow-up round must produce text, not more tool calls.
		toolDefs = nil
	}

	if full.Len() > 0 {
		e.persist(convstore.MessageAIResponse, full.String())
	}
	e.status(types.StatusEvent{Kind: types.StatusDone})
	return full.String(), nil
}

// streamRound runs one model round, forwarding content to sink and
// accumulating tool-call fragments. It returns the completed tool calls in
// index order.
func (e *Engine) streamRound(ctx context.Context, req llm.ChatRequest, sink chan<- string, full *strings.Builder) ([]types.ToolCall, error) {
	roundStart := time.Now()
	ch, err := e.llm.StreamChat(ctx, req)
	if err != nil {
		e.metrics.RecordProviderError(ctx, "llm", "stream")
		e.metrics.RecordProviderRequest(ctx, "llm", "stream", "error")
		return nil, fmt.Errorf("engine: stream chat: %w", err)
	}

	acc := make(map[int]*toolCallAcc)
	fillerSent := false

	for chunk := range ch {
		if chunk.Text != "" {
			full.WriteString(chunk.Text)
			if clean := stripMarkdown(chunk.Text); clean != "" {
				if err := send(ctx, sink, clean); err != nil {
					return nil, err
				}
			}
		}

		for _, d := range chunk.ToolCallDeltas {
			tc, ok := acc[d.Index]
			if !ok {
				tc = &toolCallAcc{}
				acc[d.Index] = tc
			}
			if d.ID != "" {
				tc.id = d.ID
			}
			if d.Name != "" {
				tc.name = d.Name
				// Speak a filler the moment the first tool name is known so
				// the user hears something while the tool runs.
				if !fillerSent {
					filler, ok := toolFillerMap[d.Name]
					if !ok {
						filler = defaultFiller
					}
					if err := send(ctx, sink, filler); err != nil {
						return nil, err
					}
					e.status(types.StatusEvent{Kind: types.StatusText, Text: "Calling tools..."})
					fillerSent = true
				}
			}
			tc.args.WriteString(d.Arguments)
		}

		if chunk.FinishReason == "error" {
			e.metrics.RecordProviderError(ctx, "llm", "stream")
			e.log.Warn("model stream reported an error", "round_elapsed", time.Since(roundStart))
		}
	}
	e.metrics.LLMDuration.Record(ctx, time.Since(roundStart).Seconds())
	e.metrics.RecordProviderRequest(ctx, "llm", "stream", "ok")

	if len(acc) == 0 {
		return nil, ctx.Err()
	}

	indexes := make([]int, 0, len(acc))
	for idx := range acc {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	calls := make([]types.ToolCall, 0, len(acc))
	for _, idx := range indexes {
		tc := acc[idx]
		id := tc.id
		if id == "" {
			// Some providers omit stream call IDs; the tool result message
			// still needs one to pair with.
			id = fmt.Sprintf("call_%d", idx)
		}
		calls = append(calls, types.ToolCall{ID: id, Name: tc.name, Arguments: tc.args.String()})
	}
	return calls, ctx.Err()
}

// executeToolCalls appends the assistant's tool-call message, runs every call
// and appends one tool message per call. An empty result is still appended so
// the model context stays well-formed.
func (e *Engine) executeToolCalls(ctx context.Context, messages []types.Message, calls []types.ToolCall) []types.Message {
	e.log.Info("executing tool calls", "count", len(calls))
	messages = append(messages, types.Message{Role: "assistant", ToolCalls: calls})

	for _, call := range calls {
		args := map[string]any{}
		if call.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
				e.log.Warn("tool arguments unparseable, running with empty args",
					"tool", call.Name, "error", err)
				args = map[string]any{}
			}
		}
		if e.userID != "" {
			args["user_id"] = e.userID
		}
		if len(e.docIDs) > 0 {
			args["doc_ids"] = e.docIDs
		}

		e.status(statusForTool(call.Name))

		var result string
		if e.tools != nil {
			result = e.tools.Execute(ctx, call.Name, args)
		} else {
			result = fmt.Sprintf("Tool %q not found", call.Name)
		}
		e.log.Info("tool executed",
			"tool", call.Name, "result_len", len(result), "result_preview", preview(result, 300))

		messages = append(messages, types.Message{
			Role:       "tool",
			ToolCallID: call.ID,
			Content:    result,
		})
	}
	return messages
}

// injectDocumentContext searches the user's documents with the utterance as
// query and inserts one system message carrying the hits. Retrieval failures
// never fail the turn; the store is fail-open on reads.
func (e *Engine) injectDocumentContext(ctx context.Context, messages []types.Message, query string) []types.Message {
	if e.docs == nil || e.userID == "" {
		return messages
	}
	if !e.docs.HasDocuments(ctx, e.userID) {
		return messages
	}

	e.status(types.StatusEvent{Kind: types.StatusText, Text: "Searching documents..."})
	results := e.docs.Search(ctx, e.userID, query, ragContextK, e.docIDs)
	if len(results) == 0 {
		return messages
	}

	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Content
	}
	ragMsg := types.Message{
		Role: "system",
		Content: "Relevant sections from the user's uploaded documents:\n\n" +
			strings.Join(parts, "\n---\n") +
			"\n\nUse this information to answer the question. If the answer is not in the documents, say so.",
	}

	// Right after the persona system message, or first when there is none.
	for i, msg := range messages {
		if msg.Role == "system" {
			out := make([]types.Message, 0, len(messages)+1)
			out = append(out, messages[:i+1]...)
			out = append(out, ragMsg)
			out = append(out, messages[i+1:]...)
			return out
		}
	}
	return append([]types.Message{ragMsg}, messages...)
}

// persist writes one transcript message in the background. Failures are
// logged and dropped.
func (e *Engine) persist(typ convstore.MessageType, content string) {
	content = strings.TrimSpace(content)
	if e.conv == nil || e.room == "" || content == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		conv, err := e.conv.GetByRoom(ctx, e.room)
		if err != nil {
			e.log.Warn("transcript lookup failed", "room", e.room, "error", err)
			return
		}
		if conv == nil {
			return
		}

		msg := convstore.Message{
			ConversationID:      conv.ID,
			ParticipantIdentity: "user",
			ParticipantName:     "User",
			Type:                typ,
			Content:             content,
		}
		if typ == convstore.MessageAIResponse {
			msg.ParticipantIdentity = "agent"
			msg.ParticipantName = "AI Assistant"
		}
		if err := e.conv.CreateMessage(ctx, msg); err != nil {
			e.log.Warn("transcript write failed", "room", e.room, "error", err)
		}
	}()
}

// statusForTool builds the side-channel event announcing a tool execution.
func statusForTool(name string) types.StatusEvent {
	if name == "generate_visual" {
		return types.StatusEvent{Kind: types.StatusVisualLoading, Text: toolStatusMap[name]}
	}
	if text, ok := toolStatusMap[name]; ok {
		return types.StatusEvent{Kind: types.StatusText, Text: text}
	}
	return types.StatusEvent{Kind: types.StatusText, Text: fmt.Sprintf("Running %s...", name)}
}

// lastUserText returns the content of the most recent user message.
func lastUserText(messages []types.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

// send forwards one fragment to the synthesis sink, honouring cancellation.
func send(ctx context.Context, sink chan<- string, fragment string) error {
	select {
	case sink <- fragment:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
