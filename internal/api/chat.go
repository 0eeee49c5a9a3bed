package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/llm"
	"github.com/mingmingshen/neomind/internal/prompts"
	"github.com/mingmingshen/neomind/internal/stream"
	"github.com/mingmingshen/neomind/internal/tokens"
	"github.com/mingmingshen/neomind/internal/usage"
)

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	// ConversationID continues an existing conversation; empty starts
	// a new one.
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	// Model overrides the router's selection when set.
	Model string `json:"model,omitempty"`
}

// chatMeta is the first NDJSON line of the response, before the
// stream events.
type chatMeta struct {
	ConversationID string `json:"conversation_id"`
	RequestID      string `json:"request_id"`
	Model          string `json:"model"`
}

// handleChat runs one turn and streams its events as NDJSON: one
// chatMeta line, then one StreamEvent per line ending with a terminal
// error or end event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", s.logger)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required", s.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", s.logger)
		return
	}

	ctx := r.Context()

	convID := req.ConversationID
	var history []llm.Message
	if s.cfg.Memory != nil {
		if convID == "" {
			id, err := s.cfg.Memory.CreateConversation(conversationTitle(req.Message))
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
				return
			}
			convID = id
		} else if err := s.cfg.Memory.EnsureConversation(convID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
			return
		}

		// One turn at a time per conversation, held from history load
		// through persistence so concurrent turns cannot interleave.
		mu := s.lockConversation(convID)
		mu.Lock()
		defer mu.Unlock()

		h, err := s.cfg.Memory.Messages(convID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), s.logger)
			return
		}
		history = h
	}

	model, guards, decision := s.cfg.Router.Route(ctx, req.Message)
	if req.Model != "" {
		model = req.Model
	}

	if s.cfg.Memory != nil {
		if err := s.cfg.Memory.AddMessage(convID, llm.User(req.Message)); err != nil {
			s.logger.Warn("failed to persist user message",
				"conversation_id", convID, "error", err)
		}
	}

	history = append(history, llm.User(req.Message))
	if !hasSystemMessage(history) {
		history = append([]llm.Message{llm.System(s.systemPrompt())}, history...)
	}
	assembled := s.cfg.Assembler.Assemble(model, history, s.cfg.ContextWindow)
	inputTokens := tokens.EstimateMessages(model, assembled)

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	enc.Encode(chatMeta{ConversationID: convID, RequestID: decision.RequestID, Model: model})
	flusher.Flush()

	sink := func(ev events.StreamEvent) {
		if err := enc.Encode(ev); err != nil {
			s.logger.Debug("failed to write stream event", "error", err)
			return
		}
		flusher.Flush()
	}

	result, runErr := s.cfg.Engine.Run(ctx, stream.Request{
		ConversationID: convID,
		Model:          model,
		Messages:       assembled,
		Safeguards:     guards,
		MaxChainDepth:  s.cfg.MaxChainDepth,
	}, sink)
	if runErr != nil {
		// The engine already emitted the terminal error event; the
		// stream is committed, so just log.
		s.logger.Warn("turn failed",
			"request_id", decision.RequestID, "error", runErr)
	}

	s.persistTurn(convID, decision.RequestID, model, len(assembled), inputTokens, result)
}

func hasSystemMessage(msgs []llm.Message) bool {
	for _, m := range msgs {
		if m.Role == "system" {
			return true
		}
	}
	return false
}

func (s *Server) systemPrompt() string {
	if s.cfg.DeviceSummary != nil {
		return prompts.SystemPromptWithDevices(s.cfg.DeviceSummary())
	}
	return prompts.BaseSystemPrompt()
}

// conversationTitle derives a title from the first message, cut on a
// rune boundary so multibyte text never splits mid-character.
func conversationTitle(message string) string {
	title := strings.TrimSpace(message)
	const maxTitle = 60
	if len(title) <= maxTitle {
		return title
	}
	cut := maxTitle
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}

// persistTurn saves the turn's new messages and records usage.
func (s *Server) persistTurn(convID, requestID, model string, priorLen, inputTokens int, result *stream.TurnResult) {
	if result == nil {
		return
	}

	if s.cfg.Memory != nil && len(result.History) > priorLen {
		if err := s.cfg.Memory.AddMessages(convID, result.History[priorLen:]); err != nil {
			s.logger.Warn("failed to persist turn", "conversation_id", convID, "error", err)
		}
	}

	if s.cfg.Usage != nil {
		rec := usage.Record{
			Timestamp:      time.Now().UTC(),
			RequestID:      requestID,
			ConversationID: convID,
			Model:          model,
			InputTokens:    inputTokens,
			OutputTokens:   tokens.EstimateForModel(model, result.Answer),
			DurationMS:     result.Duration.Milliseconds(),
			ToolRounds:     result.ToolRounds,
		}
		if err := s.cfg.Usage.Record(context.Background(), rec); err != nil {
			s.logger.Warn("failed to record usage", "request_id", requestID, "error", err)
		}
	}
}
