package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/ducktodo/internal/llm"
	"github.com/ent0n29/ducktodo/internal/protocol"
	"github.com/ent0n29/ducktodo/internal/settings"
)

// handleChatWS streams chat completions for one stored chat config. Each
// chat_request is answered by chat_delta events and a chat_done, or an
// error_event. Requests on one connection are served in order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.userID(w, r)
	if !ok {
		return
	}
	configID := strings.TrimSpace(r.URL.Query().Get("llm_config_id"))
	if configID == "" {
		respondError(w, http.StatusBadRequest, "missing_llm_config_id", "query parameter llm_config_id is required")
		return
	}
	cfg, err := s.svc.Settings.GetLLMConfig(r.Context(), configID)
	if err != nil {
		respondFailure(w, err)
		return
	}
	if cfg.UserID != userID {
		respondError(w, http.StatusNotFound, "not_found", settings.ErrNotFound.Error())
		return
	}
	if cfg.ModelType != llm.CapabilityChat {
		respondError(w, http.StatusBadRequest, "invalid_llm_config", "llm config is not a chat model")
		return
	}
	chat, err := s.svc.LLM.NewChat(cfg.ProviderConfig())
	if err != nil {
		respondFailure(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan protocol.ChatRequest, 16)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		defer close(outbound)
		for req := range inbound {
			s.serveChatRequest(ctx, chat, req, outbound)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range outbound {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				// Drain so the chat worker never blocks on a dead socket.
				for range outbound {
				}
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.ObserveWSMessage("outbound", string(t))
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(ctx, outbound, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Source: "gateway",
				Detail: err.Error(),
			})
			continue
		}
		req := parsed.(protocol.ChatRequest)
		s.metrics.ObserveWSMessage("inbound", string(req.Type))
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- req:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
}

func (s *Server) serveChatRequest(ctx context.Context, chat llm.ChatModel, req protocol.ChatRequest, outbound chan<- any) {
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	seq := 0
	text, err := chat.ChatStream(ctx, messages, func(delta string) error {
		seq++
		return s.enqueue(ctx, outbound, protocol.ChatDelta{
			Type:      protocol.TypeChatDelta,
			RequestID: req.RequestID,
			Seq:       seq,
			TextDelta: delta,
		})
	})
	streamed := true
	if errors.Is(err, llm.ErrStreamingUnsupported) {
		streamed = false
		text, err = chat.Chat(ctx, messages)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("chat stream failed: request=%s err=%v", req.RequestID, err)
		_ = s.enqueue(ctx, outbound, chatErrorEvent(req.RequestID, err))
		return
	}
	_ = s.enqueue(ctx, outbound, protocol.ChatDone{
		Type:      protocol.TypeChatDone,
		RequestID: req.RequestID,
		Text:      strings.TrimSpace(text),
		Streamed:  streamed,
	})
}

func (s *Server) enqueue(ctx context.Context, outbound chan<- any, msg any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case outbound <- msg:
		return nil
	}
}

func chatErrorEvent(requestID string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		RequestID: requestID,
		Code:      "provider_error",
		Source:    "llm",
		Detail:    "LLM服务调用失败",
	}
	var se *llm.StatusError
	switch {
	case errors.As(err, &se):
		ev.Retryable = se.Retryable()
		if ev.Retryable {
			ev.Code = "provider_unavailable"
		}
	case errors.Is(err, context.DeadlineExceeded):
		ev.Code = "provider_timeout"
		ev.Retryable = true
	}
	return ev
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ChatRequest:
		return m.Type, true
	case protocol.ChatDelta:
		return m.Type, true
	case protocol.ChatDone:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
