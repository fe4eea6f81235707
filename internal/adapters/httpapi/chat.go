package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/bnema/gemini-pool/internal/observability"
	"github.com/bnema/gemini-pool/internal/stream"
	"github.com/bnema/gemini-pool/internal/translator"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

const (
	msgMissingChatFields = "Missing required fields: messages and model"
	msgNotStreamed       = "Non-streamed responses are not implemented."
)

var errClientGone = errors.New("client disconnected")

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req translator.ChatCompletionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		log.WithError(err).Debug("decode chat request")
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgMissingChatFields})
		return
	}
	if req.Messages == nil || req.Model == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: msgMissingChatFields})
		return
	}
	if !req.Stream {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: msgNotStreamed})
		return
	}

	s.streamChat(w, r, req)
}

// streamChat commits the SSE headers, relays translated upstream objects and
// always ends with a single done frame.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, req translator.ChatCompletionRequest) {
	observability.StreamingConnections.Inc()
	defer observability.StreamingConnections.Dec()

	logger := log.WithFields(log.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"model":      req.Model,
	})

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &sseWriter{w: w}
	sse.flusher, _ = w.(http.Flusher)

	cursor := translator.NewStreamCursor(req.Model)
	defer sse.write(translator.DoneFrame())

	if err := sse.event(cursor.InitialChunk()); err != nil {
		logger.WithError(err).Debug("write initial chunk")
		return
	}

	if err := s.relay(r.Context(), sse, cursor, req); err != nil {
		switch {
		case errors.Is(err, errClientGone), errors.Is(err, context.Canceled):
			logger.WithError(err).Debug("stream ended by client")
		default:
			logger.WithError(err).Warn("stream failed")
			sse.write(translator.ErrorFrame(err))
		}
	}
}

func (s *Server) relay(ctx context.Context, sse *sseWriter, cursor *translator.StreamCursor, req translator.ChatCompletionRequest) error {
	payload, err := translator.NewGenerateRequest(req.Model, translator.ToUpstreamContents(req.Messages))
	if err != nil {
		return err
	}

	body, err := s.pool.StreamGenerateContent(ctx, payload)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	return stream.NewReconstructor().Each(ctx, body, func(object json.RawMessage) error {
		chunk, ok := cursor.Translate(object)
		if !ok {
			return nil
		}
		return sse.event(chunk)
	})
}

type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
	failed  bool
}

func (s *sseWriter) event(v any) error {
	frame, err := translator.Frame(v)
	if err != nil {
		return err
	}
	if !s.write(frame) {
		return errClientGone
	}
	return nil
}

// write reports false once the client connection has failed.
func (s *sseWriter) write(frame []byte) bool {
	if s.failed {
		return false
	}
	if _, err := s.w.Write(frame); err != nil {
		s.failed = true
		return false
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return true
}
