package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bobmcallan/llm-proxy/internal/admission"
	"github.com/bobmcallan/llm-proxy/internal/auth"
	"github.com/bobmcallan/llm-proxy/internal/common"
	"github.com/bobmcallan/llm-proxy/internal/ratelimit"
)

// ChatHandler serves POST /v1/chat/completions.
type ChatHandler struct {
	logger   *common.Logger
	pipeline *admission.Pipeline
	now      func() time.Time
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(logger *common.Logger, pipeline *admission.Pipeline) *ChatHandler {
	return &ChatHandler{logger: logger, pipeline: pipeline, now: time.Now}
}

// ServeHTTP admits the request and relays the upstream answer, either as
// one JSON document or as server-sent events.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, string(admission.KindValidation),
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		WriteError(w, http.StatusBadRequest, string(admission.KindValidation), "failed to read request body")
		return
	}

	in := &admission.Inbound{
		Body:          body,
		Signature:     r.Header.Get(auth.HeaderSignature),
		Timestamp:     r.Header.Get(auth.HeaderTimestamp),
		DeviceToken:   r.Header.Get(auth.HeaderDeviceToken),
		ClientIP:      ratelimit.ClientIP(r),
		CorrelationID: w.Header().Get("X-Correlation-ID"),
	}

	admitted, err := h.pipeline.Admit(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	ratelimit.WriteHeaders(w.Header(), admitted.Decision, h.now())

	if admitted.Stream {
		h.stream(w, r, admitted)
		return
	}

	resp, err := h.pipeline.Dispatch(r.Context(), admitted)
	if err != nil {
		h.writeError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *ChatHandler) stream(w http.ResponseWriter, r *http.Request, admitted *admission.Admitted) {
	flusher, _ := w.(http.Flusher)
	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	send := func(data []byte) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	err := h.pipeline.DispatchStream(r.Context(), admitted, func(chunk openai.ChatCompletionStreamResponse) error {
		begin()
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		return send(data)
	})
	if err != nil {
		if !started {
			h.writeError(w, err)
			return
		}
		// Headers are gone; report the failure in-band and end the stream.
		var ae *admission.Error
		if errors.As(err, &ae) && ae.Status != 499 {
			data, _ := json.Marshal(ErrorBody{Error: detailOf(ae)})
			send(data)
		}
		return
	}

	begin()
	send([]byte("[DONE]"))
}

func (h *ChatHandler) writeError(w http.ResponseWriter, err error) {
	var ae *admission.Error
	if !errors.As(err, &ae) {
		h.logger.Error().Err(err).Msg("Unclassified admission failure")
		WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	if ae.Decision != nil {
		ratelimit.WriteHeaders(w.Header(), *ae.Decision, h.now())
	}
	if ae.RetryAfter > 0 {
		w.Header().Set(ratelimit.HeaderRetryAfter, strconv.Itoa(int(ae.RetryAfter/time.Second)))
	}
	WriteErrorDetail(w, ae.Status, detailOf(ae))
}

func detailOf(ae *admission.Error) ErrorDetail {
	return ErrorDetail{
		Type:      string(ae.Kind),
		Message:   ae.Message,
		Details:   ae.Details,
		Retryable: ae.Retryable,
	}
}
