package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/telemetry"
)

const aliveMessage = "Bot is alive and running!"

// StatusSource reports live bot state for the status endpoint.
type StatusSource interface {
	// Executing is the number of chats with a running transfer.
	Executing() int
}

type Status struct {
	Bot       string   `json:"bot"`
	Providers []string `json:"providers"`
	Executing int      `json:"executing"`
}

// KeepAliveHandler serves the endpoints hosting platforms ping to keep the
// process awake.
type KeepAliveHandler struct {
	botName   string
	providers []string
	source    StatusSource
	telemetry *telemetry.Telemetry
}

func NewKeepAliveHandler(botName string, providers []string, source StatusSource, t *telemetry.Telemetry) *KeepAliveHandler {
	return &KeepAliveHandler{
		botName:   botName,
		providers: providers,
		source:    source,
		telemetry: t,
	}
}

func (h *KeepAliveHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)
	r.Use(telemetry.HTTPLogging)

	r.Get("/", h.HandleAlive)
	r.Head("/", h.HandleAlive)
	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

func (h *KeepAliveHandler) HandleAlive(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(aliveMessage))
}

func (h *KeepAliveHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func (h *KeepAliveHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := Status{Bot: h.botName, Providers: h.providers}
	if h.source != nil {
		status.Executing = h.source.Executing()
	}

	if status.Providers == nil {
		status.Providers = []string{}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(status); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode status", "err", err)
	}
}
