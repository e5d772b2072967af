package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/app"
	"github.com/honuKdestine/kingflex-programmable-ussd-app/repository"
)

// InteractionHandler turns an aggregator event into a directive
type InteractionHandler interface {
	Handle(ctx context.Context, ev app.Event) (*app.Directive, error)
}

// FulfillmentHandler applies a payment webhook
type FulfillmentHandler interface {
	Reconcile(ctx context.Context, wh app.Webhook) (*app.AckResult, error)
}

// WebServer handles HTTP requests
type WebServer struct {
	interactions InteractionHandler
	fulfillments FulfillmentHandler
	httpAddr     string
	server       *http.Server
	logger       cmtlog.Logger
	startTime    time.Time
}

// NewWebServer creates a new web server
func NewWebServer(interactions InteractionHandler, fulfillments FulfillmentHandler, httpPort string, logger cmtlog.Logger) *WebServer {
	ws := &WebServer{
		interactions: interactions,
		fulfillments: fulfillments,
		httpAddr:     ":" + httpPort,
		logger:       logger,
		startTime:    time.Now(),
	}
	ws.server = &http.Server{
		Addr:              ws.httpAddr,
		Handler:           ws.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return ws
}

// Routes builds the router. Every endpoint is also served under /ussd.
func (ws *WebServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(ws.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", ws.handleHealth)
	r.Post("/interaction", ws.handleInteraction)
	r.Post("/fulfillment", ws.handleFulfillment)
	r.Route("/ussd", func(r chi.Router) {
		r.Post("/interaction", ws.handleInteraction)
		r.Post("/fulfillment", ws.handleFulfillment)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, "Not found", http.StatusNotFound)
	})
	return r
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(ws.startTime).Round(time.Second).String(),
	})
}

// handleInteraction always answers 200 with a well formed directive
func (ws *WebServer) handleInteraction(w http.ResponseWriter, r *http.Request) {
	req := InteractionRequest{Sequence: 1}

	p, err := readPayload(r)
	if err != nil {
		ws.logger.Error("Unreadable interaction payload", "err", err)
		writeJSON(w, http.StatusOK, newInteractionResponse("", app.ErrorDirective()))
		return
	}
	if p.fromForm {
		ws.logger.Info("Interaction payload is not JSON, using form data")
	}
	ws.logger.Debug("Interaction payload", "body", string(p.raw))
	if err := p.decode(&req); err != nil {
		ws.logger.Error("Interaction payload partially decoded", "err", err)
	}

	directive, err := ws.interactions.Handle(r.Context(), req.Event())
	if err != nil {
		directive = app.ErrorDirective()
	}
	writeJSON(w, http.StatusOK, newInteractionResponse(req.SessionID, directive))
}

// handleFulfillment answers {"ok":true} unless the session has no transaction
func (ws *WebServer) handleFulfillment(w http.ResponseWriter, r *http.Request) {
	var req FulfillmentRequest

	p, err := readPayload(r)
	if err != nil {
		ws.logger.Error("Unreadable fulfillment payload", "err", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}
	ws.logger.Info("Fulfillment payload", "body", string(p.raw))
	if err := p.decode(&req); err != nil {
		ws.logger.Error("Fulfillment payload partially decoded", "err", err)
	}

	result, err := ws.fulfillments.Reconcile(r.Context(), app.Webhook{
		SessionID:     req.SessionID,
		OrderID:       req.OrderID,
		OrderStatus:   req.OrderInfo.Status,
		ServiceStatus: req.ServiceStatus,
		OrderInfo:     p.orderInfo(),
		Raw:           p.raw,
	})
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			JSONError(w, "Transaction not found", http.StatusNotFound)
			return
		}
		ws.logger.Error("Error processing fulfillment", "session", req.SessionID, "err", err)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	ws.logger.Info("Fulfillment processed",
		"session", req.SessionID,
		"tx", result.TransactionID,
		"status", result.Status,
		"acknowledged", result.Delivered,
	)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// requestLogger logs every request through the service logger
func (ws *WebServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			ws.logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	jsonBytes, err := json.Marshal(body)
	if err != nil {
		JSONError(w, "Internal server error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}

// JSONError writes {"error": message} with the given status
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, message, statusCode)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
