// Package server exposes a DWN message processor over HTTP and WebSocket
// using the JSON-RPC framing of internal/transport.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/roach88/dwnsync/internal/dwn"
	"github.com/roach88/dwnsync/internal/transport"
)

// MaxRequestBody bounds the record data accepted in one HTTP request.
const MaxRequestBody = 64 << 20

// Server serves a processor.
type Server struct {
	processor dwn.Processor
	router    chi.Router
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// New creates a Server for processor.
func New(processor dwn.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		processor: processor,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Post("/", s.handleHTTP)
	r.Get("/", s.handleGet)
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dwn server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down dwn server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleGet upgrades websocket requests and describes the server otherwise.
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"server":    "dwnsync",
		"protocols": []string{"http", "ws"},
	})
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBody))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, transport.NewRPCError("", &transport.RPCError{
			Code: transport.CodeInvalidRequest, Message: err.Error(),
		}))
		return
	}

	var (
		req  transport.RPCRequest
		data []byte
	)
	if header := r.Header.Get(transport.HeaderRequest); header != "" {
		err = json.Unmarshal([]byte(header), &req)
		if len(body) > 0 {
			data = body
		}
	} else {
		err = json.Unmarshal(body, &req)
		if err == nil && req.Params != nil {
			data = req.Params.EncodedData
		}
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, transport.NewRPCError("", &transport.RPCError{
			Code: transport.CodeParseError, Message: err.Error(),
		}))
		return
	}
	if rpcErr := req.Validate(); rpcErr != nil {
		writeJSON(w, http.StatusBadRequest, transport.NewRPCError(req.ID, rpcErr))
		return
	}

	resp := s.process(r.Context(), &req, data)

	if resp.Result != nil && resp.Result.Reply.Record != nil {
		record := resp.Result.Reply.Record
		payload := record.Data

		headerReply := *resp.Result.Reply
		headerReply.Record = &dwn.Record{Message: record.Message}
		header, err := json.Marshal(transport.NewRPCResult(resp.ID, &headerReply))
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, transport.NewRPCError(req.ID, &transport.RPCError{
				Code: transport.CodeInternalError, Message: err.Error(),
			}))
			return
		}
		w.Header().Set(transport.HeaderResponse, string(header))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
		return
	}

	status := http.StatusOK
	if resp.Error != nil {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Requests on one connection are processed concurrently; writes are
	// serialized.
	var writeMu sync.Mutex
	write := func(resp *transport.RPCResponse) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Debug("websocket write failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var req transport.RPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			write(transport.NewRPCError("", &transport.RPCError{Code: transport.CodeParseError, Message: err.Error()}))
			continue
		}
		if rpcErr := req.Validate(); rpcErr != nil {
			write(transport.NewRPCError(req.ID, rpcErr))
			continue
		}

		go func(req transport.RPCRequest) {
			write(s.process(ctx, &req, req.Params.EncodedData))
		}(req)
	}
}

// process runs a validated request through the processor.
func (s *Server) process(ctx context.Context, req *transport.RPCRequest, data []byte) *transport.RPCResponse {
	reply, err := s.processor.ProcessMessage(ctx, req.Params.Target, req.Params.Message, data)
	if err != nil {
		s.logger.Error("processing failed",
			"target", req.Params.Target,
			"type", req.Params.Message.Descriptor.Type(),
			"error", err,
		)
		return transport.NewRPCError(req.ID, &transport.RPCError{
			Code: transport.CodeInternalError, Message: err.Error(),
		})
	}
	return transport.NewRPCResult(req.ID, reply)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
