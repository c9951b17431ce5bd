// Package gateway exposes the search tools over HTTP and WebSocket. The REST
// surface covers tool listing and invocation; the WS surface speaks JSON-RPC
// 2.0 for clients that want to hold one connection open.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/searchd/internal/audit"
	"github.com/basket/searchd/internal/bus"
	"github.com/basket/searchd/internal/config"
	"github.com/basket/searchd/internal/policy"
	"github.com/basket/searchd/internal/shared"
	"github.com/basket/searchd/internal/tools"
)

const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInternal       = -32603

	// Stable app error taxonomy.
	ErrCodeInvalid  = 1000
	ErrCodeDenied   = 4030
	ErrCodeUpstream = 5020
)

// Config wires the server's collaborators.
type Config struct {
	Registry *tools.Registry
	Policy   policy.Checker

	// Bus carries runtime events (cache activity, tool invocations,
	// reloads). Nil disables events.subscribe and event publishing.
	Bus *bus.Bus

	Auth config.AuthConfig
	CORS config.CORSConfig

	// AllowOrigins controls accepted Origin headers for browser WS
	// connections. Empty list means same-origin only.
	AllowOrigins []string

	// ConfigFingerprint is the hash of active config exposed in healthz.
	ConfigFingerprint string

	// MaxRequestBytes bounds request bodies. 0 uses 1MB.
	MaxRequestBytes int64
}

// Server serves the REST and WS endpoints.
type Server struct {
	cfg     Config
	started time.Time

	schemaMu sync.Mutex
	schemas  map[string]*jsonschema.Schema
}

// client is one WS connection. Responses and pushed events share the
// connection, so every write goes through write().
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex

	// Event subscription state for events.subscribe.
	subMu     sync.Mutex
	busSub    *bus.Subscription
	busCancel context.CancelFunc
}

func (c *client) write(ctx context.Context, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, payload)
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`

	// Method and Params are set on server-pushed notifications only.
	Method string `json:"method,omitempty"`
	Params any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func New(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		started: time.Now(),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Handler builds the HTTP handler with auth, CORS and size-limit middleware
// applied around the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/tools", s.handleTools)
	mux.HandleFunc("/v1/tools/", s.handleToolInvoke)
	mux.HandleFunc("/ws", s.handleWS)

	var h http.Handler = mux
	h = NewAuthMiddleware(s.cfg.Auth).Wrap(h)
	h = NewCORSMiddleware(s.cfg.CORS)(h)
	h = RequestSizeLimitMiddleware(s.cfg.MaxRequestBytes)(h)
	return h
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	policyVersion := ""
	if s.cfg.Policy != nil {
		policyVersion = s.cfg.Policy.PolicyVersion()
	}
	upstreamOK := s.cfg.Registry != nil && s.cfg.Registry.Client != nil &&
		s.cfg.Registry.Client.Available()

	payload := map[string]any{
		"healthy":        true,
		"upstream_ok":    upstreamOK,
		"policy_version": policyVersion,
		"config_hash":    s.cfg.ConfigFingerprint,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.cfg.Registry != nil {
		payload["caches"] = s.cfg.Registry.CacheSizes()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	payload := map[string]any{
		"policy_deny_total": audit.DenyCount(),
		"alloc_bytes":       mem.Alloc,
		"goroutines":        runtime.NumGoroutine(),
		"uptime_seconds":    int64(time.Since(s.started).Seconds()),
	}
	if s.cfg.Registry != nil {
		payload["cache_entries"] = s.cfg.Registry.CacheSizes()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	infos := s.cfg.Registry.List()
	items := make([]map[string]any, 0, len(infos))
	for _, info := range infos {
		items = append(items, map[string]any{
			"name":         info.Name,
			"description":  info.Description,
			"input_schema": json.RawMessage(info.InputSchema),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tools": items})
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/v1/tools/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, `{"error":"tool name required"}`, http.StatusBadRequest)
		return
	}
	if !s.cfg.Registry.Has(name) {
		http.Error(w, fmt.Sprintf(`{"error":"unknown tool %q"}`, name), http.StatusNotFound)
		return
	}

	var params json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	query, err := s.validateInvokeParams(name, params)
	if err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusBadRequest)
		return
	}

	traceID := shared.NewTraceID()
	ctx := shared.WithTraceID(r.Context(), traceID)
	ctx = shared.WithToolName(ctx, name)

	start := time.Now()
	result, err := s.cfg.Registry.Invoke(ctx, name, query)
	if err != nil {
		slog.Error("tool invoke failed", "tool", name, "trace_id", traceID, "error", err)
		s.publish(bus.TopicToolFailed, bus.ToolEvent{Tool: name, TraceID: traceID, Error: err.Error()})
		status := http.StatusBadGateway
		if strings.Contains(err.Error(), "policy denied") {
			status = http.StatusForbidden
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "trace_id": traceID})
		return
	}
	tookMS := time.Since(start).Milliseconds()
	slog.Info("tool invoked", "tool", name, "trace_id", traceID, "took_ms", tookMS)
	s.publish(bus.TopicToolInvoked, bus.ToolEvent{Tool: name, TraceID: traceID, TookMS: tookMS})

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"tool":     name,
		"result":   result,
		"trace_id": traceID,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Same-origin requests are always allowed by the websocket library;
		// cross-origin needs an explicit pattern.
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}
	c := &client{conn: conn}
	slog.Info("ws: client connected")
	defer func() {
		slog.Info("ws: client disconnecting")
		s.unsubscribeClient(c)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var req rpcRequest
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Error("ws: read error, closing", "error", err)
			}
			return
		}
		resp := s.handleRPC(r.Context(), c, req)
		if resp == nil {
			continue
		}
		if err := c.write(r.Context(), resp); err != nil {
			slog.Error("ws: write response error", "method", req.Method, "error", err)
		}
	}
}

func (s *Server) handleRPC(ctx context.Context, c *client, req rpcRequest) *rpcResponse {
	id, hasID := decodeID(req.ID)
	if req.JSONRPC != "2.0" || req.Method == "" {
		if !hasID {
			return nil
		}
		return &rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   &rpcError{Code: ErrCodeInvalidRequest, Message: "invalid JSON-RPC request"},
		}
	}

	var result any
	var rpcErr *rpcError

	switch req.Method {
	case "system.hello":
		result = map[string]any{
			"protocol": "searchd",
			"version":  "1.0",
		}
	case "system.status":
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		policyVersion := ""
		if s.cfg.Policy != nil {
			policyVersion = s.cfg.Policy.PolicyVersion()
		}
		result = map[string]any{
			"healthy":        true,
			"upstream_ok":    s.cfg.Registry.Client.Available(),
			"caches":         s.cfg.Registry.CacheSizes(),
			"policy_version": policyVersion,
			"config_hash":    s.cfg.ConfigFingerprint,
			"memory_alloc":   mem.Alloc,
			"time_unix":      time.Now().Unix(),
		}
	case "tools.list":
		infos := s.cfg.Registry.List()
		items := make([]map[string]any, 0, len(infos))
		for _, info := range infos {
			items = append(items, map[string]any{
				"name":         info.Name,
				"description":  info.Description,
				"input_schema": json.RawMessage(info.InputSchema),
			})
		}
		result = map[string]any{"tools": items}
	case "tools.invoke":
		var p struct {
			Name   string          `json:"name"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Name == "" {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "invalid params: name required"}
			break
		}
		if !s.cfg.Registry.Has(p.Name) {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: fmt.Sprintf("unknown tool %q", p.Name)}
			break
		}
		query, err := s.validateInvokeParams(p.Name, p.Params)
		if err != nil {
			rpcErr = &rpcError{Code: ErrCodeInvalid, Message: err.Error()}
			break
		}
		traceID := shared.NewTraceID()
		traceCtx := shared.WithToolName(shared.WithTraceID(ctx, traceID), p.Name)
		start := time.Now()
		out, err := s.cfg.Registry.Invoke(traceCtx, p.Name, query)
		if err != nil {
			s.publish(bus.TopicToolFailed, bus.ToolEvent{Tool: p.Name, TraceID: traceID, Error: err.Error()})
			code := ErrCodeUpstream
			if strings.Contains(err.Error(), "policy denied") {
				code = ErrCodeDenied
			}
			rpcErr = &rpcError{Code: code, Message: err.Error()}
			break
		}
		slog.Info("ws: tool invoked", "tool", p.Name, "trace_id", traceID)
		s.publish(bus.TopicToolInvoked, bus.ToolEvent{Tool: p.Name, TraceID: traceID, TookMS: time.Since(start).Milliseconds()})
		result = map[string]any{
			"tool":       p.Name,
			"result":     out,
			"trace_id":   traceID,
			"request_id": uuid.NewString(),
		}
	case "events.subscribe":
		var p struct {
			Topics string `json:"topics"`
		}
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &p); err != nil {
				rpcErr = &rpcError{Code: ErrCodeInvalid, Message: "invalid params"}
				break
			}
		}
		if s.cfg.Bus == nil {
			rpcErr = &rpcError{Code: ErrCodeInternal, Message: "event bus unavailable"}
			break
		}
		s.subscribeClient(c, p.Topics)
		result = map[string]any{"subscribed": true, "topics": p.Topics}
	case "events.unsubscribe":
		s.unsubscribeClient(c)
		result = map[string]any{"subscribed": false}
	default:
		rpcErr = &rpcError{Code: ErrCodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}

	if !hasID {
		return nil
	}
	if rpcErr != nil {
		return &rpcResponse{JSONRPC: "2.0", ID: id, Error: rpcErr}
	}
	return &rpcResponse{JSONRPC: "2.0", ID: id, Result: result}
}

func (s *Server) publish(topic string, payload any) {
	if s.cfg.Bus != nil {
		s.cfg.Bus.Publish(topic, payload)
	}
}

// subscribeClient registers a WS client for live event push on the given
// topic prefix. A second subscribe replaces the first.
func (s *Server) subscribeClient(c *client, topicPrefix string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.busSub != nil {
		c.busCancel()
		s.cfg.Bus.Unsubscribe(c.busSub)
	}
	c.busSub = s.cfg.Bus.Subscribe(topicPrefix)
	var busCtx context.Context
	busCtx, c.busCancel = context.WithCancel(context.Background())
	go forwardBusEvents(busCtx, c, c.busSub)
}

func (s *Server) unsubscribeClient(c *client) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if c.busSub == nil {
		return
	}
	c.busCancel()
	s.cfg.Bus.Unsubscribe(c.busSub)
	c.busSub = nil
	c.busCancel = nil
}

// forwardBusEvents pushes bus events to the WS client as JSON-RPC
// notifications until the subscription is cancelled or its channel closes.
func forwardBusEvents(ctx context.Context, c *client, sub *bus.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			_ = c.write(ctx, rpcResponse{
				JSONRPC: "2.0",
				Method:  "events.event",
				Params: map[string]any{
					"topic":   ev.Topic,
					"payload": ev.Payload,
				},
			})
		}
	}
}

func decodeID(raw json.RawMessage) (any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, false
	}
	return generic, true
}
