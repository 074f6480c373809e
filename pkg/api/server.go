// Package api provides a Moonraker-style HTTP and websocket API for the
// filament width host: object status queries, subscriptions and G-code
// script execution.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"klipper-filament-width/pkg/log"
)

// Printer is the host as seen by API clients. Implementations must be safe
// for concurrent use.
type Printer interface {
	// GetObjectsList returns the names of queryable objects.
	GetObjectsList() []string

	// GetObjectStatus returns the status of an object, or nil if unknown.
	// If attrs is empty, all attributes are returned.
	GetObjectStatus(name string, attrs []string) map[string]any

	// ExecuteGCode runs a G-code script and returns its responses.
	ExecuteGCode(script string) (string, error)

	// GetKlippyState returns "startup", "ready" or "shutdown".
	GetKlippyState() string
}

// Config holds server configuration.
type Config struct {
	// HTTP address to listen on (e.g., ":7125")
	Addr string

	// Interval between notify_status_update broadcasts
	BroadcastInterval time.Duration

	Printer Printer
}

// Server serves the API.
type Server struct {
	printer Printer
	addr    string
	mux     *http.ServeMux

	httpServer *http.Server
	listener   net.Listener

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	// clientID -> object -> attributes
	subscriptions map[int64]map[string][]string
	subMu         sync.RWMutex

	interval  time.Duration
	startTime time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	logger *log.Logger
}

// New creates a server. Call Start to listen, or use Handler directly.
func New(cfg Config) *Server {
	s := &Server{
		printer:       cfg.Printer,
		addr:          cfg.Addr,
		mux:           http.NewServeMux(),
		wsClients:     make(map[int64]*WSClient),
		subscriptions: make(map[int64]map[string][]string),
		interval:      cfg.BroadcastInterval,
		startTime:     time.Now(),
		logger:        log.GetLogger("api"),
	}
	if s.interval <= 0 {
		s.interval = 250 * time.Millisecond
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	s.mux.HandleFunc("/websocket", s.handleWebSocket)
	s.mux.HandleFunc("/server/info", s.handleServerInfo)
	s.mux.HandleFunc("/printer/objects/list", s.handleObjectsList)
	s.mux.HandleFunc("/printer/objects/query", s.handleObjectsQuery)
	s.mux.HandleFunc("/printer/gcode/script", s.handleGCodeScript)
	return s
}

// Handler returns the HTTP handler with CORS headers applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(s.mux)
}

// Start listens on the configured address and serves in the background.
// It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "api server listen on %s", s.addr)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.StartBroadcast(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("serve failed")
		}
	}()
	s.logger.Info("API server listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// StartBroadcast runs the status broadcast loop until ctx is done.
func (s *Server) StartBroadcast(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.broadcastStatusUpdates()
			}
		}
	}()
}

// Stop closes all websocket clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	return err
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcServerError    = -32000
)

var errMethodNotFound = errors.New("method not found")

// dispatchMethod routes a method call to the appropriate handler.
func (s *Server) dispatchMethod(method string, params map[string]any, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "printer.objects.list":
		return s.methodObjectsList(), nil
	case "printer.objects.query":
		return s.methodObjectsQuery(params)
	case "printer.objects.subscribe":
		return s.methodObjectsSubscribe(params, client)
	case "printer.gcode.script":
		return s.methodGCodeScript(params)
	default:
		return nil, errors.Wrap(errMethodNotFound, method)
	}
}

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	state := s.printer.GetKlippyState()

	s.wsClientMu.RLock()
	wsCount := len(s.wsClients)
	s.wsClientMu.RUnlock()

	return map[string]any{
		"klippy_connected": true,
		"klippy_state":     state,
		"websocket_count":  wsCount,
		"hostname":         hostname,
		"uptime":           time.Since(s.startTime).Seconds(),
	}
}

func (s *Server) methodObjectsList() map[string]any {
	return map[string]any{"objects": s.printer.GetObjectsList()}
}

// parseObjects reads {"objects": {"name": null | ["attr", ...]}}.
func parseObjects(params map[string]any) (map[string][]string, error) {
	raw, ok := params["objects"]
	if !ok {
		return nil, errors.New("missing 'objects' parameter")
	}
	objects, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("'objects' must be an object")
	}
	out := make(map[string][]string, len(objects))
	for name, attrsVal := range objects {
		var attrs []string
		if list, ok := attrsVal.([]any); ok {
			for _, a := range list {
				if str, ok := a.(string); ok {
					attrs = append(attrs, str)
				}
			}
		}
		out[name] = attrs
	}
	return out, nil
}

func (s *Server) eventtime() float64 {
	return time.Since(s.startTime).Seconds()
}

func (s *Server) queryStatus(objects map[string][]string) map[string]any {
	result := make(map[string]any, len(objects))
	for name, attrs := range objects {
		if status := s.printer.GetObjectStatus(name, attrs); status != nil {
			result[name] = status
		}
	}
	return result
}

func (s *Server) methodObjectsQuery(params map[string]any) (any, error) {
	objects, err := parseObjects(params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"eventtime": s.eventtime(),
		"status":    s.queryStatus(objects),
	}, nil
}

func (s *Server) methodObjectsSubscribe(params map[string]any, client *WSClient) (any, error) {
	if client == nil {
		return nil, errors.New("subscription requires a websocket connection")
	}
	objects, err := parseObjects(params)
	if err != nil {
		return nil, err
	}

	status := s.queryStatus(objects)
	client.setLastStatus(status)

	s.subMu.Lock()
	s.subscriptions[client.id] = objects
	s.subMu.Unlock()
	return map[string]any{
		"eventtime": s.eventtime(),
		"status":    status,
	}, nil
}

func (s *Server) methodGCodeScript(params map[string]any) (any, error) {
	script, ok := params["script"].(string)
	if !ok {
		return nil, errors.New("missing 'script' parameter")
	}
	out, err := s.printer.ExecuteGCode(script)
	if err != nil {
		return nil, err
	}
	return map[string]any{"response": out}, nil
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": s.methodServerInfo()})
}

func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"result": s.methodObjectsList()})
}

// handleObjectsQuery accepts GET ?object&other=attr1,attr2 or a POST JSON
// body in the JSON-RPC params shape.
func (s *Server) handleObjectsQuery(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	switch r.Method {
	case http.MethodGet:
		objects := map[string]any{}
		for name, values := range r.URL.Query() {
			var attrs []any
			for _, v := range values {
				for _, a := range strings.Split(v, ",") {
					if a = strings.TrimSpace(a); a != "" {
						attrs = append(attrs, a)
					}
				}
			}
			objects[name] = attrs
		}
		params = map[string]any{"objects": objects}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeJSONError(w, err)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.methodObjectsQuery(params)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handleGCodeScript(w http.ResponseWriter, r *http.Request) {
	var params map[string]any
	switch r.Method {
	case http.MethodGet:
		params = map[string]any{"script": r.URL.Query().Get("script")}
	case http.MethodPost:
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeJSONError(w, err)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	result, err := s.methodGCodeScript(params)
	if err != nil {
		writeJSONError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": jsonRPCError{Code: rpcServerError, Message: err.Error()},
	})
}

func rpcErrorCode(err error) int {
	if errors.Is(err, errMethodNotFound) {
		return rpcMethodNotFound
	}
	return rpcServerError
}

// broadcastStatusUpdates sends changed subscribed status to each client.
func (s *Server) broadcastStatusUpdates() {
	s.subMu.RLock()
	subs := make(map[int64]map[string][]string, len(s.subscriptions))
	for id, objects := range s.subscriptions {
		subs[id] = objects
	}
	s.subMu.RUnlock()

	eventtime := s.eventtime()
	for clientID, objects := range subs {
		s.wsClientMu.RLock()
		client, ok := s.wsClients[clientID]
		s.wsClientMu.RUnlock()
		if !ok {
			continue
		}

		status := s.queryStatus(objects)
		if len(status) == 0 || !client.statusChanged(status) {
			continue
		}
		client.Send(map[string]any{
			"jsonrpc": "2.0",
			"method":  "notify_status_update",
			"params":  []any{status, eventtime},
		})
	}
}
