package rpc

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"agorachain/core"
	"agorachain/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
)

// Server exposes the node over JSON-RPC. Read methods are open; mutating
// methods require the bearer token when one is configured; admin methods
// additionally require a signed admin JWT.
type Server struct {
	node   *core.Node
	logger *slog.Logger

	authToken      string
	adminJWTSecret []byte

	limitRate  rate.Limit
	limitBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	httpServer *http.Server
}

// Options configure the server's authentication and throttling.
type Options struct {
	BearerToken    string
	AdminJWTSecret []byte
	RatePerSec     float64
	RateBurst      int
	Logger         *slog.Logger
}

// NewServer constructs the RPC server over the node.
func NewServer(node *core.Node, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	return &Server{
		node:           node,
		logger:         logger,
		authToken:      strings.TrimSpace(opts.BearerToken),
		adminJWTSecret: opts.AdminJWTSecret,
		limitRate:      limit,
		limitBurst:     burst,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP routes: the JSON-RPC endpoint, the health probe
// and the Prometheus scrape endpoint.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/", s.handle)
	return r
}

// Start serves the router on addr until the context is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("rpc server listening", "addr", addr)
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string { return e.Message }

func invalidParams(message string) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: message}
}

func serverError(err error) *rpcError {
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

func unauthorized(message string) *rpcError {
	return &rpcError{Code: codeUnauthorized, Message: message}
}

func (s *Server) limiterFor(remote string) *rate.Limiter {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(s.limitRate, s.limitBurst)
		s.limiters[host] = limiter
	}
	return limiter
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if !s.limiterFor(r.RemoteAddr).Allow() {
		writeError(w, http.StatusTooManyRequests, nil, &rpcError{Code: codeRateLimited, Message: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, &rpcError{Code: codeParseError, Message: "unable to read request"})
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, &rpcError{Code: codeParseError, Message: "invalid JSON"})
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, &rpcError{Code: codeInvalidRequest, Message: "unsupported JSON-RPC version"})
		return
	}
	method := strings.TrimSpace(req.Method)
	if method == "" {
		writeError(w, http.StatusBadRequest, req.ID, &rpcError{Code: codeInvalidRequest, Message: "method required"})
		return
	}

	if rpcErr := s.authorize(r, method); rpcErr != nil {
		observability.RPCMetrics().RecordError(method, "unauthorized")
		writeError(w, http.StatusUnauthorized, req.ID, rpcErr)
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(method, req.Params)
	if rpcErr != nil {
		observability.RPCMetrics().Observe(method, "error", time.Since(start))
		observability.RPCMetrics().RecordError(method, "handler")
		status := http.StatusBadRequest
		if rpcErr.Code == codeMethodNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, req.ID, rpcErr)
		return
	}
	observability.RPCMetrics().Observe(method, "ok", time.Since(start))
	writeResult(w, req.ID, result)
}

func isAdminMethod(method string) bool {
	return strings.HasPrefix(method, "admin_")
}

func isMutatingMethod(method string) bool {
	switch method {
	case "market_createSellOrder", "market_cancelSellOrder", "market_createBuyOrder",
		"stable_depositCollateral", "stable_redeemCollateral", "stable_mint", "stable_burn",
		"stable_depositAndMint", "stable_redeemCollateralForStable", "stable_liquidate":
		return true
	}
	return isAdminMethod(method)
}

func (s *Server) authorize(r *http.Request, method string) *rpcError {
	if !isMutatingMethod(method) {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if isAdminMethod(method) {
		if len(s.adminJWTSecret) == 0 {
			return unauthorized("admin surface disabled: no signing secret configured")
		}
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			return unauthorized("admin token required")
		}
		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.adminJWTSecret, nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return unauthorized("invalid admin token")
		}
		if role, _ := claims["role"].(string); role != "admin" {
			return unauthorized("admin role claim required")
		}
		return nil
	}
	if s.authToken == "" {
		return nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(raw)), []byte(s.authToken)) != 1 {
		return unauthorized("bearer token required")
	}
	return nil
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch {
	case strings.HasPrefix(method, "market_"):
		return s.dispatchMarket(method, params)
	case strings.HasPrefix(method, "cpi_"):
		return s.dispatchCPI(method, params)
	case strings.HasPrefix(method, "stable_"):
		return s.dispatchStable(method, params)
	case strings.HasPrefix(method, "token_"), method == "ledger_events":
		return s.dispatchQuery(method, params)
	case strings.HasPrefix(method, "admin_"):
		return s.dispatchAdmin(method, params)
	}
	return nil, &rpcError{Code: codeMethodNotFound, Message: "unknown method " + method}
}

func decodeParams(raw json.RawMessage, out interface{}) *rpcError {
	if len(raw) == 0 {
		return invalidParams("params required")
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *rpcError) {
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr})
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}
