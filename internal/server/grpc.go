package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"TermLedger/internal/ingestion"
	"TermLedger/internal/observability"
	"TermLedger/internal/persistence"
	"TermLedger/internal/projection"
	"TermLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Server wraps the gRPC server and the HTTP/JSON query surface. The gRPC
// side carries health checks and reflection; queries and admin operations
// are served as JSON routes on a grpc-gateway mux so dashboards and curl
// work without generated clients.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	deps          *ServerDeps
	healthChecker *observability.HealthChecker
}

// ServerDeps holds all dependencies needed by the API routes.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
}

// NewServer creates the gRPC server and prepares the HTTP routes.
func NewServer(grpcAddr, httpAddr string, deps *ServerDeps) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		deps:          deps,
		healthChecker: deps.HealthChecker,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: gRPC server shutting down...")
		s.grpcServer.GracefulStop()
	}()

	log.Printf("INFO: gRPC server listening on %s", s.grpcAddr)
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/accounts/{account_id}/balances/{currency_id}", s.handleGetCashBalance},
		{"GET", "/v1/accounts/{account_id}/portfolio", s.handleGetPortfolio},
		{"GET", "/v1/accounts/{account_id}/settlements", s.handleGetSettlements},
		{"GET", "/v1/accounts/{account_id}/journals", s.handleGetJournals},
		{"GET", "/v1/markets/{currency_id}", s.handleListMarkets},
		{"GET", "/v1/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/eventlog", s.handleEventLogInfo},
		{"POST", "/v1/admin/rebuild-projections", s.handleRebuildProjections},
		{"POST", "/v1/admin/deposits", s.handleInjectDeposit},
		{"POST", "/v1/admin/withdrawals", s.handleInjectWithdrawal},
		{"POST", "/v1/admin/settle", s.handleInjectSettle},
		{"POST", "/v1/admin/market-init", s.handleInjectMarketInit},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", r.method, r.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP API listening on %s", s.httpAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Route handlers
// ============================================================================

func (s *Server) handleGetCashBalance(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	accountID, err := uuid.Parse(pathParams["account_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}
	currencyID, err := parseCurrencyID(pathParams["currency_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid currency_id: %v", err))
		return
	}

	bal, err := s.deps.QueryService.GetCashBalance(r.Context(), accountID, currencyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	accountID, err := uuid.Parse(pathParams["account_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}

	portfolio, err := s.deps.QueryService.GetPortfolio(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, portfolio)
}

func (s *Server) handleGetSettlements(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	accountID, err := uuid.Parse(pathParams["account_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}
	limit, afterSeq := paginationParams(r)

	settlements, err := s.deps.QueryService.GetSettlements(r.Context(), accountID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": settlements})
}

func (s *Server) handleGetJournals(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	accountID, err := uuid.Parse(pathParams["account_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}
	limit, afterSeq := paginationParams(r)

	journals, err := s.deps.QueryService.GetJournalHistory(r.Context(), accountID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": journals})
}

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	currencyID, err := parseCurrencyID(pathParams["currency_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid currency_id: %v", err))
		return
	}

	markets, err := s.deps.QueryService.ListMarkets(r.Context(), currencyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"markets": markets})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	report, err := s.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleEventLogInfo(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	latestSeq, err := s.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"last_sequence":  latestSeq,
		"uptime_seconds": int64(time.Since(s.deps.StartTime).Seconds()),
	})
}

func (s *Server) handleRebuildProjections(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	if err := projection.RebuildProjections(r.Context(), s.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rebuild failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

type injectRequest struct {
	AccountID  string `json:"account_id"`
	CurrencyID uint16 `json:"currency_id"`
	Amount     int64  `json:"amount"`
	// Sequence is the event's position in its source partition. The core
	// rejects gaps, so the caller must continue the partition's count.
	Sequence int64 `json:"sequence"`
}

func (s *Server) handleInjectDeposit(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}

	if err := s.deps.IngestService.InjectDeposit(r.Context(), accountID, req.CurrencyID, req.Amount, req.Sequence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleInjectWithdrawal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}

	if err := s.deps.IngestService.InjectWithdrawal(r.Context(), accountID, req.CurrencyID, req.Amount, req.Sequence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleInjectSettle(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid account_id: %v", err))
		return
	}

	if err := s.deps.IngestService.InjectSettle(r.Context(), accountID, req.Sequence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleInjectMarketInit(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	var req injectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}

	if err := s.deps.IngestService.InjectMarketInit(r.Context(), req.CurrencyID, req.Sequence); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// ============================================================================
// Helpers
// ============================================================================

func parseCurrencyID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

func paginationParams(r *http.Request) (int, *int64) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var afterSeq *int64
	if v := r.URL.Query().Get("after_sequence"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			afterSeq = &n
		}
	}

	return limit, afterSeq
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
