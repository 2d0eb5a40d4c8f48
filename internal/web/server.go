package web

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/farmworks/pointsfarm/internal/engine"
	"github.com/farmworks/pointsfarm/internal/ledger"
	"github.com/farmworks/pointsfarm/internal/logger"
	"github.com/farmworks/pointsfarm/internal/migration"
	"github.com/farmworks/pointsfarm/internal/registry"
	"github.com/farmworks/pointsfarm/internal/state"
	"github.com/farmworks/pointsfarm/internal/types"
	"github.com/farmworks/pointsfarm/internal/utils"

	sdkmath "cosmossdk.io/math"
	sdktypes "github.com/cosmos/cosmos-sdk/types"
)

var webLogger = logger.GetForComponent("web_server")

// WebServer exposes the reward engine over HTTP: read endpoints for pool and
// user state, mutation endpoints posting into the single-writer engine, and
// admin endpoints for schedule changes and snapshots.
type WebServer struct {
	router *mux.Router
	port   string
	engine *engine.Engine
	blocks *engine.ManualBlockSource // nil when heights come from elsewhere
}

// NewWebServer creates a new web server instance. blocks may be nil; the
// block-feed endpoint then rejects updates.
func NewWebServer(port string, eng *engine.Engine, blocks *engine.ManualBlockSource) *WebServer {
	if port == "" {
		port = "8080"
	}

	server := &WebServer{
		router: mux.NewRouter(),
		port:   port,
		engine: eng,
		blocks: blocks,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all HTTP routes
func (ws *WebServer) setupRoutes() {
	// Health endpoint (direct route)
	ws.router.HandleFunc("/health", ws.handleHealth).Methods("GET")

	// Read API
	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", ws.handleHealth).Methods("GET")
	api.HandleFunc("/schedule", ws.handleGetSchedule).Methods("GET")
	api.HandleFunc("/pools", ws.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{pid}", ws.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{pid}/reward", ws.handleGetPoolReward).Methods("GET")
	api.HandleFunc("/pools/{pid}/users/{user}", ws.handleGetUserInfo).Methods("GET")
	api.HandleFunc("/pools/{pid}/users/{user}/pending", ws.handleGetPending).Methods("GET")
	api.HandleFunc("/users/{user}", ws.handleGetOptimizedUserInfo).Methods("GET")
	api.HandleFunc("/snapshot", ws.handleExportSnapshot).Methods("GET")
	api.HandleFunc("/snapshots", ws.handleListSnapshots).Methods("GET")

	// User mutations
	api.HandleFunc("/pools/{pid}/deposit", ws.handleDeposit).Methods("POST")
	api.HandleFunc("/pools/{pid}/withdraw", ws.handleWithdraw).Methods("POST")
	api.HandleFunc("/pools/{pid}/boost", ws.handleBoost).Methods("POST")
	api.HandleFunc("/pools/{pid}/transfer-points", ws.handleTransferPoints).Methods("POST")

	// Admin surface
	admin := api.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/pools", ws.handleAddPool).Methods("POST")
	admin.HandleFunc("/weights", ws.handleSetWeights).Methods("POST")
	admin.HandleFunc("/points-per-block", ws.handleSetPointsPerBlock).Methods("POST")
	admin.HandleFunc("/end-block", ws.handleSetEndBlock).Methods("POST")
	admin.HandleFunc("/booster-multiplier", ws.handleSetBoosterMultiplier).Methods("POST")
	admin.HandleFunc("/whitelist", ws.handleSetWhitelist).Methods("POST")
	admin.HandleFunc("/block", ws.handleSetBlock).Methods("POST")
	admin.HandleFunc("/snapshot", ws.handleTakeSnapshot).Methods("POST")

	// Add CORS middleware
	ws.router.Use(ws.corsMiddleware)
	ws.router.Use(ws.loggingMiddleware)
}

// Start starts the web server
func (ws *WebServer) Start() error {
	webLogger.Info().Str("port", ws.port).Msg("Starting web server")

	server := &http.Server{
		Addr:         ":" + ws.port,
		Handler:      ws.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

// Router exposes the handler for tests and embedding.
func (ws *WebServer) Router() http.Handler {
	return ws.router
}

// handleHealth returns server health status
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbHealthy := state.TestDBConnection() == nil

	response := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"system": map[string]interface{}{
			"version":          runtime.Version(),
			"goroutines_count": runtime.NumGoroutine(),
			"alloc_bytes":      memStats.Alloc,
			"gc_cycles":        memStats.NumGC,
		},
		"component": map[string]interface{}{
			"name":    "pointsfarm-reward-engine",
			"version": "1.0.0",
		},
		"farm_status": map[string]interface{}{
			"database_healthy": dbHealthy,
			"current_block":    ws.engine.CurrentBlock(),
			"pools":            len(ws.engine.GetPoolInfo()),
		},
	}

	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	ws.writeJSONResponse(w, http.StatusOK, ws.engine.Schedule())
}

func (ws *WebServer) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := ws.engine.GetPoolInfo()
	response := map[string]interface{}{
		"pools": pools,
		"count": len(pools),
	}
	ws.writeJSONResponse(w, http.StatusOK, response)
}

func (ws *WebServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	pool, err := ws.engine.PoolInfo(pid)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, pool)
}

func (ws *WebServer) handleGetPoolReward(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	from, err1 := strconv.ParseUint(r.URL.Query().Get("from"), 10, 64)
	to, err2 := strconv.ParseUint(r.URL.Query().Get("to"), 10, 64)
	if err1 != nil || err2 != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "from and to query parameters must be block numbers")
		return
	}
	reward, err := ws.engine.PoolReward(pid, from, to)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	blocks, err := ws.engine.BlockMultiplier(from, to)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pid":    pid,
		"from":   from,
		"to":     to,
		"blocks": blocks,
		"reward": reward,
	})
}

func (ws *WebServer) handleGetUserInfo(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	user := mux.Vars(r)["user"]
	info, err := ws.engine.UserInfo(pid, user)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, types.UserRecord{User: user, Pid: pid, UserInfo: info})
}

func (ws *WebServer) handleGetPending(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	user := mux.Vars(r)["user"]
	pending, err := ws.engine.PendingPoints(pid, user)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"pid":           pid,
		"user":          user,
		"pendingPoints": pending,
		"block":         ws.engine.CurrentBlock(),
	})
}

func (ws *WebServer) handleGetOptimizedUserInfo(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]
	rows, err := ws.engine.OptimizedUserInfo(user)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"user":  user,
		"pools": rows,
		"block": ws.engine.CurrentBlock(),
	})
}

type depositRequest struct {
	User        string `json:"user"`
	Denom       string `json:"denom"`
	Amount      string `json:"amount"`
	BoostAmount string `json:"boostAmount"`
}

func (ws *WebServer) handleDeposit(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	boost := sdkmath.ZeroInt()
	if req.BoostAmount != "" {
		if boost, err = utils.ParseAmount(req.BoostAmount); err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "invalid boostAmount: "+err.Error())
			return
		}
	}
	if err := ws.engine.Deposit(pid, req.User, sdktypes.Coin{Denom: req.Denom, Amount: amount}, boost); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

type withdrawRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

func (ws *WebServer) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	coin, err := ws.engine.Withdraw(pid, req.User, amount)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "accepted",
		"withdrawn": coin,
	})
}

func (ws *WebServer) handleBoost(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	if err := ws.engine.IncreaseBoost(pid, req.User, amount); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

type transferPointsRequest struct {
	Caller string `json:"caller"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (ws *WebServer) handleTransferPoints(w http.ResponseWriter, r *http.Request) {
	pid, ok := ws.pathPid(w, r)
	if !ok {
		return
	}
	var req transferPointsRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid amount: "+err.Error())
		return
	}
	moved, err := ws.engine.TransferPoints(req.Caller, pid, req.From, req.To, amount)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": "accepted",
		"moved":  moved,
	})
}

type addPoolRequest struct {
	Weight         uint64 `json:"weight"`
	Asset          string `json:"asset"`
	Description    string `json:"description"`
	StartBlock     uint64 `json:"startBlock"`
	PointsPerBlock string `json:"pointsPerBlock"` // optional atomic rate change
}

func (ws *WebServer) handleAddPool(w http.ResponseWriter, r *http.Request) {
	var req addPoolRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	var rate *sdkmath.Int
	if req.PointsPerBlock != "" {
		parsed, err := utils.ParseAmount(req.PointsPerBlock)
		if err != nil {
			ws.writeErrorResponse(w, http.StatusBadRequest, "invalid pointsPerBlock: "+err.Error())
			return
		}
		rate = &parsed
	}
	pid, err := ws.engine.AddPool(req.Weight, req.Asset, req.Description, req.StartBlock, rate)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"pid": pid})
}

type setWeightsRequest struct {
	Pids    []types.PoolID `json:"pids"`
	Weights []uint64       `json:"weights"`
}

func (ws *WebServer) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	var req setWeightsRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}
	if err := ws.engine.SetWeights(req.Pids, req.Weights); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

func (ws *WebServer) handleSetPointsPerBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rate string `json:"rate"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}
	rate, err := utils.ParseAmount(req.Rate)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid rate: "+err.Error())
		return
	}
	if err := ws.engine.SetPointsPerBlock(rate); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

func (ws *WebServer) handleSetEndBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EndBlock        uint64 `json:"endBlock"`
		WithdrawalDelay uint64 `json:"withdrawalDelay"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}
	if err := ws.engine.SetEndBlock(req.EndBlock, req.WithdrawalDelay); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

func (ws *WebServer) handleSetBoosterMultiplier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Multiplier string `json:"multiplier"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}
	multiplier, err := utils.ParseAmount(req.Multiplier)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "invalid multiplier: "+err.Error())
		return
	}
	if err := ws.engine.SetBoosterMultiplier(multiplier); err != nil {
		ws.writeEngineError(w, err)
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

func (ws *WebServer) handleSetWhitelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller  string   `json:"caller"`
		Sources []string `json:"sources"`
		Allowed bool     `json:"allowed"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}
	ws.engine.SetUsersWhitelisted(req.Caller, req.Sources, req.Allowed)
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{"status": "accepted"})
}

func (ws *WebServer) handleSetBlock(w http.ResponseWriter, r *http.Request) {
	if ws.blocks == nil {
		ws.writeErrorResponse(w, http.StatusConflict, "block height is not fed through this server")
		return
	}
	var req struct {
		Height uint64 `json:"height"`
	}
	if !ws.decodeBody(w, r, &req) {
		return
	}
	ws.blocks.SetBlock(req.Height)
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status": "accepted",
		"block":  ws.blocks.CurrentBlock(),
	})
}

func (ws *WebServer) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := ws.engine.ExportSnapshot()
	data, err := migration.Export(snap)
	if err != nil {
		ws.writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (ws *WebServer) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 && parsedLimit <= 100 {
			limit = parsedLimit
		}
	}
	metas, err := state.ListSnapshots(limit)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to list snapshots")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to retrieve snapshots")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"snapshots": metas,
		"count":     len(metas),
	})
}

type takeSnapshotRequest struct {
	Migrate             bool              `json:"migrate"`
	SuccessorStartBlock uint64            `json:"successorStartBlock"`
	Remap               map[string]string `json:"remap"`
	ExcludedAccounts    []string          `json:"excludedAccounts"`
	ZeroExcludedSettled bool              `json:"zeroExcludedSettled"`
}

// handleTakeSnapshot captures the current ledger and persists it. With
// migrate=true the snapshot is first run through the end-of-farming
// finalization; failures abort with no partial write.
func (ws *WebServer) handleTakeSnapshot(w http.ResponseWriter, r *http.Request) {
	var req takeSnapshotRequest
	if !ws.decodeBody(w, r, &req) {
		return
	}

	snap := ws.engine.ExportSnapshot()
	kind := state.KindCheckpoint
	var prov *state.MigrationProvenance

	if req.Migrate {
		if err := ws.engine.MassUpdatePools(); err != nil {
			ws.writeEngineError(w, err)
			return
		}
		snap = ws.engine.ExportSnapshot()
		finalized, err := migration.Finalize(snap, migration.Options{
			SuccessorStartBlock: req.SuccessorStartBlock,
			Remap:               req.Remap,
			ExcludedAccounts:    req.ExcludedAccounts,
			ZeroExcludedSettled: req.ZeroExcludedSettled,
		})
		if err != nil {
			ws.writeEngineError(w, err)
			return
		}
		snap = finalized
		kind = state.KindMigration
		prov = &state.MigrationProvenance{
			ExcludedAccounts:    req.ExcludedAccounts,
			RemappedAccounts:    req.Remap,
			SuccessorStartBlock: req.SuccessorStartBlock,
		}
	}

	rowID, err := state.SaveSnapshot(snap, kind, prov)
	if err != nil {
		webLogger.Error().Err(err).Msg("Failed to persist snapshot")
		ws.writeErrorResponse(w, http.StatusInternalServerError, "Failed to persist snapshot")
		return
	}
	ws.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":     "saved",
		"snapshotId": rowID,
		"uuid":       snap.ID,
		"kind":       kind,
	})
}

func (ws *WebServer) pathPid(w http.ResponseWriter, r *http.Request) (types.PoolID, bool) {
	pidStr := mux.Vars(r)["pid"]
	pid, err := strconv.ParseUint(pidStr, 10, 64)
	if err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid pool ID")
		return 0, false
	}
	return types.PoolID(pid), true
}

func (ws *WebServer) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ws.writeErrorResponse(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeEngineError maps engine error classes to HTTP statuses.
func (ws *WebServer) writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrPoolNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotWhitelisted):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrFarmingEnded):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrInvalidPool),
		errors.Is(err, engine.ErrInvalidRange),
		errors.Is(err, engine.ErrMismatchedArrayLengths),
		errors.Is(err, engine.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, registry.ErrInvalidSchedule):
		status = http.StatusBadRequest
	case errors.Is(err, sql.ErrNoRows):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		webLogger.Error().Err(err).Msg("Engine operation failed")
	}
	ws.writeErrorResponse(w, status, err.Error())
}

// writeJSONResponse writes a JSON response
func (ws *WebServer) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		webLogger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error response
func (ws *WebServer) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	response := map[string]interface{}{
		"error":     true,
		"message":   message,
		"timestamp": time.Now().UTC(),
	}

	ws.writeJSONResponse(w, statusCode, response)
}

// corsMiddleware adds CORS headers
func (ws *WebServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (ws *WebServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create a response writer wrapper to capture status code
		wrapper := &responseWriterWrapper{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapper, r)

		duration := time.Since(start)

		webLogger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote_addr", r.RemoteAddr).
			Int("status", wrapper.statusCode).
			Dur("duration", duration).
			Msg("HTTP request")
	})
}

// responseWriterWrapper wraps http.ResponseWriter to capture status code
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
