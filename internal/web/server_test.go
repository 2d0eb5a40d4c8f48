package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmworks/pointsfarm/internal/engine"
	"github.com/farmworks/pointsfarm/internal/ledger"
	"github.com/farmworks/pointsfarm/internal/registry"
	"github.com/farmworks/pointsfarm/internal/types"
)

func newTestServer(t *testing.T) (*WebServer, *engine.ManualBlockSource) {
	t.Helper()
	reg, err := registry.New(types.EmissionSchedule{
		PointsPerBlock:    sdkmath.NewIntWithDecimal(76, 18),
		StartBlock:        0,
		BoosterMultiplier: sdkmath.NewIntWithDecimal(2, 18),
	})
	require.NoError(t, err)
	blocks := engine.NewManualBlockSource(0)
	eng, err := engine.New(engine.Config{Registry: reg, Ledger: ledger.New(), Blocks: blocks})
	require.NoError(t, err)
	_, err = eng.AddPool(100, "sdai", "Savings DAI", 0, nil)
	require.NoError(t, err)
	return NewWebServer("0", eng, blocks), blocks
}

func doJSON(t *testing.T, ws *WebServer, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ws.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	ws, _ := newTestServer(t)
	rec := doJSON(t, ws, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestDepositWithdrawFlow(t *testing.T) {
	ws, blocks := newTestServer(t)

	rec := doJSON(t, ws, http.MethodPost, "/api/pools/0/deposit", depositRequest{
		User:   "alice",
		Denom:  "sdai",
		Amount: "1000000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	blocks.Advance(10)

	rec = doJSON(t, ws, http.MethodGet, "/api/pools/0/users/alice/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending struct {
		PendingPoints string `json:"pendingPoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Equal(t, "760000000000000000000", pending.PendingPoints)

	rec = doJSON(t, ws, http.MethodPost, "/api/pools/0/withdraw", withdrawRequest{
		User:   "alice",
		Amount: "1000000000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, ws, http.MethodGet, "/api/pools/0/users/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var record types.UserRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.True(t, record.UserInfo.DepositAmount.IsZero())
	assert.Equal(t, "alice", record.User)
}

func TestErrorStatusMapping(t *testing.T) {
	ws, blocks := newTestServer(t)

	t.Run("unknown pool is 404", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodGet, "/api/pools/9", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed amount is 400", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/pools/0/deposit", depositRequest{
			User: "alice", Denom: "sdai", Amount: "12.5",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong denom is 400", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/pools/0/deposit", depositRequest{
			User: "alice", Denom: "wrong", Amount: "100",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unwhitelisted transfer is 403", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/pools/0/transfer-points", transferPointsRequest{
			Caller: "operator", From: "alice", To: "bob", Amount: "1",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("overdraw is 400", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/pools/0/withdraw", withdrawRequest{
			User: "nobody", Amount: "1",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("deposit after the end is 409", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/admin/end-block", map[string]uint64{
			"endBlock": 5, "withdrawalDelay": 2,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		blocks.SetBlock(5)

		rec = doJSON(t, ws, http.MethodPost, "/api/pools/0/deposit", depositRequest{
			User: "alice", Denom: "sdai", Amount: "100",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestAdminEndpoints(t *testing.T) {
	ws, _ := newTestServer(t)

	t.Run("add pool", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/admin/pools", addPoolRequest{
			Weight: 300, Asset: "wsteth", Description: "Lido wstETH",
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(t, ws, http.MethodGet, "/api/pools", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
	})

	t.Run("duplicate asset rejected", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/admin/pools", addPoolRequest{
			Weight: 300, Asset: "wsteth",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("mismatched weights rejected", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/admin/weights", setWeightsRequest{
			Pids: []types.PoolID{0}, Weights: []uint64{1, 2},
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("block feed", func(t *testing.T) {
		rec := doJSON(t, ws, http.MethodPost, "/api/admin/block", map[string]uint64{"height": 42})
		require.Equal(t, http.StatusOK, rec.Code)
		rec = doJSON(t, ws, http.MethodPost, "/api/admin/block", map[string]uint64{"height": 10})
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Block uint64 `json:"block"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, uint64(42), body.Block)
	})
}

func TestExportSnapshotEndpoint(t *testing.T) {
	ws, blocks := newTestServer(t)
	rec := doJSON(t, ws, http.MethodPost, "/api/pools/0/deposit", depositRequest{
		User: "alice", Denom: "sdai", Amount: "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	blocks.Advance(3)

	rec = doJSON(t, ws, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Users, 1)
	assert.Equal(t, "alice", snap.Users[0].User)
	assert.Equal(t, uint64(3), snap.TakenAtBlock)
}
