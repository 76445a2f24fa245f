package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/BaSui01/hivetrain/checkpoint"
	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/internal/database"
	"github.com/BaSui01/hivetrain/internal/migration"
	"github.com/BaSui01/hivetrain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRunStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "runs.db")}

	m, err := migration.NewMigratorFromDatabaseConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, m.Up(context.Background()))
	require.NoError(t, m.Close())

	pool, err := database.Open(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return checkpoint.NewStore(pool, zap.NewNop())
}

func seedRun(t *testing.T, store *checkpoint.Store, id string, started time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &checkpoint.Run{
		ID: id, State: "running", Workers: 4, Fanout: 2, Depth: 2, ParamCount: 3,
		EpochsPlanned: 10, StartedAt: started,
	}))
	for e := 1; e <= 3; e++ {
		require.NoError(t, store.RecordEpoch(ctx, &checkpoint.EpochRecord{
			RunID: id, Epoch: e, Batches: 4, Loss: 1 / float64(e), Applied: true, LearningRate: 0.1,
		}))
	}
	_, err := store.SaveCheckpoint(ctx, id, 3, 0.33, []float64{1.5, -2, 0.25})
	require.NoError(t, err)
}

func routeRuns(h *RunsHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/runs", h.HandleListRuns)
	mux.HandleFunc("GET /v1/runs/{id}", h.HandleGetRun)
	mux.HandleFunc("GET /v1/runs/{id}/history", h.HandleRunHistory)
	mux.HandleFunc("GET /v1/runs/{id}/checkpoint", h.HandleLatestCheckpoint)
	return mux
}

func serve(mux http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestRunsHandler_WithSQLiteStore(t *testing.T) {
	store := newRunStore(t)
	now := time.Now()
	seedRun(t, store, "run-old", now.Add(-time.Hour))
	seedRun(t, store, "run-new", now)

	mux := routeRuns(NewRunsHandler(store, zap.NewNop()))

	t.Run("list newest first", func(t *testing.T) {
		w := serve(mux, "/v1/runs")
		require.Equal(t, http.StatusOK, w.Code)
		_, runs := decode[[]checkpoint.Run](t, w)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-new", runs[0].ID)

		w = serve(mux, "/v1/runs?limit=1")
		_, runs = decode[[]checkpoint.Run](t, w)
		assert.Len(t, runs, 1)
	})

	t.Run("get", func(t *testing.T) {
		w := serve(mux, "/v1/runs/run-old")
		require.Equal(t, http.StatusOK, w.Code)
		_, run := decode[checkpoint.Run](t, w)
		assert.Equal(t, 4, run.Workers)
		assert.Equal(t, 10, run.EpochsPlanned)
	})

	t.Run("history", func(t *testing.T) {
		w := serve(mux, "/v1/runs/run-new/history?limit=2")
		require.Equal(t, http.StatusOK, w.Code)
		var resp struct {
			Data struct {
				RunID  string `json:"run_id"`
				Epochs []struct {
					Epoch int `json:"epoch"`
				} `json:"epochs"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "run-new", resp.Data.RunID)
		require.Len(t, resp.Data.Epochs, 2)
		assert.Equal(t, 2, resp.Data.Epochs[0].Epoch)
		assert.Equal(t, 3, resp.Data.Epochs[1].Epoch)
	})

	t.Run("checkpoint metadata only", func(t *testing.T) {
		w := serve(mux, "/v1/runs/run-new/checkpoint")
		require.Equal(t, http.StatusOK, w.Code)
		_, cp := decode[checkpointResponse](t, w)
		assert.Equal(t, 3, cp.Epoch)
		assert.Equal(t, 3, cp.ParamCount)
		assert.NotEmpty(t, cp.Checksum)
		assert.Nil(t, cp.Weights)
	})

	t.Run("checkpoint with weights", func(t *testing.T) {
		w := serve(mux, "/v1/runs/run-new/checkpoint?weights=true")
		require.Equal(t, http.StatusOK, w.Code)
		_, cp := decode[checkpointResponse](t, w)
		assert.Equal(t, []float64{1.5, -2, 0.25}, cp.Weights)
	})

	t.Run("unknown run", func(t *testing.T) {
		for _, target := range []string{"/v1/runs/nope", "/v1/runs/nope/history", "/v1/runs/nope/checkpoint"} {
			w := serve(mux, target)
			assert.Equal(t, http.StatusNotFound, w.Code, target)
			resp, _ := decode[json.RawMessage](t, w)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)
		}
	})

	t.Run("bad limit", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, serve(mux, "/v1/runs?limit=x").Code)
		assert.Equal(t, http.StatusBadRequest, serve(mux, "/v1/runs/run-new/history?limit=-3").Code)
	})
}

type brokenStore struct{ cp *checkpoint.Checkpoint }

var errStoreDown = errors.New("connection refused")

func (brokenStore) ListRuns(context.Context, int) ([]checkpoint.Run, error) { return nil, errStoreDown }
func (brokenStore) GetRun(context.Context, string) (*checkpoint.Run, error) { return nil, errStoreDown }
func (brokenStore) History(context.Context, string, int) ([]checkpoint.EpochRecord, error) {
	return nil, errStoreDown
}
func (b brokenStore) LatestCheckpoint(context.Context, string) (*checkpoint.Checkpoint, error) {
	if b.cp != nil {
		return b.cp, nil
	}
	return nil, errStoreDown
}

func TestRunsHandler_StoreFailures(t *testing.T) {
	mux := routeRuns(NewRunsHandler(brokenStore{}, nil))

	assert.Equal(t, http.StatusInternalServerError, serve(mux, "/v1/runs").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(mux, "/v1/runs/r1").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(mux, "/v1/runs/r1/checkpoint").Code)

	t.Run("corrupt checkpoint", func(t *testing.T) {
		corrupt := &checkpoint.Checkpoint{RunID: "r1", Epoch: 2, ParamCount: 1, Data: []byte{1, 2, 3}, Checksum: "bad"}
		mux := routeRuns(NewRunsHandler(brokenStore{cp: corrupt}, nil))

		w := serve(mux, "/v1/runs/r1/checkpoint?weights=1")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp, _ := decode[json.RawMessage](t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(types.ErrCheckpointFailed), resp.Error.Code)

		// 不请求权重时只返回元数据
		assert.Equal(t, http.StatusOK, serve(mux, "/v1/runs/r1/checkpoint").Code)
	})
}

func TestExtractRunID_PathFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/v1/runs/abc/history", nil)
	assert.Equal(t, "abc", extractRunID(r))

	r = httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
	assert.Empty(t, extractRunID(r))
}
