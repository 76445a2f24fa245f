package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/testutil"
	"github.com/BaSui01/hivetrain/trainer"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Server.HTTPPort = 0
	cfg.Server.APIKeys = []string{"admin-key"}
	cfg.Server.RateLimitRPS = 0
	cfg.Scheduler.WorkerCount = 4
	cfg.Scheduler.Fanout = 2
	cfg.Trainer.Epochs = 3
	cfg.Trainer.Dataset = config.DatasetConfig{
		Features:  4,
		Examples:  256,
		BatchSize: 16,
		Noise:     0.01,
		Seed:      7,
	}
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s := NewServer(cfg, "", zap.NewNop(), zap.NewAtomicLevelAt(zapcore.InfoLevel))
	require.NoError(t, s.Init(testutil.TestContext(t)))
	t.Cleanup(s.Shutdown)
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

func getJSON(t *testing.T, h http.Handler, path string) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w.Code, env
}

func TestServer_Routes(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.handler(testutil.TestContext(t))

	for _, path := range []string{"/healthz", "/ready", "/version", "/v1/snapshot", "/v1/training", "/v1/history"} {
		code, _ := getJSON(t, h, path)
		assert.Equal(t, http.StatusOK, code, path)
	}

	// 未启用数据库时不注册 runs 路由
	code, _ := getJSON(t, h, "/v1/runs")
	assert.Equal(t, http.StatusNotFound, code)

	// 方法不匹配
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/snapshot", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_AdminRoutesRequireCredentials(t *testing.T) {
	s := newTestServer(t, testConfig())
	h := s.handler(testutil.TestContext(t))

	body := `{"learning_rate": 0.02}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/training/hyperparams", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/config", nil)
	r.Header.Set("X-API-Key", "admin-key")
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_HotReloadAppliesToTrainer(t *testing.T) {
	s := newTestServer(t, testConfig())

	require.NoError(t, s.hotReloadManager.UpdateField("Scheduler.LearningRate", 0.02))
	assert.Equal(t, 0.02, s.trainer.Schedule().BaseLR)

	require.NoError(t, s.hotReloadManager.UpdateField("Trainer.Epochs", 7))
	assert.Equal(t, 7, s.trainer.Schedule().DecayEpochs)

	require.NoError(t, s.hotReloadManager.UpdateField("Log.Level", "debug"))
	assert.Equal(t, zapcore.DebugLevel, s.level.Level())

	// 非法值被训练循环拒绝，整次变更回滚
	err := s.hotReloadManager.UpdateField("Trainer.MinLearningRate", 1.0)
	assert.Error(t, err)
	assert.Equal(t, 0.001, s.hotReloadManager.GetConfig().Trainer.MinLearningRate)
}

func TestServer_RunExitsWhenTrainingDone(t *testing.T) {
	s := newTestServer(t, testConfig())
	s.exitWhenDone = true

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.Run(ctx))

	st := s.trainer.Status()
	assert.Equal(t, trainer.StateCompleted, st.State)
	assert.Equal(t, 3, st.EpochsDone)
}

func TestPolicyDiff(t *testing.T) {
	oldCfg := config.DefaultTrainerConfig()
	_, changed := policyDiff(oldCfg, oldCfg)
	assert.False(t, changed)

	newCfg := oldCfg
	newCfg.KeepCheckpoints = 10
	p, changed := policyDiff(oldCfg, newCfg)
	require.True(t, changed)
	require.NotNil(t, p.KeepCheckpoints)
	assert.Equal(t, 10, *p.KeepCheckpoints)
	assert.Nil(t, p.Epochs)
}
