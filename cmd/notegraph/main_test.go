package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"notegraph/internal/config"
	"notegraph/internal/control"
	"notegraph/internal/store"
	"notegraph/internal/system"
	"notegraph/internal/types"
)

func init() {
	logger = zap.NewNop()
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	outCh := make(chan string)
	errCh := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		outCh <- buf.String()
	}()
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rErr)
		errCh <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-outCh + <-errCh
}

// execute runs the root command with fresh flag state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	verbose = false
	configPath = defaultConfigFile
	vaultFlag = ""
	addrFlag = ""
	statusFormat = "text"
	minScore = control.DefaultMinScore
	minConfidence = control.DefaultMinConfidence
	applyPending = false
	forceInit = false

	for _, k := range []string{"NOTEGRAPH_VAULT", "NOTEGRAPH_DB", "NOTEGRAPH_LISTEN"} {
		t.Setenv(k, "")
	}

	var err error
	out := captureOutput(t, func() {
		rootCmd.SetArgs(args)
		err = rootCmd.Execute()
	})
	return out, err
}

type fakeController struct {
	forced  []string
	applies int
}

func (f *fakeController) Status() system.Status {
	return system.Status{
		Service:    system.ServiceStatus{Running: true, InstanceID: "inst-1", Loops: map[string]bool{"scanner": true, "discovery": false}},
		Processing: system.ProcessingStatus{QueueSize: 3, FilesProcessed: 42, ConnectionsFound: 5},
		Errors:     map[string]int64{},
	}
}

func (f *fakeController) ForceAnalysis(ctx context.Context, path string) (int, error) {
	f.forced = append(f.forced, path)
	return 9, nil
}

func (f *fakeController) ApplyPending(ctx context.Context, minScore, minConfidence float64) (system.ApplyReport, error) {
	f.applies++
	return system.ApplyReport{Considered: 2, Applied: 1, Skipped: 1}, nil
}

func (f *fakeController) PendingConnections(minScore, minConfidence float64) ([]*types.Connection, error) {
	return nil, nil
}

func startFakeService(t *testing.T) (*fakeController, string) {
	t.Helper()
	ctrl := &fakeController{}
	srv := httptest.NewServer(control.NewServer(ctrl, prometheus.NewRegistry()).Handler())
	t.Cleanup(srv.Close)
	return ctrl, srv.URL
}

func TestInitWritesConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "notegraph.yaml")
	vault := filepath.Join(dir, "vault")

	out, err := execute(t, "init", "-c", path, "--vault", vault)
	require.NoError(t, err)
	assert.Contains(t, out, "wrote "+path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, vault, cfg.Vault.Path)
	assert.Equal(t, 50, cfg.Discovery.Window)

	_, err = execute(t, "init", "-c", path)
	assert.Error(t, err, "existing config is not overwritten without --force")

	_, err = execute(t, "init", "-c", path, "--force")
	assert.NoError(t, err)
}

func TestStatusJSON(t *testing.T) {
	_, url := startFakeService(t)

	out, err := execute(t, "status", "--addr", url, "--format", "json")
	require.NoError(t, err)

	var st system.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "inst-1", st.Service.InstanceID)
	assert.Equal(t, int64(42), st.Processing.FilesProcessed)
}

func TestStatusText(t *testing.T) {
	_, url := startFakeService(t)

	out, err := execute(t, "status", "--addr", url)
	require.NoError(t, err)
	assert.Contains(t, out, "notegraph running")
	assert.Contains(t, out, "inst-1")
	assert.Contains(t, out, "discovery=down scanner=up")
}

func TestStatusUnreachable(t *testing.T) {
	_, err := execute(t, "status", "--addr", "127.0.0.1:1")
	assert.Error(t, err)
}

func TestForceAll(t *testing.T) {
	ctrl, url := startFakeService(t)

	out, err := execute(t, "force", "--addr", url)
	require.NoError(t, err)
	assert.Contains(t, out, "queued 9 document(s)")
	assert.Equal(t, []string{""}, ctrl.forced)
}

func TestPrintStatusUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	err := printStatus(&buf, &system.Status{}, "xml")
	assert.Error(t, err)
}

// writeStoreConfig creates a vault and a result store holding conns, and
// returns the path of a config pointing at them. No service listens on the
// configured control address.
func writeStoreConfig(t *testing.T, conns ...*types.Connection) string {
	return writeStoreConfigWith(t, nil, conns...)
}

func writeStoreConfigWith(t *testing.T, edit func(*config.Config), conns ...*types.Connection) string {
	t.Helper()
	dir := t.TempDir()
	vault := filepath.Join(dir, "vault")
	require.NoError(t, os.MkdirAll(vault, 0755))

	cfg := config.DefaultConfig()
	cfg.Vault.Path = vault
	cfg.Vault.DatabasePath = filepath.Join(dir, "results.db")
	cfg.Safety.BackupBeforeModify = false
	cfg.Control.ListenAddr = "127.0.0.1:1"
	if edit != nil {
		edit(cfg)
	}
	cfgPath := filepath.Join(dir, "notegraph.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	st, err := store.Open(cfg.Vault.DatabasePath)
	require.NoError(t, err)
	for _, c := range conns {
		require.NoError(t, st.InsertConnection(c))
	}
	require.NoError(t, st.Close())
	return cfgPath
}

func TestConnectionsList(t *testing.T) {
	cfgPath := writeStoreConfig(t,
		&types.Connection{
			Source: "/v/garden.md", Target: "/v/harvest.md",
			Type: types.ConnectionThematic, Strength: 8, Confidence: 0.9, Reason: "both about tomatoes",
			DiscoveredAt: time.Now(),
		},
		&types.Connection{
			Source: "/v/a.md", Target: "/v/b.md",
			Type: types.ConnectionThematic, Strength: 3, Confidence: 0.9,
			DiscoveredAt: time.Now(),
		},
	)

	out, err := execute(t, "connections", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "garden -> harvest")
	assert.Contains(t, out, "both about tomatoes")
	assert.NotContains(t, out, "a -> b", "below the default minimum score")

	out, err = execute(t, "connections", "-c", cfgPath, "--min-score", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "a -> b")
}

func TestConnectionsApply(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plan.md")
	dst := filepath.Join(dir, "budget.md")
	require.NoError(t, os.WriteFile(src, []byte("# Plan\n\nShip it.\n"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("# Budget\n"), 0644))

	cfgPath := writeStoreConfig(t,
		&types.Connection{
			Source: src, Target: dst,
			Type: types.ConnectionProject, Strength: 9, Confidence: 0.95,
			DiscoveredAt: time.Now(),
		},
		&types.Connection{
			Source: src, Target: dst,
			Type: types.ConnectionPersonal, Strength: 9, Confidence: 0.95,
			DiscoveredAt: time.Now(),
		},
	)

	out, err := execute(t, "connections", "-c", cfgPath, "--apply")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 of 2 (1 skipped by policy)")

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n\nShip it.\n\n## Related Notes\n\n- [[budget]]\n", string(data))

	out, err = execute(t, "connections", "-c", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "project", "applied connections are no longer pending")
}

func TestConnectionsApplyHonorsHourlyCapAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "plan.md")
	require.NoError(t, os.WriteFile(src, []byte("# Plan\n"), 0644))

	var conns []*types.Connection
	for _, name := range []string{"alpha", "beta", "gamma"} {
		dst := filepath.Join(dir, name+".md")
		require.NoError(t, os.WriteFile(dst, []byte("# "+name+"\n"), 0644))
		conns = append(conns, &types.Connection{
			Source: src, Target: dst,
			Type: types.ConnectionProject, Strength: 9, Confidence: 0.95,
			DiscoveredAt: time.Now(),
		})
	}
	cfgPath := writeStoreConfigWith(t, func(c *config.Config) { c.AutoApply.MaxPerHour = 1 }, conns...)

	out, err := execute(t, "connections", "-c", cfgPath, "--apply")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 of 3 (2 skipped by policy)")

	for i := 0; i < 2; i++ {
		out, err = execute(t, "connections", "-c", cfgPath, "--apply")
		require.NoError(t, err)
		assert.Contains(t, out, "applied 0 of 2", "cap already spent this hour")
	}

	data, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "- [["), "one link per hour across separate runs")
}

func TestConnectionsApplyUsesRunningService(t *testing.T) {
	ctrl, url := startFakeService(t)
	cfgPath := writeStoreConfig(t, &types.Connection{
		Source: "/v/plan.md", Target: "/v/budget.md",
		Type: types.ConnectionProject, Strength: 9, Confidence: 0.95,
		DiscoveredAt: time.Now(),
	})

	out, err := execute(t, "connections", "-c", cfgPath, "--addr", url, "--apply")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 1 of 2 (1 skipped by policy)")
	assert.Equal(t, 1, ctrl.applies)
}

func TestConnectionsMissingStore(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Vault.Path = filepath.Join(dir, "vault")
	cfg.Vault.DatabasePath = filepath.Join(dir, "absent.db")
	cfgPath := filepath.Join(dir, "notegraph.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	_, err := execute(t, "connections", "-c", cfgPath)
	assert.Error(t, err)
}

func TestLoadConfigAppliesLogLevel(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Vault.Path = dir
	cfg.Logging.Level = "error"
	cfgPath := filepath.Join(dir, "notegraph.yaml")
	require.NoError(t, cfg.Save(cfgPath))

	origLogger := logger
	t.Cleanup(func() {
		logger = origLogger
		verbose = false
		configPath = defaultConfigFile
	})
	configPath = cfgPath
	vaultFlag = ""
	addrFlag = ""

	verbose = false
	_, err := loadConfig()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel), "info dropped at error level")
	assert.True(t, logger.Core().Enabled(zap.ErrorLevel))

	verbose = true
	_, err = loadConfig()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel), "--verbose wins over the config level")
}
