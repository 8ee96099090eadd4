package tactile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notegraph/internal/config"
	"notegraph/internal/store"
	"notegraph/internal/types"
)

func defaultPolicy() Policy {
	return Policy{
		Enabled:             true,
		ConfidenceThreshold: 0.75,
		StrengthThreshold:   7.0,
		MaxPerHour:          15,
		SafeTypes:           []types.ConnectionType{types.ConnectionTemporal, types.ConnectionProject, types.ConnectionThematic},
	}
}

func goodConnection() *types.Connection {
	return &types.Connection{
		Source:     "/v/a.md",
		Target:     "/v/b.md",
		Type:       types.ConnectionThematic,
		Strength:   8,
		Confidence: 0.9,
	}
}

func TestPolicyFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Vault.Path = "/home/me/vault"
	p := PolicyFromConfig(cfg)

	assert.True(t, p.Enabled)
	assert.Equal(t, 0.75, p.ConfidenceThreshold)
	assert.Equal(t, 7.0, p.StrengthThreshold)
	assert.Equal(t, 15, p.MaxPerHour)
	assert.Equal(t, defaultPolicy().SafeTypes, p.SafeTypes)
	assert.Equal(t, "/home/me/.notegraph_backups", p.BackupDir)
}

func TestShouldAutoApply_AllConditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy, c *types.Connection)
		want   bool
	}{
		{"all hold", func(*Policy, *types.Connection) {}, true},
		{"low confidence", func(_ *Policy, c *types.Connection) { c.Confidence = 0.74 }, false},
		{"low strength", func(_ *Policy, c *types.Connection) { c.Strength = 6.9 }, false},
		{"unsafe type", func(_ *Policy, c *types.Connection) { c.Type = types.ConnectionPersonal }, false},
		{"disabled", func(p *Policy, _ *types.Connection) { p.Enabled = false }, false},
		{"cap zero", func(p *Policy, _ *types.Connection) { p.MaxPerHour = 0 }, false},
		{"thresholds inclusive", func(_ *Policy, c *types.Connection) { c.Confidence = 0.75; c.Strength = 7 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := defaultPolicy()
			c := goodConnection()
			tt.mutate(&p, c)
			assert.Equal(t, tt.want, NewLinkApplier(p, nil).ShouldAutoApply(c))
		})
	}
}

func TestShouldAutoApply_FalseAtCapAndResetsHourly(t *testing.T) {
	a := NewLinkApplier(defaultPolicy(), nil)
	clock := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	a.mu.Lock()
	a.rollover()
	a.count = 15
	a.mu.Unlock()

	assert.False(t, a.ShouldAutoApply(goodConnection()))
	assert.Equal(t, 15, a.AppliedThisHour())

	clock = clock.Add(time.Hour)
	assert.True(t, a.ShouldAutoApply(goodConnection()), "counter resets on hour rollover")
	assert.Equal(t, 0, a.AppliedThisHour())
}

type fixedCounter struct {
	n     int
	since time.Time
}

func (f *fixedCounter) CountAppliedSince(since time.Time) (int, error) {
	f.since = since
	return f.n, nil
}

func TestSeedHour_RestoresCountFromCounter(t *testing.T) {
	p := defaultPolicy()
	p.MaxPerHour = 2
	a := NewLinkApplier(p, nil)
	clock := time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }

	counter := &fixedCounter{n: 2}
	require.NoError(t, a.SeedHour(counter))
	assert.True(t, counter.since.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)), "counts from the top of the hour")
	assert.Equal(t, 2, a.AppliedThisHour())
	assert.False(t, a.ShouldAutoApply(goodConnection()), "seeded count reaches the cap")

	counter.n = 1
	require.NoError(t, a.SeedHour(counter))
	assert.Equal(t, 2, a.AppliedThisHour(), "seeding never lowers the count")
}

func TestSeedHour_FreshApplierRespectsEarlierRun(t *testing.T) {
	dir := writeVault(t, map[string]string{"a.md": "# A\n", "b.md": "# B\n", "c.md": "# C\n"})
	st, err := store.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer st.Close()

	p := defaultPolicy()
	p.MaxPerHour = 1
	var conns []*types.Connection
	for _, target := range []string{"b.md", "c.md"} {
		c := goodConnection()
		c.Source = filepath.Join(dir, "a.md")
		c.Target = filepath.Join(dir, target)
		require.NoError(t, st.InsertConnection(c))
		conns = append(conns, c)
	}

	first := NewLinkApplier(p, st)
	require.NoError(t, first.SeedHour(st))
	require.True(t, first.ShouldAutoApply(conns[0]))
	require.True(t, first.Apply(context.Background(), conns[0]))

	second := NewLinkApplier(p, st)
	require.NoError(t, second.SeedHour(st))
	assert.Equal(t, 1, second.AppliedThisHour())
	assert.False(t, second.ShouldAutoApply(conns[1]))
}

func writeVault(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return dir
}

func TestApply_UnderExistingHeadingAddsOneLine(t *testing.T) {
	dir := writeVault(t, map[string]string{
		"a.md": "# A\n\nText\n\n## Related Notes\n- [[C]]\n",
		"b.md": "# B\n",
	})
	conn := goodConnection()
	conn.Source = filepath.Join(dir, "a.md")
	conn.Target = filepath.Join(dir, "b.md")

	a := NewLinkApplier(defaultPolicy(), nil)
	require.True(t, a.Apply(context.Background(), conn))

	data, err := os.ReadFile(conn.Source)
	require.NoError(t, err)
	got := string(data)
	assert.Equal(t, "# A\n\nText\n\n## Related Notes\n- [[b]]\n- [[C]]\n", got)
	assert.Equal(t, 1, strings.Count(got, "## Related Notes"))
	assert.True(t, conn.Applied)
	assert.Equal(t, 1, a.AppliedThisHour())
}

func TestApply_EndToEndWithStore(t *testing.T) {
	dir := writeVault(t, map[string]string{
		"garden.md":  "# Garden\n\nTomatoes need water.",
		"harvest.md": "# Harvest\n",
	})
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	conn := &types.Connection{
		Source:        filepath.Join(dir, "garden.md"),
		Target:        filepath.Join(dir, "harvest.md"),
		Type:          types.ConnectionThematic,
		Strength:      8,
		Confidence:    0.9,
		SuggestedLink: "when to pick",
	}
	require.NoError(t, st.InsertConnection(conn))

	a := NewLinkApplier(defaultPolicy(), st)
	require.Equal(t, 0, a.AppliedThisHour())
	require.True(t, a.ShouldAutoApply(conn))
	require.True(t, a.Apply(context.Background(), conn))

	data, err := os.ReadFile(conn.Source)
	require.NoError(t, err)
	assert.Equal(t, "# Garden\n\nTomatoes need water.\n\n## Related Notes\n\n- [[harvest]] - when to pick\n", string(data))

	stored, err := st.GetConnection(conn.ID)
	require.NoError(t, err)
	assert.True(t, stored.Applied)
	assert.NotNil(t, stored.AppliedAt)

	log, err := st.RecentProcessing(10)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, store.ActionApply, log[0].Action)
	assert.Equal(t, store.StatusSuccess, log[0].Status)
}

func TestApply_MissingFiles(t *testing.T) {
	dir := writeVault(t, map[string]string{"a.md": "A"})
	conn := goodConnection()
	conn.Source = filepath.Join(dir, "a.md")
	conn.Target = filepath.Join(dir, "missing.md")

	a := NewLinkApplier(defaultPolicy(), nil)
	assert.False(t, a.Apply(context.Background(), conn))
	data, _ := os.ReadFile(conn.Source)
	assert.Equal(t, "A", string(data), "source untouched")
	assert.Equal(t, 0, a.AppliedThisHour())

	conn.Source = filepath.Join(dir, "gone.md")
	conn.Target = filepath.Join(dir, "a.md")
	assert.False(t, a.Apply(context.Background(), conn))
}

func TestApply_BackupBeforeModify(t *testing.T) {
	dir := writeVault(t, map[string]string{"a.md": "original", "b.md": "B"})
	backups := filepath.Join(dir, "backups")

	p := defaultPolicy()
	p.BackupBeforeModify = true
	p.BackupDir = backups

	conn := goodConnection()
	conn.Source = filepath.Join(dir, "a.md")
	conn.Target = filepath.Join(dir, "b.md")
	require.True(t, NewLinkApplier(p, nil).Apply(context.Background(), conn))

	entries, err := os.ReadDir(backups)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "a."))
	saved, err := os.ReadFile(filepath.Join(backups, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "original", string(saved))
}

func TestApply_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, NewLinkApplier(defaultPolicy(), nil).Apply(ctx, goodConnection()))
}
