package manager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/config"
	"github.com/2389/assistant-manager/internal/console"
	"github.com/2389/assistant-manager/internal/store"
)

const owner int64 = 1

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OwnerID: owner,
		Bulk:    config.BulkConfig{MinDelay: time.Millisecond},
		Health: config.HealthConfig{
			Interval:     time.Hour,
			ProbeTimeout: time.Second,
			Concurrency:  2,
		},
		Database: config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "manager.db")},
		Security: config.SecurityConfig{CredentialsKey: base64.StdEncoding.EncodeToString(make([]byte, 32))},
		HTTP:     config.HTTPConfig{Addr: "127.0.0.1:0"},
	}
}

func addViaConsole(t *testing.T, m *Manager, token string) console.Response {
	t.Helper()
	ctx := context.Background()
	c := m.Console()
	c.Dispatch(ctx, owner, console.ActionAddAssistant, nil)
	c.Input(ctx, owner, "1")
	c.Input(ctx, owner, "https://hs.example.org")
	return c.Input(ctx, owner, token)
}

func TestAddPersistsSealedCredentials(t *testing.T) {
	cfg := testConfig(t)
	d := assistant.NewMockDialer()
	d.Add("secret-token", assistant.NewMockSession(101, "@bot:example.org"))

	m, err := newWithDialer(context.Background(), cfg, d, nil)
	require.NoError(t, err)

	resp := addViaConsole(t, m, "secret-token")
	assert.Contains(t, resp.Text, "@bot:example.org")
	require.NoError(t, m.Close())

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.GetAssistant(context.Background(), 101)
	require.NoError(t, err)
	assert.NotContains(t, string(rec.Credentials), "secret-token")
	assert.Equal(t, store.HealthOnline, rec.Health)
}

func TestRunReconnectsAndServesStatus(t *testing.T) {
	cfg := testConfig(t)
	d := assistant.NewMockDialer()
	d.Add("tok-1", assistant.NewMockSession(101, "@one:example.org"))
	d.Add("tok-2", assistant.NewMockSession(102, "@two:example.org"))

	first, err := newWithDialer(context.Background(), cfg, d, nil)
	require.NoError(t, err)
	addViaConsole(t, first, "tok-1")
	addViaConsole(t, first, "tok-2")
	require.NoError(t, first.Close())

	// tok-2 no longer connects on restart.
	restart := assistant.NewMockDialer()
	restart.Add("tok-1", assistant.NewMockSession(101, "@one:example.org"))

	m, err := newWithDialer(context.Background(), cfg, restart, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	addr, err := m.HTTPAddr(waitCtx)
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/v1/assistants")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Assistants []struct {
			ID     int64  `json:"id"`
			Health string `json:"health"`
			Live   bool   `json:"live"`
		} `json:"assistants"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Assistants, 2)
	assert.Equal(t, int64(101), body.Assistants[0].ID)
	assert.True(t, body.Assistants[0].Live)
	assert.Equal(t, int64(102), body.Assistants[1].ID)
	assert.False(t, body.Assistants[1].Live)
	assert.Equal(t, "OFFLINE", body.Assistants[1].Health)

	audit, err := http.Get("http://" + addr + "/v1/audit?limit=1")
	require.NoError(t, err)
	defer audit.Body.Close()
	var records struct {
		Records []struct {
			Kind string `json:"kind"`
		} `json:"records"`
	}
	require.NoError(t, json.NewDecoder(audit.Body).Decode(&records))
	require.Len(t, records.Records, 1)
	assert.Equal(t, "assistant.load", records.Records[0].Kind)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCheckOnce(t *testing.T) {
	cfg := testConfig(t)
	d := assistant.NewMockDialer()
	healthy := assistant.NewMockSession(101, "@one:example.org")
	d.Add("tok-1", healthy)
	d.Add("tok-2", assistant.NewMockSession(102, "@two:example.org"))

	first, err := newWithDialer(context.Background(), cfg, d, nil)
	require.NoError(t, err)
	addViaConsole(t, first, "tok-1")
	addViaConsole(t, first, "tok-2")
	require.NoError(t, first.Close())

	again := assistant.NewMockDialer()
	again.Add("tok-1", assistant.NewMockSession(101, "@one:example.org"))
	again.Add("tok-2", assistant.NewMockSession(102, "@two:example.org").
		Script(assistant.OpProbe, assistant.Failed(errors.New("token revoked"))))

	m, err := newWithDialer(context.Background(), cfg, again, nil)
	require.NoError(t, err)

	rep, err := m.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Count(assistant.HealthOnline))
	assert.Equal(t, 1, rep.Count(assistant.HealthOffline))
}

func TestWrongKeyLeavesAssistantsOffline(t *testing.T) {
	cfg := testConfig(t)
	d := assistant.NewMockDialer()
	d.Add("tok-1", assistant.NewMockSession(101, "@one:example.org"))

	first, err := newWithDialer(context.Background(), cfg, d, nil)
	require.NoError(t, err)
	addViaConsole(t, first, "tok-1")
	require.NoError(t, first.Close())

	other := make([]byte, 32)
	other[0] = 1
	cfg.Security.CredentialsKey = base64.StdEncoding.EncodeToString(other)

	m, err := newWithDialer(context.Background(), cfg, d, nil)
	require.NoError(t, err)
	rep, err := m.CheckOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Outcomes)

	s, err := store.NewSQLiteStore(cfg.Database.Path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.GetAssistant(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, store.HealthOffline, rec.Health)
}

func TestInvalidKeyFailsStartup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Security.CredentialsKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 16)))

	_, err := newWithDialer(context.Background(), cfg, assistant.NewMockDialer(), nil)
	require.Error(t, err)
}
