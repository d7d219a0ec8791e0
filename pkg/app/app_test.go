package app

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"agrimarket/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

// execute runs the command tree and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(zaptest.NewLogger(t).Sugar())
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeConfig saves a config whose database lives in the test's temp dir.
func writeConfig(t *testing.T, edit func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(dir, "agrimarket.db")
	cfg.Database.ConnectAttempts = 1
	if edit != nil {
		edit(cfg)
	}
	path := filepath.Join(dir, "agrimarket.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "agrimarket dev")
	assert.Contains(t, out, "commit none")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "agrimarket.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	_, err = execute(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default().Pricing.MinimumFare, cfg.Pricing.MinimumFare)
}

func TestQuoteCommand(t *testing.T) {
	path := writeConfig(t, nil)

	out, err := execute(t, "--config", path, "quote", "--distance", "10", "--weight", "200", "--vehicle", "mini_truck")
	require.NoError(t, err)
	assert.Equal(t, "mini_truck, 10 km, 200 kg: 530.00\n", out)

	_, err = execute(t, "--config", path, "quote", "--distance", "10", "--weight", "200", "--vehicle", "rocket")
	assert.Error(t, err)

	_, err = execute(t, "--config", path, "quote", "--distance", "NaN", "--weight", "200")
	assert.ErrorContains(t, err, "finite")

	_, err = execute(t, "--config", path, "quote", "--weight", "200")
	assert.ErrorContains(t, err, "distance")
}

func TestMigrateAndAdminCreate(t *testing.T) {
	path := writeConfig(t, nil)

	out, err := execute(t, "--config", path, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date")

	out, err = execute(t, "--config", path, "admin", "create", "--name", "Desk", "--phone", "+919800000000", "--role", "support", "--pin", "4321")
	require.NoError(t, err)
	assert.Contains(t, out, "created support")

	_, err = execute(t, "--config", path, "admin", "create", "--name", "Desk", "--phone", "+919800000000", "--role", "support", "--pin", "4321")
	assert.ErrorContains(t, err, "already registered")

	_, err = execute(t, "--config", path, "admin", "create", "--name", "Ravi", "--phone", "+919800000001", "--role", "farmer", "--pin", "4321")
	assert.ErrorContains(t, err, "admin or support")
}

func TestServeStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	path := writeConfig(t, func(c *config.Config) {
		c.Server.Port = port
		c.Sweeper.Interval = "50ms"
	})
	cfg, err := config.Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, zaptest.NewLogger(t).Sugar()) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestRedirectHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	redirectHandler("market.example").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/bids?status=open", nil))
	assert.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "https://market.example/api/bids?status=open", rec.Header().Get("Location"))
}

func TestGenerateCertificate(t *testing.T) {
	cert, err := generateCertificate("market.example")
	require.NoError(t, err)
	require.Len(t, cert.Certificate, 1)
	assert.NotNil(t, cert.PrivateKey)
}
