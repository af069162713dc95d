package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/app"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint/memory"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/config"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/mongodb"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/processor"
)

const testConfig = `
mongo:
  host: localhost
  database: crawl
  collection: pages
checkpoint:
  backend: memory
  interval: 0s
crawl:
  max_depth: 1
  delay: 0s
  ignore_robots: true
server:
  enabled: false
logging:
  level: error
`

func TestCrawlCommandWritesEveryPage(t *testing.T) {
	site := http.NewServeMux()
	site.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><a href="/a">a</a><a href="/">home</a>`)
	})
	site.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><p>leaf</p>`)
	})
	server := httptest.NewServer(site)
	defer server.Close()

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))

	store := new(mongodb.MockStore)
	store.On("InsertOne", mock.Anything, mock.Anything).Return(nil)
	store.On("Close", mock.Anything).Return(nil).Maybe()
	connector := new(mongodb.MockConnector)
	connector.On("Connect", mock.Anything, mock.Anything).Return(store, nil)
	checkpoints := memory.New()

	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
		return app.NewApp(ctx, cfg,
			app.WithLogger(zap.NewNop()),
			app.WithConnector(connector),
			app.WithCheckpointStore(checkpoints),
			app.WithRegistry(prometheus.NewRegistry()),
		)
	}

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl", server.URL + "/"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	store.AssertNumberOfCalls(t, "InsertOne", 2)

	data, err := checkpoints.Load(context.Background(), "mongodb-writer.json")
	require.NoError(t, err)
	var state processor.State
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, int64(2), state.URLsWritten)
	assert.Equal(t, int64(2), state.Stats[processor.BucketTotals][processor.KeyNumDocuments])
}

func TestCrawlCommandClosesAppOnFailure(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))

	connector := new(mongodb.MockConnector)
	checkpoints := memory.New()
	var created *app.App

	original := newApp
	t.Cleanup(func() { newApp = original })
	newApp = func(ctx context.Context, cfg config.Config) (*app.App, error) {
		a, err := app.NewApp(ctx, cfg,
			app.WithLogger(zap.NewNop()),
			app.WithConnector(connector),
			app.WithCheckpointStore(checkpoints),
			app.WithRegistry(prometheus.NewRegistry()),
		)
		created = a
		return a, err
	}

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	root.SetErr(new(discard))
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed")

	_, err = checkpoints.Load(context.Background(), "mongodb-writer.json")
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.False(t, created.Processor.Ready())
}

func TestRootCommandRejectsBadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("pool:\n  max_active: 0\n"), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"--config", cfgPath, "crawl"})
	root.SetErr(new(discard))
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool.max_active")
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
