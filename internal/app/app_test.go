package app_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiber-niu/heritrix-mongodb-writer/internal/app"
	memorycheckpoint "github.com/hiber-niu/heritrix-mongodb-writer/internal/checkpoint/memory"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/config"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/crawler"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/mongodb"
	"github.com/hiber-niu/heritrix-mongodb-writer/internal/processor"
)

func testConfig() config.Config {
	return config.Config{
		Mongo: config.MongoConfig{
			Host:                "localhost",
			Port:                27017,
			Database:            "crawl",
			Collection:          "pages",
			RemoveMissingPages:  true,
			SeparateHeaders:     true,
			MaxContentSizeBytes: 1 << 20,
		},
		Pool:       config.PoolConfig{MaxActive: 2},
		Checkpoint: config.CheckpointConfig{Backend: config.CheckpointMemory, Name: "run.json"},
		Crawl:      config.CrawlConfig{Parallelism: 1},
	}
}

func TestNewApp_ResumesAndCheckpointsOnClose(t *testing.T) {
	ctx := context.Background()
	store := memorycheckpoint.New()
	seed, err := json.Marshal(processor.State{
		URLsWritten:  7,
		Stats:        map[string]map[string]int64{processor.BucketTotals: {processor.KeyNumDocuments: 7}},
		SerialNumber: 3,
	})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "run.json", seed))

	mongoStore := new(mongodb.MockStore)
	mongoStore.On("InsertOne", mock.Anything, mock.Anything).Return(nil).Once()
	mongoStore.On("Close", mock.Anything).Return(nil).Once()
	connector := new(mongodb.MockConnector)
	connector.On("Connect", mock.Anything, mock.Anything).Return(mongoStore, nil).Once()

	a, err := app.NewApp(ctx, testConfig(),
		app.WithLogger(zap.NewNop()),
		app.WithConnector(connector),
		app.WithCheckpointStore(store),
	)
	require.NoError(t, err)
	assert.NotEmpty(t, a.RunID)
	assert.EqualValues(t, 7, a.Processor.URLsWritten())

	uri := &crawler.URI{
		Location: "https://example.com/",
		Status:   200,
		Seed:     true,
		CaptureRecord: crawler.NewMemoryRecorder(nil,
			[]byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n<html>hi</html>"), ""),
	}
	uri.Size = uri.CaptureRecord.RecordedInput().Size()
	_, err = a.Processor.Process(ctx, uri)
	require.NoError(t, err)
	assert.Empty(t, uri.NonFatalFailures())

	require.NoError(t, a.Close(ctx))

	saved, err := store.Load(ctx, "run.json")
	require.NoError(t, err)
	var state processor.State
	require.NoError(t, json.Unmarshal(saved, &state))
	assert.EqualValues(t, 8, state.URLsWritten)
	assert.EqualValues(t, 8, state.Stats[processor.BucketTotals][processor.KeyNumDocuments])
	assert.EqualValues(t, 4, state.SerialNumber)

	connector.AssertExpectations(t)
	mongoStore.AssertExpectations(t)
}

func TestNewApp_LocalCheckpointBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Checkpoint = config.CheckpointConfig{Backend: config.CheckpointLocal, Dir: t.TempDir(), Name: "run.json"}

	a, err := app.NewApp(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithConnector(new(mongodb.MockConnector)),
	)
	require.NoError(t, err)
	assert.EqualValues(t, 0, a.Processor.URLsWritten())

	require.NoError(t, a.Close(context.Background()))
	data, err := a.Checkpoints.Load(context.Background(), "run.json")
	require.NoError(t, err)
	assert.Contains(t, string(data), `"urlsWritten":0`)
}

func TestNewApp_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{
			name:   "unknown schema field",
			mutate: func(c *config.Config) { c.Mongo.Fields = map[string]string{"nope": "x"} },
		},
		{
			name: "missing local checkpoint dir",
			mutate: func(c *config.Config) {
				c.Checkpoint = config.CheckpointConfig{Backend: config.CheckpointLocal, Name: "run.json"}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := app.NewApp(context.Background(), cfg, app.WithLogger(zap.NewNop()))
			require.Error(t, err)
		})
	}
}

func TestNewApp_CorruptCheckpoint(t *testing.T) {
	store := memorycheckpoint.New()
	require.NoError(t, store.Save(context.Background(), "run.json", []byte("{not json")))

	_, err := app.NewApp(context.Background(), testConfig(),
		app.WithLogger(zap.NewNop()),
		app.WithCheckpointStore(store),
	)
	require.Error(t, err)
}
