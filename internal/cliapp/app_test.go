package cliapp

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadcounts/internal/config"
	"preloadcounts/internal/dbexec"
	"preloadcounts/internal/logging"
)

const (
	postsQuery = "SELECT `posts`.*, " +
		"(SELECT COUNT(*) FROM `comments` WHERE `comments`.`post_id` = `posts`.`id` AND 1 = 1) AS `comments_count`, " +
		"(SELECT COUNT(*) FROM `comments` WHERE `comments`.`post_id` = `posts`.`id` AND `comments`.`id` % ? = ?) AS `with_even_id_comments_count` " +
		"FROM `posts`"
)

func testLogger() *logging.Logger {
	return logging.NewLogger(logging.Config{Level: "error", Format: "text", Writer: &bytes.Buffer{}})
}

func testConfig() *config.Config {
	return &config.Config{
		Observability: config.ObservabilityConfig{
			ServiceName: "preloadcounts-test",
			Logging:     config.LoggingConfig{Level: "error", Format: "text"},
		},
		Models: []config.ModelConfig{
			{
				Name:          "Post",
				Relationships: []config.RelationshipConfig{{Name: "comments"}},
				Preload:       []config.PreloadConfig{{Relationship: "comments", Scopes: []string{"with_even_id"}}},
			},
			{
				Name: "Comment",
				Scopes: map[string]map[string]interface{}{
					"with_even_id": {"id": map[string]interface{}{"mod": []interface{}{2, 0}}},
				},
			},
		},
	}
}

func offlineApp(t *testing.T) *App {
	t.Helper()
	app, err := New(testConfig(), testLogger(), Options{Offline: true})
	require.NoError(t, err)
	require.NoError(t, app.Init(context.Background()))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })
	return app
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, testLogger(), Options{})
	assert.Error(t, err)
	_, err = New(testConfig(), nil, Options{})
	assert.Error(t, err)
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: testLogger()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	var s cleanupStack
	s.push("first", func(context.Context) error { order = append(order, "first"); return nil })
	s.push("second", func(context.Context) error { order = append(order, "second"); return errors.New("ignored") })
	s.push("third", func(context.Context) error { order = append(order, "third"); return nil })

	s.run(context.Background(), testLogger())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestRun_BeforeInitFails(t *testing.T) {
	app, err := New(testConfig(), testLogger(), Options{Offline: true})
	require.NoError(t, err)

	err = app.Run(context.Background(), RunOptions{Entity: "Post", Explain: true, Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestInit_Idempotent(t *testing.T) {
	app := offlineApp(t)
	cat := app.Catalog()
	require.NotNil(t, cat)

	require.NoError(t, app.Init(context.Background()))
	assert.Same(t, cat, app.Catalog())
}

func TestInit_CatalogErrorsSurface(t *testing.T) {
	cfg := testConfig()
	cfg.Models[0].Preload[0].Scopes = []string{"pinned"}

	app, err := New(cfg, testLogger(), Options{Offline: true})
	require.NoError(t, err)
	err = app.Init(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build model catalog")
}

func TestRun_Explain(t *testing.T) {
	app := offlineApp(t)

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), RunOptions{Entity: "Post", Explain: true, Out: &out}))

	text := out.String()
	assert.Contains(t, text, "-- entity: Post\n")
	assert.Contains(t, text, "-- operations: preload_comment_counts\n")
	assert.Contains(t, text, "-- accessors: comments_count, with_even_id_comments_count\n")
	assert.Contains(t, text, "-- statement: "+postsQuery+"\n")
	assert.Contains(t, text, "-- args: [2 0]\n")
	assert.Contains(t, text, strings.Replace(postsQuery, "% ? = ?", "% 2 = 0", 1)+";\n")
}

func TestRun_ExplainWithLimit(t *testing.T) {
	app := offlineApp(t)

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), RunOptions{Entity: "Post", Limit: 5, Explain: true, Out: &out}))
	assert.Contains(t, out.String(), "ORDER BY `posts`.`id` LIMIT 5")
}

func TestRun_UnknownEntity(t *testing.T) {
	app := offlineApp(t)

	err := app.Run(context.Background(), RunOptions{Entity: "Comment", Explain: true, Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: Post")
}

func TestRun_UndeclaredRelationship(t *testing.T) {
	app := offlineApp(t)

	err := app.Run(context.Background(), RunOptions{Entity: "Post", Relationships: []string{"votes"}, Explain: true, Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no preload counts declared for votes")
}

func TestRun_ExecuteRequiresDatabase(t *testing.T) {
	app := offlineApp(t)

	err := app.Run(context.Background(), RunOptions{Entity: "Post", Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a database connection")
}

func TestRun_Execute(t *testing.T) {
	app := offlineApp(t)

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	app.executor = dbexec.NewStandardExecutor(db)

	mock.ExpectQuery(regexp.QuoteMeta(postsQuery)).
		WithArgs(int64(2), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "comments_count", "with_even_id_comments_count"}).
			AddRow(int64(1), "First", int64(3), int64(1)).
			AddRow(int64(2), "Second", int64(2), nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `comments`.* FROM `comments` WHERE `comments`.`post_id` = ? AND `comments`.`id` % ? = ?")).
		WithArgs(int64(2), int64(2), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), RunOptions{Entity: "Post", Out: &out}))

	assert.Equal(t,
		`{"comments_count":3,"id":1,"with_even_id_comments_count":1}`+"\n"+
			`{"comments_count":2,"id":2,"with_even_id_comments_count":1}`+"\n",
		out.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_ExecutePropagatesLoadErrors(t *testing.T) {
	app := offlineApp(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	app.executor = dbexec.NewStandardExecutor(db)

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	err = app.Run(context.Background(), RunOptions{Entity: "Post", Out: &bytes.Buffer{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

type fakePinger struct {
	failures int
	calls    int
}

func (p *fakePinger) PingContext(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForDatabase(t *testing.T) {
	t.Run("zero timeout tries once", func(t *testing.T) {
		p := &fakePinger{failures: 1}
		err := waitForDatabase(context.Background(), 0, testLogger(), p)
		require.Error(t, err)
		assert.Equal(t, 1, p.calls)
	})

	t.Run("gives up before the deadline", func(t *testing.T) {
		p := &fakePinger{failures: 10}
		err := waitForDatabase(context.Background(), 100*time.Millisecond, testLogger(), p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database not available")
		assert.Equal(t, 1, p.calls)
	})

	t.Run("retries until reachable", func(t *testing.T) {
		p := &fakePinger{failures: 1}
		err := waitForDatabase(context.Background(), 5*time.Second, testLogger(), p)
		require.NoError(t, err)
		assert.Equal(t, 2, p.calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p := &fakePinger{}
		err := waitForDatabase(ctx, time.Second, testLogger(), p)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, p.calls)
	})
}

func TestInitMetrics(t *testing.T) {
	cfg := testConfig()

	mp, metrics, err := initMetrics(cfg, testLogger())
	require.NoError(t, err)
	assert.Nil(t, mp)
	assert.Nil(t, metrics)

	cfg.Observability.MetricsEnabled = true
	mp, metrics, err = initMetrics(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, mp)
	require.NotNil(t, metrics)
	assert.NoError(t, mp.Shutdown(context.Background(), testLogger().Logger))
}

func TestTelemetryConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.TraceSampleRatio = 0.25
	otlp := config.OTLPConfig{Endpoint: "collector:4317", Protocol: "grpc", Headers: map[string]string{"k": "v"}}

	got := telemetryConfig(cfg, otlp)
	assert.Equal(t, "preloadcounts-test", got.ServiceName)
	assert.Equal(t, 0.25, got.TraceSampleRatio)
	assert.Equal(t, "collector:4317", got.OTLPConfig.Endpoint)
	assert.Equal(t, map[string]string{"k": "v"}, got.OTLPConfig.Headers)
}
