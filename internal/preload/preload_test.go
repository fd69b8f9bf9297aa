package preload

import (
	"bytes"
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"preloadcounts/internal/dbexec"
	"preloadcounts/internal/model"
	"preloadcounts/internal/naming"
	"preloadcounts/internal/predicate"
)

const (
	commentsCol       = "(SELECT COUNT(*) FROM `comments` WHERE `comments`.`post_id` = `posts`.`id` AND 1 = 1) AS `comments_count`"
	activeCommentsCol = "(SELECT COUNT(*) FROM `comments` WHERE `comments`.`post_id` = `posts`.`id` AND `comments`.`deleted_at` IS NULL) AS `active_comments_count`"
	votesCol          = "(SELECT COUNT(*) FROM `votes` WHERE `votes`.`votable_id` = `posts`.`id` AND `votes`.`votable_type` = ? AND 1 = 1) AS `votes_count`"
	sharesCol         = "(SELECT COUNT(*) FROM `shares` WHERE `shares`.`shareable_id` = `posts`.`id` AND 1 = 1) AS `shares_count`"
)

type fixture struct {
	resolver *model.Resolver
	post     *model.EntityType
	logs     *bytes.Buffer
	logger   *slog.Logger
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	reg := model.NewRegistry(naming.New(naming.DefaultConfig(), logger), logger)

	post := model.NewEntityType("Post")
	require.NoError(t, post.HasMany(model.Relationship{Name: "comments"}))
	require.NoError(t, post.HasMany(model.Relationship{
		Name:      "active_comments",
		ClassName: "Comment",
		Where:     predicate.IsNull("deleted_at"),
	}))
	require.NoError(t, post.HasMany(model.Relationship{Name: "votes", As: "votable"}))
	require.NoError(t, post.HasMany(model.Relationship{Name: "shares", ForeignKey: "shareable_id"}))
	require.NoError(t, post.HasMany(model.Relationship{Name: "commenters", Through: "comments"}))
	require.NoError(t, reg.Register(post))

	comment := model.NewEntityType("Comment")
	require.NoError(t, comment.AddScope("with_even_id", predicate.Mod("id", 2, 0)))
	require.NoError(t, comment.AddScope("active", predicate.IsNull("deleted_at")))
	require.NoError(t, reg.Register(comment))

	vote := model.NewEntityType("Vote")
	require.NoError(t, vote.AddScope("acknowledged", predicate.Eq("acknowledged", true)))
	require.NoError(t, reg.Register(vote))

	require.NoError(t, reg.Register(model.NewEntityType("Share")))

	return fixture{resolver: model.NewResolver(reg), post: post, logs: logs, logger: logger}
}

func (f fixture) enable(t *testing.T) *Counts {
	t.Helper()
	counts, err := Enable(f.post, f.resolver, Options{Logger: f.logger})
	require.NoError(t, err)
	return counts
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectQuery(t *testing.T, mock sqlmock.Sqlmock, sql string, args []interface{}, rows *sqlmock.Rows) {
	t.Helper()

	expectation := mock.ExpectQuery(regexp.QuoteMeta(sql))
	if len(args) > 0 {
		expectation = expectation.WithArgs(toDriverValues(args)...)
	}
	expectation.WillReturnRows(rows)
}

func toDriverValues(args []interface{}) []driver.Value {
	values := make([]driver.Value, len(args))
	for i, arg := range args {
		values[i] = arg
	}
	return values
}

func idRows(n int) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id"})
	for i := 1; i <= n; i++ {
		rows.AddRow(int64(i))
	}
	return rows
}

func TestCountSpecNames(t *testing.T) {
	assert.Equal(t, "comments_count", CountSpec{Relationship: "comments"}.AccessorName())
	assert.Equal(t, "acknowledged_incidents_count", CountSpec{Relationship: "incidents", Scope: "acknowledged"}.AccessorName())
	assert.Equal(t, "with_even_id_comments_count", CountSpec{Relationship: "comments", Scope: "with_even_id"}.Alias())
}

func TestEnableRequiresRegisteredEntity(t *testing.T) {
	f := newFixture(t)

	_, err := Enable(model.NewEntityType("Post"), f.resolver, Options{})
	assert.True(t, errors.Is(err, model.ErrUnknownEntityType))

	_, err = Enable(nil, f.resolver, Options{})
	assert.True(t, errors.Is(err, model.ErrUnknownEntityType))

	_, err = Enable(f.post, nil, Options{})
	assert.Error(t, err)
}

func TestDeclareGeneratesOperationsAndAccessors(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)

	require.NoError(t, counts.Declare("comments", "with_even_id"))
	require.NoError(t, counts.Declare("votes", "acknowledged"))

	op, ok := counts.Operation("preload_comment_counts")
	require.True(t, ok)
	assert.Equal(t, "comments", op.Relationship())
	assert.Equal(t, []string{"comments_count", "with_even_id_comments_count"}, op.Aliases())

	op, ok = counts.OperationFor("votes")
	require.True(t, ok)
	assert.Equal(t, "preload_vote_counts", op.Name())
	assert.Equal(t, []string{"votes_count", "acknowledged_votes_count"}, op.Aliases())

	var opNames []string
	for _, op := range counts.Operations() {
		opNames = append(opNames, op.Name())
	}
	assert.Equal(t, []string{"preload_comment_counts", "preload_vote_counts"}, opNames)

	var accNames []string
	for _, acc := range counts.Accessors() {
		accNames = append(accNames, acc.Name())
	}
	assert.Equal(t, []string{"comments_count", "with_even_id_comments_count", "votes_count", "acknowledged_votes_count"}, accNames)
	assert.Equal(t, []string{"acknowledged_votes_count", "comments_count", "votes_count", "with_even_id_comments_count"}, counts.AccessorNames())

	acc, ok := counts.Accessor("acknowledged_votes_count")
	require.True(t, ok)
	assert.Equal(t, CountSpec{Relationship: "votes", Scope: "acknowledged"}, acc.Spec())
}

func TestDeclareThroughRegistersNothing(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)

	err := counts.Declare("commenters")
	assert.True(t, errors.Is(err, model.ErrUnsupportedRelationship))
	assert.Empty(t, counts.Operations())
	assert.Empty(t, counts.Accessors())

	_, ok := counts.Accessor("commenters_count")
	assert.False(t, ok)
}

func TestDeclareFailuresRegisterNothing(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)

	err := counts.Declare("comments", "with_even_id", "acknowledged")
	assert.True(t, errors.Is(err, model.ErrScopeNotFound))
	assert.Empty(t, counts.Accessors())

	err = counts.Declare("likes")
	assert.True(t, errors.Is(err, model.ErrUnknownRelationship))
	assert.Empty(t, counts.Operations())
}

func TestDuplicateDeclarationLastWins(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)

	require.NoError(t, counts.Declare("comments"))
	require.NoError(t, counts.Declare("comments", "with_even_id", "with_even_id"))

	op, ok := counts.OperationFor("comments")
	require.True(t, ok)
	assert.Equal(t, []string{"comments_count", "with_even_id_comments_count"}, op.Aliases())
	assert.Len(t, counts.Accessors(), 2)
	assert.Contains(t, f.logs.String(), "duplicate count declaration, last declaration wins")
	assert.Contains(t, f.logs.String(), "accessor=comments_count")
}

func TestAccessorNameCollisionMovesColumn(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)

	// "active" scope of comments and the active_comments relationship both
	// generate active_comments_count.
	require.NoError(t, counts.Declare("comments", "active"))
	require.NoError(t, counts.Declare("active_comments"))

	commentsOp, _ := counts.OperationFor("comments")
	activeOp, _ := counts.OperationFor("active_comments")
	assert.Equal(t, []string{"comments_count"}, commentsOp.Aliases())
	assert.Equal(t, []string{"active_comments_count"}, activeOp.Aliases())

	acc, ok := counts.Accessor("active_comments_count")
	require.True(t, ok)
	assert.Equal(t, CountSpec{Relationship: "active_comments"}, acc.Spec())
	assert.Contains(t, f.logs.String(), "generated name collision, last declaration wins")
}

func TestChainedOperationsProduceOneQuery(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)
	require.NoError(t, counts.Declare("comments"))
	require.NoError(t, counts.Declare("votes"))

	commentsOp, _ := counts.OperationFor("comments")
	votesOp, _ := counts.OperationFor("votes")

	q := votesOp.Apply(commentsOp.Query())
	assert.Equal(t, []string{"comments_count", "votes_count"}, q.Aliases())

	again := commentsOp.Apply(q)
	assert.Equal(t, q.Aliases(), again.Aliases())

	stmt, err := q.ToSQL()
	require.NoError(t, err)
	assert.Equal(t, "SELECT `posts`.*, "+commentsCol+", "+votesCol+" FROM `posts`", stmt.SQL)
	assert.Equal(t, []interface{}{"Post"}, stmt.Args)
}

func TestPostScenarioPreloaded(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)
	for _, rel := range []string{"comments", "active_comments", "votes", "shares"} {
		require.NoError(t, counts.Declare(rel))
	}

	q, err := counts.Query("comments", "active_comments", "votes", "shares")
	require.NoError(t, err)

	db, mock := newMockDB(t)
	expectQuery(t, mock,
		"SELECT `posts`.*, "+commentsCol+", "+activeCommentsCol+", "+votesCol+", "+sharesCol+" FROM `posts`",
		[]interface{}{"Post"},
		sqlmock.NewRows([]string{"id", "title", "comments_count", "active_comments_count", "votes_count", "shares_count"}).
			AddRow(int64(1), "First", int64(10), int64(5), []byte("5"), "5"))

	exec := dbexec.NewStandardExecutor(db)
	rows, err := counts.Load(context.Background(), exec, q)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	want := map[string]int64{
		"comments_count":        10,
		"active_comments_count": 5,
		"votes_count":           5,
		"shares_count":          5,
	}
	for name, expected := range want {
		got, err := counts.Read(context.Background(), exec, rows[0], name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, got, name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFallbackAppliesPreloadedFilters(t *testing.T) {
	tests := []struct {
		name     string
		rel      string
		scopes   []string
		accessor string
		sql      string
		args     []interface{}
		count    int
	}{
		{
			name:     "plain",
			rel:      "comments",
			accessor: "comments_count",
			sql:      "SELECT `comments`.* FROM `comments` WHERE `comments`.`post_id` = ?",
			args:     []interface{}{int64(1)},
			count:    10,
		},
		{
			name:     "default predicate",
			rel:      "active_comments",
			accessor: "active_comments_count",
			sql:      "SELECT `comments`.* FROM `comments` WHERE `comments`.`post_id` = ? AND `comments`.`deleted_at` IS NULL",
			args:     []interface{}{int64(1)},
			count:    5,
		},
		{
			name:     "default predicate and scope",
			rel:      "active_comments",
			scopes:   []string{"with_even_id"},
			accessor: "with_even_id_active_comments_count",
			sql:      "SELECT `comments`.* FROM `comments` WHERE `comments`.`post_id` = ? AND (`comments`.`deleted_at` IS NULL AND `comments`.`id` % ? = ?)",
			args:     []interface{}{int64(1), int64(2), int64(0)},
			count:    2,
		},
		{
			name:     "polymorphic",
			rel:      "votes",
			accessor: "votes_count",
			sql:      "SELECT `votes`.* FROM `votes` WHERE `votes`.`votable_id` = ? AND `votes`.`votable_type` = ?",
			args:     []interface{}{int64(1), "Post"},
			count:    5,
		},
		{
			name:     "custom foreign key",
			rel:      "shares",
			accessor: "shares_count",
			sql:      "SELECT `shares`.* FROM `shares` WHERE `shares`.`shareable_id` = ?",
			args:     []interface{}{int64(1)},
			count:    5,
		},
		{
			name:     "no related rows",
			rel:      "comments",
			accessor: "comments_count",
			sql:      "SELECT `comments`.* FROM `comments` WHERE `comments`.`post_id` = ?",
			args:     []interface{}{int64(1)},
			count:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			counts := f.enable(t)
			require.NoError(t, counts.Declare(tt.rel, tt.scopes...))

			acc, ok := counts.Accessor(tt.accessor)
			require.True(t, ok)

			// The fallback must filter exactly like the preloaded subquery,
			// with the correlation replaced by the row's key.
			colSQL, colArgs, err := acc.column.ToSql()
			require.NoError(t, err)
			body := strings.TrimSuffix(strings.TrimPrefix(colSQL, "(SELECT COUNT(*) FROM "), ") AS `"+tt.accessor+"`")
			body = strings.Replace(body, " = `posts`.`id`", " = ?", 1)
			body = strings.TrimSuffix(body, " AND 1 = 1")
			child := acc.descriptor.ChildRef()
			assert.Equal(t, "SELECT `"+child+"`.* FROM "+body, tt.sql)
			assert.Equal(t, append([]interface{}{int64(1)}, colArgs...), tt.args)

			db, mock := newMockDB(t)
			exec := dbexec.NewStandardExecutor(db)
			expectQuery(t, mock, tt.sql, tt.args, idRows(tt.count))

			fallback, err := acc.Read(context.Background(), exec, dbexec.Row{"id": int64(1)})
			require.NoError(t, err)
			assert.Equal(t, int64(tt.count), fallback)

			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFallbackOnNullPreloadedValue(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)
	require.NoError(t, counts.Declare("comments"))

	db, mock := newMockDB(t)
	expectQuery(t, mock, "SELECT `comments`.* FROM `comments` WHERE `comments`.`post_id` = ?", []interface{}{int64(3)}, idRows(4))

	got, err := counts.Read(context.Background(), dbexec.NewStandardExecutor(db), dbexec.Row{"id": int64(3), "comments_count": nil}, "comments_count")
	require.NoError(t, err)
	assert.Equal(t, int64(4), got)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, f.logs.String(), "count not preloaded, counted related rows")
}

func TestFallbackPropagatesQueryErrors(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)
	require.NoError(t, counts.Declare("comments"))

	db, mock := newMockDB(t)
	boom := errors.New("lost connection to MySQL server during query")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `comments`.* FROM `comments`")).WillReturnError(boom)

	_, err := counts.Read(context.Background(), dbexec.NewStandardExecutor(db), dbexec.Row{"id": int64(1)}, "comments_count")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadErrors(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)
	require.NoError(t, counts.Declare("comments"))

	_, err := counts.Read(context.Background(), nil, dbexec.Row{"title": "no id"}, "comments_count")
	assert.True(t, errors.Is(err, model.ErrMissingPrimaryKey))

	_, err = counts.Read(context.Background(), nil, dbexec.Row{"id": int64(1), "comments_count": "many"}, "comments_count")
	assert.ErrorContains(t, err, "is not an integer")

	_, err = counts.Read(context.Background(), nil, dbexec.Row{"id": int64(1)}, "comments_count")
	assert.ErrorContains(t, err, "no querier")

	_, err = counts.Read(context.Background(), nil, dbexec.Row{"id": int64(1)}, "votes_count")
	assert.ErrorContains(t, err, "has no count accessor votes_count")
}

func TestQueryRejectsUndeclaredRelationship(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)

	_, err := counts.Query("comments")
	assert.ErrorContains(t, err, "no preload counts declared for comments")
}

func TestLoadPropagatesErrors(t *testing.T) {
	f := newFixture(t)
	counts := f.enable(t)
	require.NoError(t, counts.Declare("comments"))
	op, _ := counts.OperationFor("comments")

	db, mock := newMockDB(t)
	boom := errors.New("table posts doesn't exist")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `posts`.*")).WillReturnError(boom)

	_, err := Load(context.Background(), dbexec.NewStandardExecutor(db), op.Query())
	assert.True(t, errors.Is(err, boom))
	assert.NoError(t, mock.ExpectationsWereMet())
}
