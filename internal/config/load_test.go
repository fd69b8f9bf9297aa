package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogConfig = `
database:
  host: filehost
  port: 4000
  database: blog
naming:
  plural_overrides:
    person: people
models:
  - name: Post
    columns: [id, title]
    relationships:
      - name: comments
      - name: votes
        as: votable
      - name: comments_by_fk
        class_name: Comment
        foreign_key: article_id
    preload:
      - relationship: comments
        scopes: [acknowledged]
      - relationship: votes
  - name: Comment
    scopes:
      acknowledged:
        acknowledged:
          eq: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "preloadcounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newFlagSet() *pflag.FlagSet {
	return pflag.NewFlagSet("test", pflag.ContinueOnError)
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(newFlagSet(), nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, "root", cfg.Database.User)
	assert.Equal(t, "test", cfg.Database.Database)
	assert.Equal(t, 10, cfg.Database.Pool.MaxOpen)
	assert.Equal(t, 30*time.Minute, cfg.Database.Pool.MaxLifetime)
	assert.Equal(t, "preloadcounts", cfg.Observability.ServiceName)
	assert.Equal(t, "info", cfg.Observability.Logging.Level)
	assert.Equal(t, "grpc", cfg.Observability.OTLP.Protocol)
	assert.Empty(t, cfg.Models)
	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, blogConfig)
	t.Setenv("PRELOAD_DATABASE_USER", "envuser")
	t.Setenv("PRELOAD_DATABASE_PORT", "4500")

	cfg, err := Load(newFlagSet(), []string{"--config", path, "--database.port=5000"})
	require.NoError(t, err)

	assert.Equal(t, "filehost", cfg.Database.Host, "file beats default")
	assert.Equal(t, "envuser", cfg.Database.User, "env beats default")
	assert.Equal(t, 5000, cfg.Database.Port, "flag beats env and file")
	assert.Equal(t, "blog", cfg.Database.Database)
	assert.Equal(t, "people", cfg.Naming.PluralOverrides["person"])
}

func TestLoad_Models(t *testing.T) {
	path := writeConfig(t, blogConfig)

	cfg, err := Load(newFlagSet(), []string{"-c", path})
	require.NoError(t, err)
	require.Len(t, cfg.Models, 2)

	post, ok := cfg.Model("Post")
	require.True(t, ok)
	assert.Equal(t, []string{"id", "title"}, post.Columns)
	require.Len(t, post.Relationships, 3)
	assert.Equal(t, "votable", post.Relationships[1].As)
	assert.Equal(t, "Comment", post.Relationships[2].ClassName)
	assert.Equal(t, "article_id", post.Relationships[2].ForeignKey)
	assert.Equal(t, []PreloadConfig{
		{Relationship: "comments", Scopes: []string{"acknowledged"}},
		{Relationship: "votes"},
	}, post.Preload)

	comment, ok := cfg.Model("Comment")
	require.True(t, ok)
	require.Contains(t, comment.Scopes, "acknowledged")
	assert.Contains(t, comment.Scopes["acknowledged"], "acknowledged")

	assert.False(t, cfg.Validate().HasErrors())
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "database:\n  hots: typo\n")

	_, err := Load(newFlagSet(), []string{"--config", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config")
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(newFlagSet(), []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_IgnoresCommandFlags(t *testing.T) {
	fs := newFlagSet()
	DefineFlags(fs)
	fs.String("entity", "", "entity to load")
	t.Chdir(t.TempDir())

	cfg, err := Load(fs, []string{"--entity", "Post", "--observability.logging.level", "debug"})
	require.NoError(t, err)

	entity, _ := fs.GetString("entity")
	assert.Equal(t, "Post", entity)
	assert.Equal(t, "debug", cfg.Observability.Logging.Level)
}

func TestLoad_PasswordFile(t *testing.T) {
	t.Chdir(t.TempDir())
	secret := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(secret, []byte("s3cret\n"), 0o600))

	cfg, err := Load(newFlagSet(), []string{"--database.password_file", secret})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Database.Password)
}

func TestLoad_DSNFromStdin(t *testing.T) {
	t.Chdir(t.TempDir())
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("app:pw@tcp(db:3306)/blog\n")

	cfg, err := Load(newFlagSet(), []string{"--database.dsn_file", "@-"})
	require.NoError(t, err)
	assert.Equal(t, "app:pw@tcp(db:3306)/blog", cfg.Database.ConnectionString)
}

func TestLoad_PasswordPrompt(t *testing.T) {
	t.Chdir(t.TempDir())
	orig := passwordPrompter
	t.Cleanup(func() { passwordPrompter = orig })

	t.Run("prompted", func(t *testing.T) {
		passwordPrompter = func() (string, error) { return "typed", nil }
		cfg, err := Load(newFlagSet(), []string{"--database.password_prompt"})
		require.NoError(t, err)
		assert.Equal(t, "typed", cfg.Database.Password)
	})

	t.Run("prompt failure", func(t *testing.T) {
		passwordPrompter = func() (string, error) { return "", errors.New("not a terminal") }
		_, err := Load(newFlagSet(), []string{"--database.password_prompt"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read password")
	})

	t.Run("explicit password skips prompt", func(t *testing.T) {
		passwordPrompter = func() (string, error) {
			t.Fatal("prompt should not run")
			return "", nil
		}
		cfg, err := Load(newFlagSet(), []string{"--database.password_prompt", "--database.password", "given"})
		require.NoError(t, err)
		assert.Equal(t, "given", cfg.Database.Password)
	})
}

func TestValidateSingleStdinFileSource(t *testing.T) {
	t.Run("one", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "@-")
		v.Set("database.password_file", "/tmp/password")
		assert.NoError(t, validateSingleStdinFileSource(v))
	})

	t.Run("two", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "@-")
		v.Set("database.password_file", " @- ")
		err := validateSingleStdinFileSource(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn_file")
		assert.Contains(t, err.Error(), "database.password_file")
	})
}

func TestStringToStringSliceHook(t *testing.T) {
	path := writeConfig(t, "models:\n  - name: Post\n    columns: \"id, title ,body\"\n")
	cfg, err := Load(newFlagSet(), []string{"--config", path})
	require.NoError(t, err)
	require.Len(t, cfg.Models, 1)
	assert.Equal(t, []string{"id", "title", "body"}, cfg.Models[0].Columns)
}

func TestLoad_ExampleConfig(t *testing.T) {
	example, err := filepath.Abs(filepath.Join("..", "..", "preloadcounts.example.yaml"))
	require.NoError(t, err)
	t.Chdir(t.TempDir())

	cfg, err := Load(newFlagSet(), []string{"--config", example})
	require.NoError(t, err)

	result := cfg.Validate()
	assert.False(t, result.HasErrors(), result.Error())
	assert.Len(t, cfg.Models, 4)

	post, ok := cfg.Model("Post")
	require.True(t, ok)
	assert.Equal(t, []string{"active", "with_even_id"}, post.Preload[0].Scopes)
	assert.Equal(t, "shareable_id", post.Relationships[2].ForeignKey)
}
