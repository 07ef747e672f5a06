package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsMatchFixtureConstants(t *testing.T) {
	unsetDataSize(t)

	c, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, Medium, c.Tier)
	assert.Equal(t, "xe", c.DatabaseName)
	assert.Equal(t, 1000, c.BatchSize)
	assert.Equal(t, "127.0.0.1", c.Server.Host)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "sa", c.Admin.Username)
	assert.Equal(t, "admin", c.App.Username)
	assert.Equal(t, "sysadmin", c.App.Role)
	assert.Equal(t, InsertModeBulk, c.InsertMode)
	assert.Equal(t, NameStyleFake, c.NameStyle)
	assert.False(t, c.InsertRemainder)
	assert.Equal(t, 10, *c.Remove.Count)
	assert.Equal(t, 1, c.Remove.RangeStart)
	assert.Equal(t, 1000, c.Remove.RangeEnd)
	assert.Nil(t, c.Events)
	assert.Nil(t, c.Manifest)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.hcl"), "")
	assert.ErrorContains(t, err, "does not exist")
}

func TestLoadRendersTemplateBeforeDecoding(t *testing.T) {
	t.Setenv("FIXTURE_APP_PASSWORD", "S3cret!")
	unsetDataSize(t)

	path := filepath.Join(t.TempDir(), "fixture.hcl")
	src := `
data_size     = "large"
database_name = "customerinfo"
batch_size    = 500
name_style    = "indexed"
insert_remainder = true
seed          = 42

server {
  host   = "db.local"
  port   = 1433
  params = { encrypt = "disable" }
}

app {
  password = "{{ env "FIXTURE_APP_PASSWORD" }}"
}

connect {
  attempts         = 3
  initial_interval = "250ms"
  max_interval     = "2s"
}

events {
  url = "nats://127.0.0.1:4222"
}

manifest {
  path = "out/manifest.json"
}
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))

	c, err := Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, Large, c.Tier)
	assert.Equal(t, "customerinfo", c.DatabaseName)
	assert.Equal(t, 500, c.BatchSize)
	assert.Equal(t, NameStyleIndexed, c.NameStyle)
	assert.True(t, c.InsertRemainder)
	assert.Equal(t, int64(42), c.Seed)
	assert.Equal(t, "S3cret!", c.App.Password)
	assert.Equal(t, "admin", c.App.Username)
	assert.Equal(t, "fixture", c.Events.SubjectPrefix)
	assert.Equal(t, "out/manifest.json", c.Manifest.Path)

	initial, max, err := c.Backoff()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, initial)
	assert.Equal(t, 2*time.Second, max)

	u, err := url.Parse(c.AppURL(c.DatabaseName))
	require.NoError(t, err)
	assert.Equal(t, "sqlserver", u.Scheme)
	assert.Equal(t, "db.local:1433", u.Host)
	assert.Equal(t, "customerinfo", u.Query().Get("database"))
	assert.Equal(t, "disable", u.Query().Get("encrypt"))
	password, _ := u.User.Password()
	assert.Equal(t, "S3cret!", password)
}

func TestTierPrecedence(t *testing.T) {
	src := `data_size = "small"`

	unsetDataSize(t)
	c, err := Parse(src, "")
	require.NoError(t, err)
	assert.Equal(t, Small, c.Tier)

	t.Setenv(DataSizeEnv, "large")
	c, err = Parse(src, "")
	require.NoError(t, err)
	assert.Equal(t, Large, c.Tier)

	c, err = Parse(src, "medium")
	require.NoError(t, err)
	assert.Equal(t, Medium, c.Tier)
	assert.Equal(t, "medium", c.DataSize)
}

func TestUnknownTierFailsFast(t *testing.T) {
	t.Setenv(DataSizeEnv, "huge")

	_, err := Parse("", "")
	assert.ErrorIs(t, err, ErrUnknownTier)
}

func TestValidateRejectsBadValues(t *testing.T) {
	unsetDataSize(t)

	cases := map[string]string{
		"identifier":  `database_name = "xe; DROP LOGIN sa"`,
		"batch size":  `batch_size = 5000`,
		"insert mode": `insert_mode = "copy"`,
		"name style":  `name_style = "emoji"`,
		"backoff":     "connect {\n initial_interval = \"10s\"\n max_interval = \"1s\"\n}",
		"range":       "remove {\n count = 20\n range_start = 1\n range_end = 5\n}",
		"count":       "remove {\n count = -1\n}",
		"blob":        "manifest {\n azure_blob {\n connection_string = \"\"\n container_name = \"\"\n }\n}",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(src, "")
			assert.Error(t, err)
		})
	}
}

func TestRemoveCountZeroIsKept(t *testing.T) {
	unsetDataSize(t)

	c, err := Parse("remove {\n count = 0\n}", "")
	require.NoError(t, err)
	assert.Equal(t, 0, *c.Remove.Count)

	c, err = Parse("remove {\n range_end = 50\n}", "")
	require.NoError(t, err)
	assert.Equal(t, 10, *c.Remove.Count)
}

func TestLoadEnvFileDoesNotOverrideEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATA_SIZE=small\nFIXTURE_ENV_ONLY=yes\n"), 0o600))

	t.Setenv(DataSizeEnv, "large")
	unsetEnv(t, "FIXTURE_ENV_ONLY")

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "large", os.Getenv(DataSizeEnv))
	assert.Equal(t, "yes", os.Getenv("FIXTURE_ENV_ONLY"))

	assert.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

// unsetEnv removes key for the duration of the test
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func unsetDataSize(t *testing.T) {
	unsetEnv(t, DataSizeEnv)
}
