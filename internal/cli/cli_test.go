package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shivanand-hulikatti/club-roster/internal/auth"
	"github.com/Shivanand-hulikatti/club-roster/internal/model"
)

func useSQLite(t *testing.T) {
	t.Helper()
	t.Setenv("ROSTER_DATABASE_DRIVER", "sqlite")
	t.Setenv("ROSTER_DATABASE_SQLITE_PATH", filepath.Join(t.TempDir(), "roster.db"))
	t.Setenv("ROSTER_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("ROSTER_LOG_LEVEL", "error")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserCreateAndToken(t *testing.T) {
	useSQLite(t)

	out, err := run(t, "user", "create", "--name", "Ada", "--email", "ada@club.test", "--admin")
	require.NoError(t, err)
	var u model.User
	require.NoError(t, json.Unmarshal([]byte(out), &u))
	assert.True(t, u.IsAdmin)
	assert.NotEmpty(t, u.ID)

	out, err = run(t, "token", u.ID)
	require.NoError(t, err)
	v, err := auth.NewIssuer("cli-secret").Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, model.Viewer{UserID: u.ID, IsAdmin: true}, v)

	_, err = run(t, "token", "missing")
	assert.Error(t, err)
}

func TestMigrateAndReconcile(t *testing.T) {
	useSQLite(t)

	_, err := run(t, "migrate")
	require.NoError(t, err)

	out, err := run(t, "reconcile")
	require.NoError(t, err)
	assert.Equal(t, "0 event(s) reconciled\n", out)
}

func TestInvalidConfig(t *testing.T) {
	useSQLite(t)
	t.Setenv("ROSTER_DATABASE_DRIVER", "mysql")

	_, err := run(t, "migrate")
	assert.ErrorContains(t, err, "database.driver")
}
