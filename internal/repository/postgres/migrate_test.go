package postgres

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/migrations"
)

func TestMigrate_AppliesPendingInOrder(t *testing.T) {
	db, mock := setupTestDB(t)
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("CREATE TABLE b (id int);")},
		"001_a.sql":  {Data: []byte("CREATE TABLE a (id int);")},
		"003_c.sql":  {Data: []byte("   \n")},
		"README.txt": {Data: []byte("ignored")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("001_a.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE b").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs("002_b.sql").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := Migrate(context.Background(), db, fsys)
	require.NoError(t, err)
	assert.Equal(t, []Migration{{Name: "001_a.sql"}, {Name: "002_b.sql", Applied: true}}, got)
}

func TestMigrate_StopsOnFailure(t *testing.T) {
	db, mock := setupTestDB(t)
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE a (id int);")},
		"002_b.sql": {Data: []byte("CREATE TABLE b (id int);")},
	}

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT name FROM schema_migrations").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE a").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	got, err := Migrate(context.Background(), db, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply 001_a.sql")
	assert.Empty(t, got)
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Contains(t, names, "001_drip_campaigns.sql")
	assert.Contains(t, names, "002_suppression.sql")
}
