package main

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/vela/internal/fixture"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func schemaFile(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "library.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixture.CoreYAML), 0o644))
	return path
}

func TestModelCommand(t *testing.T) {
	path := schemaFile(t)
	out, err := run(t, "model", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Book (books)")
	assert.Contains(t, out, "BookAuthor (book_authors)")
	assert.Less(t, strings.Index(out, "Publisher (publishers)"), strings.Index(out, "Book (books)"))
	assert.Less(t, strings.Index(out, "Book (books)"), strings.Index(out, "BookAuthor (book_authors)"))

	_, err = run(t, "model", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSQLCommand(t *testing.T) {
	path := schemaFile(t)
	tests := []struct {
		name string
		args []string
		want []string
		not  []string
	}{
		{
			name: "sqlite",
			args: []string{"sql", path, "Publisher"},
			want: []string{
				"-- Publisher",
				`INSERT INTO "publishers" ("id", "name") VALUES (?, ?)`,
				`DELETE FROM "publishers" WHERE "id" = ?`,
			},
			not: []string{"-- Book"},
		},
		{
			name: "postgres",
			args: []string{"--dialect", "postgres", "--dsn", "postgres://localhost/library", "sql", path, "Publisher"},
			want: []string{`VALUES ($1, $2)`},
		},
		{
			name: "link entity has no update",
			args: []string{"sql", path, "BookAuthor"},
			want: []string{"-- BookAuthor", "insert", "delete"},
			not:  []string{"update"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, tt.args...)
			require.NoError(t, err)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			for _, n := range tt.not {
				assert.NotContains(t, out, n)
			}
		})
	}

	_, err := run(t, "sql", path, "Nope")
	assert.ErrorContains(t, err, "Nope")
}

func TestCountCommand(t *testing.T) {
	path := schemaFile(t)
	dsn := "file:" + filepath.Join(t.TempDir(), "count.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE publishers (id TEXT PRIMARY KEY, name TEXT NOT NULL);
INSERT INTO publishers VALUES ('6ba7b810-9dad-11d1-80b4-00c04fd430c8', 'Ace');`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out, err := run(t, "--dsn", dsn, "count", path, "Publisher")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
}
