package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log = zap.NewNop().Sugar()

type brokenStore struct{ err error }

func (s *brokenStore) Load() (Commands, error) { return nil, s.err }
func (s *brokenStore) Save(Commands) error { return s.err }

func TestSlug(t *testing.T) {
	cases := []struct {
		name string
		exp  string
	}{
		{"API Server", "apiserver"},
		{"api-server", "apiserver"},
		{"Deploy_Prod #2", "deployprod2"},
		{"ÜNICODE ok", "nicodeok"},
		{"---", ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.exp, Slug(c.name))
		})
	}
}

func TestAddCollisionOverwrites(t *testing.T) {
	c := New(log, NewMemStore())

	first, err := c.Add("API Server", "npm start", "")
	require.NoError(t, err)
	assert.Equal(t, "apiserver", first.ID)

	second, err := c.Add("api-server", "npm run dev", "dev mode")
	require.NoError(t, err)
	assert.Equal(t, "apiserver", second.ID)

	cmds, err := c.Load()
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, Command{ID: "apiserver", Name: "api-server", Cmd: "npm run dev", Desc: "dev mode"}, cmds["apiserver"])
}

func TestAddRejectsInvalid(t *testing.T) {
	c := New(log, NewMemStore())

	_, err := c.Add("!!!", "ls", "")
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = c.Add("list", "   ", "")
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestGetAndDelete(t *testing.T) {
	c := New(log, NewMemStore(Command{ID: "build", Name: "Build", Cmd: "make"}))

	cmd, err := c.Get("build")
	require.NoError(t, err)
	assert.Equal(t, "make", cmd.Cmd)

	_, err = c.Get("nope")
	assert.ErrorIs(t, err, ErrCommandNotFound)

	require.NoError(t, c.Delete("build"))
	require.NoError(t, c.Delete("build"))
	_, err = c.Get("build")
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestBrokenStore(t *testing.T) {
	storeErr := errors.New("disk on fire")
	c := New(log, &brokenStore{err: storeErr})

	assert.Equal(t, Commands{}, c.List())

	_, err := c.Add("build", "make", "")
	assert.ErrorIs(t, err, storeErr)

	_, err = c.Get("build")
	assert.ErrorIs(t, err, storeErr)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commands_db.json")
	s := &FileStore{Path: path}

	cmds, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, cmds)

	c := New(log, s)
	_, err = c.Add("API Server", "npm start", "backend")
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"apiserver": {"name": "API Server", "cmd": "npm start", "desc": "backend"}}`, string(b))

	cmds, err = s.Load()
	require.NoError(t, err)
	assert.Equal(t, Command{ID: "apiserver", Name: "API Server", Cmd: "npm start", Desc: "backend"}, cmds["apiserver"])
}

func TestFileStoreEmptyAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	cmds, err := (&FileStore{Path: empty}).Load()
	require.NoError(t, err)
	assert.Empty(t, cmds)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{not json"), 0644))
	_, err = (&FileStore{Path: corrupt}).Load()
	require.Error(t, err)

	// a corrupt file is never clobbered by an add
	_, err = New(log, &FileStore{Path: corrupt}).Add("x", "y", "")
	require.Error(t, err)
	b, err := os.ReadFile(corrupt)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(b))
}

func TestSQLStore(t *testing.T) {
	s, err := OpenSQLStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c := New(log, s)
	_, err = c.Add("API Server", "npm start", "")
	require.NoError(t, err)
	_, err = c.Add("Worker", "node worker.js", "queue consumer")
	require.NoError(t, err)
	_, err = c.Add("api server", "npm run dev", "")
	require.NoError(t, err)

	cmds, err := s.Load()
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, "npm run dev", cmds["apiserver"].Cmd)
	assert.Equal(t, "queue consumer", cmds["worker"].Desc)

	require.NoError(t, c.Delete("worker"))
	cmds, err = s.Load()
	require.NoError(t, err)
	assert.Len(t, cmds, 1)
}
