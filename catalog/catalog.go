/*
Package catalog holds the saved-command catalog: named shell command lines that operators can run on demand.

Commands are keyed by an id derived from their name (see Slug). Ids are not unique across names that normalize
to the same slug, so adding "API Server" and then "api-server" leaves a single entry holding the second command.
*/
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrCommandNotFound = errors.New("command not found")
	ErrInvalidCommand  = errors.New("invalid command")
)

// Command is a saved command line.
type Command struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
	Cmd  string `json:"cmd" db:"cmd"`
	Desc string `json:"desc" db:"description"`
}

// Commands maps command id to command.
type Commands map[string]Command

// Slug lower-cases name and strips everything outside [a-z0-9].
func Slug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Store loads and saves the whole catalog.
// Load on a store that has never been saved returns an empty catalog and no error.
type Store interface {
	Load() (Commands, error)
	Save(Commands) error
}

// Catalog serializes read-modify-write cycles against a Store.
type Catalog struct {
	log   *zap.SugaredLogger
	mut   sync.Mutex
	store Store
}

func New(log *zap.SugaredLogger, store Store) *Catalog {
	return &Catalog{log: log.Named("catalog"), store: store}
}

// Load returns the current catalog or the store's error.
func (c *Catalog) Load() (Commands, error) {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.load()
}

// List returns the current catalog, logging and returning an empty one if the store can't be read.
func (c *Catalog) List() Commands {
	cmds, err := c.Load()
	if err != nil {
		c.log.Warnw("unable to load catalog, using empty catalog", "Error", err)
		return Commands{}
	}
	return cmds
}

func (c *Catalog) Get(id string) (Command, error) {
	cmds, err := c.Load()
	if err != nil {
		return Command{}, fmt.Errorf("loading catalog: %w", err)
	}
	cmd, ok := cmds[id]
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrCommandNotFound, id)
	}
	return cmd, nil
}

// Add stores a command under Slug(name), replacing any entry already using that id.
func (c *Catalog) Add(name, cmdLine, desc string) (Command, error) {
	id := Slug(name)
	if id == "" {
		return Command{}, fmt.Errorf("%w: name %q has no letters or digits", ErrInvalidCommand, name)
	}
	if strings.TrimSpace(cmdLine) == "" {
		return Command{}, fmt.Errorf("%w: empty command line", ErrInvalidCommand)
	}

	c.mut.Lock()
	defer c.mut.Unlock()

	cmds, err := c.load()
	if err != nil {
		return Command{}, fmt.Errorf("loading catalog: %w", err)
	}
	if prev, ok := cmds[id]; ok {
		c.log.Debugw("overwriting command", "ID", id, "PreviousName", prev.Name, "Name", name)
	}
	cmd := Command{ID: id, Name: name, Cmd: cmdLine, Desc: desc}
	cmds[id] = cmd
	if err := c.store.Save(cmds); err != nil {
		return Command{}, fmt.Errorf("saving catalog: %w", err)
	}
	return cmd, nil
}

// Delete removes the command with the given id. Deleting an unknown id is not an error.
func (c *Catalog) Delete(id string) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	cmds, err := c.load()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	if _, ok := cmds[id]; !ok {
		return nil
	}
	delete(cmds, id)
	if err := c.store.Save(cmds); err != nil {
		return fmt.Errorf("saving catalog: %w", err)
	}
	return nil
}

func (c *Catalog) load() (Commands, error) {
	cmds, err := c.store.Load()
	if err != nil {
		return nil, err
	}
	if cmds == nil {
		cmds = Commands{}
	}
	return cmds, nil
}
