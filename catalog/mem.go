package catalog

import "sync"

// MemStore is an in-memory Store, used for tests and for running without a data file.
type MemStore struct {
	mut  sync.Mutex
	cmds Commands
}

func NewMemStore(cmds ...Command) *MemStore {
	s := &MemStore{cmds: Commands{}}
	for _, c := range cmds {
		s.cmds[c.ID] = c
	}
	return s
}

func (s *MemStore) Load() (Commands, error) {
	s.mut.Lock()
	defer s.mut.Unlock()
	out := make(Commands, len(s.cmds))
	for id, c := range s.cmds {
		out[id] = c
	}
	return out, nil
}

func (s *MemStore) Save(cmds Commands) error {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.cmds = make(Commands, len(cmds))
	for id, c := range cmds {
		s.cmds[id] = c
	}
	return nil
}
