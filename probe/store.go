package probe

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ServiceStore loads and saves service descriptors.
type ServiceStore interface {
	Load() ([]Service, error)
	Save([]Service) error
}

// DefaultServices is written out when no services file exists yet.
func DefaultServices() []Service {
	return []Service{
		{Port: "3000", Name: "NestJS Backend"},
		{Port: "5173", Name: "Vite Frontend"},
	}
}

// FileServiceStore reads a YAML or JSON object keyed by default port:
//
//	{"3000": {"name": "API", "icon": "⚙️", "pm2Name": "api", "prodPort": 8080}}
//
// A bare string value is accepted as the service name.
type FileServiceStore struct {
	Path string
}

// serviceEntry accepts either a mapping or a bare name.
type serviceEntry struct {
	Service
}

func (e *serviceEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Name = node.Value
		return nil
	}
	return node.Decode(&e.Service)
}

// Load returns the configured services sorted by port. A missing file is created with DefaultServices.
func (s *FileServiceStore) Load() ([]Service, error) {
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		defaults := DefaultServices()
		if err := s.Save(defaults); err != nil {
			return defaults, fmt.Errorf("writing default services: %w", err)
		}
		return defaults, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", s.Path, err)
	}

	var entries map[string]serviceEntry
	if err := yaml.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", s.Path, err)
	}
	services := make([]Service, 0, len(entries))
	for port, e := range entries {
		svc := e.Service
		svc.Port = port
		services = append(services, svc)
	}
	SortServices(services)
	return services, nil
}

// Save writes services as JSON when Path ends in .json, YAML otherwise.
func (s *FileServiceStore) Save(services []Service) error {
	entries := make(map[string]Service, len(services))
	for _, svc := range services {
		entries[svc.Port] = svc
	}
	var b []byte
	var err error
	if strings.EqualFold(filepath.Ext(s.Path), ".json") {
		b, err = json.MarshalIndent(entries, "", "    ")
	} else {
		b, err = yaml.Marshal(entries)
	}
	if err != nil {
		return fmt.Errorf("encoding services: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0777); err != nil {
		return fmt.Errorf("making services dir: %w", err)
	}
	return os.WriteFile(s.Path, b, 0644)
}
