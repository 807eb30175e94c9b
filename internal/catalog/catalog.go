// Package catalog loads the static service catalog shipped with the kiosk.
// The catalog is immutable for the life of the process; the UI renders its
// cards from GET /v1/services and re-renders from the state snapshot, so
// re-render never duplicates elements.
package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/autolavaggio/kiosk-controller/internal/domain"
)

//go:embed services.json
var servicesJSON []byte

type file struct {
	Services []domain.Service `json:"servicios"`
}

// Catalog is an ordered, immutable set of wash services.
type Catalog struct {
	services []domain.Service
	byID     map[string]int
}

// New decodes the embedded catalog file.
func New() (*Catalog, error) {
	return Parse(servicesJSON)
}

// Parse builds a catalog from raw JSON. Split out for tests.
func Parse(raw []byte) (*Catalog, error) {
	var f file
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("catalog has no services")
	}

	byID := make(map[string]int, len(f.Services))
	for i, s := range f.Services {
		if s.ID == "" {
			return nil, fmt.Errorf("catalog entry %d has no id", i)
		}
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate service id %q", s.ID)
		}
		byID[s.ID] = i
	}

	return &Catalog{services: f.Services, byID: byID}, nil
}

// List returns the services in catalog order.
func (c *Catalog) List() []domain.Service {
	out := make([]domain.Service, len(c.services))
	copy(out, c.services)
	return out
}

// Get returns the service with the given id.
func (c *Catalog) Get(id string) (*domain.Service, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	s := c.services[i]
	return &s, true
}
