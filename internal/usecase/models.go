package usecase

import (
	"fmt"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

// Catalog is the static model list the gateway advertises. Every advertised
// id maps onto the same upstream assistant; the catalog exists so OpenAI
// clients with hardcoded model pickers keep working.
type Catalog struct {
	models    []domain.Model
	defaultID string
}

// NewCatalog keeps only enabled models. When the list is empty a single
// default entry is synthesized from defaultID.
func NewCatalog(models []domain.Model, defaultID string) *Catalog {
	enabled := make([]domain.Model, 0, len(models))
	for _, m := range models {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	if len(enabled) == 0 {
		enabled = []domain.Model{{ID: defaultID, Name: defaultID, Enabled: true}}
	}
	return &Catalog{models: enabled, defaultID: defaultID}
}

// List returns the advertised models.
func (c *Catalog) List() []domain.Model {
	out := make([]domain.Model, len(c.models))
	copy(out, c.models)
	return out
}

// Resolve validates a requested model id. An empty id resolves to the
// default; unknown ids are rejected so typos surface instead of silently
// hitting the backend.
func (c *Catalog) Resolve(id string) (domain.Model, error) {
	if id == "" {
		id = c.defaultID
	}
	for _, m := range c.models {
		if m.ID == id {
			return m, nil
		}
	}
	return domain.Model{}, fmt.Errorf("op=catalog.Resolve: model %q: %w", id, domain.ErrNotFound)
}
