// Package phase holds the declarative phase catalog and the ticket
// progression engine: gate evaluation, transitions, regression, and
// explicit blocking.
package phase

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orchard-dev/orchard/internal/db"
	"github.com/orchard-dev/orchard/internal/errors"
)

// Catalog is a read-through cache over the phases table. Phases are
// configuration data: the cache invalidates on upsert, never on a
// timer. Returned phases are shared; callers must not mutate them.
type Catalog struct {
	store db.TxRunner

	mu   sync.RWMutex
	byID map[string]*db.Phase
	list []*db.Phase
}

// NewCatalog creates a phase catalog backed by the store.
func NewCatalog(store db.TxRunner) *Catalog {
	return &Catalog{store: store}
}

// Invalidate drops the cached catalog; the next read reloads it.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID = nil
	c.list = nil
}

func (c *Catalog) ensure(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.byID != nil
	c.mu.RUnlock()
	if loaded {
		return nil
	}

	var phases []*db.Phase
	err := c.store.RunInTx(ctx, func(tx *db.TxOps) error {
		var err error
		phases, err = db.ListPhasesTx(tx)
		return err
	})
	if err != nil {
		return err
	}

	byID := make(map[string]*db.Phase, len(phases))
	for _, p := range phases {
		byID[p.ID] = p
	}
	c.mu.Lock()
	c.byID = byID
	c.list = phases
	c.mu.Unlock()
	return nil
}

// Get returns a phase by id.
func (c *Catalog) Get(ctx context.Context, id string) (*db.Phase, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return nil, errors.ErrNotFound("phase", id)
	}
	return p, nil
}

// List returns the catalog in sequence order.
func (c *Catalog) List(ctx context.Context) ([]*db.Phase, error) {
	if err := c.ensure(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.list, nil
}

// Initial returns the entry phase: the lowest sequence_order.
func (c *Catalog) Initial(ctx context.Context) (*db.Phase, error) {
	list, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.ErrNotFound("phase", "(empty catalog)")
	}
	return list[0], nil
}

// UpsertAll writes the given phases and invalidates the cache.
func (c *Catalog) UpsertAll(ctx context.Context, phases []*db.Phase, now time.Time) error {
	if err := validatePhases(phases); err != nil {
		return err
	}
	err := c.store.RunInTx(ctx, func(tx *db.TxOps) error {
		for _, p := range phases {
			p.UpdatedAt = now
			if err := db.UpsertPhaseTx(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// catalogFile is the YAML shape of an external phase catalog.
type catalogFile struct {
	Phases []struct {
		ID                 string   `yaml:"id"`
		Name               string   `yaml:"name"`
		SequenceOrder      int      `yaml:"sequence_order"`
		AllowedTransitions []string `yaml:"allowed_transitions"`
		IsTerminal         bool     `yaml:"is_terminal"`
		RequiresReview     bool     `yaml:"requires_review"`
		DoneDefinitions    []string `yaml:"done_definitions"`
		ExpectedOutputs    []string `yaml:"expected_outputs"`
		InitialPrompt      string   `yaml:"initial_prompt"`
		NextSteps          string   `yaml:"next_steps"`
	} `yaml:"phases"`
}

// LoadFile reads and validates a YAML phase catalog.
func LoadFile(path string) ([]*db.Phase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase catalog: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse phase catalog %s: %w", path, err)
	}
	phases := make([]*db.Phase, 0, len(file.Phases))
	for _, p := range file.Phases {
		phases = append(phases, &db.Phase{
			ID:                 p.ID,
			Name:               p.Name,
			SequenceOrder:      p.SequenceOrder,
			AllowedTransitions: p.AllowedTransitions,
			IsTerminal:         p.IsTerminal,
			RequiresReview:     p.RequiresReview,
			DoneDefinitions:    p.DoneDefinitions,
			ExpectedOutputs:    p.ExpectedOutputs,
			InitialPrompt:      p.InitialPrompt,
			NextSteps:          p.NextSteps,
		})
	}
	if err := validatePhases(phases); err != nil {
		return nil, err
	}
	return phases, nil
}

func validatePhases(phases []*db.Phase) error {
	if len(phases) == 0 {
		return errors.ErrValidation("phases", "catalog must not be empty")
	}
	ids := make(map[string]bool, len(phases))
	orders := make(map[int]string, len(phases))
	terminal := 0
	for _, p := range phases {
		if p.ID == "" {
			return errors.ErrValidation("phases", "phase id required")
		}
		if ids[p.ID] {
			return errors.ErrValidation("phases", "duplicate phase id "+p.ID)
		}
		ids[p.ID] = true
		if p.SequenceOrder <= 0 {
			return errors.ErrValidation("phases", p.ID+": sequence_order must be > 0")
		}
		if prev, dup := orders[p.SequenceOrder]; dup {
			return errors.ErrValidation("phases",
				fmt.Sprintf("%s and %s share sequence_order %d", prev, p.ID, p.SequenceOrder))
		}
		orders[p.SequenceOrder] = p.ID
		if p.IsTerminal {
			terminal++
			if len(p.AllowedTransitions) > 0 {
				return errors.ErrValidation("phases", p.ID+": terminal phase cannot have transitions")
			}
		}
	}
	if terminal == 0 {
		return errors.ErrValidation("phases", "catalog needs at least one terminal phase")
	}
	for _, p := range phases {
		for _, to := range p.AllowedTransitions {
			if !ids[to] {
				return errors.ErrValidation("phases", p.ID+": unknown transition target "+to)
			}
		}
	}
	return nil
}
