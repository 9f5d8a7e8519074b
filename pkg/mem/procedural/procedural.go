// Package procedural stores workflows as numbered steps grouped by procedure name.
package procedural

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Step is one step of a procedure.
type Step struct {
	dimension.Header
	ProcedureName   string   `json:"procedure_name"`
	StepNumber      int      `json:"step_number"`
	Description     string   `json:"description"`
	Conditions      []string `json:"conditions,omitempty"`
	Actions         []string `json:"actions,omitempty"`
	ExpectedResults []string `json:"expected_results,omitempty"`
}

// Base implements dimension.Record.
func (s *Step) Base() *dimension.Header { return &s.Header }

// Clone implements dimension.Record.
func (s *Step) Clone() *Step {
	c := *s
	c.Header = s.Header.Clone()
	c.Conditions = dimension.CloneStrings(s.Conditions)
	c.Actions = dimension.CloneStrings(s.Actions)
	c.ExpectedResults = dimension.CloneStrings(s.ExpectedResults)
	return &c
}

func (s *Step) text() string {
	parts := []string{s.ProcedureName, s.Description}
	parts = append(parts, s.Conditions...)
	parts = append(parts, s.Actions...)
	parts = append(parts, s.ExpectedResults...)
	return strings.Join(parts, "\n")
}

// Store is the procedural memory dimension.
type Store struct {
	*dimension.Store[*Step]

	// numberMu serializes writes that assign or change step numbers
	numberMu sync.Mutex

	groupMu    sync.RWMutex
	procedures map[string][]string
}

// NewStore creates the procedural store over backend.
func NewStore(backend recordstore.Store, opts ...dimension.Option) *Store {
	settings := dimension.ApplyOptions(opts...)
	s := &Store{procedures: make(map[string][]string)}
	s.Store = dimension.New[*Step](backend, dimension.Options[*Step]{
		Dimension: events.Procedural,
		Table:     recordstore.TableProcedural,
		New:       func() *Step { return &Step{} },
		Text:      (*Step).text,
		IDFunc:    settings.IDFunc,
		Now:       settings.Now,
		Hooks: dimension.Hooks[*Step]{
			BeforeCreate: s.beforeCreate,
			BeforeUpdate: s.beforeUpdate,
			AfterPut: func(prev, next *Step, existed bool) {
				if !existed || prev.ProcedureName != next.ProcedureName || prev.StepNumber != next.StepNumber {
					s.regroup()
				}
			},
			AfterRemove: func(*Step) { s.regroup() },
		},
	})
	return s
}

// Create stores a step. A step number <= 0 is replaced by the next free
// number of its procedure; a number already taken fails validation.
func (s *Store) Create(ctx context.Context, step *Step) (*Step, error) {
	s.numberMu.Lock()
	defer s.numberMu.Unlock()
	return s.Store.Create(ctx, step)
}

// Update merges changes into a step; see dimension.Store.Update.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Step) error) (*Step, error) {
	s.numberMu.Lock()
	defer s.numberMu.Unlock()
	return s.Store.Update(ctx, id, mutate)
}

func (s *Store) beforeCreate(_ context.Context, step *Step) error {
	step.ProcedureName = strings.TrimSpace(step.ProcedureName)
	if step.ProcedureName == "" {
		return fmt.Errorf("procedure name is required: %w", errors.ErrValidation)
	}

	if step.StepNumber <= 0 {
		step.StepNumber = s.nextNumber(step.ProcedureName)
	}
	return s.checkUnique(step)
}

func (s *Store) beforeUpdate(_ context.Context, prev, next *Step) error {
	next.ProcedureName = strings.TrimSpace(next.ProcedureName)
	if next.ProcedureName == "" {
		return fmt.Errorf("procedure name is required: %w", errors.ErrValidation)
	}
	if next.StepNumber <= 0 {
		return fmt.Errorf("step number must be positive, got %d: %w", next.StepNumber, errors.ErrValidation)
	}
	if prev.ProcedureName == next.ProcedureName && prev.StepNumber == next.StepNumber {
		return nil
	}
	return s.checkUnique(next)
}

func (s *Store) checkUnique(step *Step) error {
	for _, existing := range s.GetProcedure(step.ProcedureName) {
		if existing.ID != step.ID && existing.StepNumber == step.StepNumber {
			return fmt.Errorf("procedure %q already has step %d: %w", step.ProcedureName, step.StepNumber, errors.ErrValidation)
		}
	}
	return nil
}

func (s *Store) nextNumber(name string) int {
	highest := 0
	for _, step := range s.GetProcedure(name) {
		if step.StepNumber > highest {
			highest = step.StepNumber
		}
	}
	return highest + 1
}

// regroup rebuilds every procedure's ordered step list from the cache.
// groupMu is held from the snapshot to the swap.
func (s *Store) regroup() {
	s.groupMu.Lock()
	defer s.groupMu.Unlock()

	steps := s.List(nil)
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].ProcedureName != steps[j].ProcedureName {
			return steps[i].ProcedureName < steps[j].ProcedureName
		}
		return steps[i].StepNumber < steps[j].StepNumber
	})

	groups := make(map[string][]string)
	for _, step := range steps {
		groups[step.ProcedureName] = append(groups[step.ProcedureName], step.ID)
	}

	s.procedures = groups
}

// GetProcedure returns the steps of the named procedure in ascending step order.
func (s *Store) GetProcedure(name string) []*Step {
	s.groupMu.RLock()
	ids := append([]string(nil), s.procedures[strings.TrimSpace(name)]...)
	s.groupMu.RUnlock()

	out := make([]*Step, 0, len(ids))
	for _, id := range ids {
		if step, ok := s.Lookup(id); ok {
			out = append(out, step)
		}
	}
	return out
}

// ListProcedures returns the names of every procedure, sorted.
func (s *Store) ListProcedures() []string {
	s.groupMu.RLock()
	defer s.groupMu.RUnlock()

	names := make([]string, 0, len(s.procedures))
	for name := range s.procedures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteProcedure deletes every step of the named procedure and returns how many were removed.
func (s *Store) DeleteProcedure(ctx context.Context, name string) (int, error) {
	removed := 0
	var errs []error
	for _, step := range s.GetProcedure(name) {
		ok, err := s.Delete(ctx, step.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

// Search returns steps whose procedure name, description, conditions, actions
// or expected results contain query, grouped by procedure in step order.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]*Step, error) {
	out, err := s.Store.Search(ctx, query, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ProcedureName != out[j].ProcedureName {
			return out[i].ProcedureName < out[j].ProcedureName
		}
		return out[i].StepNumber < out[j].StepNumber
	})
	return dimension.Truncate(out, limit), nil
}
