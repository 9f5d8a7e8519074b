package mmu

import (
	"context"
	"fmt"
	"strings"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/knowledge"
	"github.com/lexlapax/dimmem/pkg/mem/procedural"
	"github.com/lexlapax/dimmem/pkg/mem/resource"
)

// LearnKnowledge stores a knowledge entry. It needs a topic or content.
func (o *Orchestrator) LearnKnowledge(ctx context.Context, entry *knowledge.Entry) (*knowledge.Entry, error) {
	if entry == nil || (strings.TrimSpace(entry.Topic) == "" && strings.TrimSpace(entry.Content) == "") {
		return nil, fmt.Errorf("knowledge needs a topic or content: %w", errors.ErrValidation)
	}
	return o.stores.Knowledge.Create(ctx, entry)
}

// RecordProcedure stores steps as the procedure name, numbered 1..n in input
// order whatever numbers the caller set. An existing procedure of the same
// name is replaced. The new steps are written after the old ones first and
// the old steps are removed only once every new step is stored, so a failed
// write leaves the existing procedure in place.
func (o *Orchestrator) RecordProcedure(ctx context.Context, name string, steps []*procedural.Step) ([]*procedural.Step, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("procedure name is required: %w", errors.ErrValidation)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("procedure %q has no steps: %w", name, errors.ErrValidation)
	}
	for i, step := range steps {
		if step == nil {
			return nil, fmt.Errorf("procedure %q step %d is nil: %w", name, i+1, errors.ErrValidation)
		}
	}

	store := o.stores.Procedural
	old := store.GetProcedure(name)
	offset := 0
	for _, step := range old {
		if step.StepNumber > offset {
			offset = step.StepNumber
		}
	}

	created := make([]*procedural.Step, 0, len(steps))
	for i, step := range steps {
		s := step.Clone()
		s.ID = ""
		s.ProcedureName = name
		s.StepNumber = offset + i + 1

		c, err := store.Create(ctx, s)
		if err != nil {
			return nil, errors.Join(err, o.discardSteps(ctx, created))
		}
		created = append(created, c)
	}
	if offset == 0 {
		return created, nil
	}

	if err := o.discardSteps(ctx, old); err != nil {
		return nil, err
	}

	// Staged steps sit above every number they move to, so renumbering in
	// order never collides.
	for i, step := range created {
		number := i + 1
		c, err := store.Update(ctx, step.ID, func(s *procedural.Step) error {
			s.StepNumber = number
			return nil
		})
		if err != nil {
			return nil, err
		}
		created[i] = c
	}
	return created, nil
}

// discardSteps deletes steps and joins the errors.
func (o *Orchestrator) discardSteps(ctx context.Context, steps []*procedural.Step) error {
	var errs []error
	for _, step := range steps {
		if _, err := o.stores.Procedural.Delete(ctx, step.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveResource stores a resource reference.
func (o *Orchestrator) SaveResource(ctx context.Context, r *resource.Resource) (*resource.Resource, error) {
	if r == nil {
		return nil, fmt.Errorf("resource is nil: %w", errors.ErrValidation)
	}
	return o.stores.Resource.Create(ctx, r)
}
