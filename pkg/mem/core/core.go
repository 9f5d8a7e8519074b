// Package core stores the always-in-context persona and human blocks of each user.
package core

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
)

// Block names
const (
	BlockPersona = "persona"
	BlockHuman   = "human"
)

// Defaults
const (
	DefaultBlockLimit = 2000
	DefaultMaxPerUser = 1

	// Separator joins appended text to a non-empty block.
	Separator = "\n"
)

// Block is a length-limited text block. Length is counted in characters (runes).
type Block struct {
	Value string `json:"value"`
	Limit int    `json:"limit"`
}

// Len returns the block length in characters.
func (b Block) Len() int {
	return utf8.RuneCountInString(b.Value)
}

// Memory is one user's core memory.
type Memory struct {
	dimension.Header
	UserID  string `json:"user_id"`
	Persona Block  `json:"persona"`
	Human   Block  `json:"human"`
}

// Base implements dimension.Record.
func (m *Memory) Base() *dimension.Header { return &m.Header }

// Clone implements dimension.Record.
func (m *Memory) Clone() *Memory {
	c := *m
	c.Header = m.Header.Clone()
	return &c
}

// Block returns a pointer to the named block.
func (m *Memory) Block(name string) (*Block, error) {
	switch name {
	case BlockPersona:
		return &m.Persona, nil
	case BlockHuman:
		return &m.Human, nil
	default:
		return nil, fmt.Errorf("unknown core block %q: %w", name, errors.ErrInvalidInput)
	}
}

// Config bounds core memories.
type Config struct {
	// BlockLimit is applied to blocks created without a limit
	BlockLimit int

	// MaxPerUser caps the core memories a user may own
	MaxPerUser int
}

// Store is the core memory dimension.
type Store struct {
	*dimension.Store[*Memory]

	config Config

	// createMu serializes creates so the per-user cap holds
	createMu sync.Mutex
}

// NewStore creates the core memory store over backend.
func NewStore(backend recordstore.Store, config Config, opts ...dimension.Option) *Store {
	if config.BlockLimit <= 0 {
		config.BlockLimit = DefaultBlockLimit
	}
	if config.MaxPerUser <= 0 {
		config.MaxPerUser = DefaultMaxPerUser
	}

	settings := dimension.ApplyOptions(opts...)
	s := &Store{config: config}
	s.Store = dimension.New[*Memory](backend, dimension.Options[*Memory]{
		Dimension: events.Core,
		Table:     recordstore.TableCore,
		New:       func() *Memory { return &Memory{} },
		Text:      func(m *Memory) string { return m.Persona.Value + "\n" + m.Human.Value },
		IDFunc:    settings.IDFunc,
		Now:       settings.Now,
		Hooks: dimension.Hooks[*Memory]{
			BeforeCreate: s.beforeCreate,
			BeforeUpdate: func(_ context.Context, _, next *Memory) error { return validate(next) },
		},
	})
	return s
}

// Create stores a new core memory. Blocks without a limit get the configured default.
func (s *Store) Create(ctx context.Context, m *Memory) (*Memory, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()
	return s.Store.Create(ctx, m)
}

func (s *Store) beforeCreate(_ context.Context, m *Memory) error {
	if m.Persona.Limit <= 0 {
		m.Persona.Limit = s.config.BlockLimit
	}
	if m.Human.Limit <= 0 {
		m.Human.Limit = s.config.BlockLimit
	}
	if err := validate(m); err != nil {
		return err
	}

	if m.UserID != "" {
		owned := s.List(func(existing *Memory) bool { return existing.UserID == m.UserID })
		if len(owned) >= s.config.MaxPerUser {
			return fmt.Errorf("user %s already has %d core memories: %w", m.UserID, len(owned), errors.ErrValidation)
		}
	}
	return nil
}

// AppendToBlock appends text to the named block, joined by Separator when the
// block is not empty. If the result would exceed the block limit the call fails
// with errors.ErrLimitExceeded and the block is left unchanged.
func (s *Store) AppendToBlock(ctx context.Context, id, block, text string) (*Memory, error) {
	return s.Update(ctx, id, func(m *Memory) error {
		b, err := m.Block(block)
		if err != nil {
			return err
		}

		value := text
		if b.Value != "" {
			value = b.Value + Separator + text
		}
		if n := utf8.RuneCountInString(value); n > b.Limit {
			return fmt.Errorf("%s block would be %d characters, limit %d: %w", block, n, b.Limit, errors.ErrLimitExceeded)
		}

		b.Value = value
		return nil
	})
}

// ReplaceBlock sets the named block's text, failing like AppendToBlock when it is too long.
func (s *Store) ReplaceBlock(ctx context.Context, id, block, value string) (*Memory, error) {
	return s.Update(ctx, id, func(m *Memory) error {
		b, err := m.Block(block)
		if err != nil {
			return err
		}
		b.Value = value
		return nil
	})
}

// GetByUser returns the core memories owned by userID.
func (s *Store) GetByUser(userID string) []*Memory {
	return s.List(func(m *Memory) bool { return m.UserID == userID })
}

func validate(m *Memory) error {
	for _, name := range []string{BlockPersona, BlockHuman} {
		b, _ := m.Block(name)
		if b.Limit <= 0 {
			return fmt.Errorf("%s block limit must be positive: %w", name, errors.ErrValidation)
		}
		if n := b.Len(); n > b.Limit {
			return fmt.Errorf("%s block is %d characters, limit %d: %w", name, n, b.Limit, errors.ErrLimitExceeded)
		}
	}
	return nil
}
