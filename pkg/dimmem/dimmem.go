// Package dimmem is the facade over the memory subsystem: it wires a record
// store, embeddings, extraction and scripting into an orchestrator and
// answers plain-text requests against it.
package dimmem

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexlapax/dimmem/pkg/entity"
	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/knowledge"
	"github.com/lexlapax/dimmem/pkg/mmu"
)

// InputType represents the type of input received by the client.
type InputType string

const (
	// InputTypeRecord stores the input as a conversation turn.
	InputTypeRecord InputType = "record"

	// InputTypeRetrieve searches every dimension for the input.
	InputTypeRetrieve InputType = "retrieve"

	// InputTypeContext renders the structured prompt context for the input.
	InputTypeContext InputType = "context"

	// InputTypeLearn stores the input ("topic: content") as knowledge.
	InputTypeLearn InputType = "learn"

	// InputTypeCompress archives events older than the input (a duration,
	// an RFC3339 timestamp or a date).
	InputTypeCompress InputType = "compress"
)

// InputTypes lists every supported input type.
var InputTypes = []InputType{InputTypeRecord, InputTypeRetrieve, InputTypeContext, InputTypeLearn, InputTypeCompress}

// LearnSource is the source stamped on knowledge learned through the client.
const LearnSource = "client"

// ErrMissingEntityContext is returned when Process runs without an entity context.
var ErrMissingEntityContext = errors.Wrap(errors.ErrValidation, "entity context is required")

// Processor handles plain-text memory requests.
type Processor interface {
	// Process handles input and produces a plain-text response.
	Process(ctx context.Context, inputType InputType, input string) (string, error)
}

// Config contains configuration options for the client.
type Config struct {
	// RetrievalLimit bounds each dimension in a retrieve response
	RetrievalLimit int

	// AutoCompressAfter is the event age compressed automatically (0 disables)
	AutoCompressAfter time.Duration

	// AutoCompressEvery is the number of successful operations between automatic compressions
	AutoCompressEvery int
}

// DefaultConfig returns the default configuration for the client.
func DefaultConfig() Config {
	return Config{
		RetrievalLimit:    5,
		AutoCompressEvery: 50,
	}
}

// Client is the main facade for the dimmem library.
type Client struct {
	orchestrator *mmu.Orchestrator
	config       Config

	mu      sync.Mutex
	opCount int

	// closers release what NewFromConfig opened, in reverse order
	closers []func() error
}

// New creates a Client over an existing orchestrator.
func New(orchestrator *mmu.Orchestrator, config Config) *Client {
	if config.RetrievalLimit <= 0 {
		config.RetrievalLimit = DefaultConfig().RetrievalLimit
	}
	if config.AutoCompressEvery <= 0 {
		config.AutoCompressEvery = DefaultConfig().AutoCompressEvery
	}

	log.Debug("dimmem client initialized",
		"auto_compress_after", config.AutoCompressAfter,
		"auto_compress_every", config.AutoCompressEvery,
	)

	return &Client{
		orchestrator: orchestrator,
		config:       config,
	}
}

// Orchestrator returns the underlying orchestrator.
func (c *Client) Orchestrator() *mmu.Orchestrator {
	return c.orchestrator
}

// Process implements Processor.
func (c *Client) Process(ctx context.Context, inputType InputType, input string) (string, error) {
	entityCtx, ok := entity.GetEntityContext(ctx)
	if !ok {
		return "", ErrMissingEntityContext
	}

	log.DebugContext(ctx, "Processing input",
		"user_id", entityCtx.UserID,
		"input_type", inputType,
		"input_length", len(input),
	)

	var (
		response string
		err      error
	)
	switch inputType {
	case InputTypeRecord:
		response, err = c.handleRecord(ctx, entityCtx, input)
	case InputTypeRetrieve:
		response, err = c.handleRetrieve(ctx, entityCtx, input)
	case InputTypeContext:
		response, err = c.handleContext(ctx, entityCtx, input)
	case InputTypeLearn:
		response, err = c.handleLearn(ctx, input)
	case InputTypeCompress:
		response, err = c.handleCompress(ctx, input)
	default:
		return "", fmt.Errorf("unsupported input type %q: %w", inputType, errors.ErrInvalidInput)
	}
	if err != nil {
		return "", err
	}

	if c.countOperation() {
		c.autoCompress(ctx)
	}
	return response, nil
}

func (c *Client) handleRecord(ctx context.Context, entityCtx entity.Context, input string) (string, error) {
	event, err := c.orchestrator.RecordConversation(ctx, episodic.ActorUser, input, mmu.ConversationContext{
		UserID:         string(entityCtx.UserID),
		ConversationID: entityCtx.ConversationID,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to record conversation", "error", err)
		return "", err
	}
	return fmt.Sprintf("Recorded conversation event %s", event.ID), nil
}

func (c *Client) handleRetrieve(ctx context.Context, entityCtx entity.Context, input string) (string, error) {
	result, err := c.orchestrator.ActiveRetrieval(ctx, input, mmu.RetrievalContext{
		UserID: string(entityCtx.UserID),
		Limit:  c.config.RetrievalLimit,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to retrieve memories", "error", err)
		return "", err
	}
	return FormatRetrieval(result), nil
}

func (c *Client) handleContext(ctx context.Context, entityCtx entity.Context, input string) (string, error) {
	sc, err := c.orchestrator.GetStructuredMemoryContext(ctx, string(entityCtx.UserID), input, mmu.ContextOptions{})
	if err != nil {
		log.ErrorContext(ctx, "Failed to build memory context", "error", err)
		return "", err
	}
	return c.orchestrator.RenderContextSummary(sc, 0), nil
}

func (c *Client) handleLearn(ctx context.Context, input string) (string, error) {
	topic, content := ParseLearnInput(input)
	entry, err := c.orchestrator.LearnKnowledge(ctx, &knowledge.Entry{
		Topic:      topic,
		Content:    content,
		Source:     LearnSource,
		Confidence: 1,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Learned %q in domain %s with ID: %s", entry.Topic, entry.Domain, entry.ID), nil
}

func (c *Client) handleCompress(ctx context.Context, input string) (string, error) {
	before, err := ParseBefore(input, c.now(), c.config.AutoCompressAfter)
	if err != nil {
		return "", err
	}

	result, err := c.orchestrator.CompressMemories(ctx, before)
	if err != nil {
		return "", err
	}
	if result.Archive == nil {
		return fmt.Sprintf("No events before %s to compress.", before.Format(time.RFC3339)), nil
	}
	return fmt.Sprintf("Compressed %d events into archive %s (%d deleted)",
		result.Compressed, result.Archive.ID, result.Deleted), nil
}

// countOperation counts one successful operation and reports whether an
// automatic compression is due.
func (c *Client) countOperation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.opCount++
	return c.config.AutoCompressAfter > 0 && c.opCount%c.config.AutoCompressEvery == 0
}

// autoCompress archives events older than AutoCompressAfter. Failures are
// logged and never fail the operation that triggered it.
func (c *Client) autoCompress(ctx context.Context) {
	before := c.now().Add(-c.config.AutoCompressAfter)
	log.DebugContext(ctx, "Triggering automatic compression", "before", before)

	result, err := c.orchestrator.CompressMemories(ctx, before)
	if err != nil {
		log.ErrorContext(ctx, "Automatic compression failed", "error", err)
		return
	}
	if result.Compressed > 0 {
		log.InfoContext(ctx, "Automatic compression completed",
			"compressed", result.Compressed,
			"deleted", result.Deleted,
		)
	}
}

func (c *Client) now() time.Time {
	return c.orchestrator.Stores().Episodic.Now()
}

// Close waits for background work and releases every resource the client owns.
func (c *Client) Close() error {
	c.orchestrator.Close()

	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// ParseLearnInput splits "topic: content" at the first colon. Input without
// a colon is all content.
func ParseLearnInput(input string) (topic, content string) {
	topic, content, found := strings.Cut(input, ":")
	if !found {
		return "", strings.TrimSpace(input)
	}
	return strings.TrimSpace(topic), strings.TrimSpace(content)
}

// ParseBefore resolves a compression cutoff. Empty input means now minus
// fallback. Otherwise input is an age ("720h"), an RFC3339 timestamp or a
// date ("2006-01-02").
func ParseBefore(input string, now time.Time, fallback time.Duration) (time.Time, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return now.Add(-fallback), nil
	}
	if d, err := time.ParseDuration(input); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("negative compression age %q: %w", input, errors.ErrInvalidInput)
		}
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, input); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, input); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized compression cutoff %q: %w", input, errors.ErrInvalidInput)
}
