// Package mmu is the memory management unit: it composes the six dimension
// stores and provides cross-dimension retrieval, conversation recording,
// structured prompt context and compression.
package mmu

import (
	"context"
	"sync"
	"time"

	"github.com/lexlapax/dimmem/pkg/errors"
	"github.com/lexlapax/dimmem/pkg/extraction"
	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/mem/core"
	"github.com/lexlapax/dimmem/pkg/mem/dimension"
	"github.com/lexlapax/dimmem/pkg/mem/episodic"
	"github.com/lexlapax/dimmem/pkg/mem/events"
	"github.com/lexlapax/dimmem/pkg/mem/knowledge"
	"github.com/lexlapax/dimmem/pkg/mem/procedural"
	"github.com/lexlapax/dimmem/pkg/mem/recordstore"
	"github.com/lexlapax/dimmem/pkg/mem/resource"
	"github.com/lexlapax/dimmem/pkg/mem/semantic"
)

// Config contains configuration options for the orchestrator.
type Config struct {
	// ContextWindow bounds RenderContextSummary output, in characters
	ContextWindow int

	// MemoryPressureThreshold is the live record count above which a warning is logged
	MemoryPressureThreshold int

	// EnableConceptExtraction runs concept extraction after each recorded conversation
	EnableConceptExtraction bool

	// ExtractionDomain is passed to the extraction service as a hint
	ExtractionDomain string

	// SummaryPreviewLength bounds the stored summary of a conversation, in characters
	SummaryPreviewLength int

	// RecentConversationLimit bounds conversations in a structured context
	RecentConversationLimit int

	// ConceptLimit bounds concepts in a structured context
	ConceptLimit int

	// RetrievalTimeout bounds a whole active retrieval
	RetrievalTimeout time.Duration

	// CompressionTimeout bounds a whole compression run
	CompressionTimeout time.Duration
}

// DefaultConfig returns the default configuration for the orchestrator.
func DefaultConfig() Config {
	return Config{
		ContextWindow:           4000,
		MemoryPressureThreshold: 10000,
		EnableConceptExtraction: true,
		SummaryPreviewLength:    100,
		RecentConversationLimit: 10,
		ConceptLimit:            10,
		RetrievalTimeout:        10 * time.Second,
		CompressionTimeout:      30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ContextWindow <= 0 {
		c.ContextWindow = d.ContextWindow
	}
	if c.MemoryPressureThreshold <= 0 {
		c.MemoryPressureThreshold = d.MemoryPressureThreshold
	}
	if c.SummaryPreviewLength <= 0 {
		c.SummaryPreviewLength = d.SummaryPreviewLength
	}
	if c.RecentConversationLimit <= 0 {
		c.RecentConversationLimit = d.RecentConversationLimit
	}
	if c.ConceptLimit <= 0 {
		c.ConceptLimit = d.ConceptLimit
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = d.RetrievalTimeout
	}
	if c.CompressionTimeout <= 0 {
		c.CompressionTimeout = d.CompressionTimeout
	}
	return c
}

// Stores are the six dimension stores the orchestrator composes.
type Stores struct {
	Core       *core.Store
	Episodic   *episodic.Store
	Semantic   *semantic.Store
	Procedural *procedural.Store
	Resource   *resource.Store
	Knowledge  *knowledge.Store
}

// StoreConfig configures NewStores.
type StoreConfig struct {
	Core               core.Config
	EnableVectorSearch bool
}

// NewStores builds all six dimension stores over one backend.
func NewStores(backend recordstore.Store, config StoreConfig, opts ...dimension.Option) (Stores, error) {
	sem, err := semantic.NewStore(backend, semantic.Config{EnableVectorSearch: config.EnableVectorSearch}, opts...)
	if err != nil {
		return Stores{}, err
	}

	return Stores{
		Core:       core.NewStore(backend, config.Core, opts...),
		Episodic:   episodic.NewStore(backend, opts...),
		Semantic:   sem,
		Procedural: procedural.NewStore(backend, opts...),
		Resource:   resource.NewStore(backend, opts...),
		Knowledge:  knowledge.NewStore(backend, opts...),
	}, nil
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the orchestrator configuration. Zero fields take defaults.
func WithConfig(config Config) Option {
	return func(o *Orchestrator) {
		o.config = config.withDefaults()
	}
}

// WithExtractor sets the concept extraction service. Without one, concepts
// come from the keyword heuristic.
func WithExtractor(svc extraction.Service) Option {
	return func(o *Orchestrator) {
		o.extractor = svc
	}
}

// WithTopicInferer sets how retrieval queries are mapped to search topics.
func WithTopicInferer(t TopicInferer) Option {
	return func(o *Orchestrator) {
		o.topics = t
	}
}

// Orchestrator coordinates the six dimension stores.
type Orchestrator struct {
	stores    Stores
	config    Config
	extractor extraction.Service
	topics    TopicInferer

	bus    *events.Bus
	unsubs []func()

	// tasks tracks background concept extraction
	tasks sync.WaitGroup

	pressureMu   sync.Mutex
	overPressure bool
}

// New creates an orchestrator over stores and subscribes to each of them.
func New(stores Stores, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		stores: stores,
		config: DefaultConfig(),
		topics: IdentityTopic{},
		bus:    events.NewBus(),
	}
	for _, opt := range opts {
		opt(o)
	}

	for _, sub := range o.subscribers() {
		o.unsubs = append(o.unsubs, sub(o.forward))
	}

	log.Debug("Memory orchestrator initialized",
		"concept_extraction", o.config.EnableConceptExtraction,
		"extractor", o.extractor != nil,
		"pressure_threshold", o.config.MemoryPressureThreshold,
	)
	return o
}

func (o *Orchestrator) subscribers() []func(events.Listener) func() {
	return []func(events.Listener) func(){
		o.stores.Core.Subscribe,
		o.stores.Episodic.Subscribe,
		o.stores.Semantic.Subscribe,
		o.stores.Procedural.Subscribe,
		o.stores.Resource.Subscribe,
		o.stores.Knowledge.Subscribe,
	}
}

// Stores returns the composed dimension stores.
func (o *Orchestrator) Stores() Stores {
	return o.stores
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.config
}

// Subscribe registers a listener for the notifications of every dimension.
func (o *Orchestrator) Subscribe(l events.Listener) (unsubscribe func()) {
	return o.bus.Subscribe(l)
}

func (o *Orchestrator) forward(e events.Event) {
	if e.Operation == events.Created || e.Operation == events.Deleted {
		o.checkPressure()
	}
	o.bus.Publish(e)
}

// checkPressure logs once each time the live record count crosses the threshold.
func (o *Orchestrator) checkPressure() {
	total := o.Total()

	o.pressureMu.Lock()
	defer o.pressureMu.Unlock()

	over := total > o.config.MemoryPressureThreshold
	if over && !o.overPressure {
		log.Warn("Memory pressure threshold exceeded",
			"records", total,
			"threshold", o.config.MemoryPressureThreshold)
	}
	o.overPressure = over
}

// UnderPressure reports whether the live record count is above the threshold.
func (o *Orchestrator) UnderPressure() bool {
	o.pressureMu.Lock()
	defer o.pressureMu.Unlock()
	return o.overPressure
}

// Stats returns the number of live records per dimension.
func (o *Orchestrator) Stats() map[events.Dimension]int {
	return map[events.Dimension]int{
		events.Core:       o.stores.Core.Count(),
		events.Episodic:   o.stores.Episodic.Count(),
		events.Semantic:   o.stores.Semantic.Count(),
		events.Procedural: o.stores.Procedural.Count(),
		events.Resource:   o.stores.Resource.Count(),
		events.Knowledge:  o.stores.Knowledge.Count(),
	}
}

// Total returns the number of live records across all dimensions.
func (o *Orchestrator) Total() int {
	n := 0
	for _, c := range o.Stats() {
		n += c
	}
	return n
}

// Load warms every store from the durable record store and returns the
// number of records read.
func (o *Orchestrator) Load(ctx context.Context) (int, error) {
	loaders := []func(context.Context) (int, error){
		o.stores.Core.Load,
		o.stores.Episodic.Load,
		o.stores.Semantic.Load,
		o.stores.Procedural.Load,
		o.stores.Resource.Load,
		o.stores.Knowledge.Load,
	}

	total := 0
	var errs []error
	for _, load := range loaders {
		n, err := load(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		total += n
	}

	o.checkPressure()
	log.InfoContext(ctx, "Loaded memory", "records", total)
	return total, errors.Join(errs...)
}

// Wait blocks until every background task has finished.
func (o *Orchestrator) Wait() {
	o.tasks.Wait()
}

// Close stops forwarding notifications and waits for background tasks.
func (o *Orchestrator) Close() {
	for _, unsub := range o.unsubs {
		unsub()
	}
	o.unsubs = nil
	o.Wait()
}

// goBackground runs fn detached from the caller's cancellation, with its own
// panic boundary.
func (o *Orchestrator) goBackground(ctx context.Context, name string, fn func(context.Context)) {
	bctx := context.WithoutCancel(ctx)

	o.tasks.Add(1)
	go func() {
		defer o.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(bctx, "Background task panicked", "task", name, "panic", r)
			}
		}()
		fn(bctx)
	}()
}

type contextKey int

const orchestratorKey contextKey = iota

// WithOrchestrator returns a context carrying o.
func WithOrchestrator(ctx context.Context, o *Orchestrator) context.Context {
	return context.WithValue(ctx, orchestratorKey, o)
}

// FromContext returns the orchestrator carried by ctx.
func FromContext(ctx context.Context) (*Orchestrator, bool) {
	o, ok := ctx.Value(orchestratorKey).(*Orchestrator)
	return o, ok && o != nil
}
