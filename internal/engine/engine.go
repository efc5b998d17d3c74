// Package engine is the public face of the roller: it owns the
// collection registry and the evaluator and exposes load, list, and roll
// operations to the server and CLI layers.
package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/dice"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/document"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/eval"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/registry"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/scope"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/trace"
)

// ResultType distinguishes what kind of definition a roll evaluated.
type ResultType string

const (
	ResultTable    ResultType = "table"
	ResultTemplate ResultType = "template"
)

// RollOptions tune one roll call.
type RollOptions struct {
	// EnableTrace records an evaluation tree alongside the result. Off by
	// default; tracing allocates a node per evaluation step.
	EnableTrace bool
}

// RollResult is one completed (or, when Trace is set on error, partial)
// evaluation.
type RollResult struct {
	Text         string
	Type         ResultType
	Captures     map[string]*scope.CaptureVar
	Descriptions []eval.Description
	Placeholders map[string]string
	Trace        *trace.Node
}

// Engine wires the registry and evaluator together. The registry does no
// internal locking, so the engine serializes loads and unloads against
// in-flight rolls with a read-write lock.
type Engine struct {
	mu       sync.RWMutex
	reg      *registry.Registry
	ev       *eval.Evaluator
	logger   *zap.Logger
	src      dice.Source
	maxDepth int
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithSource replaces the default cryptographic randomness source.
// Deterministic runs pass dice.NewSeededSource here.
func WithSource(src dice.Source) Option {
	return func(e *Engine) { e.src = src }
}

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMaxDepth overrides the recursion depth limit.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) { e.maxDepth = depth }
}

// New returns a ready Engine with no collections loaded.
func New(opts ...Option) *Engine {
	e := &Engine{
		reg:    registry.New(),
		src:    dice.NewCryptoSource(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ev = eval.New(e.reg, e.src, e.logger, e.maxDepth)
	return e
}

// LoadCollection parses, validates, and registers one collection
// document (JSON or YAML). An empty id gets a generated one; reusing an
// id replaces the previous collection. Returns the effective id.
func (e *Engine) LoadCollection(data []byte, id string, preloaded bool) (string, error) {
	doc, err := document.Parse(data)
	if err != nil {
		return "", err
	}
	if doc.Metadata.SpecVersion == "" {
		e.logger.Warn("collection declares no specVersion, assuming current",
			zap.String("name", doc.Metadata.Name))
	}
	e.mu.Lock()
	loaded := e.reg.Load(doc, id, preloaded)
	e.mu.Unlock()
	e.logger.Info("collection loaded",
		zap.String("id", loaded),
		zap.String("namespace", doc.Metadata.Namespace),
		zap.Int("tables", len(doc.Tables)),
		zap.Int("templates", len(doc.Templates)))
	return loaded, nil
}

// UnloadCollection removes a collection. Reports whether it was loaded.
func (e *Engine) UnloadCollection(id string) bool {
	e.mu.Lock()
	ok := e.reg.Unload(id)
	e.mu.Unlock()
	if ok {
		e.logger.Info("collection unloaded", zap.String("id", id))
	}
	return ok
}

// ResolveImports binds import declarations across loaded collections
// using an explicit path-to-id map. Collections referenced lazily by
// namespace resolve without this; explicit resolution pins bindings so
// later loads cannot change them.
func (e *Engine) ResolveImports(pathToID map[string]string) {
	e.mu.Lock()
	e.reg.ResolveImports(pathToID)
	e.mu.Unlock()
}

// ListCollections returns the loaded collections sorted by id.
func (e *Engine) ListCollections() []*registry.Collection {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reg.List()
}

// GetCollection returns one loaded collection.
func (e *Engine) GetCollection(id string) (*registry.Collection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.reg.Get(id)
}

// ListTables returns a collection's table definitions.
func (e *Engine) ListTables(collectionID string) ([]*document.Table, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, ok := e.reg.Get(collectionID)
	if !ok {
		return nil, &eval.ReferenceError{Ref: collectionID, Msg: "collection not loaded"}
	}
	return col.Document.Tables, nil
}

// ListTemplates returns a collection's template definitions.
func (e *Engine) ListTemplates(collectionID string) ([]*document.Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	col, ok := e.reg.Get(collectionID)
	if !ok {
		return nil, &eval.ReferenceError{Ref: collectionID, Msg: "collection not loaded"}
	}
	return col.Document.Templates, nil
}

// Roll evaluates one table. On error with tracing enabled, the returned
// result is non-nil and carries the partial trace recorded up to the
// failure point.
func (e *Engine) Roll(collectionID, tableID string, opts RollOptions) (*RollResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tb := e.traceBuilder(opts, tableID)
	out, err := e.ev.RollTable(collectionID, tableID, tb)
	if err != nil {
		return e.partial(tb), err
	}
	return e.result(out, ResultTable, tb), nil
}

// RollTemplate evaluates one template. Partial-trace behavior matches
// Roll.
func (e *Engine) RollTemplate(collectionID, templateID string, opts RollOptions) (*RollResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tb := e.traceBuilder(opts, templateID)
	out, err := e.ev.RollTemplate(collectionID, templateID, tb)
	if err != nil {
		return e.partial(tb), err
	}
	return e.result(out, ResultTemplate, tb), nil
}

func (e *Engine) traceBuilder(opts RollOptions, label string) *trace.Builder {
	if !opts.EnableTrace {
		return nil
	}
	return trace.NewBuilder(label)
}

func (e *Engine) partial(tb *trace.Builder) *RollResult {
	if root := tb.Root(); root != nil {
		return &RollResult{Trace: root}
	}
	return nil
}

func (e *Engine) result(out *eval.Outcome, rt ResultType, tb *trace.Builder) *RollResult {
	return &RollResult{
		Text:         out.Text,
		Type:         rt,
		Captures:     out.Captures.Map(),
		Descriptions: out.Descriptions,
		Placeholders: out.Placeholders,
		Trace:        tb.Finish(out.Text),
	}
}
