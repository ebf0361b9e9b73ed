// Package pulley implements §4.9 and §6.4: the script lifecycle controller
// that wires the lexer/parser, binding decoder, semantic analyzer,
// relational translator, change router, differential emitter and backend
// loader together behind the verb surface (script, add_entry,
// remove_entry, resync, dump_state, stop).
//
// Grounded on engine.go's top-level Engine struct, which plays the same
// wiring role for dolthub's own query pipeline, and on original_source's
// sync.cpp/main.cpp state transitions.
package pulley

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/arpa2/pulley/config"
	pulleyerrors "github.com/arpa2/pulley/errors"
	"github.com/arpa2/pulley/internal/analyzer"
	"github.com/arpa2/pulley/internal/backend"
	"github.com/arpa2/pulley/internal/binding"
	"github.com/arpa2/pulley/internal/emitter"
	"github.com/arpa2/pulley/internal/ledger"
	"github.com/arpa2/pulley/internal/router"
	"github.com/arpa2/pulley/internal/script"
	"github.com/arpa2/pulley/internal/sqlstore"
)

// State is a script's lifecycle stage (§4.9).
type State int

const (
	StateInitial State = iota
	StateParsing
	StateAnalyzed
	StateReady
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateParsing:
		return "parsing"
	case StateAnalyzed:
		return "analyzed"
	case StateReady:
		return "ready"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Controller owns one loaded script's full pipeline and exposes the verb
// surface of §6.4.
type Controller struct {
	cfg config.Config

	mu    sync.RWMutex
	state State

	tables    *script.SymbolTables
	analysis  *analyzer.Result
	store     *sqlstore.Store
	router    *router.Router
	emitter   *emitter.Emitter
	backends  *backend.Manager
	ledger    *ledger.Ledger
	watcher   *backend.Watcher
	tuples    map[script.GenNum]*sqlstore.TupleStatements
	members   map[script.GenNum][]script.VarNum
	producers map[script.GenNum][]*producer
	lastError error

	backendMu      sync.Mutex
	backendHandles map[string]backend.InstanceHandle
}

// New returns a Controller in StateInitial, ready to accept a script.
func New(cfg config.Config) (*Controller, error) {
	c := &Controller{
		cfg:            cfg,
		state:          StateInitial,
		tuples:         make(map[script.GenNum]*sqlstore.TupleStatements),
		members:        make(map[script.GenNum][]script.VarNum),
		backendHandles: make(map[string]backend.InstanceHandle),
	}

	if cfg.LedgerPath != "" {
		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return nil, fmt.Errorf("pulley: open ledger: %w", err)
		}
		c.ledger = l
	}

	c.backends = backend.NewManager()
	if cfg.BackendDir != "" {
		w, err := backend.NewWatcher(c.backends, cfg.BackendDir, cfg.PluginPrefix, cfg.PluginSuffix, cfg.Log)
		if err != nil {
			return nil, fmt.Errorf("pulley: watch backend directory: %w", err)
		}
		c.watcher = w
	}

	return c, nil
}

// Close releases all resources the controller is holding.
func (c *Controller) Close() error {
	var result *multierror.Error
	if c.watcher != nil {
		result = multierror.Append(result, c.watcher.Close())
	}
	for _, t := range c.tuples {
		result = multierror.Append(result, t.Close())
	}
	if c.backends != nil {
		for module, h := range c.backendHandles {
			result = multierror.Append(result, c.backends.Close(module, h))
		}
	}
	if c.store != nil {
		result = multierror.Append(result, c.store.Close())
	}
	if c.ledger != nil {
		result = multierror.Append(result, c.ledger.Close())
	}
	return result.ErrorOrNil()
}

// Script loads a new script, running it through parse -> analyze ->
// translate -> ready (§4.9). A parse or translation failure leaves the
// controller in StateBroken with the triggering error retained for
// dump_state; analysis warnings are logged only, and a script sent while
// a compiled one is in place is rejected with the state unchanged.
func (c *Controller) Script(ctx context.Context, src string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateInitial && c.state != StateBroken {
		return pulleyerrors.ErrRuntime.New("script is immutable once compiled: controller is " + c.state.String())
	}

	c.state = StateParsing
	tables, err := script.Parse(src)
	if err != nil {
		return c.broken(err)
	}
	c.tables = tables

	result, analyzeErr := analyzer.Analyze(tables)
	c.analysis = result
	c.state = StateAnalyzed
	if analyzeErr != nil {
		c.cfg.Log.WithError(analyzeErr).Warn("non-fatal invariant violations during analysis")
	}

	if err := c.translate(ctx); err != nil {
		return c.broken(err)
	}

	c.state = StateReady
	if c.ledger != nil {
		_ = c.ledger.Record(ledger.Record{WholeHash: uint32(tables.WholeHash), LoadedAt: time.Now(), LastState: c.state.String()})
	}
	return nil
}

func (c *Controller) broken(err error) error {
	c.state = StateBroken
	c.lastError = err
	return err
}

// translate compiles every generator's binding, creates its relational
// table, and builds the router over all generator bindings (§4.5, §4.6).
func (c *Controller) translate(ctx context.Context) error {
	store, err := sqlstore.Open(ctx, c.cfg.DBDir, c.tables.WholeHash)
	if err != nil {
		return err
	}
	c.store = store

	var bindings []*router.GeneratorBinding
	c.tables.Gens.Each(func(gn script.GenNum, g *script.Generator) {
		if err != nil {
			return
		}
		code, filter, cErr := binding.Compile(g.Pattern, c.tables.Vars)
		if cErr != nil {
			err = cErr
			return
		}
		g.Binding = code
		g.Filter = filter

		bound := binding.BoundAttrs(g.Pattern)
		varMembers := make([]script.VarNum, len(bound))
		for i, ba := range bound {
			varMembers[i] = ba.Var
		}

		if tErr := store.CreateGeneratorTable(ctx, gn, g.LineHash, c.tables.Vars, varMembers); tErr != nil {
			err = tErr
			return
		}
		tuples, tErr := store.PrepareTupleStatements(ctx, gn, g.LineHash, c.tables.Vars, varMembers)
		if tErr != nil {
			err = tErr
			return
		}
		c.tuples[gn] = tuples
		c.members[gn] = varMembers

		bindings = append(bindings, &router.GeneratorBinding{
			Gen:     gn,
			Source:  c.tables.Vars.Get(g.Source).Name,
			Members: varMembers,
			Bound:   bound,
			Tuples:  tuples,
		})
	})
	if err != nil {
		return err
	}

	c.router = router.New(bindings)
	c.emitter = emitter.New(store, c.cfg.Log)

	producers, pErr := buildProducers(ctx, c.tables, store)
	if pErr != nil {
		return pErr
	}
	c.producers = producers
	return nil
}

// AddEntry implements the add_entry verb (§6.3).
func (c *Controller) AddEntry(ctx context.Context, uuid string, attrs map[string][]string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady {
		return pulleyerrors.ErrRuntime.New("controller not ready: " + c.state.String())
	}
	if err := c.router.AddEntry(ctx, uuid, attrs, func(gn script.GenNum, values []string) error {
		return c.produce(ctx, gn, c.members[gn], uuid, values, true)
	}); err != nil {
		return err
	}
	if err := c.commitBackends(); err != nil {
		c.cfg.Log.WithError(err).Warn("backend commit failed, rolled back")
	}
	return nil
}

// RemoveEntry implements the remove_entry verb (§6.3).
func (c *Controller) RemoveEntry(ctx context.Context, uuid string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady {
		return pulleyerrors.ErrRuntime.New("controller not ready: " + c.state.String())
	}
	if err := c.router.RemoveEntry(ctx, uuid, func(gn script.GenNum, values []string) error {
		return c.produce(ctx, gn, c.members[gn], uuid, values, false)
	}); err != nil {
		return err
	}
	if err := c.commitBackends(); err != nil {
		c.cfg.Log.WithError(err).Warn("backend commit failed, rolled back")
	}
	return nil
}

// Resync implements the resync verb: a full re-run of every generator's
// producer statements against the current dedup state, without altering
// the upstream-facing state machine (§4.9, §6 Open Question 3: present is
// otherwise ignored entirely).
func (c *Controller) Resync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return pulleyerrors.ErrRuntime.New("controller not ready: " + c.state.String())
	}

	// A full resync re-opens every generator table's producer statements;
	// the differential emitter's dedup counters are left untouched, so
	// already-delivered tuples are not re-fired.
	var result *multierror.Error
	for gn, t := range c.tuples {
		rows, err := t.AllRows(ctx)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, row := range rows {
			if err := c.produce(ctx, gn, c.members[gn], row.UUID, row.Values, true); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	if err := c.commitBackends(); err != nil {
		c.cfg.Log.WithError(err).Warn("backend commit failed, rolled back")
	}
	return result.ErrorOrNil()
}

// commitBackends runs a normal close of the two-phase-commit cycle every
// currently open backend instance is in (§4.8: Open -> Prepare -> Commit,
// or Rollback on failure; §8 Scenario 5). Each instance is first enrolled
// via Collaborate with the full peer set, so a backend can coordinate with
// its siblings before voting to prepare.
func (c *Controller) commitBackends() error {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	if len(c.backendHandles) == 0 {
		return nil
	}

	peers := make([]string, 0, len(c.backendHandles))
	for module := range c.backendHandles {
		peers = append(peers, module)
	}

	var result *multierror.Error
	failed := false
	for module, h := range c.backendHandles {
		if err := c.backends.Collaborate(module, h, peers); err != nil {
			result = multierror.Append(result, err)
			failed = true
		}
	}
	for module, h := range c.backendHandles {
		if err := c.backends.Prepare(module, h); err != nil {
			result = multierror.Append(result, err)
			failed = true
		}
	}
	if !failed {
		for module, h := range c.backendHandles {
			if err := c.backends.Commit(module, h); err != nil {
				result = multierror.Append(result, err)
				failed = true
			}
		}
	}
	if failed {
		for module, h := range c.backendHandles {
			if err := c.backends.Rollback(module, h); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// rollbackBackends unconditionally rolls back every currently open backend
// instance, matching §5's cancellation semantics: "in-flight transactions
// are rolled back across all backend instances" when stop drops the
// upstream connection.
func (c *Controller) rollbackBackends() error {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	var result *multierror.Error
	for module, h := range c.backendHandles {
		if err := c.backends.Rollback(module, h); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// DumpState implements the dump_state verb (§6.4).
type StateDump struct {
	State   string          `json:"state"`
	Error   string          `json:"error,omitempty"`
	Loads   []ledger.Record `json:"loads,omitempty"`
	Drivers int             `json:"drivers"`
	Gens    int             `json:"generators"`
}

func (c *Controller) DumpState() (StateDump, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dump := StateDump{State: c.state.String()}
	if c.lastError != nil {
		dump.Error = c.lastError.Error()
	}
	if c.tables != nil {
		dump.Drivers = c.tables.Drvs.Count()
		dump.Gens = c.tables.Gens.Count()
	}
	if c.ledger != nil {
		loads, err := c.ledger.All()
		if err != nil {
			return dump, err
		}
		dump.Loads = loads
	}
	return dump, nil
}

// Stop implements the stop verb: it tears down the pipeline and returns the
// controller to StateInitial.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result *multierror.Error
	if err := c.rollbackBackends(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	c.state = StateInitial
	c.tables = nil
	c.analysis = nil
	c.store = nil
	c.router = nil
	c.emitter = nil
	c.tuples = make(map[script.GenNum]*sqlstore.TupleStatements)
	c.members = make(map[script.GenNum][]script.VarNum)
	c.producers = nil
	c.backendHandles = make(map[string]backend.InstanceHandle)
	return result.ErrorOrNil()
}
