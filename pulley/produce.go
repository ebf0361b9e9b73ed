package pulley

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/arpa2/pulley/internal/backend"
	"github.com/arpa2/pulley/internal/emitter"
	"github.com/arpa2/pulley/internal/lexhash"
	"github.com/arpa2/pulley/internal/script"
	"github.com/arpa2/pulley/internal/sqlstore"
)

// producer is one prepared (generator, driver) production pipeline (§4.5
// step 6): executing it against a triggering fork's uuid and driving
// parameter values yields zero or more output rows destined for the
// differential emitter (§4.6 step 5, §4.7).
type producer struct {
	handle     *sqlstore.ProducerHandle
	drv        script.DrvNum
	driverHash lexhash.Hash
	module     string
	args       []string
	// paramVars are the driving generator's own variables that became ?NNN
	// parameters (?2, ?3, …; ?1 is reserved for uuid), in assigned order.
	// Each is resolved from a triggering fork by its position in that
	// generator's Members slice.
	paramVars []script.VarNum
}

// buildProducers prepares, for every (generator, driver) pair where the
// generator contributes to the driver, the producer SELECT joining that
// generator's table with every other contributing generator of the same
// driver (§4.5 step 6).
func buildProducers(ctx context.Context, t *script.SymbolTables, store *sqlstore.Store) (map[script.GenNum][]*producer, error) {
	out := make(map[script.GenNum][]*producer)

	var buildErr error
	t.Drvs.Each(func(dn script.DrvNum, d *script.DriverOutput) {
		if buildErr != nil {
			return
		}
		gens := d.Generators.Slice()
		sort.Ints(gens)

		conds := conditionsOf(t, d)

		for _, gi := range gens {
			driving := script.GenNum(gi)
			g := t.Gens.Get(driving)

			var paramVars []script.VarNum
			drivingVars := make(map[script.VarNum]int)
			for _, v := range g.Variables.Slice() {
				if !d.Relevant.Contains(v) {
					continue
				}
				vn := script.VarNum(v)
				drivingVars[vn] = len(paramVars) + 2 // ?1 is reserved for uuid
				paramVars = append(paramVars, vn)
			}

			var cogens []sqlstore.CogenTable
			for _, gi2 := range gens {
				if gi2 == gi {
					continue
				}
				cg := script.GenNum(gi2)
				cogens = append(cogens, sqlstore.CogenTable{Gen: cg, LineHash: t.Gens.Get(cg).LineHash})
			}

			ps, err := sqlstore.BuildProducerStatement(dn, driving, g.LineHash, cogens, t.Vars, d.Output, conds, drivingVars)
			if err != nil {
				buildErr = errors.Wrapf(err, "pulley: building producer statement (driver %d, generator %d)", dn, driving)
				return
			}
			ph, err := store.PrepareProducer(ctx, ps)
			if err != nil {
				buildErr = errors.Wrapf(err, "pulley: preparing producer statement (driver %d, generator %d)", dn, driving)
				return
			}

			out[driving] = append(out[driving], &producer{
				handle:     ph,
				drv:        dn,
				driverHash: d.LineHash,
				module:     d.Module,
				args:       d.Args,
				paramVars:  paramVars,
			})
		}
	})
	if buildErr != nil {
		return nil, buildErr
	}
	return out, nil
}

func conditionsOf(t *script.SymbolTables, d *script.DriverOutput) []*script.Condition {
	var out []*script.Condition
	for _, ci := range d.Conditions.Slice() {
		out = append(out, t.Cnds.Get(script.CndNum(ci)))
	}
	return out
}

// memberIndex maps a generator's bound variables to their position in its
// Members slice, the order a triggering fork's Values are supplied in.
func memberIndex(members []script.VarNum) map[script.VarNum]int {
	idx := make(map[script.VarNum]int, len(members))
	for i, v := range members {
		idx[v] = i
	}
	return idx
}

// backendSink adapts a (manager, module, instance) triple to the narrow
// interface internal/emitter needs, so the emitter never imports
// internal/backend directly.
type backendSink struct {
	mgr    *backend.Manager
	module string
	handle backend.InstanceHandle
}

func (b *backendSink) Add(ctx context.Context, driverLineHash uint32, values [][]byte) error {
	return b.mgr.Add(b.module, b.handle, driverLineHash, values)
}

func (b *backendSink) Del(ctx context.Context, driverLineHash uint32, values [][]byte) error {
	return b.mgr.Del(b.module, b.handle, driverLineHash, values)
}

// produce runs every producer attached to gn for the fork's triggering
// uuid, and hands each resulting row to the emitter (§4.6 step 5, §4.7).
// A backend module that is not currently loaded is logged and skipped
// rather than treated as an error, matching the hot-loadable plug-in
// architecture of §4.8 (a script may be Ready before its backend .so
// appears).
func (c *Controller) produce(ctx context.Context, gn script.GenNum, members []script.VarNum, uuid string, values []string, isAdd bool) error {
	idx := memberIndex(members)

	for _, p := range c.producers[gn] {
		args := make([]any, 0, len(p.paramVars)+1)
		args = append(args, uuid)
		for _, v := range p.paramVars {
			pos, ok := idx[v]
			if !ok || pos >= len(values) {
				args = append(args, "")
				continue
			}
			args = append(args, values[pos])
		}

		if err := c.produceOne(ctx, p, args, isAdd); err != nil {
			c.cfg.Log.WithError(err).WithField("driver", p.drv).Warn("producer/emit failed")
		}
	}
	return nil
}

func (c *Controller) produceOne(ctx context.Context, p *producer, args []any, isAdd bool) error {
	rows, err := p.handle.Query(ctx, args...)
	if err != nil {
		return errors.Wrap(err, "pulley: producer query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, "pulley: producer columns")
	}

	sink, err := c.resolveBackend(p.module, p.args)
	if err != nil {
		c.cfg.Log.WithError(err).WithField("module", p.module).Debug("backend not loaded, skipping emission")
		sink = nil
	}

	for rows.Next() {
		scan := make([]any, len(cols))
		for i := range scan {
			scan[i] = new(any)
		}
		if err := rows.Scan(scan...); err != nil {
			return errors.Wrap(err, "pulley: producer row scan")
		}

		values := make([][]byte, len(cols))
		for i, s := range scan {
			v := *s.(*any)
			str, castErr := cast.ToStringE(v)
			if castErr != nil {
				return errors.Wrap(castErr, "pulley: coercing producer column")
			}
			values[i] = []byte(str)
		}

		if sink != nil {
			if err := c.emitter.Emit(ctx, sink, p.driverHash, values, isAdd); err != nil {
				c.cfg.Log.WithError(err).WithField("driver", p.drv).Warn("emit failed")
			}
		}
	}
	return rows.Err()
}

// resolveBackend lazily opens (and caches) a backend instance for a driver
// module, so a script can reach StateReady before its backend plug-in is
// hot-loaded (§4.8).
func (c *Controller) resolveBackend(module string, args []string) (emitter.BackendSink, error) {
	c.backendMu.Lock()
	defer c.backendMu.Unlock()

	if h, ok := c.backendHandles[module]; ok {
		return &backendSink{mgr: c.backends, module: module, handle: h}, nil
	}

	h, err := c.backends.Open(module, args)
	if err != nil {
		return nil, err
	}
	c.backendHandles[module] = h
	return &backendSink{mgr: c.backends, module: module, handle: h}, nil
}
