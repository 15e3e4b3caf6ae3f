// Package engine wires the pipeline together and exposes one entry point
// per trigger: HandleChangeBatch for change-feed batches and
// HandleProactiveRequest for proactive pushes.
//
// Within a batch, records for the same transaction are processed in the
// order received; distinct transactions may be processed concurrently
// across the worker pool. Persistence always precedes dispatch, so every
// delivered push corresponds to a durable record, and a cancelled batch
// leaves partial progress exactly as persisted so far; the recorder's
// dedup keys make the feed's redelivery safe.
package engine

import (
	"context"
	"errors"
	"fmt"

	"taskping/internal/classify"
	"taskping/internal/cooldown"
	"taskping/internal/dispatch"
	"taskping/internal/enrich"
	"taskping/internal/entity"
	"taskping/internal/eventbus"
	"taskping/internal/record"
	"taskping/internal/runtime/supervisor"
	logx "taskping/pkg/logx"
)

// ItemResult reports the outcome for one input record, by position.
// Delivery failures are not item errors; only malformed records and
// storage write failures are, because those are the ones worth retrying.
type ItemResult struct {
	Index int
	Err   error
}

type Config struct {
	Workers int // concurrent transaction groups; default 4
}

type Engine struct {
	resolver   *enrich.Resolver
	recorder   *record.Recorder
	dispatcher *dispatch.Dispatcher
	gate       *cooldown.Gate
	bus        eventbus.Bus
	log        logx.Logger
	workers    int
}

func New(resolver *enrich.Resolver, recorder *record.Recorder, dispatcher *dispatch.Dispatcher, gate *cooldown.Gate, cfg Config, log logx.Logger, bus eventbus.Bus) *Engine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		resolver:   resolver,
		recorder:   recorder,
		dispatcher: dispatcher,
		gate:       gate,
		bus:        bus,
		log:        log,
		workers:    workers,
	}
}

// workItem is one enriched intent tied back to its source record.
type workItem struct {
	index    int
	enriched enrich.Enriched
}

// group is all work for one transaction, in received order.
type group struct {
	transactionID string
	items         []workItem
}

// HandleChangeBatch runs the full pipeline over one ordered feed batch
// and returns one result per input record.
func (e *Engine) HandleChangeBatch(ctx context.Context, events []entity.ChangeEvent) []ItemResult {
	results := make([]ItemResult, len(events))
	for i := range results {
		results[i].Index = i
	}
	if len(events) == 0 {
		return results
	}

	// Classify in received order. Intents remember their source record so
	// failures can be reported back per item.
	type taggedIntent struct {
		index  int
		intent classify.Intent
	}
	var tagged []taggedIntent
	var intents []classify.Intent
	for i, ev := range events {
		if err := ev.Validate(); err != nil {
			results[i].Err = fmt.Errorf("record %d: %w", i, err)
			continue
		}
		for _, in := range classify.Classify(ev) {
			tagged = append(tagged, taggedIntent{index: i, intent: in})
			intents = append(intents, in)
		}
	}
	if len(intents) == 0 {
		return results
	}
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeClassified, Data: len(intents)})
	}

	// One batched enrichment pass for the whole batch.
	enriched := e.resolver.Resolve(ctx, intents)

	// Group by transaction, preserving received order within each group
	// and first-appearance order across groups.
	byTxn := map[string]*group{}
	var groups []*group
	for i, en := range enriched {
		txn := en.Intent.TransactionID
		g, ok := byTxn[txn]
		if !ok {
			g = &group{transactionID: txn}
			byTxn[txn] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, workItem{index: tagged[i].index, enriched: en})
	}

	// Different transactions never share a source record index, so
	// workers write disjoint slots of results.
	queue := make(chan *group)
	sup := supervisor.New(ctx, supervisor.WithLogger(e.log))
	for w := 0; w < e.workers; w++ {
		name := fmt.Sprintf("engine.worker.%d", w)
		sup.Go(name, func(ctx context.Context) error {
			for g := range queue {
				e.processGroup(ctx, g, results)
			}
			return nil
		})
	}

	// Workers drain the queue even under cancellation; processGroup marks
	// cancelled items itself, so feeding never deadlocks.
	for _, g := range groups {
		queue <- g
	}
	close(queue)
	_ = sup.Wait(context.Background())

	return results
}

// processGroup persists each intent in order, then dispatches everything
// newly persisted for the transaction in one call.
func (e *Engine) processGroup(ctx context.Context, g *group, results []ItemResult) {
	outbounds := make([]dispatch.Outbound, 0, len(g.items))
	for _, item := range g.items {
		if err := ctx.Err(); err != nil {
			setItemErr(results, item.index, fmt.Errorf("batch cancelled: %w", err))
			continue
		}
		n, inserted, err := e.recorder.Persist(ctx, item.enriched)
		if err != nil {
			setItemErr(results, item.index, err)
			continue
		}
		if !inserted {
			if e.bus != nil {
				e.bus.Publish(eventbus.Event{Type: eventbus.TypeDeduped, Data: n.DedupKey})
			}
			continue
		}
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.TypePersisted, Data: n.ID})
		}
		outbounds = append(outbounds, dispatch.Outbound{Record: n, Recipient: item.enriched.Recipient})
	}

	if len(outbounds) == 0 {
		return
	}
	out := e.dispatcher.Dispatch(ctx, outbounds)
	for _, f := range out.Failures {
		// Delivery failures are logged, not retried: the record is durable
		// and re-running the batch would dedup it anyway.
		e.log.Warn("notification not delivered",
			logx.String("transaction", g.transactionID),
			logx.String("recipient", f.RecipientID),
			logx.String("reason", f.Reason))
	}
}

// setItemErr accumulates errors per source record; a termination event
// can fail for either party independently.
func setItemErr(results []ItemResult, index int, err error) {
	if index < 0 || index >= len(results) || err == nil {
		return
	}
	results[index].Err = errors.Join(results[index].Err, err)
}

// HandleProactiveRequest runs the cooldown-gated proactive push for one
// user and reports whether a push went out.
func (e *Engine) HandleProactiveRequest(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, errors.New("user id is required")
	}
	return e.gate.MaybeSend(ctx, userID)
}
