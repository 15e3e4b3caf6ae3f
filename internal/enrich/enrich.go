// Package enrich resolves the human-readable context for a batch of
// notification intents: counterpart profiles and task metadata.
//
// Cost is bounded regardless of batch size: identifiers are deduplicated
// across the whole batch and the store sees at most one batched read per
// entity kind per Resolve call. Missing entities are substituted with
// absence, never an error; a record must be persistable even when every
// lookup comes back empty.
package enrich

import (
	"context"
	"sync"

	"taskping/internal/classify"
	"taskping/internal/entity"
	"taskping/internal/store"
	logx "taskping/pkg/logx"
)

// Enriched is an intent plus whatever context resolved for it. Any of the
// snapshot fields may be nil.
type Enriched struct {
	Intent    classify.Intent
	Recipient *entity.Profile
	Subject   *entity.Profile
	Task      *entity.Task
}

type Resolver struct {
	store store.Store
	log   logx.Logger
}

func NewResolver(st store.Store, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{store: st, log: log}
}

// Resolve enriches intents in place-order. The two batched reads are
// issued concurrently; they are read-only and address different
// collections. A failed batch read degrades to absence for every key it
// covered, so one store hiccup cannot fail the whole batch.
func (r *Resolver) Resolve(ctx context.Context, intents []classify.Intent) []Enriched {
	if len(intents) == 0 {
		return nil
	}

	userIDs := collectUserIDs(intents)
	taskIDs := collectTaskIDs(intents)

	var (
		wg       sync.WaitGroup
		profiles map[string]entity.Profile
		tasks    map[string]entity.Task
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		var err error
		profiles, err = r.store.BatchGetProfiles(ctx, userIDs)
		if err != nil {
			r.log.Warn("profile enrichment degraded", logx.Err(err), logx.Int("keys", len(userIDs)))
			profiles = nil
		}
	}()
	go func() {
		defer wg.Done()
		var err error
		tasks, err = r.store.BatchGetTasks(ctx, taskIDs)
		if err != nil {
			r.log.Warn("task enrichment degraded", logx.Err(err), logx.Int("keys", len(taskIDs)))
			tasks = nil
		}
	}()
	wg.Wait()

	out := make([]Enriched, 0, len(intents))
	for _, in := range intents {
		e := Enriched{Intent: in}
		if p, ok := profiles[in.RecipientID]; ok {
			cp := p
			e.Recipient = &cp
		}
		if p, ok := profiles[in.SubjectID]; ok {
			cp := p
			e.Subject = &cp
		}
		if t, ok := tasks[in.ObjectID]; ok {
			ct := t
			e.Task = &ct
		}
		out = append(out, e)
	}
	return out
}

// collectUserIDs gathers distinct recipient and subject identifiers in
// order of first appearance.
func collectUserIDs(intents []classify.Intent) []string {
	seen := make(map[string]struct{}, len(intents)*2)
	out := make([]string, 0, len(intents)*2)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, in := range intents {
		add(in.RecipientID)
		add(in.SubjectID)
	}
	return out
}

func collectTaskIDs(intents []classify.Intent) []string {
	seen := make(map[string]struct{}, len(intents))
	out := make([]string, 0, len(intents))
	for _, in := range intents {
		if in.ObjectID == "" {
			continue
		}
		if _, ok := seen[in.ObjectID]; ok {
			continue
		}
		seen[in.ObjectID] = struct{}{}
		out = append(out, in.ObjectID)
	}
	return out
}
