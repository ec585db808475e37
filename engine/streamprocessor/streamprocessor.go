// Package streamprocessor implements the Ordered Stream Processor (C5):
// given a batch of work items each carrying an optional StreamId, it
// groups by StreamId, processes each group strictly sequentially in
// MessageId order, and runs groups in parallel across streams (bounded),
// cascading any stream-local failure to abort the remainder of that
// stream's items.
package streamprocessor

import (
	"context"
	"sync"

	"corework/engine/ids"
	"corework/engine/store"
)

// Item is one unit of work the processor drives through Process.
type Item struct {
	MessageID ids.ID
	StreamID  ids.ID // ids.Nil if the item has no stream affiliation
	Payload   any
}

// Result is what Process returns for a successfully processed item.
type Result struct {
	NewStatus store.StatusFlags
}

// Outcome reports what happened to one item after a processing round.
type Outcome struct {
	Item          Item
	Succeeded     bool
	NewStatus     store.StatusFlags
	PartialStatus store.StatusFlags
	Err           error
}

// ProcessFunc runs the side effect for one item (publish, receptor
// dispatch, projection) and returns its resulting status flags, or an
// error plus whatever status bits accumulated before the error.
type ProcessFunc func(ctx context.Context, item Item) (store.StatusFlags, error)

// PartialStatusFunc derives the partial status bits from an error
// produced by ProcessFunc. Without it, the status ProcessFunc returned
// alongside the error is used; when set, its result replaces that status.
type PartialStatusFunc func(err error) store.StatusFlags

// Options configures one Run call.
type Options struct {
	ParallelizeStreams bool
	MaxConcurrentGroups int
	PartialStatus       PartialStatusFunc
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentGroups <= 0 {
		o.MaxConcurrentGroups = 16
	}
	return o
}

// Run groups items by StreamID and drives each group through process,
// returning one Outcome per item actually attempted (items after a
// stream-local failure are omitted — they remain leased, to be re-offered
// when their lease expires).
func Run(ctx context.Context, items []Item, process ProcessFunc, opts Options) []Outcome {
	if len(items) == 0 {
		return nil
	}
	opts = opts.withDefaults()

	groups := groupByStream(items)

	if !opts.ParallelizeStreams {
		var outcomes []Outcome
		for _, group := range groups {
			outcomes = append(outcomes, runGroup(ctx, group, process, opts)...)
		}
		return outcomes
	}

	sem := make(chan struct{}, opts.MaxConcurrentGroups)
	var mu sync.Mutex
	var outcomes []Outcome
	var wg sync.WaitGroup

launch:
	for _, group := range groups {
		group := group
		select {
		case <-ctx.Done():
			// Cancellation: stop starting new groups; already-started
			// groups (launched in prior loop iterations) still run to
			// completion via the WaitGroup below.
			break launch
		default:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			result := runGroup(ctx, group, process, opts)
			mu.Lock()
			outcomes = append(outcomes, result...)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return outcomes
}

// runGroup processes one stream's items strictly sequentially in
// MessageId order (UUIDv7 gives temporal order), aborting the remainder
// of the group on the first failure.
func runGroup(ctx context.Context, group []Item, process ProcessFunc, opts Options) []Outcome {
	outcomes := make([]Outcome, 0, len(group))
	for _, item := range group {
		select {
		case <-ctx.Done():
			return outcomes
		default:
		}
		status, err := process(ctx, item)
		if err != nil {
			partial := status
			if opts.PartialStatus != nil {
				partial = opts.PartialStatus(err)
			}
			outcomes = append(outcomes, Outcome{
				Item:          item,
				Succeeded:     false,
				PartialStatus: partial,
				Err:           err,
			})
			// Cascading abort: subsequent items in this stream are not
			// processed this round; they stay leased and are re-offered
			// once the lease expires.
			return outcomes
		}
		outcomes = append(outcomes, Outcome{Item: item, Succeeded: true, NewStatus: status})
	}
	return outcomes
}

func groupByStream(items []Item) [][]Item {
	order := make([]ids.ID, 0)
	byStream := make(map[ids.ID][]Item)
	for _, item := range items {
		key := item.StreamID
		if _, ok := byStream[key]; !ok {
			order = append(order, key)
		}
		byStream[key] = append(byStream[key], item)
	}
	groups := make([][]Item, 0, len(order))
	for _, key := range order {
		group := byStream[key]
		sortByMessageID(group)
		groups = append(groups, group)
	}
	return groups
}

// sortByMessageID sorts in place using MessageID's byte-wise (UUIDv7
// temporal) ordering. Groups are small enough that insertion sort is
// simpler than pulling in sort.Slice's reflection overhead here.
func sortByMessageID(items []Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].MessageID.Before(items[j-1].MessageID); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
