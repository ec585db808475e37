package streamprocessor

import (
	"context"
	"errors"
	"sort"
	"testing"

	"corework/engine/ids"
	"corework/engine/store"
)

func newItem(t *testing.T, streamID ids.ID) Item {
	t.Helper()
	return Item{MessageID: ids.MustNew(), StreamID: streamID}
}

func TestRunProcessesEachStreamInMessageOrder(t *testing.T) {
	stream := ids.MustNew()
	items := make([]Item, 5)
	for i := range items {
		items[i] = newItem(t, stream)
	}
	// Shuffle input order; Run must still process in MessageID order.
	shuffled := []Item{items[3], items[0], items[4], items[1], items[2]}

	var seen []ids.ID
	outcomes := Run(context.Background(), shuffled, func(ctx context.Context, item Item) (store.StatusFlags, error) {
		seen = append(seen, item.MessageID)
		return store.StatusFlags(1), nil
	}, Options{})

	if len(outcomes) != len(items) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(items))
	}
	for i := 1; i < len(seen); i++ {
		if !seen[i-1].Before(seen[i]) {
			t.Fatalf("item %d processed out of MessageID order", i)
		}
	}
}

func TestRunCascadesStreamLocalFailure(t *testing.T) {
	stream := ids.MustNew()
	items := make([]Item, 4)
	for i := range items {
		items[i] = newItem(t, stream)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].MessageID.Before(items[j].MessageID) })

	failAt := items[1].MessageID
	boom := errors.New("boom")

	outcomes := Run(context.Background(), items, func(ctx context.Context, item Item) (store.StatusFlags, error) {
		if item.MessageID == failAt {
			return 0, boom
		}
		return store.StatusFlags(1), nil
	}, Options{})

	if len(outcomes) != 2 {
		t.Fatalf("expected processing to stop after the failing item, got %d outcomes", len(outcomes))
	}
	if outcomes[0].Succeeded != true {
		t.Fatalf("first item should have succeeded")
	}
	if outcomes[1].Succeeded {
		t.Fatalf("second item should have failed")
	}
	if !errors.Is(outcomes[1].Err, boom) {
		t.Fatalf("expected the failure's error to be reported, got %v", outcomes[1].Err)
	}
}

func TestRunProcessesDistinctStreamsIndependently(t *testing.T) {
	streamA := ids.MustNew()
	streamB := ids.MustNew()
	items := []Item{newItem(t, streamA), newItem(t, streamB)}

	failAt := items[0].MessageID
	outcomes := Run(context.Background(), items, func(ctx context.Context, item Item) (store.StatusFlags, error) {
		if item.MessageID == failAt {
			return 0, errors.New("stream A failed")
		}
		return store.StatusFlags(1), nil
	}, Options{ParallelizeStreams: true})

	if len(outcomes) != 2 {
		t.Fatalf("got %d outcomes, want 2 (one per stream)", len(outcomes))
	}
	var sawSuccess bool
	for _, o := range outcomes {
		if o.Item.StreamID == streamB && o.Succeeded {
			sawSuccess = true
		}
	}
	if !sawSuccess {
		t.Fatalf("stream B's item should have succeeded independently of stream A's failure")
	}
}
