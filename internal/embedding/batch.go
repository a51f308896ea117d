package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

// DefaultConcurrency is the window size used when none is given.
const DefaultConcurrency = 6

// EventResolver is satisfied by *Resolver.
type EventResolver interface {
	Resolve(ctx context.Context, ev types.MemoryEvent) types.Embedding
}

// BatchFetcher resolves many events in windows. Windows run one after the
// other; items inside a window run concurrently and the window waits for all
// of them, so at most `concurrency` resolutions are in flight.
type BatchFetcher struct {
	resolver EventResolver
	det      Deterministic
	logger   *slog.Logger
}

// NewBatchFetcher creates a fetcher over resolver.
func NewBatchFetcher(resolver EventResolver, logger *slog.Logger) *BatchFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchFetcher{resolver: resolver, logger: logger}
}

// ResolveMany returns one embedding per event, in input order. concurrency
// < 1 uses DefaultConcurrency. An item whose resolution panics or yields no
// vector gets the deterministic embedding. Once ctx is done no further window
// starts and the remaining items are filled deterministically.
func (b *BatchFetcher) ResolveMany(ctx context.Context, events []types.MemoryEvent, concurrency int) []types.Embedding {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	out := make([]types.Embedding, len(events))

	for start := 0; start < len(events); start += concurrency {
		end := start + concurrency
		if end > len(events) {
			end = len(events)
		}

		if ctx.Err() != nil {
			b.logger.Debug("batch cancelled, filling remainder locally",
				"resolved", start, "remaining", len(events)-start)
			for i := start; i < len(events); i++ {
				out[i] = b.det.Embed(events[i])
			}
			return out
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out[i] = b.resolveOne(ctx, events[i])
			}(i)
		}
		wg.Wait()
	}
	return out
}

func (b *BatchFetcher) resolveOne(ctx context.Context, ev types.MemoryEvent) (emb types.Embedding) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("embedding resolution panicked",
				"ts", ev.Timestamp, "source", ev.Source, "panic", fmt.Sprint(r))
			emb = b.det.Embed(ev)
		}
	}()

	emb = b.resolver.Resolve(ctx, ev)
	if len(emb.Vector) == 0 {
		return b.det.Embed(ev)
	}
	return emb
}
