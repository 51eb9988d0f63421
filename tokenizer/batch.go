package tokenizer

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// EncodeBatch encodes texts concurrently with at most limit workers, or
// GOMAXPROCS when limit is not positive. Results keep the order of texts. The
// first error cancels the remaining work.
func EncodeBatch(ctx context.Context, t Tokenizer, texts []string, limit int, opts ...EncodeOption) ([][]int32, error) {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([][]int32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, text := range texts {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			ids, err := t.Encode(text, opts...)
			if err != nil {
				return err
			}

			results[i] = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}
