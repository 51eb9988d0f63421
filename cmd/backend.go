package cmd

import (
	"context"
	"io"

	"github.com/dreamqin68/tokenizers/api"
	"github.com/dreamqin68/tokenizers/envconfig"
	"github.com/dreamqin68/tokenizers/server"
	"github.com/dreamqin68/tokenizers/tokenizer"
)

// backend answers commands from a local model or a running server.
type backend interface {
	tokenize(context.Context, *api.TokenizeRequest) (*api.TokenizeResponse, error)
	// detokenize writes text to w as soon as it forms complete runes
	detokenize(ctx context.Context, ids []int32, w io.Writer) error
	count(context.Context, *api.CountRequest) (*api.CountResponse, error)
	show(context.Context) (*api.ShowResponse, error)
}

type localBackend struct {
	tok tokenizer.Tokenizer
}

func (b localBackend) tokenize(_ context.Context, req *api.TokenizeRequest) (*api.TokenizeResponse, error) {
	return server.Tokenize(b.tok, req)
}

func (b localBackend) detokenize(ctx context.Context, ids []int32, w io.Writer) error {
	d := tokenizer.NewStreamDecoder(b.tok)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := d.Feed(id)
		if err != nil {
			return err
		}

		if _, err := io.WriteString(w, s); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, d.Flush())
	return err
}

func (b localBackend) count(ctx context.Context, req *api.CountRequest) (*api.CountResponse, error) {
	return server.Count(ctx, b.tok, req, envconfig.NumParallel)
}

func (b localBackend) show(context.Context) (*api.ShowResponse, error) {
	return server.Show(b.tok), nil
}

type remoteBackend struct {
	client *api.Client
}

func (b remoteBackend) tokenize(ctx context.Context, req *api.TokenizeRequest) (*api.TokenizeResponse, error) {
	return b.client.Tokenize(ctx, req)
}

func (b remoteBackend) detokenize(ctx context.Context, ids []int32, w io.Writer) error {
	return b.client.DetokenizeStream(ctx, &api.DetokenizeRequest{Tokens: ids}, func(resp api.DetokenizeResponse) error {
		_, err := io.WriteString(w, resp.Content)
		return err
	})
}

func (b remoteBackend) count(ctx context.Context, req *api.CountRequest) (*api.CountResponse, error) {
	return b.client.Count(ctx, req)
}

func (b remoteBackend) show(ctx context.Context) (*api.ShowResponse, error) {
	return b.client.Show(ctx)
}
