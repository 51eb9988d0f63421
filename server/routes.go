package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dreamqin68/tokenizers/api"
	"github.com/dreamqin68/tokenizers/envconfig"
	"github.com/dreamqin68/tokenizers/tokenizer"
	"github.com/dreamqin68/tokenizers/version"
)

// Server serves one loaded tokenizer over HTTP.
type Server struct {
	addr net.Addr
	tok  tokenizer.Tokenizer

	// maximum texts encoded in parallel by /api/count
	numParallel int
}

func NewServer(tok tokenizer.Tokenizer, numParallel int) *Server {
	return &Server{tok: tok, numParallel: numParallel}
}

func (s *Server) GenerateRoutes() http.Handler {
	config := cors.DefaultConfig()
	config.AllowWildcard = true
	config.AllowOrigins = envconfig.AllowOrigins
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}

	r := gin.Default()
	r.Use(cors.New(config))

	r.POST("/api/tokenize", s.TokenizeHandler)
	r.POST("/api/detokenize", s.DetokenizeHandler)
	r.POST("/api/count", s.CountHandler)
	r.GET("/api/show", s.ShowHandler)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		r.Handle(method, "/", func(c *gin.Context) {
			c.String(http.StatusOK, "Tokenizers is running")
		})
	}

	return r
}

// Serve runs the server on ln until ctx is canceled.
func Serve(ctx context.Context, ln net.Listener, tok tokenizer.Tokenizer) error {
	s := NewServer(tok, envconfig.NumParallel)
	s.addr = ln.Addr()

	srvr := &http.Server{
		Handler: s.GenerateRoutes(),
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srvr.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown", "error", err)
		}
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", s.addr, version.Version), "type", tok.Type(), "vocabulary", tok.Vocabulary().Size())
	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tokenizer.ErrUnknownTokenID), errors.Is(err, tokenizer.ErrNoByteToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	switch {
	case errors.Is(err, io.EOF):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	case err != nil:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}

	return true
}

func encodeOptions(allowed []string, all, bos, eos bool) []tokenizer.EncodeOption {
	var opts []tokenizer.EncodeOption
	if len(allowed) > 0 {
		opts = append(opts, tokenizer.WithAllowedSpecial(allowed...))
	}

	if all {
		opts = append(opts, tokenizer.WithAllSpecial())
	}

	if bos {
		opts = append(opts, tokenizer.WithBOS())
	}

	if eos {
		opts = append(opts, tokenizer.WithEOS())
	}

	return opts
}

// Tokenize answers a tokenize request with tok.
func Tokenize(tok tokenizer.Tokenizer, req *api.TokenizeRequest) (*api.TokenizeResponse, error) {
	ids, err := tok.Encode(req.Content, encodeOptions(req.AllowedSpecial, req.AllSpecial, req.AddBOS, req.AddEOS)...)
	if err != nil {
		return nil, err
	}

	return &api.TokenizeResponse{Tokens: ids}, nil
}

// Count answers a count request with tok, encoding Contents with at most
// numParallel workers.
func Count(ctx context.Context, tok tokenizer.Tokenizer, req *api.CountRequest, numParallel int) (*api.CountResponse, error) {
	opts := encodeOptions(req.AllowedSpecial, req.AllSpecial, false, false)

	if len(req.Contents) == 0 {
		ids, err := tok.Encode(req.Content, opts...)
		if err != nil {
			return nil, err
		}

		return &api.CountResponse{Count: len(ids)}, nil
	}

	batch, err := tokenizer.EncodeBatch(ctx, tok, req.Contents, numParallel, opts...)
	if err != nil {
		return nil, err
	}

	resp := api.CountResponse{Counts: make([]int, len(batch))}
	for i, ids := range batch {
		resp.Counts[i] = len(ids)
		resp.Count += len(ids)
	}

	return &resp, nil
}

// Show describes tok.
func Show(tok tokenizer.Tokenizer) *api.ShowResponse {
	vocab := tok.Vocabulary()

	resp := api.ShowResponse{
		Type:           tok.Type().String(),
		VocabularySize: vocab.Size(),
		MergeableSize:  vocab.MergeableSize(),
		MaxID:          vocab.MaxID(),
		Merges:         tok.Merges().Len(),
		Patterns:       tok.Pretokenizer().Patterns(),
		SpecialTokens:  vocab.SpecialTokens(),
		BOS:            vocab.BOS(),
		EOS:            vocab.EOS(),
	}

	if t, ok := tok.(*tokenizer.Tiktoken); ok {
		resp.Encoding = t.Encoding()
	}

	return &resp
}

func (s *Server) TokenizeHandler(c *gin.Context) {
	var req api.TokenizeRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := Tokenize(s.tok, &req)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) DetokenizeHandler(c *gin.Context) {
	var req api.DetokenizeRequest
	if !bindJSON(c, &req) {
		return
	}

	if req.Stream != nil && *req.Stream {
		s.streamDetokenize(c, req.Tokens)
		return
	}

	content, err := s.tok.Decode(req.Tokens)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, api.DetokenizeResponse{Content: content})
}

// streamDetokenize writes one object per id that completes text, then a
// final object holding any trailing partial bytes.
func (s *Server) streamDetokenize(c *gin.Context, ids []int32) {
	c.Header("Content-Type", "application/x-ndjson")

	d := tokenizer.NewStreamDecoder(s.tok)
	write := func(v any) bool {
		bts, err := json.Marshal(v)
		if err != nil {
			slog.Error("marshal", "error", err)
			return false
		}

		if _, err := c.Writer.Write(append(bts, '\n')); err != nil {
			slog.Info("stream", "error", err)
			return false
		}

		c.Writer.Flush()
		return true
	}

	for _, id := range ids {
		if c.Request.Context().Err() != nil {
			return
		}

		content, err := d.Feed(id)
		if err != nil {
			write(gin.H{"error": err.Error()})
			return
		}

		if content == "" {
			continue
		}

		if !write(api.DetokenizeResponse{Content: content}) {
			return
		}
	}

	write(api.DetokenizeResponse{Content: d.Flush(), Done: true})
}

func (s *Server) CountHandler(c *gin.Context) {
	var req api.CountRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := Count(c.Request.Context(), s.tok, &req, s.numParallel)
	if err != nil {
		c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) ShowHandler(c *gin.Context) {
	c.JSON(http.StatusOK, Show(s.tok))
}
