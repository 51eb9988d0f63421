package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamqin68/tokenizers/api"
	"github.com/dreamqin68/tokenizers/tokenizer"
)

// newTestTokenizer loads a rank file holding every byte followed by "hello"
// and " world", with the r50k_base special tokens.
func newTestTokenizer(t *testing.T) tokenizer.Tokenizer {
	t.Helper()

	var sb strings.Builder
	for b := range 256 {
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString([]byte{byte(b)}), b)
	}

	for i, s := range []string{"hello", " world"} {
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(s)), 256+i)
	}

	fsys := fstest.MapFS{"test.tiktoken": {Data: []byte(sb.String())}}
	tok, err := tokenizer.LoadFS(fsys, "test.tiktoken", tokenizer.WithEncoding("r50k_base"))
	require.NoError(t, err)
	return tok
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewServer(newTestTokenizer(t), 2).GenerateRoutes()
}

func serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var b bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&b).Encode(body))
	}

	req := httptest.NewRequest(method, path, &b)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestTokenizeHandler(t *testing.T) {
	h := newTestHandler(t)

	cases := []struct {
		name string
		req  api.TokenizeRequest
		want []int32
	}{
		{
			name: "plain",
			req:  api.TokenizeRequest{Content: "hello world"},
			want: []int32{256, 257},
		},
		{
			name: "special as text",
			req:  api.TokenizeRequest{Content: "<|endoftext|>"},
			want: []int32{'<', '|', 'e', 'n', 'd', 'o', 'f', 't', 'e', 'x', 't', '|', '>'},
		},
		{
			name: "allowed special",
			req:  api.TokenizeRequest{Content: "hello<|endoftext|>", AllowedSpecial: []string{"<|endoftext|>"}},
			want: []int32{256, 50256},
		},
		{
			name: "all special",
			req:  api.TokenizeRequest{Content: "<|endoftext|>", AllSpecial: true},
			want: []int32{50256},
		},
		{
			name: "eos",
			req:  api.TokenizeRequest{Content: "hello", AddBOS: true, AddEOS: true},
			want: []int32{256, 50256},
		},
		{
			name: "empty",
			req:  api.TokenizeRequest{},
			want: []int32{},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(t, h, http.MethodPost, "/api/tokenize", tt.req)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			var resp api.TokenizeResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Tokens)
		})
	}
}

func TestTokenizeHandlerBadRequest(t *testing.T) {
	h := newTestHandler(t)

	w := serve(t, h, http.MethodPost, "/api/tokenize", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"missing request body"}`, w.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/api/tokenize", strings.NewReader(`{"content": 1}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetokenizeHandler(t *testing.T) {
	h := newTestHandler(t)

	w := serve(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Tokens: []int32{256, 257, 50256}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.DetokenizeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "hello world<|endoftext|>", resp.Content)

	w = serve(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{Tokens: []int32{256, 99999}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"unknown token id 99999"}`, w.Body.String())
}

func TestDetokenizeHandlerStream(t *testing.T) {
	h := newTestHandler(t)
	stream := true

	// 世 is e4 b8 96, split across three byte tokens
	w := serve(t, h, http.MethodPost, "/api/detokenize", api.DetokenizeRequest{
		Tokens: []int32{256, 0xe4, 0xb8, 0x96},
		Stream: &stream,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/x-ndjson", w.Header().Get("Content-Type"))

	var got []api.DetokenizeResponse
	scanner := bufio.NewScanner(w.Body)
	for scanner.Scan() {
		var resp api.DetokenizeResponse
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		got = append(got, resp)
	}

	assert.Equal(t, []api.DetokenizeResponse{
		{Content: "hello"},
		{Content: "世"},
		{Done: true},
	}, got)
}

func TestCountHandler(t *testing.T) {
	h := newTestHandler(t)

	w := serve(t, h, http.MethodPost, "/api/count", api.CountRequest{Content: "hello world"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.CountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.CountResponse{Count: 2}, resp)

	w = serve(t, h, http.MethodPost, "/api/count", api.CountRequest{
		Contents:   []string{"hello", "hello world", "hi", "<|endoftext|>"},
		AllSpecial: true,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp = api.CountResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.CountResponse{Count: 6, Counts: []int{1, 2, 2, 1}}, resp)
}

func TestShowHandler(t *testing.T) {
	h := newTestHandler(t)

	w := serve(t, h, http.MethodGet, "/api/show", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.ShowResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, api.ShowResponse{
		Type:           "tiktoken",
		Encoding:       "r50k_base",
		VocabularySize: 259,
		MergeableSize:  258,
		MaxID:          50256,
		Merges:         0,
		Patterns:       []string{tokenizer.PatternGPT2},
		SpecialTokens:  []string{"<|endoftext|>"},
		EOS:            []int32{50256},
	}, resp)
}

func TestHeartbeat(t *testing.T) {
	h := newTestHandler(t)

	for _, method := range []string{http.MethodGet, http.MethodHead} {
		w := serve(t, h, method, "/", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestCORS(t *testing.T) {
	h := newTestHandler(t)

	cases := map[string]bool{
		"http://localhost":       true,
		"http://localhost:3000":  true,
		"https://127.0.0.1:8443": true,
		"http://example.com":     false,
	}

	for origin, allowed := range cases {
		t.Run(origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/tokenize", nil)
			req.Header.Set("Origin", origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)

			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if allowed {
				assert.Equal(t, origin, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestServe(t *testing.T) {
	gin.SetMode(gin.TestMode)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	tok := newTestTokenizer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ln, tok)
	}()

	client := api.NewClient(&url.URL{Scheme: "http", Host: ln.Addr().String()}, http.DefaultClient)
	require.Eventually(t, func() bool {
		return client.Heartbeat(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)

	resp, err := client.Tokenize(context.Background(), &api.TokenizeRequest{Content: "hello world"})
	require.NoError(t, err)
	assert.Equal(t, []int32{256, 257}, resp.Tokens)

	var content strings.Builder
	err = client.DetokenizeStream(context.Background(), &api.DetokenizeRequest{Tokens: resp.Tokens}, func(r api.DetokenizeResponse) error {
		content.WriteString(r.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello world", content.String())

	_, err = client.Detokenize(context.Background(), &api.DetokenizeRequest{Tokens: []int32{99999}})
	var statusError api.StatusError
	require.ErrorAs(t, err, &statusError)
	assert.Equal(t, http.StatusBadRequest, statusError.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
