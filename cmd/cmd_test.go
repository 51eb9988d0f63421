package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamqin68/tokenizers/envconfig"
	"github.com/dreamqin68/tokenizers/server"
	"github.com/dreamqin68/tokenizers/tokenizer"
)

// writeModel writes a rank file holding every byte followed by "hello" and
// " world".
func writeModel(t *testing.T) string {
	t.Helper()

	var sb strings.Builder
	for b := range 256 {
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString([]byte{byte(b)}), b)
	}

	for i, s := range []string{"hello", " world"} {
		fmt.Fprintf(&sb, "%s %d\n", base64.StdEncoding.EncodeToString([]byte(s)), 256+i)
	}

	p := filepath.Join(t.TempDir(), "test.tiktoken")
	require.NoError(t, os.WriteFile(p, []byte(sb.String()), 0o644))
	return p
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	c := NewCLI()
	c.SetArgs(args)
	c.SetIn(strings.NewReader(stdin))
	c.SetOut(&out)
	c.SetErr(io.Discard)

	err := c.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLocal(t *testing.T) {
	model := writeModel(t)
	flags := []string{"--model", model, "--encoding", "r50k_base"}

	cases := []struct {
		name  string
		args  []string
		stdin string
		want  string
	}{
		{
			name: "encode",
			args: []string{"encode", "hello world"},
			want: "256 257\n",
		},
		{
			name: "encode joins args",
			args: []string{"encode", "hello", "world"},
			want: "256 257\n",
		},
		{
			name:  "encode stdin",
			args:  []string{"encode"},
			stdin: "hello world",
			want:  "256 257\n",
		},
		{
			name: "encode eos",
			args: []string{"encode", "--eos", "hello"},
			want: "256 50256\n",
		},
		{
			name: "special as text",
			args: []string{"encode", "<|endoftext|>"},
			want: "60 124 101 110 100 111 102 116 101 120 116 124 62\n",
		},
		{
			name: "special allowed",
			args: []string{"encode", "--allow-special", "<|endoftext|>", "hello<|endoftext|>"},
			want: "256 50256\n",
		},
		{
			name: "decode",
			args: []string{"decode", "256", "257", "50256"},
			want: "hello world<|endoftext|>",
		},
		{
			name:  "decode stdin",
			args:  []string{"decode"},
			stdin: "[256, 257]\n",
			want:  "hello world",
		},
		{
			name:  "count",
			args:  []string{"count"},
			stdin: "hello world\nhello\n",
			want:  "3\n",
		},
		{
			name:  "count per line",
			args:  []string{"count", "--per-line"},
			stdin: "hello world\nhello\n",
			want:  "2\n1\n",
		},
		{
			name: "count empty",
			args: []string{"count"},
			want: "0\n",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.stdin, append(flags, tt.args...)...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLocalErrors(t *testing.T) {
	model := writeModel(t)

	t.Run("unknown id", func(t *testing.T) {
		_, err := run(t, "", "--model", model, "decode", "999")
		assert.ErrorIs(t, err, tokenizer.ErrUnknownTokenID)
	})

	t.Run("invalid id", func(t *testing.T) {
		_, err := run(t, "", "--model", model, "decode", "hello")
		assert.ErrorContains(t, err, `invalid token id "hello"`)
	})

	t.Run("unknown encoding", func(t *testing.T) {
		_, err := run(t, "", "--model", model, "--encoding", "p50k_base", "encode", "hello")
		assert.Error(t, err)
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := run(t, "", "--model", filepath.Join(t.TempDir(), "missing.tiktoken"), "encode", "hello")
		assert.Error(t, err)
	})
}

func TestInspect(t *testing.T) {
	model := writeModel(t)

	got, err := run(t, "", "--model", model, "--encoding", "r50k_base", "inspect", "--verbose")
	require.NoError(t, err)

	for _, want := range []string{"PROPERTY", "tiktoken", "r50k_base", "258", "50256", tokenizer.PatternGPT2, "<|endoftext|>"} {
		assert.Contains(t, got, want)
	}
}

func TestNoServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	t.Setenv("TOKENIZERS_MODEL", "")
	t.Setenv("TOKENIZERS_HOST", addr)
	envconfig.LoadConfig()
	t.Cleanup(envconfig.LoadConfig)

	_, err = run(t, "", "encode", "hello")
	assert.ErrorIs(t, err, errNoModel)
}

func TestRemote(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tok, err := tokenizer.Load(writeModel(t), tokenizer.WithEncoding("r50k_base"))
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewServer(tok, 2).GenerateRoutes())
	t.Cleanup(ts.Close)

	t.Setenv("TOKENIZERS_MODEL", "")
	t.Setenv("TOKENIZERS_HOST", ts.URL)
	envconfig.LoadConfig()
	t.Cleanup(envconfig.LoadConfig)

	cases := []struct {
		name  string
		args  []string
		stdin string
		want  string
	}{
		{
			name: "encode",
			args: []string{"encode", "--bos", "--eos", "hello world"},
			want: "256 257 50256\n",
		},
		{
			name: "decode",
			args: []string{"decode", "256", "257"},
			want: "hello world",
		},
		{
			name:  "count per line",
			args:  []string{"count", "--per-line"},
			stdin: "hello world\nhello\n\n",
			want:  "2\n1\n0\n",
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := run(t, tt.stdin, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("unknown id", func(t *testing.T) {
		_, err := run(t, "", "decode", "999")
		assert.Error(t, err)
	})

	t.Run("inspect", func(t *testing.T) {
		got, err := run(t, "", "inspect")
		require.NoError(t, err)
		assert.Contains(t, got, "r50k_base")
	})
}
