package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/dreamqin68/tokenizers/logutil"
)

var ErrInvalidHostPort = errors.New("invalid port specified in TOKENIZERS_HOST")

const defaultPort = "11435"

var (
	// Set via TOKENIZERS_ORIGINS in the environment
	AllowOrigins []string
	// Set via TOKENIZERS_DEBUG in the environment
	LogLevel slog.Level
	// Set via TOKENIZERS_MODEL in the environment
	Model string
	// Set via TOKENIZERS_ENCODING in the environment
	Encoding string
	// Set via TOKENIZERS_NUM_PARALLEL in the environment
	NumParallel int
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TOKENIZERS_DEBUG":        {"TOKENIZERS_DEBUG", LogLevel, "Show additional debug information (e.g. TOKENIZERS_DEBUG=1, 2 for trace)"},
		"TOKENIZERS_ENCODING":     {"TOKENIZERS_ENCODING", Encoding, "Preset for bare .tiktoken files (default \"llama3\")"},
		"TOKENIZERS_HOST":         {"TOKENIZERS_HOST", "", "IP Address for the tokenizers server (default 127.0.0.1:" + defaultPort + ")"},
		"TOKENIZERS_MODEL":        {"TOKENIZERS_MODEL", Model, "Path to the model file or directory"},
		"TOKENIZERS_NUM_PARALLEL": {"TOKENIZERS_NUM_PARALLEL", NumParallel, "Maximum number of texts encoded in parallel (default GOMAXPROCS)"},
		"TOKENIZERS_ORIGINS":      {"TOKENIZERS_ORIGINS", AllowOrigins, "A comma separated list of allowed origins"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

var defaultAllowOrigins = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	LogLevel = logutil.ParseLevel(clean("TOKENIZERS_DEBUG"))
	Model = clean("TOKENIZERS_MODEL")
	Encoding = clean("TOKENIZERS_ENCODING")

	NumParallel = runtime.GOMAXPROCS(0)
	if onp := clean("TOKENIZERS_NUM_PARALLEL"); onp != "" {
		val, err := strconv.Atoi(onp)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "TOKENIZERS_NUM_PARALLEL", onp, "error", err)
		} else {
			NumParallel = val
		}
	}

	AllowOrigins = nil
	if origins := clean("TOKENIZERS_ORIGINS"); origins != "" {
		AllowOrigins = strings.Split(origins, ",")
	}
	for _, allowOrigin := range defaultAllowOrigins {
		AllowOrigins = append(AllowOrigins,
			fmt.Sprintf("http://%s", allowOrigin),
			fmt.Sprintf("https://%s", allowOrigin),
			fmt.Sprintf("http://%s:*", allowOrigin),
			fmt.Sprintf("https://%s:*", allowOrigin),
		)
	}
}

// Host returns the scheme and host the server listens on and the client
// connects to. The scheme defaults to http and the port to 11435, or 80 and
// 443 when only a scheme is given.
func Host() (*url.URL, error) {
	fallback := defaultPort

	s := clean("TOKENIZERS_HOST")
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		fallback = "80"
	case scheme == "https":
		fallback = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", fallback
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHostPort, port)
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}, nil
}
