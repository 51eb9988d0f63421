// Package api implements the client for the tokenizers HTTP service.
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime"

	"github.com/dreamqin68/tokenizers/envconfig"
	"github.com/dreamqin68/tokenizers/version"
)

// Client encapsulates client state for interacting with the tokenizers
// service. Use [ClientFromEnvironment] to create new Clients.
type Client struct {
	base *url.URL
	http *http.Client
}

func checkError(resp *http.Response, body []byte) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	apiError := StatusError{StatusCode: resp.StatusCode}

	err := json.Unmarshal(body, &apiError)
	if err != nil {
		// Use the full body as the message if we fail to decode a response.
		apiError.ErrorMessage = string(body)
	}

	return apiError
}

// ClientFromEnvironment creates a new [Client] using configuration from the
// environment variable TOKENIZERS_HOST, which points to the network host and
// port on which the service is listening.
func ClientFromEnvironment() (*Client, error) {
	base, err := envconfig.Host()
	if err != nil {
		return nil, err
	}

	return &Client{
		base: base,
		http: http.DefaultClient,
	}, nil
}

func NewClient(base *url.URL, http *http.Client) *Client {
	return &Client{
		base: base,
		http: http,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, data any) (*http.Request, error) {
	var body io.Reader
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}

		body = bytes.NewReader(bts)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return nil, err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("User-Agent", fmt.Sprintf("tokenizers/%s (%s %s) Go/%s", version.Version, runtime.GOARCH, runtime.GOOS, runtime.Version()))
	return request, nil
}

func (c *Client) do(ctx context.Context, method, path string, reqData, respData any) error {
	request, err := c.newRequest(ctx, method, path, reqData)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")

	respObj, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer respObj.Body.Close()

	respBody, err := io.ReadAll(respObj.Body)
	if err != nil {
		return err
	}

	if err := checkError(respObj, respBody); err != nil {
		return err
	}

	if len(respBody) > 0 && respData != nil {
		if err := json.Unmarshal(respBody, respData); err != nil {
			return err
		}
	}

	return nil
}

const maxBufferSize = 512 * 1000

func (c *Client) stream(ctx context.Context, method, path string, data any, fn func([]byte) error) error {
	request, err := c.newRequest(ctx, method, path, data)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/x-ndjson")

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	// increase the buffer size to avoid running out of space
	scanBuf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(scanBuf, maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error string `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}

		if response.StatusCode >= http.StatusBadRequest {
			return StatusError{
				StatusCode:   response.StatusCode,
				Status:       response.Status,
				ErrorMessage: errorResponse.Error,
			}
		}

		if errorResponse.Error != "" {
			return StatusError{ErrorMessage: errorResponse.Error}
		}

		if err := fn(bts); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// Tokenize encodes text with the service's model.
func (c *Client) Tokenize(ctx context.Context, req *TokenizeRequest) (*TokenizeResponse, error) {
	var resp TokenizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/tokenize", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Detokenize decodes token ids. An id outside the vocabulary fails with a
// [StatusError] of status 400.
func (c *Client) Detokenize(ctx context.Context, req *DetokenizeRequest) (*DetokenizeResponse, error) {
	var resp DetokenizeResponse
	if err := c.do(ctx, http.MethodPost, "/api/detokenize", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// DetokenizeResponseFunc is called for each streamed [DetokenizeResponse].
type DetokenizeResponseFunc func(DetokenizeResponse) error

// DetokenizeStream decodes token ids and calls fn as text becomes complete.
func (c *Client) DetokenizeStream(ctx context.Context, req *DetokenizeRequest, fn DetokenizeResponseFunc) error {
	stream := true
	streamed := *req
	streamed.Stream = &stream

	return c.stream(ctx, http.MethodPost, "/api/detokenize", &streamed, func(bts []byte) error {
		var resp DetokenizeResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}

		return fn(resp)
	})
}

// Count returns the number of tokens in one or more texts.
func (c *Client) Count(ctx context.Context, req *CountRequest) (*CountResponse, error) {
	var resp CountResponse
	if err := c.do(ctx, http.MethodPost, "/api/count", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Show describes the service's model.
func (c *Client) Show(ctx context.Context) (*ShowResponse, error) {
	var resp ShowResponse
	if err := c.do(ctx, http.MethodGet, "/api/show", nil, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}
