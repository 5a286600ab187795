package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/roach88/dwnsync/internal/dwn"
)

// DefaultHTTPTimeout bounds one HTTP round trip.
const DefaultHTTPTimeout = 30 * time.Second

// HTTP sends messages as JSON-RPC over HTTP POST.
//
// The request envelope travels in the dwn-request header and the record
// data, if any, as the raw body. A reply that returns record data comes
// back the same way in the dwn-response header; otherwise the body is the
// JSON-RPC response.
type HTTP struct {
	client *http.Client
}

// NewHTTP creates an HTTP transport with the given round-trip timeout.
func NewHTTP(timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTP{client: &http.Client{Timeout: timeout}}
}

// NewHTTPWithClient creates an HTTP transport using client.
func NewHTTPWithClient(client *http.Client) *HTTP {
	return &HTTP{client: client}
}

func (h *HTTP) Schemes() []string {
	return []string{"http", "https"}
}

func (h *HTTP) SendDwnRequest(ctx context.Context, endpoint string, req *Request) (*dwn.Reply, error) {
	data := req.Data
	if data == nil && req.Message != nil {
		data = req.Message.EncodedData
	}
	var msg *dwn.Message
	if req.Message != nil {
		msg = req.Message.WithoutData()
	}

	envelope, err := json.Marshal(NewRPCRequest(req.Target, msg))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	httpReq.Header.Set(HeaderRequest, string(envelope))
	httpReq.Header.Set("Content-Type", "application/octet-stream")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if header := resp.Header.Get(HeaderResponse); header != "" {
		rpcResp, err := decodeResponse([]byte(header))
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
		}
		reply, err := rpcResp.reply()
		if err != nil {
			return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
		}
		if reply.Record != nil {
			reply.Record.Data = body
		}
		return reply, nil
	}

	rpcResp, decodeErr := decodeResponse(body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if decodeErr == nil && rpcResp.Error != nil {
			err = rpcResp.Error
		}
		return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	if decodeErr != nil {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: decodeErr}
	}
	reply, err := rpcResp.reply()
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: err}
	}
	return reply, nil
}
