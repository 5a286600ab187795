package transport

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/dwnsync/internal/dwn"
)

// JSON-RPC framing shared by the clients in this package and the server.
const (
	JSONRPCVersion       = "2.0"
	MethodProcessMessage = "dwn.processMessage"

	// HeaderRequest carries the JSON-RPC request when the HTTP body holds
	// record data.
	HeaderRequest = "dwn-request"

	// HeaderResponse carries the JSON-RPC response when the HTTP body holds
	// record data.
	HeaderResponse = "dwn-response"
)

// JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// RPCRequest is a JSON-RPC request to process one message.
type RPCRequest struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Method  string     `json:"method"`
	Params  *RPCParams `json:"params"`
}

// RPCParams are the parameters of dwn.processMessage.
// EncodedData is only used where the framing has no separate data channel.
type RPCParams struct {
	Target      string       `json:"target"`
	Message     *dwn.Message `json:"message"`
	EncodedData []byte       `json:"encodedData,omitempty"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string     `json:"jsonrpc"`
	ID      string     `json:"id"`
	Result  *RPCResult `json:"result,omitempty"`
	Error   *RPCError  `json:"error,omitempty"`
}

// RPCResult wraps the node's reply.
type RPCResult struct {
	Reply *dwn.Reply `json:"reply"`
}

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRPCRequest builds a request with a fresh time-ordered id.
func NewRPCRequest(target string, msg *dwn.Message) *RPCRequest {
	return &RPCRequest{
		JSONRPC: JSONRPCVersion,
		ID:      uuid.Must(uuid.NewV7()).String(),
		Method:  MethodProcessMessage,
		Params:  &RPCParams{Target: target, Message: msg},
	}
}

// Validate checks the envelope of an incoming request.
func (r *RPCRequest) Validate() *RPCError {
	if r.JSONRPC != JSONRPCVersion {
		return &RPCError{Code: CodeInvalidRequest, Message: "jsonrpc must be \"2.0\""}
	}
	if r.Method != MethodProcessMessage {
		return &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", r.Method)}
	}
	if r.Params == nil || r.Params.Target == "" || r.Params.Message == nil {
		return &RPCError{Code: CodeInvalidParams, Message: "params require target and message"}
	}
	return nil
}

// NewRPCResult builds a success response.
func NewRPCResult(id string, reply *dwn.Reply) *RPCResponse {
	return &RPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: &RPCResult{Reply: reply}}
}

// NewRPCError builds an error response.
func NewRPCError(id string, err *RPCError) *RPCResponse {
	return &RPCResponse{JSONRPC: JSONRPCVersion, ID: id, Error: err}
}

// reply extracts the reply from a response, or the RPC error.
func (r *RPCResponse) reply() (*dwn.Reply, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	if r.Result == nil || r.Result.Reply == nil {
		return nil, fmt.Errorf("response has neither result nor error")
	}
	return r.Result.Reply, nil
}

func decodeResponse(data []byte) (*RPCResponse, error) {
	var resp RPCResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
