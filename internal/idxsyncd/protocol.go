package idxsyncd

import (
	"encoding/json"

	"idxsync/internal/config"
	"idxsync/internal/core/task"
	"idxsync/internal/engine"
)

// Admin requests are JSON-RPC 2.0 objects, one per line.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeNoMethod       = -32601
	codeInvalidParams  = -32602
	codeServer         = -32000
)

// Name is a definition key ("stores/full") or a name shared by no other
// definition.
type IndexRunParams struct {
	Name string `json:"name"`
}

type IndexStatusParams struct {
	Name string `json:"name,omitempty"`
}

type IndexListResult struct {
	Definitions []config.Definition `json:"definitions"`
	Engine      engine.Status       `json:"engine"`
}

type IndexRunResult struct {
	Key    string      `json:"key"`
	Result task.Result `json:"result"`
}
