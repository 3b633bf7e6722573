package domain

import (
	"encoding/json"
	"time"
)

// Record is one captured JSON-RPC request/response pair.
// Params and Result keep the raw JSON of each value; a nil entry means the
// value was absent (or null) in the stored document.
type Record struct {
	ID        string
	Chain     string
	Timestamp time.Time
	Method    string
	Params    []json.RawMessage
	Result    json.RawMessage
}

// Param returns the raw request parameter at index i, if present.
func (r Record) Param(i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(r.Params) || len(r.Params[i]) == 0 {
		return nil, false
	}
	return r.Params[i], true
}

// HasResult reports whether the response carried a non-null result.
func (r Record) HasResult() bool {
	return len(r.Result) > 0 && string(r.Result) != "null"
}
