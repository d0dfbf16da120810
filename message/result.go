//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package message

import "encoding/json"

// Error codes carried inside encoded results.
const (
	ErrorCodeInvalidArguments = "INVALID_ARGUMENTS"
	ErrorCodeHandlerError     = "HANDLER_ERROR"
)

// ResultError describes a failed action execution carried inside an encoded
// result string.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type encodedResult struct {
	Error  *ResultError `json:"error"`
	Result string       `json:"result"`
}

// EncodeResult serializes an action result for transport in a Result message.
// A nil error passes the plain result string through unchanged; otherwise the
// error and result are wrapped in a JSON envelope.
func EncodeResult(result string, resultErr *ResultError) string {
	if resultErr == nil {
		return result
	}
	b, err := json.Marshal(encodedResult{Error: resultErr, Result: result})
	if err != nil {
		return result
	}
	return string(b)
}

// DecodeResult reverses EncodeResult. Strings that are not an error envelope
// pass through unchanged with a nil error.
func DecodeResult(encoded string) (string, *ResultError) {
	var payload encodedResult
	if err := json.Unmarshal([]byte(encoded), &payload); err != nil || payload.Error == nil {
		return encoded, nil
	}
	return payload.Result, payload.Error
}
