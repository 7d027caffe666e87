// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package bridge connects one HTTP request/response cycle to one freshly
// launched helper process. The request body is written to the helper's
// stdin, stdin is closed, and whatever the helper writes to stdout is
// streamed back to the client chunk by chunk until the helper exits.
//
// The bridge never interprets the payload. It peeks at the body only to
// annotate logs with the JSON-RPC method, and forwards the bytes unchanged.
package bridge
