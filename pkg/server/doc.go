// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package server provides the HTTP front of the MCP process bridge. It
// dispatches on an exact method and path table: the health check is answered
// locally, MCP traffic is handed to the process bridge, and everything else
// receives a 404.
package server
