// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package env assembles the environment handed to each helper process.
package env

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/go-core-stack/mcp-process-bridge/pkg/auth"
	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
)

// Variables exported to the helper process.
const (
	KeyAPIName          = "API_NAME"
	KeyAPIBaseURL       = "API_BASE_URL"
	KeyAPISpecPath      = "API_SPEC_PATH"
	KeyLogLevel         = "LOG_LEVEL"
	KeyOperationPrompts = "ENABLE_OPERATION_PROMPTS"
	KeyAuthType         = "AUTH_TYPE"
	KeyAuthToken        = "AUTH_TOKEN"
)

// Composer builds an environment snapshot per helper launch.
type Composer struct {
	// Environ supplies the inherited environment. It is read on every call
	// to Compose and defaults to os.Environ.
	Environ func() []string

	overrides map[string]string
}

// NewComposer captures the fixed overrides derived from cfg.
func NewComposer(cfg config.Config) *Composer {
	overrides := map[string]string{
		KeyAPIName:          cfg.API.Name,
		KeyAPIBaseURL:       cfg.API.BaseURL,
		KeyAPISpecPath:      cfg.API.SpecPath,
		KeyLogLevel:         cfg.API.LogLevel,
		KeyOperationPrompts: strconv.FormatBool(cfg.API.OperationPrompts),
	}
	if cred := cfg.Credential.Value; cred.Present() {
		overrides[KeyAuthType] = auth.TypeBearer
		overrides[KeyAuthToken] = cred.Value
	}

	return &Composer{
		Environ:   os.Environ,
		overrides: overrides,
	}
}

// Compose returns a new KEY=VALUE slice: the inherited environment with the
// fixed overrides applied. The result is sorted and owned by the caller.
func (c *Composer) Compose() []string {
	inherited := c.Environ()
	merged := make(map[string]string, len(inherited)+len(c.overrides))
	for _, kv := range inherited {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = val
	}
	for key, val := range c.overrides {
		merged[key] = val
	}

	snapshot := make([]string, 0, len(merged))
	for key, val := range merged {
		snapshot = append(snapshot, key+"="+val)
	}
	sort.Strings(snapshot)
	return snapshot
}
