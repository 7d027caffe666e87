// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package preflight inspects the deployment once at startup. Findings are
// advisory: the bridge serves regardless, since the helper process owns
// API specification loading and authentication.
package preflight

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/viant/afs"

	"github.com/go-core-stack/mcp-process-bridge/pkg/config"
)

// minSpecSize flags specification files too small to describe an API.
const minSpecSize = 1024

// Finding is one advisory result.
type Finding struct {
	Check   string
	Message string
}

// Checker runs the startup checks.
type Checker struct {
	fs       afs.Service
	lookPath func(string) (string, error)
}

// New returns a Checker backed by the local file system.
func New() *Checker {
	return &Checker{
		fs:       afs.New(),
		lookPath: exec.LookPath,
	}
}

// Run returns every finding for cfg; an empty result means all checks passed.
func (c *Checker) Run(ctx context.Context, cfg config.Config) []Finding {
	var findings []Finding
	findings = append(findings, c.checkSpec(ctx, cfg.API.SpecPath)...)
	findings = append(findings, c.checkCredential(cfg)...)
	findings = append(findings, c.checkHelper(cfg.Helper.Command)...)
	return findings
}

func (c *Checker) checkSpec(ctx context.Context, path string) []Finding {
	const check = "spec"
	if path == "" {
		return []Finding{{Check: check, Message: "no API specification path configured"}}
	}
	location, err := filepath.Abs(path)
	if err != nil {
		return []Finding{{Check: check, Message: fmt.Sprintf("resolve %s: %v", path, err)}}
	}

	ok, err := c.fs.Exists(ctx, location)
	if err != nil {
		return []Finding{{Check: check, Message: fmt.Sprintf("stat %s: %v", location, err)}}
	}
	if !ok {
		return []Finding{{Check: check, Message: fmt.Sprintf("%s not found", location)}}
	}

	obj, err := c.fs.Object(ctx, location)
	if err != nil {
		return []Finding{{Check: check, Message: fmt.Sprintf("stat %s: %v", location, err)}}
	}
	if obj.IsDir() {
		return []Finding{{Check: check, Message: fmt.Sprintf("%s is a directory", location)}}
	}
	if obj.Size() < minSpecSize {
		return []Finding{{Check: check, Message: fmt.Sprintf("%s appears to be incomplete (%d bytes)", location, obj.Size())}}
	}
	return nil
}

func (c *Checker) checkCredential(cfg config.Config) []Finding {
	var findings []Finding
	for _, problem := range cfg.Credential.Value.Problems() {
		findings = append(findings, Finding{Check: "credential", Message: problem})
	}
	return findings
}

func (c *Checker) checkHelper(command string) []Finding {
	if _, err := c.lookPath(command); err != nil {
		return []Finding{{Check: "helper", Message: err.Error()}}
	}
	return nil
}
