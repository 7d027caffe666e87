// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package auth

import (
	"fmt"
	"strings"
)

const (
	// TypeBearer is the auth type announced to the helper when a credential
	// is forwarded.
	TypeBearer = "bearer"

	keyPrefix    = "KEY"
	minKeyLength = 20
)

// LookupFunc matches the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Credential is an API credential together with the variable it came from.
type Credential struct {
	Value  string
	Source string
}

// Present reports whether a credential value was found.
func (c Credential) Present() bool {
	return c.Value != ""
}

// String never exposes the credential value.
func (c Credential) String() string {
	if !c.Present() {
		return "<absent>"
	}
	return fmt.Sprintf("<redacted from %s>", c.Source)
}

// Resolve returns the first non-empty credential among the given variable
// names. The zero Credential is returned when none is set.
func Resolve(lookup LookupFunc, names ...string) Credential {
	for _, name := range names {
		if name == "" {
			continue
		}
		if val, ok := lookup(name); ok {
			if val = strings.TrimSpace(val); val != "" {
				return Credential{Value: val, Source: name}
			}
		}
	}
	return Credential{}
}

// Problems lists format issues with the credential. Telnyx v2 keys start
// with "KEY" and are comfortably longer than twenty characters; anything
// else is reported but not rejected.
func (c Credential) Problems() []string {
	if !c.Present() {
		return []string{"no API credential configured"}
	}
	var problems []string
	if !strings.HasPrefix(c.Value, keyPrefix) {
		problems = append(problems, fmt.Sprintf("credential from %s does not start with %q", c.Source, keyPrefix))
	}
	if len(c.Value) < minKeyLength {
		problems = append(problems, fmt.Sprintf("credential from %s appears to be too short", c.Source))
	}
	return problems
}
