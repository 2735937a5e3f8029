// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package perlssh

import (
	"context"
	"fmt"
	"sort"
)

// A Library is a resolved batch of named function definitions to install on
// the remote interpreter, with an optional initialization snippet evaluated
// once after all functions are stored.
type Library struct {
	Name  string            // the library name, for error reporting
	Funcs map[string]string // function name → source text
	Init  string            // optional setup code, evaluated after the stores
}

// LoadLibrary installs the functions of lib on the remote interpreter, one
// store at a time in lexicographic name order, then evaluates lib.Init if it
// is non-empty.
//
// The first failing store aborts the batch: functions not yet attempted are
// never sent, and the error of the failed store (a *RemoteError for a remote
// failure) is reported as the single outcome of the whole operation.
func (c *Client) LoadLibrary(ctx context.Context, lib Library) error {
	names := make([]string, 0, len(lib.Funcs))
	for name := range lib.Funcs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := c.Store(ctx, name, lib.Funcs[name]); err != nil {
			return fmt.Errorf("library %s: store %q: %w", lib.Name, name, err)
		}
	}
	if lib.Init != "" {
		if _, err := c.Eval(ctx, lib.Init); err != nil {
			return fmt.Errorf("library %s: init: %w", lib.Name, err)
		}
	}
	return nil
}
