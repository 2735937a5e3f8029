// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

// Package library maintains a registry of named function libraries that can
// be installed on a remote interpreter.
//
// # Usage
//
// Register a library once, typically from an init function:
//
//	library.Register(perlssh.Library{
//	   Name:  "Math",
//	   Funcs: map[string]string{"sum": "my $t = 0; $t += $_ for @_; return $t"},
//	})
//
// Resolve it, optionally filtered to a subset of its functions:
//
//	lib, err := library.Resolve("Math", "sum")
//
// Or resolve and install in one step:
//
//	err := library.Install(ctx, client, "Math")
//
// The FS and IO libraries are registered by this package itself.
package library

import (
	"context"
	"fmt"
	"sort"
	"sync"

	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
)

var (
	μ    sync.Mutex
	libs = make(map[string]perlssh.Library)
)

// Register adds lib to the registry. It panics if the library has no name or
// if the name is already registered.
func Register(lib perlssh.Library) {
	if lib.Name == "" {
		panic("library has no name")
	}
	μ.Lock()
	defer μ.Unlock()
	if _, ok := libs[lib.Name]; ok {
		panic(fmt.Sprintf("library %q is already registered", lib.Name))
	}
	libs[lib.Name] = lib
}

// Names reports the names of all registered libraries in lexicographic
// order.
func Names() []string {
	μ.Lock()
	defer μ.Unlock()
	names := make([]string, 0, len(libs))
	for name := range libs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the named library, filtered to the specified function
// names if any are given. It reports an error if the library is not
// registered or if a requested function is not defined by it. The returned
// library shares no state with the registry.
func Resolve(name string, funcs ...string) (perlssh.Library, error) {
	μ.Lock()
	lib, ok := libs[name]
	μ.Unlock()
	if !ok {
		return perlssh.Library{}, fmt.Errorf("library %q not found", name)
	}

	out := perlssh.Library{Name: lib.Name, Init: lib.Init}
	if len(funcs) == 0 {
		out.Funcs = make(map[string]string, len(lib.Funcs))
		for fn, code := range lib.Funcs {
			out.Funcs[fn] = code
		}
		return out, nil
	}

	out.Funcs = make(map[string]string, len(funcs))
	for _, fn := range funcs {
		code, ok := lib.Funcs[fn]
		if !ok {
			return perlssh.Library{}, fmt.Errorf("library %q has no function %q", name, fn)
		}
		out.Funcs[fn] = code
	}
	return out, nil
}

// Install resolves the named library and installs it on c. Resolution
// failures are reported synchronously before any request is sent.
func Install(ctx context.Context, c *perlssh.Client, name string, funcs ...string) error {
	lib, err := Resolve(name, funcs...)
	if err != nil {
		return err
	}
	return c.LoadLibrary(ctx, lib)
}
