// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package library_test

import (
	"context"
	"strings"
	"testing"

	"github.com/creachadair/mds/mtest"
	"github.com/creachadair/taskgroup"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	perlssh "github.com/gitpan/IPC-PerlSSH-Async"
	"github.com/gitpan/IPC-PerlSSH-Async/channel"
	"github.com/gitpan/IPC-PerlSSH-Async/library"
)

func TestNames(t *testing.T) {
	got := library.Names()

	// The built-in libraries are registered at init, and names are reported
	// in order.
	for _, want := range []string{"FS", "IO"} {
		if !contains(got, want) {
			t.Errorf("Names: %q does not include %q", got, want)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Errorf("Names out of order: %q before %q", got[i-1], got[i])
		}
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestResolve(t *testing.T) {
	t.Run("Whole", func(t *testing.T) {
		lib, err := library.Resolve("FS")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		if lib.Name != "FS" || len(lib.Funcs) == 0 {
			t.Errorf("Resolve: got %+v, want the full FS library", lib)
		}
	})

	t.Run("Filtered", func(t *testing.T) {
		lib, err := library.Resolve("FS", "mkdir", "rmdir")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		var names []string
		for fn := range lib.Funcs {
			names = append(names, fn)
		}
		if len(names) != 2 || !contains(names, "mkdir") || !contains(names, "rmdir") {
			t.Errorf("Resolve: got functions %q, want [mkdir rmdir]", names)
		}
	})

	t.Run("NoSuchFunction", func(t *testing.T) {
		if lib, err := library.Resolve("FS", "mkdir", "nonesuch"); err == nil {
			t.Errorf("Resolve: got %+v, want error", lib)
		} else if !strings.Contains(err.Error(), `"nonesuch"`) {
			t.Errorf("Resolve: error %v does not name the missing function", err)
		}
	})

	t.Run("NoSuchLibrary", func(t *testing.T) {
		if lib, err := library.Resolve("Bogus"); err == nil {
			t.Errorf("Resolve: got %+v, want error", lib)
		}
	})

	t.Run("Isolated", func(t *testing.T) {
		// A resolved library shares no state with the registry.
		lib, err := library.Resolve("IO")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		lib.Funcs["readfile"] = "tampered"

		fresh, err := library.Resolve("IO")
		if err != nil {
			t.Fatalf("Resolve: unexpected error: %v", err)
		}
		if fresh.Funcs["readfile"] == "tampered" {
			t.Error("Resolve: registry state was modified through a resolved copy")
		}
	})
}

func TestRegisterErrors(t *testing.T) {
	mtest.MustPanic(t, func() { library.Register(perlssh.Library{}) })
	mtest.MustPanic(t, func() {
		library.Register(perlssh.Library{Name: "FS"}) // duplicate
	})
}

func TestInstall(t *testing.T) {
	defer leaktest.Check(t)()

	cc, sc := channel.Direct()
	var stored []string
	srv := taskgroup.Go(func() error {
		defer sc.Close()
		for {
			fr, err := sc.Recv()
			if err != nil {
				return nil
			}
			switch fr.Tag {
			case perlssh.TagStore:
				stored = append(stored, fr.Args[0])
				sc.Send(&perlssh.Frame{Tag: perlssh.TagOK})
			case perlssh.TagEval:
				sc.Send(&perlssh.Frame{Tag: perlssh.TagReturned})
			}
		}
	})
	defer srv.Wait()

	c := perlssh.NewClient().Start(cc)
	defer c.Stop()
	ctx := context.Background()

	if err := library.Install(ctx, c, "FS", "exists", "mkdir"); err != nil {
		t.Fatalf("Install: unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"exists", "mkdir"}, stored); diff != "" {
		t.Errorf("Stored functions (-want, +got):\n%s", diff)
	}

	// A resolution failure is synchronous and sends nothing.
	stored = nil
	if err := library.Install(ctx, c, "FS", "nonesuch"); err == nil {
		t.Error("Install: expected an error for an unknown function")
	}
	if len(stored) != 0 {
		t.Errorf("Install sent %q for an unresolvable library", stored)
	}
}
