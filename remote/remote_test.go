// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package remote_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/gitpan/IPC-PerlSSH-Async/remote"
)

func TestCommand(t *testing.T) {
	tests := []struct {
		name string
		spec remote.Spec
		want []string
	}{
		{"HostOnly",
			remote.Spec{Host: "svr.example.com"},
			[]string{"ssh", "svr.example.com", "perl"}},
		{"WithUser",
			remote.Spec{Host: "svr.example.com", User: "deploy"},
			[]string{"ssh", "-l", "deploy", "svr.example.com", "perl"}},
		{"WithPaths",
			remote.Spec{Host: "svr", PerlPath: "/opt/bin/perl", SSHPath: "/usr/local/bin/ssh"},
			[]string{"/usr/local/bin/ssh", "svr", "/opt/bin/perl"}},
		{"WithArgs",
			remote.Spec{Host: "svr", User: "me", SSHArgs: []string{"-p", "2222", "-o", "BatchMode=yes"}},
			[]string{"ssh", "-l", "me", "-p", "2222", "-o", "BatchMode=yes", "svr", "perl"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.spec.Command()
			if err != nil {
				t.Fatalf("Command: unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Command (-want, +got):\n%s", diff)
			}
		})
	}

	t.Run("NoHost", func(t *testing.T) {
		if got, err := (remote.Spec{User: "nobody"}).Command(); err == nil {
			t.Errorf("Command: got %q, want error", got)
		}
	})
}

func TestLocalCommand(t *testing.T) {
	if diff := cmp.Diff([]string{"perl"}, remote.LocalCommand("")); diff != "" {
		t.Errorf("LocalCommand default (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"/x/perl"}, remote.LocalCommand("/x/perl")); diff != "" {
		t.Errorf("LocalCommand explicit (-want, +got):\n%s", diff)
	}
}
