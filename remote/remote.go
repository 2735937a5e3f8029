// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package remote constructs the command vectors used to reach a Perl
// interpreter, either on the local host or on a remote host over an
// ssh-style shell.
package remote

import "errors"

// Defaults used when a Spec leaves the corresponding path empty.
const (
	DefaultPerl = "perl"
	DefaultSSH  = "ssh"
)

// A Spec describes a remote host on which to run the interpreter.
type Spec struct {
	Host     string   // required: the host to connect to
	User     string   // optional: the login name on the remote host
	PerlPath string   // optional: path of the perl binary on the remote host
	SSHPath  string   // optional: path of the local ssh binary
	SSHArgs  []string // optional: extra arguments passed to ssh before the host
}

// Command maps s to the command vector that spawns the remote interpreter.
// It reports an error if the spec is incomplete.
func (s Spec) Command() ([]string, error) {
	if s.Host == "" {
		return nil, errors.New("remote: no host specified")
	}
	argv := []string{pick(s.SSHPath, DefaultSSH)}
	if s.User != "" {
		argv = append(argv, "-l", s.User)
	}
	argv = append(argv, s.SSHArgs...)
	argv = append(argv, s.Host, pick(s.PerlPath, DefaultPerl))
	return argv, nil
}

// LocalCommand returns the command vector that spawns an interpreter on the
// local host. If perlPath == "" the default is used.
func LocalCommand(perlPath string) []string {
	return []string{pick(perlPath, DefaultPerl)}
}

func pick(s, dflt string) string {
	if s == "" {
		return dflt
	}
	return s
}
