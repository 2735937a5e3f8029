// Program perlssh is a command-line utility for running Perl code on a
// local or remote interpreter over the perlssh transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/pelletier/go-toml/v2"

	"github.com/gitpan/IPC-PerlSSH-Async/library"
	"github.com/gitpan/IPC-PerlSSH-Async/remote"
	"github.com/gitpan/IPC-PerlSSH-Async/session"
)

var flags struct {
	Config  string `flag:"config,Path of a TOML file defining named targets"`
	Target  string `flag:"target,Name of a target from the config file"`
	Host    string `flag:"host,Remote host to run the interpreter on"`
	User    string `flag:"user,Login name on the remote host"`
	Perl    string `flag:"perl,Path of the perl binary"`
	SSH     string `flag:"ssh,Path of the ssh binary"`
	Cmd     string `flag:"cmd,Spawn this command as the interpreter instead of perl or ssh"`
	Verbose bool   `flag:"v,Log protocol anomalies to stderr"`
}

var callFlags struct {
	Lib string `flag:"lib,Install this registered library before calling"`
}

func main() {
	root := &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "<command> [arguments]",
		Help: `Run Perl code on a local or remote interpreter.

With no target settings, a local perl binary is spawned. Use --host (and
optionally --user, --perl, --ssh) to reach a remote interpreter over ssh,
or --target to pick a named host from a TOML config file:

   [targets.build]
   host = "build.example.com"
   user = "deploy"
   perl = "/usr/bin/perl"
`,
		SetFlags: command.Flags(flax.MustBind, &flags),
		Commands: []*command.C{
			{
				Name:  "eval",
				Usage: "<code> [argument]...",
				Help: `Evaluate Perl code on the interpreter.

The arguments after the code are visible to it as its parameter list.
Each returned value is printed on its own line.`,
				Run: runEval,
			},
			{
				Name:     "call",
				Usage:    "<function> [argument]...",
				Help:     "Invoke a function from a registered library on the interpreter.",
				SetFlags: command.Flags(flax.MustBind, &callFlags),
				Run:      runCall,
			},
			{
				Name: "libs",
				Help: "List the registered libraries and their functions.",
				Run:  runLibs,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runEval(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing code argument")
	}
	s, err := dial()
	if err != nil {
		return err
	}
	defer s.Close()

	vals, err := s.Eval(context.Background(), env.Args[0], env.Args[1:]...)
	if err != nil {
		return err
	}
	printValues(vals)
	return nil
}

func runCall(env *command.Env) error {
	if len(env.Args) == 0 {
		return env.Usagef("Missing function argument")
	}
	name, args := env.Args[0], env.Args[1:]

	lib := callFlags.Lib
	if lib == "" {
		// Without an explicit library, find the one defining the function.
		for _, ln := range library.Names() {
			if l, err := library.Resolve(ln); err == nil {
				if _, ok := l.Funcs[name]; ok {
					lib = ln
					break
				}
			}
		}
		if lib == "" {
			return fmt.Errorf("no registered library defines %q", name)
		}
	}

	s, err := dial()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()
	if err := library.Install(ctx, s.Client, lib); err != nil {
		return err
	}
	vals, err := s.Call(ctx, name, args...)
	if err != nil {
		return err
	}
	printValues(vals)
	return nil
}

func runLibs(env *command.Env) error {
	for _, name := range library.Names() {
		lib, err := library.Resolve(name)
		if err != nil {
			return err
		}
		funcs := make([]string, 0, len(lib.Funcs))
		for fn := range lib.Funcs {
			funcs = append(funcs, fn)
		}
		slices.Sort(funcs)
		fmt.Printf("%s: %s\n", name, strings.Join(funcs, " "))
	}
	return nil
}

// dial opens a session as described by the command-line flags.
func dial() (*session.Session, error) {
	host, user, perl, ssh := flags.Host, flags.User, flags.Perl, flags.SSH
	if flags.Target != "" {
		t, err := loadTarget(flags.Config, flags.Target)
		if err != nil {
			return nil, err
		}
		// Explicit flags override the config file.
		host = pick(host, t.Host)
		user = pick(user, t.User)
		perl = pick(perl, t.Perl)
		ssh = pick(ssh, t.SSH)
	}

	cfg := session.Config{}
	if flags.Verbose {
		cfg.Log = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	switch {
	case flags.Cmd != "":
		cfg.Command = strings.Fields(flags.Cmd)
	case host == "":
		cfg.Command = remote.LocalCommand(perl)
	default:
		cfg.Remote = &remote.Spec{Host: host, User: user, PerlPath: perl, SSHPath: ssh}
	}
	return session.Establish(cfg)
}

// A target is one named host entry in the config file.
type target struct {
	Host string `toml:"host"`
	User string `toml:"user"`
	Perl string `toml:"perl"`
	SSH  string `toml:"ssh"`
}

func loadTarget(path, name string) (target, error) {
	if path == "" {
		return target{}, fmt.Errorf("--target %q requires --config", name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return target{}, err
	}
	var cfg struct {
		Targets map[string]target `toml:"targets"`
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return target{}, fmt.Errorf("parse %s: %w", path, err)
	}
	t, ok := cfg.Targets[name]
	if !ok {
		return target{}, fmt.Errorf("no target %q in %s", name, path)
	}
	return t, nil
}

func printValues(vals []string) {
	for _, v := range vals {
		fmt.Println(v)
	}
}

func pick(s, dflt string) string {
	if s == "" {
		return dflt
	}
	return s
}
