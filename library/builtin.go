// Copyright (C) 2023 Michael J. Fromberger. All Rights Reserved.

package library

import perlssh "github.com/gitpan/IPC-PerlSSH-Async"

func init() {
	Register(fsLibrary)
	Register(ioLibrary)
}

// fsLibrary wraps basic filesystem calls so that failures die with the
// system error text.
var fsLibrary = perlssh.Library{
	Name: "FS",
	Funcs: map[string]string{
		"mkdir":    `mkdir( $_[0] ) or die "Cannot mkdir $_[0] - $!\n"; return;`,
		"rmdir":    `rmdir( $_[0] ) or die "Cannot rmdir $_[0] - $!\n"; return;`,
		"unlink":   `unlink( $_[0] ) or die "Cannot unlink $_[0] - $!\n"; return;`,
		"rename":   `rename( $_[0], $_[1] ) or die "Cannot rename $_[0] - $!\n"; return;`,
		"symlink":  `symlink( $_[0], $_[1] ) or die "Cannot symlink $_[1] - $!\n"; return;`,
		"readlink": `my $l = readlink( $_[0] ); defined $l or die "Cannot readlink $_[0] - $!\n"; return $l;`,
		"exists":   `return -e $_[0] ? 1 : 0;`,
	},
}

// ioLibrary reads and writes whole files by name.
var ioLibrary = perlssh.Library{
	Name: "IO",
	Funcs: map[string]string{
		"readfile": `open( my $fh, "<", $_[0] ) or die "Cannot open $_[0] - $!\n";
local $/; my $data = <$fh>; close $fh; return $data;`,
		"writefile": `open( my $fh, ">", $_[0] ) or die "Cannot open $_[0] - $!\n";
print $fh $_[1]; close $fh or die "Cannot write $_[0] - $!\n"; return;`,
		"appendfile": `open( my $fh, ">>", $_[0] ) or die "Cannot open $_[0] - $!\n";
print $fh $_[1]; close $fh or die "Cannot write $_[0] - $!\n"; return;`,
	},
	Init: `use IO::Handle; return;`,
}
