// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package perlssh

// Firmware is the bootstrap program that turns a freshly spawned perl process
// into a frame-speaking interpreter loop. It is written raw to the remote
// process before any frame traffic; perl reads its program from standard
// input up to the __END__ marker, leaving the filehandle positioned at the
// first frame.
//
// The loop understands the EVAL, STORE, and CALL requests and answers each
// with exactly one RETURNED, OK, or DIED response, in request order.
const Firmware = `use strict;
use warnings;

$| = 1;

my %stored;

sub read_exactly {
   my ( $len ) = @_;
   my $buf = "";
   while ( length $buf < $len ) {
      my $n = read( STDIN, $buf, $len - length $buf, length $buf );
      defined $n or die "Cannot read - $!";
      $n or exit 0;
   }
   return $buf;
}

sub read_line {
   my $line = "";
   while ( 1 ) {
      my $c = read_exactly( 1 );
      last if $c eq "\n";
      $line .= $c;
   }
   return $line;
}

sub read_message {
   my $tag = read_line();
   my $n   = read_line();
   my @args;
   foreach ( 1 .. $n ) {
      my $len = read_line();
      push @args, read_exactly( $len );
   }
   return ( $tag, @args );
}

sub send_message {
   my ( $tag, @args ) = @_;
   @args = map { defined $_ ? "$_" : "" } @args;
   my $buf = "$tag\n" . scalar( @args ) . "\n";
   $buf .= length( $_ ) . "\n" . $_ for @args;
   print STDOUT $buf;
}

while ( 1 ) {
   my ( $tag, @args ) = read_message();

   if ( $tag eq "EVAL" ) {
      my $code = shift @args;
      my @ret = eval { my $sub = eval "sub { $code }"; die $@ if $@; $sub->( @args ) };
      if ( $@ ) { send_message( "DIED", "$@" ); }
      else      { send_message( "RETURNED", @ret ); }
   }
   elsif ( $tag eq "STORE" ) {
      my ( $name, $code ) = @args;
      my $sub = eval "sub { $code }";
      if ( $@ ) { send_message( "DIED", "$@" ); }
      else      { $stored{$name} = $sub; send_message( "OK" ); }
   }
   elsif ( $tag eq "CALL" ) {
      my $name = shift @args;
      if ( !exists $stored{$name} ) {
         send_message( "DIED", "No such stored function $name" );
         next;
      }
      my @ret = eval { $stored{$name}->( @args ) };
      if ( $@ ) { send_message( "DIED", "$@" ); }
      else      { send_message( "RETURNED", @ret ); }
   }
   else {
      send_message( "DIED", "Unrecognised message tag $tag" );
   }
}
__END__
`
