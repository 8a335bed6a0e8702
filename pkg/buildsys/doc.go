// Package buildsys dispatches one external build per variant, either sequentially or
// through a bounded worker pool, and purges build caches.
// Build commands are passed as argument vectors; only $VAR expansion is applied to each
// argument, the command line is never re-parsed by a shell.
package buildsys
