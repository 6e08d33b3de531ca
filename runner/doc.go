/*
Package runner spawns shell command lines and exposes each invocation as an ordered, finite stream of events.

Every invocation produces, in order:

 1. exactly one EventStart
 2. zero or more EventOutput, one per read from the process's stdout or stderr, in arrival order
 3. exactly one of EventExit (the process ran and exited) or EventSpawnError (it never started)

after which the channel is closed.

The runner does not buffer output, so the consumer must drain the channel for the process to make progress.
Invocations have no timeout and can't be canceled: once started, a command runs until it exits on its own,
whether or not anyone is still reading its events.
*/
package runner
