// Package logs reads the autopipe log file for the `autopipe logs` command.
//
// Last returns the final lines of the file with bounded memory. Follow keeps
// reading from an offset until its context ends, which is how `--follow`
// streams a run that another terminal started. An optional Match predicate
// narrows both to lines mentioning one volume or run.
package logs
