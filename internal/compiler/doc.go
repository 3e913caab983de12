// Package compiler turns an application DAG into a pipeline of container steps.
//
// Every step reads one path and writes one path on a single shared volume:
//
//	ingest      basename(initial_input)   -> {mount}/
//	root C      {mount}/{basename(input)} -> {mount}/C
//	C after U   {mount}/U.tar.gz          -> {mount}/C
//
// A component fed by several upstreams reads the archive of the first one
// declared and runs after all of them. Compilation has no side effects; the
// concrete volume is bound later through the pipeline's volume parameter.
package compiler
