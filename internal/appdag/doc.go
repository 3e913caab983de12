// Package appdag loads application DAG documents.
//
// A document names the processing components, the dependency edges between
// them, and the media file the pipeline starts from. Both the flat layout and
// the original nested `System:` layout are accepted, in YAML or TOML.
// Loading is pure: nothing here touches a backend.
package appdag
