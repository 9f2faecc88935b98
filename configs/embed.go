// Package configs holds configuration templates embedded at build time, so
// `quarry init` works identically for source builds and binary releases.
package configs

import _ "embed"

// ConfigTemplate is the annotated quarry.yaml template written by
// `quarry init`. Every key shows its default.
//
//go:embed quarry.example.yaml
var ConfigTemplate string
