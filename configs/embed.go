// Package configs embeds the configuration template written by
// `codeindex init`. See internal/config for how the file is loaded.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .codeindex.yaml in the project root.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
