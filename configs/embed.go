// Package configs provides embedded configuration templates for docsearch.
//
// Templates are embedded at build time so `docsearch config init` works
// from any distribution of the binary.
package configs

import _ "embed"

// UserConfigTemplate is the template written by `docsearch config init`
// at ~/.config/docsearch/config.yaml.
//
//go:embed config.example.yaml
var UserConfigTemplate string
