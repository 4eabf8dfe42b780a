// Package configs embeds the configuration template written by
// `amanrank config init`.
//
// Configuration hierarchy (see internal/config Load):
//  1. Hardcoded defaults (config.NewConfig)
//  2. User config (~/.config/amanrank/config.yaml)
//  3. Project config (.amanrank.yaml)
//  4. Environment variables (AMANRANK_*)
package configs

import _ "embed"

// ConfigTemplate is the commented template for the user or project config.
//
//go:embed config.example.yaml
var ConfigTemplate string
