// Package templates provides externalized script and report templates with
// override support.
package templates

import "embed"

//go:embed slurm/*.tmpl report/*.tmpl
var embeddedFS embed.FS
