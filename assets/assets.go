// Package assets bundles the secondary package staged by the launcher.
package assets

import "embed"

// Secondary is the asset name of the bundled package.
const Secondary = "secondary.yaml"

//go:embed secondary.yaml secondary.lua
var FS embed.FS
