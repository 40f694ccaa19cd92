package bundle

import (
	"time"

	"github.com/woxQAQ/wasm-bridge/internal/wasm"
)

// Bundle is a parsed manifest with its compiled guest module.
type Bundle struct {
	Manifest *Manifest
	Compiled *wasm.CompiledModule
	LoadedAt time.Time
}

// Name returns the bundle name.
func (b *Bundle) Name() string {
	return b.Manifest.Name
}

// Version returns the bundle version.
func (b *Bundle) Version() string {
	return b.Manifest.Version
}
