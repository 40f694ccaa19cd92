package bundle

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest name inside a bundle directory.
const ManifestFile = "manifest.yaml"

// Manifest represents the bundle manifest.yaml structure.
type Manifest struct {
	Name        string          `yaml:"name"`
	Version     string          `yaml:"version"`
	Description string          `yaml:"description"`
	Wasm        WasmConfig      `yaml:"wasm"`
	Transport   TransportConfig `yaml:"transport"`
	UI          UIConfig        `yaml:"ui"`

	// Internal fields
	dir string // Directory containing manifest
}

// WasmConfig says where the guest module comes from. When both are set the
// URL is tried first and the file is the fallback.
type WasmConfig struct {
	File string `yaml:"file"`
	URL  string `yaml:"url"`
}

// TransportConfig overrides the backend endpoint.
type TransportConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type UIConfig struct {
	Title string `yaml:"title"`
}

// ParseManifest reads and parses manifest.yaml from a directory.
func ParseManifest(dir string) (*Manifest, error) {
	manifestPath := filepath.Join(dir, ManifestFile)

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &ManifestNotFoundError{
			Path: manifestPath,
			Err:  err,
		}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ManifestParseError{
			Path: manifestPath,
			Err:  err,
		}
	}

	m.dir = dir

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validate checks manifest fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return m.invalid("name", "name is required")
	}

	if m.Version == "" {
		return m.invalid("version", "version is required")
	}

	if m.Wasm.File == "" && m.Wasm.URL == "" {
		return m.invalid("wasm", "one of wasm.file or wasm.url is required")
	}

	if m.Wasm.URL != "" {
		u, err := url.Parse(m.Wasm.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return m.invalid("wasm.url", fmt.Sprintf("not an http(s) URL: %s", m.Wasm.URL))
		}
	}

	if m.Transport.Endpoint != "" {
		u, err := url.Parse(m.Transport.Endpoint)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return m.invalid("transport.endpoint", fmt.Sprintf("not a ws(s) URL: %s", m.Transport.Endpoint))
		}
	}

	// Without a URL the local file is the only source.
	if m.Wasm.URL == "" {
		if _, err := os.Stat(m.WasmPath()); os.IsNotExist(err) {
			return &WasmNotFoundError{
				ManifestPath: m.Path(),
				WasmFile:     m.Wasm.File,
			}
		}
	}

	return nil
}

func (m *Manifest) invalid(field, msg string) error {
	return &ManifestValidationError{
		Path:    m.Path(),
		Field:   field,
		Message: msg,
	}
}

// Path returns the manifest file path.
func (m *Manifest) Path() string {
	return filepath.Join(m.dir, ManifestFile)
}

// WasmPath returns the path to the local Wasm file, or "" when none is set.
func (m *Manifest) WasmPath() string {
	if m.Wasm.File == "" {
		return ""
	}
	return filepath.Join(m.dir, m.Wasm.File)
}

// Dir returns the directory containing the manifest.
func (m *Manifest) Dir() string {
	return m.dir
}
