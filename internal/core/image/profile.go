package image

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes how an application tree is turned into an image.
type Profile struct {
	Name      string            `yaml:"name"`
	BaseImage string            `yaml:"base_image"`
	Workdir   string            `yaml:"workdir"`
	Manifests []string          `yaml:"manifests"`
	Install   []string          `yaml:"install"`
	Source    string            `yaml:"source"`
	Compile   []string          `yaml:"compile"`
	Env       map[string]string `yaml:"env"`
	Packages  []string          `yaml:"packages"`
	Port      int               `yaml:"port"`
	Command   string            `yaml:"command"`

	// PortFromEnv marks a command that reads PORT itself instead of taking
	// it on the command line.
	PortFromEnv bool `yaml:"port_from_env"`
}

// Built-in profile names.
const (
	ProfilePythonASGI = "python-asgi"
	ProfileGo         = "go"
)

// DefaultPort is the advisory port declared by the built-in profiles.
const DefaultPort = 8080

// ErrUnknownProfile is returned for a profile name with no built-in definition.
var ErrUnknownProfile = errors.New("unknown build profile")

// PythonASGI returns the profile for the ASGI application served by uvicorn.
func PythonASGI() Profile {
	return Profile{
		Name:      ProfilePythonASGI,
		BaseImage: "python:3.11-slim",
		Workdir:   "/app",
		Manifests: []string{"requirements.txt"},
		Install:   []string{"pip install --no-cache-dir -r requirements.txt"},
		Source:    ".",
		Env:       map[string]string{"PYTHONPATH": "/app/app"},
		Packages:  []string{"__init__.py", "app/__init__.py"},
		Port:      DefaultPort,
		Command:   "uvicorn app.main_server:app --host 0.0.0.0 --port ${PORT}",
	}
}

// Go returns the profile that builds and serves this repository.
func Go() Profile {
	return Profile{
		Name:        ProfileGo,
		BaseImage:   "golang:1.24-bookworm",
		Workdir:     "/app",
		Manifests:   []string{"go.mod", "go.sum"},
		Install:     []string{"go mod download"},
		Source:      ".",
		Compile:     []string{"go build -trimpath -o /app/bin/examai ./cmd/examai"},
		Port:        DefaultPort,
		Command:     "/app/bin/examai serve",
		PortFromEnv: true,
	}
}

// BuiltinProfile returns the built-in profile with the given name.
func BuiltinProfile(name string) (Profile, error) {
	switch name {
	case ProfilePythonASGI:
		return PythonASGI(), nil
	case ProfileGo:
		return Go(), nil
	default:
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, name)
	}
}

// BuiltinProfiles lists the built-in profile names.
func BuiltinProfiles() []string {
	return []string{ProfileGo, ProfilePythonASGI}
}

// LoadProfile decodes a YAML profile. Unknown keys are rejected. When the
// document names a built-in profile, its fields are applied over that
// profile's defaults.
func LoadProfile(r io.Reader) (Profile, error) {
	var head struct {
		Name string `yaml:"name"`
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}
	if err := yaml.Unmarshal(raw, &head); err != nil {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}

	var p Profile
	if base, err := BuiltinProfile(head.Name); err == nil {
		p = base
	}

	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Profile{}, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}

// envPairs returns the profile environment as sorted KEY=VALUE pairs.
func (p Profile) envPairs() []string {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+p.Env[k])
	}
	return pairs
}
