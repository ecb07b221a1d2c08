package image

import (
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinProfile(t *testing.T) {
	p, err := BuiltinProfile(ProfileGo)
	require.NoError(t, err)
	assert.True(t, p.PortFromEnv)

	_, err = BuiltinProfile("ruby")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}

func TestBuiltinProfile_ReturnsFreshCopies(t *testing.T) {
	a := PythonASGI()
	a.Env["EXTRA"] = "1"
	b := PythonASGI()
	assert.NotContains(t, b.Env, "EXTRA")
}

func TestLoadProfile_Custom(t *testing.T) {
	doc := `
name: node
base_image: node:20-slim
workdir: /srv
manifests: [package.json, package-lock.json]
install: ["npm ci"]
env:
  NODE_ENV: production
port: 3000
command: node server.js --host 0.0.0.0 --port ${PORT}
`
	p, err := LoadProfile(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "node", p.Name)
	assert.Equal(t, "node:20-slim", p.BaseImage)
	assert.Equal(t, []string{"package.json", "package-lock.json"}, p.Manifests)
	assert.Equal(t, 3000, p.Port)

	plan, err := NewPlan(p)
	require.NoError(t, err)
	assert.Contains(t, plan.Dockerfile(), "COPY package.json package-lock.json ./\nRUN npm ci\nCOPY . .\n")
}

func TestLoadProfile_OverridesBuiltin(t *testing.T) {
	doc := `
name: python-asgi
base_image: python:3.12-slim
`
	p, err := LoadProfile(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "python:3.12-slim", p.BaseImage)
	assert.Equal(t, []string{"requirements.txt"}, p.Manifests)
	assert.Equal(t, "/app/app", p.Env["PYTHONPATH"])
}

func TestLoadProfile_RejectsUnknownKeys(t *testing.T) {
	_, err := LoadProfile(strings.NewReader("name: x\nbase: python\n"))
	assert.Error(t, err)
}

func TestLoadProfile_InvalidYAML(t *testing.T) {
	_, err := LoadProfile(strings.NewReader("name: [unterminated"))
	assert.Error(t, err)
}

// =============================================================================
// ManifestCacheKey Tests
// =============================================================================

func TestManifestCacheKey_Deterministic(t *testing.T) {
	fsys := fstest.MapFS{
		"requirements.txt": {Data: []byte("fastapi==0.115.0\nuvicorn==0.30.0\n")},
	}
	a, err := ManifestCacheKey(fsys, []string{"requirements.txt"})
	require.NoError(t, err)
	b, err := ManifestCacheKey(fsys, []string{"requirements.txt"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestManifestCacheKey_ChangesWithContent(t *testing.T) {
	before := fstest.MapFS{"requirements.txt": {Data: []byte("fastapi==0.115.0\n")}}
	after := fstest.MapFS{"requirements.txt": {Data: []byte("fastapi==0.116.0\n")}}

	a, err := ManifestCacheKey(before, []string{"requirements.txt"})
	require.NoError(t, err)
	b, err := ManifestCacheKey(after, []string{"requirements.txt"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestManifestCacheKey_IgnoresSourceFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"go.mod":      {Data: []byte("module x\n")},
		"go.sum":      {Data: []byte("")},
		"cmd/main.go": {Data: []byte("package main\n")},
	}
	a, err := ManifestCacheKey(fsys, []string{"go.mod", "go.sum"})
	require.NoError(t, err)

	fsys["cmd/main.go"] = &fstest.MapFile{Data: []byte("package main\n\nfunc main() {}\n")}
	b, err := ManifestCacheKey(fsys, []string{"go.mod", "go.sum"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestManifestCacheKey_FieldBoundaries(t *testing.T) {
	a, err := ManifestCacheKey(fstest.MapFS{
		"a":  {Data: []byte("bc")},
		"ab": {Data: []byte("c")},
	}, []string{"a"})
	require.NoError(t, err)
	b, err := ManifestCacheKey(fstest.MapFS{
		"a":  {Data: []byte("bc")},
		"ab": {Data: []byte("c")},
	}, []string{"ab"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestManifestCacheKey_Missing(t *testing.T) {
	_, err := ManifestCacheKey(fstest.MapFS{}, []string{"requirements.txt"})
	assert.ErrorIs(t, err, ErrManifestMissing)
}
