package pluginregistry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewFailsWhenRootMissing(t *testing.T) {
	_, err := New(Options{Root: filepath.Join(t.TempDir(), "nope")})
	require.Error(t, err)
	assert.Equal(t, spec.ErrManifest, spec.KindOf(err))
}

func TestGetProviderUnknownID(t *testing.T) {
	root := t.TempDir()
	reg, err := New(Options{Root: root})
	require.NoError(t, err)

	_, err = reg.GetProvider("ghost")
	require.Error(t, err)
	assert.Equal(t, spec.ErrManifest, spec.KindOf(err))
}

func TestGetProviderLoadsAndCaches(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "providers", "openai.json"), `{
		"id": "openai",
		"kind": "openai-compat",
		"endpoint": {"urlTemplate": "https://api.example.com/${REGION}/v1/chat", "headers": {"Authorization": "Bearer ${API_KEY}"}}
	}`)
	t.Setenv("API_KEY", "secret123")
	t.Setenv("REGION", "us")

	reg, err := New(Options{Root: root})
	require.NoError(t, err)

	m, err := reg.GetProvider("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai-compat", m.Kind)
	assert.Equal(t, "https://api.example.com/us/v1/chat", m.Endpoint.URLTemplate)
	assert.Equal(t, "Bearer secret123", m.Endpoint.Headers["Authorization"])

	// second lookup must hit the cache without re-reading disk: remove the
	// file and confirm the manifest is still resolvable.
	require.NoError(t, os.Remove(filepath.Join(root, "providers", "openai.json")))
	m2, err := reg.GetProvider("openai")
	require.NoError(t, err)
	assert.Same(t, m, m2)
}

func TestOverlayWinsOnce(t *testing.T) {
	root := t.TempDir()
	overlay := t.TempDir()
	writeFile(t, filepath.Join(root, "providers", "p.json"), `{"id":"p","kind":"root-kind"}`)
	writeFile(t, filepath.Join(overlay, "providers", "p.json"), `{"id":"p","kind":"overlay-kind"}`)

	reg, err := New(Options{Root: root, Overlay: overlay})
	require.NoError(t, err)

	m, err := reg.GetProvider("p")
	require.NoError(t, err)
	assert.Equal(t, "overlay-kind", m.Kind)
}

func TestMalformedManifestSkippedWithWarning(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "providers", "bad.json"), `{not valid json`)
	writeFile(t, filepath.Join(root, "providers", "good.json"), `{"id":"good","kind":"k"}`)

	var warnings []string
	reg, err := New(Options{Root: root, Warn: func(path string, err error) {
		warnings = append(warnings, path)
	}})
	require.NoError(t, err)

	_, err = reg.GetProvider("good")
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bad.json")
}

func TestDeclarationFilesIgnored(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "providers", "stub.d.json"), `{"id":"stub","kind":"k"}`)

	reg, err := New(Options{Root: root})
	require.NoError(t, err)

	_, err = reg.GetProvider("stub")
	require.Error(t, err)
}

func TestProcessRoutesOrderedByPriorityDescending(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "processes", "a.json"), `{"id":"a","matchType":"all","match":"*","invocation":"module","target":"x","priority":1}`)
	writeFile(t, filepath.Join(root, "processes", "b.json"), `{"id":"b","matchType":"exact","match":"y","invocation":"module","target":"y","priority":5}`)

	reg, err := New(Options{Root: root})
	require.NoError(t, err)

	routes := reg.GetProcessRoutes()
	require.Len(t, routes, 2)
	assert.Equal(t, "b", routes[0].ID)
	assert.Equal(t, "a", routes[1].ID)
}

func TestGetCompatUnregisteredKind(t *testing.T) {
	root := t.TempDir()
	reg, err := New(Options{Root: root})
	require.NoError(t, err)

	_, err = reg.GetCompat("missing-kind")
	require.Error(t, err)
	assert.Equal(t, spec.ErrManifest, spec.KindOf(err))
}
