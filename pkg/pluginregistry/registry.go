package pluginregistry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jfcostello/llm-coordinator/pkg/compat"
	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Warner receives a warning for each malformed manifest skipped during a
// scan (§4.1: "Malformed manifests are skipped with a warning, not
// fatal"). A nil Warner discards warnings.
type Warner func(path string, err error)

// LLMCompatFactory constructs a compat.LLM adapter instance for one kind.
type LLMCompatFactory func() compat.LLM

// EmbeddingCompatFactory constructs a compat.Embedding adapter instance.
type EmbeddingCompatFactory func() compat.Embedding

// VectorCompatFactory constructs a fresh compat.VectorStore instance. A
// fresh instance is returned on every call: vector-store compat instances
// are never shared across vector-store manager instances (§4.1).
type VectorCompatFactory func() compat.VectorStore

// Registry is the lazy, filesystem-backed plugin catalog of §4.1. Root and
// overlay are independent directory trees with identical internal layout
// (providers/, tools/, mcp/, vector/, embeddings/, processes/); when the
// same (category, id) exists in both, the overlay entry wins, once.
type Registry struct {
	root    string
	overlay string // may be empty
	warn    Warner

	mu                sync.Mutex
	providers         map[string]*ProviderManifest
	tools             map[string]*ToolManifest
	mcpServers        map[string]*ProviderManifest
	vectorStores      map[string]*VectorStoreManifest
	embeddings        map[string]*ProviderManifest
	processesLoaded   bool
	processes         []ProcessRoute

	llmCompat       map[string]LLMCompatFactory
	embeddingCompat map[string]EmbeddingCompatFactory
	vectorCompat    map[string]VectorCompatFactory
}

// Options configures a new Registry.
type Options struct {
	Root    string
	Overlay string
	Warn    Warner

	LLMCompat       map[string]LLMCompatFactory
	EmbeddingCompat map[string]EmbeddingCompatFactory
	VectorCompat    map[string]VectorCompatFactory
}

// New constructs a Registry. Construction fails if root does not exist
// (§4.1): "Construction fails if the plugin root is missing."
func New(opts Options) (*Registry, error) {
	info, err := os.Stat(opts.Root)
	if err != nil || !info.IsDir() {
		return nil, spec.WrapError(spec.ErrManifest, err, "plugin root %q is missing", opts.Root)
	}
	if opts.Overlay != "" {
		if info, err := os.Stat(opts.Overlay); err != nil || !info.IsDir() {
			return nil, spec.WrapError(spec.ErrManifest, err, "plugin overlay %q is missing", opts.Overlay)
		}
	}
	r := &Registry{
		root:            opts.Root,
		overlay:         opts.Overlay,
		warn:            opts.Warn,
		providers:       map[string]*ProviderManifest{},
		tools:           map[string]*ToolManifest{},
		mcpServers:      map[string]*ProviderManifest{},
		vectorStores:    map[string]*VectorStoreManifest{},
		embeddings:      map[string]*ProviderManifest{},
		llmCompat:       opts.LLMCompat,
		embeddingCompat: opts.EmbeddingCompat,
		vectorCompat:    opts.VectorCompat,
	}
	if r.warn == nil {
		r.warn = func(string, error) {}
	}
	return r, nil
}

// --- category scanning --------------------------------------------------

// scanCategory reads <root>/<dir>/*.json and <overlay>/<dir>/*.json (if
// set), overlay entries winning once per id, decoding each into a fresh T
// via decode. Malformed files are skipped with a warning.
func scanCategory[T any](r *Registry, dir string, idOf func(*T) string, decode func([]byte) (*T, error)) map[string]*T {
	out := map[string]*T{}
	seenFromOverlay := map[string]bool{}

	scan := func(base string, isOverlay bool) {
		full := filepath.Join(base, dir)
		entries, err := os.ReadDir(full)
		if err != nil {
			return // missing category directory is not an error
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if !strings.HasSuffix(name, ".json") || isDeclarationFile(name) {
				continue
			}
			path := filepath.Join(full, name)
			data, err := os.ReadFile(path)
			if err != nil {
				r.warn(path, err)
				continue
			}
			item, err := decode(data)
			if err != nil {
				r.warn(path, err)
				continue
			}
			id := idOf(item)
			if id == "" {
				r.warn(path, fmt.Errorf("manifest missing id"))
				continue
			}
			if isOverlay {
				if seenFromOverlay[id] {
					continue // later overlay duplicate, skipped
				}
				out[id] = item
				seenFromOverlay[id] = true
				continue
			}
			if seenFromOverlay[id] {
				continue // overlay already won this id
			}
			if _, exists := out[id]; exists {
				continue // later root duplicate, skipped
			}
			out[id] = item
		}
	}

	// Overlay first so its presence is recorded before root entries are
	// considered, giving overlay-wins-once semantics for the pair.
	if r.overlay != "" {
		scan(r.overlay, true)
	}
	scan(r.root, false)
	return out
}

func decodeProviderManifest(data []byte) (*ProviderManifest, error) {
	var m ProviderManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	m.Endpoint.Headers = expandEnvMap(m.Endpoint.Headers)
	m.Endpoint.StreamHeaders = expandEnvMap(m.Endpoint.StreamHeaders)
	m.Endpoint.URLTemplate = expandEnvTokens(m.Endpoint.URLTemplate)
	return &m, nil
}

func decodeToolManifest(data []byte) (*ToolManifest, error) {
	var m ToolManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Invocation == "" {
		return nil, fmt.Errorf("tool manifest missing invocation")
	}
	return &m, nil
}

func decodeVectorStoreManifest(data []byte) (*VectorStoreManifest, error) {
	var m VectorStoreManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Registry) ensureProviders() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) > 0 {
		return
	}
	r.providers = scanCategory(r, "providers", func(m *ProviderManifest) string { return m.ID }, decodeProviderManifest)
}

func (r *Registry) ensureTools() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tools) > 0 {
		return
	}
	r.tools = scanCategory(r, "tools", func(m *ToolManifest) string { return m.ID }, decodeToolManifest)
}

func (r *Registry) ensureMCPServers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.mcpServers) > 0 {
		return
	}
	r.mcpServers = scanCategory(r, "mcp", func(m *ProviderManifest) string { return m.ID }, decodeProviderManifest)
}

func (r *Registry) ensureVectorStores() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.vectorStores) > 0 {
		return
	}
	r.vectorStores = scanCategory(r, "vector", func(m *VectorStoreManifest) string { return m.ID }, decodeVectorStoreManifest)
}

func (r *Registry) ensureEmbeddings() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.embeddings) > 0 {
		return
	}
	r.embeddings = scanCategory(r, "embeddings", func(m *ProviderManifest) string { return m.ID }, decodeProviderManifest)
}

func (r *Registry) ensureProcesses() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.processesLoaded {
		return
	}
	r.processesLoaded = true
	byID := scanCategory(r, "processes", func(m *ProcessRoute) string { return m.ID }, func(data []byte) (*ProcessRoute, error) {
		var p ProcessRoute
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return &p, nil
	})
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := byID[ids[i]].Priority, byID[ids[j]].Priority
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})
	routes := make([]ProcessRoute, 0, len(ids))
	for _, id := range ids {
		routes = append(routes, *byID[id])
	}
	r.processes = routes
}

// --- public operations ---------------------------------------------------

func (r *Registry) GetProvider(id string) (*ProviderManifest, error) {
	r.ensureProviders()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.providers[id]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "unknown provider %q", id)
	}
	return m, nil
}

func (r *Registry) GetTool(id string) (*ToolManifest, error) {
	r.ensureTools()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.tools[id]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "unknown tool %q", id)
	}
	return m, nil
}

func (r *Registry) GetTools(ids []string) ([]*ToolManifest, error) {
	out := make([]*ToolManifest, 0, len(ids))
	for _, id := range ids {
		m, err := r.GetTool(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Registry) GetMCPServer(id string) (*ProviderManifest, error) {
	r.ensureMCPServers()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mcpServers[id]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "unknown MCP server %q", id)
	}
	return m, nil
}

func (r *Registry) GetMCPServers(ids []string) ([]*ProviderManifest, error) {
	out := make([]*ProviderManifest, 0, len(ids))
	for _, id := range ids {
		m, err := r.GetMCPServer(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Registry) GetVectorStore(id string) (*VectorStoreManifest, error) {
	r.ensureVectorStores()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.vectorStores[id]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "unknown vector store %q", id)
	}
	return m, nil
}

func (r *Registry) GetEmbeddingProvider(id string) (*ProviderManifest, error) {
	r.ensureEmbeddings()
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.embeddings[id]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "unknown embedding provider %q", id)
	}
	return m, nil
}

// GetProcessRoutes returns every tool-routing rule, ordered by descending
// Priority (ties broken by id for determinism).
func (r *Registry) GetProcessRoutes() []ProcessRoute {
	r.ensureProcesses()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProcessRoute, len(r.processes))
	copy(out, r.processes)
	return out
}

// GetCompat resolves an LLM compat adapter by manifest `kind`. Compat
// adapters are not discovered on disk (Go has no dynamic-script-loading
// equivalent of requiring a .js/.ts module at runtime): they are
// statically registered factories supplied at construction, keyed by
// kind, mirroring the teacher's factory-switch registration pattern.
func (r *Registry) GetCompat(kind string) (compat.LLM, error) {
	factory, ok := r.llmCompat[kind]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "no LLM compat registered for kind %q", kind)
	}
	return factory(), nil
}

func (r *Registry) GetEmbeddingCompat(kind string) (compat.Embedding, error) {
	factory, ok := r.embeddingCompat[kind]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "no embedding compat registered for kind %q", kind)
	}
	return factory(), nil
}

// GetVectorStoreCompat returns a freshly constructed compat.VectorStore
// instance for kind. Never cached or shared: §4.1 requires each call site
// to own an independent instance so Close on one never disturbs another.
func (r *Registry) GetVectorStoreCompat(kind string) (compat.VectorStore, error) {
	factory, ok := r.vectorCompat[kind]
	if !ok {
		return nil, spec.NewError(spec.ErrManifest, "no vector-store compat registered for kind %q", kind)
	}
	return factory(), nil
}

