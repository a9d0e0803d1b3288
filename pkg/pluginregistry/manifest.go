// Package pluginregistry implements the lazy, filesystem-backed plugin
// catalog described in §4.1: provider/tool/mcp/vector/embedding manifests
// on disk, loaded and cached on first lookup.
package pluginregistry

import (
	"os"
	"strings"
)

// EndpointConfig is the wire-level endpoint configuration carried by every
// provider-shaped manifest (§3: "Plugin manifest").
type EndpointConfig struct {
	URLTemplate       string            `json:"urlTemplate"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers"`
	StreamURLTemplate string            `json:"streamUrlTemplate,omitempty"`
	StreamHeaders     map[string]string `json:"streamHeaders,omitempty"`
}

// ExtensionSpec is the on-disk shape of one payloadExtensions entry; it is
// translated into a compat.Extension by callers that need the richer type.
type ExtensionSpec struct {
	Name          string `json:"name"`
	SettingsKey   string `json:"settingsKey"`
	TargetPath    string `json:"targetPath"` // dotted, e.g. "extra_body.thinking"
	ValueType     string `json:"valueType"`
	MergeStrategy string `json:"mergeStrategy"`
	Default       any    `json:"default,omitempty"`
	Required      bool   `json:"required,omitempty"`
}

// TargetPathSegments splits the dotted TargetPath into path segments.
func (e ExtensionSpec) TargetPathSegments() []string {
	if e.TargetPath == "" {
		return nil
	}
	return strings.Split(e.TargetPath, ".")
}

// ProviderManifest backs entries under providers/, embeddings/, and
// mcp/ (the shapes overlap closely enough in practice to share a struct;
// mcp manifests additionally populate Command/Args/Env).
type ProviderManifest struct {
	ID                string                   `json:"id"`
	Kind              string                   `json:"kind"`
	Endpoint          EndpointConfig           `json:"endpoint"`
	PayloadExtensions []ExtensionSpec          `json:"payloadExtensions,omitempty"`
	Defaults          map[string]any           `json:"defaults,omitempty"`
	Command           string                   `json:"command,omitempty"`
	Args              []string                 `json:"args,omitempty"`
	Env               map[string]string        `json:"env,omitempty"`
	Tools             []map[string]any         `json:"tools,omitempty"`
	DefaultEmbedding  []EmbeddingPriorityRecord `json:"defaultEmbeddingPriority,omitempty"`
}

// EmbeddingPriorityRecord is the on-disk shape of a vector store's default
// embedding priority entry (§4.11).
type EmbeddingPriorityRecord struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

// ToolManifest backs entries under tools/.
type ToolManifest struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Endpoint    EndpointConfig `json:"endpoint,omitempty"`
	Invocation  string         `json:"invocation"` // module | command | http | mcp
	Module      string         `json:"module,omitempty"`   // invocation=module: module path, cached on first load
	Function    string         `json:"function,omitempty"` // invocation=module: exported function name
	Command     string         `json:"command,omitempty"`
	Args        []string       `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	MCPServerID string         `json:"mcpServer,omitempty"`
	TimeoutMs   int            `json:"timeoutMs,omitempty"`
}

// VectorStoreManifest backs entries under vector/.
type VectorStoreManifest struct {
	ID                string                    `json:"id"`
	Kind              string                    `json:"kind"`
	Config            map[string]any            `json:"config,omitempty"`
	DefaultEmbedding  []EmbeddingPriorityRecord `json:"defaultEmbeddingPriority,omitempty"`
	DefaultCollection string                    `json:"defaultCollection,omitempty"`
	DefaultTopK       int                       `json:"defaultTopK,omitempty"`
}

// ProcessRoute is one tool-routing rule under processes/ (§4.6): "Routes
// are declared manifests with { match: {type, pattern}, invoke: {kind,
// …}, timeoutMs }".
type ProcessRoute struct {
	ID         string         `json:"id"`
	MatchType  string         `json:"matchType"` // exact | prefix | regex | glob
	Match      string         `json:"match"`
	Invocation string         `json:"invocation"` // module | command | http | mcp
	Target     string         `json:"target"`
	Priority   int            `json:"priority,omitempty"`
	TimeoutMs  int            `json:"timeoutMs,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
}

// isDeclarationFile reports whether a manifest path is a declaration-only
// stub (extension-only type hints) that must be ignored during scanning.
func isDeclarationFile(name string) bool {
	return strings.HasSuffix(name, ".d.json") || strings.HasSuffix(name, ".decl.json")
}

// expandEnvTokens replaces "${NAME}" tokens with the environment variable
// NAME; unresolved tokens are left literal (§6, "Environment").
func expandEnvTokens(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start
		b.WriteString(s[:start])
		name := s[start+2 : end]
		if v, ok := os.LookupEnv(name); ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
	return b.String()
}

func expandEnvMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = expandEnvTokens(v)
	}
	return out
}
