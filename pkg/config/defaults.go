// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

// RouteLimits configures one HTTP route's admission controls (§4.15).
//
// Fields carry matching koanf and json tags: koanf.Unmarshal keys off the
// koanf tag, while Load's in-memory defaults are seeded through
// encoding/json (§ pkg/config design note in DESIGN.md) so both paths
// agree on the same lowerCamelCase key set.
type RouteLimits struct {
	MaxConcurrent  int `koanf:"maxConcurrent" json:"maxConcurrent"`
	MaxQueueSize   int `koanf:"maxQueueSize" json:"maxQueueSize"`
	QueueTimeoutMs int `koanf:"queueTimeoutMs" json:"queueTimeoutMs"`
}

// ServerDefaults configures the HTTP/SSE server core (§4.12-4.15).
type ServerDefaults struct {
	Host string `koanf:"host" json:"host"`
	Port int    `koanf:"port" json:"port"`

	MaxRequestBytes     int64 `koanf:"maxRequestBytes" json:"maxRequestBytes"`
	BodyReadTimeoutMs   int   `koanf:"bodyReadTimeoutMs" json:"bodyReadTimeoutMs"`
	RequestTimeoutMs    int   `koanf:"requestTimeoutMs" json:"requestTimeoutMs"`
	StreamIdleTimeoutMs int   `koanf:"streamIdleTimeoutMs" json:"streamIdleTimeoutMs"`

	SecurityHeaders bool     `koanf:"securityHeaders" json:"securityHeaders"`
	CORSOrigins     []string `koanf:"corsOrigins" json:"corsOrigins"`

	AuthEnabled    bool     `koanf:"authEnabled" json:"authEnabled"`
	AuthHeaderName string   `koanf:"authHeaderName" json:"authHeaderName"`
	AuthKeys       []string `koanf:"authKeys" json:"authKeys"`

	RateLimitRequestsPerMinute float64 `koanf:"rateLimitRequestsPerMinute" json:"rateLimitRequestsPerMinute"`
	RateLimitBurst             int     `koanf:"rateLimitBurst" json:"rateLimitBurst"`
	TrustProxyHeaders          bool    `koanf:"trustProxyHeaders" json:"trustProxyHeaders"`

	Run              RouteLimits `koanf:"run" json:"run"`
	Stream           RouteLimits `koanf:"stream" json:"stream"`
	Vector           RouteLimits `koanf:"vector" json:"vector"`
	VectorEmbeddings RouteLimits `koanf:"vectorEmbeddings" json:"vectorEmbeddings"`
}

// PathDefaults locates the on-disk plugin catalog (§4.1) and an optional
// overlay directory.
type PathDefaults struct {
	PluginRoot    string `koanf:"pluginRoot" json:"pluginRoot"`
	PluginOverlay string `koanf:"pluginOverlay" json:"pluginOverlay"`
}

// ToolDefaults configures the tool loop and tool router (§4.6, §4.8).
type ToolDefaults struct {
	InvokeTimeoutMs   int `koanf:"invokeTimeoutMs" json:"invokeTimeoutMs"`
	MCPCallTimeoutMs  int `koanf:"mcpCallTimeoutMs" json:"mcpCallTimeoutMs"`
	MaxToolIterations int `koanf:"maxToolIterations" json:"maxToolIterations"`
}

// VectorDefaults configures the RAG injector's fallback query parameters
// (§4.11), used when a call doesn't override them.
type VectorDefaults struct {
	TopK           int     `koanf:"topK" json:"topK"`
	ScoreThreshold float64 `koanf:"scoreThreshold" json:"scoreThreshold"`
	ResultFormat   string  `koanf:"resultFormat" json:"resultFormat"`
}

// Defaults is the root shape of configs/defaults.json (§6): retry,
// connect timeout, tools, vector, server, and paths. It has no chunking
// section.
type Defaults struct {
	RetryDelaysMs    []int    `koanf:"retryDelaysMs" json:"retryDelaysMs"`
	ConnectTimeoutMs int      `koanf:"connectTimeoutMs" json:"connectTimeoutMs"`
	RetryWords       []string `koanf:"retryWords" json:"retryWords"`

	Tools  ToolDefaults   `koanf:"tools" json:"tools"`
	Vector VectorDefaults `koanf:"vector" json:"vector"`
	Server ServerDefaults `koanf:"server" json:"server"`
	Paths  PathDefaults   `koanf:"paths" json:"paths"`
}

// Default returns the built-in defaults, used when configs/defaults.json
// is absent and as the base every loaded file is merged onto.
func Default() Defaults {
	return Defaults{
		RetryDelaysMs:    []int{1000, 2000, 4000},
		ConnectTimeoutMs: 30_000,
		RetryWords:       []string{"rate limit", "rate_limit", "too many requests", "quota exceeded"},
		Tools: ToolDefaults{
			InvokeTimeoutMs:   30_000,
			MCPCallTimeoutMs:  30_000,
			MaxToolIterations: 10,
		},
		Vector: VectorDefaults{
			TopK:           10,
			ScoreThreshold: 0,
			ResultFormat:   "- {{payload.text}} (score: {{score}})",
		},
		Server: ServerDefaults{
			Host:                "0.0.0.0",
			Port:                8080,
			MaxRequestBytes:     10 << 20,
			BodyReadTimeoutMs:   10_000,
			RequestTimeoutMs:    120_000,
			StreamIdleTimeoutMs: 60_000,
			SecurityHeaders:     true,
			CORSOrigins:         []string{},
			AuthEnabled:         false,
			AuthHeaderName:      "x-api-key",
			RateLimitRequestsPerMinute: 600,
			RateLimitBurst:             60,
			Run:              RouteLimits{MaxConcurrent: 16, MaxQueueSize: 64, QueueTimeoutMs: 30_000},
			Stream:           RouteLimits{MaxConcurrent: 16, MaxQueueSize: 64, QueueTimeoutMs: 30_000},
			Vector:           RouteLimits{MaxConcurrent: 32, MaxQueueSize: 128, QueueTimeoutMs: 15_000},
			VectorEmbeddings: RouteLimits{MaxConcurrent: 16, MaxQueueSize: 64, QueueTimeoutMs: 15_000},
		},
		Paths: PathDefaults{
			PluginRoot: "./plugins",
		},
	}
}
