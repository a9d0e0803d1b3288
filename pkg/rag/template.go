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

package rag

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// Result is one scored vector-store hit, shaped for both template
// interpolation and the fixed tool-result rendering.
type Result struct {
	Score   float64
	Content string
	Payload map[string]any
}

func resultsFromMatches(matches []spec.VectorQueryResult) []Result {
	out := make([]Result, len(matches))
	for i, m := range matches {
		out[i] = Result{Score: m.Score, Content: contentFromPayload(m.Payload), Payload: m.Payload}
	}
	return out
}

func contentFromPayload(payload map[string]any) string {
	for _, key := range []string{"content", "text", "chunk"} {
		if v, ok := payload[key].(string); ok {
			return v
		}
	}
	return ""
}

const defaultResultTemplate = "{{results}}"

// RenderTemplate interpolates {{results}} with one block per result, each
// block expanding {{score}} (3-decimal fixed point) and payload.<key>
// dotted references within it, per §4.11's template rules. When tmpl is
// empty the default template is used.
func RenderTemplate(tmpl string, results []Result) string {
	if tmpl == "" {
		tmpl = defaultResultTemplate
	}
	var rendered []string
	for _, r := range results {
		rendered = append(rendered, renderResultTemplate(tmpl, r))
	}
	return strings.Join(rendered, "\n")
}

func renderResultTemplate(tmpl string, r Result) string {
	out := tmpl
	out = strings.ReplaceAll(out, "{{results}}", r.Content)
	out = strings.ReplaceAll(out, "{{score}}", strconv.FormatFloat(r.Score, 'f', 3, 64))
	for len(out) > 0 {
		start := strings.Index(out, "{{payload.")
		if start < 0 {
			break
		}
		end := strings.Index(out[start:], "}}")
		if end < 0 {
			break
		}
		end += start
		path := out[start+len("{{payload.") : end]
		out = out[:start] + payloadLookup(r.Payload, path) + out[end+2:]
	}
	return out
}

func payloadLookup(payload map[string]any, dotted string) string {
	cur := any(payload)
	for _, seg := range strings.Split(dotted, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[seg]
		if !ok {
			return ""
		}
	}
	if cur == nil {
		return ""
	}
	return fmt.Sprintf("%v", cur)
}

// FormatToolResult renders vector_search results in the fixed format the
// model sees when it calls the tool directly (§4.11): a numbered list with
// score, or the distinguished empty/error strings.
func FormatToolResult(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for query: %q", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d results:\n", len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] (score: %s) %s\n", i+1, strconv.FormatFloat(r.Score, 'f', 3, 64), r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatToolError renders a vector_search failure in the fixed format the
// model sees, rather than an opaque tool-call error (§4.11).
func FormatToolError(err error) string {
	return fmt.Sprintf("Vector search failed: %s", err.Error())
}
