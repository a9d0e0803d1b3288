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
	"strings"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// BuildQuery assembles the RAG query string from the tail of a call's
// conversation, per §4.11's queryConstruction rules. An explicit
// overrideEmbeddingQuery always wins and bypasses this entirely; callers
// check that before calling BuildQuery.
func BuildQuery(cs *spec.CallSpec, qc spec.QueryConstructionConfig) string {
	n := qc.MessagesToInclude
	if n <= 0 {
		n = 1
	}
	start := len(cs.Messages) - n
	if start < 0 {
		start = 0
	}
	inRange := cs.Messages[start:]

	var parts []string
	if qc.IncludeSystemPrompt == "always" || (qc.IncludeSystemPrompt == "if-in-range" && start == 0) {
		if cs.System != "" {
			parts = append(parts, cs.System)
		}
	}
	for _, m := range inRange {
		if m.Role == spec.RoleAssistant && !qc.IncludeAssistantMessages {
			continue
		}
		if m.Role != spec.RoleUser && m.Role != spec.RoleAssistant {
			continue
		}
		if t := messageText(m); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

func messageText(m spec.Message) string {
	var b strings.Builder
	for _, p := range m.Content {
		if p.Type == spec.ContentText && p.Text != "" {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(p.Text)
		}
	}
	return b.String()
}
