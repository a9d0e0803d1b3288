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

package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// errorEnvelope is the {"type":"error","error":{code,message}} shape of
// §4.12 "Error envelope".
type errorEnvelope struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Type: "error", Error: errorDetail{Code: code, Message: message}})
}

// writeSpecError maps a *spec.Error (or any error, as ErrInternal) onto
// its HTTP status and error-envelope body (§7 taxonomy).
func writeSpecError(w http.ResponseWriter, err error) {
	kind := spec.KindOf(err)
	writeError(w, kind.HTTPStatus(), string(kind), sanitize(kind, err))
}

// sanitize returns the error text for internal/manifest failures as a
// fixed sanitized message (§7: "Server-side invariants ... are fatal for
// the request and surfaced as 500 with a sanitized message"), and the
// underlying message otherwise.
func sanitize(kind spec.ErrorKind, err error) string {
	if kind == spec.ErrInternal || kind == spec.ErrManifest {
		return "internal server error"
	}
	return err.Error()
}
