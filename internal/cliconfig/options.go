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

// Package cliconfig is the option table shared by cmd/llm-coordinator and
// cmd/vector-store-coordinator (§6, §9: "Dynamic named options in CLI ->
// an enumerated option table mirroring server config; unknown flags are
// rejected" — kong's struct-tag flags give us exactly that, in place of
// the teacher's dynamic CLI flag registration).
package cliconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// InputFlags is embedded by every `run`/`stream` subcommand: read a call
// (or vector) spec from --file, --spec, or standard input (§6).
type InputFlags struct {
	File   string `help:"Path to a JSON spec file." type:"path"`
	Spec   string `help:"Inline JSON spec."`
	Pretty bool   `help:"Pretty-print JSON output."`
}

// ReadInput resolves the configured input source, in the priority order
// named in §6: --file, else --spec, else standard input.
func (f InputFlags) ReadInput() ([]byte, error) {
	switch {
	case f.File != "":
		return os.ReadFile(f.File)
	case f.Spec != "":
		return []byte(f.Spec), nil
	default:
		return io.ReadAll(os.Stdin)
	}
}

// CommonFlags is embedded by every subcommand of both binaries.
type CommonFlags struct {
	Plugins string `help:"Path to the plugin root directory." default:"./plugins" type:"path"`
	BatchID string `help:"Batch id exposed to tool servers as LLM_ADAPTER_BATCH_ID and threaded through the logger."`
}

// PrintJSON writes v to stdout, pretty-printed if pretty is set.
func PrintJSON(v any, pretty bool) error {
	var data []byte
	var err error
	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = os.Stdout.Write(data)
	return err
}

// FailLine writes a single JSON line to stderr describing err, matching
// §6: "error text is a single JSON line on standard error."
func FailLine(err error) {
	kind := spec.KindOf(err)
	line, _ := json.Marshal(map[string]string{"code": string(kind), "message": err.Error()})
	fmt.Fprintln(os.Stderr, string(line))
}

// DecodeCallSpec parses raw JSON into a validated spec.CallSpec.
func DecodeCallSpec(raw []byte) (*spec.CallSpec, error) {
	var cs spec.CallSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cs); err != nil {
		return nil, spec.WrapError(spec.ErrValidation, err, "invalid JSON")
	}
	if err := cs.Validate(); err != nil {
		return nil, spec.WrapError(spec.ErrValidation, err, "validation_error")
	}
	return &cs, nil
}
