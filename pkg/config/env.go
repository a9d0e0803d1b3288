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

// Package config implements the defaults resolver, ${NAME} manifest
// interpolation, and koanf-based CLI/server config loading of §6
// ("A separate configs/defaults.json provides the defaults for every
// knob") and §4.1/§4.3 ("${NAME} tokens ... replaced with the
// corresponding environment variable at registry load").
package config

import (
	"os"
	"regexp"

	"github.com/joho/godotenv"
)

var envToken = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${NAME} token in s with the value of the
// environment variable NAME. Per §6, "unresolved tokens remain literal" —
// unlike a shell expander, a missing variable leaves the token text
// untouched instead of substituting an empty string.
func ExpandEnv(s string) string {
	return envToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[2 : len(tok)-1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return tok
	})
}

// ExpandEnvMap applies ExpandEnv to every string value of a header map.
// The plugin registry expands manifest endpoint headers with its own
// expander, not with this function.
func ExpandEnvMap(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = ExpandEnv(v)
	}
	return out
}

// LoadDotEnv loads .env.local then .env into the process environment
// (first-wins; godotenv.Load never overwrites a variable already set),
// before any manifest ${NAME} interpolation or koanf loading runs.
func LoadDotEnv() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
