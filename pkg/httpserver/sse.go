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
	"time"

	"github.com/jfcostello/llm-coordinator/pkg/spec"
)

// relaySSE writes events to w as `data: <json>\n\n` frames (§4.12
// "/stream" response shape) until the channel closes, the idle watchdog
// fires (no event within StreamIdleTimeoutMs), or the client disconnects.
// A done/error event, when one arrives, is the last frame written; if the
// channel closes without one, the response ends with no terminal frame.
func (s *Server) relaySSE(w http.ResponseWriter, r *http.Request, events <-chan spec.StreamEvent) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, canFlush := w.(http.Flusher)

	idle := s.cfg.StreamIdleTimeout
	if idle <= 0 {
		idle = 60 * time.Second
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeSSEEvent(w, ev)
			if canFlush {
				flusher.Flush()
			}
			if ev.Type == spec.EventDone || ev.Type == spec.EventError {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		case <-timer.C:
			writeSSEEvent(w, spec.StreamEvent{
				Type:         spec.EventError,
				ErrorMessage: "stream idle timeout",
				ErrorCode:    string(spec.ErrStreamIdleTimeout),
			})
			if canFlush {
				flusher.Flush()
			}
			return
		case <-r.Context().Done():
			writeSSEEvent(w, spec.StreamEvent{
				Type:         spec.EventError,
				ErrorMessage: "request timed out",
				ErrorCode:    string(spec.ErrTimeout),
			})
			if canFlush {
				flusher.Flush()
			}
			return
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev spec.StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}
