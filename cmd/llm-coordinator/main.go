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

// Command llm-coordinator is the CLI entrypoint for the provider-agnostic
// LLM call/stream/serve surface (§6):
//
//	llm-coordinator run --file call.json
//	llm-coordinator stream --spec '{...}'
//	llm-coordinator serve --port 8080
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/jfcostello/llm-coordinator/internal/cliconfig"
	"github.com/jfcostello/llm-coordinator/pkg/auth"
	"github.com/jfcostello/llm-coordinator/pkg/config"
	"github.com/jfcostello/llm-coordinator/pkg/coordinator"
	"github.com/jfcostello/llm-coordinator/pkg/httpserver"
	"github.com/jfcostello/llm-coordinator/pkg/limiter"
	"github.com/jfcostello/llm-coordinator/pkg/logger"
	"github.com/jfcostello/llm-coordinator/pkg/ratelimit"
)

type CLI struct {
	Run    RunCmd    `cmd:"" help:"Run one call and print the response."`
	Stream StreamCmd `cmd:"" help:"Run one call and stream its events as they arrive."`
	Serve  ServeCmd  `cmd:"" help:"Start the HTTP/SSE server."`

	ConfigFile string `name:"config" help:"Path to configs/defaults.json." type:"path"`
	LogLevel   string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile    string `help:"Log file path (empty = stderr)."`
	LogFormat  string `help:"Log format (simple or verbose)." default:"simple"`
}

type RunCmd struct {
	cliconfig.InputFlags
	cliconfig.CommonFlags
}

func (c *RunCmd) Run(cli *CLI) error {
	defaults, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	coord, err := newCoordinator(c.Plugins, defaults)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := c.ReadInput()
	if err != nil {
		return err
	}
	cs, err := cliconfig.DecodeCallSpec(raw)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}

	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	resp, err := coord.Run(ctx, cs)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	return cliconfig.PrintJSON(resp, c.Pretty)
}

type StreamCmd struct {
	cliconfig.InputFlags
	cliconfig.CommonFlags
}

func (c *StreamCmd) Run(cli *CLI) error {
	defaults, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	coord, err := newCoordinator(c.Plugins, defaults)
	if err != nil {
		return err
	}
	defer coord.Close()

	raw, err := c.ReadInput()
	if err != nil {
		return err
	}
	cs, err := cliconfig.DecodeCallSpec(raw)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}

	ctx := logger.WithBatchID(context.Background(), c.BatchID)
	events, err := coord.Stream(ctx, cs)
	if err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
	for ev := range events {
		if err := cliconfig.PrintJSON(ev, c.Pretty); err != nil {
			return err
		}
	}
	return nil
}

// ServeCmd starts the HTTP/SSE server described in §4.12-§4.15, bound by
// configs/defaults.json and overridable by explicit flags.
type ServeCmd struct {
	cliconfig.CommonFlags

	Host string `help:"Listen host." default:""`
	Port int    `help:"Listen port." default:"0"`

	AuthEnabled bool   `name:"auth-enabled" help:"Require a credential on every request."`
	AuthHeader  string `name:"auth-header" help:"Header name carrying the API key."`
	AuthKeys    string `name:"auth-keys" help:"Comma-separated accepted API keys."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	defaults, err := config.Load(cli.ConfigFile)
	if err != nil {
		return err
	}
	if c.Host != "" {
		defaults.Server.Host = c.Host
	}
	if c.Port != 0 {
		defaults.Server.Port = c.Port
	}
	if c.AuthEnabled {
		defaults.Server.AuthEnabled = true
	}
	if c.AuthHeader != "" {
		defaults.Server.AuthHeaderName = c.AuthHeader
	}
	if c.AuthKeys != "" {
		defaults.Server.AuthKeys = splitCSV(c.AuthKeys)
	}

	coord, err := newCoordinator(c.Plugins, defaults)
	if err != nil {
		return err
	}
	defer coord.Close()

	srv := httpserver.New(serverConfigFrom(defaults, coord.Logger), coord)

	addr := fmt.Sprintf("%s:%d", defaults.Server.Host, defaults.Server.Port)
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down llm-coordinator")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpSrv.Shutdown(shutdownCtx)
		cancel()
	}()

	slog.Info("llm-coordinator listening", "addr", addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	<-ctx.Done()
	return nil
}

func newCoordinator(pluginRoot string, d config.Defaults) (*coordinator.Coordinator, error) {
	return coordinator.New(coordinator.Config{
		PluginRoot:     pluginRoot,
		RetryWords:     d.RetryWords,
		ConnectTimeout: time.Duration(d.ConnectTimeoutMs) * time.Millisecond,
		Logger:         logger.NewAdapter(context.Background(), logger.GetLogger()),
	})
}

func serverConfigFrom(d config.Defaults, log httpserver.Logger) httpserver.Config {
	s := d.Server
	return httpserver.Config{
		MaxRequestBytes:   int64(s.MaxRequestBytes),
		BodyReadTimeout:   time.Duration(s.BodyReadTimeoutMs) * time.Millisecond,
		RequestTimeout:    time.Duration(s.RequestTimeoutMs) * time.Millisecond,
		StreamIdleTimeout: time.Duration(s.StreamIdleTimeoutMs) * time.Millisecond,
		SecurityHeaders:   s.SecurityHeaders,
		CORSOrigins:       s.CORSOrigins,
		Auth: auth.Config{
			Enabled:    s.AuthEnabled,
			HeaderName: s.AuthHeaderName,
			Keys:       s.AuthKeys,
		},
		RateLimit: ratelimit.Config{
			RequestsPerMinute: s.RateLimitRequestsPerMinute,
			Burst:             s.RateLimitBurst,
			TrustProxyHeaders: s.TrustProxyHeaders,
		},
		Run:              routeLimiter(s.Run),
		Stream:           routeLimiter(s.Stream),
		Vector:           routeLimiter(s.Vector),
		VectorEmbeddings: routeLimiter(s.VectorEmbeddings),
		Logger:           log,
	}
}

func routeLimiter(r config.RouteLimits) limiter.Config {
	return limiter.Config{
		MaxConcurrent: r.MaxConcurrent,
		MaxQueueSize:  r.MaxQueueSize,
		QueueTimeout:  time.Duration(r.QueueTimeoutMs) * time.Millisecond,
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func main() {
	_ = config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("llm-coordinator"),
		kong.Description("Provider-agnostic LLM call/stream/serve coordinator."),
		kong.UsageOnError(),
	)

	level, _ := logger.ParseLevel(cli.LogLevel)
	var logFile *os.File
	if cli.LogFile != "" {
		f, closeFn, err := logger.OpenLogFile(cli.LogFile)
		if err == nil {
			logFile = f
			defer closeFn()
		}
	}
	if logFile != nil {
		logger.Init(level, logFile, cli.LogFormat)
	} else {
		logger.Init(level, os.Stderr, cli.LogFormat)
	}

	if err := ctx.Run(&cli); err != nil {
		cliconfig.FailLine(err)
		os.Exit(1)
	}
}
