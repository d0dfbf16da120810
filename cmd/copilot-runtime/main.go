//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Command copilot-runtime serves the copilot HTTP API over one configured
// LLM provider, with optional builtin actions, MCP action sources, approval
// gating, and OTLP telemetry.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/action/builtin"
	"trpc.group/trpc-go/trpc-copilot-go/adapter/openai"
	"trpc.group/trpc-go/trpc-copilot-go/approval"
	"trpc.group/trpc-go/trpc-copilot-go/guardrails"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/middleware"
	"trpc.group/trpc-go/trpc-copilot-go/remote/mcp"
	"trpc.group/trpc-go/trpc-copilot-go/runtime"
	"trpc.group/trpc-go/trpc-copilot-go/server"
	"trpc.group/trpc-go/trpc-copilot-go/telemetry"
)

const (
	shutdownTimeout   = 10 * time.Second
	mcpRequestTimeout = 30 * time.Second
)

var (
	addr            = flag.String("addr", ":8000", "Listen address")
	providerName    = flag.String("provider", "openai", "LLM provider: openai or deepseek")
	modelName       = flag.String("model", "", "Model name, defaults per provider")
	baseURL         = flag.String("base-url", "", "Provider API base URL override")
	logLevel        = flag.String("log-level", "info", "Log level: debug, info, warn, error, fatal")
	builtinActions  = flag.Bool("builtin-actions", false, "Register the builtin demo actions")
	builtinRoot     = flag.String("builtin-root", ".", "Base directory for the builtin file actions")
	enableTelemetry = flag.Bool("telemetry", false, "Start the OTLP trace and metric exporters")
	conversational  = flag.Bool("approval-conversational", false, "Resolve approvals in-chat instead of over HTTP")
	rateLimit       = flag.Int("rate-limit", 0, "Max requests per thread per minute, 0 disables limiting")

	mcpServers stringList
	gated      stringList
	apiKeys    stringList
)

func init() {
	flag.Var(&mcpServers, "mcp-server", "MCP server URL to source actions from, repeatable")
	flag.Var(&gated, "approval", "Action name that requires approval before running, repeatable")
	flag.Var(&apiKeys, "api-key", "Allowed client api key, repeatable; empty disables auth")
}

// stringList collects repeatable flag values.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// providerEnvKeys maps each provider to the env var holding its API key.
var providerEnvKeys = map[openai.Variant]string{
	openai.VariantOpenAI:   "OPENAI_API_KEY",
	openai.VariantDeepSeek: "DEEPSEEK_API_KEY",
}

func main() {
	flag.Parse()
	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}
	log.SetLevel(*logLevel)

	variant := openai.Variant(*providerName)
	envKey, ok := providerEnvKeys[variant]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown provider %q, use openai or deepseek\n\n", *providerName)
		flag.Usage()
		os.Exit(1)
	}
	apiKey := os.Getenv(envKey)
	if apiKey == "" {
		fmt.Fprintf(os.Stderr, "%s must be set for provider %s\n\n", envKey, *providerName)
		flag.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	if *enableTelemetry {
		clean, err := telemetry.Start(ctx)
		if err != nil {
			log.Fatalf("failed to start telemetry: %v", err)
		}
		defer func() {
			if err := clean(); err != nil {
				log.Warnf("telemetry shutdown: %v", err)
			}
		}()
	}

	adapterOpts := []openai.Option{
		openai.WithVariant(variant),
		openai.WithAPIKey(apiKey),
	}
	if *baseURL != "" {
		adapterOpts = append(adapterOpts, openai.WithBaseURL(*baseURL))
	}
	provider := openai.New(*modelName, adapterOpts...)

	middlewares := []middleware.Middleware{middleware.NewLogging()}
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatalf("failed to create metrics middleware: %v", err)
	}
	middlewares = append(middlewares, metrics)
	if len(apiKeys) > 0 {
		middlewares = append(middlewares, middleware.NewAPIKeyAuth(apiKeys...))
	}
	if *rateLimit > 0 {
		middlewares = append(middlewares, middleware.NewRateLimit(*rateLimit))
	}

	var serverActions []*action.Action
	if *builtinActions {
		actions, err := builtin.Actions(builtin.WithBaseDir(*builtinRoot))
		if err != nil {
			log.Fatalf("failed to build builtin actions: %v", err)
		}
		serverActions = append(serverActions, actions...)
	}

	var manager *approval.Manager
	if len(gated) > 0 {
		manager, err = approval.NewManager(
			approval.WithGatedActions(gated...),
			approval.WithConversational(*conversational),
		)
		if err != nil {
			log.Fatalf("failed to create approval manager: %v", err)
		}
		defer manager.Close()
		if *conversational {
			serverActions = append(serverActions, manager.DecisionAction())
		}
	}

	var sources []*mcp.Source
	for _, url := range mcpServers {
		sources = append(sources, mcp.New(mcp.Config{
			ServerURL: url,
			Timeout:   mcpRequestTimeout,
		}))
	}
	defer func() {
		for _, src := range sources {
			if err := src.Close(); err != nil {
				log.Warnf("mcp source close: %v", err)
			}
		}
	}()

	rtOpts := []runtime.Option{
		runtime.WithServerActions(serverActions...),
		runtime.WithMiddlewares(middlewares...),
	}
	for _, src := range sources {
		rtOpts = append(rtOpts, runtime.WithActionSources(src))
	}
	if manager != nil {
		rtOpts = append(rtOpts, runtime.WithGate(manager))
	}
	if cloudKey := os.Getenv("COPILOT_CLOUD_API_KEY"); cloudKey != "" {
		guardOpts := []guardrails.Option{guardrails.WithAPIKey(cloudKey)}
		if base := os.Getenv("COPILOT_CLOUD_BASE_URL"); base != "" {
			guardOpts = append(guardOpts, guardrails.WithBaseURL(base))
		}
		rtOpts = append(rtOpts, runtime.WithGuardrails(guardrails.NewClient(guardOpts...)))
	}
	rt := runtime.New(provider, rtOpts...)

	serverOpts := []server.Option{}
	if manager != nil {
		serverOpts = append(serverOpts, server.WithApprovalManager(manager))
	}
	app := server.New(rt, serverOpts...)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Errorf("failed to bind %s: %v", *addr, err)
		os.Exit(2)
	}
	srv := &http.Server{
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server stopped with error: %v", err)
		}
	}()
	log.Infof("copilot runtime: provider %s model %s listening on %s",
		provider.ProviderName(), provider.ModelName(), *addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Infof("received %v, shutting down", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("graceful shutdown incomplete: %v", err)
	}
	log.Infof("copilot runtime stopped")
}
