// Command canvas-mcp runs the Canvas MCP server over stdio.
//
// Configuration comes from the environment:
//
//	CANVAS_BASE_URL      default Canvas instance URL
//	CANVAS_ACCESS_TOKEN  default access token (callers may override per call)
//	LOG_LEVEL            debug|info|warn|error (default info)
//	METRICS_ADDR         optional listen address for Prometheus /metrics
//	REDIS_URL            optional Redis address for shared throttle state
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/edukit/canvas-mcp/pkg/bundle"
	"github.com/edukit/canvas-mcp/pkg/client"
	"github.com/edukit/canvas-mcp/pkg/logging"
	"github.com/edukit/canvas-mcp/pkg/ratelimit"
	"github.com/edukit/canvas-mcp/pkg/tools"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const version = "1.0.0"

func main() {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(getEnv("LOG_LEVEL", "info")),
		Output: os.Stderr,
	})

	ctx := context.Background()

	cfg := client.DefaultConfig("canvas-mcp/" + version)

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisURL})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Str("addr", redisURL).Msg("Failed to connect to Redis")
		}
		cfg.Throttle = ratelimit.NewSharedTracker(redisClient, logging.NewLogger("throttle"))
		logger.Info().Str("addr", redisURL).Msg("Using shared throttle state via Redis")
	} else {
		cfg.Throttle = ratelimit.NewTracker(logging.NewLogger("throttle"))
	}

	canvasClient := client.New(cfg)

	defaultCred := client.Credential{
		BaseURL:     os.Getenv("CANVAS_BASE_URL"),
		AccessToken: os.Getenv("CANVAS_ACCESS_TOKEN"),
	}
	if defaultCred.Validate() != nil {
		logger.Warn().Msg("No default credential configured; callers must pass auth per call")
	}

	registry := tools.NewRegistry(canvasClient, defaultCred, bundle.DefaultConfig())

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "canvas-mcp",
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: "Canvas MCP exposes Canvas LMS data as tools. " +
			"List tools return one page per call; canvas_get_delta_bundle " +
			"aggregates every source concurrently and supports delta sync " +
			"via the since argument.",
	})
	registry.Register(server)

	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info().Str("addr", addr).Msg("Serving Prometheus metrics")
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	logger.Info().Str("version", version).Msg("Starting Canvas MCP server on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
