package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// New creates an MCP server with all tools and resources registered.
func New(ds DataSource, version string, log *slog.Logger) *server.MCPServer {
	s := server.NewMCPServer("HealthLens", version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithInstructions("HealthLens personal health analytics. Daily metrics are compared against the user's own trailing 90-day baseline. Use list_metrics for valid metric keys; dates are YYYY-MM-DD. Scores and anomalies are wellness signals, not medical advice."),
	)

	h := &handlers{ds: ds, log: log}

	// Tools
	s.AddTools(
		server.ServerTool{Tool: toolListMetrics, Handler: h.listMetrics},
		server.ServerTool{Tool: toolGetDailyMetric, Handler: h.getDailyMetric},
		server.ServerTool{Tool: toolGetOverview, Handler: h.getOverview},
		server.ServerTool{Tool: toolGetAnomalies, Handler: h.getAnomalies},
		server.ServerTool{Tool: toolGetCorrelations, Handler: h.getCorrelations},
		server.ServerTool{Tool: toolGetChartContext, Handler: h.getChartContext},
		server.ServerTool{Tool: toolGetScores, Handler: h.getScores},
		server.ServerTool{Tool: toolGetRecoveryVsStrain, Handler: h.getRecoveryVsStrain},
		server.ServerTool{Tool: toolGetEffortComposition, Handler: h.getEffortComposition},
		server.ServerTool{Tool: toolGetReadinessTimeline, Handler: h.getReadinessTimeline},
	)

	// Resources
	s.AddResources(
		server.ServerResource{Resource: resOverview, Handler: h.overview},
		server.ServerResource{Resource: resMetricCatalog, Handler: h.metricCatalog},
	)

	return s
}

// handlers holds dependencies for MCP tool/resource handlers.
type handlers struct {
	ds  DataSource
	log *slog.Logger
}

// --- Resource definitions ---

var resOverview = mcp.NewResource(
	"healthlens://overview",
	"Overview",
	mcp.WithResourceDescription("Latest value, baseline delta, trend and anomaly level for every metric"),
	mcp.WithMIMEType("application/json"),
)

var resMetricCatalog = mcp.NewResource(
	"healthlens://metric_catalog",
	"Metric Catalog",
	mcp.WithResourceDescription("All daily metrics with units, categories and capabilities"),
	mcp.WithMIMEType("application/json"),
)
