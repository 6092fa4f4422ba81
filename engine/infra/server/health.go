package server

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/livemem/livemem/engine/core"
	"github.com/livemem/livemem/pkg/version"
)

const llmProbeTimeout = 5 * time.Second

// Statuses specific to health payloads: the LLM being unconfigured is a
// warning, not an error, and any non-ok sub-service degrades the whole.
const (
	statusWarning  core.Status = "warning"
	statusDegraded core.Status = "degraded"
)

type s3Health struct {
	Status    core.Status `json:"status"`
	Bucket    string      `json:"bucket"`
	LatencyMs float64     `json:"latency_ms"`
}

type llmHealth struct {
	Status    core.Status `json:"status"`
	Model     string      `json:"model"`
	LatencyMs float64     `json:"latency_ms"`
}

type healthResult struct {
	Status        core.Status    `json:"status"`
	ServiceName   string         `json:"service_name"`
	Version       string         `json:"version"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	Services      map[string]any `json:"services"`
	SpacesCount   int            `json:"spaces_count"`
}

// health runs the deep checks behind system_health: a real S3 round trip, a
// paid-for 1-token LLM completion, and a space count. Overall status is ok
// only when every service answers ok; anything else is degraded, never a tool
// error.
func (a *App) health(ctx context.Context) *healthResult {
	s3, s3ok := a.checkS3(ctx)
	llm, llmok := a.checkLLM(ctx)

	status := core.StatusOK
	if !s3ok || !llmok {
		status = statusDegraded
	}
	return &healthResult{
		Status:        status,
		ServiceName:   a.cfg.ServerName,
		Version:       version.GetVersion(),
		UptimeSeconds: math.Round(time.Since(a.startedAt).Seconds()*10) / 10,
		Services:      map[string]any{"s3": s3, "llmaas": llm},
		SpacesCount:   a.countSpaces(ctx),
	}
}

func (a *App) checkS3(ctx context.Context) (any, bool) {
	ping, err := a.store.Ping(ctx)
	if err != nil {
		return core.Envelope{Status: core.StatusError, Message: err.Error()}, false
	}
	return s3Health{Status: core.StatusOK, Bucket: ping.Bucket, LatencyMs: ping.LatencyMs}, true
}

// checkLLM probes reachability with a cheap GET before paying for the
// completion; a dead endpoint then fails in 5 s instead of the full chat
// timeout.
func (a *App) checkLLM(ctx context.Context) (any, bool) {
	if a.completer == nil {
		return core.Envelope{Status: statusWarning, Message: "LLMaaS not configured"}, false
	}
	probe := resty.New().
		SetTimeout(llmProbeTimeout).
		SetHeader("Authorization", "Bearer "+a.cfg.LLMAPIKey)
	resp, err := probe.R().SetContext(ctx).Get(strings.TrimRight(a.cfg.LLMAPIURL, "/") + "/models")
	if err != nil {
		return core.Envelope{
			Status:  core.StatusError,
			Message: fmt.Sprintf("LLM endpoint unreachable: %v", err),
		}, false
	}
	if resp.IsError() {
		return core.Envelope{
			Status:  core.StatusError,
			Message: fmt.Sprintf("LLM endpoint answered %s", resp.Status()),
		}, false
	}

	start := time.Now()
	if err := a.completer.Ping(ctx); err != nil {
		return core.Envelope{Status: core.StatusError, Message: err.Error()}, false
	}
	latency := math.Round(time.Since(start).Seconds()*1000*10) / 10
	return llmHealth{Status: core.StatusOK, Model: a.completer.Model(), LatencyMs: latency}, true
}

// countSpaces counts root prefixes that are not system areas. -1 signals the
// count itself failed; health stays degraded-free on that alone, matching the
// best-effort nature of the figure.
func (a *App) countSpaces(ctx context.Context) int {
	prefixes, err := a.store.ListPrefixes(ctx, "")
	if err != nil {
		return -1
	}
	count := 0
	for _, p := range prefixes {
		if !strings.HasPrefix(p, "_") {
			count++
		}
	}
	return count
}
