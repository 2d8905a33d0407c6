package opshttp

import (
	"net/http"

	"github.com/keithlinneman/pipeline-web/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	// Readiness is typically the shutdown gate AND the session store ping.
	Readiness health.Probe
	// AllowPublic serves requests from public peers too. Off by default:
	// the ops listener is meant for the cluster network only.
	AllowPublic bool
	OnPanic     func()
}
