package httpserver

import (
	"net/http"

	"github.com/keithlinneman/pipeline-web/internal/httpmw"
	"github.com/keithlinneman/pipeline-web/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int
	// Handler is the application pipeline. Required.
	Handler      http.Handler
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	// ErrorHandler renders errors raised by the outer layers. Without it
	// httpmw.Fail writes plain text.
	ErrorHandler httpmw.ErrorHandler
}
