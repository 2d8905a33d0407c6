// Package httpmw holds the request pipeline stages for the public server.
//
// app.New mounts them on the chi router in a fixed order: error hand-off,
// proxy-aware client address, request logger, CORS, access log, security
// headers, parameter pollution guard, panic recovery, body parsing, cookies,
// CSRF, then static files and sessions before the routers. A stage that rejects a request calls Fail,
// which hands the error to the terminal error page instead of writing a
// response itself.
//
// Logger fields never carry query strings, headers or bodies. The combined
// access format is the exception and records referrer and user agent, as
// the Apache format does.
package httpmw
