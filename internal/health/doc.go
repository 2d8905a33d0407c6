// Package health holds the liveness and readiness probes served on the ops
// listener and their HTTP handlers.
//
// Probes compose with [All] (AND) and [Any] (OR). [Dependency] bounds a
// check of an external service, such as the session store ping, with a
// timeout. [ShutdownGate] fails readiness as soon as shutdown begins so load
// balancers stop routing before in-flight requests drain.
package health
