// Package routes holds the default application routers mounted by the
// pipeline at "/" and "/users". They are small on purpose; real handlers
// replace them by implementing the same Mount method.
package routes
