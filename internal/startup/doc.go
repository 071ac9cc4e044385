// Package startup handles application initialization: environment-driven
// configuration with validation, the startup banner and system information,
// structured startup/shutdown progress logging, and build metadata injected
// at link time.
package startup
