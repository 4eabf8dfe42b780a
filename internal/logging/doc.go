// Package logging configures structured slog output for amanrank.
// Logs are JSON lines written to a size-rotated file under ~/.amanrank/logs/
// and, outside of MCP stdio mode, mirrored to stderr.
package logging
