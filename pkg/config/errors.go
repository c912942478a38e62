package config

import "errors"

// Sentinel errors returned by configuration lookups.
var (
	ErrMCPServerNotFound = errors.New("MCP server not found")
)
