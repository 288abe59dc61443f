// Package mcpserver is the Model Context Protocol server behind /mcp.
//
// Server exposes the authenticated user's profile as a tool and a resource,
// plus a summarize prompt. Transport binds one protocol session to one
// session.Registry entry: it implements server.ClientSession for mcp-go and
// session.Transport for the registry.
package mcpserver
