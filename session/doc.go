// Package session multiplexes long-lived MCP protocol sessions over HTTP.
//
// A Registry owns every live transport, keyed by an unguessable session id
// and bound to the user that created it. Lookups by any other user behave
// exactly like lookups of a session that does not exist. The registry
// enforces a global capacity ceiling and evicts idle sessions from a
// background sweep with an explicit Start/Stop lifecycle.
//
// Handler decodes each /mcp request once into CreateSession, ResumeSession or
// CloseSession and dispatches on that value.
package session
