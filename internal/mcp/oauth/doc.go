// Package oauth implements a self-contained OAuth 2.1 authorization server
// for the planfewer MCP server.
//
// It provides dynamic client registration (RFC 7591), the authorization-code
// flow with mandatory PKCE (RFC 7636, S256 only), a client-credentials grant,
// token introspection (RFC 7662), token revocation (RFC 7009), and the
// discovery documents MCP clients use to find these endpoints (RFC 8414 and
// RFC 9728).
//
// Tokens issued here are opaque bearer tokens scoped to the Google Tasks and
// Calendar tools exposed by the MCP server. The resource-server half of the
// package (middleware.go) validates tokens and enforces the hierarchical
// scope model before any tool handler runs.
package oauth
