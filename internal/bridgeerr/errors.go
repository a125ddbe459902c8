// Package bridgeerr defines the bridge's typed error taxonomy. Every package
// wraps lower-level errors with fmt.Errorf("...: %w", err) in the teacher's
// style (see internal/service/mcp/mcp.go in the reference tree); the types
// here exist so callers that need to react differently to a config problem
// versus a dead upstream connection can do so with errors.As instead of
// string matching.
package bridgeerr

import "fmt"

// ErrorCode names the MCP/JSON-RPC error category a ProtocolError should be
// reported under when the bridge server turns it into a response to its
// downstream client.
type ErrorCode string

const (
	CodeInvalidParams  ErrorCode = "invalid_params"
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeInternalError  ErrorCode = "internal_error"
	CodeMethodNotFound ErrorCode = "method_not_found"
)

// ConfigError reports a problem loading, parsing or validating a config
// file or one of its server entries.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ConnectionError reports a failure to establish or maintain an upstream
// connection: spawn failure, handshake failure, transport drop.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("upstream %s: connection: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError reports a malformed or out-of-spec MCP exchange, and
// carries the error code the bridge server should surface to its
// downstream client when the error originates from a request it is
// handling.
type ProtocolError struct {
	Code ErrorCode
	Msg  string
	Err  error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Msg)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// PolicyError reports that the policy engine denied a tool call, or that
// elicitation for a "prompt" policy failed or was declined.
type PolicyError struct {
	Tool   string
	Reason string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy denied %s: %s", e.Tool, e.Reason)
}

// UpstreamCallError wraps a tool-call failure returned by an upstream
// server, preserving which server/tool it came from.
type UpstreamCallError struct {
	Server string
	Tool   string
	Err    error
}

func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("upstream %s tool %s: %v", e.Server, e.Tool, e.Err)
}

func (e *UpstreamCallError) Unwrap() error { return e.Err }

// ValidationError reports a request parameter that failed validation
// before any upstream call was attempted.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// CredentialError reports a failure reading, decrypting, or writing the
// credential store.
type CredentialError struct {
	Op  string
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential store %s: %v", e.Op, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }
