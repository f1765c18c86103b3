package plugin

import "errors"

// Registry and dispatch errors.
var (
	// ErrUnknownPlugin is returned when a named plugin is not
	// registered or not active.
	ErrUnknownPlugin = errors.New("unknown plugin")

	// ErrUnknownMethod is returned by a plugin that does not
	// implement the requested method.
	ErrUnknownMethod = errors.New("unknown method")

	// ErrMissingParameter is returned by a plugin when a required
	// parameter is absent. Parameter requirements are plugin-declared
	// preconditions, not enforced generically.
	ErrMissingParameter = errors.New("missing parameter")

	// ErrEvaluateNotSupported is returned by method-dispatch-only
	// plugins; the pipeline passes the payload through unchanged.
	ErrEvaluateNotSupported = errors.New("evaluate not supported")

	// ErrPluginNameEmpty is returned when registering under an empty name.
	ErrPluginNameEmpty = errors.New("plugin name cannot be empty")

	// ErrFactoryNil is returned when registering a nil factory.
	ErrFactoryNil = errors.New("plugin factory cannot be nil")

	// ErrCredentialMissing is returned by factories whose declared
	// credential requirement is not satisfied by configuration.
	ErrCredentialMissing = errors.New("required credential not configured")
)
