// Package sandbox defines the port for provisioning gateway sandboxes.
package sandbox

import "context"

// CreateResult describes a provisioned sandbox.
type CreateResult struct {
	SandboxID    string `json:"sandboxId"`
	Endpoint     string `json:"endpoint"`
	GatewayToken string `json:"gatewayToken"`
}

// Provisioner creates and destroys sandboxed gateway instances.
type Provisioner interface {
	// Create provisions a sandbox running a gateway, waits until the gateway
	// answers HTTP, and returns its reachable endpoint. The gateway is
	// configured with the given bearer token; apiKey is forwarded to the
	// agent runtime inside the sandbox.
	Create(ctx context.Context, name, apiKey, gatewayToken string) (*CreateResult, error)

	// Kill stops and removes the sandbox. Idempotent on best effort: killing
	// an already-removed sandbox returns an error the caller may ignore.
	Kill(ctx context.Context, sandboxID string) error
}
