package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Strob0t/ClawDeck/internal/domain"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/port/sandbox"
	"github.com/Strob0t/ClawDeck/internal/resilience"
)

// Sandboxes manages instance lifecycle beyond the registry record: gateway
// container provisioning on launch and full teardown on removal.
type Sandboxes struct {
	provisioner sandbox.Provisioner
	registry    *Registry
	sessions    *Sessions
	breakers    *resilience.BreakerSet
	newToken    func() (string, error)
}

// NewSandboxes wires the sandbox lifecycle service. newToken mints the
// gateway bearer credential for each launched sandbox.
func NewSandboxes(provisioner sandbox.Provisioner, registry *Registry, sessions *Sessions, breakers *resilience.BreakerSet, newToken func() (string, error)) *Sandboxes {
	return &Sandboxes{
		provisioner: provisioner,
		registry:    registry,
		sessions:    sessions,
		breakers:    breakers,
		newToken:    newToken,
	}
}

// LaunchRequest describes a sandboxed instance to provision.
type LaunchRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	APIKey      string `json:"apiKey"`
}

// Launch provisions a gateway sandbox and registers it as an instance. The
// minted gateway token becomes the instance credential, so the console is
// the only client that can reach the sandboxed gateway.
func (s *Sandboxes) Launch(ctx context.Context, req LaunchRequest) (instance.Public, error) {
	if s.provisioner == nil {
		return instance.Public{}, fmt.Errorf("sandbox provisioning is not configured: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(req.Name) == "" {
		return instance.Public{}, fmt.Errorf("name is required: %w", domain.ErrValidation)
	}

	token, err := s.newToken()
	if err != nil {
		return instance.Public{}, fmt.Errorf("mint gateway token: %w", err)
	}

	created, err := s.provisioner.Create(ctx, req.Name, req.APIKey, token)
	if err != nil {
		return instance.Public{}, fmt.Errorf("provision sandbox: %w", err)
	}

	pub, err := s.registry.Create(ctx, instance.CreateRequest{
		Name:        req.Name,
		Endpoint:    created.Endpoint,
		Description: req.Description,
		Token:       created.GatewayToken,
		SandboxID:   created.SandboxID,
	})
	if err != nil {
		// Registration failed; do not leak the container.
		if killErr := s.provisioner.Kill(context.WithoutCancel(ctx), created.SandboxID); killErr != nil {
			slog.Error("orphaned sandbox cleanup failed", "sandbox_id", created.SandboxID, "error", killErr)
		}
		return instance.Public{}, err
	}

	slog.Info("sandbox launched", "instance_id", pub.ID, "sandbox_id", created.SandboxID)
	return pub, nil
}

// Remove deletes an instance and tears down everything attached to it: the
// sandbox container if one exists, the session key, and the health breaker.
// Used for all instance deletions, sandboxed or not.
func (s *Sandboxes) Remove(ctx context.Context, id string) error {
	removed, err := s.registry.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.sessions.Drop(id)
	s.breakers.Forget(id)

	if removed.SandboxID != "" && s.provisioner != nil {
		if err := s.provisioner.Kill(ctx, removed.SandboxID); err != nil {
			// The registry record is already gone; log and move on.
			slog.Warn("sandbox teardown failed", "sandbox_id", removed.SandboxID, "error", err)
		}
	}
	return nil
}
