// Package docker provisions sandboxed gateway instances as Docker
// containers.
package docker

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/oklog/ulid/v2"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/Strob0t/ClawDeck/internal/port/sandbox"
)

// Client is the subset of Docker operations the provisioner needs.
// Narrowing the interface keeps it mockable in tests.
type Client interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
}

// ProvisionerConfig configures the Docker provisioner.
type ProvisionerConfig struct {
	Client       Client
	Image        string
	GatewayPort  int
	MemoryMB     int
	NanoCPUs     int64
	ReadyTimeout time.Duration
	HTTP         *http.Client // readiness polling; defaulted when nil
}

func (c *ProvisionerConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("create docker client: %w", err)
		}
		c.Client = cli
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 2 * time.Second}
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 2 * time.Minute
	}
	return nil
}

// Provisioner implements the sandbox port on the Docker engine.
type Provisioner struct {
	client       Client
	image        string
	gatewayPort  int
	memoryMB     int
	nanoCPUs     int64
	readyTimeout time.Duration
	http         *http.Client
}

// NewProvisioner creates a Docker-backed sandbox provisioner.
func NewProvisioner(cfg ProvisionerConfig) (*Provisioner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Provisioner{
		client:       cfg.Client,
		image:        cfg.Image,
		gatewayPort:  cfg.GatewayPort,
		memoryMB:     cfg.MemoryMB,
		nanoCPUs:     cfg.NanoCPUs,
		readyTimeout: cfg.ReadyTimeout,
		http:         cfg.HTTP,
	}, nil
}

// Create pulls the gateway image, starts a container with the gateway token
// and API key in its environment, waits for the gateway to answer HTTP, and
// returns the mapped endpoint. On any failure after container creation the
// container is killed best-effort.
func (p *Provisioner) Create(ctx context.Context, name, apiKey, gatewayToken string) (*sandbox.CreateResult, error) {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	containerName := "clawdeck-" + strings.ToLower(id)

	slog.Info("sandbox: pulling image", "image", p.image)
	pullResp, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("pull image %s: %w", p.image, err)
	}
	// Consume the pull response to ensure it completes
	_, _ = io.Copy(io.Discard, pullResp)
	_ = pullResp.Close()

	gwPort := nat.Port(fmt.Sprintf("%d/tcp", p.gatewayPort))

	containerConfig := &container.Config{
		Image: p.image,
		Env: []string{
			"OPENCLAW_GATEWAY_TOKEN=" + gatewayToken,
			"OPENCLAW_API_KEY=" + apiKey,
			fmt.Sprintf("OPENCLAW_GATEWAY_PORT=%d", p.gatewayPort),
		},
		Labels: map[string]string{
			"app":          "clawdeck",
			"instance":     name,
			"long_running": "true",
		},
		ExposedPorts: nat.PortSet{gwPort: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(p.memoryMB) * 1024 * 1024,
			NanoCPUs: p.nanoCPUs,
		},
		PortBindings: nat.PortMap{
			gwPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: ""}},
		},
	}

	slog.Info("sandbox: creating container", "name", containerName)
	created, err := p.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}

	result, err := p.startAndWait(ctx, containerName, created.ID, gwPort)
	if err != nil {
		slog.Error("sandbox: provisioning failed, cleaning up", "name", containerName, "error", err)
		if killErr := p.Kill(context.WithoutCancel(ctx), containerName); killErr != nil {
			slog.Warn("sandbox: cleanup failed", "name", containerName, "error", killErr)
		}
		return nil, err
	}

	result.GatewayToken = gatewayToken
	slog.Info("sandbox: ready", "name", containerName, "endpoint", result.Endpoint)
	return result, nil
}

func (p *Provisioner) startAndWait(ctx context.Context, containerName, containerID string, gwPort nat.Port) (*sandbox.CreateResult, error) {
	if err := p.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.NetworkSettings == nil {
		return nil, fmt.Errorf("container %s has no network settings", containerName)
	}
	bindings := inspect.NetworkSettings.Ports[gwPort]
	if len(bindings) == 0 || bindings[0].HostPort == "" {
		return nil, fmt.Errorf("container %s has no host binding for %s", containerName, gwPort)
	}
	endpoint := "http://127.0.0.1:" + bindings[0].HostPort

	if err := p.waitReady(ctx, endpoint); err != nil {
		return nil, err
	}

	return &sandbox.CreateResult{
		SandboxID: containerName,
		Endpoint:  endpoint,
	}, nil
}

// waitReady polls the gateway root until it answers 2xx or the ready timeout
// elapses.
func (p *Provisioner) waitReady(ctx context.Context, endpoint string) error {
	deadline := time.Now().Add(p.readyTimeout)
	attempt := 0
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}

		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/", nil)
		if err != nil {
			return fmt.Errorf("create readiness request: %w", err)
		}
		resp, err := p.http.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				return nil
			}
		}

		if attempt%10 == 0 {
			slog.Info("sandbox: waiting for gateway", "endpoint", endpoint, "attempt", attempt)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return fmt.Errorf("gateway at %s did not become ready within %s", endpoint, p.readyTimeout)
}

// Kill stops and removes the sandbox container.
func (p *Provisioner) Kill(ctx context.Context, sandboxID string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, sandboxID, container.StopOptions{Timeout: &timeout}); err != nil {
		slog.Warn("sandbox: stop failed, forcing removal", "sandbox", sandboxID, "error", err)
	}
	if err := p.client.ContainerRemove(ctx, sandboxID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove container %s: %w", sandboxID, err)
	}
	return nil
}

// NewGatewayToken returns a fresh random bearer token for a provisioned
// gateway: 16 bytes, base64url.
func NewGatewayToken() (string, error) {
	return newToken()
}
