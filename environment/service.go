package environment

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/input-output-hk/catalyst-forge-pipeline/config"
)

// Labels set on service containers.
const (
	LabelRunID = "io.forge.pipeline.run-id"
	LabelCell  = "io.forge.pipeline.cell"
)

// ContainerAPI is the subset of the Docker client used to run service
// containers. *client.Client satisfies it.
type ContainerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, container string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, container string, options container.RemoveOptions) error
}

var containerNameInvalid = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// containerName builds a unique, valid container name for a cell's service.
func containerName(runID, cell, service string) string {
	if len(runID) > 8 {
		runID = runID[:8]
	}
	name := fmt.Sprintf("forge-%s-%s-%s", runID, cell, service)
	return containerNameInvalid.ReplaceAllString(name, "_")
}

// startService pulls the image and starts the container. The returned id is
// non-empty whenever a container was created, even if starting it failed.
func startService(ctx context.Context, docker ContainerAPI, svc *config.ServiceConfig, runID, cell string) (string, error) {
	exposed, bindings, err := nat.ParsePortSpecs(svc.Ports)
	if err != nil {
		return "", fmt.Errorf("invalid service ports: %w", err)
	}

	rc, err := docker.ImagePull(ctx, svc.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to pull %s: %w", svc.Image, err)
	}
	// The pull completes when the progress stream is drained.
	_, copyErr := io.Copy(io.Discard, rc)
	_ = rc.Close()
	if copyErr != nil {
		return "", fmt.Errorf("failed to pull %s: %w", svc.Image, copyErr)
	}

	env := make([]string, 0, len(svc.Env))
	for k, v := range svc.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	resp, err := docker.ContainerCreate(ctx,
		&container.Config{
			Image:        svc.Image,
			Env:          env,
			ExposedPorts: exposed,
			Labels: map[string]string{
				LabelRunID: runID,
				LabelCell:  cell,
			},
		},
		&container.HostConfig{PortBindings: bindings},
		nil,
		nil,
		containerName(runID, cell, svc.Name),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create %s container: %w", svc.Name, err)
	}

	if err := docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return resp.ID, fmt.Errorf("failed to start %s container: %w", svc.Name, err)
	}
	return resp.ID, nil
}
