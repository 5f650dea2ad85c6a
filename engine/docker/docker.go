// Package docker implements engine.Engine against the Docker Engine API.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/engine"
	"github.com/projecteru2/hatchery/progress"
)

// compile-time interface check.
var _ engine.Engine = (*Docker)(nil)

// Docker talks to the local Docker daemon.
type Docker struct {
	cli *client.Client
	// stopTimeoutSeconds is the graceful stop window passed to the engine.
	stopTimeoutSeconds int
}

// New creates a Docker backend from the environment (DOCKER_HOST etc.),
// negotiating the API version with the daemon.
func New(stopTimeoutSeconds int) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("init docker client: %w", err)
	}
	return &Docker{cli: cli, stopTimeoutSeconds: stopTimeoutSeconds}, nil
}

// Pull fetches an image, reporting per-layer status to tracker. The
// reference is validated before the engine is contacted so malformed unit
// definitions fail fast with a clear error.
func (d *Docker) Pull(ctx context.Context, ref string, tracker progress.Tracker) error {
	logger := log.WithFunc("docker.Pull")

	if _, err := name.ParseReference(ref); err != nil {
		return fmt.Errorf("invalid image reference %q: %w", ref, err)
	}
	if tracker == nil {
		tracker = progress.Nop
	}

	logger.Infof(ctx, "pulling image: %s", ref)
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer rc.Close() //nolint:errcheck

	// The engine performs the pull while the response body is consumed;
	// decoding the status stream is what drives the operation to completion.
	dec := json.NewDecoder(rc)
	last := make(map[string]string) // layer id → last status, to drop byte-count spam
	for {
		var msg struct {
			Status string `json:"status"`
			ID     string `json:"id"`
			Error  string `json:"error"`
		}
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("pull image %s: %w", ref, err)
		}
		if msg.Error != "" {
			return fmt.Errorf("pull image %s: %s", ref, msg.Error)
		}
		if msg.Status == "" || last[msg.ID] == msg.Status {
			continue
		}
		last[msg.ID] = msg.Status
		tracker.OnEvent(progress.PullEvent{Image: ref, ID: msg.ID, Status: msg.Status})
	}
	logger.Infof(ctx, "pulled image: %s", ref)
	return nil
}

// mapErr converts engine "no such container" errors to engine.ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrNotFound(err) {
		return engine.ErrNotFound
	}
	return err
}
