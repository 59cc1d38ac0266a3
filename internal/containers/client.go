// Package containers is the sole boundary between fleetctl and the
// container runtime. No business logic lives here: it only translates
// intent (list/inspect/start/stop/logs) into Docker Engine API calls.
package containers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/client"
)

// DockerClient wraps the low-level moby client with the subset of
// operations ContainerAdapter needs.
type DockerClient struct {
	api *client.Client
}

// NewDockerClient connects to a Docker daemon over a unix socket or TCP host.
func NewDockerClient(dockerSock string) (*DockerClient, error) {
	var opts []client.Opt
	switch {
	case strings.HasPrefix(dockerSock, "tcp://"), strings.HasPrefix(dockerSock, "tcps://"):
		opts = append(opts, client.WithHost(dockerSock))
	default:
		opts = append(opts,
			client.WithHost("unix://"+dockerSock),
			client.WithHTTPClient(&http.Client{
				Transport: &http.Transport{
					DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
						return net.DialTimeout("unix", dockerSock, 30*time.Second)
					},
				},
			}),
		)
	}
	opts = append(opts, client.WithAPIVersionNegotiation())

	api, err := client.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerClient{api: api}, nil
}

func (c *DockerClient) Close() error { return c.api.Close() }

func (c *DockerClient) ListAll(ctx context.Context) ([]container.Summary, error) {
	result, err := c.api.ContainerList(ctx, client.ContainerListOptions{All: true})
	if err != nil {
		return nil, err
	}
	return result.Items, nil
}

func (c *DockerClient) Inspect(ctx context.Context, id string) (container.InspectResponse, error) {
	result, err := c.api.ContainerInspect(ctx, id, client.ContainerInspectOptions{})
	if err != nil {
		return container.InspectResponse{}, err
	}
	return result.Container, nil
}

func (c *DockerClient) Stop(ctx context.Context, id string, timeoutSec int) error {
	_, err := c.api.ContainerStop(ctx, id, client.ContainerStopOptions{Timeout: &timeoutSec})
	return err
}

func (c *DockerClient) Start(ctx context.Context, id string) error {
	_, err := c.api.ContainerStart(ctx, id, client.ContainerStartOptions{})
	return err
}

func (c *DockerClient) Restart(ctx context.Context, id string) error {
	_, err := c.api.ContainerRestart(ctx, id, client.ContainerRestartOptions{})
	return err
}

func (c *DockerClient) Stats(ctx context.Context, id string) (client.ContainerStatsResult, error) {
	return c.api.ContainerStats(ctx, id, client.ContainerStatsOptions{Stream: false})
}

func (c *DockerClient) Logs(ctx context.Context, id string, tail int, follow bool) (stream ReadCloser, err error) {
	tailStr := "all"
	if tail > 0 {
		tailStr = fmt.Sprintf("%d", tail)
	}
	resp, err := c.api.ContainerLogs(ctx, id, client.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tailStr,
		Follow:     follow,
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *DockerClient) Info(ctx context.Context) (client.SystemInfoResult, error) {
	return c.api.Info(ctx, client.InfoOptions{})
}

func (c *DockerClient) Version(ctx context.Context) (client.ServerVersionResult, error) {
	return c.api.ServerVersion(ctx, client.ServerVersionOptions{})
}

// ReadCloser avoids importing io in callers that only forward the stream.
type ReadCloser = interface {
	Read(p []byte) (n int, err error)
	Close() error
}
