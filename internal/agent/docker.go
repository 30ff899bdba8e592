package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/botgrid/hosting/pkg/logger"
)

const containerPrefix = "bot-"

// DockerRunner drives the local Docker daemon for bot containers. All
// managed containers carry the bot- name prefix and mount their data
// directory from the agent's data path.
type DockerRunner struct {
	cli      *client.Client
	dataPath string
}

// NewDockerRunner connects to the local Docker daemon
func NewDockerRunner(socket, dataPath string) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+socket),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &DockerRunner{cli: cli, dataPath: dataPath}, nil
}

// Close releases the daemon connection
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

// ContainerInfo is one managed container in the heartbeat inventory
type ContainerInfo struct {
	Name     string
	MemoryMB int
}

// StartOptions describes a container to create and start
type StartOptions struct {
	Name     string
	Image    string
	Env      []string
	MemoryMB int
	Ports    map[string]string // hostPort -> containerPort/proto
	Restart  bool
}

// Start creates and starts a bot container. An existing container with the
// same name is removed first, so Start doubles as recreate.
func (r *DockerRunner) Start(ctx context.Context, opts StartOptions) error {
	_ = r.Remove(ctx, opts.Name)

	if err := r.ensureImage(ctx, opts.Image); err != nil {
		return err
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for hostPort, containerPort := range opts.Ports {
		port, err := nat.NewPort("tcp", strings.TrimSuffix(containerPort, "/tcp"))
		if err != nil {
			return fmt.Errorf("invalid port %s: %w", containerPort, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	restartPolicy := container.RestartPolicy{Name: container.RestartPolicyDisabled}
	if opts.Restart {
		restartPolicy.Name = container.RestartPolicyUnlessStopped
	}

	hostConfig := &container.HostConfig{
		Binds:         []string{r.DataDir(opts.Name) + ":/data"},
		PortBindings:  bindings,
		RestartPolicy: restartPolicy,
	}
	if opts.MemoryMB > 0 {
		hostConfig.Resources = container.Resources{
			Memory: int64(opts.MemoryMB) * 1024 * 1024,
		}
	}

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        opts.Image,
			Env:          opts.Env,
			ExposedPorts: exposed,
		},
		hostConfig, nil, nil, opts.Name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", opts.Name, err)
	}
	logger.Info("container started", map[string]interface{}{
		"name":  opts.Name,
		"image": opts.Image,
	})
	return nil
}

// Stop stops a container; a missing container is not an error
func (r *DockerRunner) Stop(ctx context.Context, name string) error {
	timeout := 30
	err := r.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &timeout})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// Restart restarts a container
func (r *DockerRunner) Restart(ctx context.Context, name string) error {
	timeout := 30
	return r.cli.ContainerRestart(ctx, name, container.StopOptions{Timeout: &timeout})
}

// Remove force-removes a container; a missing container is not an error
func (r *DockerRunner) Remove(ctx context.Context, name string) error {
	err := r.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

// Inspect reports whether the container exists and is running
func (r *DockerRunner) Inspect(ctx context.Context, name string) (running bool, status string, err error) {
	inspect, err := r.cli.ContainerInspect(ctx, name)
	if client.IsErrNotFound(err) {
		return false, "absent", nil
	}
	if err != nil {
		return false, "", err
	}
	return inspect.State.Running, inspect.State.Status, nil
}

// Logs returns the tail of a container's combined output
func (r *DockerRunner) Logs(ctx context.Context, name string, tail int) (string, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tail),
	}
	reader, err := r.cli.ContainerLogs(ctx, name, options)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List inventories the managed containers with their current memory usage,
// the shape the heartbeat frame carries.
func (r *DockerRunner) List(ctx context.Context) ([]ContainerInfo, error) {
	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", containerPrefix)),
	})
	if err != nil {
		return nil, err
	}

	infos := make([]ContainerInfo, 0, len(summaries))
	for _, summary := range summaries {
		if len(summary.Names) == 0 {
			continue
		}
		name := strings.TrimPrefix(summary.Names[0], "/")
		if !strings.HasPrefix(name, containerPrefix) {
			continue
		}
		infos = append(infos, ContainerInfo{
			Name:     name,
			MemoryMB: r.memoryMB(ctx, summary.ID),
		})
	}
	return infos, nil
}

func (r *DockerRunner) memoryMB(ctx context.Context, containerID string) int {
	stats, err := r.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return 0
	}
	defer stats.Body.Close()

	var parsed container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&parsed); err != nil {
		return 0
	}
	return int(parsed.MemoryStats.Usage / 1024 / 1024)
}

// DataDir returns the host path of a container's data directory
func (r *DockerRunner) DataDir(name string) string {
	return r.dataPath + "/" + name
}

func (r *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := r.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	reader, err := r.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageName, err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}
