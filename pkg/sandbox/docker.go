package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerRuntime creates sandboxes as Docker containers running a long-lived
// sleep process, with the user workspace bind-mounted read-write and the
// approved skills directory read-only.
type DockerRuntime struct {
	cli         *client.Client
	image       string
	execTimeout time.Duration
}

// NewDockerRuntime connects to the local Docker daemon.
func NewDockerRuntime(image string, execTimeout time.Duration) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, image: image, execTimeout: execTimeout}, nil
}

// Create starts a container per the spec. The container name is derived from
// the owner key so leaked containers are attributable.
func (r *DockerRuntime) Create(ctx context.Context, spec Spec) (Instance, error) {
	if err := os.MkdirAll(spec.WorkspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}

	binds := []string{spec.WorkspaceDir + ":/workspace"}
	if spec.SkillsDir != "" {
		binds = append(binds, spec.SkillsDir+":/skills:ro")
	}

	hostConfig := &container.HostConfig{Binds: binds}
	if spec.BlockNetwork {
		hostConfig.NetworkMode = "none"
	}

	name := "atelier-" + sanitizeName(spec.OwnerKey)
	created, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image:      r.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: "/workspace",
		Labels:     map[string]string{"atelier.owner": spec.OwnerKey},
	}, hostConfig, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container for %s: %w", spec.OwnerKey, err)
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container for %s: %w", spec.OwnerKey, err)
	}

	slog.Info("Sandbox created", "owner_key", spec.OwnerKey,
		"container_id", created.ID[:12], "network_blocked", spec.BlockNetwork)
	return &dockerInstance{cli: r.cli, id: created.ID, execTimeout: r.execTimeout}, nil
}

type dockerInstance struct {
	cli         *client.Client
	id          string
	execTimeout time.Duration
}

func (d *dockerInstance) ID() string { return d.id }

func (d *dockerInstance) Running(ctx context.Context) bool {
	info, err := d.cli.ContainerInspect(ctx, d.id)
	if err != nil {
		return false
	}
	return info.State != nil && info.State.Running
}

func (d *dockerInstance) Execute(ctx context.Context, cmd string) (ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, d.execTimeout)
	defer cancel()

	created, err := d.cli.ContainerExecCreate(execCtx, d.id, container.ExecOptions{
		Cmd:          []string{"/bin/sh", "-c", cmd},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	var out bytes.Buffer
	if _, err := stdcopy.StdCopy(&out, &out, attach.Reader); err != nil {
		if execCtx.Err() != nil {
			// Execution timed out; the in-sandbox process keeps running.
			return ExecResult{Stdout: out.String(), ExitCode: 124}, nil
		}
		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return ExecResult{Stdout: out.String(), ExitCode: inspect.ExitCode}, nil
}

func (d *dockerInstance) WriteFile(ctx context.Context, filePath string, data []byte) error {
	dir := path.Dir(filePath)
	if _, err := d.Execute(ctx, "mkdir -p "+shellQuote(dir)); err != nil {
		return err
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	if err := tw.WriteHeader(&tar.Header{
		Name: path.Base(filePath),
		Mode: 0o644,
		Size: int64(len(data)),
	}); err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to write tar body: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar: %w", err)
	}

	if err := d.cli.CopyToContainer(ctx, d.id, dir, &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("failed to copy file into sandbox: %w", err)
	}
	return nil
}

func (d *dockerInstance) ReadFile(ctx context.Context, filePath string) ([]byte, error) {
	rc, _, err := d.cli.CopyFromContainer(ctx, d.id, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to copy file from sandbox: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar from sandbox: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			return io.ReadAll(tr)
		}
	}
	return nil, fmt.Errorf("no regular file at %s in sandbox", filePath)
}

func (d *dockerInstance) Stats(ctx context.Context) (Stats, error) {
	resp, err := d.cli.ContainerStatsOneShot(ctx, d.id)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read container stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := decodeJSON(resp.Body, &raw); err != nil {
		return Stats{}, fmt.Errorf("failed to decode container stats: %w", err)
	}
	return Stats{MemoryBytes: raw.MemoryStats.Usage, CPUPercent: cpuPercent(&raw)}, nil
}

func (d *dockerInstance) Terminate(ctx context.Context) error {
	err := d.cli.ContainerRemove(ctx, d.id, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}

func cpuPercent(s *container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage - s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage - s.PreCPUStats.SystemUsage)
	if sysDelta <= 0 || cpuDelta <= 0 {
		return 0
	}
	return cpuDelta / sysDelta * float64(s.CPUStats.OnlineCPUs) * 100
}

func sanitizeName(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '-'
		}
	}, key)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
