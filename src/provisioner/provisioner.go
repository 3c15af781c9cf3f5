// Copyright (c) 2026 Khaled Abbas
//
// This source code is licensed under the Business Source License 1.1.
//
// Change Date: 4 years after the first public release of this version.
// Change License: MIT
//
// On the Change Date, this version of the code automatically converts
// to the MIT License. Prior to that date, use is subject to the
// Additional Use Grant. See the LICENSE file for details.

package provisioner

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"golang.org/x/sync/singleflight"

	"resqenv/src/logging"
	"resqenv/src/model"
)

const (
	// EnvNamePrefix is the fixed naming pattern for provisioned runtime
	// containers; the cleanup command removes containers matching it.
	EnvNamePrefix = "resq_env_"

	// WorkspaceMount is where the environment temp root is bind-mounted
	// inside every runtime container.
	WorkspaceMount = "/workspace"

	sandboxNetworkName = "resq_sandbox"
	envStoreName       = "envs"
)

// Runtime is a handle to a provisioned environment: a running container
// whose toolchain satisfies one dependency spec.
type Runtime struct {
	Key           string
	ContainerID   string
	ContainerName string
	tempRoot      string
}

// ContainerPath translates a host path under the temp root into the
// corresponding path inside the runtime container.
func (r *Runtime) ContainerPath(hostPath string) (string, error) {
	rel, err := filepath.Rel(r.tempRoot, hostPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path %s is outside the workspace root", hostPath)
	}
	return path.Join(WorkspaceMount, filepath.ToSlash(rel)), nil
}

// Provisioner builds runtime containers keyed by dependency-spec hash.
// Identical specs share one runtime; provisioning runs at most once per key
// even under concurrent callers.
type Provisioner struct {
	cli      *client.Client
	tempRoot string
	persist  bool
	store    *EnvStore

	group singleflight.Group

	mu       sync.Mutex
	runtimes map[string]*Runtime
	failed   map[string]error

	networkID string
}

func New(cli *client.Client, tempRoot string, persist bool) *Provisioner {
	return &Provisioner{
		cli:      cli,
		tempRoot: tempRoot,
		persist:  persist,
		store:    NewEnvStore(tempRoot, envStoreName),
		runtimes: make(map[string]*Runtime),
		failed:   make(map[string]error),
	}
}

// EnvKey derives the deterministic environment key for a task's dependency
// spec. Tasks with identical toolchain + requirements share a key.
func EnvKey(task model.TaskRecord) string {
	h := sha256.New()
	io.WriteString(h, task.TestbedEnvironment)
	h.Write([]byte{0})
	io.WriteString(h, task.RequirementsTxt)
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// EnvName returns the container name for an environment key.
func EnvName(key string) string { return EnvNamePrefix + key }

// BaseImage maps a testbed environment spec like "python 3.9" to a docker
// image. RESQ_BASE_IMAGE overrides the derivation for every task.
func BaseImage(environment string) string {
	if img := os.Getenv("RESQ_BASE_IMAGE"); img != "" {
		return img
	}
	version := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(environment), "python"))
	if version == "" {
		version = "3.9"
	}
	return fmt.Sprintf("python:%s-slim", version)
}

// EnsureNetwork creates or retrieves the sandbox bridge network runtime
// containers attach to.
func (p *Provisioner) EnsureNetwork(ctx context.Context) error {
	networks, err := p.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return fmt.Errorf("list networks: %w", err)
	}
	for _, n := range networks {
		if n.Name == sandboxNetworkName {
			p.networkID = n.ID
			return nil
		}
	}

	resp, err := p.cli.NetworkCreate(ctx, sandboxNetworkName, network.CreateOptions{
		Driver: "bridge",
	})
	if err != nil {
		return fmt.Errorf("create sandbox network: %w", err)
	}
	p.networkID = resp.ID
	return nil
}

// Provision returns a runtime satisfying the task's dependency spec,
// building it on first use. A build failure is remembered and reported to
// later callers of the same key without retrying.
func (p *Provisioner) Provision(ctx context.Context, task model.TaskRecord) (*Runtime, error) {
	key := EnvKey(task)

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.Lock()
		if err, ok := p.failed[key]; ok {
			p.mu.Unlock()
			return nil, err
		}
		if rt, ok := p.runtimes[key]; ok {
			p.mu.Unlock()
			if p.isRunning(ctx, rt.ContainerID) {
				return rt, nil
			}
			p.mu.Lock()
			delete(p.runtimes, key)
		}
		p.mu.Unlock()

		rt, err := p.build(ctx, key, task)
		p.mu.Lock()
		defer p.mu.Unlock()
		if err != nil {
			perr := &model.ProvisioningError{Key: key, Output: diagnosticOf(err), Err: err}
			p.failed[key] = perr
			return nil, perr
		}
		p.runtimes[key] = rt
		return rt, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Runtime), nil
}

func (p *Provisioner) isRunning(ctx context.Context, containerID string) bool {
	inspect, err := p.cli.ContainerInspect(ctx, containerID)
	return err == nil && inspect.State != nil && inspect.State.Running
}

func (p *Provisioner) build(ctx context.Context, key string, task model.TaskRecord) (*Runtime, error) {
	name := EnvName(key)

	// A prior process may have left a runtime behind: adopt it if the env
	// store knows the key and the container is still alive.
	if stored, err := p.store.Get(key); err == nil && stored != "" {
		if inspect, err := p.cli.ContainerInspect(ctx, stored); err == nil && inspect.State != nil && inspect.State.Running {
			logging.Log(fmt.Sprintf("Reusing runtime %s for key %s", stored, key), slog.LevelInfo)
			return &Runtime{Key: key, ContainerID: inspect.ID, ContainerName: stored, tempRoot: p.tempRoot}, nil
		}
	}

	imageName := BaseImage(task.TestbedEnvironment)
	if reader, err := p.cli.ImagePull(ctx, imageName, image.PullOptions{}); err != nil {
		logging.Log(fmt.Sprintf("Image pull for %s failed: %v. Provisioning may fail if the image is absent.", imageName, err), slog.LevelWarn)
	} else {
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	memoryMBStr := os.Getenv("CONTAINER_MEMORY_MB")
	if memoryMBStr == "" {
		memoryMBStr = "1024"
	}
	memoryMB, _ := strconv.ParseInt(memoryMBStr, 10, 64)

	cpuLimitStr := os.Getenv("CONTAINER_CPU_LIMIT")
	if cpuLimitStr == "" {
		cpuLimitStr = "1.0"
	}
	cpuLimit, _ := strconv.ParseFloat(cpuLimitStr, 64)

	endpoints := map[string]*network.EndpointSettings{}
	if p.networkID != "" {
		endpoints[sandboxNetworkName] = &network.EndpointSettings{NetworkID: p.networkID}
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      imageName,
		Cmd:        []string{"sleep", "infinity"},
		Tty:        false,
		WorkingDir: WorkspaceMount,
	}, &container.HostConfig{
		Binds: []string{p.tempRoot + ":" + WorkspaceMount},
		Resources: container.Resources{
			Memory:   memoryMB * 1024 * 1024,
			NanoCPUs: int64(cpuLimit * math.Pow10(9)),
		},
		ExtraHosts: []string{
			"host.docker.internal:127.0.0.1",
			"gateway.docker.internal:127.0.0.1",
		},
	}, &network.NetworkingConfig{
		EndpointsConfig: endpoints,
	}, nil, name)
	if err != nil {
		// A concurrent process may have won the name. Adopt its container
		// if it is already up.
		if inspect, inspectErr := p.cli.ContainerInspect(ctx, name); inspectErr == nil && inspect.State != nil && inspect.State.Running {
			return &Runtime{Key: key, ContainerID: inspect.ID, ContainerName: name, tempRoot: p.tempRoot}, nil
		}
		return nil, fmt.Errorf("create container %s: %w", name, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start container %s: %w", name, err)
	}

	if strings.TrimSpace(task.RequirementsTxt) != "" {
		if err := p.installRequirements(ctx, resp.ID, task.RequirementsTxt); err != nil {
			p.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
			return nil, err
		}
	}

	if p.persist {
		if err := p.store.Add(key, name); err != nil {
			logging.Log(fmt.Sprintf("Failed to persist env store entry for %s: %v", key, err), slog.LevelWarn)
		}
	}

	logging.Log(fmt.Sprintf("Provisioned runtime %s (image %s)", name, imageName), slog.LevelInfo)
	return &Runtime{Key: key, ContainerID: resp.ID, ContainerName: name, tempRoot: p.tempRoot}, nil
}

func (p *Provisioner) installRequirements(ctx context.Context, containerID, requirements string) error {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	data := []byte(requirements)
	if err := tw.WriteHeader(&tar.Header{
		Name: "requirements.txt",
		Mode: 0o644,
		Size: int64(len(data)),
	}); err != nil {
		return fmt.Errorf("write requirements tar header: %w", err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write requirements tar: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close requirements tar: %w", err)
	}

	if err := p.cli.CopyToContainer(ctx, containerID, "/", &buf, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("copy requirements to container: %w", err)
	}

	exitCode, _, stderr, err := ExecCapture(ctx, p.cli, containerID, container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"pip", "install", "--no-input", "-r", "/requirements.txt"},
	})
	if err != nil {
		return fmt.Errorf("pip install: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("pip install exited %d: %s", exitCode, stderr)
	}
	return nil
}

// Teardown removes every runtime built by this process. Only called when
// persistence is disabled; persisted runtimes are left for the cleanup
// command.
func (p *Provisioner) Teardown(ctx context.Context) {
	if p.persist {
		return
	}
	p.mu.Lock()
	runtimes := make([]*Runtime, 0, len(p.runtimes))
	for _, rt := range p.runtimes {
		runtimes = append(runtimes, rt)
	}
	p.runtimes = make(map[string]*Runtime)
	p.mu.Unlock()

	for _, rt := range runtimes {
		removeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := p.cli.ContainerRemove(removeCtx, rt.ContainerID, container.RemoveOptions{Force: true}); err != nil {
			logging.Log(fmt.Sprintf("Failed to remove runtime %s: %v", rt.ContainerName, err), slog.LevelWarn)
		}
		cancel()
	}
}

// ExecCapture runs a command in a container, demuxing and capturing its
// output, and returns the exec's exit code.
func ExecCapture(ctx context.Context, cli *client.Client, containerID string, opts container.ExecOptions) (int, string, string, error) {
	opts.AttachStdout = true
	opts.AttachStderr = true

	execCreate, err := cli.ContainerExecCreate(ctx, containerID, opts)
	if err != nil {
		return -1, "", "", fmt.Errorf("create exec: %w", err)
	}
	attach, err := cli.ContainerExecAttach(ctx, execCreate.ID, container.ExecStartOptions{})
	if err != nil {
		return -1, "", "", fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return -1, stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			return -1, stdout.String(), stderr.String(), fmt.Errorf("read exec output: %w", err)
		}
	}

	inspect, err := cli.ContainerExecInspect(ctx, execCreate.ID)
	if err != nil {
		return -1, stdout.String(), stderr.String(), fmt.Errorf("inspect exec: %w", err)
	}
	return inspect.ExitCode, stdout.String(), stderr.String(), nil
}

func diagnosticOf(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
