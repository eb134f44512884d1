//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

// Package container provides a CodeExecutor that runs workflow code
// nodes inside a disposable Docker container. The container runs
// without network access and is removed when the executor closes.
package container

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	archive "github.com/moby/go-archive"

	"trpc.group/trpc-go/trpc-workflow-go/codeexecutor"
	"trpc.group/trpc-go/trpc-workflow-go/log"
)

const (
	defaultImage        = "trpc-workflow-go-sandbox:latest"
	defaultWorkingDir   = "/workspace"
	defaultBlockTimeout = 30 * time.Second
	readyTimeout        = 60 * time.Second
	containerNamePrefix = "trpc.go.workflow-sandbox-"
)

// CodeExecutor runs code blocks inside a long-lived sandbox container.
// One container serves all executions of the workflow it belongs to.
type CodeExecutor struct {
	host          string
	image         string
	dockerfileDir string
	containerName string
	timeout       time.Duration

	client      *client.Client
	containerID string
}

// Option configures the sandbox.
type Option func(*CodeExecutor)

// WithHost sets the Docker daemon address. Defaults to the environment.
func WithHost(host string) Option {
	return func(c *CodeExecutor) { c.host = host }
}

// WithImage sets the sandbox image. It is pulled when missing locally.
func WithImage(img string) Option {
	return func(c *CodeExecutor) { c.image = img }
}

// WithDockerfileDir builds the sandbox image from the Dockerfile in the
// given directory instead of pulling one.
func WithDockerfileDir(dir string) Option {
	return func(c *CodeExecutor) { c.dockerfileDir = dir }
}

// WithContainerName overrides the generated container name.
func WithContainerName(name string) Option {
	return func(c *CodeExecutor) { c.containerName = name }
}

// WithTimeout sets the per-block execution timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *CodeExecutor) { c.timeout = timeout }
}

// New creates the sandbox: it ensures the image, starts the container
// and verifies the language runtimes. Callers own Close.
func New(opts ...Option) (*CodeExecutor, error) {
	c := &CodeExecutor{
		image:   defaultImage,
		timeout: defaultBlockTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.image == "" && c.dockerfileDir == "" {
		return nil, fmt.Errorf("container executor needs an image or a dockerfile directory")
	}
	if c.dockerfileDir != "" {
		abs, err := filepath.Abs(c.dockerfileDir)
		if err != nil {
			return nil, fmt.Errorf("resolve dockerfile directory: %w", err)
		}
		c.dockerfileDir = abs
	}
	if c.containerName == "" {
		c.containerName = newContainerName()
	}

	var err error
	if c.host != "" {
		c.client, err = client.NewClientWithOpts(client.WithHost(c.host), client.WithAPIVersionNegotiation())
	} else {
		c.client, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	}
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	if err := c.start(context.Background()); err != nil {
		return nil, err
	}
	return c, nil
}

// ExecuteCode runs every block in the sandbox and folds stdout and
// stderr into one transcript. A failing block is reported in the
// transcript and does not abort the remaining blocks.
func (c *CodeExecutor) ExecuteCode(ctx context.Context, input codeexecutor.CodeExecutionInput) (codeexecutor.CodeExecutionResult, error) {
	if c.containerID == "" {
		return codeexecutor.CodeExecutionResult{}, fmt.Errorf("sandbox container not running")
	}

	var transcript strings.Builder
	for i, block := range input.CodeBlocks {
		out, err := c.runBlock(ctx, block)
		if err != nil {
			transcript.WriteString(fmt.Sprintf("Error executing code block %d: %v\n", i, err))
			continue
		}
		transcript.WriteString(out)
	}
	return codeexecutor.CodeExecutionResult{
		Output:      transcript.String(),
		OutputFiles: []codeexecutor.File{},
	}, nil
}

// CodeBlockDelimiter implements the CodeExecutor interface.
func (c *CodeExecutor) CodeBlockDelimiter() codeexecutor.CodeBlockDelimiter {
	return codeexecutor.CodeBlockDelimiter{Start: "```", End: "```"}
}

// runBlock executes a single block with the per-block timeout and
// reports a non-zero exit as an error carrying the captured stderr.
func (c *CodeExecutor) runBlock(ctx context.Context, block codeexecutor.CodeBlock) (string, error) {
	cmd, err := blockCommand(block.Language, block.Code)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	execResp, err := c.client.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   defaultWorkingDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("create exec: %w", err)
	}
	hijacked, err := c.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return "", fmt.Errorf("attach exec: %w", err)
	}
	defer hijacked.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, hijacked.Reader); err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}

	inspect, err := c.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", fmt.Errorf("inspect exec: %w", err)
	}
	if inspect.ExitCode != 0 {
		return "", fmt.Errorf("exit code %d: %s", inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}

	out := stdout.String()
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += stderr.String()
	}
	return out, nil
}

// blockCommand maps a block language onto the sandbox invocation. The
// language set mirrors the local executor.
func blockCommand(language, code string) ([]string, error) {
	switch strings.ToLower(language) {
	case "python", "py", "python3", "":
		return []string{"python3", "-c", code}, nil
	case "bash", "sh":
		return []string{"/bin/bash", "-c", code}, nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
}

// start brings the sandbox up: build or pull the image, create and
// start the container, wait for it, verify the runtimes.
func (c *CodeExecutor) start(ctx context.Context) error {
	if c.dockerfileDir != "" {
		if err := c.buildImage(ctx); err != nil {
			return err
		}
	} else if err := c.ensureImage(ctx); err != nil {
		return err
	}

	resp, err := c.client.ContainerCreate(ctx,
		&container.Config{
			Image:      c.image,
			WorkingDir: defaultWorkingDir,
			// Keeps the container alive between exec rounds.
			Cmd:       []string{"tail", "-f", "/dev/null"},
			Tty:       true,
			OpenStdin: true,
		},
		&container.HostConfig{
			AutoRemove:  true,
			Privileged:  false,
			NetworkMode: "none",
		},
		nil, nil, c.containerName)
	if err != nil {
		return fmt.Errorf("create sandbox container: %w", err)
	}
	if err := c.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start sandbox container: %w", err)
	}
	if err := c.waitReady(ctx, resp.ID); err != nil {
		return fmt.Errorf("sandbox container %s not ready: %w", resp.ID, err)
	}
	c.containerID = resp.ID
	log.Infof("sandbox container %s running", resp.ID)

	return c.verifyRuntimes(ctx)
}

// ensureImage pulls the sandbox image when it is missing locally.
func (c *CodeExecutor) ensureImage(ctx context.Context) error {
	images, err := c.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == c.image {
				return nil
			}
		}
	}

	log.Infof("pulling sandbox image %s", c.image)
	reader, err := c.client.ImagePull(ctx, c.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", c.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("read pull output: %w", err)
	}
	return nil
}

// buildImage builds the sandbox image from the configured directory.
func (c *CodeExecutor) buildImage(ctx context.Context) error {
	buildContext, err := archive.TarWithOptions(c.dockerfileDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := c.client.ImageBuild(ctx, buildContext, build.ImageBuildOptions{
		Tags:   []string{c.image},
		Remove: true,
	})
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		log.Warnf("read build output: %v", err)
	}
	return nil
}

// verifyRuntimes checks that the interpreters the code node targets
// exist inside the image.
func (c *CodeExecutor) verifyRuntimes(ctx context.Context) error {
	for _, runtime := range []string{"python3", "bash"} {
		execResp, err := c.client.ContainerExecCreate(ctx, c.containerID, container.ExecOptions{
			Cmd:          []string{"which", runtime},
			AttachStdout: true,
			AttachStderr: true,
		})
		if err != nil {
			return fmt.Errorf("verify %s: %w", runtime, err)
		}
		hijacked, err := c.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
		if err != nil {
			return fmt.Errorf("verify %s: %w", runtime, err)
		}
		hijacked.Close()
		inspect, err := c.client.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return fmt.Errorf("verify %s: %w", runtime, err)
		}
		if inspect.ExitCode != 0 {
			return fmt.Errorf("%s is not installed in sandbox image %s", runtime, c.image)
		}
	}
	return nil
}

func (c *CodeExecutor) waitReady(ctx context.Context, containerID string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(readyTimeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout after %v", readyTimeout)
		case <-ticker.C:
			info, err := c.client.ContainerInspect(ctx, containerID)
			if err != nil {
				return fmt.Errorf("inspect container: %w", err)
			}
			if info.State.Running {
				return nil
			}
			if info.State.Status == "exited" {
				return fmt.Errorf("container exited with code %d", info.State.ExitCode)
			}
		}
	}
}

// Close stops and removes the sandbox container.
func (c *CodeExecutor) Close() error {
	if c.client == nil {
		return nil
	}
	if c.containerID != "" {
		ctx := context.Background()
		if err := c.client.ContainerStop(ctx, c.containerID, container.StopOptions{}); err != nil {
			log.Warnf("stop sandbox container: %v", err)
		}
		if err := c.client.ContainerRemove(ctx, c.containerID, container.RemoveOptions{}); err != nil {
			log.Warnf("remove sandbox container: %v", err)
		}
		c.containerID = ""
	}
	return c.client.Close()
}

func newContainerName() string {
	return containerNamePrefix + uuid.New().String()
}
