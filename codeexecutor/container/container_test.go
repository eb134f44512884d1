//
// Tencent is pleased to support the open source community by making trpc-workflow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-workflow-go is licensed under the Apache License Version 2.0.
//
//

package container

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	archive "github.com/moby/go-archive"
)

func TestNewRequiresImageOrDockerfile(t *testing.T) {
	_, err := New(WithImage(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image or a dockerfile")
}

func TestBlockCommand(t *testing.T) {
	tests := []struct {
		language string
		want     string
	}{
		{language: "python", want: "python3"},
		{language: "py", want: "python3"},
		{language: "python3", want: "python3"},
		{language: "Python", want: "python3"},
		{language: "", want: "python3"},
		{language: "bash", want: "/bin/bash"},
		{language: "sh", want: "/bin/bash"},
	}
	for _, tt := range tests {
		cmd, err := blockCommand(tt.language, "print('ok')")
		require.NoError(t, err, "language %q", tt.language)
		require.Len(t, cmd, 3)
		assert.Equal(t, tt.want, cmd[0])
		assert.Equal(t, "print('ok')", cmd[2])
	}

	_, err := blockCommand("ruby", "puts 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported language")
}

func TestCodeBlockDelimiter(t *testing.T) {
	c := &CodeExecutor{}
	delim := c.CodeBlockDelimiter()
	assert.Equal(t, "```", delim.Start)
	assert.Equal(t, "```", delim.End)
}

func TestOptions(t *testing.T) {
	c := &CodeExecutor{}
	WithHost("tcp://127.0.0.1:2375")(c)
	WithImage("python:3.11-slim")(c)
	WithDockerfileDir("./sandbox")(c)
	WithContainerName("sandbox-test")(c)
	WithTimeout(5 * time.Second)(c)

	assert.Equal(t, "tcp://127.0.0.1:2375", c.host)
	assert.Equal(t, "python:3.11-slim", c.image)
	assert.Equal(t, "./sandbox", c.dockerfileDir)
	assert.Equal(t, "sandbox-test", c.containerName)
	assert.Equal(t, 5*time.Second, c.timeout)
}

func TestNewContainerName(t *testing.T) {
	first := newContainerName()
	second := newContainerName()
	assert.True(t, strings.HasPrefix(first, containerNamePrefix))
	assert.NotEqual(t, first, second)
}

func TestBuildContextContainsDockerfile(t *testing.T) {
	dir := t.TempDir()
	dockerfile := "FROM python:3.11-slim\nRUN pip install --no-cache-dir requests\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644))

	buildContext, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	require.NoError(t, err)
	defer buildContext.Close()

	found := false
	tr := tar.NewReader(buildContext)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if hdr.Name == "Dockerfile" {
			found = true
		}
	}
	assert.True(t, found, "build context should carry the Dockerfile")
}
