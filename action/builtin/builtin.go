//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package builtin ships optional server-side actions for demos and smoke
// tests: current time, file search, and bounded file reads rooted at a
// configured base directory.
package builtin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"trpc.group/trpc-go/trpc-copilot-go/action"
)

const (
	// defaultBaseDir roots file actions at the working directory.
	defaultBaseDir = "."
	// defaultMaxFileSize caps read_file payloads at 64 KiB.
	defaultMaxFileSize = 64 * 1024
)

// Option configures the builtin action set.
type Option func(*set)

// WithBaseDir roots the file actions at dir instead of the working
// directory.
func WithBaseDir(dir string) Option {
	return func(s *set) { s.baseDir = dir }
}

// WithMaxFileSize overrides the read_file size cap in bytes.
func WithMaxFileSize(n int64) Option {
	return func(s *set) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

type set struct {
	baseDir     string
	maxFileSize int64
}

// Actions builds the builtin action set. It fails when the base directory
// does not exist or is not a directory.
func Actions(opts ...Option) ([]*action.Action, error) {
	s := &set{
		baseDir:     defaultBaseDir,
		maxFileSize: defaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.baseDir = filepath.Clean(s.baseDir)
	stat, err := os.Stat(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("base directory %q does not exist: %w", s.baseDir, err)
	}
	if !stat.IsDir() {
		return nil, fmt.Errorf("base directory %q is not a directory", s.baseDir)
	}
	return []*action.Action{
		currentTimeAction(),
		s.searchFilesAction(),
		s.readFileAction(),
	}, nil
}

// resolvePath validates a relative path against directory traversal and
// joins it onto the base directory.
func (s *set) resolvePath(relativePath string) (string, error) {
	if relativePath == "" {
		return "", fmt.Errorf("path is required")
	}
	if filepath.IsAbs(relativePath) || strings.Contains(relativePath, "..") {
		return "", fmt.Errorf("invalid path, absolute paths and '..' are not allowed: %s", relativePath)
	}
	return filepath.Join(s.baseDir, relativePath), nil
}
