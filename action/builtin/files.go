//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"trpc.group/trpc-go/trpc-copilot-go/action"
	"trpc.group/trpc-go/trpc-copilot-go/action/function"
)

type searchFilesRequest struct {
	Pattern    string `json:"pattern" description:"Glob pattern relative to the base directory, '**' matches across directories."`
	MaxResults *int   `json:"max_results,omitempty" description:"Cap on the number of returned paths."`
}

func (s *set) searchFiles(_ context.Context, req searchFilesRequest) (string, error) {
	if req.Pattern == "" {
		return "", fmt.Errorf("pattern is required")
	}
	if filepath.IsAbs(req.Pattern) || strings.Contains(req.Pattern, "..") {
		return "", fmt.Errorf("invalid pattern, absolute paths and '..' are not allowed: %s", req.Pattern)
	}
	if req.MaxResults != nil && *req.MaxResults <= 0 {
		return "", fmt.Errorf("max_results must be greater than 0, got %d", *req.MaxResults)
	}

	matches, err := doublestar.Glob(os.DirFS(s.baseDir), req.Pattern)
	if err != nil {
		return "", fmt.Errorf("searching files with pattern %q: %w", req.Pattern, err)
	}
	files := matches[:0]
	for _, match := range matches {
		if match == "" || match == "." || match == ".." {
			continue
		}
		files = append(files, match)
	}
	if len(files) == 0 {
		return fmt.Sprintf("no files matched pattern %q", req.Pattern), nil
	}
	if req.MaxResults != nil && len(files) > *req.MaxResults {
		files = files[:*req.MaxResults]
	}
	return strings.Join(files, "\n"), nil
}

func (s *set) searchFilesAction() *action.Action {
	return function.New("search_files", s.searchFiles,
		function.WithDescription("Searches for files under the base directory with a glob pattern "+
			"such as '**/*.go' and returns the matching paths, one per line. "+
			"Optional 'max_results' caps the list."),
	)
}

type readFileRequest struct {
	Path string `json:"path" description:"File path relative to the base directory."`
}

func (s *set) readFile(_ context.Context, req readFileRequest) (string, error) {
	path, err := s.resolvePath(req.Path)
	if err != nil {
		return "", err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("accessing file %q: %w", req.Path, err)
	}
	if stat.IsDir() {
		return "", fmt.Errorf("path %q is a directory, not a file", req.Path)
	}
	if stat.Size() > s.maxFileSize {
		return "", fmt.Errorf("file %q is %d bytes, over the %d byte limit", req.Path, stat.Size(), s.maxFileSize)
	}
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file %q: %w", req.Path, err)
	}
	return string(contents), nil
}

func (s *set) readFileAction() *action.Action {
	return function.New("read_file", s.readFile,
		function.WithDescription("Reads a file relative to the base directory and returns its contents. "+
			"Directories, path escapes, and files over the size limit are rejected."),
	)
}
