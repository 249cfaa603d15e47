// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashzak/nim-audit/services/audit/snapshot"
)

// dockerInspect mirrors the fields of `docker inspect` output the
// snapshot needs.
type dockerInspect struct {
	ID           string `json:"Id"`
	Created      string `json:"Created"`
	Architecture string `json:"Architecture"`
	OS           string `json:"Os"`
	Config       struct {
		User         string              `json:"User"`
		Env          []string            `json:"Env"`
		Cmd          []string            `json:"Cmd"`
		Entrypoint   []string            `json:"Entrypoint"`
		WorkingDir   string              `json:"WorkingDir"`
		Labels       map[string]string   `json:"Labels"`
		ExposedPorts map[string]struct{} `json:"ExposedPorts"`
	} `json:"Config"`
	RootFS struct {
		Layers []string `json:"Layers"`
	} `json:"RootFS"`
}

// DockerExtractor inspects images via the local Docker daemon. It
// shells out to the docker CLI rather than linking the daemon API, so
// it works wherever the operator's docker binary does.
type DockerExtractor struct {
	// Binary overrides the docker executable path for tests.
	Binary string
}

// Name implements Extractor.
func (d *DockerExtractor) Name() string { return "docker" }

// CanExtract accepts anything that looks like an image reference
// rather than a path on disk.
func (d *DockerExtractor) CanExtract(ref string) bool {
	return !strings.HasSuffix(ref, ".json") && !strings.HasPrefix(ref, "./") && !strings.HasPrefix(ref, "/")
}

// Extract runs docker inspect and converts the result.
func (d *DockerExtractor) Extract(ctx context.Context, ref string) (*snapshot.Snapshot, error) {
	binary := d.Binary
	if binary == "" {
		binary = "docker"
	}

	out, err := exec.CommandContext(ctx, binary, "inspect", "--type", "image", ref).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && strings.Contains(strings.ToLower(string(exitErr.Stderr)), "no such") {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("docker inspect %s: %w", ref, err)
	}

	var inspected []dockerInspect
	if err := json.Unmarshal(out, &inspected); err != nil {
		return nil, fmt.Errorf("parse docker inspect output for %s: %w", ref, err)
	}
	if len(inspected) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return snapshotFromInspect(ref, inspected[0])
}

func snapshotFromInspect(ref string, in dockerInspect) (*snapshot.Snapshot, error) {
	parsed := ParseReference(ref)
	labels := in.Config.Labels

	metadata := map[string]any{
		"id":           in.ID,
		"repository":   parsed.Repository,
		"architecture": in.Architecture,
		"os":           in.OS,
	}
	if parsed.Tag != "" {
		metadata["tag"] = parsed.Tag
	}
	labelsAny := make(map[string]any, len(labels))
	for k, v := range labels {
		labelsAny[k] = v
	}
	metadata["labels"] = labelsAny
	for key, label := range map[string]string{
		"nim_version":   "com.nvidia.nim.version",
		"model_name":    "com.nvidia.nim.model.name",
		"model_version": "com.nvidia.nim.model.version",
		"quantization":  "com.nvidia.nim.model.quantization",
	} {
		if v, ok := labels[label]; ok {
			metadata[key] = v
		}
	}

	environment := make(map[string]string, len(in.Config.Env))
	for _, item := range in.Config.Env {
		if k, v, ok := strings.Cut(item, "="); ok {
			environment[k] = v
		}
	}

	api := map[string]any{
		"entrypoint": stringsToAny(in.Config.Entrypoint),
		"cmd":        stringsToAny(in.Config.Cmd),
		"config": map[string]any{
			"User":       in.Config.User,
			"WorkingDir": in.Config.WorkingDir,
		},
	}
	var ports []any
	for spec := range in.Config.ExposedPorts {
		numeric, _, _ := strings.Cut(spec, "/")
		if n, err := strconv.Atoi(numeric); err == nil {
			ports = append(ports, float64(n))
		}
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].(float64) < ports[j].(float64) })
	api["ports"] = ports

	resources := map[string]any{}
	for key, label := range map[string]string{
		"compute_capability_min": "com.nvidia.nim.gpu.compute_capability",
		"driver_version_min":     "com.nvidia.nim.driver.version",
	} {
		if v, ok := labels[label]; ok {
			resources[key] = v
		}
	}
	if v, ok := labels["com.nvidia.nim.gpu.memory_gb"]; ok {
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			resources["min_gpu_memory_gb"] = n
		}
	}
	if v, ok := labels["com.nvidia.nim.gpu.supported"]; ok {
		var models []any
		for _, m := range strings.Split(v, ",") {
			if s := strings.TrimSpace(m); s != "" {
				models = append(models, s)
			}
		}
		if len(models) > 0 {
			resources["supported_gpu_models"] = models
		}
	}

	snap := &snapshot.Snapshot{
		Reference:   ref,
		Metadata:    metadata,
		Environment: environment,
		API:         api,
		Resources:   resources,
		Layers:      in.RootFS.Layers,
	}
	if created, err := time.Parse(time.RFC3339Nano, in.Created); err == nil {
		snap.Created = created
	}
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
