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
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"

	"resqenv/src/logging"
)

// ListEnvContainers returns the ids and names of all runtime containers
// matching the environment naming pattern, running or not.
func ListEnvContainers(ctx context.Context, cli *client.Client) (map[string]string, error) {
	summaries, err := cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", EnvNamePrefix)),
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	found := make(map[string]string, len(summaries))
	for _, s := range summaries {
		for _, name := range s.Names {
			name = strings.TrimPrefix(name, "/")
			if strings.HasPrefix(name, EnvNamePrefix) {
				found[s.ID] = name
				break
			}
		}
	}
	return found, nil
}

// RemoveEnvContainers force-removes every container matching the environment
// naming pattern and returns how many were removed.
func RemoveEnvContainers(ctx context.Context, cli *client.Client) (int, error) {
	found, err := ListEnvContainers(ctx, cli)
	if err != nil {
		return 0, err
	}

	removed := 0
	for id, name := range found {
		if err := cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
			logging.Log(fmt.Sprintf("Failed to remove %s: %v", name, err), slog.LevelWarn)
			continue
		}
		logging.Log(fmt.Sprintf("Removed runtime container %s", name), slog.LevelInfo)
		removed++
	}
	return removed, nil
}
