// Package compose extracts service information from compose files.
package compose

import (
	"context"
	"fmt"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"

	"github.com/bcnelson/stack-executor/internal/domain"
)

// ParseServices loads files as one compose project and returns its services,
// ordered by service name. Services without an explicit container_name get
// the name compose would assign to their first replica.
func ParseServices(ctx context.Context, projectName string, files []domain.FileContents) ([]domain.StackServiceNames, error) {
	if len(files) == 0 {
		return nil, nil
	}

	configFiles := make([]types.ConfigFile, 0, len(files))
	for _, f := range files {
		configFiles = append(configFiles, types.ConfigFile{
			Filename: f.Path,
			Content:  []byte(f.Contents),
		})
	}

	project, err := loader.LoadWithContext(
		ctx,
		types.ConfigDetails{
			ConfigFiles: configFiles,
			WorkingDir:  "/tmp",
		},
		loader.WithSkipValidation,
		func(o *loader.Options) {
			o.SetProjectName(projectName, true)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compose files: %w", err)
	}

	services := make([]domain.StackServiceNames, 0, len(project.Services))
	for name, svc := range project.Services {
		container := svc.ContainerName
		if container == "" {
			container = fmt.Sprintf("%s-%s-1", projectName, name)
		}
		services = append(services, domain.StackServiceNames{
			ServiceName:   name,
			ContainerName: container,
			Image:         svc.Image,
		})
	}
	sort.Slice(services, func(i, j int) bool { return services[i].ServiceName < services[j].ServiceName })
	return services, nil
}
