package workflow

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// SeedFile is the layout of a workflow seed document.
type SeedFile struct {
	Workflows []workflow.Workflow `yaml:"workflows"`
}

var seedActor = "system:seed"

// SeedFromFile loads workflows from a YAML file. See Seed.
func (s *Service) SeedFromFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read workflow seed: %w", err)
	}
	return s.Seed(ctx, data)
}

// Seed registers every workflow in a YAML document whose id is not
// already known. Seeded definitions are active. Entries without an id
// always create a new workflow, so seed files should pin ids.
func (s *Service) Seed(ctx context.Context, data []byte) (int, error) {
	var f SeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, fmt.Errorf("failed to parse workflow seed: %w", err)
	}

	created := 0
	for i, def := range f.Workflows {
		if def.WorkflowID != uuid.Nil {
			existing, err := s.repo.GetLatest(ctx, def.WorkflowID)
			if err != nil {
				return created, fmt.Errorf("failed to get workflow: %w", err)
			}
			if existing != nil {
				continue
			}
		}
		def.Active = true
		if _, err := s.CreateDefinition(ctx, def, &seedActor); err != nil {
			return created, fmt.Errorf("seed workflow %d (%s): %w", i, def.Name, err)
		}
		created++
	}
	s.logger.Info().Int("created", created).Int("total", len(f.Workflows)).Msg("workflow seed applied")
	return created, nil
}
