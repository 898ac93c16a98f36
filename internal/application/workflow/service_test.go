package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
	workflowMocks "github.com/execution-hub/content-approval/internal/domain/workflow/mocks"
)

func validDefinition() workflow.Workflow {
	return workflow.Workflow{
		Name: "social review",
		Steps: []workflow.Step{{
			Name:      "Review",
			Kind:      workflow.KindReview,
			Order:     1,
			Assignees: []workflow.Assignee{{Type: workflow.AssigneeUser, ID: "alice"}},
		}},
	}
}

func TestService_CreateDefinition(t *testing.T) {
	t.Run("new workflow starts at version 1", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := workflowMocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		repo.EXPECT().
			Create(ctx, gomock.Any()).
			DoAndReturn(func(_ context.Context, wf *workflow.Workflow) error {
				assert.NotEqual(t, uuid.Nil, wf.WorkflowID)
				assert.Equal(t, 1, wf.Version)
				assert.Equal(t, "step-1", wf.Steps[0].ID)
				assert.True(t, wf.Steps[0].Assignees[0].CanApprove)
				return nil
			})

		def, err := svc.CreateDefinition(ctx, validDefinition(), nil)

		require.NoError(t, err)
		assert.Equal(t, 1, def.Version)
		assert.False(t, def.CreatedAt.IsZero())
	})

	t.Run("existing workflow gets next version", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := workflowMocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()
		id := uuid.New()

		repo.EXPECT().GetLatest(ctx, id).Return(&workflow.Workflow{WorkflowID: id, Version: 3, OrganizationID: "acme"}, nil).Times(2)
		repo.EXPECT().Create(ctx, gomock.Any()).Return(nil)

		def, err := svc.UpdateDefinition(ctx, id, validDefinition(), nil)

		require.NoError(t, err)
		assert.Equal(t, id, def.WorkflowID)
		assert.Equal(t, 4, def.Version)
		assert.Equal(t, "acme", def.OrganizationID)
	})

	t.Run("invalid definition is rejected before storage", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := workflowMocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())

		def := validDefinition()
		def.Steps = nil
		_, err := svc.CreateDefinition(context.Background(), def, nil)

		assert.ErrorIs(t, err, workflow.ErrInvalidWorkflow)
	})

	t.Run("version race surfaces as conflict", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := workflowMocks.NewMockRepository(ctrl)
		svc := NewService(repo, zerolog.Nop())
		ctx := context.Background()

		repo.EXPECT().Create(ctx, gomock.Any()).Return(workflow.ErrVersionExists)

		_, err := svc.CreateDefinition(ctx, validDefinition(), nil)

		assert.ErrorIs(t, err, workflow.ErrVersionExists)
	})
}

func TestService_GetDefinition(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := workflowMocks.NewMockRepository(ctrl)
	svc := NewService(repo, zerolog.Nop())
	ctx := context.Background()
	id := uuid.New()

	repo.EXPECT().GetLatest(ctx, id).Return(nil, nil)
	_, err := svc.GetDefinition(ctx, id)
	assert.ErrorIs(t, err, workflow.ErrWorkflowNotFound)

	repo.EXPECT().GetVersion(ctx, id, 2).Return(nil, errors.New("connection reset"))
	_, err = svc.GetVersion(ctx, id, 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrWorkflowNotFound)
}
