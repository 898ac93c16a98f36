package escalation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/execution-hub/content-approval/internal/application/escalation/mocks"
	"github.com/execution-hub/content-approval/internal/domain/approval"
	approvalMocks "github.com/execution-hub/content-approval/internal/domain/approval/mocks"
)

func TestScheduler_ProcessTimeouts(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	t.Run("fires each due request", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := approvalMocks.NewMockRepository(ctrl)
		handler := mocks.NewMockTimeoutHandler(ctrl)
		s := NewScheduler(repo, handler, Config{Concurrency: 2}, zerolog.Nop())
		s.now = func() time.Time { return now }

		a, b, c := uuid.New(), uuid.New(), uuid.New()
		repo.EXPECT().ListTimedOut(gomock.Any(), now, 10).Return([]*approval.Request{
			{RequestID: a}, {RequestID: b}, {RequestID: c},
		}, nil)
		handler.EXPECT().HandleTimeout(gomock.Any(), a).Return(true, nil)
		handler.EXPECT().HandleTimeout(gomock.Any(), b).Return(false, nil)
		handler.EXPECT().HandleTimeout(gomock.Any(), c).Return(false, errors.New("db down"))

		n, err := s.ProcessTimeouts(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("uses configured limit", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := approvalMocks.NewMockRepository(ctrl)
		s := NewScheduler(repo, mocks.NewMockTimeoutHandler(ctrl), Config{Limit: 25}, zerolog.Nop())
		s.now = func() time.Time { return now }

		repo.EXPECT().ListTimedOut(gomock.Any(), now, 25).Return(nil, nil)

		n, err := s.ProcessTimeouts(context.Background(), 0)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("list failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := approvalMocks.NewMockRepository(ctrl)
		s := NewScheduler(repo, mocks.NewMockTimeoutHandler(ctrl), Config{}, zerolog.Nop())

		repo.EXPECT().ListTimedOut(gomock.Any(), gomock.Any(), 100).Return(nil, errors.New("timeout"))

		_, err := s.ProcessTimeouts(context.Background(), 0)
		assert.Error(t, err)
	})
}

func TestScheduler_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := approvalMocks.NewMockRepository(ctrl)
	s := NewScheduler(repo, mocks.NewMockTimeoutHandler(ctrl), Config{Interval: 5 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	swept := make(chan struct{}, 1)
	repo.EXPECT().ListTimedOut(gomock.Any(), gomock.Any(), 100).DoAndReturn(
		func(context.Context, time.Time, int) ([]*approval.Request, error) {
			select {
			case swept <- struct{}{}:
			default:
			}
			return nil, nil
		}).MinTimes(1)

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-swept:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not sweep")
	}
	cancel()
	<-done
}
