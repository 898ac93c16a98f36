package identity

import (
	"context"
	"errors"

	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_resolver.go -package=mocks . Resolver

var ErrUnknownIdentity = errors.New("unknown identity")

// Identity is a concrete reviewer known to the resolver.
type Identity struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name,omitempty" yaml:"name"`
	Roles    []string `json:"roles,omitempty" yaml:"roles"`
	External bool     `json:"external,omitempty" yaml:"external"`
}

// Resolver maps reviewer ids to identities and assignee specs to the
// identities that fill them.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Identity, error)
	Expand(ctx context.Context, assignees []workflow.Assignee) ([]string, error)
}
