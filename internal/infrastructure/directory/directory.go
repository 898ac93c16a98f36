package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/execution-hub/content-approval/internal/domain/identity"
	"github.com/execution-hub/content-approval/internal/domain/workflow"
)

// File is the on-disk layout of an identity file.
//
//	identities:
//	  - id: alice
//	    roles: [legal]
//	  - id: agency-1
//	    external: true
type File struct {
	Identities []identity.Identity `yaml:"identities"`
}

// Static is an in-memory identity.Resolver loaded from YAML.
type Static struct {
	mu      sync.RWMutex
	byID    map[string]*identity.Identity
	members map[string][]string
}

// New builds a directory from a list of identities.
func New(ids []identity.Identity) *Static {
	s := &Static{}
	s.load(ids)
	return s
}

// LoadFile reads a YAML identity file. An empty path yields an empty
// directory in which every reviewer is unknown.
func LoadFile(path string) (*Static, error) {
	if path == "" {
		return New(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML identity document.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	for i, id := range f.Identities {
		if strings.TrimSpace(id.ID) == "" {
			return nil, fmt.Errorf("identity %d: id is required", i)
		}
	}
	return New(f.Identities), nil
}

func (s *Static) load(ids []identity.Identity) {
	byID := make(map[string]*identity.Identity, len(ids))
	members := map[string][]string{}
	for i := range ids {
		id := ids[i]
		byID[id.ID] = &id
		for _, role := range id.Roles {
			members[role] = append(members[role], id.ID)
		}
	}
	for role := range members {
		sort.Strings(members[role])
	}
	s.mu.Lock()
	s.byID, s.members = byID, members
	s.mu.Unlock()
}

// Resolve returns a copy of the identity registered under id.
func (s *Static) Resolve(_ context.Context, id string) (*identity.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	found, ok := s.byID[id]
	if !ok {
		return nil, identity.ErrUnknownIdentity
	}
	out := *found
	out.Roles = append([]string(nil), found.Roles...)
	return &out, nil
}

// Expand turns assignees into concrete ids. Users and external parties
// stand for themselves; roles expand to their members.
func (s *Static) Expand(_ context.Context, assignees []workflow.Assignee) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, a := range assignees {
		switch a.Type {
		case workflow.AssigneeRole:
			for _, m := range s.members[a.ID] {
				add(m)
			}
		default:
			add(a.ID)
		}
	}
	return out, nil
}
