package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

// ProjectRepo implements store.ProjectRepository in memory, usually seeded
// from configuration.
type ProjectRepo struct {
	mu       sync.RWMutex
	projects map[string]capture.Project
}

// NewProjectRepo returns a repository containing seed.
func NewProjectRepo(seed ...capture.Project) *ProjectRepo {
	r := &ProjectRepo{projects: make(map[string]capture.Project, len(seed))}
	for _, p := range seed {
		r.projects[p.ID] = cloneProject(p)
	}
	return r
}

// FindProjectByID returns the project or store.ErrNotFound.
func (r *ProjectRepo) FindProjectByID(_ context.Context, projectID string) (capture.Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[projectID]
	if !ok {
		return capture.Project{}, fmt.Errorf("project %q: %w", projectID, store.ErrNotFound)
	}
	return cloneProject(p), nil
}

// UpsertProject stores project, replacing any previous definition.
func (r *ProjectRepo) UpsertProject(_ context.Context, project capture.Project) error {
	if project.ID == "" {
		return fmt.Errorf("project id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[project.ID] = cloneProject(project)
	return nil
}

func cloneProject(p capture.Project) capture.Project {
	p.Whitelist = slices.Clone(p.Whitelist)
	return p
}
