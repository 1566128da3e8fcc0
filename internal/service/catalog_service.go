package service

import (
	"fmt"

	"github.com/jobforge/scheduler/internal/catalog"
	"github.com/jobforge/scheduler/internal/models"
	"github.com/jobforge/scheduler/internal/resourcegroup"
)

// CatalogService is the business-logic layer the Control API's job
// handlers go through, adapted from the teacher's JobService: same
// create/get/list/update/delete shape, retargeted from a
// tenant-scoped HTTP-webhook job model onto the declarative
// trigger/command/step job model (spec.md §3) and backed by
// internal/catalog instead of a tenant-aware repository.
type CatalogService struct {
	store  *catalog.Store
	groups *resourcegroup.Table
}

// NewCatalogService builds a CatalogService.
func NewCatalogService(store *catalog.Store, groups *resourcegroup.Table) *CatalogService {
	return &CatalogService{store: store, groups: groups}
}

// Create publishes a brand-new job. The job's resource_group must
// already be declared in the resource group table.
func (s *CatalogService) Create(job *models.Job) error {
	if _, exists := s.store.Snapshot()[job.ID]; exists {
		return fmt.Errorf("catalog: job %q already exists", job.ID)
	}
	return s.store.Upsert(job, s.knownGroups())
}

// Update republishes an existing job definition.
func (s *CatalogService) Update(job *models.Job) error {
	if _, exists := s.store.Snapshot()[job.ID]; !exists {
		return fmt.Errorf("catalog: job %q not found", job.ID)
	}
	return s.store.Upsert(job, s.knownGroups())
}

// Delete removes a job from the catalog.
func (s *CatalogService) Delete(jobID string) error {
	if _, exists := s.store.Snapshot()[jobID]; !exists {
		return fmt.Errorf("catalog: job %q not found", jobID)
	}
	return s.store.Delete(jobID)
}

// Get returns one job by ID.
func (s *CatalogService) Get(jobID string) (*models.Job, error) {
	job, ok := s.store.Snapshot()[jobID]
	if !ok {
		return nil, fmt.Errorf("catalog: job %q not found", jobID)
	}
	return job, nil
}

// List returns every job currently published, in no particular order.
func (s *CatalogService) List() []*models.Job {
	snapshot := s.store.Snapshot()
	out := make([]*models.Job, 0, len(snapshot))
	for _, job := range snapshot {
		out = append(out, job)
	}
	return out
}

func (s *CatalogService) knownGroups() map[string]bool {
	out := make(map[string]bool)
	for _, summary := range s.groups.SummaryAll() {
		out[summary.Name] = true
	}
	return out
}
