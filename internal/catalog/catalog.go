// Package catalog is the GORM/Postgres-backed job catalog: the
// persisted, reloadable source of truth the scheduler loop copies into a
// read-only snapshot on each catalog-sync tick (spec.md §4.5 step 1).
package catalog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/jobforge/scheduler/internal/models"
)

// JobRow is the GORM row backing a catalog entry. Trigger/Steps/Retry/
// Keywords/Notify/Environment/Command are stored as JSON columns rather
// than normalized tables, mirroring the teacher's JSONB-for-flexible-
// payload approach (its JobExecution.Headers/Payload columns).
type JobRow struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	Enabled       bool
	Priority      int
	ResourceGroup string
	Version       int64 `gorm:"autoIncrement:false"`

	TriggerJSON     json.RawMessage `gorm:"type:jsonb"`
	CommandJSON     json.RawMessage `gorm:"type:jsonb"`
	StepsJSON       json.RawMessage `gorm:"type:jsonb"`
	EnvironmentJSON json.RawMessage `gorm:"type:jsonb"`

	WorkingDirectory string
	TimeoutSeconds   int
	EmulatorJSON     json.RawMessage `gorm:"type:jsonb"`

	RetryJSON    json.RawMessage `gorm:"type:jsonb"`
	KeywordsJSON json.RawMessage `gorm:"type:jsonb"`
	NotifyJSON   json.RawMessage `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the GORM table name.
func (JobRow) TableName() string { return "jobs" }

// RunRow is the table schema for terminal models.Run rows. AutoMigrate
// creates the table, but nothing in this module writes to it: run history
// lives only in the in-memory store.Store's bounded rings.
type RunRow struct {
	RunID         int64 `gorm:"primaryKey;autoIncrement:false"`
	JobID         string `gorm:"index"`
	Origin        string
	Attempt       int
	ScheduledFor  time.Time
	EnqueuedAt    time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	ExitCode      *int
	Status        string
	Reason        string
	Priority      int
	ResourceGroup string
	KeywordsJSON  json.RawMessage `gorm:"type:jsonb"`
}

// TableName pins the GORM table name.
func (RunRow) TableName() string { return "runs" }

// Store persists the job catalog and publishes read-only snapshots that
// the scheduler loop swaps in atomically.
type Store struct {
	db *gorm.DB

	mu       sync.RWMutex
	snapshot map[string]*models.Job
	version  int64
}

// New builds a Store over db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, snapshot: make(map[string]*models.Job)}
}

// Load reads every row from Postgres and publishes it as the current
// snapshot. Call once at startup, and again whenever NewerVersionExists
// reports a newer version exists.
func (s *Store) Load() error {
	var rows []JobRow
	if err := s.db.Find(&rows).Error; err != nil {
		return errors.Wrap(err, "catalog: load rows")
	}

	next := make(map[string]*models.Job, len(rows))
	var maxVersion int64
	for _, row := range rows {
		job, err := rowToJob(row)
		if err != nil {
			return errors.Wrapf(err, "catalog: decode job %q", row.ID)
		}
		next[job.ID] = job
		if row.Version > maxVersion {
			maxVersion = row.Version
		}
	}

	s.mu.Lock()
	s.snapshot = next
	s.version = maxVersion
	s.mu.Unlock()
	return nil
}

// Snapshot returns the currently published catalog. Callers must treat
// the returned map and its *models.Job values as read-only; a still-live
// run keeps its own copy made at enqueue time (spec.md §4.5 step 1).
func (s *Store) Snapshot() map[string]*models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*models.Job, len(s.snapshot))
	for k, v := range s.snapshot {
		out[k] = v
	}
	return out
}

// Version reports the highest row version currently published.
func (s *Store) Version() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// NewerVersionExists checks the database for a row version beyond what is
// currently published, without loading the full catalog.
func (s *Store) NewerVersionExists() (bool, error) {
	var maxVersion int64
	if err := s.db.Model(&JobRow{}).Select("COALESCE(MAX(version), 0)").Scan(&maxVersion).Error; err != nil {
		return false, errors.Wrap(err, "catalog: query max version")
	}
	return maxVersion > s.Version(), nil
}

// Upsert validates and persists job, bumping its version, then refreshes
// the published snapshot.
func (s *Store) Upsert(job *models.Job, knownGroups map[string]bool) error {
	if err := job.Validate(knownGroups); err != nil {
		return err
	}
	row, err := jobToRow(job)
	if err != nil {
		return errors.Wrap(err, "catalog: encode job")
	}

	var current JobRow
	err = s.db.Where("id = ?", job.ID).First(&current).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		row.Version = 1
		row.CreatedAt = time.Now()
	case err != nil:
		return errors.Wrap(err, "catalog: lookup existing row")
	default:
		row.Version = current.Version + 1
		row.CreatedAt = current.CreatedAt
	}
	row.UpdatedAt = time.Now()

	if err := s.db.Save(&row).Error; err != nil {
		return errors.Wrap(err, "catalog: save row")
	}
	return s.Load()
}

// Delete removes jobID from the catalog and refreshes the snapshot.
func (s *Store) Delete(jobID string) error {
	if err := s.db.Where("id = ?", jobID).Delete(&JobRow{}).Error; err != nil {
		return errors.Wrap(err, "catalog: delete row")
	}
	return s.Load()
}

func jobToRow(job *models.Job) (JobRow, error) {
	trigger, err := json.Marshal(job.Trigger)
	if err != nil {
		return JobRow{}, err
	}
	command, err := json.Marshal(job.Command)
	if err != nil {
		return JobRow{}, err
	}
	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return JobRow{}, err
	}
	env, err := json.Marshal(job.Environment)
	if err != nil {
		return JobRow{}, err
	}
	emulator, err := json.Marshal(job.Emulator)
	if err != nil {
		return JobRow{}, err
	}
	retry, err := json.Marshal(job.Retry)
	if err != nil {
		return JobRow{}, err
	}
	keywords, err := json.Marshal(job.Keywords)
	if err != nil {
		return JobRow{}, err
	}
	notify, err := json.Marshal(job.Notify)
	if err != nil {
		return JobRow{}, err
	}

	return JobRow{
		ID:               job.ID,
		Name:             job.Name,
		Enabled:          job.Enabled,
		Priority:         job.Priority,
		ResourceGroup:    job.ResourceGroup,
		TriggerJSON:      trigger,
		CommandJSON:      command,
		StepsJSON:        steps,
		EnvironmentJSON:  env,
		WorkingDirectory: job.WorkingDirectory,
		TimeoutSeconds:   job.TimeoutSeconds,
		EmulatorJSON:     emulator,
		RetryJSON:        retry,
		KeywordsJSON:     keywords,
		NotifyJSON:       notify,
	}, nil
}

func rowToJob(row JobRow) (*models.Job, error) {
	job := &models.Job{
		ID:               row.ID,
		Name:             row.Name,
		Enabled:          row.Enabled,
		Priority:         row.Priority,
		ResourceGroup:    row.ResourceGroup,
		WorkingDirectory: row.WorkingDirectory,
		TimeoutSeconds:   row.TimeoutSeconds,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
	if err := unmarshalIfPresent(row.TriggerJSON, &job.Trigger); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.CommandJSON, &job.Command); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.StepsJSON, &job.Steps); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.EnvironmentJSON, &job.Environment); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.EmulatorJSON, &job.Emulator); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.RetryJSON, &job.Retry); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.KeywordsJSON, &job.Keywords); err != nil {
		return nil, err
	}
	if err := unmarshalIfPresent(row.NotifyJSON, &job.Notify); err != nil {
		return nil, err
	}
	return job, nil
}

func unmarshalIfPresent(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
