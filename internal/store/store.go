package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/intel-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// FindingReview carries reviewer edits to a finding. Nil fields are left
// unchanged.
type FindingReview struct {
	Approved      *bool    `json:"approved,omitempty"`
	ReviewerNotes *string  `json:"reviewer_notes,omitempty"`
	Citations     []string `json:"citations,omitempty"`
}

// Store defines the persistence interface for the intelligence pipeline.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)

	// Runs
	CreateRun(ctx context.Context, projectID string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus, note string) error
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.Run, error)
	LatestRun(ctx context.Context, projectID string, status model.RunStatus) (*model.Run, error)
	CountRunsByStatus(ctx context.Context, since time.Time) (map[model.RunStatus]int, error)
	AppendRunLog(ctx context.Context, runID, line string) error
	ListRunLogs(ctx context.Context, runID string) ([]model.RunLog, error)
	DeleteRunLogsBefore(ctx context.Context, before time.Time) (int, error)

	// Sources
	CreateSource(ctx context.Context, src *model.Source) error
	UpdateSourceFetch(ctx context.Context, src *model.Source) error
	ListSources(ctx context.Context, runID string) ([]model.Source, error)

	// Extracted entities
	UpsertCompetitor(ctx context.Context, runID, name, website string) (*model.Competitor, error)
	ListCompetitors(ctx context.Context, runID string) ([]model.Competitor, error)
	CreateCapabilities(ctx context.Context, caps []model.Capability) error
	ListCapabilities(ctx context.Context, runID string) ([]model.Capability, error)
	CreateFeatures(ctx context.Context, features []model.Feature) error
	ListFeatures(ctx context.Context, runID string) ([]model.Feature, error)
	CreatePricingPoints(ctx context.Context, points []model.PricingPoint) error
	ListPricingPoints(ctx context.Context, runID string) ([]model.PricingPoint, error)
	CreateComplianceItems(ctx context.Context, items []model.ComplianceItem) error
	ListComplianceItems(ctx context.Context, runID string) ([]model.ComplianceItem, error)
	CreateIntegrations(ctx context.Context, items []model.Integration) error
	ListIntegrations(ctx context.Context, runID string) ([]model.Integration, error)

	// Findings
	CreateFindings(ctx context.Context, findings []model.Finding) error
	ListFindings(ctx context.Context, runID string, approvedOnly bool) ([]model.Finding, error)
	GetFinding(ctx context.Context, id string) (*model.Finding, error)
	UpdateFindingReview(ctx context.Context, id string, review FindingReview) error

	// Reports
	CreateReport(ctx context.Context, r *model.Report) error
	LatestReport(ctx context.Context, runID string) (*model.Report, error)

	// Settings
	GetSettings(ctx context.Context) (*model.Settings, error)
	SaveSettings(ctx context.Context, s model.Settings) error

	// Jobs
	EnqueueJob(ctx context.Context, runID string) (*model.Job, error)
	ClaimJob(ctx context.Context) (*model.Job, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, msg string) error

	// Credits
	GetCredits(ctx context.Context, projectID, period string, limit int) (*model.CreditUsage, error)
	ConsumeCredit(ctx context.Context, projectID, period string, limit int) (bool, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
