package monitoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/model"
)

const changeConfidence = 0.8

// DetectorStore is the slice of the store change detection needs.
type DetectorStore interface {
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListSources(ctx context.Context, runID string) ([]model.Source, error)
	CreateFindings(ctx context.Context, findings []model.Finding) error
}

// ChangeReport is the outcome of comparing two runs.
type ChangeReport struct {
	PrevRunID string         `json:"prev_run_id"`
	CurRunID  string         `json:"cur_run_id"`
	Changes   Changes        `json:"changes"`
	Summary   ChangeSummary  `json:"summary"`
	Finding   *model.Finding `json:"finding,omitempty"`
	Alerts    []Alert        `json:"alerts"`
}

// Detector compares a run's sources with an earlier run of the same project.
type Detector struct {
	store   DetectorStore
	alerter *Alerter
}

// NewDetector creates a Detector. A nil alerter disables delivery.
func NewDetector(st DetectorStore, alerter *Alerter) *Detector {
	return &Detector{store: st, alerter: alerter}
}

// Compare diffs the sources of two runs without persisting anything.
func (d *Detector) Compare(ctx context.Context, prevRunID, curRunID string) (*ChangeReport, error) {
	cur, err := d.store.GetRun(ctx, curRunID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: load run %s", curRunID)
	}
	prevSources, err := d.store.ListSources(ctx, prevRunID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: list sources %s", prevRunID)
	}
	curSources, err := d.store.ListSources(ctx, curRunID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: list sources %s", curRunID)
	}

	ch := DetectChanges(prevSources, curSources)
	rep := &ChangeReport{
		PrevRunID: prevRunID,
		CurRunID:  curRunID,
		Changes:   ch,
		Summary:   Summarize(ch),
		Alerts:    CheckAlerts(ch),
	}
	for i := range rep.Alerts {
		rep.Alerts[i].ProjectID = cur.ProjectID
		rep.Alerts[i].RunID = curRunID
	}
	return rep, nil
}

// Run compares the two runs, records a RISK finding on the current run and
// delivers the resulting alerts.
func (d *Detector) Run(ctx context.Context, prevRunID, curRunID string) (*ChangeReport, error) {
	rep, err := d.Compare(ctx, prevRunID, curRunID)
	if err != nil {
		return nil, err
	}

	findings := []model.Finding{ChangeFinding(rep)}
	if err := d.store.CreateFindings(ctx, findings); err != nil {
		return nil, eris.Wrap(err, "monitoring: persist change finding")
	}
	rep.Finding = &findings[0]

	zap.L().Info("monitoring: changes detected",
		zap.String("prev_run_id", prevRunID),
		zap.String("run_id", curRunID),
		zap.Int("total", rep.Summary.TotalChanges),
		zap.String("severity", rep.Summary.Severity),
		zap.Int("alerts", len(rep.Alerts)),
	)

	if d.alerter != nil && len(rep.Alerts) > 0 {
		d.alerter.SendAlerts(ctx, rep.Alerts)
	}
	return rep, nil
}

// ChangeFinding renders a change report as a RISK finding on the current run.
func ChangeFinding(rep *ChangeReport) model.Finding {
	s := rep.Summary
	return model.Finding{
		RunID:      rep.CurRunID,
		Kind:       model.FindingRisk,
		Text:       fmt.Sprintf("Change detection: %d changes since previous run (%s)", s.TotalChanges, strings.Join(s.Highlights, "; ")),
		Confidence: changeConfidence,
		Meta: model.FindingMeta{Change: &model.ChangeMeta{
			PrevRunID:    rep.PrevRunID,
			CurRunID:     rep.CurRunID,
			Severity:     s.Severity,
			TotalChanges: s.TotalChanges,
			Added:        len(rep.Changes.Added),
			Removed:      len(rep.Changes.Removed),
			Modified:     len(rep.Changes.Modified),
			Highlights:   s.Highlights,
		}},
	}
}
