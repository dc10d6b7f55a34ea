package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intel-cli/internal/guardrail"
	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/report"
	"github.com/sells-group/intel-cli/internal/synth"
)

// ReviewedHeadline titles reports rebuilt from approved findings.
const ReviewedHeadline = "Competitive Landscape & Roadmap (Reviewed)"

// synthesize derives findings from the stored entities, persists them and
// renders the markdown report. It returns the report id.
func (p *Pipeline) synthesize(ctx context.Context, rs *runState) (string, error) {
	p.setStatus(ctx, rs, model.RunStatusSynthesizing, "Generating report...")

	d, err := p.loadReportData(ctx, rs.run.ID)
	if err != nil {
		return "", err
	}
	if len(d.Capabilities) == 0 {
		p.appendLog(ctx, rs, "No capabilities extracted - sources may be sparse or parsing failed.")
	}

	findings := synth.Synthesize(synth.Input{
		RunID:        rs.run.ID,
		Capabilities: d.Capabilities,
		Sources:      d.Sources,
		Keywords:     rs.project.Keywords,
		Pricing:      d.Pricing,
		Integrations: d.Integrations,
		Compliance:   d.Compliance,
		Competitors:  d.Competitors,
	})
	if err := p.store.CreateFindings(ctx, findings); err != nil {
		return "", eris.Wrap(err, "pipeline: persist findings")
	}
	rs.log.Info("pipeline: findings synthesized", zap.Int("findings", len(findings)))

	d.Headline = rs.project.Name + " Competitive Report"
	d.Project = rs.project
	d.Profile = rs.profile
	d.Findings = findings

	r := &model.Report{
		RunID:     rs.run.ID,
		ProjectID: rs.run.ProjectID,
		Headline:  d.Headline,
		Body:      report.Markdown(d),
		Format:    model.ReportFormatMarkdown,
	}
	if err := p.store.CreateReport(ctx, r); err != nil {
		return "", eris.Wrap(err, "pipeline: persist report")
	}
	return r.ID, nil
}

// qa runs the advisory guardrails and records one summary log line.
func (p *Pipeline) qa(ctx context.Context, rs *runState) error {
	p.setStatus(ctx, rs, model.RunStatusQA, "Running guardrails...")

	res, err := guardrail.NewEvaluator(p.store, p.settings).EvaluateRun(ctx, rs.run.ID)
	if err != nil {
		return eris.Wrap(err, "pipeline: guardrails")
	}
	p.appendLog(ctx, rs, "Guardrails: "+res.Summary)
	if !res.Passed() {
		rs.log.Info("pipeline: guardrail issues", zap.Strings("issues", res.Issues))
	}
	return nil
}

// loadReportData reads a run's sources and entities. Findings, headline,
// project and profile are left for the caller.
func (p *Pipeline) loadReportData(ctx context.Context, runID string) (report.Data, error) {
	var (
		d   report.Data
		err error
	)
	if d.Capabilities, err = p.store.ListCapabilities(ctx, runID); err != nil {
		return d, eris.Wrap(err, "pipeline: list capabilities")
	}
	if d.Sources, err = p.store.ListSources(ctx, runID); err != nil {
		return d, eris.Wrap(err, "pipeline: list sources")
	}
	if d.Competitors, err = p.store.ListCompetitors(ctx, runID); err != nil {
		return d, eris.Wrap(err, "pipeline: list competitors")
	}
	if d.Pricing, err = p.store.ListPricingPoints(ctx, runID); err != nil {
		return d, eris.Wrap(err, "pipeline: list pricing")
	}
	if d.Integrations, err = p.store.ListIntegrations(ctx, runID); err != nil {
		return d, eris.Wrap(err, "pipeline: list integrations")
	}
	if d.Compliance, err = p.store.ListComplianceItems(ctx, runID); err != nil {
		return d, eris.Wrap(err, "pipeline: list compliance")
	}
	return d, nil
}

// ReportData loads everything needed to render runID's report, using the
// given findings filter. It backs the matrix export.
func (p *Pipeline) ReportData(ctx context.Context, runID string, approvedOnly bool) (report.Data, error) {
	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return report.Data{}, eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	project, err := p.store.GetProject(ctx, run.ProjectID)
	if err != nil {
		return report.Data{}, eris.Wrapf(err, "pipeline: load project %s", run.ProjectID)
	}
	d, err := p.loadReportData(ctx, runID)
	if err != nil {
		return d, err
	}
	if d.Findings, err = p.store.ListFindings(ctx, runID, approvedOnly); err != nil {
		return d, eris.Wrap(err, "pipeline: list findings")
	}
	d.Headline = project.Name + " Competitive Report"
	d.Project = project
	d.Profile = p.catalog.Resolve(project)
	return d, nil
}

// RebuildReport re-renders runID's report from its stored entities and
// approved findings, saves it as a new approved report and marks the run
// COMPLETE.
func (p *Pipeline) RebuildReport(ctx context.Context, runID string) (*model.Report, error) {
	d, err := p.ReportData(ctx, runID, true)
	if err != nil {
		return nil, err
	}
	d.Headline = ReviewedHeadline

	r := &model.Report{
		RunID:     runID,
		ProjectID: d.Project.ID,
		Headline:  ReviewedHeadline,
		Body:      report.Markdown(d),
		Format:    model.ReportFormatMarkdown,
		Approved:  true,
	}
	if err := p.store.CreateReport(ctx, r); err != nil {
		return nil, eris.Wrap(err, "pipeline: persist reviewed report")
	}
	if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusComplete, "Reviewed report ready: "+r.ID); err != nil {
		return nil, eris.Wrap(err, "pipeline: complete run")
	}
	zap.L().Info("pipeline: report rebuilt", zap.String("run_id", runID), zap.String("report_id", r.ID))
	return r, nil
}
