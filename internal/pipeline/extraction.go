package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intel-cli/internal/extract"
	"github.com/sells-group/intel-cli/internal/fetch"
	"github.com/sells-group/intel-cli/internal/model"
)

// extraction accumulates the entities of a run before they are persisted.
type extraction struct {
	runID       string
	competitors map[string]string // brand name -> competitor id
	features    map[string]bool   // normalized feature names already kept

	capabilities []model.Capability
	featureRows  []model.Feature
	pricing      []model.PricingPoint
	compliance   []model.ComplianceItem
	integrations []model.Integration
}

// docResult is one source's slot in the extraction fan-out.
type docResult struct {
	entities []extract.Entity
	errs     []error
}

// extractEntities fetches every source, then runs the extractors over the
// fetched ones and persists what they found.
func (p *Pipeline) extractEntities(ctx context.Context, rs *runState, sources []model.Source) error {
	p.setStatus(ctx, rs, model.RunStatusExtracting,
		fmt.Sprintf("Fetched %d sources; extracting content...", len(sources)))

	limit := concurrency(p.cfg.Pipeline.FetchConcurrency, defaultFetchConcurrency)

	urls := make([]string, len(sources))
	for i, s := range sources {
		urls[i] = s.URL
	}
	outcomes := fetch.FetchAll(ctx, p.fetcher, urls, limit)

	var docs []extract.Document
	for i, o := range outcomes {
		src := &sources[i]
		fetchedAt := p.now()
		src.FetchedAt = &fetchedAt

		if o.Err != nil {
			src.Status = model.SourceStatusError
			src.Notes = joinNotes(src.Notes, o.Err.Error())
			p.appendLog(ctx, rs, fmt.Sprintf("Fetch failed %s: %s", src.URL, o.Err.Error()))
		} else {
			text := o.Page.Text
			src.Text = &text
			src.Status = model.SourceStatusOK
			if o.Page.Title != "" {
				src.Title = o.Page.Title
			}
			docs = append(docs, extract.Document{
				SourceID: src.ID,
				URL:      src.URL,
				Title:    src.Title,
				Text:     text,
			})
		}
		if err := p.store.UpdateSourceFetch(ctx, src); err != nil {
			rs.log.Warn("pipeline: failed to record fetch", zap.String("url", src.URL), zap.Error(err))
		}
	}

	rs.log.Info("pipeline: fetch complete",
		zap.Int("sources", len(sources)),
		zap.Int("fetched", len(docs)),
	)

	slots := make([]docResult, len(docs))
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for i, d := range docs {
		g.Go(func() error {
			ents, errs := p.extractors.Extract(d)
			slots[i] = docResult{entities: ents, errs: errs}
			return nil
		})
	}
	_ = g.Wait()

	x := &extraction{
		runID:       rs.run.ID,
		competitors: make(map[string]string),
		features:    make(map[string]bool),
	}
	for i, d := range docs {
		for _, err := range slots[i].errs {
			p.appendLog(ctx, rs, err.Error())
		}
		p.collect(ctx, rs, x, d, slots[i].entities)
	}

	return p.persistEntities(ctx, x)
}

// collect folds one document's entities into x. Identity comes first in the
// registry so pricing rows can be attributed to the page's brand; pricing
// for a page whose brand is unknown is dropped.
func (p *Pipeline) collect(ctx context.Context, rs *runState, x *extraction, d extract.Document, ents []extract.Entity) {
	var competitorID string
	for _, e := range ents {
		switch e.Kind {
		case extract.KindIdentity:
			competitorID = p.competitorFor(ctx, rs, x, e.Identity)
		case extract.KindCapability:
			c := e.Capability
			x.capabilities = append(x.capabilities, model.Capability{
				RunID:      x.runID,
				SourceID:   d.SourceID,
				Category:   c.Category,
				Name:       c.Name,
				Normalized: c.Normalized,
			})
		case extract.KindFeature:
			f := e.Feature
			if x.features[f.Normalized] {
				continue
			}
			x.features[f.Normalized] = true
			x.featureRows = append(x.featureRows, model.Feature{
				RunID:       x.runID,
				SourceID:    d.SourceID,
				Category:    f.Category,
				Name:        f.Name,
				Normalized:  f.Normalized,
				Description: f.Description,
			})
		case extract.KindIntegration:
			x.integrations = append(x.integrations, model.Integration{
				RunID:    x.runID,
				Vendor:   e.Integration.Vendor,
				Category: e.Integration.Category,
				Notes:    d.URL,
			})
		case extract.KindCompliance:
			x.compliance = append(x.compliance, model.ComplianceItem{
				RunID:     x.runID,
				Framework: e.Compliance.Framework,
				Status:    e.Compliance.Status,
				Notes:     e.Compliance.Notes,
			})
		case extract.KindPricing:
			if competitorID == "" {
				rs.log.Debug("pipeline: pricing without brand dropped", zap.String("url", d.URL))
				continue
			}
			pr := e.Pricing
			x.pricing = append(x.pricing, model.PricingPoint{
				RunID:        x.runID,
				CompetitorID: competitorID,
				SourceID:     d.SourceID,
				Plan:         pr.Plan,
				Monthly:      pr.Monthly,
				Annual:       pr.Annual,
				FeePct:       pr.FeePct,
				Currency:     pr.Currency,
			})
		}
	}
}

// competitorFor returns the id of the competitor named by id, creating it on
// first sight. The first writer of a name wins, so a seeded competitor keeps
// its row.
func (p *Pipeline) competitorFor(ctx context.Context, rs *runState, x *extraction, id *extract.Identity) string {
	if existing, ok := x.competitors[id.Name]; ok {
		return existing
	}
	c, err := p.store.UpsertCompetitor(ctx, x.runID, id.Name, id.Website)
	if err != nil {
		rs.log.Warn("pipeline: failed to upsert competitor", zap.String("name", id.Name), zap.Error(err))
		return ""
	}
	x.competitors[id.Name] = c.ID
	return c.ID
}

func (p *Pipeline) persistEntities(ctx context.Context, x *extraction) error {
	if err := p.store.CreateCapabilities(ctx, x.capabilities); err != nil {
		return eris.Wrap(err, "pipeline: persist capabilities")
	}
	if err := p.store.CreateFeatures(ctx, x.featureRows); err != nil {
		return eris.Wrap(err, "pipeline: persist features")
	}
	if err := p.store.CreateComplianceItems(ctx, x.compliance); err != nil {
		return eris.Wrap(err, "pipeline: persist compliance")
	}
	if err := p.store.CreateIntegrations(ctx, x.integrations); err != nil {
		return eris.Wrap(err, "pipeline: persist integrations")
	}
	if err := p.store.CreatePricingPoints(ctx, x.pricing); err != nil {
		return eris.Wrap(err, "pipeline: persist pricing")
	}
	return nil
}

func joinNotes(existing, note string) string {
	if existing == "" {
		return note
	}
	return strings.Join([]string{existing, note}, "; ")
}
