package report

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/intel-cli/internal/model"
	"github.com/sells-group/intel-cli/internal/synth"
)

// Matrix is a capability-by-competitor grid.
type Matrix struct {
	Competitors []string
	Rows        []MatrixRow
}

// MatrixRow is one capability group. Has is aligned with Matrix.Competitors.
type MatrixRow struct {
	Category   string
	Capability string
	Sources    int
	Has        []bool
}

// BuildMatrix attributes each capability to the competitor whose website
// host matches the capability's source domain.
func BuildMatrix(d Data) Matrix {
	domainOf := make(map[string]string, len(d.Sources))
	for _, s := range d.Sources {
		domainOf[s.ID] = strings.TrimPrefix(strings.ToLower(s.Domain), "www.")
	}
	col := make(map[string]int, len(d.Competitors))
	m := Matrix{}
	for _, c := range d.Competitors {
		if h := hostOf(c.Website); h != "" {
			if _, dup := col[h]; !dup {
				col[h] = len(m.Competitors)
			}
		}
		m.Competitors = append(m.Competitors, c.Name)
	}

	for _, g := range synth.Groups(d.Capabilities) {
		row := MatrixRow{
			Category:   g.Category,
			Capability: g.Normalized,
			Sources:    g.Count(),
			Has:        make([]bool, len(m.Competitors)),
		}
		for _, c := range g.Items {
			if i, ok := col[domainOf[c.SourceID]]; ok {
				row.Has[i] = true
			}
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

// WriteCapabilityMatrix writes a workbook with Capabilities, Pricing and
// Findings sheets.
func WriteCapabilityMatrix(w io.Writer, d Data) error {
	f := xlsx.NewFile()

	if err := addMatrixSheet(f, BuildMatrix(d)); err != nil {
		return err
	}
	if err := addPricingSheet(f, d); err != nil {
		return err
	}
	if err := addFindingsSheet(f, d.Findings); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	return nil
}

func addMatrixSheet(f *xlsx.File, m Matrix) error {
	sheet, err := f.AddSheet("Capabilities")
	if err != nil {
		return eris.Wrap(err, "report: add capabilities sheet")
	}
	addStringRow(sheet, append([]string{"Category", "Capability", "Sources"}, m.Competitors...))
	for _, r := range m.Rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Category)
		row.AddCell().SetString(r.Capability)
		row.AddCell().SetInt(r.Sources)
		for _, has := range r.Has {
			mark := ""
			if has {
				mark = "✓"
			}
			row.AddCell().SetString(mark)
		}
	}
	return nil
}

func addPricingSheet(f *xlsx.File, d Data) error {
	sheet, err := f.AddSheet("Pricing")
	if err != nil {
		return eris.Wrap(err, "report: add pricing sheet")
	}
	names := competitorNames(d.Competitors)
	addStringRow(sheet, []string{"Competitor", "Plan", "Currency", "Monthly", "Annual", "Fee %"})
	for _, p := range d.Pricing {
		row := sheet.AddRow()
		row.AddCell().SetString(names[p.CompetitorID])
		row.AddCell().SetString(p.Plan)
		row.AddCell().SetString(p.Currency)
		addFloatCell(row, p.Monthly)
		addFloatCell(row, p.Annual)
		addFloatCell(row, p.FeePct)
	}
	return nil
}

func addFindingsSheet(f *xlsx.File, findings []model.Finding) error {
	sheet, err := f.AddSheet("Findings")
	if err != nil {
		return eris.Wrap(err, "report: add findings sheet")
	}
	addStringRow(sheet, []string{"Kind", "Confidence", "Text", "Citations", "Approved"})
	for _, fd := range findings {
		row := sheet.AddRow()
		row.AddCell().SetString(string(fd.Kind))
		row.AddCell().SetFloat(fd.Confidence)
		row.AddCell().SetString(fd.Text)
		row.AddCell().SetString(strings.Join(fd.Citations, ", "))
		row.AddCell().SetBool(fd.Approved)
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addFloatCell(row *xlsx.Row, v *float64) {
	c := row.AddCell()
	if v != nil {
		c.SetFloat(*v)
	}
}
