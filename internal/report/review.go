// Package report renders review workbooks for completed jobs.
package report

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/pii-masker/constants"
	"github.com/joseph-ayodele/pii-masker/internal/common"
	"github.com/joseph-ayodele/pii-masker/internal/entity"
)

const (
	sheetDetections = "Detections"
	sheetSummary    = "Summary"
)

// Builder produces XLSX bytes for a job.
type Builder struct {
	logger *slog.Logger
}

func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// ReviewXLSX returns a workbook listing every detection of a completed job, with
// flagged rows highlighted and any recorded decision alongside.
func (b *Builder) ReviewXLSX(job entity.Job) ([]byte, error) {
	if job.Status != constants.JobStatusCompleted || job.Result == nil {
		return nil, fmt.Errorf("job %s is %s: %w", job.ID, job.Status, common.ErrResultNotReady)
	}
	start := time.Now()
	res := job.Result

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if _, err := f.NewSheet(sheetDetections); err != nil {
		return nil, err
	}
	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, err
	}
	idx, _ := f.GetSheetIndex(sheetDetections)
	f.SetActiveSheet(idx)

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	flagStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"FFF2CC"}},
	})
	if err != nil {
		return nil, err
	}

	headers := []string{"#", "Type", "Text", "Confidence", "Flagged", "Decision", "Box (x0,y0,x1,y1)"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetDetections, cell, h)
	}
	_ = f.SetCellStyle(sheetDetections, "A1", "G1", headerStyle)

	flagged := make(map[entity.Detection]bool, len(res.Flagged))
	for _, d := range res.Flagged {
		flagged[d] = true
	}
	var decisions map[int]bool
	if job.Review != nil {
		decisions = job.Review.Decisions
	}

	for i, d := range res.Detections {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheetDetections, cell, v)
		}
		r := d.BBox.Bounds()
		write(1, i)
		write(2, string(d.Type))
		write(3, d.Text)
		write(4, d.Confidence)
		write(5, yesNo(flagged[d]))
		write(6, decisionLabel(decisions, i))
		write(7, fmt.Sprintf("%.0f,%.0f,%.0f,%.0f", r.MinX, r.MinY, r.MaxX, r.MaxY))
		if flagged[d] {
			from, _ := excelize.CoordinatesToCellName(1, row)
			to, _ := excelize.CoordinatesToCellName(len(headers), row)
			_ = f.SetCellStyle(sheetDetections, from, to, flagStyle)
		}
	}

	_ = f.SetColWidth(sheetDetections, "A", "A", 6)
	_ = f.SetColWidth(sheetDetections, "B", "B", 14)
	_ = f.SetColWidth(sheetDetections, "C", "C", 40)
	_ = f.SetColWidth(sheetDetections, "D", "F", 12)
	_ = f.SetColWidth(sheetDetections, "G", "G", 22)

	summary := [][2]any{
		{"Job ID", job.ID},
		{"Status", string(job.Status)},
		{"Languages", strings.Join(res.Languages, ", ")},
		{"Detections", len(res.Detections)},
		{"Flagged", len(res.Flagged)},
		{"Review threshold", constants.ReviewThreshold},
	}
	if job.FinishedAt != nil {
		summary = append(summary, [2]any{"Finished at", job.FinishedAt.UTC().Format(time.RFC3339)})
	}
	if job.Review != nil {
		summary = append(summary, [2]any{"Reviewed at", job.Review.RecordedAt.UTC().Format(time.RFC3339)})
	}
	for i, kv := range summary {
		_ = f.SetCellValue(sheetSummary, fmt.Sprintf("A%d", i+1), kv[0])
		_ = f.SetCellValue(sheetSummary, fmt.Sprintf("B%d", i+1), kv[1])
	}
	_ = f.SetColWidth(sheetSummary, "A", "A", 18)
	_ = f.SetColWidth(sheetSummary, "B", "B", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	b.logger.Info("report.xlsx.ok",
		"job_id", job.ID,
		"rows", len(res.Detections),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func decisionLabel(decisions map[int]bool, i int) string {
	v, ok := decisions[i]
	switch {
	case !ok:
		return "pending"
	case v:
		return "confirmed"
	default:
		return "rejected"
	}
}
