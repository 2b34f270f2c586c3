package excel

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// Writer renders a finished compliance session into an xlsx workbook with
// a summary sheet and one row per assessed requirement.
type Writer struct{}

func NewWriter() *Writer {
	return &Writer{}
}

const (
	summarySheet    = "Povzetek"
	assessmentSheet = "Preverjanja"
)

func (w *Writer) WriteReport(session *domain.Session) ([]byte, error) {
	if session == nil {
		return nil, fmt.Errorf("nil session")
	}

	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(assessmentSheet); err != nil {
		return nil, fmt.Errorf("create assessment sheet: %w", err)
	}

	if err := writeSummary(f, session); err != nil {
		return nil, err
	}
	if err := writeAssessments(f, session.Assessments); err != nil {
		return nil, err
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSummary(f *excelize.File, session *domain.Session) error {
	rows := [][2]string{
		{"Seja", session.ID},
		{"Dokument", session.Filename},
		{"Status", string(session.Status)},
	}

	if session.KeyFacts != nil {
		for _, key := range sortedKeys(session.KeyFacts.Fields) {
			rows = append(rows, [2]string{key, session.KeyFacts.Fields[key]})
		}
		if len(session.KeyFacts.ZoneUnits) > 0 {
			rows = append(rows, [2]string{"eup", strings.Join(session.KeyFacts.ZoneUnits, ", ")})
		}
		if len(session.KeyFacts.LandUses) > 0 {
			rows = append(rows, [2]string{"namenska_raba", strings.Join(session.KeyFacts.LandUses, ", ")})
		}
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("summary cell: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &[]any{row[0], row[1]}); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	}
	return nil
}

func writeAssessments(f *excelize.File, assessments []domain.Assessment) error {
	header := []any{"Zahteva", "Področje", "Status", "Obrazložitev", "Citati"}
	if err := f.SetSheetRow(assessmentSheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	styles, err := statusStyles(f)
	if err != nil {
		return err
	}

	for i, assessment := range assessments {
		rowNum := i + 2
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return fmt.Errorf("assessment cell: %w", err)
		}
		row := []any{
			assessment.RequirementID,
			assessment.Topic,
			string(assessment.Status),
			assessment.Reasoning,
			strings.Join(assessment.Citations, "; "),
		}
		if err := f.SetSheetRow(assessmentSheet, cell, &row); err != nil {
			return fmt.Errorf("write assessment row: %w", err)
		}
		if styleID, ok := styles[assessment.Status]; ok {
			statusCell, err := excelize.CoordinatesToCellName(3, rowNum)
			if err != nil {
				return fmt.Errorf("status cell: %w", err)
			}
			if err := f.SetCellStyle(assessmentSheet, statusCell, statusCell, styleID); err != nil {
				return fmt.Errorf("style status cell: %w", err)
			}
		}
	}
	return nil
}

func statusStyles(f *excelize.File) (map[domain.AssessmentStatus]int, error) {
	colors := map[domain.AssessmentStatus]string{
		domain.AssessmentCompliant:    "C6EFCE",
		domain.AssessmentNonCompliant: "FFC7CE",
		domain.AssessmentNoData:       "FFEB9C",
	}

	out := make(map[domain.AssessmentStatus]int, len(colors))
	for status, color := range colors {
		styleID, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}},
		})
		if err != nil {
			return nil, fmt.Errorf("status style: %w", err)
		}
		out[status] = styleID
	}
	return out, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
