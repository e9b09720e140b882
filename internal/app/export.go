package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"quizzana/internal/domain"
)

// ExportFormat selects the file type of a results export.
type ExportFormat string

const (
	ExportXLSX ExportFormat = "xlsx"
	ExportCSV  ExportFormat = "csv"
)

// ParseExportFormat defaults to xlsx.
func ParseExportFormat(raw string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "xlsx":
		return ExportXLSX, nil
	case "csv":
		return ExportCSV, nil
	}
	return "", domain.Validation("format must be xlsx or csv")
}

// ContentType is the MIME type of the exported file.
func (f ExportFormat) ContentType() string {
	if f == ExportCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

var rankingHeader = []string{"Rank", "Player", "Points", "Correct", "Completed at"}

// ExportResults renders the owner's view of a room as a spreadsheet. The xlsx
// file carries a ranking sheet and a per-question sheet; csv has the ranking only.
func (s *ResultsService) ExportResults(ctx context.Context, ident domain.Identity, roomID string, format ExportFormat) ([]byte, error) {
	res, err := s.Results(ctx, ident, roomID, true)
	if err != nil {
		return nil, err
	}
	if format == ExportCSV {
		return rankingCSV(res.Ranking)
	}
	return resultsXLSX(res)
}

func rankingCSV(ranking []domain.RankingEntry) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write([]byte{0xEF, 0xBB, 0xBF})
	w := csv.NewWriter(&buf)
	if err := w.Write(rankingHeader); err != nil {
		return nil, err
	}
	for _, e := range ranking {
		row := []string{
			strconv.Itoa(e.Rank),
			sanitizeCell(e.PlayerName),
			strconv.Itoa(e.TotalPoints),
			strconv.Itoa(e.CorrectCount),
			e.CompletedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func resultsXLSX(res domain.RoomResults) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const rankingSheet = "Ranking"
	if err := f.SetSheetName("Sheet1", rankingSheet); err != nil {
		return nil, err
	}
	sw, err := f.NewStreamWriter(rankingSheet)
	if err != nil {
		return nil, fmt.Errorf("ranking sheet: %w", err)
	}
	if err := sw.SetRow("A1", toRow(rankingHeader)); err != nil {
		return nil, err
	}
	for i, e := range res.Ranking {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{e.Rank, sanitizeCell(e.PlayerName), e.TotalPoints, e.CorrectCount, e.CompletedAt.UTC().Format(time.RFC3339)}
		if err := sw.SetRow(cell, row); err != nil {
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		return nil, err
	}

	if res.Detail != nil {
		const questionSheet = "Questions"
		if _, err := f.NewSheet(questionSheet); err != nil {
			return nil, err
		}
		qw, err := f.NewStreamWriter(questionSheet)
		if err != nil {
			return nil, fmt.Errorf("question sheet: %w", err)
		}
		if err := qw.SetRow("A1", toRow([]string{"#", "Question", "Correct", "Incorrect", "% correct"})); err != nil {
			return nil, err
		}
		for i, q := range res.Detail.Questions {
			cell, _ := excelize.CoordinatesToCellName(1, i+2)
			row := []interface{}{q.Position, sanitizeCell(q.Prompt), q.CorrectCount, q.IncorrectCount, q.PercentCorrect}
			if err := qw.SetRow(cell, row); err != nil {
				return nil, err
			}
		}
		if err := qw.Flush(); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

// sanitizeCell stops spreadsheet apps from evaluating player input as a formula.
func sanitizeCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}
