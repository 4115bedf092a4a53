package app

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/pscheid92/racecontrol/internal/domain"
)

const (
	infringementSheet     = "Infringements"
	historySheet          = "History"
	infringementHeaderRow = 6
	maxColumnWidth        = 50
)

// writeExcel renders one workbook: the session details and the infringement
// table on the first sheet, and a History sheet when any infringement has
// history.
func writeExcel(w io.Writer, doc exportDocument) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err := f.SetSheetName(f.GetSheetName(0), infringementSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"366092"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	title, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return fmt.Errorf("title style: %w", err)
	}

	if err := writeInfringementSheet(f, doc, header, title); err != nil {
		return fmt.Errorf("write %s sheet: %w", infringementSheet, err)
	}
	if hasHistory(doc.Infringements) {
		if err := writeHistorySheet(f, doc.Infringements, header); err != nil {
			return fmt.Errorf("write %s sheet: %w", historySheet, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func writeInfringementSheet(f *excelize.File, doc exportDocument, header, title int) error {
	t := newSheetTable(f, infringementSheet, len(infringementColumns))

	info := [][]any{
		{"Session Information"},
		{"Name:", doc.Session.Name},
		{"Status:", string(doc.Session.Status)},
		{"Started At:", formatTime(&doc.Session.StartedAt)},
	}
	for i, values := range info {
		if err := t.setRow(i+1, values); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(infringementSheet, "A1", "A1", title); err != nil {
		return err
	}

	if err := t.setHeader(infringementHeaderRow, infringementColumns, header); err != nil {
		return err
	}
	for i, inf := range doc.Infringements {
		values := []any{
			inf.ID,
			inf.KartNumber,
			deref(inf.TurnNumber),
			inf.Description,
			deref(inf.Observer),
			inf.WarningCount,
			inf.PenaltyDue,
			deref(inf.PenaltyDescription),
			formatTime(inf.PenaltyTaken),
			formatTime(inf.Timestamp),
		}
		if err := t.setRow(infringementHeaderRow+1+i, values); err != nil {
			return err
		}
	}
	return t.fitColumns()
}

func writeHistorySheet(f *excelize.File, infringements []domain.Infringement, header int) error {
	if _, err := f.NewSheet(historySheet); err != nil {
		return err
	}
	t := newSheetTable(f, historySheet, len(historyColumns))

	if err := t.setHeader(1, historyColumns, header); err != nil {
		return err
	}
	row := 2
	for _, inf := range infringements {
		for _, h := range inf.History {
			values := []any{
				inf.ID,
				h.Action,
				deref(h.PerformedBy),
				deref(h.Observer),
				deref(h.Details),
				formatTime(h.Timestamp),
			}
			if err := t.setRow(row, values); err != nil {
				return err
			}
			row++
		}
	}
	return t.fitColumns()
}

// sheetTable writes rows starting at column A and tracks the widest value per
// column so the columns can be sized afterwards.
type sheetTable struct {
	f      *excelize.File
	sheet  string
	widths []int
}

func newSheetTable(f *excelize.File, sheet string, columns int) *sheetTable {
	return &sheetTable{f: f, sheet: sheet, widths: make([]int, columns)}
}

func (t *sheetTable) setRow(row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := t.f.SetSheetRow(t.sheet, cell, &values); err != nil {
		return err
	}
	for i, v := range values {
		if i >= len(t.widths) {
			break
		}
		t.widths[i] = max(t.widths[i], utf8.RuneCountInString(fmt.Sprint(v)))
	}
	return nil
}

func (t *sheetTable) setHeader(row int, columns []string, style int) error {
	values := make([]any, len(columns))
	for i, c := range columns {
		values[i] = c
	}
	if err := t.setRow(row, values); err != nil {
		return err
	}

	first, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(columns), row)
	if err != nil {
		return err
	}
	return t.f.SetCellStyle(t.sheet, first, last, style)
}

func (t *sheetTable) fitColumns() error {
	for i, w := range t.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := t.f.SetColWidth(t.sheet, col, col, float64(min(w+2, maxColumnWidth))); err != nil {
			return err
		}
	}
	return nil
}
