package app

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/pscheid92/racecontrol/internal/domain"
)

type ExportFormat string

const (
	ExportJSON  ExportFormat = "json"
	ExportCSV   ExportFormat = "csv"
	ExportExcel ExportFormat = "excel"
)

const exportTimestampLayout = "20060102_150405"

// ParseExportFormat accepts json, csv and excel, case-insensitively. An empty
// value means json.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ExportJSON):
		return ExportJSON, nil
	case string(ExportCSV):
		return ExportCSV, nil
	case string(ExportExcel):
		return ExportExcel, nil
	default:
		return "", fmt.Errorf("%w: %q (must be json, csv or excel)", domain.ErrUnsupportedFormat, s)
	}
}

func (f ExportFormat) contentType() string {
	switch f {
	case ExportCSV:
		return "text/csv"
	case ExportExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

func (f ExportFormat) extension() string {
	if f == ExportExcel {
		return "xlsx"
	}
	return string(f)
}

// ExportFile is a rendered export on disk, ready to be served as an attachment.
type ExportFile struct {
	Path        string
	Name        string
	ContentType string
}

type exportDocument struct {
	Session       domain.SessionRecord  `json:"session"`
	Infringements []domain.Infringement `json:"infringements"`
	ExportedAt    time.Time             `json:"exported_at"`
}

// Export renders every infringement of a cataloged session into a file under
// the export directory. The router is never repointed.
func (s *Service) Export(ctx context.Context, name string, format ExportFormat) (file ExportFile, err error) {
	defer func() { s.metrics.ObserveLifecycle("export", err) }()

	rec, err := s.catalog.Get(ctx, name)
	if err != nil {
		return ExportFile{}, fmt.Errorf("export session: %w", err)
	}

	infringements, err := s.records.Infringements(ctx, name)
	if err != nil {
		return ExportFile{}, fmt.Errorf("export session: %w", err)
	}

	now := s.clock.Now().UTC()
	file = ExportFile{
		Name:        fmt.Sprintf("%s_%s.%s", safeFilename(name), now.Format(exportTimestampLayout), format.extension()),
		ContentType: format.contentType(),
	}

	if err := os.MkdirAll(s.exportDir, 0o755); err != nil {
		return ExportFile{}, &domain.OpError{Op: domain.OpExport, Session: name, Err: err}
	}
	path, err := filepath.Abs(filepath.Join(s.exportDir, file.Name))
	if err != nil {
		return ExportFile{}, &domain.OpError{Op: domain.OpExport, Session: name, Err: err}
	}
	file.Path = path

	doc := exportDocument{Session: *rec, Infringements: infringements, ExportedAt: now}
	if err := writeExport(path, format, doc); err != nil {
		return ExportFile{}, &domain.OpError{Op: domain.OpExport, Session: name, Err: err}
	}

	slog.InfoContext(ctx, "session exported", "session", name, "format", format, "path", path, "infringements", len(infringements))
	return file, nil
}

func writeExport(path string, format ExportFormat, doc exportDocument) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	switch format {
	case ExportCSV:
		return writeCSV(f, doc)
	case ExportExcel:
		return writeExcel(f, doc)
	default:
		return writeJSON(f, doc)
	}
}

func writeJSON(w io.Writer, doc exportDocument) error {
	if doc.Infringements == nil {
		doc.Infringements = []domain.Infringement{}
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	return enc.Encode(doc)
}

// writeCSV lays out a session header block, the infringement table and, when
// any infringement has history, a history table. Blocks are separated by an
// empty row.
func writeCSV(w io.Writer, doc exportDocument) error {
	cw := csv.NewWriter(w)

	rows := [][]string{
		{"Session Information"},
		{"Name", doc.Session.Name},
		{"Status", string(doc.Session.Status)},
		{"Started At", formatTime(&doc.Session.StartedAt)},
		{},
		{"Infringements"},
		infringementColumns,
	}
	for _, inf := range doc.Infringements {
		rows = append(rows, infringementRow(inf))
	}

	if hasHistory(doc.Infringements) {
		rows = append(rows, []string{}, []string{"Infringement History"}, historyColumns)
		for _, inf := range doc.Infringements {
			for _, h := range inf.History {
				rows = append(rows, historyRow(inf.ID, h))
			}
		}
	}

	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

var (
	infringementColumns = []string{"ID", "Kart Number", "Turn Number", "Description", "Observer",
		"Warning Count", "Penalty Due", "Penalty Description", "Penalty Taken", "Timestamp"}
	historyColumns = []string{"Infringement ID", "Action", "Performed By", "Observer", "Details", "Timestamp"}
)

func infringementRow(inf domain.Infringement) []string {
	return []string{
		strconv.FormatInt(inf.ID, 10),
		strconv.Itoa(inf.KartNumber),
		deref(inf.TurnNumber),
		inf.Description,
		deref(inf.Observer),
		strconv.Itoa(inf.WarningCount),
		inf.PenaltyDue,
		deref(inf.PenaltyDescription),
		formatTime(inf.PenaltyTaken),
		formatTime(inf.Timestamp),
	}
}

func historyRow(infringementID int64, h domain.HistoryEntry) []string {
	return []string{
		strconv.FormatInt(infringementID, 10),
		h.Action,
		deref(h.PerformedBy),
		deref(h.Observer),
		deref(h.Details),
		formatTime(h.Timestamp),
	}
}

func hasHistory(infringements []domain.Infringement) bool {
	for _, inf := range infringements {
		if len(inf.History) > 0 {
			return true
		}
	}
	return false
}

// safeFilename keeps letters, digits, '_' and '-' and replaces everything else
// with '_'.
func safeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, name)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
