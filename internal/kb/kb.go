package kb

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"
	"github.com/xuri/excelize/v2"

	"github.com/DeafMist/proposal-radar/internal/logger"
	"github.com/DeafMist/proposal-radar/internal/models"
)

// Spreadsheet columns of the project register.
const (
	ColProjectID = "Project_ID"
	ColTitle     = "Project_Title"
	ColAgency    = "Implementing_Agency"
	ColYear      = "Year"
	ColStatus    = "Status"
)

var requiredColumns = []string{ColProjectID, ColTitle, ColAgency, ColYear, ColStatus}

// Load reads a knowledge base JSON file.
func Load(path string) ([]models.KnowledgeBaseEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge base: %w", err)
	}
	var entries []models.KnowledgeBaseEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode knowledge base: %w", err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.ProjectID) == "" {
			return nil, fmt.Errorf("knowledge base entry %d has no project_id", i)
		}
	}
	return entries, nil
}

// Save writes entries as indented JSON, creating parent directories.
func Save(path string, entries []models.KnowledgeBaseEntry) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode knowledge base: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write knowledge base: %w", err)
	}
	return nil
}

// Build joins the project register spreadsheet with the per-project text
// files <Project_ID>.txt found in contentDir. Projects without a text file
// keep an empty full_text.
func Build(spreadsheet, contentDir string, log *slog.Logger) ([]models.KnowledgeBaseEntry, error) {
	log = logger.OrDiscard(log)

	file, err := excelize.OpenFile(spreadsheet)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer file.Close()

	sheet := file.GetSheetName(file.GetActiveSheetIndex())
	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, errors.New("spreadsheet is empty")
	}

	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.TrimSpace(name)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("spreadsheet is missing column %s", name)
		}
	}
	cell := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	entries := make([]models.KnowledgeBaseEntry, 0, len(rows)-1)
	for n, row := range rows[1:] {
		id := cell(row, ColProjectID)
		if id == "" {
			continue
		}
		year, err := cast.ToIntE(cell(row, ColYear))
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid year %q", n+2, cell(row, ColYear))
		}

		text, err := os.ReadFile(filepath.Join(contentDir, id+".txt"))
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read content for %s: %w", id, err)
			}
			log.Warn("text file not found, skipping content", slog.String("project_id", id))
		}

		entries = append(entries, models.KnowledgeBaseEntry{
			ProjectID: id,
			Title:     cell(row, ColTitle),
			Agency:    cell(row, ColAgency),
			Year:      year,
			Status:    cell(row, ColStatus),
			FullText:  string(text),
		})
	}
	log.Info("knowledge base built", slog.Int("entries", len(entries)))
	return entries, nil
}
