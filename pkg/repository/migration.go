package repository

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/desbank/pkg/model"
	"github.com/m-mizutani/desbank/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
)

// MigrationResult summarizes one migration run
type MigrationResult struct {
	Total      int
	Migrated   int
	Skipped    int
	Errored    int
	BackupPath string
}

// MigrateIndex upgrades older index entries to carry the derived projection
// fields (formulation_summary, formulation, confidence, performance_score)
// backfilled from the full records. It is idempotent: entries that already
// carry the fields are skipped, and the index file is rewritten only when at
// least one entry changed. A timestamped backup of the pre-migration index
// is written exactly once per invocation, before any mutation.
//
// The function operates on the raw index JSON rather than typed entries so
// that it can distinguish "field absent" (v1) from "field present but empty".
func MigrateIndex(ctx context.Context, dir string) (*MigrationResult, error) {
	logger := logging.From(ctx)
	indexPath := filepath.Join(dir, indexFileName)

	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read index file",
			goerr.T(model.TagPersistence), goerr.V("path", indexPath))
	}

	var index map[string]map[string]any
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, goerr.Wrap(err, "failed to parse index file",
			goerr.T(model.TagPersistence), goerr.V("path", indexPath))
	}

	backupPath := filepath.Join(dir,
		"index_backup_"+time.Now().Format("20060102_150405")+".json")
	if err := writeFileAtomic(backupPath, data); err != nil {
		return nil, goerr.Wrap(err, "failed to write index backup")
	}
	logger.Info("created index backup", "path", backupPath)

	result := &MigrationResult{
		Total:      len(index),
		BackupPath: backupPath,
	}

	// The projection fields written by the current index format. An entry is
	// only up to date when every one of them is present; performance_score is
	// written as an explicit null for unscored records, so key presence is
	// still the right check.
	projectionFields := []string{
		"formulation_summary", "formulation", "confidence", "performance_score",
	}

	for id, entry := range index {
		upToDate := true
		for _, field := range projectionFields {
			if _, ok := entry[field]; !ok {
				upToDate = false
				break
			}
		}
		if upToDate {
			result.Skipped++
			continue
		}

		rec, err := readRecordFile(dir, model.RecommendationID(id))
		if err != nil {
			logger.Error("failed to load record for migration", "id", id, "error", err)
			result.Errored++
			continue
		}

		entry["formulation_summary"] = model.FormulationSummary(rec.Formulation)
		entry["formulation"] = rec.Formulation
		entry["confidence"] = rec.Confidence
		if rec.ExperimentResult != nil {
			entry["performance_score"] = rec.ExperimentResult.PerformanceScore()
		} else {
			entry["performance_score"] = nil
		}

		result.Migrated++
		logger.Info("migrated index entry", "id", id)
	}

	if result.Migrated > 0 {
		if err := writeJSONAtomic(indexPath, index); err != nil {
			return nil, goerr.Wrap(err, "failed to write migrated index")
		}
	}

	logger.Info("index migration finished",
		"total", result.Total,
		"migrated", result.Migrated,
		"skipped", result.Skipped,
		"errored", result.Errored)

	return result, nil
}

func readRecordFile(dir string, id model.RecommendationID) (*model.Recommendation, error) {
	data, err := os.ReadFile(filepath.Join(dir, string(id)+".json"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read recommendation record",
			goerr.T(model.TagPersistence), goerr.V("id", id))
	}

	var rec model.Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, goerr.Wrap(err, "failed to parse recommendation record",
			goerr.T(model.TagPersistence), goerr.V("id", id))
	}

	return &rec, nil
}
