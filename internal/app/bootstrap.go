package app

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"verdictline/internal/config"
	"verdictline/internal/db"
	"verdictline/internal/engine"
	"verdictline/internal/migrate"
	"verdictline/internal/repo"
	"verdictline/internal/rubric"
)

// LoadCatalog resolves the rubric catalog from config. An absent or broken
// catalog disables the rubric check unless rubrics.required is set.
func LoadCatalog(cfg *config.Config, log *zap.Logger) (*rubric.Catalog, error) {
	path := cfg.Rubrics.Path
	if path == "" {
		path = rubric.DefaultPath()
	}
	catalog, err := rubric.LoadOptional(path)
	if err != nil {
		if cfg.Rubrics.Required {
			return nil, err
		}
		log.Warn("rubric catalog unreadable; rubric check disabled", zap.String("path", path), zap.Error(err))
		return nil, nil
	}
	if catalog == nil {
		if cfg.Rubrics.Required {
			return nil, fmt.Errorf("rubric catalog %s not found", path)
		}
		log.Debug("no rubric catalog; rubric check disabled", zap.String("path", path))
		return nil, nil
	}
	if err := catalog.Validate(); err != nil {
		if cfg.Rubrics.Required {
			return nil, fmt.Errorf("rubric catalog %s: %w", path, err)
		}
		log.Warn("rubric catalog has problems", zap.String("path", path), zap.Error(err))
	}
	log.Debug("rubric catalog loaded", zap.String("path", path), zap.Strings("task_types", catalog.Names()))
	return catalog, nil
}

// LoadEngine builds the engine with the configured catalog and keyword table.
func LoadEngine(cfg *config.Config, log *zap.Logger) (engine.Engine, error) {
	catalog, err := LoadCatalog(cfg, log)
	if err != nil {
		return engine.Engine{}, err
	}
	e := engine.New(catalog)
	if cfg.Analyzer.KeywordsPath != "" {
		rules, err := engine.LoadKeywordRules(cfg.Analyzer.KeywordsPath)
		if err != nil {
			return engine.Engine{}, fmt.Errorf("keyword rules %s: %w", cfg.Analyzer.KeywordsPath, err)
		}
		e.Keywords = rules
	}
	return e, nil
}

// OpenStore opens and migrates the workspace history database.
func OpenStore(ctx context.Context, workspace string) (*sql.DB, *repo.Repo, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", db.Path(workspace), err)
	}
	return conn, &repo.Repo{DB: conn}, nil
}
