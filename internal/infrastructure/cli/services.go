package cli

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/pageforge/buildstream/internal/application"
	"github.com/pageforge/buildstream/internal/infrastructure/api"
	"github.com/pageforge/buildstream/internal/infrastructure/config"
	"github.com/pageforge/buildstream/internal/infrastructure/journal"
)

// services bundles the wired-up dependencies the commands share.
type services struct {
	Config  *config.Config
	Journal *journal.Journal
	API     *api.Client
	Session *application.SessionService
}

func loadServices() (*services, error) {
	path := configPath
	if path == "" {
		path = filepath.Join(config.DefaultJournalDir, "config.yaml")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := logrus.WithField("component", "buildstream")
	j := journal.New(cfg.JournalDir)
	apiClient := api.NewClient(cfg.APIBaseURL)

	return &services{
		Config:  cfg,
		Journal: j,
		API:     apiClient,
		Session: application.NewSessionService(apiClient, j, cfg.Stream, logger),
	}, nil
}
