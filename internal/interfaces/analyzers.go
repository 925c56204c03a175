package interfaces

import (
	"context"

	"github.com/ternarybob/scrutor/internal/models"
)

// WebsiteAnalyzer fetches a website and extracts its metadata. Failures are
// returned as *models.AnalysisError.
type WebsiteAnalyzer interface {
	Analyze(ctx context.Context, websiteURL string) (*models.WebsiteDetail, error)
}

// RepoAnalyzer collects metadata for a GitHub repository. Failures are
// returned as *models.AnalysisError.
type RepoAnalyzer interface {
	Analyze(ctx context.Context, repoURL string) (*models.RepoDetail, error)
}
