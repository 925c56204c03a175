// -----------------------------------------------------------------------
// GitHub Repository Analyzer - collects listing metadata for a repo
// -----------------------------------------------------------------------

package github

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/scrutor/internal/models"
	"golang.org/x/oauth2"
)

// Analyzer collects repository metadata through the GitHub API. Implements
// interfaces.RepoAnalyzer. An empty token falls back to unauthenticated
// requests with their lower rate limits.
type Analyzer struct {
	client *github.Client
	logger arbor.ILogger
}

// NewAnalyzer creates a GitHub analyzer. Token may be empty.
func NewAnalyzer(logger arbor.ILogger, token string) *Analyzer {
	var client *github.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc := oauth2.NewClient(context.Background(), ts)
		client = github.NewClient(tc)
	} else {
		client = github.NewClient(nil)
	}

	return &Analyzer{
		client: client,
		logger: logger,
	}
}

// NewAnalyzerWithClient creates an analyzer over an existing client, used by
// tests to point at a fake API server.
func NewAnalyzerWithClient(logger arbor.ILogger, client *github.Client) *Analyzer {
	return &Analyzer{
		client: client,
		logger: logger,
	}
}

// Analyze collects repository metadata for a github.com repo URL
func (a *Analyzer) Analyze(ctx context.Context, repoURL string) (*models.RepoDetail, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return nil, a.wrapErr(repoURL, err)
	}

	repository, resp, err := a.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, a.wrapErr(repoURL, fmt.Errorf("failed to get repository: %w", err))
	}
	logRateLimit(resp)

	detail := &models.RepoDetail{
		Stars:  repository.GetStargazersCount(),
		Forks:  repository.GetForksCount(),
		Issues: repository.GetOpenIssuesCount(),
		Topics: repository.Topics,
	}
	if repository.GetLicense() != nil {
		detail.License = repository.GetLicense().GetSPDXID()
	}
	if repository.GetOwner() != nil {
		detail.Favicon = repository.GetOwner().GetAvatarURL()
	}

	// Best-effort enrichment: a missing release or README is not a failure
	a.fillVersion(ctx, owner, repo, detail)
	a.fillReadme(ctx, owner, repo, detail)
	a.fillLanguages(ctx, owner, repo, detail)
	a.fillCounts(ctx, owner, repo, detail)
	a.fillLastCommit(ctx, owner, repo, detail)

	a.logger.Debug().
		Str("owner", owner).
		Str("repo", repo).
		Str("version", detail.Version).
		Int("stars", detail.Stars).
		Msg("Repository analyzed")

	return detail, nil
}

func (a *Analyzer) fillVersion(ctx context.Context, owner, repo string, detail *models.RepoDetail) {
	release, _, err := a.client.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return
	}
	detail.Version = release.GetTagName()
}

func (a *Analyzer) fillReadme(ctx context.Context, owner, repo string, detail *models.RepoDetail) {
	readme, _, err := a.client.Repositories.GetReadme(ctx, owner, repo, nil)
	if err != nil {
		return
	}
	content, err := readme.GetContent()
	if err != nil {
		return
	}
	detail.Readme = content
	detail.Features = ExtractFeatures(content)
}

func (a *Analyzer) fillLanguages(ctx context.Context, owner, repo string, detail *models.RepoDetail) {
	languages, _, err := a.client.Repositories.ListLanguages(ctx, owner, repo)
	if err != nil {
		return
	}
	for lang := range languages {
		detail.Languages = append(detail.Languages, lang)
	}
}

// fillCounts derives totals from the pagination envelope: one item per page
// makes LastPage the count
func (a *Analyzer) fillCounts(ctx context.Context, owner, repo string, detail *models.RepoDetail) {
	_, resp, err := a.client.Repositories.ListContributors(ctx, owner, repo, &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err == nil {
		detail.Contributors = lastPageCount(resp)
	}

	_, resp, err = a.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err == nil {
		detail.PullRequests = lastPageCount(resp)
	}
}

func (a *Analyzer) fillLastCommit(ctx context.Context, owner, repo string, detail *models.RepoDetail) {
	commits, _, err := a.client.Repositories.ListCommits(ctx, owner, repo, &github.CommitsListOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil || len(commits) == 0 {
		return
	}

	commit := commits[0]
	detail.LastCommit = commit.GetSHA()
	if commit.Commit != nil {
		detail.LastCommitMessage = firstLine(commit.Commit.GetMessage())
		if commit.Commit.Author != nil {
			detail.LastCommitAuthor = commit.Commit.Author.GetName()
			detail.LastCommitDate = commit.Commit.Author.GetDate().Format("2006-01-02T15:04:05Z07:00")
		}
	}
}

func (a *Analyzer) wrapErr(subject string, err error) error {
	return &models.AnalysisError{
		Kind:    models.KindGithubRepo,
		Subject: subject,
		Err:     err,
	}
}

// ParseRepoURL extracts owner and repo from a github.com URL
func ParseRepoURL(repoURL string) (owner, repo string, err error) {
	u, err := url.Parse(repoURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid url: %w", err)
	}
	if !strings.EqualFold(strings.TrimPrefix(u.Host, "www."), "github.com") {
		return "", "", fmt.Errorf("not a github.com url: %s", repoURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("url has no owner/repo path: %s", repoURL)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// ExtractFeatures pulls feature bullet points out of README markdown: list
// items under a heading containing "feature", capped at ten
func ExtractFeatures(readme string) []string {
	var features []string
	inFeatures := false

	for _, line := range strings.Split(readme, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "#") {
			heading := strings.ToLower(strings.TrimLeft(trimmed, "# "))
			inFeatures = strings.Contains(heading, "feature")
			continue
		}

		if !inFeatures {
			continue
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			item := strings.TrimSpace(trimmed[2:])
			item = stripMarkdown(item)
			if item != "" {
				features = append(features, item)
			}
			if len(features) >= 10 {
				break
			}
		}
	}
	return features
}

// stripMarkdown removes bold, code, and link syntax from a bullet item
func stripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	s = strings.ReplaceAll(s, "`", "")
	if open := strings.Index(s, "["); open >= 0 {
		if close := strings.Index(s[open:], "]("); close >= 0 {
			if end := strings.Index(s[open+close:], ")"); end >= 0 {
				text := s[open+1 : open+close]
				s = s[:open] + text + s[open+close+end+1:]
			}
		}
	}
	return strings.TrimSpace(s)
}

func lastPageCount(resp *github.Response) int {
	if resp == nil {
		return 0
	}
	if resp.LastPage > 0 {
		return resp.LastPage
	}
	// A single page of results carries no Link header
	return 1
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
