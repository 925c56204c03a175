package github

import (
	"github.com/google/go-github/v57/github"
	"github.com/phuslu/log"
)

// rateLimitFloor is the remaining-request level that triggers a warning
const rateLimitFloor = 10

// logRateLimit surfaces API quota exhaustion early. Unauthenticated clients
// hit the 60/hour ceiling fast.
func logRateLimit(resp *github.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Limit > 0 && resp.Rate.Remaining < rateLimitFloor {
		log.Warn().
			Int("remaining", resp.Rate.Remaining).
			Int("limit", resp.Rate.Limit).
			Time("reset", resp.Rate.Reset.Time).
			Msg("GitHub API rate limit nearly exhausted")
	}
}
