package adapters

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/star-forensics/internal/errors"
	"github.com/ZanzyTHEbar/star-forensics/internal/monitoring"
	"github.com/ZanzyTHEbar/star-forensics/internal/resilience"
	"github.com/ZanzyTHEbar/star-forensics/internal/types"
)

// GitHubStargazer is one entry of the stargazers listing with star timestamps.
type GitHubStargazer struct {
	StarredAt string `json:"starred_at"`
	User      struct {
		Login string `json:"login"`
	} `json:"user"`
}

// GitHubUser represents GitHub user data
type GitHubUser struct {
	Login       string  `json:"login"`
	CreatedAt   string  `json:"created_at"`
	Followers   int     `json:"followers"`
	Following   int     `json:"following"`
	PublicRepos int     `json:"public_repos"`
	Bio         *string `json:"bio"`
	Company     *string `json:"company"`
	Location    *string `json:"location"`
}

type searchResult struct {
	TotalCount int `json:"total_count"`
}

// GitHubConfig configures the stargazer collector.
type GitHubConfig struct {
	BaseURL           string
	Token             string
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	PerPage           int
	MaxStargazers     int
	Concurrency       int
	// FetchActivity adds contribution and recent-event counts at the cost of
	// four extra requests per stargazer.
	FetchActivity bool
}

// GitHubAdapter collects enriched stargazer records from the GitHub API
type GitHubAdapter struct {
	cfg    GitHubConfig
	client *resilience.Client
	logger *monitoring.Logger
}

// starMediaType makes the stargazers listing include starred_at.
const starMediaType = "application/vnd.github.star+json"

var repoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// NewGitHubAdapter creates a new GitHub adapter. metrics and logger may be nil.
func NewGitHubAdapter(cfg GitHubConfig, metrics resilience.Recorder, logger *monitoring.Logger) *GitHubAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PerPage <= 0 || cfg.PerPage > 100 {
		cfg.PerPage = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = monitoring.NewNopLogger()
	}

	headers := map[string]string{
		"User-Agent":           "star-forensics/1.0",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	if cfg.Token != "" {
		headers["Authorization"] = "Bearer " + cfg.Token
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries + 1
	}

	client := resilience.NewClient(resilience.ClientConfig{
		Name:              "github",
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Concurrency,
		MaxIdleConns:      cfg.Concurrency * 2,
		Headers:           headers,
		Retry:             retry,
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 1,
		},
	}, metrics, logger)

	return &GitHubAdapter{cfg: cfg, client: client, logger: logger}
}

// ParseRepository validates an "owner/name" slug.
func ParseRepository(fullName string) (owner, repo string, err error) {
	fullName = strings.TrimSpace(fullName)
	if !repoPattern.MatchString(fullName) {
		return "", "", errors.NewValidationError(fmt.Sprintf("repository must look like owner/name, got %q", fullName))
	}
	owner, repo, _ = strings.Cut(fullName, "/")
	return owner, repo, nil
}

// FetchStargazers lists every stargazer of owner/repo with its star time, in
// the order GitHub returns them (oldest first).
func (g *GitHubAdapter) FetchStargazers(ctx context.Context, owner, repo string) ([]GitHubStargazer, error) {
	next := fmt.Sprintf("%s/repos/%s/%s/stargazers?per_page=%d", g.cfg.BaseURL,
		url.PathEscape(owner), url.PathEscape(repo), g.cfg.PerPage)

	var all []GitHubStargazer
	for next != "" {
		var page []GitHubStargazer
		header, err := g.client.GetJSON(ctx, next, &page, resilience.WithAccept(starMediaType))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch stargazers: %w", err)
		}
		all = append(all, page...)

		if g.cfg.MaxStargazers > 0 && len(all) >= g.cfg.MaxStargazers {
			return all[:g.cfg.MaxStargazers], nil
		}
		next = nextLink(header)
		if len(page) == 0 {
			break
		}
	}
	return all, nil
}

// FetchUser fetches a user profile. A missing account returns (nil, nil).
func (g *GitHubAdapter) FetchUser(ctx context.Context, login string) (*GitHubUser, error) {
	var user GitHubUser
	_, err := g.client.GetJSON(ctx, fmt.Sprintf("%s/users/%s", g.cfg.BaseURL, url.PathEscape(login)), &user)
	if stderrors.Is(err, resilience.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", login, err)
	}
	return &user, nil
}

// FetchActivity returns lifetime commit, pull request and issue counts plus the
// number of public events in GitHub's trailing 90-day window.
func (g *GitHubAdapter) FetchActivity(ctx context.Context, login string) (commits, prs, issues, recent int, err error) {
	search := func(path, q string) (int, error) {
		var res searchResult
		u := fmt.Sprintf("%s/search/%s?per_page=1&q=%s", g.cfg.BaseURL, path, url.QueryEscape(q))
		if _, err := g.client.GetJSON(ctx, u, &res); err != nil {
			return 0, err
		}
		return res.TotalCount, nil
	}

	if commits, err = search("commits", "author:"+login); err != nil {
		return
	}
	if prs, err = search("issues", "type:pr author:"+login); err != nil {
		return
	}
	if issues, err = search("issues", "type:issue author:"+login); err != nil {
		return
	}

	var events []struct {
		Type string `json:"type"`
	}
	if _, err = g.client.GetJSON(ctx, fmt.Sprintf("%s/users/%s/events/public?per_page=100", g.cfg.BaseURL, url.PathEscape(login)), &events); err != nil {
		return
	}
	recent = len(events)
	return
}

// FetchRepository collects one enriched record per stargazer of fullName.
// Profiles are fetched concurrently; output order follows the stargazer listing.
func (g *GitHubAdapter) FetchRepository(ctx context.Context, fullName string) ([]types.RawStarRecord, error) {
	owner, repo, err := ParseRepository(fullName)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	stargazers, err := g.FetchStargazers(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	g.logger.Info("Stargazers listed", "repository", fullName, "count", len(stargazers))

	records := make([]types.RawStarRecord, len(stargazers))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)
	for i := range stargazers {
		eg.Go(func() error {
			rec, err := g.enrich(egCtx, stargazers[i])
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	g.logger.Info("Repository collected", "repository", fullName, "records", len(records), "duration_ms", time.Since(started).Milliseconds())
	return records, nil
}

func (g *GitHubAdapter) enrich(ctx context.Context, sg GitHubStargazer) (types.RawStarRecord, error) {
	rec := types.RawStarRecord{Username: sg.User.Login, StarredAt: sg.StarredAt}

	user, err := g.FetchUser(ctx, sg.User.Login)
	if err != nil {
		return rec, err
	}
	if user == nil {
		rec.Status = types.StatusDeleted
		return rec, nil
	}

	rec.AccountCreated = user.CreatedAt
	rec.PublicRepos = user.PublicRepos
	rec.Followers = user.Followers
	rec.Following = user.Following
	rec.Bio = deref(user.Bio)
	rec.Company = deref(user.Company)
	rec.Location = deref(user.Location)

	if !g.cfg.FetchActivity {
		return rec, nil
	}
	commits, prs, issues, recent, err := g.FetchActivity(ctx, user.Login)
	if err != nil {
		// Missing activity leaves the counts unknown; the record is still usable.
		g.logger.Warn("Activity lookup failed", "login", user.Login, "error", err)
		return rec, nil
	}
	rec.Commits = types.IntPtr(commits)
	rec.PullRequests = types.IntPtr(prs)
	rec.Issues = types.IntPtr(issues)
	rec.RecentEvents = types.IntPtr(recent)
	return rec, nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// nextLink extracts the rel="next" URL of a paginated response.
func nextLink(h http.Header) string {
	m := linkNext.FindStringSubmatch(h.Get("Link"))
	if m == nil {
		return ""
	}
	return m[1]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
