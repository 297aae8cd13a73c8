// Package ingest implements ground-truth extraction from a GitHub
// repository's merged pull request history, via the GitHub REST v3
// API. It is the Go analogue of the reference httpx-based client:
// paginated listing, rate-limit-aware backoff, and diff truncation.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/echelon-labs/verify/infrastructure/httputil"
	"github.com/echelon-labs/verify/infrastructure/resilience"
	"github.com/echelon-labs/verify/internal/app/apperr"
	"github.com/echelon-labs/verify/internal/app/domain"
	"github.com/echelon-labs/verify/pkg/config"
	"github.com/echelon-labs/verify/pkg/logger"
)

const (
	maxDiffBytes     = 100_000
	rateLimitFloor   = 10
	maxBackoffSecs   = 60
	backoffAttempts  = 5
	githubAPIBaseURL = "https://api.github.com"
)

var repoURLPattern = regexp.MustCompile(`(?:https?://github\.com/)?([^/]+)/([^/.]+?)(?:\.git)?/?$`)

// parseRepo extracts owner and repo name from any of the accepted
// GitHub URL forms: full https URL, with or without ".git", or a bare
// "owner/name" shorthand.
func parseRepo(repoURL string) (owner, name string, err error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(repoURL))
	if m == nil {
		return "", "", apperr.Configuration("invalid GitHub repo URL: %q", repoURL)
	}
	return m[1], m[2], nil
}

// ParseRepoSlug is the exported form of parseRepo, returning the
// "owner/name" slug directly. Used by callers (the orchestrator) that
// need the same repo directory naming the Ingester uses internally,
// without constructing a full Ingester.
func ParseRepoSlug(repoURL string) (string, error) {
	owner, name, err := parseRepo(repoURL)
	if err != nil {
		return "", err
	}
	return owner + "/" + name, nil
}

// Ingester pulls merged-PR ground truth from one GitHub repository.
type Ingester struct {
	cfg    config.IngestionConfig
	owner  string
	repo   string
	client *http.Client
	log    *logger.Logger

	rateLimitRemaining int
	rateLimitReset     time.Time
}

// New constructs an Ingester for the repository named in cfg.RepoURL.
func New(cfg config.IngestionConfig, log *logger.Logger) (*Ingester, error) {
	owner, repo, err := parseRepo(cfg.RepoURL)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	return &Ingester{
		cfg:                cfg,
		owner:              owner,
		repo:               repo,
		client:             httputil.CopyHTTPClientWithTimeout(nil, 30*time.Second, true),
		log:                log,
		rateLimitRemaining: 60,
		rateLimitReset:     time.Now().UTC(),
	}, nil
}

// RepoSlug returns the "owner/name" identifier for this ingester's repo.
func (g *Ingester) RepoSlug() string { return g.owner + "/" + g.repo }

// Ingest fetches the configured number of merged pull requests, fetches
// each one's diff, and returns the resulting ground-truth records. A
// single PR that fails to process (bad diff fetch, bad timestamp) is
// logged and skipped; it never aborts the whole ingestion.
func (g *Ingester) Ingest(ctx context.Context) ([]domain.GroundTruthRecord, error) {
	prs, err := g.fetchPRs(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]domain.GroundTruthRecord, 0, len(prs))
	for _, pr := range prs {
		rec, err := g.toRecord(ctx, pr)
		if err != nil {
			g.log.WithField("pr_number", pr.Number).WithField("err", err).Warn("failed to process pull request, skipping")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (g *Ingester) toRecord(ctx context.Context, pr pullRequest) (domain.GroundTruthRecord, error) {
	diff, err := g.fetchDiff(ctx, pr.Number)
	if err != nil {
		return domain.GroundTruthRecord{}, err
	}

	files := extractFilesChanged(diff)
	if len(files) == 0 {
		for _, f := range pr.Files {
			files = append(files, f.Filename)
		}
	}

	mergedAt, err := time.Parse(time.RFC3339, pr.MergedAt)
	if err != nil {
		return domain.GroundTruthRecord{}, apperr.Wrap(apperr.CodeTransport, "parse merged_at timestamp", err)
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.Name)
	}

	author := "unknown"
	if pr.User.Login != "" {
		author = pr.User.Login
	}

	return domain.GroundTruthRecord{
		ID:           strconv.Itoa(pr.Number),
		Title:        pr.Title,
		Description:  pr.Body,
		DiffContent:  truncateDiff(diff, maxDiffBytes),
		FilesChanged: files,
		Timestamp:    mergedAt,
		Labels:       labels,
		Author:       author,
		URL:          pr.HTMLURL,
		Repo:         g.RepoSlug(),
	}, nil
}

// pullRequest is the subset of the GitHub pull-request JSON envelope
// this ingester cares about.
type pullRequest struct {
	Number   int    `json:"number"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	MergedAt string `json:"merged_at"`
	HTMLURL  string `json:"html_url"`
	User     struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Files []struct {
		Filename string `json:"filename"`
	} `json:"files"`
}

func (g *Ingester) fetchPRs(ctx context.Context) ([]pullRequest, error) {
	var all []pullRequest
	page := 1
	perPage := g.cfg.Limit
	if perPage > 100 || perPage <= 0 {
		perPage = 100
	}

	sinceCutoff := strings.TrimSpace(g.cfg.Since)
	labelSet := make(map[string]struct{}, len(g.cfg.Labels))
	for _, l := range g.cfg.Labels {
		labelSet[l] = struct{}{}
	}

	for len(all) < g.cfg.Limit {
		if err := g.checkRateLimit(ctx); err != nil {
			return nil, err
		}

		url := fmt.Sprintf("%s/repos/%s/%s/pulls?state=closed&sort=updated&direction=desc&per_page=%d&page=%d",
			githubAPIBaseURL, g.owner, g.repo, perPage, page)

		resp, body, err := g.doRequest(ctx, url, "")
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusForbidden {
			g.handleRateLimit(ctx, resp)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, apperr.Newf(apperr.CodeTransport, "GitHub pulls request failed with status %d", resp.StatusCode)
		}

		var pagePRs []pullRequest
		if err := json.Unmarshal(body, &pagePRs); err != nil {
			return nil, apperr.Wrap(apperr.CodeTransport, "decode pull request page", err)
		}
		if len(pagePRs) == 0 {
			break
		}

		for _, pr := range pagePRs {
			if pr.MergedAt == "" {
				continue
			}
			if g.cfg.MergedOnly && pr.MergedAt == "" {
				continue
			}
			if len(labelSet) > 0 {
				matched := false
				for _, l := range pr.Labels {
					if _, ok := labelSet[l.Name]; ok {
						matched = true
						break
					}
				}
				if !matched {
					continue
				}
			}
			if sinceCutoff != "" && pr.MergedAt < sinceCutoff {
				continue
			}
			all = append(all, pr)
			if len(all) >= g.cfg.Limit {
				break
			}
		}

		link := resp.Header.Get("Link")
		if !strings.Contains(link, `rel="next"`) {
			break
		}
		page++
	}

	return all, nil
}

func (g *Ingester) fetchDiff(ctx context.Context, prNumber int) (string, error) {
	if err := g.checkRateLimit(ctx); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/repos/%s/%s/pulls/%d", githubAPIBaseURL, g.owner, g.repo, prNumber)
	accept := "application/vnd.github.v3.diff"

	resp, body, err := g.doRequest(ctx, url, accept)
	if err != nil {
		return "", err
	}

	if resp.StatusCode == http.StatusForbidden {
		g.handleRateLimit(ctx, resp)
		resp, body, err = g.doRequest(ctx, url, accept)
		if err != nil {
			return "", err
		}
	}
	if resp.StatusCode >= 400 {
		return "", apperr.Newf(apperr.CodeTransport, "GitHub diff request failed with status %d", resp.StatusCode)
	}
	return string(body), nil
}

func (g *Ingester) doRequest(ctx context.Context, url, accept string) (*http.Response, []byte, error) {
	var resp *http.Response
	var body []byte

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = 3
	err := resilience.Retry(ctx, retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		} else {
			req.Header.Set("Accept", "application/vnd.github.v3+json")
		}
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if g.cfg.GithubToken != "" {
			req.Header.Set("Authorization", "Bearer "+g.cfg.GithubToken)
		}

		r, err := g.client.Do(req)
		if err != nil {
			return err
		}
		defer r.Body.Close()

		b, _, err := httputil.ReadAllWithLimit(r.Body, 10<<20)
		if err != nil {
			return err
		}

		resp, body = r, b
		g.updateRateLimit(r)
		return nil
	})
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeTransport, "GitHub request failed", err)
	}
	return resp, body, nil
}

func (g *Ingester) updateRateLimit(resp *http.Response) {
	if remaining := resp.Header.Get("X-RateLimit-Remaining"); remaining != "" {
		if n, err := strconv.Atoi(remaining); err == nil {
			g.rateLimitRemaining = n
		}
	}
	if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
		if n, err := strconv.ParseInt(reset, 10, 64); err == nil {
			g.rateLimitReset = time.Unix(n, 0).UTC()
		}
	}
}

// checkRateLimit proactively sleeps until the reset time when remaining
// calls fall below the floor, rather than waiting to be rejected.
func (g *Ingester) checkRateLimit(ctx context.Context) error {
	if g.rateLimitRemaining >= rateLimitFloor {
		return nil
	}
	wait := time.Until(g.rateLimitReset)
	if wait <= 0 {
		return nil
	}
	g.log.WithField("remaining", g.rateLimitRemaining).WithField("wait_seconds", wait.Seconds()).Warn("rate limit low, backing off")
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// handleRateLimit backs off exponentially after a 403, capped at
// maxBackoffSecs per step and backoffAttempts total, returning early if
// the reset time has already passed.
func (g *Ingester) handleRateLimit(ctx context.Context, resp *http.Response) {
	g.updateRateLimit(resp)
	backoff := 1 * time.Second
	for i := 0; i < backoffAttempts; i++ {
		g.log.WithField("backoff_seconds", backoff.Seconds()).Warn("rate limited, backing off")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoffSecs*time.Second {
			backoff = maxBackoffSecs * time.Second
		}
		if time.Now().UTC().After(g.rateLimitReset) || time.Now().UTC().Equal(g.rateLimitReset) {
			return
		}
	}
}

// truncateDiff keeps diff headers and hunk markers unconditionally,
// plus changed (+/-) lines up to maxBytes, dropping context lines to
// save space once the budget is exhausted.
func truncateDiff(diff string, maxBytesBudget int) string {
	if len(diff) <= maxBytesBudget {
		return diff
	}

	lines := splitKeepEnds(diff)
	var b strings.Builder
	currentSize := 0

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "diff --git"), strings.HasPrefix(line, "---"),
			strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "@@"):
			b.WriteString(line)
			currentSize += len(line)
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			if currentSize+len(line) > maxBytesBudget {
				b.WriteString("+... [truncated]\n")
				return b.String()
			}
			b.WriteString(line)
			currentSize += len(line)
		}
	}
	return b.String()
}

func splitKeepEnds(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// extractFilesChanged pulls the changed file paths out of a unified
// diff's "+++ b/..." headers, skipping deletions ("/dev/null").
func extractFilesChanged(diff string) []string {
	var files []string
	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "+++ b/") {
			path := line[len("+++ b/"):]
			if path != "/dev/null" {
				files = append(files, path)
			}
		}
	}
	return files
}

