// Package miner searches GitHub for security-fix commits in Python
// repositories and assembles before/after pair records from their diffs.
package miner

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/time/rate"

	"github.com/julianshen/snipvet/internal/corpus"
)

// Family terms used to anchor commit searches. Quoted phrases must survive
// into the query string as-is.
var defaultFamilyTerms = []string{
	`"SQL injection"`,
	`"command injection"`,
	`"shell injection"`,
	`"path traversal"`,
	`"unsafe deserialization"`,
	`"insecure deserialization"`,
	`"code injection"`,
	`"remote code execution"`,
	`XSS`,
	`SSRF`,
}

// Queries builds one commit search query per family term, scoped to Python.
func Queries(terms []string) []string {
	if len(terms) == 0 {
		terms = defaultFamilyTerms
	}
	queries := make([]string, 0, len(terms))
	for _, term := range terms {
		queries = append(queries, fmt.Sprintf("%s fix language:python", term))
	}
	return queries
}

// Miner drives the GitHub API under a client-side rate limit.
type Miner struct {
	client   *github.Client
	limiter  *rate.Limiter
	maxPairs int
}

// Options configures a Miner.
type Options struct {
	Token             string
	RequestsPerSecond float64
	MaxPairs          int
}

// NewMiner builds a Miner. The rate limit defaults to one request per
// second; GitHub's secondary limits punish anything careless.
func NewMiner(opts Options) *Miner {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	maxPairs := opts.MaxPairs
	if maxPairs <= 0 {
		maxPairs = 200
	}
	client := github.NewClient(nil)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	return &Miner{
		client:   client,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		maxPairs: maxPairs,
	}
}

// Mine runs every query and collects pair skeletons until maxPairs is
// reached. Per-commit failures are skipped; only context cancellation and
// search-level failures abort.
func (m *Miner) Mine(ctx context.Context, queries []string) ([]corpus.PairRecord, error) {
	var pairs []corpus.PairRecord
	for _, q := range queries {
		if len(pairs) >= m.maxPairs {
			break
		}
		found, err := m.mineQuery(ctx, q, m.maxPairs-len(pairs))
		if err != nil {
			return pairs, err
		}
		pairs = append(pairs, found...)
	}
	return pairs, nil
}

func (m *Miner) mineQuery(ctx context.Context, query string, budget int) ([]corpus.PairRecord, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	result, _, err := m.client.Search.Commits(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 30},
	})
	if err != nil {
		return nil, fmt.Errorf("search commits %q: %w", query, err)
	}

	var pairs []corpus.PairRecord
	for _, hit := range result.Commits {
		if len(pairs) >= budget {
			break
		}
		repo := hit.GetRepository()
		owner := repo.GetOwner().GetLogin()
		name := repo.GetName()
		sha := hit.GetSHA()
		if owner == "" || name == "" || sha == "" {
			continue
		}

		found, err := m.minePairs(ctx, owner, name, sha)
		if err != nil {
			// One bad commit never aborts the batch.
			continue
		}
		pairs = append(pairs, found...)
	}
	return pairs, nil
}

// minePairs fetches one fix commit and builds a pair record per changed
// Python file: the parent revision is the vulnerable side, the commit the
// secure side.
func (m *Miner) minePairs(ctx context.Context, owner, repo, sha string) ([]corpus.PairRecord, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	commit, _, err := m.client.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return nil, fmt.Errorf("get commit %s: %w", sha, err)
	}
	if len(commit.Parents) == 0 {
		return nil, nil
	}
	parent := commit.Parents[0].GetSHA()

	var pairs []corpus.PairRecord
	for _, file := range commit.Files {
		path := file.GetFilename()
		if !isPythonPath(path) || file.GetStatus() != "modified" {
			continue
		}

		before, err := m.fileContent(ctx, owner, repo, path, parent)
		if err != nil {
			continue
		}
		after, err := m.fileContent(ctx, owner, repo, path, sha)
		if err != nil {
			continue
		}
		if cosmeticOnly(before, after) {
			continue
		}

		rec := corpus.PairRecord{
			Key: corpus.PairKey{Owner: owner, Repo: repo, File: path},
			LLM: corpus.LLMRecord{VulnerableCode: before, SecureCode: after},
		}
		rec.FillKey()
		pairs = append(pairs, rec)
	}
	return pairs, nil
}

func (m *Miner) fileContent(ctx context.Context, owner, repo, path, ref string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	content, _, _, err := m.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", err
	}
	if content == nil {
		return "", fmt.Errorf("%s@%s is not a file", path, ref)
	}
	text, err := content.GetContent()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s@%s is empty", path, ref)
	}
	return text, nil
}
