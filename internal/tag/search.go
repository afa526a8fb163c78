package tag

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"utcp/internal/repository"
	"utcp/internal/tools"
	"utcp/pkg/logging"
)

// DefaultDescriptionWeight is the score granted per keyword overlap between
// the query and a tool's tag words or description words. Exact tag matches
// always score a full point, so the default keeps keyword overlap on par
// with them; lower it to favor exact tag hits.
const DefaultDescriptionWeight = 1.0

var wordPattern = regexp.MustCompile(`\w+`)

// Search ranks tools by tag and description relevance against a free-text
// query. Scoring per tool:
//
//   - +1.0 for each tag contained verbatim in the query
//   - +descriptionWeight for each tag word present in the query word set
//   - +descriptionWeight for each description word (longer than two
//     characters) present in the query word set
//
// Ties keep repository insertion order. Tools with positive scores are
// preferred; only when no tool scores positive does the ranking fall back
// to the unscored set, so a vague query still surfaces something.
type Search struct {
	repo              repository.Repository
	descriptionWeight float64
}

// NewSearch builds a strategy over the repository with the default weight.
func NewSearch(repo repository.Repository) *Search {
	return &Search{repo: repo, descriptionWeight: DefaultDescriptionWeight}
}

// NewSearchWithWeight builds a strategy with a custom keyword weight.
func NewSearchWithWeight(repo repository.Repository, descriptionWeight float64) *Search {
	return &Search{repo: repo, descriptionWeight: descriptionWeight}
}

type scoredTool struct {
	tool  tools.Tool
	score float64
}

// SearchTools returns up to limit tools ranked by descending score.
// An empty or whitespace-only query returns an empty result, never the full
// repository. A limit of zero returns an empty result; negative limits are
// a validation error.
func (s *Search) SearchTools(ctx context.Context, query string, limit int) ([]tools.Tool, error) {
	if limit < 0 {
		return nil, tools.NewValidationError("limit", "must not be negative, got %d", limit)
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" || limit == 0 {
		return []tools.Tool{}, nil
	}

	queryWords := make(map[string]struct{})
	for _, w := range wordPattern.FindAllString(queryLower, -1) {
		queryWords[w] = struct{}{}
	}

	all, err := s.repo.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return []tools.Tool{}, nil
	}

	var positives, zeroes []scoredTool
	for _, t := range all {
		score := s.scoreTool(t, queryLower, queryWords)
		entry := scoredTool{tool: t, score: score}
		if score > 0 {
			positives = append(positives, entry)
		} else {
			zeroes = append(zeroes, entry)
		}
	}

	candidates := positives
	if len(candidates) == 0 {
		candidates = zeroes
	}

	// Stable sort preserves repository insertion order between equal scores.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]tools.Tool, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.tool)
	}

	logging.Debug("TagSearch", "query %q matched %d of %d tools (returning %d)",
		query, len(positives), len(all), len(out))
	return out, nil
}

func (s *Search) scoreTool(t tools.Tool, queryLower string, queryWords map[string]struct{}) float64 {
	var score float64

	for _, rawTag := range t.Tags {
		tagLower := strings.ToLower(rawTag)

		if strings.Contains(queryLower, tagLower) {
			score += 1.0
		}

		for _, w := range wordPattern.FindAllString(tagLower, -1) {
			if _, ok := queryWords[w]; ok {
				score += s.descriptionWeight
			}
		}
	}

	for _, w := range wordPattern.FindAllString(t.Description, -1) {
		word := strings.ToLower(w)
		if len(word) > 2 {
			if _, ok := queryWords[word]; ok {
				score += s.descriptionWeight
			}
		}
	}

	return score
}
