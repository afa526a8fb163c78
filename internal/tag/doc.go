// Package tag implements relevance ranking of registered tools against
// free-text queries.
//
// The strategy scores each tool by comparing the query against the tool's
// tags and description: verbatim tag matches weigh heaviest, with keyword
// overlap contributing a configurable fraction per hit. When nothing scores
// positive the strategy falls back to the unscored tool set so callers
// always receive candidates for a non-empty query against a non-empty
// repository.
//
// Results are capped by the caller-supplied limit and ordered by descending
// score, with ties resolved by repository insertion order.
package tag
