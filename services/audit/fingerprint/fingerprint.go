// Copyright (C) 2025 ashzak
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint records and compares behavioral baselines of
// running inference containers.
//
// # Description
//
// A fingerprint is an ordered set of prompt/response pairs collected
// from a standard prompt suite. Comparing two fingerprints aligns pairs
// by prompt ID and scores each matched pair by token-overlap distance
// between the response texts. Prompts present on only one side are
// structural mismatches; they are reported but excluded from the
// similarity denominator so an incomplete collection run does not read
// as a behavior change.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultTolerance is the distance under which a changed response still
// counts toward similarity.
const DefaultTolerance = 0.05

// PromptResponse is one recorded prompt/response pair.
type PromptResponse struct {
	PromptID     string  `json:"prompt_id"`
	Prompt       string  `json:"prompt"`
	Response     string  `json:"response"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	LatencyMS    float64 `json:"latency_ms"`
	ResponseHash string  `json:"response_hash,omitempty"`
}

// Record is one artifact version's behavioral fingerprint.
type Record struct {
	Reference      string            `json:"reference"`
	FingerprintID  string            `json:"fingerprint_id"`
	GeneratedAt    time.Time         `json:"generated_at"`
	Responses      []PromptResponse  `json:"responses"`
	AvgLatencyMS   float64           `json:"avg_latency_ms"`
	TotalTokensIn  int               `json:"total_tokens_in"`
	TotalTokensOut int               `json:"total_tokens_out"`
	EnvConfig      map[string]string `json:"env_config,omitempty"`
}

// MeanLatencyMS returns the recorded average latency, computing it from
// the responses when the stored aggregate is zero.
func (r *Record) MeanLatencyMS() float64 {
	if r.AvgLatencyMS > 0 {
		return r.AvgLatencyMS
	}
	if len(r.Responses) == 0 {
		return 0
	}
	var total float64
	for _, resp := range r.Responses {
		total += resp.LatencyMS
	}
	return total / float64(len(r.Responses))
}

// PairOutcome classifies one aligned prompt pair.
type PairOutcome string

const (
	OutcomeIdentical          PairOutcome = "identical"
	OutcomeWithinTolerance    PairOutcome = "within_tolerance"
	OutcomeDifferent          PairOutcome = "different"
	OutcomeStructuralMismatch PairOutcome = "structural_mismatch"
)

// PairResult is the per-prompt comparison outcome.
type PairResult struct {
	PromptID      string      `json:"prompt_id"`
	Outcome       PairOutcome `json:"outcome"`
	Distance      float64     `json:"distance"`
	SourceExcerpt string      `json:"source_excerpt,omitempty"`
	TargetExcerpt string      `json:"target_excerpt,omitempty"`
}

// Report is the full comparison result. The latency delta is
// informational only and never feeds the similarity score.
type Report struct {
	SourceReference      string       `json:"source_reference"`
	TargetReference      string       `json:"target_reference"`
	SimilarityScore      float64      `json:"similarity_score"`
	Pairs                []PairResult `json:"pairs"`
	MatchedPairs         int          `json:"matched_pairs"`
	Identical            int          `json:"identical"`
	WithinTolerance      int          `json:"within_tolerance"`
	Different            int          `json:"different"`
	StructuralMismatches int          `json:"structural_mismatches"`
	LatencyDeltaPct      float64      `json:"latency_delta_pct"`
}

// Compare aligns two records by prompt ID and scores every pair.
// Tolerance at or below zero falls back to DefaultTolerance behavior
// only when negative; zero is honored and demands exact matches.
func Compare(source, target *Record, tolerance float64) *Report {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}

	sourceByID := make(map[string]PromptResponse, len(source.Responses))
	for _, resp := range source.Responses {
		sourceByID[resp.PromptID] = resp
	}
	targetByID := make(map[string]PromptResponse, len(target.Responses))
	for _, resp := range target.Responses {
		targetByID[resp.PromptID] = resp
	}

	// Source order first, then target-only IDs in target order, so the
	// report is reproducible across runs.
	var ids []string
	seen := make(map[string]bool)
	for _, resp := range source.Responses {
		if !seen[resp.PromptID] {
			ids = append(ids, resp.PromptID)
			seen[resp.PromptID] = true
		}
	}
	for _, resp := range target.Responses {
		if !seen[resp.PromptID] {
			ids = append(ids, resp.PromptID)
			seen[resp.PromptID] = true
		}
	}

	report := &Report{
		SourceReference: source.Reference,
		TargetReference: target.Reference,
	}

	for _, id := range ids {
		src, inSource := sourceByID[id]
		tgt, inTarget := targetByID[id]

		if !inSource || !inTarget {
			pair := PairResult{PromptID: id, Outcome: OutcomeStructuralMismatch, Distance: 1}
			if inSource {
				pair.SourceExcerpt = excerpt(src.Response)
			}
			if inTarget {
				pair.TargetExcerpt = excerpt(tgt.Response)
			}
			report.Pairs = append(report.Pairs, pair)
			report.StructuralMismatches++
			continue
		}

		report.MatchedPairs++
		distance := tokenDistance(src.Response, tgt.Response)
		pair := PairResult{PromptID: id, Distance: distance}
		switch {
		case distance == 0:
			pair.Outcome = OutcomeIdentical
			report.Identical++
		case distance <= tolerance:
			pair.Outcome = OutcomeWithinTolerance
			report.WithinTolerance++
		default:
			pair.Outcome = OutcomeDifferent
			pair.SourceExcerpt = excerpt(src.Response)
			pair.TargetExcerpt = excerpt(tgt.Response)
			report.Different++
		}
		report.Pairs = append(report.Pairs, pair)
	}

	if report.MatchedPairs > 0 {
		report.SimilarityScore = float64(report.Identical+report.WithinTolerance) / float64(report.MatchedPairs)
	}

	if srcMean := source.MeanLatencyMS(); srcMean > 0 {
		report.LatencyDeltaPct = (target.MeanLatencyMS() - srcMean) / srcMean * 100
	}
	return report
}

// tokenDistance is one minus the Jaccard overlap of the lowercased
// token sets. Two empty responses are identical, not incomparable.
func tokenDistance(a, b string) float64 {
	aTokens := tokenSet(a)
	bTokens := tokenSet(b)
	if len(aTokens) == 0 && len(bTokens) == 0 {
		return 0
	}

	union := make(map[string]bool, len(aTokens)+len(bTokens))
	for tok := range aTokens {
		union[tok] = true
	}
	for tok := range bTokens {
		union[tok] = true
	}
	intersection := 0
	for tok := range aTokens {
		if bTokens[tok] {
			intersection++
		}
	}
	return 1 - float64(intersection)/float64(len(union))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = true
	}
	return set
}

// excerpt truncates a response to at most 100 bytes without splitting a
// multi-byte rune at the cut point.
func excerpt(s string) string {
	if len(s) <= 100 {
		return s
	}
	cut := 100
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Load reads a fingerprint record from a JSON file.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fingerprint %s: %w", path, err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse fingerprint %s: %w", path, err)
	}
	return &record, nil
}

// Save writes a fingerprint record to a JSON file, responses sorted by
// prompt ID for stable output.
func Save(record *Record, path string) error {
	sorted := *record
	sorted.Responses = append([]PromptResponse(nil), record.Responses...)
	sort.Slice(sorted.Responses, func(i, j int) bool {
		return sorted.Responses[i].PromptID < sorted.Responses[j].PromptID
	})

	data, err := json.MarshalIndent(&sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fingerprint: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write fingerprint %s: %w", path, err)
	}
	return nil
}
