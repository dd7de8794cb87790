// Package analysis runs profile classification through the LLM: single
// profiles on demand and id batches chunked to share prompt overhead.
package analysis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/finsight-io/finsight/internal/apperr"
	"github.com/finsight-io/finsight/internal/config"
	"github.com/finsight-io/finsight/internal/model"
	"github.com/finsight-io/finsight/internal/store"
	"github.com/finsight-io/finsight/pkg/llm"
)

// Pipeline coordinates profile analysis.
type Pipeline struct {
	store store.Store
	llm   llm.Client
	cfg   config.AnalysisConfig

	// sleep is context-aware and overridden in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewPipeline builds an analysis pipeline.
func NewPipeline(st store.Store, client llm.Client, cfg config.AnalysisConfig) *Pipeline {
	return &Pipeline{
		store: st,
		llm:   client,
		cfg:   cfg,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// AnalyzeProfile classifies one profile. An analysis created within the
// recency window is returned as-is unless force is set; every fresh
// classification appends an immutable row.
func (p *Pipeline) AnalyzeProfile(ctx context.Context, profileID int64, force bool) (*model.FinancialAnalysis, error) {
	profile, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	if !force {
		latest, err := p.store.LatestAnalysisForProfile(ctx, profile.ID)
		if err != nil {
			return nil, err
		}
		if latest != nil && time.Since(latest.CreatedAt) < p.cfg.Recency() {
			zap.L().Info("analysis: recent analysis exists, skipping",
				zap.Int64("profile_id", profile.ID),
			)
			return latest, nil
		}
	}

	if profile.AnalyzableText() == "" {
		return nil, apperr.Precondition("no analyzable content for profile %d", profile.ID)
	}

	resp, err := p.llm.Generate(ctx, llm.GenerateRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    singleSystemPrompt,
		Prompt:    singlePrompt(profile),
	})
	if err != nil {
		return nil, apperr.Upstream("profile analysis", err)
	}
	resp.Usage.LogCost(p.cfg.Model, "analyze_profile")

	res, err := parseSingle(resp.Text)
	if err != nil {
		zap.L().Warn("analysis: bad model response",
			zap.Int64("profile_id", profile.ID),
			zap.Error(err),
		)
		return nil, err
	}

	saved, err := p.store.CreateAnalysis(ctx, model.FinancialAnalysis{
		ProfileID:    profile.ID,
		Status:       model.FinancialStatus(res.FinancialStatus),
		Confidence:   res.ConfidenceScore,
		Summary:      res.AnalysisSummary,
		Indicators:   res.Indicators,
		Model:        p.cfg.Model,
		PromptTokens: resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.Total(),
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("analysis: profile classified",
		zap.Int64("profile_id", profile.ID),
		zap.String("status", string(saved.Status)),
		zap.Float64("confidence", saved.Confidence),
	)
	return saved, nil
}

// BatchAnalyzeProfiles classifies the given profiles in chunks of the
// configured batch size. Profiles with a recent analysis are skipped
// (unless force). A failure inside one chunk is recorded against that
// chunk's profiles and never aborts the remaining chunks.
func (p *Pipeline) BatchAnalyzeProfiles(ctx context.Context, profileIDs []int64, force bool) (*model.BatchResult, error) {
	profiles, err := p.store.GetProfilesByIDs(ctx, profileIDs)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, apperr.NotFound("profiles", profileIDs)
	}

	result := &model.BatchResult{}

	if !force {
		fresh := profiles[:0]
		for _, profile := range profiles {
			latest, err := p.store.LatestAnalysisForProfile(ctx, profile.ID)
			if err != nil {
				return nil, err
			}
			if latest != nil && time.Since(latest.CreatedAt) < p.cfg.Recency() {
				result.Skipped++
				continue
			}
			fresh = append(fresh, profile)
		}
		profiles = fresh
	}

	if len(profiles) == 0 {
		zap.L().Info("analysis: all profiles have recent analyses",
			zap.Int("skipped", result.Skipped),
		)
		return result, nil
	}

	batchSize := p.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	for start, chunkNo := 0, 1; start < len(profiles); start, chunkNo = start+batchSize, chunkNo+1 {
		end := min(start+batchSize, len(profiles))
		chunk := profiles[start:end]

		zap.L().Info("analysis: processing chunk",
			zap.Int("chunk", chunkNo),
			zap.Int("profiles", len(chunk)),
		)

		analyses, errs, tokens := p.analyzeChunk(ctx, chunk, chunkNo)
		result.Results = append(result.Results, analyses...)
		result.Errors = append(result.Errors, errs...)
		result.TotalTokens += tokens

		if end < len(profiles) {
			p.sleep(ctx, p.cfg.BatchDelay())
		}
		if ctx.Err() != nil {
			break
		}
	}

	result.Processed = len(result.Results)
	return result, nil
}

// analyzeChunk classifies one chunk with a single model call. A call or
// whole-response failure yields one error naming every profile in the
// chunk; element-level failures are already per-profile.
func (p *Pipeline) analyzeChunk(ctx context.Context, chunk []model.UserProfile, chunkNo int) ([]model.FinancialAnalysis, []model.BatchError, int64) {
	ids := make([]int64, len(chunk))
	known := make(map[int64]bool, len(chunk))
	for i, profile := range chunk {
		ids[i] = profile.ID
		known[profile.ID] = true
	}

	resp, err := p.llm.Generate(ctx, llm.GenerateRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    batchSystemPrompt,
		Prompt:    batchPrompt(chunk),
	})
	if err != nil {
		zap.L().Error("analysis: chunk model call failed",
			zap.Int("chunk", chunkNo),
			zap.Error(err),
		)
		return nil, []model.BatchError{{Chunk: chunkNo, ProfileIDs: ids, Reason: apperr.Upstream("profile analysis", err).Error()}}, 0
	}
	resp.Usage.LogCost(p.cfg.Model, "batch_analyze_profiles")

	results, errs, err := parseBatch(resp.Text)
	if err != nil {
		zap.L().Error("analysis: chunk response unparsable",
			zap.Int("chunk", chunkNo),
			zap.Error(err),
		)
		return nil, []model.BatchError{{Chunk: chunkNo, ProfileIDs: ids, Reason: err.Error()}}, resp.Usage.Total()
	}
	for i := range errs {
		errs[i].Chunk = chunkNo
	}

	analyses := make([]model.FinancialAnalysis, 0, len(results))
	for _, res := range results {
		if !known[res.ProfileID] {
			errs = append(errs, model.BatchError{
				ProfileID: res.ProfileID,
				Chunk:     chunkNo,
				Reason:    "profile not in requested chunk",
			})
			continue
		}
		analyses = append(analyses, model.FinancialAnalysis{
			ProfileID:    res.ProfileID,
			Status:       model.FinancialStatus(res.FinancialStatus),
			Confidence:   res.ConfidenceScore,
			Summary:      res.AnalysisSummary,
			Indicators:   res.Indicators,
			Model:        p.cfg.Model,
			PromptTokens: resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.Total(),
		})
	}

	if len(analyses) > 0 {
		saved, err := p.store.CreateAnalyses(ctx, analyses)
		if err != nil {
			return nil, append(errs, model.BatchError{Chunk: chunkNo, ProfileIDs: ids, Reason: err.Error()}), resp.Usage.Total()
		}
		analyses = saved
	}
	return analyses, errs, resp.Usage.Total()
}
