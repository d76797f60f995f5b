package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/complyscan/site-analyser/internal/analysis"
	"github.com/complyscan/site-analyser/internal/botdetect"
	"github.com/complyscan/site-analyser/internal/certcheck"
)

// FetchStage captures content for a URL through a Fetcher collaborator.
// It is the primary stage: its failure fails the whole URL.
type FetchStage struct {
	fetcher analysis.Fetcher
}

// NewFetchStage builds the primary content-capture stage.
func NewFetchStage(fetcher analysis.Fetcher) *FetchStage {
	return &FetchStage{fetcher: fetcher}
}

func (s *FetchStage) Name() string    { return StageFetch }
func (s *FetchStage) Version() string { return "1.0.0" }

// Run fetches the URL. Transport errors propagate so the retry wrapper sees
// them; an unreachable site reported by the fetcher is recorded as data.
func (s *FetchStage) Run(ctx context.Context, st *State) (Outcome, error) {
	resp, err := s.fetcher.Fetch(ctx, st.Result.URL)
	if err != nil {
		return OutcomeApplied, fmt.Errorf("fetch %s: %w", st.Result.URL, err)
	}

	res := st.Result
	res.Reachable = resp.Reachable
	if !resp.Reachable {
		// The site did not load; downstream stages still run on whatever
		// evidence was captured, but the URL can no longer succeed.
		res.Escalate(analysis.StatusFailed)
	}
	res.HTML = resp.HTML
	res.Title = resp.Title
	if resp.FinalURL != "" && resp.FinalURL != res.URL {
		res.FinalURL = resp.FinalURL
	}
	if resp.LoadTime > 0 {
		ms := resp.LoadTime.Milliseconds()
		res.LoadTimeMs = &ms
	}
	if resp.Error != "" {
		res.ErrorMessage = resp.Error
	}
	st.Screenshot = resp.Screenshot
	return OutcomeApplied, nil
}

// CertificateStage runs the certificate validator. Certificate failures are
// recorded as data; this stage itself never errors and is never retried
// beyond its single delegation.
type CertificateStage struct {
	validator *certcheck.Validator
}

// NewCertificateStage wraps the validator as a chain stage.
func NewCertificateStage(validator *certcheck.Validator) *CertificateStage {
	return &CertificateStage{validator: validator}
}

func (s *CertificateStage) Name() string    { return StageCertificate }
func (s *CertificateStage) Version() string { return certcheck.Version }

func (s *CertificateStage) Run(ctx context.Context, st *State) (Outcome, error) {
	cert := s.validator.Validate(ctx, st.Result.URL)
	st.Result.Certificate = &cert
	return OutcomeApplied, nil
}

// BotProtectionStage scores the captured evidence. It runs on HTML, on error
// text alone, or on both; with neither it is skipped.
type BotProtectionStage struct{}

// NewBotProtectionStage builds the scoring stage.
func NewBotProtectionStage() *BotProtectionStage {
	return &BotProtectionStage{}
}

func (s *BotProtectionStage) Name() string    { return StageBotProtection }
func (s *BotProtectionStage) Version() string { return botdetect.Version }

func (s *BotProtectionStage) Run(_ context.Context, st *State) (Outcome, error) {
	res := st.Result
	var extra []string
	// A site that refuses to load behind a valid HTTPS certificate is a
	// common bot-protection fingerprint.
	if !res.Reachable && res.Certificate != nil && res.Certificate.HasTLS && res.Certificate.Valid {
		extra = append(extra, "valid_ssl_but_blocked_access")
	}
	if res.HTML == "" && res.ErrorMessage == "" && len(extra) == 0 {
		return OutcomeSkipped, nil
	}
	res.BotProtection = botdetect.Score(res.HTML, res.ErrorMessage, extra...)
	return OutcomeApplied, nil
}

// ScreenshotStage stores captured screenshot bytes through a BlobStore and
// records the resulting URI. Skipped when the fetch produced no screenshot.
type ScreenshotStage struct {
	store  analysis.BlobStore
	hasher analysis.Hasher
	prefix string
}

// NewScreenshotStage builds the screenshot persistence stage.
func NewScreenshotStage(store analysis.BlobStore, hasher analysis.Hasher, prefix string) *ScreenshotStage {
	return &ScreenshotStage{store: store, hasher: hasher, prefix: prefix}
}

func (s *ScreenshotStage) Name() string    { return StageScreenshot }
func (s *ScreenshotStage) Version() string { return "1.0.0" }

func (s *ScreenshotStage) Run(ctx context.Context, st *State) (Outcome, error) {
	if len(st.Screenshot) == 0 || s.store == nil {
		return OutcomeSkipped, nil
	}
	hash, err := s.hasher.Hash(st.Screenshot)
	if err != nil {
		return OutcomeApplied, fmt.Errorf("hash screenshot: %w", err)
	}
	uri, err := s.store.PutObject(ctx, s.blobPath(hash), "image/png", st.Screenshot)
	if err != nil {
		return OutcomeApplied, fmt.Errorf("store screenshot: %w", err)
	}
	st.Result.ScreenshotURI = uri
	return OutcomeApplied, nil
}

func (s *ScreenshotStage) blobPath(hash string) string {
	prefix := strings.Trim(s.prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s.png", hash)
	}
	return fmt.Sprintf("%s/%s.png", prefix, hash)
}
