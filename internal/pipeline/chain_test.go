package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/complyscan/site-analyser/internal/analysis"
	"github.com/complyscan/site-analyser/internal/certcheck"
)

type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

type scriptedFetcher struct {
	mu    sync.Mutex
	calls int
	fails int
	resp  analysis.FetchResult
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) (analysis.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return analysis.FetchResult{}, errors.New("connection reset")
	}
	resp := f.resp
	if resp.FinalURL == "" {
		resp.FinalURL = url
	}
	return resp, nil
}

type fakeCertFetcher struct {
	info certcheck.CertInfo
	err  error
}

func (f fakeCertFetcher) FetchCertificate(context.Context, string, int) (certcheck.CertInfo, error) {
	return f.info, f.err
}

type memoryBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{objects: make(map[string][]byte)}
}

func (s *memoryBlobStore) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

type fakeHasher struct{}

func (fakeHasher) Hash([]byte) (string, error) { return "deadbeef", nil }

type flakyStage struct {
	mu    sync.Mutex
	name  string
	calls int
	fails int
}

func (s *flakyStage) Name() string    { return s.name }
func (s *flakyStage) Version() string { return "test" }

func (s *flakyStage) Run(context.Context, *State) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.fails {
		return OutcomeApplied, errors.New("transient")
	}
	return OutcomeApplied, nil
}

func testPolicy(attempts int) analysis.RetryPolicy {
	return analysis.RetryPolicy{MaxAttempts: attempts, Delay: time.Millisecond}
}

func newTestChain(stages []Stage, attempts int) *Chain {
	return NewChain(stages, testPolicy(attempts), fakeClock{now: time.Now()}, zap.NewNop())
}

func fullStages(fetcher analysis.Fetcher, cf certcheck.CertFetcher, blobs analysis.BlobStore) []Stage {
	validator := certcheck.New(cf, fakeClock{now: time.Now()}, zap.NewNop())
	return []Stage{
		NewFetchStage(fetcher),
		NewCertificateStage(validator),
		NewBotProtectionStage(),
		NewScreenshotStage(blobs, fakeHasher{}, "screens"),
	}
}

func TestChainAllStagesSucceed(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{
		Reachable:  true,
		HTML:       "<html><title>ok</title></html>",
		Title:      "ok",
		LoadTime:   120 * time.Millisecond,
		Screenshot: []byte{1, 2, 3},
	}}
	certs := fakeCertFetcher{info: certcheck.CertInfo{
		NotAfter:           "Jan  1 00:00:00 2030 GMT",
		IssuerOrganization: "Test CA",
	}}
	blobs := newMemoryBlobStore()

	chain := newTestChain(fullStages(fetcher, certs, blobs), 3)
	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusSuccess, res.Status)
	require.True(t, res.Reachable)
	require.NotNil(t, res.LoadTimeMs)
	require.Equal(t, int64(120), *res.LoadTimeMs)
	require.NotNil(t, res.Certificate)
	require.True(t, res.Certificate.Valid)
	require.False(t, res.BotProtection.Detected)
	require.Equal(t, "mem://screens/deadbeef.png", res.ScreenshotURI)

	for _, stage := range []string{StageFetch, StageCertificate, StageBotProtection, StageScreenshot} {
		require.Equal(t, 1, res.RetryCounts[stage], "stage %s", stage)
		require.Contains(t, res.StageDurationsMs, stage)
	}
}

func TestChainFetchFailsAfterRetries(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{fails: 99}
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{}, newMemoryBlobStore()), 3)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusFailed, res.Status)
	require.Equal(t, 3, fetcher.calls)
	require.Equal(t, 3, res.RetryCounts[StageFetch])
	require.NotEmpty(t, res.ErrorMessage)

	// Downstream stages are skipped entirely: no entries recorded.
	require.NotContains(t, res.RetryCounts, StageCertificate)
	require.NotContains(t, res.RetryCounts, StageBotProtection)
	require.NotContains(t, res.StageDurationsMs, StageCertificate)
	require.NotContains(t, res.StageDurationsMs, StageBotProtection)
	require.Nil(t, res.Certificate)
}

func TestChainDownstreamRecoversKeepsSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{Reachable: true, HTML: "<html>fine</html>"}}
	flaky := &flakyStage{name: "flaky", fails: 1}
	stages := []Stage{NewFetchStage(fetcher), flaky}

	chain := newTestChain(stages, 2)
	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusSuccess, res.Status)
	require.Equal(t, 2, flaky.calls)
	require.Equal(t, 2, res.RetryCounts["flaky"])
}

func TestChainDownstreamExhaustionEscalatesToPartial(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{Reachable: true, HTML: "<html>fine</html>"}}
	broken := &flakyStage{name: "broken", fails: 99}
	after := &flakyStage{name: "after"}
	stages := []Stage{NewFetchStage(fetcher), broken, after}

	chain := newTestChain(stages, 2)
	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusPartial, res.Status)
	require.Equal(t, 2, res.RetryCounts["broken"])
	// Later stages still run after a non-primary failure.
	require.Equal(t, 1, after.calls)
}

func TestChainBotProtectionRunsOnErrorTextAlone(t *testing.T) {
	t.Parallel()

	// Fetch completes but reports the site blocked; no HTML captured.
	fetcher := &scriptedFetcher{resp: analysis.FetchResult{
		Reachable: false,
		Error:     "HTTP 403 Forbidden: access denied",
	}}
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{err: errors.New("refused")}, newMemoryBlobStore()), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusFailed, res.Status)
	require.True(t, res.BotProtection.Detected)
	require.Contains(t, res.BotProtection.Indicators, "http_403_forbidden")
	require.Contains(t, res.RetryCounts, StageBotProtection)
}

func TestChainBotProtectionSkippedWithoutEvidence(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{Reachable: true}}
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{err: errors.New("refused")}, newMemoryBlobStore()), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusSuccess, res.Status)
	require.False(t, res.BotProtection.Detected)
	require.NotContains(t, res.RetryCounts, StageBotProtection)
	require.NotContains(t, res.StageDurationsMs, StageBotProtection)
}

func TestChainValidCertButBlockedFeedsScorer(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{Reachable: false}}
	certs := fakeCertFetcher{info: certcheck.CertInfo{NotAfter: "Jan  1 00:00:00 2030 GMT"}}
	chain := newTestChain(fullStages(fetcher, certs, newMemoryBlobStore()), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusFailed, res.Status)
	require.Contains(t, res.BotProtection.Indicators, "valid_ssl_but_blocked_access")
	require.True(t, res.BotProtection.Detected)
}

func TestChainScreenshotSkippedWithoutBytes(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{Reachable: true, HTML: "<html>x</html>"}}
	blobs := newMemoryBlobStore()
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{err: errors.New("refused")}, blobs), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Empty(t, res.ScreenshotURI)
	require.NotContains(t, res.RetryCounts, StageScreenshot)
	require.Empty(t, blobs.objects)
}

func TestChainScreenshotStoreFailureEscalatesToPartial(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{
		Reachable:  true,
		HTML:       "<html>x</html>",
		Screenshot: []byte{9},
	}}
	blobs := newMemoryBlobStore()
	blobs.err = errors.New("bucket unavailable")
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{err: errors.New("refused")}, blobs), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusPartial, res.Status)
	require.Equal(t, 2, res.RetryCounts[StageScreenshot])
}

func TestChainKeepsFirstErrorMessage(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{
		Reachable:  false,
		Error:      "HTTP 403 Forbidden",
		HTML:       "<html>Access denied</html>",
		Screenshot: []byte{9},
	}}
	blobs := newMemoryBlobStore()
	blobs.err = errors.New("bucket unavailable")
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{err: errors.New("refused")}, blobs), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, analysis.StatusFailed, res.Status)
	require.Equal(t, "HTTP 403 Forbidden", res.ErrorMessage)
}

func TestChainRecordsStageVersions(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{resp: analysis.FetchResult{Reachable: true, HTML: "<html>cloudflare</html>"}}
	chain := newTestChain(fullStages(fetcher, fakeCertFetcher{err: errors.New("refused")}, newMemoryBlobStore()), 2)

	res := chain.Analyze(context.Background(), "https://example.com")

	require.Equal(t, "1.0.0", res.StageVersions[StageFetch])
	require.Equal(t, "1.0.0", res.StageVersions[StageBotProtection])
	require.NotContains(t, res.StageVersions, StageScreenshot)
}
