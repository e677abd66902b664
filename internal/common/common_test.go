package common

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLoadScoringConfig_OverridesSomeKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("penalties:\n  schema: 0.5\npercent_tolerance: 2\nisin_checksum: true\n"), 0o644))

	cfg, err := LoadScoringConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Penalties.Schema)
	assert.Equal(t, 0.10, cfg.Penalties.Temporal)
	assert.Equal(t, 2.0, cfg.PercentTolerance)
	assert.True(t, cfg.ISINChecksum)
}

func TestLoadScoringConfig_RejectsInvalidWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoring.yaml")
	require.NoError(t, os.WriteFile(path, []byte("penalties:\n  schema: -1\n"), 0o644))

	_, err := LoadScoringConfig(path)
	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFIG_ERROR", appErr.Code)
}

func TestLoadConfig_ReadsEnvironment(t *testing.T) {
	t.Setenv("MIN_SCORE", "0.75")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("VISION_ENABLED", "false")
	t.Setenv("WATCH_DIRS", " /in/a , ,/in/b")
	t.Setenv("LLM_TIMEOUT", "30s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 0.75, cfg.Pipeline.MinScore)
	assert.Equal(t, 5, cfg.Pipeline.MaxRetries)
	assert.False(t, cfg.Vision.Enabled)
	assert.Equal(t, []string{"/in/a", "/in/b"}, cfg.Ingest.Roots)
	assert.Equal(t, "30s", cfg.LLM.Timeout.String())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_MinScoreRange(t *testing.T) {
	t.Setenv("MIN_SCORE", "1.5")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("x: %w", ErrInvalidInput), http.StatusBadRequest},
		{NewAppError("NOT_FOUND", "analysis", ErrNotFound), http.StatusNotFound},
		{RejectedError(0.3, 0.5), http.StatusUnprocessableEntity},
		{ErrTooLarge, http.StatusRequestEntityTooLarge},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestToStatus(t *testing.T) {
	assert.Nil(t, ToStatus(nil))

	st, _ := status.FromError(ToStatus(WrapError(ErrNotFound, "get analysis")))
	assert.Equal(t, codes.NotFound, st.Code())

	st, _ = status.FromError(ToStatus(RejectedError(0.1, 0.5)))
	assert.Equal(t, codes.FailedPrecondition, st.Code())

	orig := InvalidArgumentError("bad")
	assert.Equal(t, orig, ToStatus(orig))
}

func TestParams(t *testing.T) {
	p := NewParams().
		Field("id", "not-a-uuid", Required, UUID).
		Field("file", "report.docx", Required, PDFName).
		Field("format", "XML", OneOf("xml", "text")).
		Field("limit", 0, IntBetween(1, 1000))

	require.True(t, p.HasErrors())
	assert.Len(t, p.Errors(), 3)
	assert.ErrorIs(t, p.Err(), ErrInvalidInput)
	assert.Contains(t, p.Message(), "must be a valid UUID")

	ok := NewParams().
		Field("id", "7c9e6679-7425-40de-944b-e07fc1f90ae7", Required, UUID).
		Field("file", "kid.PDF", PDFName)
	assert.NoError(t, ok.Err())
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithAnalysisID(ctx, "an-1")
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "an-1", AnalysisIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(context.Background()))
}
