package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestMetrics_RecordGeneration(t *testing.T) {
	m := NewMetrics(zaptest.NewLogger(t))
	ctx := context.Background()

	// The default global meter provider is a no-op; recording must still be
	// safe for every shape of call.
	assert.NotPanics(t, func() {
		m.RecordGeneration(ctx, "test-model", "embed_query", 10*time.Millisecond, 1, nil)
		m.RecordGeneration(ctx, "test-model", "embed_documents", time.Second, 500, nil)
		m.RecordGeneration(ctx, "test-model", "embed_query", 0, 0, errors.New("boom"))
	})
}

func TestMetrics_NilInstruments(t *testing.T) {
	// Instruments that failed to initialize leave nil fields behind.
	m := &Metrics{}
	assert.NotPanics(t, func() {
		m.RecordGeneration(context.Background(), "m", "op", time.Second, 3, errors.New("boom"))
	})
}
