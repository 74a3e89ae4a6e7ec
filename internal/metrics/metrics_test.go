package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStatus(t *testing.T) {
	RecordStatus("SelfCorrecting")
	assert.Equal(t, 1.0, testutil.ToFloat64(SessionStatus.WithLabelValues("SelfCorrecting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SessionStatus.WithLabelValues("Idle")))

	RecordStatus("Idle")
	assert.Equal(t, 0.0, testutil.ToFloat64(SessionStatus.WithLabelValues("SelfCorrecting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SessionStatus.WithLabelValues("Idle")))
}

func TestRecordBackground(t *testing.T) {
	before := testutil.ToFloat64(BackgroundOperations.WithLabelValues("commit", "error"))
	RecordBackground("commit", errors.New("dirty"))
	assert.Equal(t, before+1, testutil.ToFloat64(BackgroundOperations.WithLabelValues("commit", "error")))
}

func TestRecordStage(t *testing.T) {
	RecordStage("build", "pass", 2*time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(StageDuration))
}
