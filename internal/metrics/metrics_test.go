package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegisterIsIdempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		Register()
		Register()
	})
}

func TestSetTablesByState(t *testing.T) {
	SetTablesByState(map[string]int{"FREE": 3, "OCCUPIED": 1})

	assert.Equal(t, 3.0, testutil.ToFloat64(tablesByState.WithLabelValues("FREE")))
	assert.Equal(t, 0.0, testutil.ToFloat64(tablesByState.WithLabelValues("RESERVED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tablesByState.WithLabelValues("OCCUPIED")))
}

func TestSweepCounters(t *testing.T) {
	before := testutil.ToFloat64(sweepRuns.WithLabelValues("no_show", "ok"))
	ObserveSweep("no_show", "ok", 20*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(sweepRuns.WithLabelValues("no_show", "ok")))

	items := testutil.ToFloat64(sweepItems.WithLabelValues("no_show", "canceled"))
	AddSweepItems("no_show", "canceled", 0)
	AddSweepItems("no_show", "canceled", 2)
	assert.Equal(t, items+2, testutil.ToFloat64(sweepItems.WithLabelValues("no_show", "canceled")))
}
