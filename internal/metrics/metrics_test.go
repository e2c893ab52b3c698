package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestJobs_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	j := NewJobs(reg)

	j.Observe("sync:wix", 250*time.Millisecond, nil)
	j.Observe("sync:wix", time.Second, errors.New("boom"))
	j.Observe("", time.Second, nil)

	mfs, err := reg.Gather()
	require.NoError(t, err)

	require.Equal(t, 1.0, counter(t, mfs, "orderbox_job_success_total", "job", "sync:wix"))
	require.Equal(t, 1.0, counter(t, mfs, "orderbox_job_failure_total", "job", "sync:wix"))
	require.Equal(t, 1.0, counter(t, mfs, "orderbox_job_success_total", "job", "unknown"))

	h := find(t, mfs, "orderbox_job_duration_seconds", "job", "sync:wix").GetHistogram()
	require.Equal(t, uint64(2), h.GetSampleCount())
	require.InDelta(t, 1.25, h.GetSampleSum(), 1e-9)
}

func TestSync_Add(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSync(reg)

	s.Add("mercadolibre", ResultInserted, 3)
	s.Add("mercadolibre", ResultInserted, 2)
	s.Add("mercadolibre", ResultUpdated, 0)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Equal(t, 5.0, counter(t, mfs, "orderbox_synced_orders_total", "result", ResultInserted))
}

func TestNilCollectorsAreNoop(t *testing.T) {
	var j *Jobs
	var s *Sync
	require.NotPanics(t, func() {
		j.Observe("x", time.Second, nil)
		s.Add("wix", ResultFailed, 1)
	})
	require.Nil(t, NewJobs(nil))
	require.Nil(t, NewSync(nil))
}

func counter(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	return find(t, mfs, name, label, value).GetCounter().GetValue()
}

func find(t *testing.T, mfs []*dto.MetricFamily, name, label, value string) *dto.Metric {
	t.Helper()
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m
				}
			}
		}
	}
	t.Fatalf("metric %s{%s=%q} not found", name, label, value)
	return nil
}
