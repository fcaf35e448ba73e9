package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMetricRoundTrip(t *testing.T) {
	s := openMemory(t)

	v, err := s.GetMetric("batches_flushed_total")
	require.NoError(t, err)
	assert.Zero(t, v)

	require.NoError(t, s.SaveMetric("batches_flushed_total", 3))
	require.NoError(t, s.SaveMetric("batches_flushed_total", 7))

	v, err = s.GetMetric("batches_flushed_total")
	require.NoError(t, err)
	assert.Equal(t, 7.0, v)
}

func TestMetricsWithLabels(t *testing.T) {
	s := openMemory(t)

	require.NoError(t, s.SaveMetricWithLabels("notifications_total", "price_alert", "send_now", 4))
	require.NoError(t, s.SaveMetricWithLabels("notifications_total", "price_alert", "buffered", 2))
	require.NoError(t, s.SaveMetricWithLabels("notifications_total", "emergency_alert", "send_now", 1))
	require.NoError(t, s.SaveMetricWithLabels("format_errors_total", "system_alert", "", 5))
	require.NoError(t, s.SaveMetric("notifications_total", 99))

	got, err := s.GetMetricsWithLabels("notifications_total")
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]float64{
		"price_alert":     {"send_now": 4, "buffered": 2},
		"emergency_alert": {"send_now": 1},
	}, got)

	got, err = s.GetMetricsWithLabels("format_errors_total")
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]float64{"system_alert": {"": 5}}, got)

	v, err := s.GetMetric("notifications_total")
	require.NoError(t, err)
	assert.Equal(t, 99.0, v)
}

func TestSaveMetricWithLabelsRequiresKey(t *testing.T) {
	s := openMemory(t)
	assert.Error(t, s.SaveMetricWithLabels("notifications_total", "", "x", 1))
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "notifier.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveMetric("sends_total", 1))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	v, err := s.GetMetric("sends_total")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}
