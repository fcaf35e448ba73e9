package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
)

// Store persists counter values between runs.
type Store interface {
	SaveMetric(metricName string, value float64) error
	GetMetric(metricName string) (float64, error)
	SaveMetricWithLabels(metricName, labelKey, labelValue string, value float64) error
	GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error)
}

const (
	nameNotifications  = "notifications_total"
	nameSends          = "sends_total"
	nameFormatErrors   = "format_errors_total"
	nameBatchesFlushed = "batches_flushed_total"
	nameBatchesDropped = "batches_dropped_total"
)

// Restore adds the saved counter values to the collectors. Call it once,
// before anything is counted.
func (m *Metrics) Restore(s Store) error {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	for name, c := range map[string]prometheus.Counter{
		nameBatchesFlushed: m.BatchesFlushed,
		nameBatchesDropped: m.BatchesDropped,
	} {
		v, err := s.GetMetric(name)
		if err != nil {
			return err
		}
		c.Add(v)
	}

	for name, vec := range map[string]*prometheus.CounterVec{
		nameNotifications: m.Notifications,
		nameSends:         m.Sends,
	} {
		err := loadLabeledMetrics(s, name, func(first, second string, value float64) {
			vec.WithLabelValues(first, second).Add(value)
		})
		if err != nil {
			return err
		}
	}

	err := loadLabeledMetrics(s, nameFormatErrors, func(category, _ string, value float64) {
		m.FormatErrors.WithLabelValues(category).Add(value)
	})
	if err != nil {
		return err
	}

	log.Debug("metrics loaded from database")
	return nil
}

func loadLabeledMetrics(s Store, metricName string, callback func(labelKey, labelValue string, value float64)) error {
	metricsWithLabels, err := s.GetMetricsWithLabels(metricName)
	if err != nil {
		return errors.Wrapf(err, "failed to load %s", metricName)
	}
	for labelKey, labelValues := range metricsWithLabels {
		for labelValue, value := range labelValues {
			if value < 0 {
				continue
			}
			callback(labelKey, labelValue, value)
		}
	}
	return nil
}

// Save writes the current counter values to s.
func (m *Metrics) Save(s Store) error {
	m.Mutex.Lock()
	defer m.Mutex.Unlock()

	if err := s.SaveMetric(nameBatchesFlushed, GetMetricValue(m.BatchesFlushed)); err != nil {
		return err
	}
	if err := s.SaveMetric(nameBatchesDropped, GetMetricValue(m.BatchesDropped)); err != nil {
		return err
	}

	for name, vec := range map[string]*prometheus.CounterVec{
		nameNotifications: m.Notifications,
		nameSends:         m.Sends,
		nameFormatErrors:  m.FormatErrors,
	} {
		if err := saveLabeledMetrics(s, name, vec); err != nil {
			return err
		}
	}

	log.Debug("metrics saved to database")
	return nil
}

func saveLabeledMetrics(s Store, metricName string, vec *prometheus.CounterVec) error {
	metricChan := make(chan prometheus.Metric)
	go func() {
		vec.Collect(metricChan)
		close(metricChan)
	}()

	var firstErr error
	for metric := range metricChan {
		if firstErr != nil {
			continue
		}

		metricProto := &dto.Metric{}
		if err := metric.Write(metricProto); err != nil {
			firstErr = errors.Wrapf(err, "failed to read %s", metricName)
			continue
		}

		// labels come back sorted by name, which matches the declared order
		var values [2]string
		for i, label := range metricProto.Label {
			if i < len(values) {
				values[i] = label.GetValue()
			}
		}
		firstErr = s.SaveMetricWithLabels(metricName, values[0], values[1], metricProto.Counter.GetValue())
	}
	return firstErr
}

// GetMetricValue reads the current value of a single counter or gauge.
func GetMetricValue(metric prometheus.Collector) float64 {
	metricChan := make(chan prometheus.Metric, 1)
	metric.Collect(metricChan)
	close(metricChan)

	m, ok := <-metricChan
	if !ok {
		return 0
	}

	metricProto := &dto.Metric{}
	if err := m.Write(metricProto); err != nil {
		log.Errorf("failed to read metric value: %v", err)
		return 0
	}

	switch {
	case metricProto.Counter != nil:
		return metricProto.Counter.GetValue()
	case metricProto.Gauge != nil:
		return metricProto.Gauge.GetValue()
	}
	return 0
}
