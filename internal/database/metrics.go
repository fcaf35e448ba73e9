package database

import (
	"database/sql"

	"github.com/pkg/errors"
)

const upsertMetric = `
	INSERT OR REPLACE INTO metrics (metric_name, label_key, label_value, metric_value)
	VALUES (?, ?, ?, ?);`

// SaveMetric stores an unlabeled value.
func (s *Store) SaveMetric(metricName string, value float64) error {
	if _, err := s.db.Exec(upsertMetric, metricName, "", "", value); err != nil {
		return errors.Wrapf(err, "failed to save metric %s", metricName)
	}
	s.log.Debugf("metric saved: %s = %f", metricName, value)
	return nil
}

// GetMetric returns an unlabeled value, or 0 when it was never saved.
func (s *Store) GetMetric(metricName string) (float64, error) {
	var value float64
	query := `
	SELECT metric_value
	FROM metrics
	WHERE metric_name = ? AND label_key = '' AND label_value = '';`
	err := s.db.QueryRow(query, metricName).Scan(&value)
	if err == sql.ErrNoRows {
		s.log.Debugf("metric %s not found in the database, defaulting to 0", metricName)
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "failed to get metric %s", metricName)
	}
	return value, nil
}

// SaveMetricWithLabels stores a value under up to two label values.
func (s *Store) SaveMetricWithLabels(metricName, labelKey, labelValue string, value float64) error {
	if labelKey == "" {
		return errors.Errorf("metric %s: empty label key", metricName)
	}
	if _, err := s.db.Exec(upsertMetric, metricName, labelKey, labelValue, value); err != nil {
		return errors.Wrapf(err, "failed to save metric %s with labels", metricName)
	}
	s.log.Debugf("metric with labels saved: %s[%s=%s] = %f", metricName, labelKey, labelValue, value)
	return nil
}

// GetMetricsWithLabels fetches all labeled values of a metric, indexed by
// label key and then label value.
func (s *Store) GetMetricsWithLabels(metricName string) (map[string]map[string]float64, error) {
	query := `
	SELECT label_key, label_value, metric_value
	FROM metrics
	WHERE metric_name = ? AND label_key != '';`

	rows, err := s.db.Query(query, metricName)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query metrics with labels")
	}
	defer rows.Close()

	metrics := make(map[string]map[string]float64)
	for rows.Next() {
		var labelKey, labelValue string
		var value float64
		if err := rows.Scan(&labelKey, &labelValue, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}

		if _, exists := metrics[labelKey]; !exists {
			metrics[labelKey] = make(map[string]float64)
		}
		metrics[labelKey][labelValue] = value
	}
	return metrics, errors.Wrap(rows.Err(), "failed to read metrics")
}
