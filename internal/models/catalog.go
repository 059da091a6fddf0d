package models

// MetricCategory groups metrics on the dashboard.
type MetricCategory string

const (
	CategoryActivity MetricCategory = "activity"
	CategoryRecovery MetricCategory = "recovery"
	CategorySleep    MetricCategory = "sleep"
	CategoryFitness  MetricCategory = "fitness"
)

// Aggregation is how daily values combine into longer periods.
type Aggregation string

const (
	AggSum  Aggregation = "sum"
	AggMean Aggregation = "mean"
	AggMax  Aggregation = "max"
)

// Metric keys referenced by the scoring engine.
const (
	MetricSteps              = "steps"
	MetricActiveEnergy       = "active_energy"
	MetricBasalEnergy        = "basal_energy"
	MetricDistance           = "distance_walking_running"
	MetricFlightsClimbed     = "flights_climbed"
	MetricPhysicalEffortLoad = "physical_effort_load"
	MetricExerciseTime       = "exercise_time"
	MetricStandHours         = "stand_hours"
	MetricWalkingSpeed       = "walking_speed"
	MetricWalkingStepLength  = "walking_step_length"
	MetricHeartRateMean      = "heart_rate_mean"
	MetricHeartRateMin       = "heart_rate_min"
	MetricHeartRateMax       = "heart_rate_max"
	MetricRestingHeartRate   = "resting_heart_rate"
	MetricHRV                = "hrv_sdnn"
	MetricSleepDuration      = "sleep_duration"
	MetricVO2Max             = "vo2max"
)

// MetricInfo is catalog metadata for one metric.
type MetricInfo struct {
	MetricKey            string         `json:"metric_key"`
	DisplayName          string         `json:"display_name"`
	Unit                 string         `json:"unit"`
	Category             MetricCategory `json:"category"`
	Aggregation          Aggregation    `json:"aggregation"`
	IsSparse             bool           `json:"is_sparse"`
	SupportsAnomalies    bool           `json:"supports_anomalies"`
	SupportsCorrelations bool           `json:"supports_correlations"`
}

// HasBaseline reports whether the metric is dense enough for a personal baseline.
func (m MetricInfo) HasBaseline() bool {
	return !m.IsSparse
}

func dense(key, name, unit string, cat MetricCategory, agg Aggregation) MetricInfo {
	return MetricInfo{
		MetricKey:            key,
		DisplayName:          name,
		Unit:                 unit,
		Category:             cat,
		Aggregation:          agg,
		SupportsAnomalies:    true,
		SupportsCorrelations: true,
	}
}

// catalog is ordered for stable tile and listing output.
var catalog = []MetricInfo{
	dense(MetricSteps, "Steps", "count", CategoryActivity, AggSum),
	dense(MetricActiveEnergy, "Active Energy", "kcal", CategoryActivity, AggSum),
	dense(MetricBasalEnergy, "Basal Energy", "kcal", CategoryActivity, AggSum),
	dense(MetricDistance, "Distance (Walk/Run)", "km", CategoryActivity, AggSum),
	dense(MetricFlightsClimbed, "Flights Climbed", "count", CategoryActivity, AggSum),
	dense(MetricPhysicalEffortLoad, "Physical Effort", "arbitrary", CategoryActivity, AggSum),
	dense(MetricExerciseTime, "Exercise Time", "min", CategoryActivity, AggSum),
	dense(MetricStandHours, "Stand Hours", "hours", CategoryActivity, AggSum),
	dense(MetricWalkingSpeed, "Walking Speed", "km/hr", CategoryActivity, AggMean),
	dense(MetricWalkingStepLength, "Step Length", "cm", CategoryActivity, AggMean),
	dense(MetricHeartRateMean, "Heart Rate (Avg)", "bpm", CategoryRecovery, AggMean),
	dense(MetricHeartRateMin, "Heart Rate (Min)", "bpm", CategoryRecovery, AggMean),
	dense(MetricHeartRateMax, "Heart Rate (Max)", "bpm", CategoryRecovery, AggMax),
	dense(MetricRestingHeartRate, "Resting Heart Rate", "bpm", CategoryRecovery, AggMean),
	dense(MetricHRV, "HRV (SDNN)", "ms", CategoryRecovery, AggMean),
	{
		MetricKey:            MetricSleepDuration,
		DisplayName:          "Sleep Duration",
		Unit:                 "minutes",
		Category:             CategorySleep,
		Aggregation:          AggMean,
		IsSparse:             true,
		SupportsCorrelations: true,
	},
	{
		MetricKey:   MetricVO2Max,
		DisplayName: "VO2 Max",
		Unit:        "mL/kg/min",
		Category:    CategoryFitness,
		Aggregation: AggMean,
		IsSparse:    true,
	},
}

var catalogIndex = func() map[string]int {
	idx := make(map[string]int, len(catalog))
	for i, m := range catalog {
		idx[m.MetricKey] = i
	}
	return idx
}()

// Catalog returns a copy of all known metrics in display order.
func Catalog() []MetricInfo {
	out := make([]MetricInfo, len(catalog))
	copy(out, catalog)
	return out
}

// LookupMetric returns catalog metadata for key.
func LookupMetric(key string) (MetricInfo, bool) {
	i, ok := catalogIndex[key]
	if !ok {
		return MetricInfo{}, false
	}
	return catalog[i], true
}

// DisplayName returns the catalog display name, falling back to the key.
func DisplayName(key string) string {
	if m, ok := LookupMetric(key); ok {
		return m.DisplayName
	}
	return key
}

// CatalogKeys returns all metric keys in display order.
func CatalogKeys() []string {
	keys := make([]string, len(catalog))
	for i, m := range catalog {
		keys[i] = m.MetricKey
	}
	return keys
}
