package models

// Category names one output table. The string value is also the table's file stem.
type Category string

const (
	// Body
	CategoryBodyMetrics Category = "body_metrics"

	// Heart & fitness
	CategoryHeartRate            Category = "heart_rate"
	CategoryRestingHeartRate     Category = "resting_heart_rate"
	CategoryHeartRateVariability Category = "heart_rate_variability"
	CategoryVO2Max               Category = "vo2_max"
	CategoryHeartRateRecovery    Category = "heart_rate_recovery"
	CategoryWalkingHeartRate     Category = "walking_heart_rate"

	// Activity
	CategorySteps                  Category = "steps"
	CategoryDistanceWalkingRunning Category = "distance_walking_running"
	CategoryDistanceCycling        Category = "distance_cycling"
	CategoryFlightsClimbed         Category = "flights_climbed"
	CategoryExerciseTime           Category = "exercise_time"
	CategoryStandTime              Category = "stand_time"
	CategoryWalkingMetrics         Category = "walking_metrics"
	CategoryActiveEnergy           Category = "active_energy"
	CategoryBasalEnergy            Category = "basal_energy"

	// Vitals
	CategoryOxygenSaturation Category = "oxygen_saturation"
	CategoryRespiratoryRate  Category = "respiratory_rate"

	// Nutrition
	CategoryWater          Category = "water"
	CategoryCaffeine       Category = "caffeine"
	CategoryDietaryMetrics Category = "dietary_metrics"

	CategoryEnvironmental Category = "environmental"
	CategorySleep         Category = "sleep"
	CategoryWorkouts      Category = "workouts"

	// CategoryUnclassified marks a record that is routed to no table.
	CategoryUnclassified Category = ""
)

// FileName is the table's file name inside the output directory.
func (c Category) FileName() string {
	return string(c) + ".csv"
}
