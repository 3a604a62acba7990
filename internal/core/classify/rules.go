// Package classify routes semantic record identifiers to output categories.
package classify

import (
	"strings"

	"github.com/neilberkman/healthprep/internal/core/models"
)

const (
	quantityPrefix = "HKQuantityTypeIdentifier"
	dietaryPrefix  = quantityPrefix + "Dietary"

	SleepAnalysis = "HKCategoryTypeIdentifierSleepAnalysis"
)

// Tier orders rules. Lower tiers are always evaluated first.
type Tier int

const (
	TierSet Tier = iota + 1
	TierExact
	TierPrefix
)

func (t Tier) String() string {
	switch t {
	case TierSet:
		return "set"
	case TierExact:
		return "exact"
	case TierPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}

// Rule is one (predicate, category) pair of the routing table.
type Rule struct {
	Name     string
	Tier     Tier
	Match    func(id string) bool
	Category models.Category
	// KeepType records the original identifier on the row as metric_type.
	KeepType bool
}

// Result is the outcome of classifying one identifier.
type Result struct {
	Category models.Category
	KeepType bool
	Rule     string
}

// Routed reports whether the identifier maps to a table.
func (r Result) Routed() bool {
	return r.Category != models.CategoryUnclassified
}

func q(name string) string { return quantityPrefix + name }

func inSet(ids ...string) func(string) bool {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(id string) bool {
		_, ok := set[id]
		return ok
	}
}

func equals(want string) func(string) bool {
	return func(id string) bool { return id == want }
}

func setRule(cat models.Category, ids ...string) Rule {
	return Rule{Name: string(cat), Tier: TierSet, Match: inSet(ids...), Category: cat, KeepType: true}
}

func exactRule(id string, cat models.Category) Rule {
	return Rule{Name: id, Tier: TierExact, Match: equals(id), Category: cat}
}

// DefaultRules is the fixed routing table, in precedence order.
var DefaultRules = []Rule{
	setRule(models.CategoryBodyMetrics,
		q("BodyMassIndex"), q("Height"), q("BodyMass"),
		q("BodyFatPercentage"), q("LeanBodyMass"), q("WaistCircumference")),
	setRule(models.CategoryWalkingMetrics,
		q("WalkingSpeed"), q("WalkingStepLength"), q("WalkingAsymmetryPercentage"),
		q("WalkingDoubleSupportPercentage"), q("AppleWalkingSteadiness")),
	setRule(models.CategoryEnvironmental,
		q("EnvironmentalAudioExposure"), q("HeadphoneAudioExposure"), q("TimeInDaylight")),

	exactRule(q("HeartRate"), models.CategoryHeartRate),
	exactRule(q("RestingHeartRate"), models.CategoryRestingHeartRate),
	exactRule(q("HeartRateVariabilitySDNN"), models.CategoryHeartRateVariability),
	exactRule(q("VO2Max"), models.CategoryVO2Max),
	exactRule(q("HeartRateRecoveryOneMinute"), models.CategoryHeartRateRecovery),
	exactRule(q("WalkingHeartRateAverage"), models.CategoryWalkingHeartRate),
	exactRule(q("StepCount"), models.CategorySteps),
	exactRule(q("DistanceWalkingRunning"), models.CategoryDistanceWalkingRunning),
	exactRule(q("DistanceCycling"), models.CategoryDistanceCycling),
	exactRule(q("FlightsClimbed"), models.CategoryFlightsClimbed),
	exactRule(q("AppleExerciseTime"), models.CategoryExerciseTime),
	exactRule(q("AppleStandTime"), models.CategoryStandTime),
	exactRule(q("ActiveEnergyBurned"), models.CategoryActiveEnergy),
	exactRule(q("BasalEnergyBurned"), models.CategoryBasalEnergy),
	exactRule(q("OxygenSaturation"), models.CategoryOxygenSaturation),
	exactRule(q("RespiratoryRate"), models.CategoryRespiratoryRate),
	exactRule(q("DietaryWater"), models.CategoryWater),
	exactRule(q("DietaryCaffeine"), models.CategoryCaffeine),
	exactRule(SleepAnalysis, models.CategorySleep),

	{
		Name:     dietaryPrefix + "*",
		Tier:     TierPrefix,
		Match:    func(id string) bool { return strings.HasPrefix(id, dietaryPrefix) },
		Category: models.CategoryDietaryMetrics,
		KeepType: true,
	},
}

// Classifier evaluates an ordered rule table; the first matching rule wins.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier over rules, which must already be in precedence order.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns a Classifier over DefaultRules.
func Default() *Classifier {
	return New(DefaultRules)
}

// Classify maps a Record's semantic identifier to its category.
func (c *Classifier) Classify(id string) Result {
	for _, r := range c.rules {
		if r.Match(id) {
			return Result{Category: r.Category, KeepType: r.KeepType, Rule: r.Name}
		}
	}
	return Result{Category: models.CategoryUnclassified}
}

// ClassifyWorkout routes every Workout element to the workouts table.
func (c *Classifier) ClassifyWorkout() Result {
	return Result{Category: models.CategoryWorkouts, Rule: "workout"}
}

// Categories lists every table the classifier can produce, in rule order, followed by
// workouts.
func (c *Classifier) Categories() []models.Category {
	seen := make(map[models.Category]struct{}, len(c.rules)+1)
	var out []models.Category
	add := func(cat models.Category) {
		if _, ok := seen[cat]; ok {
			return
		}
		seen[cat] = struct{}{}
		out = append(out, cat)
	}
	for _, r := range c.rules {
		add(r.Category)
	}
	add(models.CategoryWorkouts)
	return out
}
