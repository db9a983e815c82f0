package stupidmeter

import (
	"fmt"
	"math"
	"strings"
)

// Axis weights for the code-gen suites. Correctness dominates on purpose:
// a model that writes broken code is stupid no matter how pretty the code is.
const (
	weightCorrectness = 0.35
	weightComplexity  = 0.20
	weightCodeQuality = 0.15
	weightEfficiency  = 0.10
	weightStability   = 0.10
	weightEdgeCases   = 0.05
	weightDebugging   = 0.05
)

// axisList pairs each axis accessor with its weight, in a stable order.
type axisEntry struct {
	name   string
	weight float64
	get    func(Axes) float64
}

func axisEntries() []axisEntry {
	return []axisEntry{
		{"correctness", weightCorrectness, func(a Axes) float64 { return a.Correctness }},
		{"complexity", weightComplexity, func(a Axes) float64 { return a.Complexity }},
		{"codeQuality", weightCodeQuality, func(a Axes) float64 { return a.CodeQuality }},
		{"efficiency", weightEfficiency, func(a Axes) float64 { return a.Efficiency }},
		{"stability", weightStability, func(a Axes) float64 { return a.Stability }},
		{"edgeCases", weightEdgeCases, func(a Axes) float64 { return a.EdgeCases }},
		{"debugging", weightDebugging, func(a Axes) float64 { return a.Debugging }},
	}
}

// Baseline is a model's own score distribution over its recent history,
// used to place each new measurement relative to what the model usually does.
type Baseline struct {
	Mean        Axes
	Sigma       Axes
	Samples     int
	HasBaseline bool
}

// baselineWindow is the maximum number of historical scores a baseline
// considers; baselineMinSamples is the count required to trust it.
const (
	baselineWindow     = 50
	baselineMinSamples = 10
	sigmaFloor         = 1e-6
)

// DefaultBaseline is used until a model has accumulated enough history.
func DefaultBaseline() Baseline {
	def := Axes{Correctness: 0.5, Complexity: 0.5, CodeQuality: 0.5, Efficiency: 0.5, Stability: 0.5, EdgeCases: 0.5, Debugging: 0.5}
	sig := Axes{Correctness: 0.15, Complexity: 0.15, CodeQuality: 0.15, Efficiency: 0.15, Stability: 0.15, EdgeCases: 0.15, Debugging: 0.15}
	return Baseline{Mean: def, Sigma: sig}
}

// ComputeBaseline derives per-axis mean and sigma from up to 50 recent
// non-sentinel scores. Fewer than 10 samples yields the default baseline
// with HasBaseline=false. Callers pass the output of Store.RecentScores,
// which already excludes sentinel rows.
func ComputeBaseline(history []Score) Baseline {
	if len(history) > baselineWindow {
		history = history[:baselineWindow]
	}
	if len(history) < baselineMinSamples {
		b := DefaultBaseline()
		b.Samples = len(history)
		return b
	}

	n := float64(len(history))
	var mean, sigma Axes
	forEachAxis(&mean, &sigma, func(get func(Axes) float64, setMean, setSigma func(float64)) {
		var sum float64
		for _, s := range history {
			sum += get(s.Axes)
		}
		mu := sum / n
		var sq float64
		for _, s := range history {
			d := get(s.Axes) - mu
			sq += d * d
		}
		sd := math.Sqrt(sq / n)
		if sd < sigmaFloor {
			sd = sigmaFloor
		}
		setMean(mu)
		setSigma(sd)
	})

	return Baseline{Mean: mean, Sigma: sigma, Samples: len(history), HasBaseline: true}
}

// forEachAxis visits every axis, exposing a getter plus setters into the
// mean and sigma accumulators. Keeps ComputeBaseline free of per-axis
// copy-paste.
func forEachAxis(mean, sigma *Axes, fn func(get func(Axes) float64, setMean, setSigma func(float64))) {
	fields := []struct {
		get      func(Axes) float64
		setMean  func(float64)
		setSigma func(float64)
	}{
		{func(a Axes) float64 { return a.Correctness }, func(v float64) { mean.Correctness = v }, func(v float64) { sigma.Correctness = v }},
		{func(a Axes) float64 { return a.Complexity }, func(v float64) { mean.Complexity = v }, func(v float64) { sigma.Complexity = v }},
		{func(a Axes) float64 { return a.CodeQuality }, func(v float64) { mean.CodeQuality = v }, func(v float64) { sigma.CodeQuality = v }},
		{func(a Axes) float64 { return a.Efficiency }, func(v float64) { mean.Efficiency = v }, func(v float64) { sigma.Efficiency = v }},
		{func(a Axes) float64 { return a.Stability }, func(v float64) { mean.Stability = v }, func(v float64) { sigma.Stability = v }},
		{func(a Axes) float64 { return a.EdgeCases }, func(v float64) { mean.EdgeCases = v }, func(v float64) { sigma.EdgeCases = v }},
		{func(a Axes) float64 { return a.Debugging }, func(v float64) { mean.Debugging = v }, func(v float64) { sigma.Debugging = v }},
	}
	for _, f := range fields {
		fn(f.get, f.setMean, f.setSigma)
	}
}

// axisValues returns the axes in the same order as axisEntries.
func axisValues(a Axes) []float64 {
	return []float64{a.Correctness, a.Complexity, a.CodeQuality, a.Efficiency, a.Stability, a.EdgeCases, a.Debugging}
}

// HarshScore computes the calibrated stupidity score for an axis vector
// against a baseline. The curve is deliberately unforgiving: imperfection
// is penalized exponentially, then gated, then capped. Intermediate values
// may run negative; clamping happens once, at the very end.
func HarshScore(axes Axes, baseline Baseline) float64 {
	entries := axisEntries()
	values := axisValues(axes)
	means := axisValues(baseline.Mean)
	sigmas := axisValues(baseline.Sigma)

	// 1. Exponential penalty for anything short of perfect.
	penalized := make([]float64, len(values))
	for i, v := range values {
		if v < 1 {
			penalized[i] = math.Pow(math.Max(v, 0), 1.8)
		} else {
			penalized[i] = v
		}
	}

	// 2. Contribution multipliers on the two axes that matter most.
	if axes.Correctness < 0.95 {
		penalized[0] *= 0.7
	}
	if axes.CodeQuality < 0.8 {
		penalized[2] *= 0.6
	}

	// 3. Weighted base on the 0–100 scale.
	var base float64
	for i, e := range entries {
		base += e.weight * penalized[i]
	}
	base *= 100

	// 4. Professor curve: hard graders bend the whole scale down.
	base = math.Pow(base/100, 1.4) * 100

	// 5. Bounded variance term against the model's own history.
	var variance float64
	for i, e := range entries {
		variance += e.weight * (values[i] - means[i]) / sigmas[i] * 2
	}
	variance = clip(variance, -8, 3)
	score := base + variance

	// 6. Calibration penalty until the baseline is trustworthy.
	if !baseline.HasBaseline {
		score -= 8
	}

	// 7. Quality gates, always applied, cumulative.
	if axes.Correctness < 0.9 {
		score -= 15
	}
	if axes.Correctness < 0.7 {
		score -= 20
	}
	if axes.Correctness < 0.5 {
		score -= 30
	}
	if axes.CodeQuality < 0.6 {
		score -= 10
	}
	if axes.CodeQuality < 0.4 {
		score -= 20
	}
	if axes.Complexity < 0.3 {
		score -= 12
	}

	// 8. Excellence caps: high scores must be earned on every axis.
	if score >= 85 && !(axes.Correctness >= 0.95 && axes.CodeQuality >= 0.8 && axes.Complexity >= 0.7) {
		score = 82
	}
	if score >= 90 && !everyAxisAtLeast(values, 0.92) {
		score = 87
	}
	if score >= 95 && !everyAxisAtLeast(values, 0.98) {
		score = 89
	}

	// 9. Single clamp at the end.
	return math.Round(clip(score, 0, 100))
}

func everyAxisAtLeast(values []float64, min float64) bool {
	for _, v := range values {
		if v < min {
			return false
		}
	}
	return true
}

// NextCUSUM advances a one-sided CUSUM statistic tracking downward drift
// of a model's score against its baseline-implied expectation. slack
// absorbs ordinary noise; only sustained degradation accumulates.
func NextCUSUM(prev, score float64, baseline Baseline) float64 {
	var expected float64
	for i, e := range axisEntries() {
		expected += e.weight * axisValues(baseline.Mean)[i]
	}
	expected *= 100
	const slack = 5.0
	next := prev + (expected - score) - slack
	if next < 0 {
		return 0
	}
	return next
}

// ConvertToDisplayScore maps a raw stored stupidScore to the 0–100 display
// scale. Sentinels yield ok=false ("unavailable"); dashboard consumers
// never see raw sentinels. Two legacy encodings are tolerated: rows noted
// "user-test" stored 0.8·(100−score), and some early rows stored a
// small-magnitude drift value instead of a score.
func ConvertToDisplayScore(raw float64, note string) (float64, bool) {
	if IsSentinel(raw) {
		return 0, false
	}
	var display float64
	switch {
	// Legacy notes read e.g. "user-test run, unverified".
	case strings.Contains(note, "user-test"):
		display = math.Round(100 - raw/0.8)
	case raw != 0 && math.Abs(raw) < 1:
		// Legacy drift encoding. Rounding keeps the output out of (0,1)
		// so converting a converted value is a no-op.
		display = math.Round(50 - raw*100)
	default:
		display = raw
	}
	return clip(display, 0, 100), true
}

// CalibratingNote formats the score note attached while a model's
// baseline is still accumulating.
func CalibratingNote(samples int) string {
	return fmt.Sprintf("Calibrating (%d/%d samples)", samples, baselineMinSamples)
}

// clip bounds v to [lo, hi].
func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
