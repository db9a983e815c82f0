package observer

import (
	"context"

	stupidmeter "github.com/benchlab/stupidmeter"

	"go.opentelemetry.io/otel/metric"
)

// RecordTrial counts one code-gen trial and its duration.
func (i *Instruments) RecordTrial(ctx context.Context, suite stupidmeter.Suite, model, taskID string, passed bool, latencyMs int64) {
	attrs := metric.WithAttributes(
		AttrSuite.String(string(suite)),
		AttrLLMModel.String(model),
		AttrTask.String(taskID),
		AttrPassed.Bool(passed),
	)
	i.Trials.Add(ctx, 1, attrs)
	i.TrialDuration.Record(ctx, float64(latencyMs), attrs)
}

// RecordSession counts one tool session and its duration.
func (i *Instruments) RecordSession(ctx context.Context, model, taskSlug string, status stupidmeter.SessionStatus, latencyMs int64) {
	attrs := metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrTask.String(taskSlug),
		AttrStatus.String(string(status)),
	)
	i.Sessions.Add(ctx, 1, attrs)
	i.SessionDuration.Record(ctx, float64(latencyMs), attrs)
}

// RecordToolExecution counts one tool call inside a session.
func (i *Instruments) RecordToolExecution(ctx context.Context, toolName string, success bool) {
	i.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(toolName),
		AttrPassed.Bool(success),
	))
}

// RecordScore publishes a model's latest score. Sentinels are tagged
// rather than exported as values so dashboards never average them in.
func (i *Instruments) RecordScore(ctx context.Context, suite stupidmeter.Suite, model string, score float64) {
	if stupidmeter.IsSentinel(score) {
		i.StupidScore.Record(ctx, 0, metric.WithAttributes(
			AttrSuite.String(string(suite)),
			AttrLLMModel.String(model),
			AttrSentinel.Bool(true),
		))
		return
	}
	i.StupidScore.Record(ctx, score, metric.WithAttributes(
		AttrSuite.String(string(suite)),
		AttrLLMModel.String(model),
		AttrSentinel.Bool(false),
	))
}
