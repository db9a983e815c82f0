package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for benchmark spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")

	AttrToolCount = attribute.Key("llm.tool_count")
	AttrToolNames = attribute.Key("llm.tool_names")

	AttrSuite     = attribute.Key("benchmark.suite")
	AttrTask      = attribute.Key("benchmark.task")
	AttrTrial     = attribute.Key("benchmark.trial")
	AttrPassed    = attribute.Key("benchmark.passed")
	AttrSentinel  = attribute.Key("benchmark.sentinel")
	AttrToolName  = attribute.Key("tool.name")
	AttrSessionID = attribute.Key("session.id")
	AttrStatus    = attribute.Key("status")
)
