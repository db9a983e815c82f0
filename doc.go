// Package stupidmeter is a continuous multi-provider LLM benchmark
// orchestrator. It periodically probes a fleet of models across a fast
// code-generation suite and a multi-turn tool-calling suite, scores each
// run on a seven-axis rubric with historical baselines, and maintains an
// append-only time series of per-model scores.
//
// The root package holds the domain types, the Provider contract, the
// Store contract, scoring, and the suite scheduler. Capability packages
// plug in underneath: sandbox (Docker execution environments), codegen
// (trial runner and aggregator), toolcall (tool-session engine), tasks
// (the static benchmark catalog), store/sqlite and store/postgres
// (persistence), cache (dashboard cache), observer (OTEL), and
// provider/* (vendor adapters).
package stupidmeter
