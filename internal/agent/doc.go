// Package agent holds the role handlers that execute tasks. Model-driven roles
// share Executor, which runs either a single plain-text call or a bounded
// reason-act-observe loop over the tool runner. The maintenance role is
// handled directly without a model.
package agent
