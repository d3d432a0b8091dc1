// Package policy performs static, build-time module-admission checks for
// the graph builder, using local Rego compilation (rego.New +
// PrepareForEval) evaluated once per Build call against a module name.
// There is no remote policy server in this deployment shape, so policy
// source is always supplied locally rather than fetched over HTTP.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"github.com/sirupsen/logrus"
)

// Input is the document evaluated against the loaded Rego module.
type Input struct {
	Module string `json:"module"`
	Stack  string `json:"stack"`
	Graph  string `json:"graph"`
}

// Checker compiles a Rego bundle once and answers Allow(moduleName) for
// every module the graph builder is about to instantiate. It implements
// pipeline.PolicyChecker.
type Checker struct {
	mu      sync.RWMutex
	query   *rego.PreparedEvalQuery
	logger  *logrus.Logger
	stack   string
	graph   string
	enabled bool
}

// NewChecker compiles regoSource (a module granting `data.omnistack.allow`)
// under name. An empty regoSource disables policy enforcement: Allow always
// reports true, matching the graph builder's default of "no allow-list
// configured, trust the static config".
func NewChecker(name, regoSource string, logger *logrus.Logger) (*Checker, error) {
	c := &Checker{logger: logger}
	if regoSource == "" {
		return c, nil
	}

	query, err := rego.New(
		rego.Query("data.omnistack.allow"),
		rego.Module(name, regoSource),
	).PrepareForEval(context.Background())
	if err != nil {
		return nil, fmt.Errorf("policy: compiling %s: %w", name, err)
	}
	c.query = &query
	c.enabled = true
	return c, nil
}

// WithContext returns a copy whose Allow calls carry stack and graph in the
// evaluation input. Builder and Engine do not call it, so the checker the
// Engine installs evaluates with empty stack and graph fields.
func (c *Checker) WithContext(stack, graph string) *Checker {
	return &Checker{query: c.query, logger: c.logger, stack: stack, graph: graph, enabled: c.enabled}
}

// Allow reports whether moduleName may be instantiated. When no policy was
// loaded, every module is allowed.
func (c *Checker) Allow(moduleName string) (bool, string) {
	c.mu.RLock()
	query, enabled := c.query, c.enabled
	c.mu.RUnlock()

	if !enabled || query == nil {
		return true, ""
	}

	input := Input{Module: moduleName, Stack: c.stack, Graph: c.graph}
	results, err := query.Eval(context.Background(), rego.EvalInput(input))
	if err != nil {
		c.logger.WithError(err).WithField("module", moduleName).Warn("policy evaluation failed, denying")
		return false, fmt.Sprintf("policy evaluation error: %v", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, "policy returned no result"
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, "policy result was not boolean"
	}
	if !allowed {
		return false, fmt.Sprintf("module %q denied by policy", moduleName)
	}
	return true, ""
}
