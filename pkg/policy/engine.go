package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/ringoldsdev/efemel/pkg/document"
)

// Engine evaluates the deny sets of enabled policies against documents.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	environment string
	logger      zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies registered
// disabled.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	return e, nil
}

// SetEnvironment sets the environment passed to policies as input.environment.
func (e *Engine) SetEnvironment(env string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.environment = env
}

// Add compiles and registers policies, replacing policies of the same name.
func (e *Engine) Add(ctx context.Context, policies ...Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// LoadPolicies loads policy files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, fs afero.Fs, paths []string) error {
	policies, err := NewLoader(fs, e.logger).LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	if err := e.Add(ctx, policies...); err != nil {
		return err
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// ReloadPolicies drops every loaded policy and loads paths again. Built-in
// policies keep their enabled state.
func (e *Engine) ReloadPolicies(ctx context.Context, fs afero.Fs, paths []string) error {
	policies, err := NewLoader(fs, e.logger).LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*compiledPolicy, len(e.policies))
	for name, cp := range e.policies {
		if cp.policy.Builtin {
			next[name] = cp
		}
	}

	prev := e.policies
	e.policies = next
	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.policies = prev
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	return nil
}

// Check evaluates doc and returns a *ViolationError when any blocking
// violation was found. Non-blocking violations are logged.
func (e *Engine) Check(ctx context.Context, path string, doc *document.Map) error {
	violations, err := e.Evaluate(ctx, path, doc)
	if err != nil {
		return err
	}

	var blocking []Violation
	for _, v := range violations {
		if v.Severity.Blocking() {
			blocking = append(blocking, v)
			continue
		}
		e.logger.Warn().
			Str("path", path).
			Str("policy", v.Policy).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if len(blocking) > 0 {
		return &ViolationError{Path: path, Violations: blocking}
	}
	return nil
}

// Evaluate returns every violation reported by the enabled policies, ordered
// by policy name and then message.
func (e *Engine) Evaluate(ctx context.Context, path string, doc *document.Map) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := Input{
		Path:        path,
		Environment: e.environment,
		Document:    doc.ToGo(),
	}

	var violations []Violation
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		found, err := e.evaluatePolicy(ctx, cp, &input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		violations = append(violations, found...)
	}

	return violations, nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	raw, err := toRegoInput(input)
	if err != nil {
		return nil, err
	}

	results, err := cp.query.Eval(ctx, rego.EvalInput(raw))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input.Path))
		}
	}

	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// toRegoInput round-trips the input through JSON so numbers reach OPA in
// their canonical form.
func toRegoInput(input *Input) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy input: %w", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode policy input: %w", err)
	}
	return raw, nil
}

func createViolation(policy *Policy, result interface{}, path string) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Path:     path,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		for key, val := range v {
			switch key {
			case "message":
				violation.Message = fmt.Sprint(val)
			case "severity":
				if sev, err := ParseSeverity(fmt.Sprint(val)); err == nil {
					violation.Severity = sev
				}
			default:
				if violation.Details == nil {
					violation.Details = make(map[string]any)
				}
				violation.Details[key] = val
			}
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	if violation.Message == "" {
		violation.Message = "denied by " + policy.Name
	}

	return violation
}

// compileAndStorePolicy must be called with e.mu held or before e is shared.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	stored := *policy
	e.policies[policy.Name] = &compiledPolicy{
		policy:   &stored,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// Enabled returns the number of enabled policies.
func (e *Engine) Enabled() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n := 0
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			n++
		}
	}
	return n
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Debug().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
