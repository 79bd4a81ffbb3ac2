package routing

import (
	"errors"
	"fmt"

	"github.com/gobwas/glob"

	domain "github.com/oshokin/alarm-stream/internal/domain/alarm"
)

// DefaultGlobalGroup receives every alarm event.
const DefaultGlobalGroup = "alarms"

// Resolver maps a record to the non-empty set of groups that receive events about it.
type Resolver interface {
	Resolve(record *domain.Record) ([]string, error)
}

// Error is returned when a record cannot be routed at all.
type Error struct {
	Key domain.Key
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("route %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Rule adds Group to records whose core_id matches Pattern.
type Rule struct {
	// Pattern is a glob matched against core_id, e.g. "ANTENNA_*".
	Pattern string `yaml:"pattern"`
	// Group is the group name added on match.
	Group string `yaml:"group"`
}

var (
	// errEmptyGroup is returned for rules or settings with a blank group name.
	errEmptyGroup = errors.New("group name must not be empty")
)

type compiledRule struct {
	glob  glob.Glob
	group string
}

// RuleResolver resolves groups from the record core_id only.
type RuleResolver struct {
	global string
	prefix string
	rules  []compiledRule
}

// Option configures a RuleResolver.
type Option func(*RuleResolver)

// WithGlobalGroup overrides the name of the group receiving every event.
func WithGlobalGroup(name string) Option {
	return func(r *RuleResolver) {
		if name != "" {
			r.global = name
		}
	}
}

// WithIdentityPrefix prepends prefix to per-identity group names.
func WithIdentityPrefix(prefix string) Option {
	return func(r *RuleResolver) {
		r.prefix = prefix
	}
}

// NewRuleResolver compiles rules and returns a resolver.
func NewRuleResolver(rules []Rule, opts ...Option) (*RuleResolver, error) {
	resolver := &RuleResolver{
		global: DefaultGlobalGroup,
		rules:  make([]compiledRule, 0, len(rules)),
	}

	for _, opt := range opts {
		opt(resolver)
	}

	for _, rule := range rules {
		if rule.Group == "" {
			return nil, fmt.Errorf("rule %q: %w", rule.Pattern, errEmptyGroup)
		}

		g, err := glob.Compile(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid rule pattern %q: %w", rule.Pattern, err)
		}

		resolver.rules = append(resolver.rules, compiledRule{glob: g, group: rule.Group})
	}

	return resolver, nil
}

// GlobalGroup returns the name of the group receiving every event.
func (r *RuleResolver) GlobalGroup() string {
	return r.global
}

// IdentityGroup returns the per-identity group of a core_id.
func (r *RuleResolver) IdentityGroup(coreID string) string {
	return r.prefix + coreID
}

// Resolve returns the global group first, then the identity group, then rule groups.
// The result never contains duplicates and is never empty for a valid record.
func (r *RuleResolver) Resolve(record *domain.Record) ([]string, error) {
	if err := validate(record); err != nil {
		return nil, err
	}

	groups := make([]string, 0, 2+len(r.rules))
	groups = appendUnique(groups, r.global)
	groups = appendUnique(groups, r.IdentityGroup(record.CoreID))

	for _, rule := range r.rules {
		if rule.glob.Match(record.CoreID) {
			groups = appendUnique(groups, rule.group)
		}
	}

	return groups, nil
}

func validate(record *domain.Record) error {
	if record == nil {
		return &Error{Err: domain.ErrMissingIdentity}
	}

	if err := record.Key().Validate(); err != nil {
		return &Error{Key: record.Key(), Err: err}
	}

	return nil
}

func appendUnique(groups []string, group string) []string {
	for _, g := range groups {
		if g == group {
			return groups
		}
	}

	return append(groups, group)
}
