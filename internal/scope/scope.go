// Package scope limits which billing projects unity operates on.
// Operations targeting namespaces outside the configured scope are blocked,
// and compute is never granted in blocklisted namespaces.
package scope

import (
	"errors"
	"fmt"
	"strings"
)

// Scope declares the namespaces unity may touch.
type Scope struct {
	// Namespaces allowed for workspace and storage operations. Empty means
	// no restriction.
	Namespaces []string

	// ComputeBlocklist names namespaces where compute permission is never
	// granted or reported.
	ComputeBlocklist []string
}

// Checker evaluates whether operations fall within the scope.
type Checker struct {
	scope Scope
}

// NewChecker creates a scope checker.
func NewChecker(scope Scope) *Checker {
	return &Checker{scope: scope}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// CheckNamespace verifies a billing project is in scope.
func (c *Checker) CheckNamespace(namespace string) error {
	if len(c.scope.Namespaces) == 0 {
		return nil
	}
	if contains(c.scope.Namespaces, namespace) {
		return nil
	}
	return &ScopeViolation{
		Resource: "namespace:" + namespace,
		Reason:   fmt.Sprintf("namespace %s is not in scope (allowed: %s)", namespace, strings.Join(c.scope.Namespaces, ", ")),
	}
}

// CanCompute reports whether compute may be held in namespace.
func (c *Checker) CanCompute(namespace string) bool {
	return !contains(c.scope.ComputeBlocklist, namespace)
}

// CheckCompute rejects a compute grant in a blocklisted or out-of-scope
// namespace.
func (c *Checker) CheckCompute(namespace string) error {
	if err := c.CheckNamespace(namespace); err != nil {
		return err
	}
	if !c.CanCompute(namespace) {
		return &ScopeViolation{
			Resource: "compute:" + namespace,
			Reason:   fmt.Sprintf("compute cannot be granted in %s", namespace),
		}
	}
	return nil
}

// ScopeViolation represents an out-of-scope access attempt.
type ScopeViolation struct {
	Resource string
	Reason   string
}

func (sv *ScopeViolation) Error() string {
	return fmt.Sprintf("scope violation [%s]: %s", sv.Resource, sv.Reason)
}

// IsScopeViolation checks if an error is or wraps a scope violation.
func IsScopeViolation(err error) bool {
	var sv *ScopeViolation
	return errors.As(err, &sv)
}
