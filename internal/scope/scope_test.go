package scope

import (
	"fmt"
	"testing"
)

func TestCheckNamespace(t *testing.T) {
	checker := NewChecker(Scope{
		Namespaces: []string{"single-cell-portal", "scp-dev"},
	})

	if err := checker.CheckNamespace("scp-dev"); err != nil {
		t.Errorf("Expected in-scope namespace to pass: %v", err)
	}

	if err := checker.CheckNamespace("someone-else"); err == nil {
		t.Error("Expected out-of-scope namespace to fail")
	} else if !IsScopeViolation(err) {
		t.Errorf("Expected ScopeViolation error, got %T", err)
	}
}

func TestEmptyScopeAllowsAll(t *testing.T) {
	checker := NewChecker(Scope{})

	if err := checker.CheckNamespace("anything"); err != nil {
		t.Errorf("Empty scope should allow all namespaces: %v", err)
	}
	if !checker.CanCompute("anything") {
		t.Error("Empty blocklist should allow compute")
	}
}

func TestCheckCompute(t *testing.T) {
	checker := NewChecker(Scope{
		Namespaces:       []string{"single-cell-portal", "scp-dev"},
		ComputeBlocklist: []string{"single-cell-portal"},
	})

	tests := []struct {
		namespace string
		wantErr   bool
	}{
		{"scp-dev", false},
		{"single-cell-portal", true},
		{"outside", true},
	}

	for _, tt := range tests {
		t.Run(tt.namespace, func(t *testing.T) {
			err := checker.CheckCompute(tt.namespace)
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckCompute(%q) err = %v, wantErr %v", tt.namespace, err, tt.wantErr)
			}
			if err != nil && !IsScopeViolation(err) {
				t.Errorf("Expected ScopeViolation, got %T", err)
			}
		})
	}
}

func TestScopeViolationWrapped(t *testing.T) {
	err := fmt.Errorf("granting acl: %w", &ScopeViolation{Resource: "compute:x", Reason: "blocked"})
	if !IsScopeViolation(err) {
		t.Error("Expected wrapped violation to be detected")
	}
	if IsScopeViolation(fmt.Errorf("plain")) {
		t.Error("Plain error is not a violation")
	}
}
