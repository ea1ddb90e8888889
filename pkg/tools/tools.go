// Package tools implements the assistant's tool layer: property search with
// metadata normalization, mortgage math, and CRM writes.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

const (
	ToolSearchProperties  = "search_properties"
	ToolComputeMortgage   = "compute_mortgage"
	ToolMortgageBreakdown = "mortgage_breakdown"
	ToolScheduleViewing   = "schedule_viewing"
	ToolCreateLead        = "create_lead"
)

// Entities are the structured constraints extracted from a user turn.
// Zero values mean "not specified".
type Entities struct {
	City     string  `json:"city,omitempty"`
	Beds     int     `json:"beds,omitempty"`
	PriceMin float64 `json:"price_min,omitempty"`
	PriceMax float64 `json:"price_max,omitempty"`
}

// Executor is one named tool.
type Executor interface {
	Name() string
	Execute(ctx context.Context, input map[string]any) (any, error)
}

type Registry struct {
	byName map[string]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	registry := &Registry{byName: make(map[string]Executor, len(executors))}
	for _, ex := range executors {
		if ex == nil {
			continue
		}
		registry.byName[ex.Name()] = ex
	}
	return registry
}

func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.byName[strings.TrimSpace(name)]
	return ok
}

func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (any, error) {
	if r == nil {
		return nil, fmt.Errorf("tool registry is not configured")
	}
	ex, ok := r.byName[strings.TrimSpace(name)]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	return ex.Execute(ctx, input)
}
