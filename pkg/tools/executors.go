package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/casavox/casavox/pkg/chat/store"
)

// DefaultRegistry wires every tool against the given dependencies.
func DefaultRegistry(search *PropertySearch, crm *CRM) *Registry {
	return NewRegistry(
		&searchExecutor{search: search},
		&mortgageExecutor{},
		&breakdownExecutor{},
		&viewingExecutor{crm: crm},
		&leadExecutor{crm: crm},
	)
}

// decodeInput round-trips a loosely-typed tool input into a typed struct.
func decodeInput(input map[string]any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

type searchExecutor struct {
	search *PropertySearch
}

func (e *searchExecutor) Name() string { return ToolSearchProperties }

func (e *searchExecutor) Execute(ctx context.Context, input map[string]any) (any, error) {
	var entities Entities
	if err := decodeInput(input, &entities); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolSearchProperties, err)
	}
	return e.search.Search(ctx, entities), nil
}

type mortgageExecutor struct{}

func (e *mortgageExecutor) Name() string { return ToolComputeMortgage }

func (e *mortgageExecutor) Execute(_ context.Context, input map[string]any) (any, error) {
	var args struct {
		Principal float64 `json:"principal"`
		Rate      float64 `json:"rate"`
		Years     int     `json:"years"`
	}
	if err := decodeInput(input, &args); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolComputeMortgage, err)
	}
	if args.Years <= 0 {
		return nil, fmt.Errorf("%s: years must be positive", ToolComputeMortgage)
	}
	return MortgageMonthly(args.Principal, args.Rate, args.Years), nil
}

type breakdownExecutor struct{}

func (e *breakdownExecutor) Name() string { return ToolMortgageBreakdown }

func (e *breakdownExecutor) Execute(_ context.Context, input map[string]any) (any, error) {
	var params BreakdownParams
	if err := decodeInput(input, &params); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolMortgageBreakdown, err)
	}
	if params.Years <= 0 {
		return nil, fmt.Errorf("%s: years must be positive", ToolMortgageBreakdown)
	}
	return MortgageBreakdown(params), nil
}

type viewingExecutor struct {
	crm *CRM
}

func (e *viewingExecutor) Name() string { return ToolScheduleViewing }

func (e *viewingExecutor) Execute(ctx context.Context, input map[string]any) (any, error) {
	var args struct {
		PropertyID string        `json:"property_id"`
		When       string        `json:"when"`
		Contact    store.Contact `json:"contact"`
	}
	if err := decodeInput(input, &args); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolScheduleViewing, err)
	}
	return e.crm.ScheduleViewing(ctx, args.PropertyID, args.When, args.Contact)
}

type leadExecutor struct {
	crm *CRM
}

func (e *leadExecutor) Name() string { return ToolCreateLead }

func (e *leadExecutor) Execute(ctx context.Context, input map[string]any) (any, error) {
	var args struct {
		Contact store.Contact  `json:"contact"`
		Source  string         `json:"source"`
		Meta    map[string]any `json:"meta"`
	}
	if err := decodeInput(input, &args); err != nil {
		return nil, fmt.Errorf("%s: %w", ToolCreateLead, err)
	}
	return e.crm.CreateLead(ctx, args.Contact, args.Source, args.Meta)
}
