// Package costs estimates generation spend before an operation starts
// and enforces budgets against projected and actual spend. Estimation
// is side-effect free; enforcement reads budgets and the cost ledger
// but never writes either.
package costs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"glosspipe/internal/providers"
	"glosspipe/internal/store"
)

// Fallback per-record token figures used when no history exists for a
// model. Sized for a single spreadsheet-cell section.
const (
	defaultInputTokens  = 350
	defaultOutputTokens = 450
)

// EstimateRequest describes the work to be priced.
type EstimateRequest struct {
	// Section is the catalogue section to generate. It doubles as the
	// budget category for enforcement.
	Section string
	// RecordCount is the number of target records.
	RecordCount int
	// Model is the primary model selector.
	Model string
	// FallbackModel, when set, is included in the per-model breakdown
	// at zero weight; it only costs money if the primary fails.
	FallbackModel string
}

// ModelEstimate is the per-model cost breakdown line.
type ModelEstimate struct {
	Selector           string  `json:"selector"`
	InputTokensPerRec  int     `json:"input_tokens_per_record"`
	OutputTokensPerRec int     `json:"output_tokens_per_record"`
	CostUSD            float64 `json:"cost_usd"`
	// TokenSource is "history" when averages came from the ledger,
	// "default" otherwise.
	TokenSource string `json:"token_source"`
}

// Estimate is the result of pricing a request. It is advisory: actual
// spend is recorded per unit as work completes.
type Estimate struct {
	Section     string          `json:"section"`
	RecordCount int             `json:"record_count"`
	Models      []ModelEstimate `json:"models"`
	// TotalCostUSD is the projected spend using the primary model for
	// every record.
	TotalCostUSD float64 `json:"total_cost_usd"`
	// Confidence is "high" when token figures come from history,
	// "low" when they are defaults.
	Confidence      string   `json:"confidence"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Estimator prices requests from model specs and historical token
// averages.
type Estimator struct {
	store    *store.Store
	registry *providers.Registry
	logger   *slog.Logger
}

// NewEstimator creates an estimator.
func NewEstimator(st *store.Store, registry *providers.Registry, logger *slog.Logger) *Estimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{store: st, registry: registry, logger: logger}
}

// Estimate prices a request without side effects. An unknown model
// selector is a validation error.
func (e *Estimator) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	if req.Section == "" {
		return nil, fmt.Errorf("section is required")
	}
	if req.RecordCount < 0 {
		return nil, fmt.Errorf("record count must not be negative")
	}

	primary, err := e.modelEstimate(ctx, req.Model, req.RecordCount)
	if err != nil {
		return nil, err
	}

	est := &Estimate{
		Section:      req.Section,
		RecordCount:  req.RecordCount,
		Models:       []ModelEstimate{primary},
		TotalCostUSD: primary.CostUSD,
		Confidence:   "low",
	}
	if primary.TokenSource == "history" {
		est.Confidence = "high"
	}

	if req.FallbackModel != "" && req.FallbackModel != req.Model {
		fallback, err := e.modelEstimate(ctx, req.FallbackModel, req.RecordCount)
		if err != nil {
			return nil, fmt.Errorf("fallback model: %w", err)
		}
		est.Models = append(est.Models, fallback)
	}

	est.Recommendations = e.recommend(est, req)

	e.logger.Debug("cost estimate computed",
		"section", req.Section,
		"records", req.RecordCount,
		"model", req.Model,
		"total_usd", est.TotalCostUSD,
		"confidence", est.Confidence)

	return est, nil
}

func (e *Estimator) modelEstimate(ctx context.Context, selector string, records int) (ModelEstimate, error) {
	spec, err := e.registry.Spec(selector)
	if err != nil {
		return ModelEstimate{}, err
	}

	inTok, outTok := defaultInputTokens, defaultOutputTokens
	source := "default"
	if e.store != nil {
		inAvg, outAvg, ok, err := e.store.TokenAverages(ctx, spec.Model)
		if err != nil {
			return ModelEstimate{}, fmt.Errorf("token averages for %s: %w", selector, err)
		}
		if ok && inAvg > 0 && outAvg > 0 {
			inTok, outTok = int(inAvg), int(outAvg)
			source = "history"
		}
	}

	return ModelEstimate{
		Selector:           selector,
		InputTokensPerRec:  inTok,
		OutputTokensPerRec: outTok,
		CostUSD:            spec.CostFor(inTok*records, outTok*records),
		TokenSource:        source,
	}, nil
}

// recommend produces advisory text for expensive or low-confidence
// estimates.
func (e *Estimator) recommend(est *Estimate, req EstimateRequest) []string {
	var recs []string

	if est.Confidence == "low" {
		recs = append(recs, "no usage history for this model; run a small batch first to calibrate the estimate")
	}
	if req.RecordCount > 1000 {
		recs = append(recs, "reduce batch size: splitting the target set keeps failures cheap to retry")
	}

	// Suggest a cheaper published model when one would cut the bill.
	if est.TotalCostUSD > 0 {
		primary := est.Models[0]
		for _, selector := range e.registry.Models() {
			if selector == primary.Selector {
				continue
			}
			spec, err := e.registry.Spec(selector)
			if err != nil {
				continue
			}
			alt := spec.CostFor(primary.InputTokensPerRec*req.RecordCount, primary.OutputTokensPerRec*req.RecordCount)
			if alt < est.TotalCostUSD/2 {
				recs = append(recs, fmt.Sprintf("use a cheaper model: %s would cost about $%.2f", selector, alt))
				break
			}
		}
	}

	return recs
}

// Enforcer checks estimates and running spend against budgets.
type Enforcer struct {
	store     *store.Store
	estimator *Estimator
	logger    *slog.Logger
	now       func() time.Time
}

// NewEnforcer creates a budget enforcer.
func NewEnforcer(st *store.Store, estimator *Estimator, logger *slog.Logger) *Enforcer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enforcer{store: st, estimator: estimator, logger: logger, now: time.Now}
}

// Estimate projects the request's cost without touching budgets, so
// callers can run other admission checks on the figure before
// enforcement.
func (e *Enforcer) Estimate(ctx context.Context, req EstimateRequest) (*Estimate, error) {
	return e.estimator.Estimate(ctx, req)
}

// EnforceEstimate rejects a previously computed estimate when its
// projected spend would exceed any active budget covering the
// estimate's section.
func (e *Enforcer) EnforceEstimate(ctx context.Context, actor string, est *Estimate) error {
	exceeded, reason, err := e.check(ctx, est.Section, est.TotalCostUSD)
	if err != nil {
		return err
	}
	if exceeded {
		e.logger.Warn("operation rejected by budget",
			"actor", actor, "section", est.Section, "reason", reason)
		return &BudgetExceededError{Actor: actor, Reason: reason}
	}
	return nil
}

// Enforce estimates the request and rejects it when projected spend
// would exceed any active budget covering the operation's section.
// On success it returns the estimate so callers can reuse it.
func (e *Enforcer) Enforce(ctx context.Context, actor string, req EstimateRequest) (*Estimate, error) {
	est, err := e.estimator.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.EnforceEstimate(ctx, actor, est); err != nil {
		return nil, err
	}
	return est, nil
}

// Recheck compares cumulative actual spend for a section against its
// covering budgets. Batch runners call this mid-operation; an exceeded
// budget pauses the operation rather than killing it.
func (e *Enforcer) Recheck(ctx context.Context, section string) (exceeded bool, reason string, err error) {
	return e.check(ctx, section, 0)
}

func (e *Enforcer) check(ctx context.Context, section string, projectedUSD float64) (bool, string, error) {
	now := e.now()
	budgets, err := e.store.ActiveBudgets(ctx, now)
	if err != nil {
		return false, "", fmt.Errorf("load active budgets: %w", err)
	}

	for _, b := range budgets {
		if !b.Covers(section) {
			continue
		}
		spent, err := e.store.SumCosts(ctx, b.PeriodStart, b.PeriodEnd, b.Categories)
		if err != nil {
			return false, "", fmt.Errorf("sum costs for budget %s: %w", b.Name, err)
		}

		projected := spent + projectedUSD
		if projected > b.TotalUSD {
			return true, fmt.Sprintf(
				"cost limit: budget %q allows $%.2f, projected spend $%.2f (already spent $%.2f)",
				b.Name, b.TotalUSD, projected, spent), nil
		}

		pct := 0.0
		if b.TotalUSD > 0 {
			pct = projected / b.TotalUSD * 100
		}
		switch {
		case pct >= float64(b.CriticalPct):
			e.logger.Error("budget critical threshold crossed",
				"budget", b.Name, "spent_usd", spent, "projected_usd", projected, "pct", pct)
		case pct >= float64(b.WarnPct):
			e.logger.Warn("budget warning threshold crossed",
				"budget", b.Name, "spent_usd", spent, "projected_usd", projected, "pct", pct)
		}
	}
	return false, "", nil
}

// BudgetExceededError rejects an operation whose projected spend would
// cross a budget's total allotment.
type BudgetExceededError struct {
	Actor  string
	Reason string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("operation rejected for %s: %s", e.Actor, e.Reason)
}
