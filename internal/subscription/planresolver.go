package subscription

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/examforge/examforge/internal/billing"
)

// LineItemSource re-fetches a checkout transaction's price ids from the
// processor. Last-resort resolution path for checkout-flow events only.
type LineItemSource interface {
	TransactionPriceIDs(ctx context.Context, transactionID string) ([]string, error)
}

// PlanResolver maps a billing event's plan signals to a registry plan id.
// Each resolution path covers one way the configured mapping can go
// stale; a confirmed match through a fallback path heals the registry so
// the cheap price-id path works next time.
type PlanResolver struct {
	registry  Registry
	lineItems LineItemSource
	log       *slog.Logger
}

func NewPlanResolver(registry Registry, lineItems LineItemSource, log *slog.Logger) *PlanResolver {
	if registry == nil {
		panic("subscription: plan registry is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &PlanResolver{registry: registry, lineItems: lineItems, log: log}
}

// ResolvePlanID resolves the internal plan id for the event, or
// ErrPlanUnresolved when every path is exhausted.
func (r *PlanResolver) ResolvePlanID(ctx context.Context, signals billing.PlanSignals) (int64, error) {
	// Path 1: explicit plan id embedded at checkout creation, validated
	// to still exist.
	if id := parsePositiveInt(signals.PlanDBIDTag); id > 0 {
		plan, err := r.registry.ByID(ctx, id)
		if err == nil {
			return plan.ID, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return 0, err
		}
		r.log.WarnContext(ctx, "plan id from checkout metadata no longer exists",
			"plan_id", id)
	}

	// Path 2: configured price reference.
	if signals.PriceID != "" {
		plan, err := r.registry.ByPriceID(ctx, signals.PriceID)
		if err == nil {
			return plan.ID, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return 0, err
		}
	}

	// Path 3: the plan key is known but the configured price reference
	// drifted. Match by display-name candidates and heal the registry.
	if signals.PlanKey != "" {
		plan, err := r.resolveByKey(ctx, signals.PlanKey)
		if err == nil {
			r.heal(ctx, plan, signals.PriceID)
			return plan.ID, nil
		}
		if !errors.Is(err, ErrPlanNotFound) {
			return 0, err
		}
	}

	// Path 4: checkout-flow events only. Re-fetch the true price ids
	// from the processor's line items and retry the price lookup.
	if signals.TransactionID != "" && r.lineItems != nil {
		priceIDs, err := r.lineItems.TransactionPriceIDs(ctx, signals.TransactionID)
		if err != nil {
			return 0, errors.Join(ErrPlanUnresolved, err)
		}
		for _, priceID := range priceIDs {
			plan, err := r.registry.ByPriceID(ctx, priceID)
			if err == nil {
				return plan.ID, nil
			}
			if !errors.Is(err, ErrPlanNotFound) {
				return 0, err
			}
		}
	}

	return 0, ErrPlanUnresolved
}

// resolveByKey tries the stable key first, then display-name candidates
// covering encoding variants of accented names.
func (r *PlanResolver) resolveByKey(ctx context.Context, key string) (*Plan, error) {
	plan, err := r.registry.ByKey(ctx, key)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, ErrPlanNotFound) {
		return nil, err
	}
	return r.registry.ByNameCandidates(ctx, NameCandidates(key))
}

// heal rewrites the registry's price reference once a fallback path
// confirmed the configured one is stale. A heal failure is logged, not
// fatal: the event still resolved.
func (r *PlanResolver) heal(ctx context.Context, plan *Plan, confirmedPriceID string) {
	if confirmedPriceID == "" || confirmedPriceID == plan.PriceID {
		return
	}
	if err := r.registry.HealPriceID(ctx, plan.ID, confirmedPriceID); err != nil {
		r.log.ErrorContext(ctx, "failed to heal plan price reference",
			"plan_id", plan.ID, "price_id", confirmedPriceID, "error", err)
		return
	}
	r.log.InfoContext(ctx, "healed stale plan price reference",
		"plan_id", plan.ID, "price_id", confirmedPriceID)
}

// Display names for the seeded plan keys, accented spelling first.
// Covers payloads produced before the stable key column existed.
var planNameVariants = map[string][]string{
	"junior": {"Júnior", "Junior"},
	"pleno":  {"Pleno"},
	"senior": {"Sênior", "Senior"},
}

// NameCandidates returns the display-name candidates for a plan key, in
// match priority order. Unknown keys fall back to the title-cased key and
// its diacritic-folded form.
func NameCandidates(key string) []string {
	k := strings.ToLower(strings.TrimSpace(key))
	if names, ok := planNameVariants[k]; ok {
		return names
	}

	title := cases.Title(language.Und).String(k)
	if folded := FoldDiacritics(title); folded != title {
		return []string{title, folded}
	}
	return []string{title}
}

// FoldDiacritics strips combining marks so "Júnior" and "Junior" compare
// equal after folding.
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
