/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario drives the real services
	through the full lifecycle, so the resulting entry trails and audit
	logs are exactly what production operations would produce.

AVAILABLE SCENARIOS:

	certified-producer: Full lifecycle: register, certify, issue,
	                    partial transfer, retirement against a claim
	marketplace:        Issued batch listed for sale with purchases
	rejected-batch:     Certification rejection and resubmission

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Register production batches as the producer
 3. Walk certification as the certifier
 4. Issue, transfer, retire, list and purchase as the relevant actors

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "certified-producer"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, l)
 3. Add case to Load

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: handleLoadScenario, handleListScenarios
  - credit/service.go, marketplace/service.go: The operations driven here
*/
package api

import (
	"context"
	"fmt"

	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
	"github.com/veridian/credit-engine/marketplace"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "certified-producer",
		Name:        "Certified Producer",
		Description: "Full lifecycle: registration, certification, issuance, partial transfer, retirement",
	},
	{
		ID:          "marketplace",
		Name:        "Marketplace",
		Description: "Issued batch listed for sale with two buyer purchases",
	},
	{
		ID:          "rejected-batch",
		Name:        "Rejected Batch",
		Description: "Certification rejection with documentation fix and resubmission",
	},
}

// Resetter clears all stored data before a scenario loads.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ScenarioLoader drives the services to build demo data.
type ScenarioLoader struct {
	credits *credit.Service
	market  *marketplace.Service
	resets  Resetter
}

func NewScenarioLoader(credits *credit.Service, market *marketplace.Service, resets Resetter) *ScenarioLoader {
	return &ScenarioLoader{credits: credits, market: market, resets: resets}
}

// List returns the available scenarios.
func (l *ScenarioLoader) List() []ScenarioDTO {
	return scenarios
}

// Load resets the database and loads the named scenario.
func (l *ScenarioLoader) Load(ctx context.Context, scenarioID string) error {
	if err := l.resets.Reset(ctx); err != nil {
		return err
	}

	switch scenarioID {
	case "certified-producer":
		return l.loadCertifiedProducer(ctx)
	case "marketplace":
		return l.loadMarketplace(ctx)
	case "rejected-batch":
		return l.loadRejectedBatch(ctx)
	default:
		return fmt.Errorf("%w: scenario %q", ledger.ErrNotFound, scenarioID)
	}
}

// Demo actors shared by the scenarios.
var (
	demoProducer  = ledger.Actor{ID: "producer-nordwind", Role: ledger.RoleProducer}
	demoCertifier = ledger.Actor{ID: "certifier-tuv", Role: ledger.RoleCertifier}
	demoBuyer     = ledger.Actor{ID: "buyer-steelworks", Role: ledger.RoleBuyer}
	demoBuyer2    = ledger.Actor{ID: "buyer-ammonia", Role: ledger.RoleBuyer}
)

// loadCertifiedProducer walks one batch through the complete lifecycle:
// 100 credits issued, 40 transferred, 60 retired, account ends retired.
func (l *ScenarioLoader) loadCertifiedProducer(ctx context.Context) error {
	account, err := l.credits.Register(ctx, demoProducer, ledger.NewAmountFromInt(100), "0xa1b2c3", "polygon")
	if err != nil {
		return err
	}
	if _, err := l.credits.StartReview(ctx, demoCertifier, account.ID); err != nil {
		return err
	}
	if _, err := l.credits.Approve(ctx, demoCertifier, account.ID); err != nil {
		return err
	}
	if _, err := l.credits.Issue(ctx, demoCertifier, account.ID, ledger.NewAmountFromInt(100)); err != nil {
		return err
	}
	if _, err := l.credits.Transfer(ctx, demoProducer, account.ID, ledger.NewAmountFromInt(40), demoBuyer.ID, "demo-transfer-1"); err != nil {
		return err
	}
	if _, err := l.credits.Retire(ctx, demoProducer, account.ID, ledger.NewAmountFromInt(60), "2025 green steel production claim", "demo-retire-1"); err != nil {
		return err
	}
	return nil
}

// loadMarketplace issues a 500-credit batch and sells part of it
// through a listing.
func (l *ScenarioLoader) loadMarketplace(ctx context.Context) error {
	account, err := l.credits.Register(ctx, demoProducer, ledger.NewAmountFromInt(500), "0xd4e5f6", "polygon")
	if err != nil {
		return err
	}
	if _, err := l.credits.StartReview(ctx, demoCertifier, account.ID); err != nil {
		return err
	}
	if _, err := l.credits.Approve(ctx, demoCertifier, account.ID); err != nil {
		return err
	}
	if _, err := l.credits.Issue(ctx, demoCertifier, account.ID, ledger.NewAmountFromInt(500)); err != nil {
		return err
	}

	listing, err := l.market.CreateListing(ctx, demoProducer, account.ID, ledger.NewAmountFromInt(200), ledger.NewAmount(3.50))
	if err != nil {
		return err
	}
	if _, err := l.market.Purchase(ctx, demoBuyer, listing.ID, ledger.NewAmountFromInt(120), demoBuyer.ID, "demo-purchase-1"); err != nil {
		return err
	}
	if _, err := l.market.Purchase(ctx, demoBuyer2, listing.ID, ledger.NewAmountFromInt(50), demoBuyer2.ID, "demo-purchase-2"); err != nil {
		return err
	}
	return nil
}

// loadRejectedBatch shows the rejection retry path: rejected for
// missing documentation, resubmitted, now waiting for a second review.
func (l *ScenarioLoader) loadRejectedBatch(ctx context.Context) error {
	account, err := l.credits.Register(ctx, demoProducer, ledger.NewAmountFromInt(250), "0x778899", "polygon")
	if err != nil {
		return err
	}
	if _, err := l.credits.StartReview(ctx, demoCertifier, account.ID); err != nil {
		return err
	}
	if _, err := l.credits.Reject(ctx, demoCertifier, account.ID, "power purchase agreement missing for March window"); err != nil {
		return err
	}
	if _, err := l.credits.Resubmit(ctx, demoProducer, account.ID); err != nil {
		return err
	}
	return nil
}
