package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/resilience"
	"github.com/sells-group/hunter-cli/internal/store"
	"github.com/sells-group/hunter-cli/pkg/techdetect"
	"github.com/sells-group/hunter-cli/pkg/webscan"
)

// MaxConcurrency caps the worker pool regardless of configuration.
const MaxConcurrency = 20

// Stats summarizes one enrichment batch.
type Stats struct {
	Processed  int   `json:"processed"`
	Enriched   int   `json:"enriched"`
	CacheHits  int   `json:"cache_hits"`
	TimedOut   int   `json:"timed_out"`
	Failed     int   `json:"failed"`
	AvgFetchMs int64 `json:"avg_fetch_ms"`
}

// Scheduler runs enrichment lookups for a batch of leads with bounded
// concurrency. Results land in the vault so later runs can reuse them, and
// one lead's failure never affects another's.
type Scheduler struct {
	store      store.Store
	webscan    webscan.Client
	techdetect techdetect.Client
	cfg        config.EnrichConfig
	breakers   map[string]*resilience.CircuitBreaker
	now        func() time.Time
}

// NewScheduler creates a Scheduler. Each provider gets its own circuit
// breaker so an outage in one does not block the other.
func NewScheduler(st store.Store, ws webscan.Client, td techdetect.Client, cfg config.EnrichConfig) *Scheduler {
	return &Scheduler{
		store:      st,
		webscan:    ws,
		techdetect: td,
		cfg:        cfg,
		breakers: map[string]*resilience.CircuitBreaker{
			"webscan":    resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
			"techdetect": resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
		},
		now: time.Now,
	}
}

// EnrichBatch enriches the given leads, returning the vault entries keyed by
// business ID. Fresh vault entries are reused without a provider call.
func (s *Scheduler) EnrichBatch(ctx context.Context, runID string, leads []model.CleanLead) (map[string]model.Enrichment, Stats, error) {
	results := make(map[string]model.Enrichment, len(leads))
	stats := Stats{Processed: len(leads)}
	if len(leads) == 0 {
		return results, stats, nil
	}

	ids := make([]string, 0, len(leads))
	for _, lead := range leads {
		ids = append(ids, lead.ExternalID)
	}

	cached, err := s.store.GetEnrichments(ctx, ids)
	if err != nil {
		zap.L().Warn("vault lookup failed, enriching everything", zap.Error(err))
		cached = map[string]model.Enrichment{}
	}

	ttl := time.Duration(s.cfg.VaultTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	// Resolve vault hits before any worker starts so the shared map and
	// counters see no concurrent access outside the mutex.
	misses := make([]model.CleanLead, 0, len(leads))
	for _, lead := range leads {
		if entry, ok := cached[lead.ExternalID]; ok && entry.Fresh(ttl, s.now()) && entry.LastStatus == model.EnrichEnriched {
			results[lead.ExternalID] = entry
			stats.CacheHits++
			stats.Enriched++
			continue
		}
		misses = append(misses, lead)
	}

	var mu sync.Mutex
	var totalFetchMs int64
	var fetched int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())

	for _, lead := range misses {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			started := s.now()
			entry := s.enrichOne(gctx, runID, lead)
			elapsed := s.now().Sub(started).Milliseconds()

			if err := s.store.UpsertEnrichment(context.WithoutCancel(ctx), entry); err != nil {
				zap.L().Warn("vault upsert failed",
					zap.String("business_id", entry.BusinessID),
					zap.Error(err),
				)
			}

			mu.Lock()
			defer mu.Unlock()
			results[lead.ExternalID] = entry
			totalFetchMs += elapsed
			fetched++
			switch entry.LastStatus {
			case model.EnrichEnriched:
				stats.Enriched++
			case model.EnrichTimedOut:
				stats.TimedOut++
			default:
				stats.Failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, stats, err
	}
	if fetched > 0 {
		stats.AvgFetchMs = totalFetchMs / fetched
	}
	return results, stats, nil
}

// enrichOne walks a single lead through the state machine. It always
// returns a terminal entry; errors are recorded, never propagated.
func (s *Scheduler) enrichOne(ctx context.Context, runID string, lead model.CleanLead) model.Enrichment {
	entry := model.Enrichment{
		BusinessID: lead.ExternalID,
		FetchedAt:  s.now().UTC(),
		LastStatus: model.EnrichInFlight,
	}

	timeout := time.Duration(s.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	leadCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lookup, err := s.lookupPresence(leadCtx, lead)
	if err != nil {
		entry.LastStatus = classifyFailure(err)
		entry.Notes = err.Error()
		s.recordError(ctx, runID, lead.ExternalID, err)
		return entry
	}

	entry.SiteURL = lookup.SiteURL
	entry.Social = model.SocialProfiles{
		Instagram:    lookup.Instagram,
		LinkedIn:     lookup.LinkedIn,
		WhatsAppLink: lookup.WhatsAppLink,
	}

	if lookup.SiteURL != "" {
		detect, err := s.detectTech(leadCtx, lookup.SiteURL)
		if err != nil {
			// Partial enrichment still counts: the presence data is
			// usable without the technology signals.
			entry.Notes = "techdetect: " + err.Error()
			zap.L().Debug("techdetect failed for lead",
				zap.String("business_id", lead.ExternalID),
				zap.Error(err),
			)
		} else {
			entry.Technologies = detect.Technologies
			entry.HasContactPage = detect.HasContactPage
			entry.HasForm = detect.HasForm
			entry.TechScore = techScore(detect)
		}
	}

	entry.LastStatus = model.EnrichEnriched
	return entry
}

func (s *Scheduler) lookupPresence(ctx context.Context, lead model.CleanLead) (*webscan.LookupResponse, error) {
	breaker := s.breakers["webscan"]
	var resp *webscan.LookupResponse
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.webscan.Lookup(ctx, webscan.LookupRequest{
			BusinessName: lead.Name,
			Locality:     lead.Locality(),
		})
		return err
	})
	return resp, err
}

func (s *Scheduler) detectTech(ctx context.Context, siteURL string) (*techdetect.DetectResponse, error) {
	breaker := s.breakers["techdetect"]
	var resp *techdetect.DetectResponse
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		resp, err = s.techdetect.Detect(ctx, siteURL)
		return err
	})
	return resp, err
}

func (s *Scheduler) recordError(ctx context.Context, runID, leadID string, err error) {
	recErr := s.store.RecordError(ctx, model.RunError{
		RunID:  runID,
		Step:   "enrich",
		LeadID: leadID,
		Detail: err.Error(),
	})
	if recErr != nil {
		zap.L().Warn("record enrichment error", zap.Error(recErr))
	}
}

func (s *Scheduler) concurrency() int {
	n := s.cfg.Concurrency
	if n <= 0 {
		n = 8
	}
	if n > MaxConcurrency {
		n = MaxConcurrency
	}
	return n
}

func classifyFailure(err error) model.EnrichState {
	if errors.Is(err, context.DeadlineExceeded) || resilience.IsTimeout(err) {
		return model.EnrichTimedOut
	}
	return model.EnrichFailed
}

// techScore weighs detected technology signals: 10 points per technology
// plus bonuses for a contact page and a form, capped at 50.
func techScore(detect *techdetect.DetectResponse) int {
	score := len(detect.Technologies) * 10
	if detect.HasContactPage {
		score += 5
	}
	if detect.HasForm {
		score += 10
	}
	if score > 50 {
		score = 50
	}
	return score
}
