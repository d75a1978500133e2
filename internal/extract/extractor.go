package extract

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/hunter-cli/internal/config"
	"github.com/sells-group/hunter-cli/internal/model"
	"github.com/sells-group/hunter-cli/internal/resilience"
	"github.com/sells-group/hunter-cli/internal/store"
	"github.com/sells-group/hunter-cli/pkg/registry"
)

// Extraction strategies.
const (
	StrategyCache    = "cache"
	StrategyRealtime = "realtime"
	StrategyBulk     = "bulk"
)

// Result is the outcome of one extraction.
type Result struct {
	Records   []model.RegistryRecord `json:"-"`
	Total     int                    `json:"total"`
	Discarded int                    `json:"discarded"`
	Strategy  string                 `json:"strategy"`
	FromCache bool                   `json:"from_cache"`
}

// Extractor pulls registry records for a search spec, consulting the
// fingerprint cache first. Concurrent extractions of the same fingerprint
// are coalesced into a single upstream fetch.
type Extractor struct {
	client registry.Client
	store  store.Store
	cfg    config.ExtractConfig
	sf     singleflight.Group
	retry  resilience.RetryConfig
}

// New creates an Extractor.
func New(client registry.Client, st store.Store, cfg config.ExtractConfig) *Extractor {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("registry", "search")
	return &Extractor{client: client, store: st, cfg: cfg, retry: retry}
}

// Extract returns the records matching the spec, from cache when a fresh
// entry exists. Cache failures degrade to a miss: the registry remains
// reachable even when the store is not.
func (e *Extractor) Extract(ctx context.Context, runID string, spec model.SearchSpec) (*Result, error) {
	fp := spec.Fingerprint()

	if cached := e.lookupCache(ctx, fp); cached != nil {
		return cached, nil
	}

	v, err, shared := e.sf.Do(fp, func() (any, error) {
		return e.fetch(ctx, runID, spec, fp)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zap.L().Debug("extraction coalesced with concurrent fetch", zap.String("fingerprint", fp))
	}
	return v.(*Result), nil
}

func (e *Extractor) lookupCache(ctx context.Context, fp string) *Result {
	entry, err := e.store.GetCachedExtraction(ctx, fp)
	if err != nil {
		zap.L().Warn("extraction cache unavailable, treating as miss",
			zap.String("fingerprint", fp),
			zap.Error(err),
		)
		return nil
	}
	if entry == nil {
		return nil
	}

	var records []model.RegistryRecord
	if err := json.Unmarshal(entry.Payload, &records); err != nil {
		zap.L().Warn("extraction cache entry corrupt, treating as miss",
			zap.String("fingerprint", fp),
			zap.Error(err),
		)
		return nil
	}

	return &Result{
		Records:   records,
		Total:     entry.ResultCount,
		Strategy:  StrategyCache,
		FromCache: true,
	}
}

func (e *Extractor) fetch(ctx context.Context, runID string, spec model.SearchSpec, fp string) (*Result, error) {
	req := searchRequest(spec)
	maxRecords := e.maxRecords(spec)

	total, err := e.client.Count(ctx, req)
	if err != nil {
		if resilience.IsAuth(err) {
			return nil, eris.Wrap(err, "extract: probe total")
		}
		zap.L().Warn("total probe failed, assuming realtime strategy", zap.Error(err))
		total = 0
	}

	var result *Result
	if e.cfg.BulkThreshold > 0 && total >= e.cfg.BulkThreshold {
		result, err = e.fetchBulk(ctx, runID, req, total, maxRecords)
	} else {
		result, err = e.fetchRealtime(ctx, runID, spec, req, total, maxRecords)
	}
	if err != nil {
		return nil, err
	}

	e.storeCache(ctx, fp, result)
	return result, nil
}

// fetchRealtime pages through search results until the cap, the reported
// total, or an empty/short page ends the loop. Records past the cap are
// trimmed and counted as discarded.
func (e *Extractor) fetchRealtime(ctx context.Context, runID string, spec model.SearchSpec, req registry.SearchRequest, total, maxRecords int) (*Result, error) {
	pageSize := e.pageSize(spec)

	var records []model.RegistryRecord
	for page := 1; ; page++ {
		req.Page = page
		req.PageSize = pageSize

		started := time.Now()
		resp, err := resilience.DoVal(ctx, e.retry, func(ctx context.Context) (*registry.SearchResponse, error) {
			return e.client.Search(ctx, req)
		})
		e.recordCall(ctx, runID, "registry.search", started, resp, err)
		if err != nil {
			return nil, eris.Wrapf(err, "extract: search page %d", page)
		}

		if resp.Total > total {
			total = resp.Total
		}
		for _, rec := range resp.Data {
			records = append(records, mapRecord(rec))
		}

		if len(resp.Data) == 0 || len(resp.Data) < pageSize {
			break
		}
		if len(records) >= maxRecords || (total > 0 && len(records) >= total) {
			break
		}
	}

	discarded := 0
	if len(records) > maxRecords {
		discarded = len(records) - maxRecords
		records = records[:maxRecords]
		zap.L().Info("extraction trimmed to record cap",
			zap.Int("cap", maxRecords),
			zap.Int("discarded", discarded),
		)
	}

	return &Result{
		Records:   records,
		Total:     total,
		Discarded: discarded,
		Strategy:  StrategyRealtime,
	}, nil
}

func (e *Extractor) storeCache(ctx context.Context, fp string, result *Result) {
	payload, err := json.Marshal(result.Records)
	if err != nil {
		zap.L().Warn("marshal extraction for cache", zap.Error(err))
		return
	}

	ttl := time.Duration(e.cfg.CacheTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := e.store.SetCachedExtraction(ctx, fp, payload, len(result.Records), ttl); err != nil {
		zap.L().Warn("write extraction cache", zap.String("fingerprint", fp), zap.Error(err))
	}
}

func (e *Extractor) recordCall(ctx context.Context, runID, capability string, started time.Time, resp *registry.SearchResponse, err error) {
	call := model.APICall{
		RunID:      runID,
		Capability: capability,
		Method:     "POST",
		Outcome:    "success",
		Latency:    time.Since(started),
	}
	if resp != nil {
		call.RequestID = resp.RequestID
	}
	if err != nil {
		call.Outcome = "error"
	}
	if recErr := e.store.RecordAPICall(ctx, call); recErr != nil {
		zap.L().Warn("record api call", zap.Error(recErr))
	}
}

func (e *Extractor) pageSize(spec model.SearchSpec) int {
	size := spec.PageSize
	if size <= 0 {
		size = e.cfg.PageSize
	}
	if size <= 0 {
		size = 100
	}
	if size > registry.MaxPageSize {
		size = registry.MaxPageSize
	}
	return size
}

func (e *Extractor) maxRecords(spec model.SearchSpec) int {
	if spec.MaxRecords > 0 {
		return spec.MaxRecords
	}
	if e.cfg.MaxRecords > 0 {
		return e.cfg.MaxRecords
	}
	return 5000
}

func searchRequest(spec model.SearchSpec) registry.SearchRequest {
	return registry.SearchRequest{
		State:        spec.State,
		Municipality: spec.Municipality,
		Activities:   spec.ActivityPrefixes,
		Status:       spec.Status,
		LegalNatures: spec.LegalNatures,
	}
}

func mapRecord(rec registry.Record) model.RegistryRecord {
	return model.RegistryRecord{
		ExternalID:   rec.TaxID,
		LegalName:    rec.LegalName,
		TradeName:    rec.TradeName,
		ActivityCode: rec.Activity,
		ActivityDesc: rec.ActivityDsc,
		Email:        rec.Email,
		Phone1:       rec.Phone1,
		Phone2:       rec.Phone2,
		City:         rec.City,
		State:        rec.State,
		SizeClass:    rec.SizeClass,
		LegalNature:  rec.LegalNature,
		Capital:      rec.Capital,
		Status:       rec.Status,
		OpenedAt:     rec.OpenedAt,
	}
}
