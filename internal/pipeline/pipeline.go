// Package pipeline orchestrates one ownership resolution: lookup stages,
// tiered research fallback, verification, and result assembly. Every
// stage attempt lands in the execution trace, and every run ends in a
// structured result; past input validation, nothing escapes as an error.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/brandtrace/ownership-cli/internal/config"
	"github.com/brandtrace/ownership-cli/internal/evalsink"
	"github.com/brandtrace/ownership-cli/internal/model"
	"github.com/brandtrace/ownership-cli/internal/normalize"
	"github.com/brandtrace/ownership-cli/internal/resilience"
	"github.com/brandtrace/ownership-cli/internal/stage"
	"github.com/brandtrace/ownership-cli/internal/store"
	"github.com/brandtrace/ownership-cli/internal/trace"
	"github.com/brandtrace/ownership-cli/internal/verify"
	"github.com/brandtrace/ownership-cli/pkg/openfoodfacts"
)

const identityTimeout = 10 * time.Second

// Deps carries the pipeline's collaborators. Store is required; the rest
// degrade gracefully when nil (no identity enrichment, no verification,
// no eval export).
type Deps struct {
	Stages    []stage.ResearchStage
	Verifier  verify.Verifier
	Store     store.Store
	Identity  openfoodfacts.Client
	Sink      evalsink.Sink
	Publisher trace.Publisher
}

// Pipeline resolves ownership queries. Safe for concurrent use;
// concurrent identical queries are deduplicated by fingerprint.
type Pipeline struct {
	cfg      config.ResolverConfig
	stages   []stage.ResearchStage
	verifier verify.Verifier
	store    store.Store
	identity openfoodfacts.Client
	sink     evalsink.Sink
	pub      trace.Publisher
	bounds   verify.DeltaBounds
	breakers *resilience.BackendBreakers
	group    singleflight.Group
}

// New builds a pipeline from config and collaborators.
func New(cfg config.ResolverConfig, deps Deps) *Pipeline {
	sink := deps.Sink
	if sink == nil {
		sink = evalsink.Nop{}
	}
	bounds := verify.DefaultDeltaBounds()
	if cfg.VerifyMinDelta != 0 || cfg.VerifyMaxDelta != 0 {
		bounds = verify.DeltaBounds{Min: cfg.VerifyMinDelta, Max: cfg.VerifyMaxDelta}
	}
	// A registry miss or an honest "unknown" from the LLM is a normal
	// outcome, not backend trouble; only transient failures may open a
	// breaker, or a run of cold lookups would poison the short-circuit
	// path for brands that are curated.
	cbCfg := resilience.DefaultCircuitBreakerConfig()
	cbCfg.ShouldTrip = func(err error) bool {
		if err == nil || errors.Is(err, stage.ErrNoEvidence) {
			return false
		}
		return resilience.IsTransient(err)
	}
	return &Pipeline{
		cfg:      cfg,
		stages:   deps.Stages,
		verifier: deps.Verifier,
		store:    deps.Store,
		identity: deps.Identity,
		sink:     sink,
		pub:      deps.Publisher,
		bounds:   bounds,
		breakers: resilience.NewBackendBreakers(cbCfg),
	}
}

// Resolve runs the full pipeline for one query. Concurrent callers with
// the same fingerprint share a single execution and receive the same
// resolution. Resolve never returns an error: terminal failure is the
// insufficient_evidence result.
func (p *Pipeline) Resolve(ctx context.Context, q model.OwnershipQuery) *model.Resolution {
	key := normalize.Fingerprint(q.Brand, q.ProductName, q.Barcode)

	v, _, shared := p.group.Do(key, func() (any, error) {
		return p.resolve(ctx, q, key), nil
	})
	if shared {
		zap.L().Debug("resolution shared with concurrent caller",
			zap.String("fingerprint", key),
			zap.String("subject", q.Subject()),
		)
	}
	return v.(*model.Resolution)
}

// candidateOutcome pairs a stage's candidate with its verification.
type candidateOutcome struct {
	cand     *model.OwnershipCandidate
	outcome  model.VerificationOutcome
	adjusted int
}

func (p *Pipeline) resolve(ctx context.Context, q model.OwnershipQuery, fingerprint string) *model.Resolution {
	// Publish progress under the fingerprint: concurrent callers share
	// one run, and subscribers key their interest by fingerprint, not by
	// whichever caller's query ID happened to win the singleflight.
	pub := p.pub
	if pub != nil {
		pub = trace.NewKeyedPublisher(fingerprint, pub)
	}
	rec := trace.NewRecorder(q.QueryID, pub)
	log := zap.L().With(zap.String("query_id", q.QueryID), zap.String("subject", q.Subject()))

	q = p.enrichIdentity(ctx, rec, q)

	if result := p.cacheLookup(ctx, rec, fingerprint); result != nil {
		log.Info("cache hit", zap.Int("confidence", result.ConfidenceScore))
		return p.finish(ctx, rec, q, result, false, fingerprint)
	}

	// Best below-floor candidate so far. If every stage falls short the
	// highest-confidence one still becomes the result rather than a bare
	// insufficient_evidence.
	var best *candidateOutcome

	for i, st := range p.stages {
		if ctx.Err() != nil {
			p.markSkipped(rec, p.stages[i:], "overall deadline exhausted")
			break
		}

		cand, err := p.runStage(ctx, rec, st, q)
		if err != nil {
			log.Warn("stage produced no candidate",
				zap.String("stage", st.Name()),
				zap.Error(err),
			)
			continue
		}

		outcome := model.SkippedVerification()
		if p.cfg.VerifyEnabled && p.verifier != nil && !cand.Method.PreTrusted() {
			outcome = p.runVerification(ctx, rec, q, cand)
		}

		adjusted := clampScore(cand.Confidence + outcome.ConfidenceDelta)
		co := &candidateOutcome{cand: cand, outcome: outcome, adjusted: adjusted}

		if adjusted >= p.cfg.AcceptanceFloor {
			result, aerr := assemble(q, cand, outcome)
			if aerr != nil {
				log.Error("result assembly failed", zap.String("stage", st.Name()), zap.Error(aerr))
				continue
			}
			log.Info("candidate accepted",
				zap.String("stage", st.Name()),
				zap.Int("confidence", adjusted),
				zap.String("owner", result.FinancialBeneficiary),
			)
			return p.finish(ctx, rec, q, result, true, fingerprint)
		}

		if outcome.Status == model.VerificationContradicted {
			cErr := &resilience.ContradictionError{Stage: st.Name(), Delta: outcome.ConfidenceDelta}
			log.Warn("candidate invalidated by verification",
				zap.String("stage", st.Name()),
				zap.Int("adjusted_confidence", adjusted),
				zap.Error(cErr),
			)
		} else {
			log.Info("candidate below acceptance floor",
				zap.String("stage", st.Name()),
				zap.Int("adjusted_confidence", adjusted),
				zap.Int("floor", p.cfg.AcceptanceFloor),
			)
		}

		if best == nil || co.adjusted > best.adjusted {
			best = co
		}
	}

	if best != nil {
		result, aerr := assemble(q, best.cand, best.outcome)
		if aerr == nil {
			log.Info("no candidate reached the floor, keeping best effort",
				zap.Int("confidence", best.adjusted),
			)
			return p.finish(ctx, rec, q, result, false, fingerprint)
		}
		log.Error("result assembly failed for best-effort candidate", zap.Error(aerr))
	}

	log.Info("all stages exhausted without evidence")
	return p.finish(ctx, rec, q, insufficientEvidence(q), false, fingerprint)
}

// finish seals the trace, persists the resolution, caches accepted
// results, and exports to the eval sink. Persistence failures are logged
// and swallowed; the caller still gets the result.
func (p *Pipeline) finish(ctx context.Context, rec *trace.Recorder, q model.OwnershipQuery, result *model.OwnershipResult, accepted bool, fingerprint string) *model.Resolution {
	result.QueryID = q.QueryID

	res := &model.Resolution{
		Query:  q,
		Result: result,
		Trace:  rec.Finalize(string(result.ResultType)),
	}

	// Late-arriving runs should still persist even when the request
	// deadline just expired.
	persistCtx := context.WithoutCancel(ctx)

	if accepted && result.ResultType != model.MethodCache {
		if err := p.store.SetCachedResult(persistCtx, fingerprint, result, p.cfg.CacheTTL); err != nil {
			zap.L().Warn("cache write failed", zap.String("query_id", q.QueryID), zap.Error(err))
		}
	}
	if err := p.store.SaveResolution(persistCtx, res); err != nil {
		zap.L().Warn("resolution save failed", zap.String("query_id", q.QueryID), zap.Error(err))
	}
	if err := p.sink.Write(persistCtx, res); err != nil {
		zap.L().Warn("eval sink write failed", zap.String("query_id", q.QueryID), zap.Error(err))
	}
	return res
}

// runStage executes one research stage under its timeout, retry, and
// circuit breaker, and appends the attempt to the trace.
func (p *Pipeline) runStage(ctx context.Context, rec *trace.Recorder, st stage.ResearchStage, q model.OwnershipQuery) (*model.OwnershipCandidate, error) {
	stageCtx, cancel := context.WithTimeout(ctx, p.stageTimeout(st.Method()))
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = p.cfg.StageRetries + 1
	retryCfg.OnRetry = resilience.RetryLogger(st.Name(), "propose")

	cb := p.breakers.Get(st.Name())

	start := time.Now()
	cand, err := resilience.DoVal(stageCtx, retryCfg, func(ctx context.Context) (*model.OwnershipCandidate, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*model.OwnershipCandidate, error) {
			return st.Run(ctx, q)
		})
	})
	if err == nil {
		if verr := cand.Validate(); verr != nil {
			err = resilience.NewDeterministicError(verr, "invalid candidate")
			cand = nil
		}
	}

	record := trace.StageRecord{
		StageName:   st.Name(),
		Duration:    time.Since(start),
		InputDigest: trace.Digest(q.Subject()),
	}
	switch {
	case err == nil:
		record.Status = trace.StageSuccess
		record.OutputDigest = trace.Digest(cand.UltimateOwner().Name)
	case errors.Is(err, context.DeadlineExceeded):
		record.Status = trace.StageTimeout
		record.Error = err.Error()
	default:
		record.Status = trace.StageFailure
		record.Error = err.Error()
	}
	rec.Append(record)

	return cand, err
}

// runVerification re-checks a candidate. Verifier errors degrade to an
// inconclusive outcome with zero delta; verification failing must never
// discard a candidate on its own.
func (p *Pipeline) runVerification(ctx context.Context, rec *trace.Recorder, q model.OwnershipQuery, cand *model.OwnershipCandidate) model.VerificationOutcome {
	verifyCtx, cancel := context.WithTimeout(ctx, p.cfg.VerifyTimeout)
	defer cancel()

	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = p.cfg.StageRetries + 1
	retryCfg.OnRetry = resilience.RetryLogger("verification", "verify")

	cb := p.breakers.Get("verification")

	start := time.Now()
	outcome, err := resilience.DoVal(verifyCtx, retryCfg, func(ctx context.Context) (*model.VerificationOutcome, error) {
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*model.VerificationOutcome, error) {
			return p.verifier.Verify(ctx, q, cand)
		})
	})

	record := trace.StageRecord{
		StageName:   "verification",
		Duration:    time.Since(start),
		InputDigest: trace.Digest(cand.UltimateOwner().Name),
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			record.Status = trace.StageTimeout
		} else {
			record.Status = trace.StageFailure
		}
		record.Error = err.Error()
		rec.Append(record)
		zap.L().Warn("verification unavailable, treating as inconclusive",
			zap.String("query_id", q.QueryID),
			zap.Error(err),
		)
		return model.VerificationOutcome{
			Status: model.VerificationInconclusive,
			Notes:  "verifier unavailable: " + err.Error(),
		}
	}

	outcome.ConfidenceDelta = p.bounds.Clamp(outcome.ConfidenceDelta)

	record.Status = trace.StageSuccess
	record.OutputDigest = trace.Digest(string(outcome.Status))
	rec.Append(record)

	return *outcome
}

// cacheLookup checks the result cache. A miss or a store error is
// recorded and falls through to research; the cache is an accelerator,
// never a gate.
func (p *Pipeline) cacheLookup(ctx context.Context, rec *trace.Recorder, fingerprint string) *model.OwnershipResult {
	lookupCtx, cancel := context.WithTimeout(ctx, p.cfg.LookupTimeout)
	defer cancel()

	start := time.Now()
	cached, err := p.store.GetCachedResult(lookupCtx, fingerprint)

	record := trace.StageRecord{
		StageName:   "cache_lookup",
		Duration:    time.Since(start),
		InputDigest: trace.Digest(fingerprint),
	}
	switch {
	case err != nil:
		record.Status = trace.StageFailure
		record.Error = err.Error()
		zap.L().Warn("cache lookup failed", zap.Error(err))
	case cached == nil:
		record.Status = trace.StageFailure
		record.Error = "cache miss"
	default:
		record.Status = trace.StageSuccess
		record.OutputDigest = trace.Digest(cached.FinancialBeneficiary)
	}
	rec.Append(record)

	if cached == nil {
		return nil
	}

	// Replay keeps the original confidence and chain but is marked as a
	// cache result so the caller can tell it apart from fresh research.
	replay := *cached
	replay.ResultType = model.MethodCache
	replay.ResolvedAt = time.Now().UTC()
	return &replay
}

// markSkipped records the stages that never ran because the overall
// deadline was already exhausted.
func (p *Pipeline) markSkipped(rec *trace.Recorder, remaining []stage.ResearchStage, reason string) {
	for _, st := range remaining {
		rec.Append(trace.StageRecord{
			StageName: st.Name(),
			Status:    trace.StageSkipped,
			Error:     reason,
		})
	}
}

func (p *Pipeline) stageTimeout(method model.ResearchMethod) time.Duration {
	switch method {
	case model.MethodStaticMapping, model.MethodCache:
		return p.cfg.LookupTimeout
	case model.MethodWebSearchInference:
		return p.cfg.SearchTimeout
	default:
		return p.cfg.InferenceTimeout
	}
}

// BreakerStates exposes per-backend circuit breaker states for the
// health endpoint.
func (p *Pipeline) BreakerStates() map[string]resilience.CircuitState {
	return p.breakers.States()
}
