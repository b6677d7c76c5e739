// =============================================================================
// Consumption Refinery - Refinement Pipeline
// =============================================================================
//
// This module is the single entry point of the refinement core. It runs the
// stages strictly forward:
//
//   RawRow -> MappedRow -> NormalizedRecord -> ReconciledRecord
//          -> AggregatedRecord -> ValidationIssue
//
// PROCESSING FLOW:
//   1. Build the mapper and normalizer from the immutable Config.
//   2. Resolve every distinct header set. Schema errors abort here, before
//      any row is normalized.
//   3. Normalize rows in input order. Row errors follow OnRowError.
//   4. Reconcile and aggregate each entity independently, fanned out to at
//      most Workers goroutines. Cancellation is checked between entities.
//   5. Validate the concatenated table.
//
// =============================================================================

package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/consumption-refinery/internal/aggregator"
	"github.com/ginjaninja78/consumption-refinery/internal/normalizer"
	"github.com/ginjaninja78/consumption-refinery/internal/reconciler"
	"github.com/ginjaninja78/consumption-refinery/internal/schema"
	"github.com/ginjaninja78/consumption-refinery/internal/types"
	"github.com/ginjaninja78/consumption-refinery/internal/validation"
)

// RuleRowError is the issue rule for rows skipped under the skip policy.
const RuleRowError = "row_error"

// RowErrorPolicy decides what a row-level error does to the run.
type RowErrorPolicy string

const (
	// SkipRow drops the row and records a warning.
	SkipRow RowErrorPolicy = "skip"

	// AbortRun stops the run and returns a *types.RowError.
	AbortRun RowErrorPolicy = "abort"
)

// ParseRowErrorPolicy reads "skip" or "abort".
func ParseRowErrorPolicy(s string) (RowErrorPolicy, error) {
	switch p := RowErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SkipRow, AbortRun:
		return p, nil
	}
	return "", fmt.Errorf("unknown on_row_error policy %q (want skip or abort)", s)
}

// =============================================================================
// CONFIGURATION AND RESULT
// =============================================================================

// Config is the immutable configuration of one refinement run.
type Config struct {
	Mapping       schema.Mapping
	Normalization normalizer.Config

	// Grain is the reporting grain.
	Grain types.Grain

	// Location aligns buckets. Default: Normalization.Location, else UTC.
	Location *time.Location

	Validation validation.Options

	// ExtraRules run after the built-in rules.
	ExtraRules []validation.Rule

	// OnRowError is the row-level error policy. Default: SkipRow
	OnRowError RowErrorPolicy

	// Workers bounds the per-entity fan-out. Values below 1 mean 1.
	Workers int
}

func (c Config) location() *time.Location {
	switch {
	case c.Location != nil:
		return c.Location
	case c.Normalization.Location != nil:
		return c.Normalization.Location
	}
	return time.UTC
}

// Stats counts what happened to the rows of a run.
type Stats struct {
	RowsRead         int
	RowsSkipped      int
	Normalized       int
	Reconciled       int
	Entities         int
	Buckets          int
	NoDataBuckets    int
	IssuesBySeverity map[types.Severity]int
}

// Result is the output table and every issue found while producing it.
type Result struct {
	Records []types.AggregatedRecord
	Issues  []types.ValidationIssue
	Stats   Stats
}

// =============================================================================
// REFINE
// =============================================================================

// Refine runs the whole pipeline over rows.
//
// PARAMETERS:
//   - ctx: checked between entity partitions.
//   - rows: the raw rows, in source order.
//   - cfg: the run configuration.
//   - log: a logger; nil discards.
//
// RETURNS:
//   - The aggregated table, issues and counts.
//   - A configuration error, a schema error (UnmappableColumnError,
//     AmbiguousMappingError), a *types.RowError under the abort policy, or
//     the context error.
func Refine(ctx context.Context, rows []types.RawRow, cfg Config, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}

	grain := cfg.Grain
	if grain == "" {
		grain = types.GrainDay
	}
	if _, err := types.ParseGrain(string(grain)); err != nil {
		return nil, err
	}
	policy := cfg.OnRowError
	if policy == "" {
		policy = SkipRow
	}
	if _, err := ParseRowErrorPolicy(string(policy)); err != nil {
		return nil, err
	}

	mapper, err := schema.NewMapper(cfg.Mapping)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	norm, err := normalizer.New(cfg.Normalization)
	if err != nil {
		return nil, fmt.Errorf("invalid normalization: %w", err)
	}

	res := &Result{Stats: Stats{RowsRead: len(rows)}}

	// Stage 1: mapping.
	mapped, err := mapRows(rows, mapper, log)
	if err != nil {
		return nil, err
	}

	// Stage 2: normalization.
	var records []types.NormalizedRecord
	for _, row := range mapped {
		rec, err := norm.Normalize(row)
		if err == nil {
			records = append(records, rec)
			continue
		}
		if policy == AbortRun {
			return nil, &types.RowError{Row: row.Index, Err: err}
		}
		res.Stats.RowsSkipped++
		res.Issues = append(res.Issues, types.ValidationIssue{
			Ref:      types.RecordRef{Row: row.Index},
			Rule:     RuleRowError,
			Severity: types.SeverityWarning,
			Message:  err.Error(),
		})
		log.Debug("row skipped", zap.Int("row", row.Index), zap.Error(err))
	}
	res.Stats.Normalized = len(records)

	// Stage 3: reconcile and aggregate per entity.
	partitions := partitionByEntity(records)
	res.Stats.Entities = len(partitions)

	type partial struct {
		records []types.AggregatedRecord
		issues  []types.ValidationIssue
		count   int
	}
	parts := make([]partial, len(partitions))

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	loc := cfg.location()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, part := range partitions {
		if err := gctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := reconciler.Reconcile(part)
			parts[i] = partial{
				records: aggregator.Aggregate(rec.Records, grain, loc),
				issues:  rec.Issues,
				count:   len(rec.Records),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, p := range parts {
		res.Records = append(res.Records, p.records...)
		res.Issues = append(res.Issues, p.issues...)
		res.Stats.Reconciled += p.count
	}

	// Stage 4: validation.
	rules := append(validation.DefaultRules(cfg.Validation), cfg.ExtraRules...)
	res.Issues = append(res.Issues, validation.New(rules...).Validate(res.Records)...)

	res.Stats.Buckets = len(res.Records)
	for _, r := range res.Records {
		if r.NoData {
			res.Stats.NoDataBuckets++
		}
	}
	res.Stats.IssuesBySeverity = types.CountBySeverity(res.Issues)

	log.Info("refinement complete",
		zap.Int("rows", res.Stats.RowsRead),
		zap.Int("skipped", res.Stats.RowsSkipped),
		zap.Int("entities", res.Stats.Entities),
		zap.Int("buckets", res.Stats.Buckets),
		zap.Int("issues", len(res.Issues)),
		zap.String("grain", string(grain)))

	return res, nil
}

// mapRows resolves each distinct header set once and maps every row.
func mapRows(rows []types.RawRow, mapper *schema.Mapper, log *zap.Logger) ([]types.MappedRow, error) {
	resolved := make(map[string]*schema.ColumnMap)
	keys := make([]string, len(rows))
	for i, row := range rows {
		key := strings.Join(row.Headers, "\x1f") + fmt.Sprint(row.Columns)
		keys[i] = key
		if _, ok := resolved[key]; ok {
			continue
		}
		cm, err := mapper.ResolveColumns(row.Headers, row.Columns)
		if err != nil {
			return nil, err
		}
		resolved[key] = cm
		log.Debug("headers resolved",
			zap.Strings("columns", cm.FieldNames()),
			zap.String("unit_hint", cm.UnitHint))
	}

	out := make([]types.MappedRow, len(rows))
	for i, row := range rows {
		out[i] = resolved[keys[i]].Apply(row)
	}
	return out, nil
}

// partitionByEntity groups records by entity in sorted entity order.
func partitionByEntity(records []types.NormalizedRecord) [][]types.NormalizedRecord {
	byEntity := make(map[string][]types.NormalizedRecord)
	for _, r := range records {
		byEntity[r.EntityID] = append(byEntity[r.EntityID], r)
	}
	entities := make([]string, 0, len(byEntity))
	for e := range byEntity {
		entities = append(entities, e)
	}
	sort.Strings(entities)

	out := make([][]types.NormalizedRecord, len(entities))
	for i, e := range entities {
		out[i] = byEntity[e]
	}
	return out
}
