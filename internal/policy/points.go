// Package policy evaluates loyalty point promotions written in Rego.
package policy

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/goodtune/gamestore/internal/billing"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// HourlyQuery is the rule every points policy must define.
const HourlyQuery = "data.gamestore.points.hourly"

const builtinSource = "builtin"

//go:embed rego/hourly_points.rego
var builtinPolicy string

// PointsEngine decides hourly session points with an OPA policy. It
// implements billing.HourlyPointsPolicy.
type PointsEngine struct {
	policyFile string
	logger     zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewPointsEngine compiles the policy in policyFile, or the built-in policy
// when policyFile is empty.
func NewPointsEngine(policyFile string, logger zerolog.Logger) (*PointsEngine, error) {
	e := &PointsEngine{
		policyFile: policyFile,
		logger:     logger.With().Str("component", "policy").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Source names where the active policy came from.
func (e *PointsEngine) Source() string {
	if e.policyFile == "" {
		return builtinSource
	}
	return e.policyFile
}

// Uses reports whether the engine was built for policyFile.
func (e *PointsEngine) Uses(policyFile string) bool {
	return e.policyFile == policyFile
}

// Reload re-reads and recompiles the policy. The previous policy stays in
// effect if the new one fails to compile.
func (e *PointsEngine) Reload() error {
	name, content := "hourly_points.rego", builtinPolicy
	if e.policyFile != "" {
		raw, err := os.ReadFile(e.policyFile)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", e.policyFile, err)
		}
		name, content = e.policyFile, string(raw)
	}

	module, err := ast.ParseModule(name, content)
	if err != nil {
		return fmt.Errorf("failed to parse policy %s: %w", name, err)
	}

	r := rego.New(
		rego.Query(HourlyQuery),
		rego.Module(name, content),
	)

	query, err := r.PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to prepare points query: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	e.logger.Info().
		Str("source", e.Source()).
		Str("package", module.Package.Path.String()).
		Msg("Points policy loaded")

	return nil
}

// HourlyPoints implements billing.HourlyPointsPolicy.
func (e *PointsEngine) HourlyPoints(ctx context.Context, in billing.HourlyPointsInput) (int, error) {
	amount, _ := in.Amount.Float64()
	input := map[string]interface{}{
		"plan_id":            in.PlanID,
		"device_class":       in.DeviceClass,
		"points_per_unit":    in.PointsPerUnit,
		"standard_minutes":   in.StandardMinutes,
		"extra_time_minutes": in.ExtraTimeMinutes,
		"elapsed_minutes":    in.ElapsedMinutes,
		"amount":             amount,
	}

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	start := time.Now()
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return 0, fmt.Errorf("points query evaluation failed: %w", err)
	}
	e.logger.Debug().Dur("duration_ms", time.Since(start)).Str("plan_id", in.PlanID).Msg("Points query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return 0, fmt.Errorf("no result from points query")
	}

	points, err := toPoints(results[0].Expressions[0].Value)
	if err != nil {
		return 0, err
	}
	return points, nil
}

// toPoints converts a policy result to a non-negative whole number of
// points, rounding down.
func toPoints(v interface{}) (int, error) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("points result %q is not a number: %w", n, err)
		}
		f = parsed
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	default:
		return 0, fmt.Errorf("points result is not a number: %T", v)
	}

	if math.IsNaN(f) || f <= 0 {
		return 0, nil
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, nil
	}
	return int(math.Floor(f)), nil
}
