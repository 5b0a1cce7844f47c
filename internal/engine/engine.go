// Package engine loads MPS models and batch-solves them for the solve
// service.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type Method string

const (
	MethodPDLP    Method = "pdlp"
	MethodSimplex Method = "simplex"
	MethodIPM     Method = "ipm"
	MethodChoose  Method = "choose"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodPDLP, MethodSimplex, MethodIPM, MethodChoose:
		return m, nil
	case "":
		return MethodPDLP, nil
	}
	return "", fmt.Errorf("unknown solve method %q", s)
}

type Settings struct {
	TimeLimit float64
	Method    Method
}

type Kind string

const (
	KindLP  Kind = "LP"
	KindMIP Kind = "MIP"
)

var ErrEmptyBatch = errors.New("empty batch")

// Model is a loaded model handle. Each Load returns an independent handle
// even for the same path.
type Model struct {
	Path string
	Name string
	Kind Kind
	Size int64
}

// Field is one named result attribute. Value is nil when the attribute does
// not apply to the result.
type Field struct {
	Name  string
	Value any
}

// Result is the tagged solver result: *LPResult or *MIPResult.
type Result interface {
	Kind() Kind
	Status() string
	ObjectiveValue() (float64, bool)
	// Fields lists every declared attribute except status and objective.
	Fields() []Field
}

// Batch is the outcome of one BatchSolve call. Results are in model order.
type Batch struct {
	Results []Result
	Elapsed time.Duration
}

type Engine interface {
	Load(ctx context.Context, path string) (*Model, error)
	BatchSolve(ctx context.Context, models []*Model, settings Settings) (*Batch, error)
}

// LPResult carries the attributes of a continuous solve.
type LPResult struct {
	TerminationStatus string
	Objective         *float64
	DualObjective     *float64
	PrimalSolution    []float64
	DualSolution      []float64
	ReducedCost       []float64
	RowActivity       []float64
	Iterations        *int
	SolveTime         *time.Duration
}

func (r *LPResult) Kind() Kind     { return KindLP }
func (r *LPResult) Status() string { return r.TerminationStatus }

func (r *LPResult) ObjectiveValue() (float64, bool) {
	if r.Objective == nil {
		return 0, false
	}
	return *r.Objective, true
}

func (r *LPResult) Fields() []Field {
	return []Field{
		{"problem_category", string(KindLP)},
		{"dual_objective", optional(r.DualObjective)},
		{"primal_solution", optionalSlice(r.PrimalSolution)},
		{"dual_solution", optionalSlice(r.DualSolution)},
		{"reduced_cost", optionalSlice(r.ReducedCost)},
		{"row_activity", optionalSlice(r.RowActivity)},
		{"nb_iterations", optional(r.Iterations)},
		{"solve_time", optional(r.SolveTime)},
	}
}

// MIPResult carries the attributes of an integer solve. Duals do not exist
// for MIP and are not declared.
type MIPResult struct {
	TerminationStatus string
	Objective         *float64
	SolutionBound     *float64
	MIPGap            *float64
	PrimalSolution    []float64
	RowActivity       []float64
	Nodes             *int
	SolveTime         *time.Duration
}

func (r *MIPResult) Kind() Kind     { return KindMIP }
func (r *MIPResult) Status() string { return r.TerminationStatus }

func (r *MIPResult) ObjectiveValue() (float64, bool) {
	if r.Objective == nil {
		return 0, false
	}
	return *r.Objective, true
}

func (r *MIPResult) Fields() []Field {
	return []Field{
		{"problem_category", string(KindMIP)},
		{"solution_bound", optional(r.SolutionBound)},
		{"mip_gap", optional(r.MIPGap)},
		{"primal_solution", optionalSlice(r.PrimalSolution)},
		{"row_activity", optionalSlice(r.RowActivity)},
		{"num_nodes", optional(r.Nodes)},
		{"solve_time", optional(r.SolveTime)},
	}
}

func optional[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func optionalSlice(s []float64) any {
	if s == nil {
		return nil
	}
	return s
}

// LoadModel checks the file and classifies it by the presence of an integer
// marker section. It does not parse the model.
func LoadModel(path string) (*Model, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &Model{Path: path, Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), Kind: KindLP, Size: st.Size()}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "NAME") {
			if fields := strings.Fields(line); len(fields) > 1 {
				m.Name = fields[1]
			}
			continue
		}
		if strings.Contains(line, "'MARKER'") && strings.Contains(line, "'INTORG'") {
			m.Kind = KindMIP
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	return m, nil
}
