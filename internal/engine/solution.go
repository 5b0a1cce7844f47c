package engine

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Solution is the content of a HiGHS raw solution file.
type Solution struct {
	ModelStatus   string
	PrimalStatus  string
	DualStatus    string
	Objective     *float64
	PrimalColumns []float64
	PrimalRows    []float64
	DualColumns   []float64
	DualRows      []float64
}

type solutionSection int

const (
	sectionNone solutionSection = iota
	sectionPrimal
	sectionDual
	sectionBasis
)

// ParseSolution reads the "Model status", primal and dual blocks of a HiGHS
// solution file. The basis block is ignored.
func ParseSolution(r io.Reader) (*Solution, error) {
	sol := &Solution{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	section := sectionNone
	expectStatus := false
	expectFeasibility := false
	lineNo := 0

	next := func() (string, bool) {
		for sc.Scan() {
			lineNo++
			if line := strings.TrimSpace(sc.Text()); line != "" {
				return line, true
			}
		}
		return "", false
	}

	for {
		line, ok := next()
		if !ok {
			break
		}
		switch {
		case line == "Model status":
			expectStatus = true
			continue
		case expectStatus:
			sol.ModelStatus = line
			expectStatus = false
			continue
		case line == "# Primal solution values":
			section, expectFeasibility = sectionPrimal, true
			continue
		case line == "# Dual solution values":
			section, expectFeasibility = sectionDual, true
			continue
		case line == "# Basis":
			section = sectionBasis
			continue
		}
		if section == sectionBasis {
			continue
		}
		if expectFeasibility {
			expectFeasibility = false
			if section == sectionPrimal {
				sol.PrimalStatus = line
			} else {
				sol.DualStatus = line
			}
			continue
		}
		if v, ok := strings.CutPrefix(line, "Objective "); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: objective: %w", lineNo, err)
			}
			sol.Objective = &f
			continue
		}
		kind, count, ok := vectorHeader(line)
		if !ok {
			continue
		}
		values := make([]float64, 0, count)
		for i := 0; i < count; i++ {
			entry, ok := next()
			if !ok {
				return nil, fmt.Errorf("line %d: %s block truncated after %d of %d entries", lineNo, kind, i, count)
			}
			fields := strings.Fields(entry)
			f, err := strconv.ParseFloat(fields[len(fields)-1], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s value: %w", lineNo, kind, err)
			}
			values = append(values, f)
		}
		switch {
		case section == sectionPrimal && kind == "Columns":
			sol.PrimalColumns = values
		case section == sectionPrimal && kind == "Rows":
			sol.PrimalRows = values
		case section == sectionDual && kind == "Columns":
			sol.DualColumns = values
		case section == sectionDual && kind == "Rows":
			sol.DualRows = values
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if sol.ModelStatus == "" {
		return nil, fmt.Errorf("solution file has no model status")
	}
	return sol, nil
}

func vectorHeader(line string) (string, int, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "#" || (fields[1] != "Columns" && fields[1] != "Rows") {
		return "", 0, false
	}
	n, err := strconv.Atoi(fields[2])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return fields[1], n, true
}

// runSummary holds figures HiGHS prints to its log but not to the solution
// file.
type runSummary struct {
	Iterations    *int
	DualObjective *float64
	DualBound     *float64
	Gap           *float64
	Nodes         *int
	RunTime       *time.Duration
}

func parseTranscript(transcript string) runSummary {
	var s runSummary
	iterations, sawIterations := 0, false
	for _, raw := range strings.Split(transcript, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case strings.Contains(line, "iterations:"):
			_, v, _ := strings.Cut(line, ":")
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				iterations += n
				sawIterations = true
			}
		case strings.HasPrefix(line, "HiGHS run time"):
			_, v, _ := strings.Cut(line, ":")
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				d := time.Duration(f * float64(time.Second))
				s.RunTime = &d
			}
		case strings.HasPrefix(line, "Dual objective value"):
			_, v, _ := strings.Cut(line, ":")
			if f, ok := firstFloat(v); ok {
				s.DualObjective = &f
			}
		case strings.HasPrefix(line, "Dual bound"):
			if f, ok := firstFloat(strings.TrimPrefix(line, "Dual bound")); ok {
				s.DualBound = &f
			}
		case strings.HasPrefix(line, "Gap"):
			fields := strings.Fields(strings.TrimPrefix(line, "Gap"))
			if len(fields) == 0 {
				continue
			}
			if pct, ok := strings.CutSuffix(fields[0], "%"); ok {
				if f, err := strconv.ParseFloat(pct, 64); err == nil {
					f /= 100
					s.Gap = &f
				}
			}
		case strings.HasPrefix(line, "Nodes"):
			if f, ok := firstFloat(strings.TrimPrefix(line, "Nodes")); ok {
				n := int(f)
				s.Nodes = &n
			}
		}
	}
	if sawIterations {
		s.Iterations = &iterations
	}
	return s
}

func firstFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	return f, err == nil
}

// toResult combines a parsed solution file and the run log into the typed
// result for the model's kind.
func toResult(kind Kind, sol *Solution, sum runSummary) Result {
	if kind == KindMIP {
		return &MIPResult{
			TerminationStatus: sol.ModelStatus,
			Objective:         sol.Objective,
			SolutionBound:     sum.DualBound,
			MIPGap:            sum.Gap,
			PrimalSolution:    sol.PrimalColumns,
			RowActivity:       sol.PrimalRows,
			Nodes:             sum.Nodes,
			SolveTime:         sum.RunTime,
		}
	}
	return &LPResult{
		TerminationStatus: sol.ModelStatus,
		Objective:         sol.Objective,
		PrimalSolution:    sol.PrimalColumns,
		DualObjective:     sum.DualObjective,
		DualSolution:      sol.DualRows,
		ReducedCost:       sol.DualColumns,
		RowActivity:       sol.PrimalRows,
		Iterations:        sum.Iterations,
		SolveTime:         sum.RunTime,
	}
}
