package runner

import (
	"errors"
	"fmt"
	"strings"
)

type SolveType string

const (
	SolveTypePresolve SolveType = "presolve"
	SolveTypeSolve    SolveType = "solve"
)

var ErrUnsupportedSolveType = errors.New("unsupported solve_type")

// SCIPScript renders the interactive-shell commands for one SCIP run.
// The presolve script stops SCIP before branching (node limit 0) and
// presolves as hard as it can without aggregating variables.
func SCIPScript(solveType SolveType, input, output string) (string, error) {
	var lines []string
	switch solveType {
	case SolveTypePresolve:
		lines = []string{
			"read " + input,
			"set limits nodes 0",
			"set presolving donotaggr TRUE",
			"set presolving maxrounds -1",
			"set presolving maxrestarts -1",
			"presolve",
			"write transproblem " + output,
			"quit",
		}
	case SolveTypeSolve:
		lines = []string{
			"read " + input,
			"optimize",
			"display solution",
			"write solution " + output,
			"quit",
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSolveType, string(solveType))
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// HiGHSArgs returns the command line for a non-interactive HiGHS run.
func HiGHSArgs(input, output string) []string {
	return []string{"--model_file", input, "--solution_file", output}
}
