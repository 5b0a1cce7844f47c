package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	SectionPaths = "Paths"
	SectionCuOpt = "cuOpt"

	KeySCIPExe        = "scip_solver_exe"
	KeyHiGHSExe       = "highs_solver_exe"
	KeyExampleMPSPath = "example_mps_path"
	KeyServerURL      = "server_url"
)

// ErrConfigNotFound is returned by LoadSections when the file does not exist.
var ErrConfigNotFound = errors.New("missing configuration file")

// MissingKeyError names a required section/key absent from the workflow config.
type MissingKeyError struct {
	Section string
	Key     string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing key %q in section [%s]", e.Key, e.Section)
}

// Sections is the raw workflow configuration: section -> key -> value.
type Sections map[string]map[string]string

// LoadSections reads a workflow config file. The result is not validated.
func LoadSections(path string) (Sections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrConfigNotFound, path)
		}
		return nil, err
	}
	s := Sections{}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	s.applyEnv()
	return s, nil
}

func (s Sections) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("MPSFLOW_SCIP_EXE")); v != "" {
		s.Set(SectionPaths, KeySCIPExe, v)
	}
	if v := strings.TrimSpace(os.Getenv("MPSFLOW_HIGHS_EXE")); v != "" {
		s.Set(SectionPaths, KeyHiGHSExe, v)
	}
	if v := strings.TrimSpace(os.Getenv("MPSFLOW_CUOPT_URL")); v != "" {
		s.Set(SectionCuOpt, KeyServerURL, v)
	}
}

// Get returns the value of section/key or a *MissingKeyError.
func (s Sections) Get(section, key string) (string, error) {
	v := strings.TrimSpace(s[section][key])
	if v == "" {
		return "", &MissingKeyError{Section: section, Key: key}
	}
	return v, nil
}

func (s Sections) Set(section, key, value string) {
	if s[section] == nil {
		s[section] = map[string]string{}
	}
	s[section][key] = value
}

// Workflow holds the validated settings every workflow needs.
type Workflow struct {
	SCIPExe        string
	HiGHSExe       string
	CuOptURL       string
	ExampleMPSPath string
}

// ResolveWorkflow extracts the required keys. All of them must be present.
func ResolveWorkflow(s Sections) (Workflow, error) {
	var w Workflow
	var err error
	if w.SCIPExe, err = s.Get(SectionPaths, KeySCIPExe); err != nil {
		return Workflow{}, err
	}
	if w.HiGHSExe, err = s.Get(SectionPaths, KeyHiGHSExe); err != nil {
		return Workflow{}, err
	}
	if w.CuOptURL, err = s.Get(SectionCuOpt, KeyServerURL); err != nil {
		return Workflow{}, err
	}
	w.ExampleMPSPath, _ = s.Get(SectionPaths, KeyExampleMPSPath)
	return w, nil
}

// LoadWorkflow is LoadSections followed by ResolveWorkflow.
func LoadWorkflow(path string) (Workflow, error) {
	s, err := LoadSections(path)
	if err != nil {
		return Workflow{}, err
	}
	return ResolveWorkflow(s)
}
