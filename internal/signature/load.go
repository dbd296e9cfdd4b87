// Package signature — load.go
//
// Signature database loading. The file is a yaml list of
// SupervisorSignature documents; an empty path falls back to the
// built-in set covering the common leakers on developer workstations.

package signature

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/joyshmitz/process-triage-sub005/internal/inference"
)

// LoadDatabase reads and compiles a signature file, or the built-in
// set when path is empty.
func LoadDatabase(path string) (*Database, error) {
	if path == "" {
		return NewDatabase(Builtin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signature: read %q: %w", path, err)
	}
	var doc struct {
		Signatures []SupervisorSignature `yaml:"signatures"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("signature: parse %q: %w", path, err)
	}
	return NewDatabase(doc.Signatures)
}

// Builtin returns the shipped signature set. Priors lean on observed
// leak rates: test workers and language servers abandoned by their
// spawners dominate the workstation population.
func Builtin() []SupervisorSignature {
	b := func(a, bb float64) *inference.Beta { return &inference.Beta{Alpha: a, Beta: bb} }
	return []SupervisorSignature{
		{
			Name:           "jest-worker",
			CommPattern:    `^node$`,
			CmdlinePattern: `jest-worker|jest --`,
			Confidence:     0.95,
			Priors:         Priors{Abandoned: b(8, 2), Useful: b(2, 8)},
		},
		{
			Name:           "vitest-worker",
			CommPattern:    `^node$`,
			CmdlinePattern: `vitest`,
			Confidence:     0.9,
			Priors:         Priors{Abandoned: b(7, 3), Useful: b(3, 7)},
		},
		{
			Name:           "vscode-language-server",
			CommPattern:    `^node$`,
			CmdlinePattern: `(tsserver|languageserver|lsp)`,
			EnvPattern:     `^VSCODE_PID=`,
			Confidence:     0.85,
			Priors:         Priors{Useful: b(7, 3), Abandoned: b(3, 7)},
		},
		{
			Name:           "chromium-renderer",
			CommPattern:    `^chrome|^chromium`,
			CmdlinePattern: `--type=renderer`,
			Confidence:     0.8,
			Priors:         Priors{Useful: b(6, 4), Abandoned: b(4, 6)},
		},
		{
			Name:        "ssh-session",
			CommPattern: `^sshd$`,
			Confidence:  0.9,
			Priors:      Priors{Useful: b(9, 1)},
		},
		{
			Name:           "docker-proxy",
			CommPattern:    `^docker-proxy$`,
			Confidence:     0.85,
			Priors:         Priors{Useful: b(8, 2)},
		},
	}
}
