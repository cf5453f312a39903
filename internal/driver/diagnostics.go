package driver

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"

	"github.com/imazen/cargo-copter/internal/matrix"
)

// cargoMessage is the subset of cargo's --message-format=json compiler
// message shape this driver needs. Cargo emits one JSON object per line;
// non-diagnostic lines (build-script output, etc.) are skipped.
type cargoMessage struct {
	Reason  string `json:"reason"`
	Message struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	} `json:"message"`
	Target struct {
		Name string `json:"name"`
	} `json:"target"`
}

// parseDiagnostics extracts compiler diagnostics from cargo's
// --message-format=json stdout stream. Malformed or non-diagnostic lines
// are silently skipped rather than treated as a parse error: cargo
// interleaves non-JSON build-script output on stdout in some configurations.
func parseDiagnostics(stdout []byte) []matrix.Diagnostic {
	var out []matrix.Diagnostic

	scanner := bufio.NewScanner(bytes.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg cargoMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-message" || msg.Message.Message == "" {
			continue
		}
		out = append(out, matrix.Diagnostic{
			Level:   msg.Message.Level,
			Message: msg.Message.Message,
			Package: msg.Target.Name,
		})
	}

	return out
}

// crateNamePattern pulls a bare crate identifier out of cargo's
// "required by package `foo v1.2.3`"-style conflict continuation lines.
var crateNamePattern = regexp.MustCompile("`([a-zA-Z0-9_-]+) v[0-9]")

// parseBlockingCrates extracts the set of crate names a persistent
// version-conflict diagnostic named as pinning an incompatible version of
// the base crate, for DeepPatch's advisory BlockingCrates field.
func parseBlockingCrates(stderr []byte) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range crateNamePattern.FindAllSubmatch(stderr, -1) {
		name := string(m[1])
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
