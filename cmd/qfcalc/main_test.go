package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/qfround/matching-engine/internal/model"
)

const scenarioVotes = `{
  "name": "offline",
  "decimals": 0,
  "matching_pool": "1000",
  "votes": [
    {"contributor": "0x0000000000000000000000000000000000000001", "recipient": "0x0000000000000000000000000000000000000011", "amount": "100"},
    {"contributor": "0x0000000000000000000000000000000000000002", "recipient": "0x0000000000000000000000000000000000000011", "amount": "100"},
    {"contributor": "0x0000000000000000000000000000000000000001", "recipient": "0x0000000000000000000000000000000000000012", "amount": "100"}
  ]
}`

// runApp runs qfcalc against votesJSON and returns the output file path.
func runApp(t *testing.T, votesJSON string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	votes := filepath.Join(dir, "votes.json")
	out := filepath.Join(dir, "out.json")
	if err := os.WriteFile(votes, []byte(votesJSON), 0644); err != nil {
		t.Fatal(err)
	}
	argv := append([]string{"qfcalc", "--votes", votes, "--out", out}, args...)
	return out, newApp().Run(argv)
}

// run executes qfcalc against the scenario votes and decodes its output.
func run(t *testing.T, v any, args ...string) {
	t.Helper()
	runVotes(t, scenarioVotes, v, args...)
}

func runVotes(t *testing.T, votesJSON string, v any, args ...string) {
	t.Helper()
	out, err := runApp(t, votesJSON, args...)
	if err != nil {
		t.Fatalf("qfcalc %v: %v", args, err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode output: %v (%s)", err, data)
	}
}

func TestCompute(t *testing.T) {
	var m model.Matching
	run(t, &m, "compute")
	if len(m.Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %d", len(m.Recipients))
	}
	if !m.Recipients[0].Matched.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected top match 200, got %s", m.Recipients[0].Matched)
	}
}

func TestCompute_PoolOverride(t *testing.T) {
	var m model.Matching
	run(t, &m, "--pool", "50", "compute")
	if !m.TotalMatched.Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected total 50 with a scarce pool, got %s", m.TotalMatched)
	}
}

func TestEstimate(t *testing.T) {
	var est model.Estimate
	run(t, &est, "estimate", "--recipient", "0x0000000000000000000000000000000000000011", "--amounts", "0,100")
	if len(est.Deltas) != 2 || !est.Deltas[1].Equal(decimal.NewFromInt(400)) {
		t.Errorf("unexpected deltas %v", est.Deltas)
	}
}

func TestEstimate_Impact(t *testing.T) {
	var impact map[string]decimal.Decimal
	run(t, &impact, "--pool", "300", "estimate",
		"--recipient", "0x0000000000000000000000000000000000000012",
		"--contributor", "0x0000000000000000000000000000000000000002",
		"--amounts", "100", "--impact")
	// Ideal P1 200 + P2 200 exceeds the pool of 300, so both scale to 150.
	want := map[string]int64{
		"0x0000000000000000000000000000000000000011": -50,
		"0x0000000000000000000000000000000000000012": 150,
	}
	for r, w := range want {
		if !impact[r].Equal(decimal.NewFromInt(w)) {
			t.Errorf("%s: expected %d, got %s", r, w, impact[r])
		}
	}
}

func TestPayout_WithProofs(t *testing.T) {
	var report payoutReport
	run(t, &report, "payout", "--round-id", "gg20", "--proofs")
	if report.Distribution == nil || report.Distribution.RoundID != "gg20" {
		t.Fatalf("unexpected distribution: %+v", report.Distribution)
	}
	if len(report.Distribution.Entries) != 1 || len(report.Proofs) != 1 {
		t.Fatalf("expected one payout, got %d entries and %d proofs", len(report.Distribution.Entries), len(report.Proofs))
	}
	if report.Proofs[0].Leaf != report.Distribution.MerkleRoot {
		t.Errorf("single leaf should be the root")
	}
}

// One donor, checksummed in one vote and lower-case in the other.
const mixedCaseVotes = `{
  "decimals": 0,
  "matching_pool": "1000",
  "votes": [
    {"contributor": "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "recipient": "0x0000000000000000000000000000000000000011", "amount": "100"},
    {"contributor": "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "recipient": "0x0000000000000000000000000000000000000011", "amount": "100"}
  ]
}`

func TestCompute_AddressCaseIsOneContributor(t *testing.T) {
	var m model.Matching
	runVotes(t, mixedCaseVotes, &m, "compute")
	if len(m.Recipients) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(m.Recipients))
	}
	r := m.Recipients[0]
	if r.Contributors != 1 || r.Contributions != 2 {
		t.Errorf("expected 1 contributor / 2 contributions, got %d/%d", r.Contributors, r.Contributions)
	}
	if !r.Matched.IsZero() {
		t.Errorf("a single donor should earn no match, got %s", r.Matched)
	}
}

func TestEstimate_NormalizesFlags(t *testing.T) {
	// The lower-case contributor tops up their own donation: 200 → 300 from
	// one account still earns nothing.
	var est model.Estimate
	runVotes(t, mixedCaseVotes, &est, "estimate",
		"--recipient", "0x0000000000000000000000000000000000000011",
		"--contributor", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"--amounts", "100")
	if est.Contributor != "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed" {
		t.Errorf("expected checksummed contributor, got %s", est.Contributor)
	}
	if len(est.Deltas) != 1 || !est.Deltas[0].IsZero() {
		t.Errorf("unexpected deltas %v", est.Deltas)
	}
}

func TestLoadRound_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		votes string
		args  []string
		want  string
	}{
		{"decimals wrap around int32", scenarioVotes, []string{"--decimals", "4294967314", "compute"}, "invalid decimals"},
		{"negative decimals", scenarioVotes, []string{"--decimals", "-1", "compute"}, "invalid decimals"},
		{"decimals beyond precision", scenarioVotes, []string{"--decimals", "78", "compute"}, "invalid decimals"},
		{"bad pool", scenarioVotes, []string{"--pool", "lots", "compute"}, "invalid pool"},
		{"non-address contributor", strings.Replace(scenarioVotes, "0x0000000000000000000000000000000000000002", "bob", 1), []string{"compute"}, "vote 1 contributor"},
		{"bad checksum", strings.Replace(mixedCaseVotes, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", 1), []string{"compute"}, "vote 0 contributor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runApp(t, tt.votes, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
