package policy

import (
	"context"
	"testing"
	"time"

	"github.com/Djtony707/TITAN/internal/logging"
)

// fakeRisk is a RiskState with a fixed expiry.
type fakeRisk struct{ until time.Time }

func (f fakeRisk) YoloArmedUntil(ctx context.Context) (time.Time, error) { return f.until, nil }

func newEngine(t *testing.T, risk RiskState) *Engine {
	t.Helper()
	e, err := New(DefaultRules(), risk, logging.New("test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestDecisionMatrix(t *testing.T) {
	e := newEngine(t, fakeRisk{})
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		want Decision
	}{
		{"supervised read gated", Request{Mode: ModeSupervised, Class: "READ"}, RequireApproval},
		{"supervised write gated", Request{Mode: ModeSupervised, Class: "WRITE"}, RequireApproval},
		{"collaborative read allowed", Request{Mode: ModeCollaborative, Class: "READ"}, Allow},
		{"collaborative write gated", Request{Mode: ModeCollaborative, Class: "WRITE"}, RequireApproval},
		{"collaborative exec gated", Request{Mode: ModeCollaborative, Class: "EXEC", IsExec: true}, RequireApproval},
		{"collaborative net gated", Request{Mode: ModeCollaborative, Class: "NET", IsNetwork: true}, RequireApproval},
		{"autonomous write allowed", Request{Mode: ModeAutonomous, Class: "WRITE"}, Allow},
		{"autonomous exec allowed", Request{Mode: ModeAutonomous, Class: "EXEC", IsExec: true}, Allow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, rule, err := e.Decide(ctx, tc.req)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if got != tc.want {
				t.Errorf("Decide = %v (rule %s), want %v", got, rule, tc.want)
			}
		})
	}
}

func TestHardDenialsBeatEveryMode(t *testing.T) {
	e := newEngine(t, fakeRisk{until: time.Now().Add(time.Hour)}) // yolo armed
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
	}{
		{"unsigned skill exec", Request{Mode: ModeAutonomous, Class: "EXEC", IsSkill: true, SigStatus: "unsigned", IsExec: true}},
		{"unsigned skill wildcard net", Request{Mode: ModeAutonomous, Class: "NET", IsSkill: true, SigStatus: "unsigned", IsNetwork: true, Hosts: []string{"*"}}},
		{"unsigned skill empty hosts net", Request{Mode: ModeAutonomous, Class: "NET", IsSkill: true, SigStatus: "unsigned", IsNetwork: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _, err := e.Decide(ctx, tc.req)
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if got != Deny {
				t.Errorf("Decide = %v, want deny even with yolo armed", got)
			}
		})
	}
}

func TestSignedSkillNetBounded(t *testing.T) {
	e := newEngine(t, fakeRisk{})
	got, _, err := e.Decide(context.Background(), Request{
		Mode: ModeAutonomous, Class: "NET", IsSkill: true, SigStatus: "signed",
		IsNetwork: true, Hosts: []string{"api.example.com"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != Allow {
		t.Errorf("signed bounded NET skill in autonomous = %v, want allow", got)
	}
}

func TestYoloBypassExpires(t *testing.T) {
	armed := newEngine(t, fakeRisk{until: time.Now().Add(time.Minute)})
	expired := newEngine(t, fakeRisk{until: time.Now().Add(-time.Second)})
	ctx := context.Background()
	req := Request{Mode: ModeSupervised, Class: "WRITE"}

	if got, _, _ := armed.Decide(ctx, req); got != Allow {
		t.Errorf("armed yolo: got %v, want allow", got)
	}
	if armed.RiskMode(ctx) != RiskYolo {
		t.Error("armed engine should report yolo risk mode")
	}
	if got, _, _ := expired.Decide(ctx, req); got != RequireApproval {
		t.Errorf("expired yolo: got %v, want require_approval", got)
	}
	if expired.RiskMode(ctx) != RiskSecure {
		t.Error("expired engine should report secure risk mode")
	}
}

func TestConnectorWriteGatedInCollaborative(t *testing.T) {
	e := newEngine(t, fakeRisk{})
	got, rule, err := e.Decide(context.Background(), Request{
		Mode: ModeCollaborative, Class: "NET", IsNetwork: true, ConnectorType: "github",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != RequireApproval {
		t.Errorf("connector write in collaborative = %v (rule %s), want require_approval", got, rule)
	}
}

func TestLoadRulesFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/policy.cel"
	content := "# operator rules\nallow everything: true\n"
	if err := writeFile(path, content); err != nil {
		t.Fatal(err)
	}
	rules, err := LoadRules(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].Name != "everything" || rules[0].Effect != Allow {
		t.Errorf("unexpected rules: %+v", rules)
	}
}

func TestLoadRulesFileRejectsBadEffect(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/policy.cel"
	if err := writeFile(path, "maybe x: true\n"); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRulesFile(path); err == nil {
		t.Error("bad effect accepted")
	}
}
