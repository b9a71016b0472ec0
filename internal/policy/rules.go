package policy

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Rule pairs a CEL boolean expression with the decision it yields when the
// expression matches. Rules run in order; first match wins.
type Rule struct {
	Name   string
	Effect Decision
	Expr   string
}

// DefaultRules is the built-in decision matrix. Hard denials run before the
// mode rows so no autonomy tier can reach an unsigned-EXEC skill.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "deny_unsigned_skill_exec",
			Effect: Deny,
			Expr:   `is_skill && signature_status != "signed" && (class == "EXEC" || is_exec)`,
		},
		{
			Name:   "deny_unsigned_skill_unbounded_net",
			Effect: Deny,
			Expr:   `is_skill && signature_status != "signed" && (class == "NET" || is_network) && (hosts.size() == 0 || "*" in hosts)`,
		},
		{
			Name:   "yolo_bypass",
			Effect: Allow,
			Expr:   `risk == "yolo"`,
		},
		{
			Name:   "supervised_all_gated",
			Effect: RequireApproval,
			Expr:   `mode == "supervised"`,
		},
		{
			Name:   "collaborative_connector_write_gated",
			Effect: RequireApproval,
			Expr:   `mode == "collaborative" && connector_type != "" && class != "READ"`,
		},
		{
			Name:   "collaborative_read_allowed",
			Effect: Allow,
			Expr:   `mode == "collaborative" && class == "READ" && !is_network && !is_exec`,
		},
		{
			Name:   "collaborative_rest_gated",
			Effect: RequireApproval,
			Expr:   `mode == "collaborative"`,
		},
		{
			Name:   "autonomous_allowed",
			Effect: Allow,
			Expr:   `mode == "autonomous"`,
		},
	}
}

// LoadRulesFile parses an operator rule file. Each non-blank, non-comment
// line has the form "<effect> <name>: <cel expression>" with effect one of
// allow, require_approval, deny. The loaded rules replace the defaults
// entirely so the operator sees exactly what they wrote.
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, titanerr.Wrap(titanerr.KindValidation, "policy.LoadRulesFile", "open "+path, err)
	}
	defer f.Close()

	var rules []Rule
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		fields := strings.SplitN(line, ":", 2)
		if len(fields) != 2 {
			return nil, titanerr.New(titanerr.KindValidation, "policy.LoadRulesFile",
				fmt.Sprintf("%s:%d: expected \"<effect> <name>: <expr>\"", path, lineNo))
		}
		head := strings.Fields(strings.TrimSpace(fields[0]))
		if len(head) != 2 {
			return nil, titanerr.New(titanerr.KindValidation, "policy.LoadRulesFile",
				fmt.Sprintf("%s:%d: expected \"<effect> <name>\" before the colon", path, lineNo))
		}
		var effect Decision
		switch head[0] {
		case "allow":
			effect = Allow
		case "require_approval":
			effect = RequireApproval
		case "deny":
			effect = Deny
		default:
			return nil, titanerr.New(titanerr.KindValidation, "policy.LoadRulesFile",
				fmt.Sprintf("%s:%d: unknown effect %q", path, lineNo, head[0]))
		}
		rules = append(rules, Rule{Name: head[1], Effect: effect, Expr: strings.TrimSpace(fields[1])})
	}
	if err := scanner.Err(); err != nil {
		return nil, titanerr.Wrap(titanerr.KindInternal, "policy.LoadRulesFile", "read "+path, err)
	}
	return rules, nil
}

// LoadRules returns the operator's rule file when present, else defaults.
func LoadRules(path string) ([]Rule, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadRulesFile(path)
		}
	}
	return DefaultRules(), nil
}
