package permission

import (
	"fmt"
	"regexp"
	"strings"

	"nestor/internal/logging"
	"nestor/internal/policy"
)

// Risk is the ordered sensitivity label attached to every verdict.
type Risk string

const (
	RiskSafe     Risk = "safe"
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

var riskRank = map[Risk]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the risk's position in the safe..critical order.
func (r Risk) Rank() int { return riskRank[r] }

// MaxRisk returns the riskier of two labels.
func MaxRisk(a, b Risk) Risk {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Class partitions actions into the three static policy buckets.
type Class int

const (
	ClassSafe Class = iota
	ClassConfirm
	ClassForbidden
)

// Verdict is the engine's synchronous decision for one invocation.
type Verdict struct {
	Allow                bool   `json:"allow"`
	Risk                 Risk   `json:"risk"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
	Reason               string `json:"reason"`
}

type rule struct {
	class Class
	risk  Risk
}

// defaultRules is the static action-class table. Unknown actions are not
// listed on purpose: they fall through to requires-confirmation at medium
// risk so a new tool never rides a silent allow-list.
var defaultRules = map[string]rule{
	// Read-only listings and queries.
	"list_dir":         {ClassSafe, RiskSafe},
	"search_files":     {ClassSafe, RiskSafe},
	"system_info":      {ClassSafe, RiskSafe},
	"recall_knowledge": {ClassSafe, RiskSafe},

	// Reads are allowed but screened against protected paths below.
	"read_file": {ClassSafe, RiskLow},

	// Confirmable side effects.
	"open_app":        {ClassConfirm, RiskLow},
	"close_app":       {ClassConfirm, RiskMedium},
	"write_file":      {ClassConfirm, RiskMedium},
	"learn_knowledge": {ClassConfirm, RiskMedium},
	"play_media":      {ClassConfirm, RiskMedium},
	"pause_media":     {ClassConfirm, RiskMedium},
	"run_terminal":    {ClassConfirm, RiskHigh},

	// Never allowed, whatever the arguments.
	"delete_all":   {ClassForbidden, RiskCritical},
	"format_disk":  {ClassForbidden, RiskCritical},
	"shutdown":     {ClassForbidden, RiskCritical},
	"kill_process": {ClassForbidden, RiskCritical},
}

// bannedVerbs matches destructive command verbs at word boundaries, so "rm"
// trips inside "rm -rf /" but not inside "confirm" or "informal".
var bannedVerbs = regexp.MustCompile(`\b(rm|rmdir|sudo|su|kill|killall|pkill|shutdown|reboot|halt|poweroff|mkfs|fdisk|dd|format|chown|chmod)\b`)

// execActions are the actions whose arguments carry a command line subject to
// the banned-verb screen.
var execActions = map[string]bool{
	"run_terminal":   true,
	"execute_script": true,
}

// Engine is the pure policy decision point. It holds no mutable state and
// performs no side effects beyond debug logging; confirmation dispatch and
// auditing belong to the layers above.
type Engine struct {
	rules  map[string]rule
	fs     policy.FSPolicy
	logger logging.Logger
}

// NewEngine builds an engine over the default action-class table.
func NewEngine(fs policy.FSPolicy, logger logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{rules: defaultRules, fs: fs, logger: logger}
}

// Check decides whether principal may run action with the given arguments.
// The argument-level screen dominates action-class screening: a normally
// confirmable action whose arguments trip a banned pattern is denied.
func (e *Engine) Check(principal, action string, args map[string]any) Verdict {
	verdict := e.check(action, args)
	e.logger.Debug("Permission %s/%s: allow=%v risk=%s confirm=%v (%s)",
		principal, action, verdict.Allow, verdict.Risk, verdict.RequiresConfirmation, verdict.Reason)
	return verdict
}

func (e *Engine) check(action string, args map[string]any) Verdict {
	r, known := e.rules[action]
	if known && r.class == ClassForbidden {
		return deny(RiskCritical, fmt.Sprintf("Action '%s' is forbidden", action))
	}

	// Argument inspection precedes classification.
	if v, tripped := e.screenArguments(action, args); tripped {
		return v
	}

	if !known {
		return Verdict{
			Allow:                true,
			Risk:                 RiskMedium,
			RequiresConfirmation: true,
			Reason:               fmt.Sprintf("Unknown action '%s' requires confirmation", action),
		}
	}

	switch r.class {
	case ClassSafe:
		return Verdict{Allow: true, Risk: r.risk, Reason: "Action is classified safe"}
	default:
		return Verdict{
			Allow:                true,
			Risk:                 r.risk,
			RequiresConfirmation: true,
			Reason:               fmt.Sprintf("Action '%s' requires confirmation", action),
		}
	}
}

func (e *Engine) screenArguments(action string, args map[string]any) (Verdict, bool) {
	if execActions[action] {
		if v, tripped := e.screenCommand(args); tripped {
			return v, true
		}
	}

	if raw, ok := stringArg(args, "path"); ok {
		if v, tripped := e.screenPath(action, raw); tripped {
			return v, true
		}
	}
	return Verdict{}, false
}

func (e *Engine) screenCommand(args map[string]any) (Verdict, bool) {
	var parts []string
	if cmd, ok := stringArg(args, "command"); ok {
		parts = append(parts, cmd)
	}
	if list, ok := args["args"].([]string); ok {
		parts = append(parts, list...)
	} else if list, ok := args["args"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
	}
	line := strings.Join(parts, " ")
	if match := bannedVerbs.FindString(line); match != "" {
		return deny(RiskCritical, fmt.Sprintf("Command '%s' not permitted", match)), true
	}
	return Verdict{}, false
}

func (e *Engine) screenPath(action, raw string) (Verdict, bool) {
	if strings.Contains(raw, "..") {
		return deny(RiskHigh, "Path traversal detected"), true
	}
	resolved, err := e.fs.ResolvePath(raw)
	if err != nil {
		return deny(RiskHigh, fmt.Sprintf("Path rejected: %v", err)), true
	}
	if action == "read_file" {
		if e.fs.IsProtected(resolved) {
			return deny(RiskCritical, fmt.Sprintf("Path %s is protected", resolved)), true
		}
		if !e.fs.HasSafeExtension(resolved) {
			return deny(RiskHigh, fmt.Sprintf("File type of %s is not readable", resolved)), true
		}
	}
	if action == "write_file" {
		if err := e.fs.WriteAllowed(resolved); err != nil {
			return deny(RiskCritical, fmt.Sprintf("Write rejected: %v", err)), true
		}
	}
	return Verdict{}, false
}

func deny(risk Risk, reason string) Verdict {
	return Verdict{Allow: false, Risk: risk, Reason: reason}
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
