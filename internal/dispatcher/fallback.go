package dispatcher

import (
	"fmt"
	"strings"
	"time"
)

// fallbackRule maps keyword triggers to a canned reply. Deliberately tiny:
// the fallback only keeps the assistant conversational while the planner is
// unreachable, it never invokes tools.
type fallbackRule struct {
	keywords []string
	reply    func() string
}

var fallbackRules = []fallbackRule{
	{
		keywords: []string{"bonjour", "salut", "hello", "coucou"},
		reply: func() string {
			return "Bonjour! Le service de planification est momentanément indisponible, mais je suis là."
		},
	},
	{
		keywords: []string{"heure", "time"},
		reply:    func() string { return fmt.Sprintf("Il est %s.", time.Now().Format("15:04")) },
	},
	{
		keywords: []string{"merci", "thanks"},
		reply:    func() string { return "Avec plaisir!" },
	},
	{
		keywords: []string{"ça va", "ca va"},
		reply:    func() string { return "Tout va bien, merci." },
	},
}

// fallback produces a deterministic rule-based reply when the planner cannot
// be reached. The pseudo-action name makes the degraded path visible to
// callers and dashboards.
func (d *Dispatcher) fallback(text string) *Response {
	lower := strings.ToLower(text)
	message := "Le service de planification est momentanément indisponible. Réessayez dans un instant."
match:
	for _, rule := range fallbackRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				message = rule.reply()
				break match
			}
		}
	}
	return &Response{
		Success:      true,
		Message:      message,
		ActionsTaken: []string{"fallback_generic"},
		Data:         map[string]any{"degraded": true},
	}
}
