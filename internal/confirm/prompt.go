package confirm

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
)

// TerminalPrompt returns a PromptFunc that asks on the controlling terminal.
// High and critical risks are rendered in red so they stand out in a scroll
// of log output.
func TerminalPrompt(in io.ReadCloser) PromptFunc {
	return func(req Request) (bool, error) {
		banner := color.New(color.FgYellow, color.Bold)
		if req.Risk == "high" || req.Risk == "critical" {
			banner = color.New(color.FgRed, color.Bold)
		}
		banner.Printf("\nConfirmation required [%s]\n", strings.ToUpper(req.Risk))
		fmt.Printf("  principal: %s\n  action:    %s\n  reason:    %s\n", req.Principal, req.Action, req.Reason)

		prompt := promptui.Prompt{
			Label:     fmt.Sprintf("Approve %s", req.Action),
			IsConfirm: true,
		}
		if in != nil {
			prompt.Stdin = in
		}
		if _, err := prompt.Run(); err != nil {
			// promptui reports a declined confirm as ErrAbort.
			if err == promptui.ErrAbort {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
}
