package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/rs/zerolog/log"
)

// isInteractive reports whether stdin and stdout are terminals.
func isInteractive() bool {
	in, out := os.Stdin.Fd(), os.Stdout.Fd()
	return (isatty.IsTerminal(in) || isatty.IsCygwinTerminal(in)) &&
		(isatty.IsTerminal(out) || isatty.IsCygwinTerminal(out))
}

// confirmUpdate returns the prompt asked when a resource already exists.
// Without a terminal the update is declined and the existing resource is
// returned.
func confirmUpdate(ctx context.Context) engine.ConfirmFunc {
	if !isInteractive() {
		return nil
	}
	return func(existing *engine.ResourceInfo) bool {
		var update bool
		err := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("%s already exists in %s", existing.Name, existing.ResourceGroup)).
					Description(fmt.Sprintf("Location %s, tier %s. Redeploy it?", existing.Location, existing.Tier)).
					Affirmative("Redeploy").
					Negative("Keep").
					Value(&update),
			),
		).RunWithContext(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Confirmation aborted, keeping existing resource")
			return false
		}
		return update
	}
}
