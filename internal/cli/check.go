package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"skymirror/internal/source"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify configuration, Bluesky login and the source account, then exit",
	RunE:  checkAction,
}

func checkAction(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := newApp(ctx, envFile)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.login(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "bluesky: logged in as %s\n", a.bluesky.Handle())

	user, err := a.source.ResolveUser(ctx, a.cfg.TargetUser)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", a.cfg.TargetUser, err)
	}
	listing, err := a.source.ListRecent(ctx, user)
	if err != nil {
		return fmt.Errorf("list %s: %w", user.Handle, err)
	}
	fmt.Fprintf(out, "source: @%s (%s), %d recent posts\n", user.Handle, user.DisplayName, len(listing.Items))
	if latest, ok := listing.Latest(); ok {
		fmt.Fprintf(out, "source: latest post %s\n", source.StatusURL(user.Handle, latest.ID))
	}

	if a.bot != nil {
		me, err := a.bot.GetMe(ctx)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		fmt.Fprintf(out, "alerts: telegram bot @%s -> chat %d\n", me.Username, a.cfg.TelegramAlertChatID)
	}
	if a.cfg.Translation.Enabled {
		fmt.Fprintf(out, "translation: %s -> %s\n", a.cfg.Translation.From, a.cfg.Translation.To)
	}
	return nil
}
