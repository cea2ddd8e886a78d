package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zfogg/sidechain/clientsync/pkg/api"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Profile and follow commands",
}

var profileShowCmd = &cobra.Command{
	Use:   "show <username>",
	Short: "Show a profile and whether you follow it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			ctx := cmd.Context()
			r := rt.sess.Profiles.Profile(ctx, args[0])
			if r.Err != nil {
				return r.Err
			}
			record := map[string]interface{}{
				"id":       r.Value.ID,
				"username": r.Value.Username,
				"name":     r.Value.Name(),
				"verified": r.Value.IsVerified,
			}
			if status := rt.sess.Profiles.IsFollowing(ctx, r.Value.ID); status.OK() {
				record["following"] = status.Value
			}
			return printer().PrintRecord("Profile", record)
		})
	},
}

var profileFollowersCmd = &cobra.Command{
	Use:   "followers <user-id>",
	Short: "List a user's followers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Profiles.Followers(cmd.Context(), args[0])
			if r.Err != nil {
				return r.Err
			}
			return printProfiles(r.Value)
		})
	},
}

var profileFollowingCmd = &cobra.Command{
	Use:   "following <user-id>",
	Short: "List the users a user follows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			r := rt.sess.Profiles.Following(cmd.Context(), args[0])
			if r.Err != nil {
				return r.Err
			}
			return printProfiles(r.Value)
		})
	},
}

var profileFollowCmd = &cobra.Command{
	Use:   "follow <user-id>",
	Short: "Follow or unfollow a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(rt *runtime) error {
			res := rt.sess.Profiles.ToggleFollow(cmd.Context(), args[0])
			if res.Err != nil {
				return res.Err
			}
			if res.Value {
				printer().Success("Now following %s", args[0])
			} else {
				printer().Success("Unfollowed %s", args[0])
			}
			return nil
		})
	},
}

func printProfiles(profiles []api.Profile) error {
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		verified := ""
		if p.IsVerified {
			verified = "yes"
		}
		rows = append(rows, []string{p.Username, p.Name(), verified})
	}
	return printer().PrintRows([]string{"USERNAME", "NAME", "VERIFIED"}, rows, profiles)
}

func init() {
	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileFollowersCmd)
	profileCmd.AddCommand(profileFollowingCmd)
	profileCmd.AddCommand(profileFollowCmd)
}
