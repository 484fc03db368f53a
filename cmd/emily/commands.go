package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/atsn/emily/app"
	"github.com/atsn/emily/internal/cli"
	"github.com/atsn/emily/internal/conversation"
	"github.com/atsn/emily/internal/leads"
)

var errNotSignedIn = errors.New("not signed in, run `emily login`")

func newHistoryCmd(a *app.App) *cobra.Command {
	var opts struct {
		Filter string
	}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the conversation history grouped by day",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			current, err := a.Sessions.Current(ctx)
			if err != nil {
				return err
			}
			if current == nil {
				return errNotSignedIn
			}
			conversations, err := a.Client.ListConversations(ctx)
			if err != nil {
				return errors.Wrap(err, "listing conversations")
			}

			groups := conversation.GroupByDate(conversation.Filter(conversations, opts.Filter), time.Local)
			if len(groups) == 0 {
				cli.Warning("No conversations yet")
				return nil
			}
			cli.Title("Chat History")
			// Oldest day first so the latest entries end up next to the prompt.
			for i := len(groups) - 1; i >= 0; i-- {
				cli.DateLabel(groups[i].DateLabel)
				for _, c := range groups[i].Conversations {
					cli.Message(conversation.Sender(c), c.IsUser(), c.Content)
				}
				cli.Separator()
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Filter, "filter", "f", conversation.FilterAll, "message filter (all, emily, chase, leo)")
	return cmd
}

func newLeadsCmd(a *app.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "Inspect leads",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "overdue",
		Short: "Count the leads whose follow-up is overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := leads.Count(cmd.Context(), a.Client, time.Now())
			if err != nil {
				return errors.Wrap(err, "counting overdue leads")
			}
			fmt.Printf("%d Leads to follow up\n", count)
			if count > 0 {
				cli.Warning("You have overdue follow-ups")
			}
			return nil
		},
	})
	return cmd
}

func newThemeCmd(a *app.App) *cobra.Command {
	printMode := func(dark bool) {
		if dark {
			fmt.Println("dark")
			return
		}
		fmt.Println("light")
	}

	cmd := &cobra.Command{
		Use:   "theme",
		Short: "Read or change the dark mode preference",
		Run: func(cmd *cobra.Command, args []string) {
			printMode(a.Theme.Dark())
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current theme",
		Run: func(cmd *cobra.Command, args []string) {
			printMode(a.Theme.Dark())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "toggle",
		Short: "Flip between dark and light",
		Run: func(cmd *cobra.Command, args []string) {
			printMode(a.Theme.Toggle(cmd.Context()))
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:       "set [dark|light|true|false]",
		Short:     "Select the theme",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"dark", "light"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var dark bool
			switch args[0] {
			case "dark":
				dark = true
			case "light":
			default:
				parsed, err := strconv.ParseBool(args[0])
				if err != nil {
					return errors.Errorf("unknown theme %q", args[0])
				}
				dark = parsed
			}
			a.Theme.Set(cmd.Context(), dark)
			printMode(dark)
			return nil
		},
	})
	return cmd
}

func newLoginCmd(a *app.App) *cobra.Command {
	var opts struct {
		Email string
	}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to Emily",
		RunE: func(cmd *cobra.Command, args []string) error {
			credentials, err := cli.PromptCredentials(opts.Email)
			if err != nil {
				return err
			}
			session, err := a.Sessions.Login(cmd.Context(), credentials.Email, credentials.Password)
			if err != nil {
				return err
			}
			cli.Info("Signed in as %s", session.Email)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.Email, "email", "e", "", "email address")
	return cmd
}

func newLogoutCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the cached profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.Sessions.Logout(cmd.Context()); err != nil {
				return err
			}
			cli.Info("Signed out")
			return nil
		},
	}
}

func newProfileCmd(a *app.App) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Print the business profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			current, err := a.Sessions.Current(ctx)
			if err != nil {
				return err
			}
			if current == nil {
				return errNotSignedIn
			}
			profile, err := a.Profiles.Load(ctx, current.UserID)
			if err != nil {
				return err
			}
			if profile == nil {
				cli.Warning("No profile available")
				return nil
			}
			cli.Title("Profile")
			fmt.Printf("Business: %s\n", profile.BusinessName)
			fmt.Printf("Name:     %s\n", profile.Name)
			if profile.LogoURL != "" {
				fmt.Printf("Logo:     %s\n", profile.LogoURL)
			}
			return nil
		},
	}
}
