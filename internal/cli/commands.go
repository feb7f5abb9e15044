package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/toolchain"
)

func (c *CLI) newUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <version|latest>",
		Short: "Install a toolchain if needed and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			res, err := client.Use(cmd.Context(), args[0], toolchain.UseOptions{
				Progress: progressPrinter(cmd.ErrOrStderr(), "downloading "+args[0]),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Using %s (%s)\n", res.Version, res.Root)
			return nil
		},
	}
}

func (c *CLI) newInstallCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "install [version|latest]",
		Short: "Install a toolchain without switching to it",
		Long: "Install a toolchain without switching to it. The toolchain becomes active " +
			"only if no toolchain is active yet. The version defaults to latest.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := domain.Latest
			if len(args) == 1 {
				token = args[0]
			}
			client, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			res, err := client.Install(cmd.Context(), token, toolchain.UseOptions{
				Progress: progressPrinter(cmd.ErrOrStderr(), "downloading "+token),
				Force:    force,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case !res.Downloaded:
				fmt.Fprintf(out, "%s is already installed\n", res.Version)
			case res.Activated:
				fmt.Fprintf(out, "Installed %s and made it active\n", res.Version)
			default:
				fmt.Fprintf(out, "Installed %s\n", res.Version)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Download and reinstall even if the version is installed")
	return cmd
}

func (c *CLI) newListCmd() *cobra.Command {
	var remote bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed toolchains, marking the active one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, err := c.client(ctx)
			if err != nil {
				return err
			}
			installed, err := client.InstalledVersions(ctx)
			if err != nil {
				return err
			}
			current, _, err := client.Active(ctx)
			if err != nil {
				// Listing still works with a broken pointer.
				if !errors.Is(err, domain.ErrCorruptState) {
					return err
				}
				c.logger.Warn("active toolchain pointer is invalid", "error", err)
			}

			versions := installed
			if remote {
				if versions, err = client.Available(ctx); err != nil {
					return err
				}
			}
			have := make(map[domain.Version]bool, len(installed))
			for _, v := range installed {
				have[v] = true
			}

			out := cmd.OutOrStdout()
			for _, v := range versions {
				mark := " "
				if v == current {
					mark = "*"
				}
				suffix := ""
				if remote && have[v] {
					suffix = " (installed)"
				}
				fmt.Fprintf(out, "%s %s%s\n", mark, v, suffix)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "List versions available from the release index")
	return cmd
}

func (c *CLI) newLocateCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "locate [subpath]",
		Short: "Print the install directory of a toolchain, or a path inside it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := domain.ParseTarget(version)
			if err != nil {
				return err
			}
			client, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			subpath := ""
			if len(args) == 1 {
				subpath = args[0]
			}
			p, err := client.Locate(cmd.Context(), target, subpath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVarP(&version, "toolchain", "t", "", "Toolchain version (default: the active one)")
	return cmd
}

func (c *CLI) newRemoveCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "remove <version|all> | --all",
		Short: "Remove installed toolchains",
		Long: "Remove an installed toolchain. \"all\" or --all removes every installed " +
			"toolchain and clears the active one.",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.client(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if all || args[0] == "all" {
				removed, err := client.RemoveAll(ctx)
				if err != nil {
					return err
				}
				for _, v := range removed {
					fmt.Fprintf(out, "Removed %s\n", v)
				}
				fmt.Fprintf(out, "Removed %d toolchains\n", len(removed))
				return nil
			}
			v, err := domain.ParseVersion(args[0])
			if err != nil {
				return domain.Classify(domain.ErrNotInstalled, err)
			}
			if err := client.Remove(ctx, v); err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %s\n", v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Remove every installed toolchain")
	return cmd
}

func (c *CLI) newPurgeCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-cache",
		Short: "Delete unfinished downloads and leftovers of interrupted installs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := c.client(cmd.Context())
			if err != nil {
				return err
			}
			report, err := client.PurgeCache(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Removed %d cache entries (%d bytes) and %d leftovers of interrupted operations\n",
				len(report.Cache.Removed), report.Cache.Bytes, len(report.Leftovers))
			for _, key := range report.Cache.Skipped {
				fmt.Fprintf(out, "Skipped %s (download in progress)\n", key)
			}
			return nil
		},
	}
}
