package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	apprepository "github.com/sifan077/TempLink/internal/app/repository"
	"github.com/sifan077/TempLink/internal/app/service"
	"github.com/sifan077/TempLink/internal/http/util"
	"github.com/spf13/cobra"
)

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Inspect and manage issued links",
}

var linksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List links that have not been retired yet",
	Args:  cobra.NoArgs,
	RunE:  runLinksList,
}

var linksRouteCmd = &cobra.Command{
	Use:   "route <identifier>",
	Short: "Print a signed route header for a link",
	Long: `Print the X-Templink-Route header that lets a fronting proxy route a
request to the link's origin without a host lookup. The token stays valid
until the link expires.`,
	Args: cobra.ExactArgs(1),
	RunE: runLinksRoute,
}

var linksRevokeCmd = &cobra.Command{
	Use:   "revoke <identifier>",
	Short: "Retire a link before it expires",
	Args:  cobra.ExactArgs(1),
	RunE:  runLinksRevoke,
}

var linksHistoryCmd = &cobra.Command{
	Use:   "history <identifier>",
	Short: "Show the audit trail of a link",
	Args:  cobra.ExactArgs(1),
	RunE:  runLinksHistory,
}

func init() {
	linksCmd.AddCommand(linksListCmd, linksRouteCmd, linksRevokeCmd, linksHistoryCmd)
	rootCmd.AddCommand(linksCmd)
}

func newAdminService(c *core) service.LinkService {
	return service.NewLinkService(service.LinkServiceDeps{
		Logger:         c.log.Named("links"),
		Links:          c.links,
		Notifier:       c.notifier,
		Events:         c.events,
		DisguiseDomain: c.cfg.Disguise.Domain,
	})
}

func runLinksList(cmd *cobra.Command, args []string) error {
	c, err := openCore(appConfig, appLogger)
	if err != nil {
		return err
	}
	defer c.Close()

	links, err := newAdminService(c).ListLinks(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "HOST\tDOMAIN\tORIGIN\tPROTECTED\tEXPIRES")
	for _, link := range links {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			link.Host(c.cfg.Disguise.Domain),
			link.Domain,
			link.Route().OriginURL(),
			link.Protected,
			link.ExpiresAt.Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func runLinksRoute(cmd *cobra.Command, args []string) error {
	if appConfig.Forward.RouteSecret == "" {
		return errors.New("forward.route_secret is not configured")
	}

	c, err := openCore(appConfig, appLogger)
	if err != nil {
		return err
	}
	defer c.Close()

	link, err := newAdminService(c).GetLink(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	token, err := util.NewRouteSigner([]byte(appConfig.Forward.RouteSecret)).Issue(link.Route())
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", util.RouteHeader, token)
	return nil
}

func runLinksRevoke(cmd *cobra.Command, args []string) error {
	c, err := openCore(appConfig, appLogger)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := newAdminService(c).RevokeLink(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, apprepository.ErrLinkNotFound) {
			return fmt.Errorf("no active link %q", args[0])
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", args[0])
	return nil
}

func runLinksHistory(cmd *cobra.Command, args []string) error {
	c, err := openCore(appConfig, appLogger)
	if err != nil {
		return err
	}
	defer c.Close()

	db, err := c.openAuditDB(cmd.Context())
	if err != nil {
		return err
	}

	events, err := apprepository.NewLinkEventRepository(db).ListByIdentifier(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No events recorded for %s\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tDOMAIN\tADDRESS\tCLIENT")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Kind, e.Domain, e.Address, e.ClientIP)
	}
	return w.Flush()
}
