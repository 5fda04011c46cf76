package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/wolfman30/medmitra-kiosk/internal/config"
	"github.com/wolfman30/medmitra-kiosk/internal/kiosk"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
	"github.com/wolfman30/medmitra-kiosk/pkg/logging"
)

// cli carries settings shared by every subcommand.
type cli struct {
	cfg *appconfig.Config

	apiURL        string
	timeout       time.Duration
	pollInterval  time.Duration
	failurePolicy string
	logLevel      string

	logger *logging.Logger
	errOut io.Writer
	now    func() time.Time
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	cfg := appconfig.Load()
	c := &cli{cfg: cfg, errOut: errOut, now: time.Now}

	root := &cobra.Command{
		Use:          "kiosk",
		Short:        "Walk-in booking kiosk client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			c.logger = logging.NewWithWriter(c.logLevel, c.errOut)
			if strings.TrimSpace(c.apiURL) == "" {
				return fmt.Errorf("--api-url is required")
			}
			_, err := kiosk.ParseFetchFailurePolicy(c.failurePolicy)
			return err
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.apiURL, "api-url", cfg.KioskAPIBaseURL, "Booking API base URL")
	flags.DurationVar(&c.timeout, "timeout", cfg.KioskRequestTimeout, "Per-request timeout")
	flags.DurationVar(&c.pollInterval, "poll", cfg.KioskPollInterval, "Availability poll interval")
	flags.StringVar(&c.failurePolicy, "fetch-failure", cfg.KioskFetchFailureMode, "What a failed availability fetch means: block or assume-free")
	flags.StringVar(&c.logLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	root.AddCommand(resourcesCmd(c))
	root.AddCommand(slotsCmd(c))
	root.AddCommand(watchCmd(c))
	root.AddCommand(bookCmd(c))
	root.AddCommand(adminTokenCmd(c))
	return root
}

func (c *cli) client() *kiosk.Client {
	return kiosk.NewClient(c.apiURL, c.timeout, c.logger)
}

func (c *cli) watcherOptions() []kiosk.WatcherOption {
	policy, _ := kiosk.ParseFetchFailurePolicy(c.failurePolicy)
	return []kiosk.WatcherOption{
		kiosk.WithPollInterval(c.pollInterval),
		kiosk.WithFetchFailurePolicy(policy),
	}
}

// clinicNow is the current time in the clinic's zone.
func (c *cli) clinicNow() time.Time {
	return c.now().In(c.cfg.ClinicLocation())
}

func (c *cli) parseDate(raw string) (slots.Date, error) {
	if strings.TrimSpace(raw) == "" {
		return slots.DateOf(c.clinicNow()), nil
	}
	return slots.ParseDate(raw)
}

// target names one resource-day on the command line.
type target struct {
	typ  string
	id   string
	date string
}

func (t *target) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&t.typ, "type", string(resource.TypeDoctor), "Resource type (doctor, lab, room, equipment)")
	cmd.Flags().StringVar(&t.id, "id", "", "Resource id")
	cmd.Flags().StringVar(&t.date, "date", "", "Visit date (YYYY-MM-DD), defaults to today at the clinic")
	_ = cmd.MarkFlagRequired("id")
}

func (c *cli) resolve(ctx context.Context, t target) (resource.Resource, slots.Date, error) {
	date, err := c.parseDate(t.date)
	if err != nil {
		return resource.Resource{}, slots.Date{}, err
	}
	ref, err := resource.NewRef(t.typ, t.id)
	if err != nil {
		return resource.Resource{}, slots.Date{}, err
	}
	items, err := c.client().Resources(ctx, ref.Type)
	if err != nil {
		return resource.Resource{}, slots.Date{}, err
	}
	for _, res := range items {
		if res.Ref() == ref {
			return res, date, nil
		}
	}
	return resource.Resource{}, slots.Date{}, fmt.Errorf("%w: %s", resource.ErrNotFound, ref)
}
