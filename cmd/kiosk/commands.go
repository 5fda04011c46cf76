package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/medmitra-kiosk/internal/bookings"
	"github.com/wolfman30/medmitra-kiosk/internal/http/middleware"
	"github.com/wolfman30/medmitra-kiosk/internal/kiosk"
	"github.com/wolfman30/medmitra-kiosk/internal/resource"
	"github.com/wolfman30/medmitra-kiosk/internal/slots"
)

func resourcesCmd(c *cli) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "List bookable resources and their day windows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var t resource.Type
			if typ != "" {
				parsed, err := resource.ParseType(typ)
				if err != nil {
					return err
				}
				t = parsed
			}
			items, err := c.client().Resources(cmd.Context(), t)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tNAME\tWINDOW\tSLOTS")
			for _, res := range items {
				grid, err := res.Grid()
				if err != nil {
					c.logger.Warn("skipping resource with invalid window", "resource_key", res.Key(), "error", err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", res.Key(), res.Name, grid, grid.Len())
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "Only list this resource type")
	return cmd
}

func slotsCmd(c *cli) *cobra.Command {
	var (
		t     target
		group int
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print the free slots of a resource-day",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if group < 1 {
				return kiosk.ErrInvalidGroupSize
			}
			res, date, err := c.resolve(cmd.Context(), t)
			if err != nil {
				return err
			}

			opts := append(c.watcherOptions(), kiosk.WithWatcherClock(c.clinicNow), kiosk.WithWatcherLogger(c.logger))
			w := kiosk.NewWatcher(c.client(), opts...)
			defer w.Close()

			done, err := w.Select(res, date)
			if err != nil {
				return err
			}
			select {
			case <-done:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			snap := w.Snapshot()
			if !snap.Confirmed {
				return fmt.Errorf("availability unavailable: %w", snap.Err)
			}
			available := snap.Schedule.Available(c.clinicNow())
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s booked=%s\n", snap.Schedule.ResourceKey, date, joinSlots(snap.Schedule.Booked))
			if group == 1 {
				fmt.Fprintf(out, "available: %s\n", joinSlots(available))
				return nil
			}
			fmt.Fprintf(out, "starts for %d: %s\n", group, joinSlots(startsFor(available, group, snap.Schedule.Grid.Step())))
			return nil
		},
	}
	t.bind(cmd)
	cmd.Flags().IntVar(&group, "group", 1, "Party size; prints the starts that fit the whole party")
	return cmd
}

func watchCmd(c *cli) *cobra.Command {
	var (
		t       target
		patient string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a resource-day's availability until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, date, err := c.resolve(cmd.Context(), t)
			if err != nil {
				return err
			}
			client := c.client()
			flow, err := kiosk.NewFlow(kiosk.Session{PatientID: patient}, client, client,
				kiosk.WithWatcherOptions(c.watcherOptions()...),
				kiosk.WithClock(c.now),
				kiosk.WithLocation(c.cfg.ClinicLocation()),
				kiosk.WithLogger(c.logger),
			)
			if err != nil {
				return err
			}
			defer flow.Close()

			out := cmd.OutOrStdout()
			flow.Subscribe(func(v kiosk.View) {
				if !v.AvailabilityConfirmed && v.FetchErr == nil {
					return
				}
				fmt.Fprintln(out, describe(v))
			})
			if _, err := flow.Select(res, date); err != nil {
				return err
			}
			<-cmd.Context().Done()
			return nil
		},
	}
	t.bind(cmd)
	cmd.Flags().StringVar(&patient, "patient", "watcher", "Patient id the watch session acts for")
	return cmd
}

func bookCmd(c *cli) *cobra.Command {
	var (
		t                target
		start            string
		group            int
		patient          string
		name             string
		phone            string
		symptoms         string
		consultationType string
	)
	cmd := &cobra.Command{
		Use:   "book",
		Short: "Book consecutive slots for a party",
		RunE: func(cmd *cobra.Command, _ []string) error {
			startSlot, err := slots.Parse(start)
			if err != nil {
				return err
			}
			res, date, err := c.resolve(cmd.Context(), t)
			if err != nil {
				return err
			}

			client := c.client()
			opts := []kiosk.FlowOption{
				kiosk.WithWatcherOptions(c.watcherOptions()...),
				kiosk.WithClock(c.now),
				kiosk.WithLocation(c.cfg.ClinicLocation()),
				kiosk.WithLogger(c.logger),
				kiosk.WithSource("kiosk-cli"),
				kiosk.WithMaxGroupSize(c.cfg.MaxBatchSlots),
				kiosk.WithVisitDetails(bookings.Details{
					ConsultationType: consultationType,
					Symptoms:         symptoms,
				}),
			}
			if name != "" || phone != "" {
				opts = append(opts, kiosk.WithContact(bookings.Contact{Name: name, Phone: phone}))
			}
			flow, err := kiosk.NewFlow(kiosk.Session{PatientID: patient, Phone: phone, GroupSize: group}, client, client, opts...)
			if err != nil {
				return err
			}
			defer flow.Close()

			done, err := flow.Select(res, date)
			if err != nil {
				return err
			}
			select {
			case <-done:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			if err := flow.SetGroupSize(group); err != nil {
				return err
			}
			if err := flow.Pick(startSlot); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result, err := flow.Submit(cmd.Context())
			if conflict, ok := kiosk.IsConflict(err); ok {
				fmt.Fprintf(out, "conflict: %s no longer available, pick again\n", joinSlots(conflict.Slots))
				return err
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "booked %d slot(s) for %s on %s (%s)\n", len(result.Appointments), result.PatientID, result.Date, result.ResourceKey)
			for _, appt := range result.Appointments {
				fmt.Fprintf(out, "  %s  %s\n", appt.TimeSlot, appt.AppointmentID)
			}
			return nil
		},
	}
	t.bind(cmd)
	cmd.Flags().StringVar(&start, "start", "", "First slot of the party (HH:MM)")
	cmd.Flags().IntVar(&group, "group", 1, "Party size")
	cmd.Flags().StringVar(&patient, "patient", "", "Patient id")
	cmd.Flags().StringVar(&name, "name", "", "Contact name")
	cmd.Flags().StringVar(&phone, "phone", "", "Contact phone")
	cmd.Flags().StringVar(&symptoms, "symptoms", "", "Reason for the visit")
	cmd.Flags().StringVar(&consultationType, "consultation-type", "walk-in", "Consultation type")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("patient")
	return cmd
}

func adminTokenCmd(c *cli) *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a short-lived token for the resource admin API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if secret == "" {
				return errors.New("ADMIN_JWT_SECRET or --secret is required")
			}
			token, err := middleware.SignAdminToken(secret, subject, middleware.ScopeResourcesWrite, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", c.cfg.AdminJWTSecret, "HMAC secret shared with the API")
	cmd.Flags().StringVar(&subject, "subject", "kiosk-cli", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	return cmd
}

// startsFor returns the free slots from which n consecutive slots are free.
func startsFor(available []slots.TimeSlot, n int, step time.Duration) []slots.TimeSlot {
	set := slots.NewSet(available...)
	out := make([]slots.TimeSlot, 0, len(available))
	for _, ts := range available {
		if slots.IsConsecutiveAvailable(set, ts, n, step) {
			out = append(out, ts)
		}
	}
	return out
}

func joinSlots(in []slots.TimeSlot) string {
	if len(in) == 0 {
		return "-"
	}
	return strings.Join(slots.Strings(in), ",")
}

func describe(v kiosk.View) string {
	status := "confirmed"
	if !v.AvailabilityConfirmed {
		status = "unconfirmed"
	}
	line := fmt.Sprintf("[%s] %s %s %s free=%d booked=%s", v.State, v.Resource.Key(), v.Date, status, len(v.Available), joinSlots(v.Booked))
	if v.FetchErr != nil {
		line += " error=" + v.FetchErr.Error()
	}
	return line
}
