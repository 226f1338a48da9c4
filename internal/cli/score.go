package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbd888/threatscore/internal/activity"
	"github.com/mbd888/threatscore/internal/threat"
)

type scoreOptions struct {
	in, out       string
	mode          string
	contamination float64
	thresholds    threat.Thresholds
}

func newScoreCmd(a *app) *cobra.Command {
	opts := scoreOptions{thresholds: threat.DefaultThresholds()}

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score an activity CSV and write the alerts CSV",
		Long: `Read an activity log (log_id,username,timestamp,Login_Hour,Files_Accessed,
Emails_Sent,USB_Devices_Used), score it and write every flagged activity with
its Risk_Score and Reason, highest risk first.

Rows without a log_id are numbered by position.

Examples:

  threatctl score --in logs.csv --out threat_alerts.csv
  threatctl score --in logs.csv --mode anomaly --contamination 0.2
  threatctl simulate --n 500 | threatctl score --late-hour 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runScore(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.in, "in", "-", "activity CSV to score (- for stdin)")
	f.StringVar(&opts.out, "out", "-", "where to write the alerts CSV (- for stdout)")
	f.StringVar(&opts.mode, "mode", string(threat.ModeRules), "detection mode (rules or anomaly)")
	f.Float64Var(&opts.contamination, "contamination", threat.DefaultContamination, "expected outlier fraction in (0, 1), anomaly mode")
	f.IntVar(&opts.thresholds.LateHour, "late-hour", opts.thresholds.LateHour, "logins after this hour are unusual")
	f.IntVar(&opts.thresholds.EarlyHour, "early-hour", opts.thresholds.EarlyHour, "logins before this hour are unusual")
	f.IntVar(&opts.thresholds.FilesAccessed, "files-accessed", opts.thresholds.FilesAccessed, "file count above which access is excessive")
	f.IntVar(&opts.thresholds.EmailsSent, "emails-sent", opts.thresholds.EmailsSent, "email count above which sending is high")
	f.IntVar(&opts.thresholds.USBDevices, "usb-devices", opts.thresholds.USBDevices, "USB device count above which use is flagged")
	return cmd
}

func (a *app) runScore(opts scoreOptions) error {
	mode, err := threat.ParseMode(opts.mode)
	if err != nil {
		return err
	}

	in, err := a.openInput(opts.in)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	records, err := activity.ReadCSV(in)
	_ = in.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.in, err)
	}
	for i := range records {
		if records[i].ID == 0 {
			records[i].ID = int64(i + 1)
		}
	}

	req := threat.Request{Mode: mode, Thresholds: opts.thresholds, Contamination: opts.contamination}
	alerts, err := threat.Score(records, req)
	if err != nil {
		return err
	}

	out, err := a.createOutput(opts.out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := threat.WriteCSV(out, alerts); err != nil {
		_ = out.Close()
		return fmt.Errorf("write alerts: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}

	summary := threat.Summarize(len(records), alerts)
	a.logger.Info("scored activity log",
		"mode", mode,
		"activities", len(records),
		"alerts", len(alerts),
		"high", summary.Bands[threat.BandHigh],
		"medium", summary.Bands[threat.BandMedium],
		"low", summary.Bands[threat.BandLow],
	)
	return nil
}
