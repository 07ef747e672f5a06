package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/katasec/mssql-fixture/config"
	"github.com/katasec/mssql-fixture/events"
	"github.com/katasec/mssql-fixture/fixture"
	"github.com/katasec/mssql-fixture/natshelper"
	"github.com/katasec/mssql-fixture/topics"
	"github.com/spf13/cobra"
)

var (
	configFile    string
	dataSize      string
	envFile       string
	allowRemovals bool
	watchURL      string

	cfg *config.Config
)

func main() {
	loadCmd := cobra.Command{
		Use:   "load",
		Short: "Recreate the fixture database and fill it with synthetic customers",
		RunE:  handleLoad,
	}

	removeCmd := cobra.Command{
		Use:   "remove",
		Short: "Delete a random sample of customers from every fixture table",
		RunE:  handleRemove,
	}

	verifyCmd := cobra.Command{
		Use:   "verify",
		Short: "Check the fixture tables against the configured data size",
		RunE:  handleVerify,
	}
	verifyCmd.Flags().BoolVar(&allowRemovals, "allow-removals", false, "accept tables holding fewer rows than loaded")

	planCmd := cobra.Command{
		Use:   "plan",
		Short: "Print the tables and batches a load would write, without connecting",
		RunE:  handlePlan,
	}

	watchCmd := cobra.Command{
		Use:   "watch",
		Short: "Print progress events published by fixture runs",
		RunE:  handleWatch,
	}
	watchCmd.Flags().StringVar(&watchURL, "url", "", "NATS server to watch (defaults to events.url)")

	rootCmd := cobra.Command{
		Use:               "mssql-fixture",
		Short:             "Load and remove SQL Server test data",
		PersistentPreRunE: loadConfig,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "HCL config file (default "+config.DefaultConfigFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&dataSize, "data-size", "", "small, medium or large; overrides "+config.DataSizeEnv)
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.AddCommand(&loadCmd, &removeCmd, &verifyCmd, &planCmd, &watchCmd)
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Fatalf("[Main] %v", err)
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}

	var err error
	if cfg, err = config.Load(configFile, dataSize); err != nil {
		return err
	}
	log.Printf("[Main] Data size %s: %d table(s) of %d record(s)", cfg.Tier, cfg.Tier.Tables(), cfg.Tier.Records())
	return nil
}

func handleLoad(cmd *cobra.Command, args []string) error {
	runner, err := NewRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Shutdown()

	result, err := runner.Load(cmd.Context())
	if err != nil {
		return err
	}

	for _, t := range result.Tables {
		fmt.Printf("%-14s %d row(s)\n", t.Name, t.Rows)
	}
	color.Green("Loaded %s data into %s (run %s)", result.Tier, result.Database, result.RunID)
	return nil
}

func handleRemove(cmd *cobra.Command, args []string) error {
	runner, err := NewRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Shutdown()

	result, err := runner.Remove(cmd.Context())
	if err != nil {
		return err
	}

	for _, t := range result.Tables {
		fmt.Printf("%-14s %d of %d candidate(s) deleted\n", t.Name, t.Deleted, len(t.Candidates))
	}
	color.Green("Removed sample from %d table(s) in %s (run %s)", len(result.Tables), result.Database, result.RunID)
	return nil
}

func handleVerify(cmd *cobra.Command, args []string) error {
	runner, err := NewRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Shutdown()

	report, err := runner.Verify(cmd.Context(), allowRemovals)
	if errors.Is(err, fixture.ErrVerification) {
		for _, p := range report.Problems() {
			color.Red("%s", p)
		}
		return fmt.Errorf("%d problem(s) found", len(report.Problems()))
	} else if err != nil {
		return err
	}

	for _, t := range report.Tables {
		fmt.Printf("%-14s %d row(s)\n", t.Name, t.Rows)
	}
	color.Green("Verified %d table(s) in %s", len(report.Tables), cfg.DatabaseName)
	return nil
}

func handlePlan(cmd *cobra.Command, args []string) error {
	plan := fixture.PlanBatches(cfg.Tier.Records(), cfg.BatchSize, cfg.InsertRemainder)

	fmt.Printf(
		"Data size:   %s\n"+
			"Database:    %s\n"+
			"Tables:      %d\n"+
			"Records:     %d per table\n"+
			"Batch size:  %d (%s)\n"+
			"Batches:     %d per table\n"+
			"Rows:        %d per table\n",
		cfg.Tier, cfg.DatabaseName, cfg.Tier.Tables(), cfg.Tier.Records(),
		cfg.BatchSize, cfg.InsertMode, len(plan), fixture.PlannedRows(plan))

	if skipped := cfg.Tier.Records() - fixture.PlannedRows(plan); skipped > 0 {
		color.Yellow("%d record(s) per table do not fill a batch and will be skipped; set insert_remainder = true to keep them", skipped)
	}
	return nil
}

func handleWatch(cmd *cobra.Command, args []string) error {
	url, prefix := watchURL, "fixture"
	if cfg.Events != nil {
		prefix = cfg.Events.SubjectPrefix
		if url == "" {
			url = cfg.Events.URL
		}
	}
	if url == "" || url == config.EmbeddedNATS {
		return errors.New("watch needs a NATS server: pass --url or set events.url")
	}

	conn, err := natshelper.Connect("Watch", url)
	if err != nil {
		return err
	}
	defer natshelper.Close("Watch", conn)

	sub, err := events.Watch(conn, prefix, func(subject string, e events.Event) {
		line := fmt.Sprintf("%s %-22s %s", e.Time.Format("15:04:05.000"), subject, e.Message)
		if e.Subject == topics.Load.Completed || e.Subject == topics.Remove.Completed {
			color.Green("%s", line)
			return
		}
		fmt.Println(line)
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-cmd.Context().Done()
	return nil
}
