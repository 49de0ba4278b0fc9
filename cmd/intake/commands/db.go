package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/intake/ai/tracker"
	"github.com/teranos/intake/db"
	"github.com/teranos/intake/display"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the intake database",
	Long: `db: Manage the intake record store

Examples:
  intake db stats          # Row counts, applied migrations and AI usage
  intake db migrate        # Apply pending migrations`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE:  runDbMigrate,
}

func init() {
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

// dbStats is the JSON shape of `intake db stats`
type dbStats struct {
	Path       string         `json:"path"`
	Tables     map[string]int `json:"tables"`
	Migrations []string       `json:"migrations"`
	Usage      *usageStats    `json:"ai_usage_24h"`
}

type usageStats struct {
	*tracker.UsageStats
	Models []tracker.ModelBreakdown `json:"models"`
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := cfg.GetDatabasePath()

	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	counts, err := db.Stats(database)
	if err != nil {
		return err
	}
	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}

	ctx := context.Background()
	since := time.Now().Add(-24 * time.Hour)
	usage := tracker.NewUsageTracker(database)
	totals, err := usage.GetUsageStats(ctx, since, "")
	if err != nil {
		return err
	}
	models, err := usage.GetModelBreakdown(ctx, since)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		if models == nil {
			models = []tracker.ModelBreakdown{}
		}
		stats := dbStats{
			Path:       path,
			Tables:     make(map[string]int, len(counts)),
			Migrations: versions,
			Usage:      &usageStats{UsageStats: totals, Models: models},
		}
		for _, c := range counts {
			stats.Tables[c.Table] = int(c.Rows)
		}
		return display.OutputJSON(stats)
	}

	pterm.Printf("Database: %s\n\n", path)
	data := pterm.TableData{{"TABLE", "ROWS"}}
	for _, c := range counts {
		data = append(data, []string{c.Table, fmt.Sprintf("%d", c.Rows)})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}
	pterm.Println()
	pterm.Printf("Migrations applied: %d", len(versions))
	if len(versions) > 0 {
		pterm.Printf(" (latest %s)", versions[len(versions)-1])
	}
	pterm.Println()

	pterm.Printf("\nAI calls (24h): %d, %.0f%% ok, %d tokens, $%.4f\n",
		totals.TotalRequests, totals.SuccessRate*100, totals.TotalTokens, totals.TotalCost)
	if len(models) == 0 {
		return nil
	}
	data = pterm.TableData{{"MODEL", "PROVIDER", "CALLS", "COST", "AVG MS"}}
	for _, m := range models {
		data = append(data, []string{
			m.ModelName, m.ModelProvider, fmt.Sprintf("%d", m.RequestCount),
			fmt.Sprintf("$%.4f", m.TotalCost), fmt.Sprintf("%.0f", m.AvgDurationMS),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.GetDatabasePath(), logger.Logger)
	if err != nil {
		return errors.Wrap(err, "failed to open database")
	}
	defer database.Close()

	before, _ := db.AppliedVersions(database)
	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrapf(err, "failed to run migrations on %s", cfg.GetDatabasePath())
	}
	after, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}

	pterm.Success.Printf("%s is up to date (%d applied, %d new)\n", cfg.GetDatabasePath(), len(after), len(after)-len(before))
	return nil
}
