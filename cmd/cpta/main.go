package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFlag      string
	logLevelFlag    string
	rootFlag        string
	casesFlag       string
	buildFlag       string
	patternFlag     string
	namesFlag       []string
	concurrencyFlag int
	sandboxFlag     string
	imageFlag       string
	noLedgerFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "cpta",
	Short: "cpta - grade programming assignments in sandboxes",
	Long: `cpta grades a directory of submissions. Each workspace moves through
0-raw, 1-build, 2-output and 3-result as it is built, run against every
test case, and evaluated. Builds and runs happen in resource-capped
sandboxes that are destroyed after every operation.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFlag, "config", "", "Config file (default: ./cpta.yaml, then the user config dir)")
	pf.StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVarP(&rootFlag, "workspace", "w", "", "Directory holding one workspace per submission")
	pf.StringVarP(&casesFlag, "cases", "c", "", "Directory holding one directory per test case")
	pf.StringVarP(&buildFlag, "build", "b", "", "Build config directory")
	pf.StringVarP(&patternFlag, "pattern", "p", "", "Only workspaces whose name matches this regexp")
	pf.StringSliceVar(&namesFlag, "names", nil, "Only these workspaces (comma separated)")
	pf.IntVarP(&concurrencyFlag, "concurrency", "j", 0, "Workspaces processed at once")
	pf.StringVar(&sandboxFlag, "sandbox", "", "Sandbox mode (docker, host, auto)")
	pf.StringVar(&imageFlag, "image", "", "Sandbox image")
	pf.BoolVar(&noLedgerFlag, "no-ledger", false, "Do not record outcomes in the run ledger")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
