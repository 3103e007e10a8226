package main

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tsfans/sql-partition-check/checker"
)

var (
	configPath string
	verbose    bool
)

func main() {
	cmd := &cobra.Command{
		Use:          "sql-partition-check [sql]",
		Short:        "Check SQL queries for partition column filters",
		Long:         "Checks that every reference to a configured partitioned table filters on its partition column. Reads the query from the argument, or from stdin when no argument is given.",
		Args:         cobra.MaximumNArgs(1),
		RunE:         run,
		SilenceUsage: true,
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "partition-rules.yaml", "partition rule config file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) (err error) {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	rules, err := LoadRules(configPath)
	if err != nil {
		return
	}

	sql, err := readQuery(args)
	if err != nil {
		return
	}

	results, err := checker.CheckPartitionUsage(sql, rules)
	if err != nil {
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no findings")
		return
	}

	for _, result := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%v: %v\n", result.Status, result.Message)
	}
	err = fmt.Errorf("%v finding(s)", len(results))

	return
}

func readQuery(args []string) (sql string, err error) {
	if len(args) > 0 && args[0] != "-" {
		sql = args[0]
		return
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		err = fmt.Errorf("read sql from stdin failed,err=[%v]", err.Error())
		return
	}
	sql = string(data)
	return
}
