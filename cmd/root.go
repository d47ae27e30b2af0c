// cmd/root.go
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var cfgFile string
var debugMode bool

// debugLogFile is the file handle for debug logging
var debugLogFile *os.File
var debugLogMu sync.Mutex
var debugLogInitOnce sync.Once

// initDebugLogFile initializes the debug log file
func initDebugLogFile() {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return
	}

	logDir := filepath.Join(homeDir, ".llmhive", "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return
	}

	logPath := filepath.Join(logDir, "debug.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return
	}

	debugLogFile = f

	// Write session header
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(debugLogFile, "\n=== Debug session started: %s ===\n", timestamp)
}

// Debug prints a message if debug mode is enabled and writes to log file
func Debug(format string, args ...interface{}) {
	if debugMode {
		timestamp := time.Now().Format("2006-01-02 15:04:05.000")
		msg := fmt.Sprintf(format, args...)

		// Print to console
		fmt.Printf("[DEBUG] %s\n", msg)

		// Write to file with timestamp
		debugLogMu.Lock()
		debugLogInitOnce.Do(initDebugLogFile)
		if debugLogFile != nil {
			fmt.Fprintf(debugLogFile, "[%s] %s\n", timestamp, msg)
		}
		debugLogMu.Unlock()
	}
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "llmhive",
	Short: "llmhive is the coordinator for a distributed inference network",
	Long: `The llmhive operator accepts inference requests, routes them to
registered worker nodes by model, streams generated tokens back to the
requester, and keeps a durable ledger of per-job accounting.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debugMode {
			// Log the full command that was run
			fullCmd := "llmhive"
			if cmd.Name() != "llmhive" {
				fullCmd += " " + cmd.Name()
			}
			// Add flags that were set
			cmd.Flags().Visit(func(f *pflag.Flag) {
				if f.Name == "debug" {
					return // Skip the debug flag itself
				}
				if f.Value.Type() == "bool" {
					fullCmd += " --" + f.Name
				} else {
					fullCmd += " --" + f.Name + "=" + f.Value.String()
				}
			})
			if len(args) > 0 {
				fullCmd += " " + strings.Join(args, " ")
			}
			Debug("command: %s", fullCmd)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./llmhive.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug output")
}
