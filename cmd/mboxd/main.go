// Command mboxd is the BMC daemon serving the host firmware flash through
// the mailbox and the LPC firmware space.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/mboxd/config"
)

var version = "dev"

var (
	flagCfg    = config.Default()
	configPath string
	envFile    string
	verbose    int
)

var rootCmd = &cobra.Command{
	Use:   "mboxd",
	Short: "Serve the host firmware flash over the mailbox and LPC bus.",
	Long: `mboxd gives the host access to its firmware flash through windows ` +
		`of BMC reserved memory mapped on the LPC bus. The host drives the ` +
		`daemon through the mailbox, and tools such as mboxctl drive it ` +
		`through the control socket.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()

	flagCfg.AddFlags(flags)
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&envFile, "env-file", "", ".env file with MBOXD_ variables")
	flags.CountVarP(&verbose, "verbose", "v", "increase verbosity")
	flags.BoolP("version", "V", false, "print the version")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mboxd: %v\n", err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
