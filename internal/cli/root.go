package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultServer = "http://localhost:8080"
	envPrefix     = "VPCTL"
)

// NewRootCommand builds the vpctl command tree. Each call returns a fresh tree
// with its own settings, so tests can execute commands in isolation.
func NewRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "vpctl",
		Short: "Operate the virtual participant warm pool",
		Long: `vpctl talks to the vpool API to inspect the warm pool, invite
virtual participants to stages and evict them.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("server", defaultServer, "vpool API base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key sent as a bearer token")
	rootCmd.PersistentFlags().Bool("json", false, "print raw JSON responses")
	_ = v.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = v.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = v.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	// VPCTL_SERVER, VPCTL_API_KEY
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	clientFor := func() *Client {
		return NewClient(v.GetString("server"), v.GetString("api_key"))
	}
	jsonOutput := func() bool {
		return v.GetBool("json")
	}

	rootCmd.AddCommand(
		newWorkersCommand(clientFor, jsonOutput),
		newInviteCommand(clientFor, jsonOutput),
		newKickCommand(clientFor, jsonOutput),
	)
	return rootCmd
}

// Execute runs vpctl
func Execute() error {
	return NewRootCommand().Execute()
}
