package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"repaircoord/config"
)

const envPrefix = "REPAIRCOORD"

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "coordinator",
		Short:         "Distributed repair coordinator",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().String("config", "", "Path to configuration file (YAML)")
	root.PersistentFlags().Bool("debug", false, "Enable debug logging")
	root.PersistentFlags().String("store", "", "Override store.type (cassandra, sqlserver, memory)")
	mustBind(v, "config", root.PersistentFlags().Lookup("config"))
	mustBind(v, "debug", root.PersistentFlags().Lookup("debug"))
	mustBind(v, "store.type", root.PersistentFlags().Lookup("store"))

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets and hosts keep short variable names.
	_ = v.BindEnv("cassandra.hosts", envPrefix+"_CASSANDRA_HOSTS")
	_ = v.BindEnv("cassandra.password", envPrefix+"_CASSANDRA_PASSWORD")
	_ = v.BindEnv("sqlserver.password", envPrefix+"_SQLSERVER_PASSWORD")
	_ = v.BindEnv("instance.id", envPrefix+"_INSTANCE_ID")
	_ = v.BindEnv("instance.address", envPrefix+"_INSTANCE_ADDRESS")

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newLeasesCmd(v))
	root.AddCommand(newLocksCmd(v))
	root.AddCommand(newVersionCmd())
	return root
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}

// loadConfig reads the file named by --config and layers flag and
// environment overrides on top.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	return config.Load(v.GetString("config"), func(cfg *config.Config) {
		if value := v.GetString("store.type"); value != "" {
			cfg.Store.Type = value
		}
		if value := v.GetString("http.address"); value != "" {
			cfg.HTTP.Address = value
		}
		if value := v.GetString("instance.id"); value != "" {
			cfg.Instance.ID = value
		}
		if value := v.GetString("instance.address"); value != "" {
			cfg.Instance.Address = value
		}
		if value := v.GetString("cassandra.hosts"); value != "" {
			cfg.Store.Cassandra.Hosts = splitList(value)
		}
		if value := v.GetString("cassandra.password"); value != "" {
			cfg.Store.Cassandra.Password = value
		}
		if value := v.GetString("sqlserver.password"); value != "" {
			cfg.Store.SQLServer.Password = value
		}
	})
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:   version,
				Commit:    commit,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return err
			}
			if format == "json" {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("format version info: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "coordinator %s (commit %s, %s, %s)\n",
				info.Version, info.Commit, info.GoVersion, info.Platform)
			return err
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
