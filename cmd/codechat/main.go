package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/logging"
	"github.com/aj-archipelago/vscode-chatgpt-reborn/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const appName = "codechat"

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Chat with a language model about your code",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		return logging.InitLogger(&logging.Config{
			Level:      viper.GetString("log-level"),
			LogFormat:  viper.GetString("log-format"),
			LogFile:    viper.GetString("log-file"),
			WithCaller: viper.GetBool("with-caller"),
		})
	},
}

func initConfig() error {
	viper.SetEnvPrefix(appName)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	settings.SetDefaults(viper.GetViper())

	if f := viper.GetString("config"); f != "" {
		viper.SetConfigFile(f)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, "."+appName))
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || viper.GetString("config") != "" {
			return errors.Wrap(err, "could not read config")
		}
	}
	return nil
}

// loadSettings reads the engine settings, falling back to OPENAI_API_KEY for
// the key.
func loadSettings() (*settings.Settings, error) {
	s, err := settings.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if s.APIKey == "" {
		s.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return s, nil
}

func main() {
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default ./config.yaml or ~/.codechat/config.yaml)")
	pf.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json); text on a terminal by default")
	pf.String("log-file", "", "Also write logs to this file")
	pf.Bool("with-caller", false, "Log caller information")
	cobra.CheckErr(viper.BindPFlags(pf))

	rootCmd.AddCommand(newChatCommand(), newTokensCommand(), newSchemaCommand())

	if err := rootCmd.Execute(); err != nil {
		log.Debug().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
