package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JacobLinCool/cpta/internal/config"
	"github.com/JacobLinCool/cpta/internal/providers"
)

var (
	configForceFlag bool
	configDirFlag   string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the cpta configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)

	configInitCmd.Flags().BoolVar(&configForceFlag, "force", false, "Overwrite an existing config file")
	configInitCmd.Flags().StringVar(&configDirFlag, "dir", "", "Directory to write cpta.yaml to (default: the user config dir)")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := providers.New(cfg.Providers()); err != nil {
		fmt.Fprintf(os.Stderr, "note: %v\n", err)
	}

	var m *config.Manager
	if configDirFlag != "" {
		m = config.NewManagerAt(configDirFlag)
	} else if m, err = config.NewManager(); err != nil {
		return err
	}
	if m.Exists() && !configForceFlag {
		return fmt.Errorf("%s already exists, use --force to overwrite", m.Path())
	}
	if err := m.Save(cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", m.Path())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, used, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if used == "" {
		used = "built-in defaults"
	}
	fmt.Printf("# from %s\n", used)

	shown := *cfg
	shown.LLM.APIKey = maskKey(shown.LLM.APIKey)
	data, err := yaml.Marshal(&shown)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

// maskKey keeps enough of an API key to tell keys apart.
func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
