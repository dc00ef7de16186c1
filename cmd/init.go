package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/puravida-software/edgeauth/internal/config"
	"github.com/spf13/cobra"
)

// initCmd represents the init command.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample configuration file",
	Long: `The init command writes a sample edgeauth.yaml with the management
and auth endpoints of a cloud organization.`,
	Run: func(_ *cobra.Command, _ []string) {
		if err := writeSampleConfig(config.ConfigFileName); err != nil {
			log.Fatal(err)
		}
	},
}

func writeSampleConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Println("edgeauth already initialised, nothing else to do!")
		return nil
	}

	bytes, err := yaml.Marshal(config.SampleConfig())
	if err != nil {
		return fmt.Errorf("error marshalling sample config: %w", err)
	}

	if err := os.WriteFile(path, bytes, 0o600); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	fmt.Printf("Sample configuration written to %s\n", path)
	return nil
}
