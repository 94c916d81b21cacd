package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/fgmachine/pkg/utils"
)

type ControlConfig struct {
	MachineUrl string `mapstructure:"machine_url"`
	Projects   string `mapstructure:"projects"`
}

var rootCmd = &cobra.Command{
	Use:   "fgmachinectl",
	Short: "FGMachine control command",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetConfigName("fgmachinectl.yaml")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/fgmachine/")
		viper.AddConfigPath("$HOME/.config/fgmachine")
		viper.AddConfigPath(".")
		viper.ReadInConfig()

		viper.SetEnvPrefix("fgmachine")
		viper.AutomaticEnv()

		if err := utils.UnmarshalConfig(viper.GetViper(), &configData); err != nil {
			log.Fatal(err)
		}
	},
}

var configData = ControlConfig{}

func main() {
	rootCmd.PersistentFlags().StringP("machine-url", "m", "http://localhost:5081", "FGMachine URL")
	rootCmd.PersistentFlags().StringP("projects", "p", "projects.json", "Project catalog (.json or .yaml)")
	viper.BindPFlag("machine_url", rootCmd.PersistentFlags().Lookup("machine-url"))
	viper.BindPFlag("projects", rootCmd.PersistentFlags().Lookup("projects"))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
