package main

import (
	"github.com/spf13/viper"
	"github.com/srand/fgmachine/pkg/agent"
	"github.com/srand/fgmachine/pkg/utils"
)

func LoadConfig() (*agent.Config, error) {
	v := viper.GetViper()

	v.SetEnvPrefix("fgmachine")
	v.AutomaticEnv()

	// Environment variables understood by earlier releases.
	v.BindEnv("coordinator_url", "FGMACHINE_COORDINATOR_URL", "FGLAB_URL")
	v.BindEnv("machine_url", "FGMACHINE_MACHINE_URL", "FGMACHINE_URL")

	v.SetConfigName("fgmachine.yaml")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/fgmachine/")
	v.AddConfigPath("$HOME/.config/fgmachine")
	v.AddConfigPath(".")
	v.ReadInConfig()

	config := &agent.Config{}

	err := utils.UnmarshalConfig(v, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
