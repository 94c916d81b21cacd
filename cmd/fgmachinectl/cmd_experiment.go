package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// ParseHyperparameter splits key=value. Values that parse as JSON keep
// their type, anything else is passed as a string.
func ParseHyperparameter(arg string) (string, any, error) {
	key, value, ok := strings.Cut(arg, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid hyperparameter %q, expected key=value", arg)
	}

	decoder := json.NewDecoder(strings.NewReader(value))
	decoder.UseNumber()

	var parsed any
	if err := decoder.Decode(&parsed); err != nil || decoder.More() {
		return key, value, nil
	}
	return key, parsed, nil
}

var startCmd = &cobra.Command{
	Use:   "start [project]",
	Short: "Start an experiment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, _ := cmd.Flags().GetString("id")
		params, _ := cmd.Flags().GetStringSlice("param")

		if id == "" {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}

		body := map[string]any{"_id": id}
		for _, param := range params {
			key, value, err := ParseHyperparameter(param)
			if err != nil {
				log.Fatal(err)
			}
			body[key] = value
		}

		PrintJson(MustCall(http.MethodPost, "/projects/"+url.PathEscape(args[0]), body))
	},
}

var killCmd = &cobra.Command{
	Use:   "kill [id]",
	Short: "Kill experiments",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		for _, arg := range args {
			data := MustCall(http.MethodPost, "/experiments/"+url.PathEscape(arg)+"/kill", nil)
			log.Println(arg, string(bytes.TrimSpace(data)))
		}
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [id]",
	Short: "Show a running or finished experiment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		PrintJson(MustCall(http.MethodGet, "/experiments/"+url.PathEscape(args[0]), nil))
	},
}

func init() {
	startCmd.Flags().String("id", "", "Experiment id (default: random)")
	startCmd.Flags().StringSliceP("param", "P", []string{}, "Hyperparameter key=value (repeatable)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(historyCmd)
}
