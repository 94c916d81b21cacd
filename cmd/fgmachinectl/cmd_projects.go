package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"github.com/srand/fgmachine/pkg/project"
	"github.com/srand/fgmachine/pkg/utils"
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Commands to inspect and edit the local project catalog",
}

var projectsListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects",
	Run: func(cmd *cobra.Command, args []string) {
		catalog, err := project.LoadCatalog(utils.NewOsFs(), configData.Projects)
		if err != nil {
			log.Fatal(err)
		}

		for _, id := range catalog.IDs() {
			p, _ := catalog.Get(id)
			fmt.Printf("%s\n", id)
			fmt.Printf("  command: %s %v\n", p.Command, p.Args)
			fmt.Printf("  capacity: %d\n", p.Capacity)
			fmt.Printf("  options: %s\n", p.Options)
			fmt.Printf("  results: %s\n", p.Results)
			fmt.Println()
		}
	},
}

var projectsAddCmd = &cobra.Command{
	Use:   "add [id]",
	Short: "Add or replace a project",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fs := utils.NewOsFs()

		catalog, err := project.LoadCatalog(fs, configData.Projects)
		if err != nil {
			log.Fatal(err)
		}

		command, _ := cmd.Flags().GetString("command")
		arguments, _ := cmd.Flags().GetStringSlice("arg")
		cwd, _ := cmd.Flags().GetString("cwd")
		capacity, _ := cmd.Flags().GetInt("capacity")
		options, _ := cmd.Flags().GetString("options")
		results, _ := cmd.Flags().GetString("results")

		p := &project.Project{
			Command:  command,
			Args:     arguments,
			Cwd:      cwd,
			Capacity: capacity,
			Results:  results,
		}

		if p.Options, err = project.ParseOptions(options); err != nil {
			log.Fatal(err)
		}
		if err := p.Validate(); err != nil {
			log.Fatal(err)
		}

		catalog[args[0]] = p

		if err := project.SaveCatalog(fs, configData.Projects, catalog); err != nil {
			log.Fatal(err)
		}
		log.Println("Saved project", args[0], "to", configData.Projects)
	},
}

func init() {
	projectsAddCmd.Flags().String("command", "", "Executable to run")
	projectsAddCmd.Flags().StringSlice("arg", []string{}, "Fixed argument (repeatable)")
	projectsAddCmd.Flags().String("cwd", "", "Working directory")
	projectsAddCmd.Flags().Int("capacity", 1, "Capacity of one experiment")
	projectsAddCmd.Flags().String("options", "double-dash", "Hyperparameter style: plain, single-dash or double-dash")
	projectsAddCmd.Flags().String("results", "results", "Results directory")

	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsAddCmd)
	rootCmd.AddCommand(projectsCmd)
}
