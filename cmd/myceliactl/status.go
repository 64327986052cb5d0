package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/lesfleursdelanuitdev/mycelia"
	"github.com/lesfleursdelanuitdev/mycelia/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Boot a kernel and print its subsystems and routes",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ms, err := mycelia.New(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("booting kernel: %w", err)
	}
	defer func() { _ = ms.Close() }()

	demo, err := mycelia.NewSubsystem(mycelia.SubsystemConfig{Name: "demo"})
	if err != nil {
		return err
	}
	if _, err := ms.RegisterSubsystem(ctx, demo); err != nil {
		return err
	}

	msg := ms.Factory().New("kernel://query/routes", nil)
	result, err := ms.SendProtected(ctx, ms.KernelPKR(), msg, nil)
	if err != nil {
		return err
	}

	routes, ok := result.(map[string][]string)
	if !ok {
		return fmt.Errorf("unexpected query result %T", result)
	}
	names := make([]string, 0, len(routes))
	for name := range routes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s\n", name)
		for _, pattern := range routes[name] {
			fmt.Printf("  %s\n", pattern)
		}
	}
	return nil
}
