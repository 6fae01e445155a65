package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/owlshift/dynload"
)

func newLoadCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "load <path>",
		Short: "Load an ELF shared object and run its initializers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(args[0], configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "YAML search-path config for DT_NEEDED dependencies")
	return cmd
}

func runLoad(path, configPath string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var resolver dynload.ModuleResolver
	if configPath != "" {
		cfg, err := dynload.LoadSearchConfig(configPath)
		if err != nil {
			return err
		}
		resolver = cfg.Resolver()
	}

	m, err := dynload.LoadFromMemory(buf, resolver)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	defer func() {
		if cerr := m.Close(); cerr != nil {
			fmt.Fprintln(os.Stderr, "close:", cerr)
		}
	}()

	fmt.Printf("loaded %s at base %#x\n", path, m.LoadedBase())
	return nil
}
