package agentcli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	"github.com/relayflow/relay-agent/internal/flowsvc"
	"github.com/relayflow/relay-agent/pkg/agent"
	"github.com/spf13/cobra"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "relay"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type agentProvider func() *agent.Agent

func NewRootCmd(configDir string) *cobra.Command {
	cfg := agent.Config{
		DataDir:      filepath.Join(configDir, "data"),
		FlowConfig:   filepath.Join(configDir, "flow.yml"),
		DeviceConfig: filepath.Join(configDir, "devices.yml"),
	}
	agentCmd := &cobra.Command{
		Use:   "relay-agent",
		Short: "RelayFlow Agent",
		Long:  `The RelayFlow Agent is a daemon that runs automation flow graphs against live device state.`,
	}
	var a *agent.Agent
	agentProvider := func() *agent.Agent {
		return a
	}
	agentCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	agentCmd.PersistentFlags().StringVar(&cfg.FlowConfig, "flow-config", cfg.FlowConfig, "flow config file")
	agentCmd.PersistentFlags().StringVar(&cfg.DeviceConfig, "device-config", cfg.DeviceConfig, "device seed file")
	agentCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		a, err = agent.NewAgent(cfg)
		return err
	}
	agentCmd.AddCommand(NewRun(agentProvider))
	agentCmd.AddCommand(NewValidate(agentProvider))
	agentCmd.AddCommand(NewListNodeTypes(agentProvider))
	agentCmd.AddCommand(NewListChannels(agentProvider))
	return agentCmd
}

func NewRun(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the RelayFlow Agent",
		Long:  `Runs the agent daemon until interrupted, reloading the flow document on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return agent().Run(cmd.Context())
		},
	}
}

func NewValidate(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a flow document",
		Long:  `Parses a flow document and reports every structural fault without running it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: validate <flow.yml>")
			}
			yamlB, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			jsonB, err := yaml.YAMLToJSON(yamlB)
			if err != nil {
				return fmt.Errorf("failed to convert yaml to json: %w", err)
			}
			var doc flowsvc.FlowDocument
			if err := json.Unmarshal(jsonB, &doc); err != nil {
				return fmt.Errorf("failed to unmarshal flow document: %w", err)
			}
			graph, err := agent().Flow().Parser().Parse(doc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d nodes, %d connections\n", len(graph.Nodes()), len(graph.Edges()))
			return nil
		},
	}
}

func NewListNodeTypes(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List registered node types",
		Long:  `Prints every registered node type with its declaration and port layout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := agent().Flow().Registry().Describe()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(infos, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewListChannels(agent agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List journaled device channels",
		Long:  `Lists every device channel ever observed, with first/last seen timestamps and last value.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			channels, err := agent().Device().ListChannels()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(channels, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}
