package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/ntfy-mcp/internal/app"
	"github.com/loykin/ntfy-mcp/internal/config"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
	"github.com/loykin/ntfy-mcp/internal/supervisor"
)

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// PublishFlags holds flags for the publish command.
type PublishFlags struct {
	Title    string
	Priority int
	Tags     string
	Attach   string
}

func buildRoot() *cobra.Command {
	var gf GlobalFlags

	root := &cobra.Command{
		Use:           "ntfy-mcp",
		Short:         "ntfy subscription daemon with an MCP tool surface",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to TOML config file")

	root.AddCommand(buildServe(&gf))
	root.AddCommand(buildPublish(&gf))
	root.AddCommand(buildStatus(&gf))
	root.AddCommand(buildVersion())
	return root
}

func buildServe(gf *GlobalFlags) *cobra.Command {
	var topic, baseURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daemon and serve MCP over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			if topic != "" {
				cfg.Topic = topic
			}
			if baseURL != "" {
				cfg.BaseURL = baseURL
			}
			a, err := app.New(cfg)
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to subscribe to (overrides config)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "ntfy server base URL (overrides config)")
	return cmd
}

func buildPublish(gf *GlobalFlags) *cobra.Command {
	var pf PublishFlags
	cmd := &cobra.Command{
		Use:   "publish <topic> <message>",
		Short: "Publish one message and exit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			client := ntfy.New(ntfy.Config{
				BaseURL:  cfg.BaseURL,
				Token:    cfg.Token,
				Username: cfg.Username,
				Password: cfg.Password,
				Timeout:  cfg.FetchTimeout,
			})

			var tags []string
			if pf.Tags != "" {
				for _, t := range strings.Split(pf.Tags, ",") {
					if t = strings.TrimSpace(t); t != "" {
						tags = append(tags, t)
					}
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			receipt, err := client.Publish(ctx, ntfy.PublishRequest{
				Topic:    args[0],
				Message:  args[1],
				Title:    pf.Title,
				Priority: pf.Priority,
				Tags:     tags,
				Attach:   pf.Attach,
			})
			if err != nil {
				return err
			}
			printJSON(receipt)
			return nil
		},
	}
	cmd.Flags().StringVar(&pf.Title, "title", "", "message title")
	cmd.Flags().IntVar(&pf.Priority, "priority", 0, "priority 1 (min) to 5 (max)")
	cmd.Flags().StringVar(&pf.Tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&pf.Attach, "attach", "", "attachment URL")
	return cmd
}

func buildStatus(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the process journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(gf.ConfigPath)
			if err != nil {
				return err
			}
			entries, err := supervisor.NewJournal(cfg.JournalFile()).Load()
			if err != nil {
				return err
			}
			printJSON(entries)
			return nil
		},
	}
}

func buildVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ntfy-mcp v%s\n", app.Version)
		},
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
