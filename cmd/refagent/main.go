package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"refagent/internal/agent"
	"refagent/internal/config"
	"refagent/internal/domains"
	"refagent/internal/server"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "refagent",
		Short: "refagent: tool-calling analytics agent for hospital referral networks",
		Long: `refagent answers questions about hospital referral networks and protocol
adoption by letting an LLM call graph-backed tools from pluggable domains.`,
		Version:      version,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.refagent/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(toolsCmd())
	root.AddCommand(callCmd())
	root.AddCommand(domainsCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config and a sample domains file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			// Secrets stay in the environment; the file only references them.
			cfg.LLM.APIKey = "${OPENAI_API_KEY:-}"
			cfg.Graph.Password = "${NEO4J_PASSWORD:-}"
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}

			domainsPath := filepath.Join(filepath.Dir(cfgPath), cfg.General.DomainsFile)
			if _, err := os.Stat(domainsPath); err != nil || force {
				if err := os.WriteFile(domainsPath, domains.SampleDescriptors, 0o644); err != nil {
					return fmt.Errorf("write domains file: %w", err)
				}
			}

			logger.Info("initialized", "config", cfgPath, "domains", domainsPath)
			fmt.Println("Next: export OPENAI_API_KEY and NEO4J_PASSWORD, then run 'refagent doctor'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			return runREPL(ctx, a, os.Stdin, os.Stdout)
		},
	}
}

func runREPL(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	loop := a.newLoop(newProgress(os.Stderr))
	prompt := color.New(color.FgCyan, color.Bold).SprintFunc()
	answer := color.New(color.FgGreen).SprintFunc()

	fmt.Fprintln(out, "refagent chat. Ask a question and press Enter. /tools lists tools, /quit exits.")
	fmt.Fprint(out, prompt("You> "))

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit", "/exit", "/q":
			return nil
		case "/tools":
			if err := printTools(out, a); err != nil {
				fmt.Fprintln(out, color.RedString("error: %v", err))
			}
		case "/help":
			fmt.Fprintln(out, "/tools  list published tools\n/quit   leave the session")
		default:
			res, err := a.ask(ctx, loop, line)
			if err != nil {
				fmt.Fprintln(out, color.RedString("error: %v", err))
			}
			if res != nil && err == nil {
				fmt.Fprintln(out, "--- refagent ---")
				fmt.Fprintln(out, answer(res.Content))
				fmt.Fprintln(out, "----------------")
			}
		}
		fmt.Fprint(out, prompt("You> "))
	}
	return scanner.Err()
}

func askCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var observer agent.Observer
			if !asJSON {
				observer = newProgress(os.Stderr)
			}
			res, err := a.ask(ctx, a.newLoop(observer), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(map[string]any{
					"conversation_id": res.ConversationID,
					"answer":          res.Content,
					"converged":       res.Converged,
					"iterations":      res.Iterations,
					"llm_calls":       res.LLMCalls,
					"tool_calls":      res.ToolCalls,
				}, "", "  ")
				fmt.Println(string(data))
				return nil
			}
			fmt.Println(res.Content)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the tool catalog and the agent over HTTP",
		Long:  "Starts the HTTP server. SIGHUP reloads the domains file. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.provider.Healthy(ctx); err != nil {
				logger.Warn("provider unhealthy at startup", "provider", a.provider.Name(), "err", err)
			}

			go a.reloadOnHangup(ctx)

			srv := server.New(server.Config{
				Addr:   a.cfg.Server.Addr(),
				APIKey: a.cfg.Server.APIKey,
				Tools:  a.registry,
				Agent:  &loopAsker{app: a, loop: a.newLoop(nil)},
				Checks: map[string]server.HealthCheck{
					"graph": a.graph.Ping,
					"llm":   a.provider.Healthy,
				},
				GraphCache:  a.reader.Cache(),
				ToolTimeout: a.toolTimeout(),
				Logger:      logger,
			})
			return srv.Run(ctx)
		},
	}
}

func toolsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the published tools by domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()
			return printTools(os.Stdout, a)
		},
	}
}

func printTools(out io.Writer, a *app) error {
	order, err := a.registry.LoadOrder()
	if err != nil {
		return err
	}
	byDomain, err := a.registry.ToolsByDomain()
	if err != nil {
		return err
	}
	defs, err := a.registry.GetToolDefinitions()
	if err != nil {
		return err
	}
	descriptions := make(map[string]string, len(defs))
	for _, d := range defs {
		descriptions[d.Name] = d.Description
	}

	bold := color.New(color.Bold).SprintFunc()
	for _, id := range order {
		fmt.Fprintln(out, bold(id))
		for _, name := range byDomain[id] {
			fmt.Fprintf(out, "  %-30s %s\n", name, firstLine(descriptions[name]))
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call [tool] [json-arguments]",
		Short: "Run one tool directly, without the LLM",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			toolArgs := map[string]any{}
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &toolArgs); err != nil {
					return fmt.Errorf("arguments must be a JSON object: %w", err)
				}
			}

			fn, err := a.registry.GetTool(args[0])
			if err != nil {
				return err
			}
			callCtx, cancel := context.WithTimeout(ctx, a.toolTimeout())
			defer cancel()
			out, err := fn(callCtx, toolArgs)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func domainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "domains",
		Short: "Show declared domains and the resolved load order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			descriptors, err := a.registry.Domains()
			if err != nil {
				return err
			}
			order, err := a.registry.LoadOrder()
			if err != nil {
				return err
			}

			for _, d := range descriptors {
				state := color.GreenString("enabled")
				if !d.Enabled {
					state = color.YellowString("disabled")
				}
				fmt.Printf("%s (%s) [%s]\n", d.ID, d.DisplayName, state)
				fmt.Printf("  module:     %s\n", d.Module)
				if len(d.DependsOn) > 0 {
					fmt.Printf("  depends on: %s\n", strings.Join(d.DependsOn, ", "))
				}
				fmt.Printf("  tools:      %d\n", len(d.Tools))
			}
			fmt.Printf("\nload order: %s\n", strings.Join(order, " -> "))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. llm.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.OpenDocument(resolveConfigPath())
			if err != nil {
				return err
			}
			val, err := doc.Get(args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. general.maxIterations 8)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			doc, err := config.OpenDocument(cfgPath)
			if err != nil {
				return err
			}
			if err := doc.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := doc.Save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := config.OpenDocument(resolveConfigPath())
			if err != nil {
				return err
			}
			values := doc.List()
			for _, k := range doc.Paths() {
				data, _ := json.Marshal(values[k])
				fmt.Printf("%s = %s\n", k, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
