package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"refagent/internal/config"
	"refagent/internal/domains"
	"refagent/internal/graph"
	"refagent/internal/provider"
	"refagent/internal/registry"
	"refagent/internal/transcript"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// checks tallies doctor results.
type checks struct {
	passed, warned, failed int
}

func (c *checks) pass(check, detail string) {
	c.passed++
	fmt.Printf("  %s %-20s %s\n", color.GreenString("[PASS]"), check, detail)
}

func (c *checks) fail(check, detail string) {
	c.failed++
	fmt.Printf("  %s %-20s %s\n", color.RedString("[FAIL]"), check, detail)
}

func (c *checks) warn(check, detail string) {
	c.warned++
	fmt.Printf("  %s %-20s %s\n", color.YellowString("[WARN]"), check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your refagent installation",
		Long: `Verifies that the configuration, domains file, graph database, LLM
provider and transcript store are correctly set up. Reports pass/fail for
each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("refagent doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var c checks

			if _, err := os.Stat(cfgPath); err != nil {
				c.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'refagent init' to create a default configuration.\n")
				return nil
			}
			c.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				c.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", c.passed, c.failed)
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			c.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			// Domains file parses and every module resolves. Tool bindings are
			// built against the graph driver but no query runs here.
			descriptors, err := registry.LoadDescriptors(cfg.General.DomainsFile)
			if err != nil {
				c.fail("Domains file", err.Error())
			} else {
				c.pass("Domains file", fmt.Sprintf("%s (%d domains)", cfg.General.DomainsFile, len(descriptors)))
			}

			g, err := openGraph(cfg)
			if err != nil {
				c.fail("Graph driver", err.Error())
			} else {
				defer g.Close(context.Background())
				if err := g.Ping(ctx); err != nil {
					c.fail("Graph database", describeGraphError(cfg.Graph.URI, err))
				} else {
					c.pass("Graph database", cfg.Graph.URI)
					records, err := g.Execute(ctx, hospitalCountQuery, nil)
					switch {
					case err != nil:
						c.warn("Graph data", describeGraphError(cfg.Graph.URI, err))
					case len(records) == 0 || graph.GetInt(records[0], "hospitals") == 0:
						c.warn("Graph data", "no hospitals loaded (run 'refagent seed' for sample data)")
					default:
						c.pass("Graph data", fmt.Sprintf("%d hospitals", graph.GetInt(records[0], "hospitals")))
					}
				}

				if descriptors != nil {
					reg := registry.New(registry.Options{
						Descriptors: descriptors,
						Modules:     domains.Builtin(g),
						Logger:      logger,
					})
					if err := reg.Load(ctx); err != nil {
						c.fail("Tool catalog", err.Error())
					} else {
						names, _ := reg.ListTools()
						order, _ := reg.LoadOrder()
						c.pass("Tool catalog", fmt.Sprintf("%d tools from %d domains", len(names), len(order)))
					}
				}
			}

			if cfg.LLM.APIKey == "" && os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_API_KEY") == "" {
				c.warn("LLM API key", "not configured (set llm.apiKey or OPENAI_API_KEY)")
			}
			prov, err := provider.NewFactory(cfg.LLM, logger).Build()
			if err != nil {
				c.fail("LLM provider", err.Error())
			} else if err := prov.Healthy(ctx); err != nil {
				c.fail("LLM provider", fmt.Sprintf("%s: %v", prov.Name(), err))
			} else {
				c.pass("LLM provider", prov.Name())
			}

			if cfg.Transcripts.Enabled {
				store, err := transcript.Open(cfg.Transcripts.DBPath, logger)
				if err != nil {
					c.fail("Transcripts", err.Error())
				} else {
					store.Close()
					c.pass("Transcripts", cfg.Transcripts.DBPath)
				}
			}

			if err := checkPort(cfg.Server.Addr()); err != nil {
				c.warn("Server port", fmt.Sprintf("%s may be in use: %v", cfg.Server.Addr(), err))
			} else {
				c.pass("Server port", cfg.Server.Addr()+" available")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					c.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					c.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", c.passed, c.warned, c.failed)
			if c.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running refagent.\n")
				return fmt.Errorf("%d check(s) failed", c.failed)
			}
			if c.warned > 0 {
				fmt.Printf("\nrefagent should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! refagent is ready to run.\n")
			}
			return nil
		},
	}
}

const hospitalCountQuery = `MATCH (h:Hospital) RETURN count(h) AS hospitals`

// describeGraphError turns a graph failure into a doctor message, calling out
// an unreachable database separately from query or auth problems.
func describeGraphError(uri string, err error) string {
	if graph.IsConnectionError(err) {
		return fmt.Sprintf("cannot reach %s (is the database running?): %v", uri, err)
	}
	return fmt.Sprintf("%s: %v", uri, err)
}

func checkPort(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
