package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	jsonx "github.com/Senpai-Sama7/Project-C0Di3-sub000/internal/shared/json"
)

// statusEnvelope mirrors the server's response envelope with just the
// fields the status printout needs.
type statusEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Providers []struct {
			Name         string `json:"name"`
			State        string `json:"state"`
			LastError    string `json:"lastError"`
			FailureCount int    `json:"failureCount"`
		} `json:"providers"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type cacheStatsEnvelope struct {
	Success bool `json:"success"`
	Data    struct {
		Cache struct {
			Entries int     `json:"entries"`
			Bytes   int64   `json:"bytes"`
			HitRate float64 `json:"hitRate"`
		} `json:"cache"`
		Memory struct {
			EpisodeCount   int `json:"episodeCount"`
			SemanticCount  int `json:"semanticCount"`
			ProcedureCount int `json:"procedureCount"`
			WorkingCount   int `json:"workingCount"`
		} `json:"memory"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newStatusCommand(opts *rootOptions) *cobra.Command {
	var (
		addr  string
		token string
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check a running server",
		Long: `Status queries /healthz on a running server and reports provider health.
With --token it also fetches cache and memory statistics, which require an
authenticated session with cache read permission.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, _, err := opts.loadConfig()
				if err != nil {
					return err
				}
				addr = cfg.Server.Addr
			}
			return runStatus(cmd.OutOrStdout(), baseURL(addr), token)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Server address (default from configuration)")
	cmd.Flags().StringVar(&token, "token", "", "Access token for the statistics endpoint")
	return cmd
}

// baseURL turns a listen address like ":8080" into a dialable URL.
func baseURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

func runStatus(out io.Writer, base, token string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	var health statusEnvelope
	if err := fetchJSON(client, base+"/healthz", "", &health); err != nil {
		return fmt.Errorf("server unreachable at %s: %w", base, err)
	}

	fmt.Fprintf(out, "%s %s\n", bold("codi-server"), gray(base))
	fmt.Fprintf(out, "  status:  %s\n", paintState(health.Data.Status))
	fmt.Fprintf(out, "  uptime:  %s\n", health.Data.Uptime)
	if len(health.Data.Providers) > 0 {
		fmt.Fprintln(out, "  providers:")
		for _, p := range health.Data.Providers {
			line := fmt.Sprintf("    %-12s %s", p.Name, paintState(p.State))
			if p.LastError != "" {
				line += gray(fmt.Sprintf("  (%d failures, last: %s)", p.FailureCount, p.LastError))
			}
			fmt.Fprintln(out, line)
		}
	}

	if token == "" {
		return nil
	}

	var stats cacheStatsEnvelope
	if err := fetchJSON(client, base+"/v1/cache/stats", token, &stats); err != nil {
		return fmt.Errorf("statistics: %w", err)
	}
	if stats.Error != nil {
		return fmt.Errorf("statistics: %s (%s)", stats.Error.Message, stats.Error.Code)
	}
	fmt.Fprintf(out, "  cache:   %d entries, %d bytes, hit rate %.2f\n",
		stats.Data.Cache.Entries, stats.Data.Cache.Bytes, stats.Data.Cache.HitRate)
	fmt.Fprintf(out, "  memory:  %d episodes, %d facts, %d procedures, %d working\n",
		stats.Data.Memory.EpisodeCount, stats.Data.Memory.SemanticCount,
		stats.Data.Memory.ProcedureCount, stats.Data.Memory.WorkingCount)
	return nil
}

func fetchJSON(client *http.Client, url, token string, dst any) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(body, dst)
}

func paintState(state string) string {
	switch state {
	case "ok", "healthy", "ready":
		return green(state)
	case "degraded":
		return yellow(state)
	case "":
		return gray("unknown")
	default:
		return red(state)
	}
}
