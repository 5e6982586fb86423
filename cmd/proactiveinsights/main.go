package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ProactiveInsights/internal/app"
	"ProactiveInsights/internal/config"
	"ProactiveInsights/internal/logging"
)

var (
	cfgFile string
	apiAddr string

	querySource     string
	queryType       string
	queryMinUrgency string
	queryStates     []string
	queryLimit      int
	queryKeywords   []string
)

var rootCmd = &cobra.Command{
	Use:   "proactiveinsights",
	Short: "Polls operational sources and surfaces insights without being asked",
	Long: `proactiveinsights polls configured data sources, scores candidate insights
by urgency, routes them to push, team messaging, in-context or batched delivery,
and learns from whether each insight was acted on.

Environment Variables:
  PROACTIVE_INSIGHTS_CONFIG  - config file path (overridden by --config)
  DATABASE_DRIVER            - sqlite, postgres or memory
  DATABASE_DSN               - database file or connection string
  TELEGRAM_BOT_TOKEN         - push channel bot token
  TELEGRAM_CHAT_ID           - push channel chat
  SLACK_BOT_TOKEN            - team messaging bot token
  SLACK_CHANNEL              - team messaging channel
  LOG_LEVEL                  - debug, info, warn or error`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the polling engine and HTTP API until interrupted",
	RunE:  runDaemon,
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query active insights from a running daemon",
	RunE:  runQuery,
}

var relevantCmd = &cobra.Command{
	Use:   "relevant",
	Short: "Show the top insights matching keywords",
	RunE:  runRelevant,
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver the batched digest now",
	RunE:  runFlush,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $PROACTIVE_INSIGHTS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8089", "daemon API base URL for client commands")

	queryCmd.Flags().StringVar(&querySource, "source", "", "only insights from this source")
	queryCmd.Flags().StringVar(&queryType, "type", "", "only insights of this type")
	queryCmd.Flags().StringVar(&queryMinUrgency, "min-urgency", "", "low, medium, high or critical")
	queryCmd.Flags().StringSliceVar(&queryStates, "state", nil, "restrict to states (repeatable)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum number of insights")

	relevantCmd.Flags().StringSliceVar(&queryKeywords, "keyword", nil, "keyword to match (repeatable)")

	rootCmd.AddCommand(runCmd, queryCmd, relevantCmd, flushCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if cfgFile == "" {
		return config.Load(), nil
	}
	return config.LoadFile(cfgFile)
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("application setup failed", "error", err)
		return err
	}
	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		return err
	}
	return nil
}

func runQuery(cmd *cobra.Command, _ []string) error {
	params := url.Values{}
	if querySource != "" {
		params.Set("source", querySource)
	}
	if queryType != "" {
		params.Set("type", queryType)
	}
	if queryMinUrgency != "" {
		params.Set("min_urgency", queryMinUrgency)
	}
	for _, st := range queryStates {
		params.Add("state", st)
	}
	if queryLimit > 0 {
		params.Set("limit", strconv.Itoa(queryLimit))
	}
	return call(cmd, http.MethodGet, "/insights", params)
}

func runRelevant(cmd *cobra.Command, _ []string) error {
	params := url.Values{}
	for _, kw := range queryKeywords {
		params.Add("keywords", kw)
	}
	return call(cmd, http.MethodGet, "/insights/relevant", params)
}

func runFlush(cmd *cobra.Command, _ []string) error {
	return call(cmd, http.MethodPost, "/batch/flush", nil)
}

func runConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Extra = nil
	cfg.Notifications.Telegram.BotToken = redact(cfg.Notifications.Telegram.BotToken)
	cfg.Notifications.Slack.BotToken = redact(cfg.Notifications.Slack.BotToken)
	cfg.Generator.Remote.APIKey = redact(cfg.Generator.Remote.APIKey)
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

// call hits the daemon API and pretty-prints the JSON response.
func call(cmd *cobra.Command, method, path string, params url.Values) error {
	target := apiAddr + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, body)
	}

	var pretty any
	if err := json.Unmarshal(body, &pretty); err != nil {
		_, _ = cmd.OutOrStdout().Write(body)
		return nil
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}
