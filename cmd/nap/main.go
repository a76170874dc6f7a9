// cmd/nap is the command-line client for the registry: redeem bootstrap
// tokens into new agent registrations, look up agent cards, and drive the
// A2A task protocol (send/get/cancel/subscribe) against a running registry.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	registryURL string
	bearerToken string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nap",
	Short: "AgentVault registry CLI",
	Long: `nap is the command-line client for the AgentVault registry.

It redeems bootstrap tokens into new agent registrations, looks up agent
cards, and drives the A2A task protocol against a running registry.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.nap")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if registryURL == "" {
			registryURL = viper.GetString("registry_url")
		}
		if registryURL == "" {
			registryURL = "http://localhost:8080"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.nap/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&registryURL, "registry", "", "registry base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "bearer token for authenticated requests")

	rootCmd.AddCommand(cardCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(versionCmd)
}

// ── card ─────────────────────────────────────────────────────────────────────

var cardCmd = &cobra.Command{
	Use:   "card <did>",
	Short: "Fetch an agent's published agent-card.json by DID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := fmt.Sprintf("%s/.well-known/agent-card.json?did=%s", registryURL, args[0])
		return fetchAndPrint(cmd.Context(), http.MethodGet, url, nil)
	},
}

// ── register ─────────────────────────────────────────────────────────────────

var (
	regName         string
	regDescription  string
	regEndpoint     string
	regCapabilities []string
	regAuthScheme   string
	regBootstrap    string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Redeem a bootstrap token into a new agent registration",
	Long: `register exchanges a single-use bootstrap token (issued by a
developer via the registry's dashboard or API) for a registered agent and
a fresh client ID/secret pair.`,
	RunE: runRegister,
}

func init() {
	registerCmd.Flags().StringVar(&regBootstrap, "bootstrap-token", "", "bootstrap token value (required)")
	registerCmd.Flags().StringVar(&regName, "name", "", "agent display name (required)")
	registerCmd.Flags().StringVar(&regDescription, "description", "", "agent description")
	registerCmd.Flags().StringVar(&regEndpoint, "endpoint", "", "agent's reachable HTTPS endpoint (required)")
	registerCmd.Flags().StringSliceVar(&regCapabilities, "capability", nil, "capability tag (repeatable)")
	registerCmd.Flags().StringVar(&regAuthScheme, "auth-scheme", "bearer", "auth scheme presented by the agent's endpoint: apiKey, bearer, oauth2, or none")
	_ = registerCmd.MarkFlagRequired("bootstrap-token")
	_ = registerCmd.MarkFlagRequired("name")
	_ = registerCmd.MarkFlagRequired("endpoint")
}

func runRegister(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]any{
		"agent_name":   regName,
		"description":  regDescription,
		"endpoints":    []string{regEndpoint},
		"capabilities": regCapabilities,
		"auth_schemes": []map[string]string{{"scheme": regAuthScheme}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, registryURL+"/api/v1/onboard/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bootstrap-Token", regBootstrap)

	return doAndPrint(req)
}

// ── task (A2A) ───────────────────────────────────────────────────────────────

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Drive the A2A task protocol against the registry",
}

func init() {
	taskCmd.AddCommand(taskSendCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCancelCmd)
	taskCmd.AddCommand(taskSubscribeCmd)
}

var taskSendCmd = &cobra.Command{
	Use:   "send <task-id> <message>",
	Short: "Send a message to start or continue a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rpcCall(cmd.Context(), "tasks/send", map[string]any{
			"task_id": args[0],
			"message": map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"kind": "text", "content": args[1]}},
			},
		})
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get <task-id>",
	Short: "Fetch a task's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rpcCall(cmd.Context(), "tasks/get", map[string]any{"task_id": args[0]})
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Cancel a running task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rpcCall(cmd.Context(), "tasks/cancel", map[string]any{"task_id": args[0]})
	},
}

var taskSubscribeCmd = &cobra.Command{
	Use:   "subscribe <task-id>",
	Short: "Stream task events until the task reaches a terminal state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return subscribeStream(cmd.Context(), args[0])
	},
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

func rpcCall(ctx context.Context, method string, params any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registryURL+"/api/v1/a2a", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	return doAndPrint(req)
}

func subscribeStream(ctx context.Context, taskID string) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: "tasks/subscribe", Params: map[string]any{"task_id": taskID}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, registryURL+"/api/v1/a2a", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	client := &http.Client{Timeout: 0}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("subscribe failed: %s: %s", resp.Status, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data:") {
			fmt.Println(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	return scanner.Err()
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the nap client version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

// ── shared HTTP helpers ──────────────────────────────────────────────────────

func fetchAndPrint(ctx context.Context, method, url string, body io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	return doAndPrint(req)
}

func doAndPrint(req *http.Request) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(raw))
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed: %s", resp.Status)
	}
	return nil
}
