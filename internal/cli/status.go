package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskhive/syncd/internal/core/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running client's recovery status",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusResponse struct {
	Status         string    `json:"status"`
	IsRefreshing   bool      `json:"is_refreshing"`
	LastRefreshAt  time.Time `json:"last_refresh_at"`
	AuthConfidence string    `json:"auth_confidence"`
	QueueDepth     int       `json:"queue_depth"`
	Invalidated    bool      `json:"cache_invalidated"`
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("Client not reachable at %s: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var status statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Printf("Invalid status response: %v\n", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "STATUS\t%s\n", status.Status)
	fmt.Fprintf(w, "AUTH CONFIDENCE\t%s\n", status.AuthConfidence)
	fmt.Fprintf(w, "REFRESHING\t%v\n", status.IsRefreshing)
	if !status.LastRefreshAt.IsZero() {
		fmt.Fprintf(w, "LAST REFRESH\t%s\n", status.LastRefreshAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "QUEUE DEPTH\t%d\n", status.QueueDepth)
	fmt.Fprintf(w, "CACHE INVALIDATED\t%v\n", status.Invalidated)
	w.Flush()
}
