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

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List mutations waiting for the connection to return",
	Run:   runQueue,
}

func init() {
	rootCmd.AddCommand(queueCmd)
}

type queueEntry struct {
	ID          string    `json:"ID"`
	Description string    `json:"Description"`
	Attempts    int       `json:"Attempts"`
	MaxRetries  int       `json:"MaxRetries"`
	CreatedAt   time.Time `json:"CreatedAt"`
}

func runQueue(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/queue", cfg.Server.Port)
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("Client not reachable at %s: %v\n", url, err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	var entries []queueEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		fmt.Printf("Invalid queue response: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDESCRIPTION\tATTEMPTS\tQUEUED AT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
			e.ID, e.Description, e.Attempts, e.MaxRetries, e.CreatedAt.Format(time.RFC3339))
	}
	w.Flush()
}
