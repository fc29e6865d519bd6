package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var sendURL string

// SendCmd posts an assistant message to a running daemon
func SendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a message to the client as the assistant",
		Long: `Send stores the text as an assistant message on the running daemon and
delivers it to the connected client, or as a push notification when no
client is connected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if c.Server.AuthToken == "" {
				return fmt.Errorf("WS_AUTH_TOKEN is not set")
			}
			url := sendURL
			if url == "" {
				url = fmt.Sprintf("http://localhost:%d/send", c.Server.Port)
			}
			if err := postSend(url, c.Server.AuthToken, strings.Join(args, " ")); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sent")
			return nil
		},
	}
	cmd.Flags().StringVar(&sendURL, "url", "", "daemon /send URL (default: http://localhost:<port>/send)")
	return cmd
}

func postSend(url, token, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is bingus running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
