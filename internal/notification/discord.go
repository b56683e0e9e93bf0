// Package notification posts run results to Discord webhooks.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/forest-guardian/forest-health-mosaic/internal/log"
	"github.com/forest-guardian/forest-health-mosaic/internal/properties"
	"go.uber.org/zap"
)

type DiscordMessage struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

const (
	colorRed   = 16711680
	colorGreen = 65280
)

// RunSummary describes a finished download run.
type RunSummary struct {
	RunID     string
	Mode      string
	Start     time.Time
	End       time.Time
	Intervals int
	Shape     [4]int
	Fetched   int
	Skipped   int
	Failed    int
	Latitude  float64
	Longitude float64
	Elapsed   time.Duration
}

func (s RunSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s (%s) %s .. %s\n", s.RunID, s.Mode, s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly))
	fmt.Fprintf(&b, "AOI centroid: %.5f, %.5f\n", s.Latitude, s.Longitude)
	fmt.Fprintf(&b, "Intervals: %d, tensor %dx%dx%dx%d\n", s.Intervals, s.Shape[0], s.Shape[1], s.Shape[2], s.Shape[3])
	fmt.Fprintf(&b, "Tiles: %d fetched, %d outside AOI, %d failed\n", s.Fetched, s.Skipped, s.Failed)
	fmt.Fprintf(&b, "Took %s", s.Elapsed.Round(time.Second))
	return b.String()
}

// Notifier posts to the error and success webhooks. An empty URL disables
// that kind of notification.
type Notifier struct {
	ErrorURL   string
	SuccessURL string
	Client     *http.Client
}

// FromEnv reads the webhook URLs from DISCORD_ERROR_NOTIFICATION_URL and
// DISCORD_SUCCESS_NOTIFICATION_URL.
func FromEnv() *Notifier {
	return &Notifier{
		ErrorURL:   properties.DiscordErrorNotificationUrl(),
		SuccessURL: properties.DiscordSuccessNotificationUrl(),
	}
}

func (n *Notifier) SendError(ctx context.Context, runID string, cause error) error {
	return n.post(ctx, n.ErrorURL, DiscordEmbed{
		Title:       "🚨 Error Notification",
		Description: fmt.Sprintf("So weird… must be your problem.\n\nRun %s failed: %v", runID, cause),
		Color:       colorRed,
	})
}

func (n *Notifier) SendSuccess(ctx context.Context, s RunSummary) error {
	return n.post(ctx, n.SuccessURL, DiscordEmbed{
		Title:       "✅ Success Notification",
		Description: "Not sure how, but it worked...\n\n" + s.String(),
		Color:       colorGreen,
	})
}

func (n *Notifier) post(ctx context.Context, url string, embed DiscordEmbed) error {
	if url == "" {
		log.Debug(log.TagCore+"webhook not configured, skipping", zap.String("title", embed.Title))
		return nil
	}
	payload, err := json.Marshal(DiscordMessage{Embeds: []DiscordEmbed{embed}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to send Discord notification, status code: %d", resp.StatusCode)
	}
	return nil
}
