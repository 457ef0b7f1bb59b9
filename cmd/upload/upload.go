package upload

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/emotion-go/internal/client"
	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/httpclient"
)

const uploadTimeout = 60 * time.Second

// Command creates the upload command, which posts an image to a running
// server.
func Command(settings *conf.Settings) *cobra.Command {
	var userName, server string

	cmd := &cobra.Command{
		Use:   "upload [image]",
		Short: "Upload an image to a running server",
		Long:  "Post an image to the /upload endpoint of a running emotion-go server and print the detected emotion.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userName) == "" {
				return fmt.Errorf("--user is required")
			}

			cfg := httpclient.DefaultConfig()
			cfg.UserAgent = "emotion-go/" + settings.Version
			c, err := client.New(server, &cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), uploadTimeout)
			defer cancel()
			return Run(ctx, cmd.OutOrStdout(), c, userName, args[0])
		},
	}

	cmd.Flags().StringVarP(&userName, "user", "u", "", "User name recorded with the detection")
	cmd.Flags().StringVar(&server, "server", client.DefaultServerURL, "Base URL of the emotion-go server")

	return cmd
}

// Uploader posts image files. *client.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, userName, path string) (*client.DetectionResponse, error)
}

// Run uploads path and prints the server's answer to w.
func Run(ctx context.Context, w io.Writer, u Uploader, userName, path string) error {
	resp, err := u.Upload(ctx, userName, path)
	if err != nil {
		return err
	}

	if resp.Confidence != nil {
		fmt.Fprintf(w, "%s: %s (%.1f%%)\n", resp.Filename, resp.Emotion, *resp.Confidence*100)
	} else {
		fmt.Fprintf(w, "%s: %s\n", resp.Filename, resp.Emotion)
	}
	fmt.Fprintf(w, "record %d for %s at %s\n", resp.RecordID, resp.UserName, resp.Timestamp)
	return nil
}
