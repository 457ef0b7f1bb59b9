package model

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/emotion"
)

// Command creates the model command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Inspect the emotion model",
	}

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Print information about the loaded model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			detector, err := emotion.NewDetector(settings)
			defer detector.Close()
			if err != nil {
				// report the partial state, ModelInfo says what is missing
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			PrintInfo(cmd.OutOrStdout(), detector.ModelInfo())
			return nil
		},
	}

	labelsCmd := &cobra.Command{
		Use:   "labels",
		Short: "Print the emotion labels in model output order",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			PrintLabels(cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().StringVar(&settings.Emotion.ModelPath, "model", settings.Emotion.ModelPath, "Path to the emotion .tflite model")
	cmd.PersistentFlags().StringVar(&settings.Emotion.CascadePath, "cascade", settings.Emotion.CascadePath, "Path to the Haar cascade XML")

	cmd.AddCommand(infoCmd, labelsCmd)
	return cmd
}

// PrintInfo writes info as aligned key/value lines.
func PrintInfo(w io.Writer, info emotion.ModelInfo) {
	fmt.Fprintf(w, "Status:      %s\n", info.Status)
	if info.Message != "" {
		fmt.Fprintf(w, "Message:     %s\n", info.Message)
	}
	if info.ModelPath != "" {
		fmt.Fprintf(w, "Model:       %s\n", info.ModelPath)
	}
	if info.NumEmotions > 0 {
		fmt.Fprintf(w, "Emotions:    %d (%s)\n", info.NumEmotions, strings.Join(info.Emotions, ", "))
	}
	if info.FaceSize > 0 {
		fmt.Fprintf(w, "Face size:   %dx%d grayscale\n", info.FaceSize, info.FaceSize)
	}
	if info.Parameters > 0 {
		fmt.Fprintf(w, "Parameters:  %d\n", info.Parameters)
	}
	if len(info.InputShape) > 0 {
		fmt.Fprintf(w, "Input:       %v\n", info.InputShape)
	}
	if len(info.OutputShape) > 0 {
		fmt.Fprintf(w, "Output:      %v\n", info.OutputShape)
	}
}

// PrintLabels writes one label per line, prefixed with its output index.
func PrintLabels(w io.Writer) {
	for i, label := range emotion.Labels() {
		fmt.Fprintf(w, "%d\t%s\n", i, label)
	}
}
