package detect

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gocv.io/x/gocv"

	"github.com/tphakala/emotion-go/internal/conf"
	"github.com/tphakala/emotion-go/internal/datastore"
	"github.com/tphakala/emotion-go/internal/emotion"
	"github.com/tphakala/emotion-go/internal/errors"
)

// Options holds the flags of the detect command.
type Options struct {
	Annotate string // path for the annotated copy, empty to skip
	Save     bool   // record the result in the database
	User     string // user name for saved records
}

// Command creates the detect command for classifying a single image file.
func Command(settings *conf.Settings) *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:   "detect [image]",
		Short: "Detect the emotion in an image file",
		Long:  "Locate the largest face in an image file and classify its expression.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			detector, err := emotion.NewDetector(settings)
			defer detector.Close()
			if err != nil {
				return fmt.Errorf("failed to load detector: %w", err)
			}

			var store datastore.Interface
			if opts.Save {
				if strings.TrimSpace(opts.User) == "" {
					return fmt.Errorf("--user is required with --save")
				}
				if store, err = datastore.New(settings, nil); err != nil {
					return err
				}
				if err := store.Open(); err != nil {
					return err
				}
				defer store.Close()
			}

			return Run(cmd.OutOrStdout(), detector, store, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.Annotate, "annotate", "", "Write an annotated copy of the image to this path")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "Record the result in the database")
	cmd.Flags().StringVar(&opts.User, "user", viper.GetString("main.name"), "User name for saved records")

	return cmd
}

// ImageDetector classifies encoded images. *emotion.Detector satisfies it.
type ImageDetector interface {
	DetectImage(data []byte, annotate bool) (emotion.Result, gocv.Mat, error)
}

// Run classifies the image at path and prints the result to w. store may be
// nil when opts.Save is false.
func Run(w io.Writer, detector ImageDetector, store datastore.Interface, path string, opts Options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.New(err).
			Component("cli").
			Category(errors.CategoryFileIO).
			FileContext(path).
			Build()
	}

	result, annotated, detectErr := detector.DetectImage(data, opts.Annotate != "")
	defer annotated.Close()
	if errors.Is(detectErr, emotion.ErrInvalidFrame) {
		return fmt.Errorf("cannot read image %s: %w", path, detectErr)
	}

	label := result.Label
	var confidence *float64
	if detectErr != nil {
		label = emotion.LabelForError(detectErr)
		fmt.Fprintf(w, "%s: %s\n", filepath.Base(path), label)
	} else {
		c := result.Confidence
		confidence = &c
		fmt.Fprintf(w, "%s: %s (%.1f%%)\n", filepath.Base(path), label, c*100)
	}

	if opts.Annotate != "" && detectErr == nil && !annotated.Empty() {
		if ok := gocv.IMWrite(opts.Annotate, annotated); !ok {
			return fmt.Errorf("failed to write annotated image to %s", opts.Annotate)
		}
		fmt.Fprintf(w, "annotated image written to %s\n", opts.Annotate)
	}

	if opts.Save && store != nil {
		record := &datastore.Detection{
			UserName:        strings.TrimSpace(opts.User),
			ImagePath:       path,
			DetectedEmotion: label,
			Confidence:      confidence,
			DetectionMethod: datastore.MethodUpload,
			Timestamp:       time.Now(),
		}
		if err := store.Save(record); err != nil {
			return fmt.Errorf("failed to save detection: %w", err)
		}
		fmt.Fprintf(w, "saved as record %d\n", record.ID)
	}

	return nil
}
