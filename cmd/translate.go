/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/valpere/regiontran/internal"
	"github.com/valpere/regiontran/internal/sink"
	"github.com/valpere/regiontran/internal/stream"
)

var (
	inputFile  string
	imageFile  string
	outputFile string
	targetLang string
	useStream  bool
	noCache    bool
)

var translateCmd = &cobra.Command{
	Use:   "translate [text]",
	Short: "Translate text or an image once",
	Long: `Translate text or an image through the configured endpoint chain.

The text is taken from the arguments, from --input, or from stdin when
neither is given. Use --image to translate the text shown in an image.

Endpoints are tried in catalog order. Each is retried on transient
failures (rate limits, overload, unavailability) and abandoned when its
timeout expires; the first successful answer wins.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		a, err := buildApp(!noCache)
		if err != nil {
			return err
		}
		defer a.Close()

		out := os.Stdout
		if outputFile != "" {
			if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			out = f
		}

		term := sink.NewTerminal(out, os.Stderr)
		var h stream.Handler
		if useStream {
			h = func(ev stream.Event) {
				if ev.Kind == stream.Reset {
					fmt.Fprintf(os.Stderr, "Endpoint %s took over, restarting output\n", ev.EndpointID)
				}
				term.OnUpdate(ev)
			}
		}

		text, err := a.service.Translate(cmd.Context(), payload, targetLang, h)
		if err != nil {
			return err
		}
		term.OnFinal(text)
		return nil
	},
}

func readPayload(args []string) (internal.Payload, error) {
	if imageFile != "" {
		data, err := os.ReadFile(imageFile)
		if err != nil {
			return internal.Payload{}, fmt.Errorf("failed to read image: %w", err)
		}
		return internal.ImagePayload(data, mime.TypeByExtension(strings.ToLower(filepath.Ext(imageFile)))), nil
	}

	var text string
	switch {
	case len(args) > 0:
		text = strings.Join(args, " ")
	case inputFile != "":
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return internal.Payload{}, fmt.Errorf("failed to read input file: %w", err)
		}
		text = string(data)
	default:
		data, err := readStdin()
		if err != nil {
			return internal.Payload{}, err
		}
		text = data
	}
	return internal.TextPayload(strings.TrimSpace(text)), nil
}

func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", fmt.Errorf("nothing to translate: pass text, --input or --image")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

func addPayloadFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Text file to translate")
	cmd.Flags().StringVar(&imageFile, "image", "", "Image file to translate (png, jpeg, webp, gif)")
	cmd.Flags().StringVarP(&targetLang, "target", "t", "", "Target language (BCP 47, required)")
	cmd.MarkFlagsMutuallyExclusive("input", "image")
	cmd.MarkFlagRequired("target")
}

func init() {
	rootCmd.AddCommand(translateCmd)

	addPayloadFlags(translateCmd)
	translateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default stdout)")
	translateCmd.Flags().BoolVar(&useStream, "stream", false, "Print partial results as they arrive")
	translateCmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the translation memory")
}
