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
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var structuredCmd = &cobra.Command{
	Use:   "structured [text]",
	Short: "Translate with transliteration and word alignment",
	Long: `Translate text or an image and print a JSON document with the source
text, its transliteration, the full translation and the aligned segments.
Structured results are never streamed and never served from the
translation memory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		st, err := a.service.TranslateStructured(cmd.Context(), payload, targetLang)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(structuredCmd)
	addPayloadFlags(structuredCmd)
}
