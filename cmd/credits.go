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
	"strconv"

	"github.com/spf13/cobra"
)

var creditsCmd = &cobra.Command{
	Use:   "credits",
	Short: "Manage the translation credit balance",
	Long: `Show or top up the credit balance of the configured account.

Every orchestrated translation consumes one credit when credits.enforce is
enabled. Answers served from the translation memory are free.`,
}

var creditsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the remaining credits",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openStore(appConfig.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		ledger := db.Ledger(appConfig.Account)
		n, err := ledger.Balance(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		fmt.Printf("Account:   %s\n", ledger.Account())
		fmt.Printf("Remaining: %d\n", n)
		if !appConfig.EnforceCredits {
			fmt.Println("Credits are not enforced (credits.enforce is false).")
		}
		return nil
	},
}

var creditsAddCmd = &cobra.Command{
	Use:   "add <amount>",
	Short: "Add credits to the account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid amount %q: %w", args[0], err)
		}

		db, err := openStore(appConfig.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := db.Ledger(appConfig.Account).Add(cmd.Context(), amount)
		if err != nil {
			return err
		}
		fmt.Printf("Added %d credits to %s, balance %d\n", amount, appConfig.Account, n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(creditsCmd)

	creditsCmd.AddCommand(creditsShowCmd)
	creditsCmd.AddCommand(creditsAddCmd)
}
