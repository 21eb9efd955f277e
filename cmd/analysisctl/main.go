// Package main implements analysisctl, a command line client for the
// analysis API.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var apiURL string

var rootCmd = &cobra.Command{
	Use:           "analysisctl",
	Short:         "Submit company documents for compliance analysis",
	Long:          "analysisctl uploads CONTRATO_SOCIAL, CARTAO_CNPJ and CERTIDAO_NEGATIVA PDFs to the analysis API and reads back job status, inconsistencies and the final decision.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("ANALYSIS_API_URL")
	if def == "" {
		def = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", def, "Base URL of the analysis API")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
