package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit documents for analysis",
	Long:  "Uploads up to three PDFs for one company and prints the created job. With --wait it polls until the job finishes and prints the final view.",
	RunE:  runSubmit,
}

var (
	submitCompany          string
	submitContratoSocial   string
	submitCartaoCNPJ       string
	submitCertidaoNegativa string
	submitWait             bool
	submitPollInterval     time.Duration
)

func init() {
	submitCmd.Flags().StringVar(&submitCompany, "company", "", "Company name (required)")
	submitCmd.Flags().StringVar(&submitContratoSocial, "contrato-social", "", "Path to the CONTRATO_SOCIAL PDF")
	submitCmd.Flags().StringVar(&submitCartaoCNPJ, "cartao-cnpj", "", "Path to the CARTAO_CNPJ PDF")
	submitCmd.Flags().StringVar(&submitCertidaoNegativa, "certidao-negativa", "", "Path to the CERTIDAO_NEGATIVA PDF")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Poll until the job reaches a terminal status")
	submitCmd.Flags().DurationVar(&submitPollInterval, "poll-interval", 2*time.Second, "Polling interval used with --wait")

	if err := submitCmd.MarkFlagRequired("company"); err != nil {
		panic(fmt.Sprintf("failed to mark company flag as required: %v", err))
	}

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	files := map[string]string{}
	for field, path := range map[string]string{
		"contrato_social":   submitContratoSocial,
		"cartao_cnpj":       submitCartaoCNPJ,
		"certidao_negativa": submitCertidaoNegativa,
	} {
		if path != "" {
			files[field] = path
		}
	}
	if len(files) == 0 {
		return errors.New("at least one of --contrato-social, --cartao-cnpj or --certidao-negativa is required")
	}

	client := newAPIClient(apiURL)
	created, err := client.submit(cmd.Context(), submitCompany, files)
	if err != nil {
		return err
	}
	if !submitWait {
		return printJSON(cmd.OutOrStdout(), created)
	}
	jobID, _ := created["job_id"].(string)
	if jobID == "" {
		return errors.New("response did not include a job_id")
	}
	view, err := waitForJob(cmd, client, jobID, submitPollInterval)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), view)
}
