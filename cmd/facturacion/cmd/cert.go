package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"3tcapital/ms_facturacion_sunat/internal/adapters/signer/xmldsig"
	"3tcapital/ms_facturacion_sunat/internal/core/authority"
	"3tcapital/ms_facturacion_sunat/internal/core/signing"
)

var (
	certRUC string
	certEnv string
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Inspect signing certificates",
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured certificate bundles",
	Args:  cobra.NoArgs,
	RunE:  runCertList,
}

var certInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode a configured bundle and show its certificate",
	Long: `Decode the PKCS#12 bundle configured for a taxpayer and environment and
print the subject, issuer and validity of its certificate.

Examples:
  facturacion cert inspect
  facturacion cert inspect --ruc 20123456789 --env production`,
	Args: cobra.NoArgs,
	RunE: runCertInspect,
}

func init() {
	rootCmd.AddCommand(certCmd)
	certCmd.AddCommand(certListCmd, certInspectCmd)

	certInspectCmd.Flags().StringVar(&certRUC, "ruc", "", "Taxpayer RUC (default: SUNAT_RUC)")
	certInspectCmd.Flags().StringVar(&certEnv, "env", "", "beta or production (default: SUNAT_ENV)")
}

func runCertList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	type bundle struct {
		Environment string `json:"environment"`
		RUC         string `json:"ruc"`
		Path        string `json:"path"`
	}
	out := make([]bundle, 0, len(cfg.Certificates.Bundles))
	for _, b := range cfg.Certificates.Bundles {
		out = append(out, bundle{Environment: b.Environment, RUC: b.RUC, Path: b.Path})
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func runCertInspect(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}

	handle := signing.CertificateHandle{
		RUC:         firstNonEmpty(certRUC, cfg.Sunat.RUC),
		Environment: authority.Environment(firstNonEmpty(certEnv, cfg.Sunat.Environment)),
	}
	if !handle.Environment.Valid() {
		return fmt.Errorf("unknown environment %q", handle.Environment)
	}

	store := xmldsig.NewCertificateStore(certificateBundles(cfg.Certificates.Bundles), 0, log)
	info, err := store.Inspect(handle)
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), info); err != nil {
		return err
	}

	if remaining := time.Until(info.NotAfter); remaining < 30*24*time.Hour {
		log.Warn("Certificate expires soon", "handle", handle.String(), "not_after", info.NotAfter)
	}
	return nil
}
