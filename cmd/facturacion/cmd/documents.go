package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"3tcapital/ms_facturacion_sunat/internal/application/submission"
	"3tcapital/ms_facturacion_sunat/internal/core/document"
)

var (
	submitRUC    string
	submitType   string
	submitSeries string
	submitNumber string
	submitID     string

	pollAll   bool
	pollLimit int
)

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Sign and submit a UBL document",
	Long: `Sign a UBL 2.1 document and submit it to SUNAT.

The fiscal key is taken from the flags. Missing parts are read from a file
named after SUNAT's convention, RUC-TYPE-SERIES-NUMBER.xml.

Examples:
  facturacion submit 20123456789-01-F001-00000001.xml
  facturacion submit invoice.xml --type 01 --series F001 --number 1
  facturacion submit --id 7b0e8f6a-3f5e-4a51-9a59-0c7a5f1d2c11`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

var pollCmd = &cobra.Command{
	Use:   "poll [ticket]",
	Short: "Resolve outstanding tickets",
	Long: `Poll getStatus for a ticket until SUNAT returns its CDR.

Examples:
  facturacion poll 1700000000001
  facturacion poll --all --limit 100`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPoll,
}

var statusCmd = &cobra.Command{
	Use:   "status <document-id>",
	Short: "Show the state of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var auditCmd = &cobra.Command{
	Use:   "audit <document-id>",
	Short: "Show the audit trail of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runAudit,
}

func init() {
	rootCmd.AddCommand(submitCmd, pollCmd, statusCmd, auditCmd)

	submitCmd.Flags().StringVar(&submitRUC, "ruc", "", "Issuer RUC (default: SUNAT_RUC)")
	submitCmd.Flags().StringVar(&submitType, "type", "", "Document type: 01, 03, 07, 08, RC or RA")
	submitCmd.Flags().StringVar(&submitSeries, "series", "", "Document series, or the issue date for RC and RA")
	submitCmd.Flags().StringVar(&submitNumber, "number", "", "Correlative number")
	submitCmd.Flags().StringVar(&submitID, "id", "", "Resume a stored document instead of reading a file")

	pollCmd.Flags().BoolVar(&pollAll, "all", false, "Poll every outstanding ticket")
	pollCmd.Flags().IntVar(&pollLimit, "limit", 50, "Maximum tickets polled with --all")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var req submission.SubmitRequest
	switch {
	case submitID != "" && len(args) > 0:
		return errors.New("pass either a file or --id, not both")
	case submitID != "":
		id, err := uuid.Parse(submitID)
		if err != nil {
			return fmt.Errorf("invalid document id: %w", err)
		}
		req.DocumentID = id
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
		key := keyFromFileName(args[0])
		req.RUC = firstNonEmpty(submitRUC, key.RUC)
		req.Type = document.Type(strings.ToUpper(firstNonEmpty(submitType, string(key.Type))))
		req.Series = firstNonEmpty(submitSeries, key.Series)
		req.Number = firstNonEmpty(submitNumber, key.Number)
		req.XML = string(data)
	default:
		return errors.New("a file or --id is required")
	}

	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	if req.DocumentID == uuid.Nil && req.RUC == "" {
		req.RUC = cfg.Sunat.RUC
	}
	req.CorrelationID = submission.NewCorrelationID(time.Now().UTC())

	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.service.Submit(cmd.Context(), req)
	return printResult(cmd, res, err)
}

func runPoll(cmd *cobra.Command, args []string) error {
	if pollAll == (len(args) == 1) {
		return errors.New("pass either a ticket or --all")
	}

	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if !pollAll {
		res, err := a.service.PollPending(cmd.Context(), args[0])
		return printResult(cmd, res, err)
	}

	results, err := a.service.PollAllPending(cmd.Context(), pollLimit)
	if err != nil {
		return err
	}
	type line struct {
		Ticket string             `json:"ticket"`
		State  document.State     `json:"state,omitempty"`
		Error  string             `json:"error,omitempty"`
		Doc    *document.Snapshot `json:"document,omitempty"`
	}
	out := make([]line, 0, len(results))
	failed := 0
	for _, r := range results {
		l := line{Ticket: r.Document.Ticket, State: r.Document.State}
		if r.Err != nil {
			failed++
			l.Error = r.Err.Error()
		}
		if r.Document.ID != uuid.Nil {
			doc := r.Document
			l.Doc = &doc
		}
		out = append(out, l)
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d tickets failed", failed, len(results))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	snapshot, err := a.service.GetDocumentState(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), snapshot)
}

func runAudit(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid document id: %w", err)
	}

	cfg, log, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.service.AuditTrail(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), entries)
}

// printResult writes the snapshot reached, even when the submission failed.
func printResult(cmd *cobra.Command, res submission.Result, err error) error {
	if res.Document.ID != uuid.Nil {
		if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
			return perr
		}
	}
	return err
}

// keyFromFileName reads RUC-TYPE-SERIES-NUMBER from a file name. Parts that
// cannot be found are left empty.
func keyFromFileName(path string) document.Key {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	parts := strings.Split(base, "-")
	if len(parts) != 4 || !document.ValidRUC(parts[0]) {
		return document.Key{}
	}

	key := document.Key{
		RUC:    parts[0],
		Type:   document.Type(strings.ToUpper(parts[1])),
		Series: parts[2],
		Number: parts[3],
	}
	if !key.Type.Valid() {
		return document.Key{}
	}
	if !key.Type.Async() {
		key.Number = strings.TrimLeft(key.Number, "0")
		if key.Number == "" {
			key.Number = "0"
		}
	}
	return key
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
