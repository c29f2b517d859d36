package commands

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittoauth/internal/logger"
	"github.com/marmos91/dittoauth/internal/telemetry"
	"github.com/marmos91/dittoauth/pkg/auth"
	"github.com/marmos91/dittoauth/pkg/xdr"
)

var (
	issueTTL    int
	verifyPrint bool
)

var credCmd = &cobra.Command{
	Use:   "cred",
	Short: "Issue and verify credentials",
}

var credIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a credential for the calling process",
	Long: `Allocate and activate a credential with the configured mechanism and
print its packed form, base64 encoded.

Examples:
  dittoauth cred issue --ttl 300
  dittoauth --type auth/jwt cred issue | ssh node2 dittoauth cred verify`,
	Args: cobra.NoArgs,
	RunE: runCredIssue,
}

var credVerifyCmd = &cobra.Command{
	Use:   "verify [CREDENTIAL...]",
	Short: "Verify credentials",
	Long: `Verify base64 credentials given as arguments, or one per line on stdin,
and print the uid and gid each asserts.

Examples:
  dittoauth cred verify AAAAAQAAA+gAAAPo
  dittoauth cred issue | dittoauth cred verify --print`,
	RunE: runCredVerify,
}

func init() {
	credIssueCmd.Flags().IntVar(&issueTTL, "ttl", 0, "credential lifetime in seconds (0 = mechanism default)")
	credVerifyCmd.Flags().BoolVar(&verifyPrint, "print", false, "print the full decoded credential")

	credCmd.AddCommand(credIssueCmd)
	credCmd.AddCommand(credVerifyCmd)
}

func runCredIssue(cmd *cobra.Command, _ []string) error {
	if err := auth.Init(cmd.Context()); err != nil {
		return fmt.Errorf("authentication init failed: %w", err)
	}
	typ := auth.Default().Type()

	ctx, span := telemetry.StartAuthSpan(cmd.Context(), telemetry.SpanCredIssue, typ,
		telemetry.Operation("activate"), telemetry.TTL(issueTTL))
	defer span.End()

	cred := auth.Alloc()
	if cred == nil {
		return errors.New("mechanism returned no credential")
	}
	defer auth.Free(cred)

	if err := auth.Activate(cred, issueTTL); err != nil {
		telemetry.RecordError(ctx, err)
		return fmt.Errorf("activate credential: %w", err)
	}

	uid, gid := auth.UID(cred), auth.GID(cred)
	telemetry.SetAttributes(ctx, telemetry.UID(uid), telemetry.GID(gid))
	logger.DebugCtx(ctx, "Credential issued",
		logger.AuthType(typ), logger.Operation("activate"),
		logger.UID(uid), logger.GID(gid), logger.KeyTTL, issueTTL)

	buf := xdr.NewBuffer(128)
	auth.Pack(cred, buf)

	_, err := fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(buf.Bytes()))
	return err
}

func runCredVerify(cmd *cobra.Command, args []string) error {
	if err := auth.Init(cmd.Context()); err != nil {
		return fmt.Errorf("authentication init failed: %w", err)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	if len(args) > 0 {
		var failed int
		for _, arg := range args {
			if err := verifyOne(ctx, out, arg); err != nil {
				failed++
			}
		}
		return verifyResult(failed)
	}
	return verifyStream(ctx, cmd.InOrStdin(), out)
}

// verifyStream verifies one credential per non-empty input line.
func verifyStream(ctx context.Context, in io.Reader, out io.Writer) error {
	var failed int
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := verifyOne(ctx, out, line); err != nil {
			failed++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	return verifyResult(failed)
}

func verifyResult(failed int) error {
	if failed > 0 {
		return fmt.Errorf("%d credential(s) failed verification", failed)
	}
	return nil
}

// verifyOne decodes, unpacks and verifies a single credential, reporting
// the outcome on out.
func verifyOne(ctx context.Context, out io.Writer, encoded string) error {
	ctx, span := telemetry.StartAuthSpan(ctx, telemetry.SpanCredValidate, auth.Default().Type(),
		telemetry.Operation("verify"))
	defer span.End()

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		telemetry.RecordError(ctx, err)
		_, _ = fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	cred := auth.Alloc()
	if cred == nil {
		return errors.New("mechanism returned no credential")
	}
	defer auth.Free(cred)

	if err := auth.Unpack(cred, xdr.FromBytes(data)); err != nil {
		telemetry.RecordError(ctx, err)
		_, _ = fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	id := auth.Identify(cred)
	telemetry.SetAttributes(ctx, telemetry.UID(id.UID), telemetry.GID(id.GID))
	if !id.Valid() {
		telemetry.RecordError(ctx, id.Err)
		logger.DebugCtx(ctx, "Credential rejected",
			logger.Mechanism(id.Mechanism), logger.Operation("verify"), logger.Err(id.Err))
		_, _ = fmt.Fprintf(out, "REJECTED: %v\n", id.Err)
		return id.Err
	}
	logger.DebugCtx(ctx, "Credential verified",
		logger.Mechanism(id.Mechanism), logger.UID(id.UID), logger.GID(id.GID))

	if verifyPrint {
		auth.Print(cred, out)
		return nil
	}
	_, err = fmt.Fprintf(out, "OK uid=%d gid=%d\n", id.UID, id.GID)
	return err
}
