package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aussiebroadwan/rollcall/pkg/attendsdk"
	"github.com/aussiebroadwan/rollcall/pkg/issuance"
	"github.com/aussiebroadwan/rollcall/pkg/qrpayload"
	"github.com/aussiebroadwan/rollcall/pkg/realtime"
	"github.com/aussiebroadwan/rollcall/pkg/scan"
)

const usage = `usage: rollcall <command> [flags]

commands:
  issue    -session ID [-name NAME] [-out FILE] [-rotate]
  revoke   -session ID
  status   -session ID
  list     -session ID
  checkin  [-code PAYLOAD] [-student ID]   (reads decoded QR lines from stdin without -code)
  watch    -session ID [-channel attendance|notifications]
`

// IO bundles the streams a command uses.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// StdIO is the process's standard streams.
func StdIO() IO { return IO{In: os.Stdin, Out: os.Stdout, Err: os.Stderr} }

// Run executes the command in args and returns the process exit code.
func Run(ctx context.Context, cfg Config, args []string, stdio IO) int {
	if len(args) == 0 {
		fmt.Fprint(stdio.Err, usage)
		return 2
	}

	logger := cfg.Logger()
	cmd := &command{cfg: cfg, io: stdio, logger: logger, client: cfg.Client(logger)}

	var err error
	switch args[0] {
	case "issue":
		err = cmd.issue(ctx, args[1:])
	case "revoke":
		err = cmd.revoke(ctx, args[1:])
	case "status":
		err = cmd.status(ctx, args[1:])
	case "list":
		err = cmd.list(ctx, args[1:])
	case "checkin":
		err = cmd.checkin(ctx, args[1:])
	case "watch":
		err = cmd.watch(ctx, args[1:])
	case "help", "-h", "--help":
		fmt.Fprint(stdio.Out, usage)
		return 0
	default:
		fmt.Fprintf(stdio.Err, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	var usageErr usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr):
		fmt.Fprintln(stdio.Err, err)
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, errCheckinFailed):
		return 1
	default:
		fmt.Fprintln(stdio.Err, "error:", attendsdk.UserMessage(err))
		return 1
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

type command struct {
	cfg    Config
	io     IO
	logger *slog.Logger
	client *attendsdk.Client
}

func (c *command) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.io.Err)
	return fs
}

func parseSession(fs *flag.FlagSet, args []string, session *string) error {
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}
	if *session == "" {
		return usageError(fs.Name() + ": -session is required")
	}
	return nil
}

func (c *command) issue(ctx context.Context, args []string) error {
	fs := c.flags("issue")
	session := fs.String("session", "", "session id")
	name := fs.String("name", "", "session name shown to students")
	out := fs.String("out", "", "write the QR code PNG to this file")
	rotate := fs.Bool("rotate", false, "issue a new code whenever the current one expires, until interrupted")
	if err := parseSession(fs, args, session); err != nil {
		return err
	}

	expired := make(chan struct{}, 1)
	issuer := issuance.New(c.client, issuance.Session{ID: *session, Name: *name},
		issuance.WithLogger(c.logger),
		issuance.OnChange(func(s issuance.State) {
			if s.Token != nil && !s.Active {
				select {
				case expired <- struct{}{}:
				default:
				}
			}
		}),
	)

	if err := c.issueOnce(ctx, issuer, *out); err != nil {
		return err
	}
	if !*rotate {
		return nil
	}

	issuer.Start()
	defer issuer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expired:
			if err := c.issueOnce(ctx, issuer, *out); err != nil {
				// Keep rotating; the next tick retries.
				fmt.Fprintln(c.io.Err, "error:", attendsdk.UserMessage(err))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(5 * time.Second):
				}
				select {
				case expired <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (c *command) issueOnce(ctx context.Context, issuer *issuance.Issuer, out string) error {
	if err := issuer.Issue(ctx); err != nil {
		return err
	}
	s := issuer.Snapshot()

	if out != "" && len(s.QRImage) > 0 {
		if err := os.WriteFile(out, s.QRImage, 0o644); err != nil {
			return fmt.Errorf("write qr image: %w", err)
		}
	}

	fmt.Fprintf(c.io.Out, "session:  %s %s\n", s.Session.ID, s.Session.Name)
	fmt.Fprintf(c.io.Out, "token:    %s\n", s.Token.Token)
	if payload, err := qrpayload.Encode(*s.Token); err == nil {
		fmt.Fprintf(c.io.Out, "payload:  %s\n", payload)
	}
	fmt.Fprintf(c.io.Out, "expires:  %s (in %s)\n", s.ExpiresAt.Format(time.RFC3339), s.Remaining.Round(time.Second))
	if out != "" {
		fmt.Fprintf(c.io.Out, "image:    %s\n", out)
	}
	return nil
}

func (c *command) revoke(ctx context.Context, args []string) error {
	fs := c.flags("revoke")
	session := fs.String("session", "", "session id")
	if err := parseSession(fs, args, session); err != nil {
		return err
	}

	resp, err := c.client.RevokeQR(ctx, *session)
	if err != nil {
		return fmt.Errorf("revoke: %w", err)
	}
	fmt.Fprintln(c.io.Out, resp.Message)
	return nil
}

func (c *command) status(ctx context.Context, args []string) error {
	fs := c.flags("status")
	session := fs.String("session", "", "session id")
	if err := parseSession(fs, args, session); err != nil {
		return err
	}

	resp, err := c.client.QRStatus(ctx, *session)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}
	st := resp.QRStatus
	if !st.Active {
		fmt.Fprintf(c.io.Out, "session %s: no active QR code\n", *session)
		return nil
	}
	fmt.Fprintf(c.io.Out, "session %s: active, expires %s (%ds left)\n", *session, st.ExpiresAt, st.RemainingSeconds)
	return nil
}

func (c *command) list(ctx context.Context, args []string) error {
	fs := c.flags("list")
	session := fs.String("session", "", "session id")
	if err := parseSession(fs, args, session); err != nil {
		return err
	}

	resp, err := c.client.ListAttendance(ctx, *session)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	for _, a := range resp.Attendance {
		late := ""
		if a.IsLate {
			late = " late"
		}
		fmt.Fprintf(c.io.Out, "%s\t%s%s\n", a.CheckInTime, a.StudentID, late)
	}
	fmt.Fprintf(c.io.Out, "%d checked in\n", resp.Count)
	return nil
}

// errCheckinFailed is returned after the failure message was printed.
var errCheckinFailed = errors.New("check-in failed")

func (c *command) checkin(ctx context.Context, args []string) error {
	fs := c.flags("checkin")
	code := fs.String("code", "", "QR payload or token to submit instead of reading stdin")
	student := fs.String("student", c.cfg.StudentID, "student id, defaults to the token subject")
	if err := fs.Parse(args); err != nil {
		return usageError(err.Error())
	}

	if *code != "" {
		scanner := scan.New(nil, c.client, *student, scan.WithLogger(c.logger))
		a, err := scanner.SubmitManual(ctx, *code)
		if err != nil {
			return fmt.Errorf("checkin: %w", err)
		}
		return c.report(a)
	}

	outcomes := make(chan scan.Attempt, 8)
	scanner := scan.New(NewLineCamera(c.io.In), c.client, *student,
		scan.WithLogger(c.logger),
		scan.OnOutcome(func(a scan.Attempt) { outcomes <- a }),
	)
	if err := scanner.Open(ctx); err != nil {
		return fmt.Errorf("checkin: %w", err)
	}
	defer scanner.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a := <-outcomes:
			if a.State == scan.StateSucceeded || !a.Reason.Retryable() {
				return c.report(a)
			}
			fmt.Fprintln(c.io.Err, a.Message)
			// Keep reading the decoder stream unless it has ended.
			if err := scanner.Retry(); err != nil || scanner.State() == scan.StateIdle {
				return errCheckinFailed
			}
		}
	}
}

func (c *command) report(a scan.Attempt) error {
	if a.State == scan.StateSucceeded {
		fmt.Fprintln(c.io.Out, a.Message)
		if a.Result != nil {
			fmt.Fprintf(c.io.Out, "attendance %s at %s\n", a.Result.AttendanceID, a.Result.CheckInTime)
		}
		return nil
	}
	fmt.Fprintln(c.io.Err, a.Message)
	return errCheckinFailed
}

func (c *command) watch(ctx context.Context, args []string) error {
	fs := c.flags("watch")
	session := fs.String("session", "", "session id")
	channel := fs.String("channel", c.cfg.Channel, "realtime channel")
	if err := parseSession(fs, args, session); err != nil {
		return err
	}

	rc := realtime.DefaultConfig(c.cfg.URL, realtime.Channel(*channel))
	rc.Token = attendsdk.StaticToken(c.cfg.Token)
	rc.Logger = c.logger
	n := realtime.New(rc)

	n.OnAttendanceMarked(func(m realtime.AttendanceMarked) {
		late := ""
		if m.IsLate {
			late = " (late)"
		}
		fmt.Fprintf(c.io.Out, "%s checked in%s at %s\n", m.StudentID, late, m.CheckInTime)
	})
	n.OnMessage(realtime.KindQRGenerated, func(env realtime.Envelope) {
		if g, err := realtime.Decode[realtime.QRGenerated](env); err == nil {
			fmt.Fprintf(c.io.Out, "new QR code, expires %s\n", g.ExpiresAt)
		}
	})
	n.OnMessage(realtime.KindQRRevoked, func(realtime.Envelope) {
		fmt.Fprintln(c.io.Out, "QR code revoked")
	})
	n.OnConnection(realtime.EventDisconnected, func(info realtime.ConnectionInfo) {
		if info.WillReconnect {
			fmt.Fprintf(c.io.Err, "disconnected, reconnecting in %s\n", info.NextDelay)
		}
	})
	gaveUp := make(chan error, 1)
	n.OnConnection(realtime.EventError, func(info realtime.ConnectionInfo) {
		if info.Terminal {
			gaveUp <- info.Err
		}
	})

	if err := n.Connect(ctx); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer n.Disconnect()

	if err := n.Subscribe(*session); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	fmt.Fprintf(c.io.Err, "watching session %s\n", *session)

	select {
	case <-ctx.Done():
		return nil
	case err := <-gaveUp:
		return fmt.Errorf("watch: %w", err)
	}
}
