package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/ytmc/internal/consent"
	"github.com/nextlevelbuilder/ytmc/pkg/protocol"
)

func consentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consent",
		Short: "Answer pairing requests from companion apps",
		Long: `Stay connected to the running server and ask for approval whenever a
companion app requests access. Check that the code shown here matches the
one displayed by the app before approving. While no operator is
connected, pairing requests are denied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runConsentOperator(ctx)
		},
	}
}

type promptAnswer struct {
	id       string
	approved bool
	err      error
}

func runConsentOperator(ctx context.Context) error {
	cfg := loadConfig()
	conn, err := dialAdmin(cfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Requests opened before we connected went to another operator; they can
	// still be answered here.
	var queue []consent.PromptInfo
	if resp, err := conn.call(protocol.MethodConsentList, nil, 5*time.Second); err == nil && resp.OK {
		var list struct {
			Pending []consent.PromptInfo `json:"pending"`
		}
		if json.Unmarshal(resp.Payload, &list) == nil {
			queue = list.Pending
		}
	}

	fmt.Println(titleStyle.Render("Waiting for pairing requests") + mutedStyle.Render("  (Ctrl+C to stop)"))

	events, responses, errc := conn.stream()
	answers := make(chan promptAnswer, 1)

	var (
		current string
		cancel  context.CancelFunc = func() {}
	)
	defer func() { cancel() }()

	startNext := func() {
		for current == "" && len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if time.Now().After(p.ExpiresAt) {
				continue
			}
			current = p.ID
			var pctx context.Context
			pctx, cancel = context.WithDeadline(ctx, p.ExpiresAt)
			go func() {
				ok, err := askConsent(pctx, p)
				answers <- promptAnswer{id: p.ID, approved: ok, err: err}
			}()
		}
	}

	startNext()
	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-errc:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("connection to server lost: %w", err)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Event {
			case protocol.EventConsentRequested:
				var p consent.PromptInfo
				if err := json.Unmarshal(ev.Payload, &p); err != nil || p.ID == "" {
					continue
				}
				queue = append(queue, p)
				startNext()
			case protocol.EventConsentClosed:
				var closed struct {
					ID string `json:"id"`
				}
				json.Unmarshal(ev.Payload, &closed)
				if closed.ID == current {
					cancel()
				}
				queue = dropPrompt(queue, closed.ID)
			}

		case a := <-answers:
			current = ""
			cancel()
			switch {
			case a.err != nil:
				fmt.Println(mutedStyle.Render("Request closed before an answer was given."))
			case a.approved:
				conn.send(protocol.MethodConsentApprove, map[string]string{"id": a.id})
				fmt.Println(okStyle.Render("Approved."))
			default:
				conn.send(protocol.MethodConsentDeny, map[string]string{"id": a.id})
				fmt.Println(warnStyle.Render("Denied."))
			}
			startNext()

		case resp, ok := <-responses:
			if !ok {
				responses = nil
				continue
			}
			if !resp.OK {
				fmt.Println(warnStyle.Render("Server: " + responseError(resp)))
			}
		}
	}
}

func askConsent(ctx context.Context, p consent.PromptInfo) (bool, error) {
	fmt.Println()
	fmt.Println(field("App", titleStyle.Render(p.AppName)))
	fmt.Println(field("Code", codeStyle.Render(p.Code)))
	fmt.Println(field("Expires", formatIn(p.ExpiresAt)))
	return promptConfirmContext(ctx,
		fmt.Sprintf("Allow %q to control YouTube Music?", p.AppName),
		"Only approve if the app shows the same code.",
		"Allow", "Deny")
}

func dropPrompt(queue []consent.PromptInfo, id string) []consent.PromptInfo {
	out := queue[:0]
	for _, p := range queue {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}
