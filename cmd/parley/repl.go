package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ChamsBouzaiene/parley/internal/chat"
)

// printerHook renders streaming progress to stdout as it happens.
type printerHook struct {
	chat.NopHook
}

func (printerHook) OnStreamDelta(_ context.Context, _, delta string) {
	fmt.Print(delta)
}

func (printerHook) OnHandoff(_ context.Context, _, _, note string) {
	fmt.Printf("\n-- %s --\n", note)
}

func (printerHook) OnConfirmationRequired(_ context.Context, pc chat.PendingConfirmation) {
	fmt.Printf("\nThe assistant wants to run %q. /confirm to approve, /deny to decline.\n", pc.Tool)
	if pc.Summary != "" {
		fmt.Printf("   %s\n", pc.Summary)
	}
}

func (printerHook) OnToolExecuting(_ context.Context, tool string, _ map[string]any) {
	fmt.Printf("\n[running %s]\n", tool)
}

func (printerHook) OnFallback(_ context.Context, _ string, streamErr error) {
	fmt.Printf("\n[stream unavailable (%v), retrying without streaming]\n", streamErr)
}

func (printerHook) OnRequestDone(_ context.Context, _ string, _ chat.Outcome) {
	fmt.Println()
}

func runREPL(ctx context.Context, env *runtimeEnv) error {
	c := env.Controller

	fmt.Printf("parley: talking to %s (/help for commands)\n", c.EmployeeSlug())

	// Send blocks until the request is terminal, so it runs in its own
	// goroutine and /stop stays responsive. One at a time: the controller
	// ignores overlapping sends anyway.
	var wg sync.WaitGroup
	defer wg.Wait()

	s := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !s.Scan() {
			break
		}
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := handleCommand(ctx, env, line, &wg); quit {
				break
			}
			continue
		}

		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			c.Send(ctx, text)
		}(line)
	}

	return s.Err()
}

func handleCommand(ctx context.Context, env *runtimeEnv, line string, wg *sync.WaitGroup) (quit bool) {
	c := env.Controller
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/stop":
		c.Stop()

	case "/confirm":
		if pc, ok := c.Pending(); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.ConfirmToolExecution(ctx, pc)
			}()
		} else {
			fmt.Println("nothing is waiting for confirmation")
		}

	case "/deny":
		if pc, ok := c.Pending(); ok {
			c.CancelToolExecution(pc)
		} else {
			fmt.Println("nothing is waiting for confirmation")
		}

	case "/history":
		for _, m := range c.Messages() {
			printMessage(m)
		}

	case "/search":
		if arg == "" {
			fmt.Println("usage: /search <query>")
			break
		}
		hits := c.SearchHistory(arg, 10)
		if len(hits) == 0 {
			fmt.Println("no matches")
			break
		}
		for _, h := range hits {
			printMessage(h.Message)
		}

	case "/attach":
		if arg == "" {
			fmt.Println("usage: /attach <path>")
			break
		}
		item, err := env.Uploads.Load(arg)
		if err != nil {
			fmt.Printf("attach failed: %v\n", err)
			break
		}
		c.Attach(item)
		fmt.Printf("attached %s (%s, %d bytes)\n", item.Name, item.MimeType, item.SizeBytes)

	case "/uploads":
		pending := c.PendingUploads()
		if len(pending) == 0 {
			fmt.Println("no pending attachments")
			break
		}
		for _, it := range pending {
			fmt.Printf("%s  %s (%d bytes)\n", it.ID, it.Name, it.SizeBytes)
		}

	case "/detach":
		if arg == "" {
			fmt.Println("usage: /detach <id>")
			break
		}
		if c.RemoveUpload(arg) {
			fmt.Println("removed")
		} else {
			fmt.Println("no such attachment")
		}

	case "/tools":
		invocations := c.ToolLog()
		if len(invocations) == 0 {
			fmt.Println("no tool activity yet")
			break
		}
		for _, inv := range invocations {
			fmt.Printf("%s %v\n", inv.Tool, inv.Args)
		}

	case "/headers":
		h := c.Headers()
		fmt.Printf("employee: %s\n", h.EmployeeName)
		fmt.Printf("guardrails: %s\n", h.GuardrailStatus)
		fmt.Printf("pii masked: %v\n", h.PIIMasked)
		fmt.Printf("memory: hit=%v count=%d\n", h.MemoryHit, h.MemoryCount)
		fmt.Printf("route confidence: %.2f\n", h.RouteConfidence)
		fmt.Printf("session: %s\n", h.SessionID)

	case "/who":
		id := c.Identity()
		fmt.Printf("employee=%s session=%s thread=%s\n", c.EmployeeSlug(), id.SessionID, id.ThreadID)

	case "/help":
		fmt.Print(`/stop           cancel the in-flight request
/confirm        approve the pending tool execution
/deny           decline the pending tool execution
/history        print the visible transcript
/search <q>     search past messages in this session
/attach <path>  stage a file for the next message
/uploads        list staged attachments
/detach <id>    remove a staged attachment
/tools          show observed tool activity
/headers        show last response metadata
/who            show current employee and session ids
/quit           exit
`)

	default:
		fmt.Printf("unknown command %s (/help for commands)\n", cmd)
	}

	return false
}

func printMessage(m chat.Message) {
	marker := ""
	if m.Streaming {
		marker = " …"
	}
	fmt.Printf("[%s]%s %s\n", m.Role, marker, m.Content)
}
