package smtpd_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/haldane-labs/smtpd"
	"github.com/haldane-labs/smtpd/harness"
)

func TestStreamingLargeMessage(t *testing.T) {
	// Setup with default in-memory storage (fine for 10MB test)
	h := harness.NewHarness()
	h.Mailbox.AddAddress("user@example.com")
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h.Start(ctx)

	// Conversation
	h.Expect(smtpd.Reply220ServiceReady)
	h.Send("EHLO localhost")
	h.Expect(smtpd.Reply250OK)

	h.Send("MAIL FROM:<sender@example.com>")
	h.Expect(smtpd.Reply250OK)

	h.Send("RCPT TO:<user@example.com>")
	h.Expect(smtpd.Reply250OK)

	h.Send("DATA")
	h.Expect(smtpd.Reply354StartMailInput)

	// Generate 10MB of data
	chunkSize := 64
	chunk := strings.Repeat("A", chunkSize)
	// 10MB / 66 bytes (64 + \r\n) ~= 158900 lines
	totalBytes := 10 * 1024 * 1024
	numLines := totalBytes / (chunkSize + 2)

	// Write data directly to harness input
	for i := 0; i < numLines; i++ {
		h.Input.Write([]byte(chunk + "\r\n"))
	}
	h.Input.Write([]byte(".\r\n"))

	if _, err := h.Expect(smtpd.Reply250OK); err != nil {
		t.Fatalf("DATA expected 250: %v", err)
	}

	h.Send("QUIT")
	if _, err := h.Expect(smtpd.Reply221ServiceClosing); err != nil {
		t.Fatalf("QUIT expected 221: %v", err)
	}

	// Verify we have 1 message
	if h.MessageCount() != 1 {
		t.Errorf("expected 1 message, got %d", h.MessageCount())
		t.Logf("Process Errors: %v", h.Errors)
		t.Logf("Transcript:\n%s", h.Transcript.String())
	}
}

func TestStreamingDropsTrailingBlankLineBeforeTerminator(t *testing.T) {
	h := harness.NewHarness()
	h.Mailbox.AddAddress("user@example.com")
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.Start(ctx)

	h.Expect(smtpd.Reply220ServiceReady)
	h.Send("EHLO localhost")
	h.Expect(smtpd.Reply250OK)
	h.Send("MAIL FROM:<sender@example.com>")
	h.Expect(smtpd.Reply250OK)
	h.Send("RCPT TO:<user@example.com>")
	h.Expect(smtpd.Reply250OK)
	h.Send("DATA")
	h.Expect(smtpd.Reply354StartMailInput)

	h.Send("Subject: test")
	h.Send("")
	h.Send("line one")
	h.Send("")
	h.Send("")
	h.Send("line two")
	h.Send("")
	h.Send(".")

	if _, err := h.Expect(smtpd.Reply250OK); err != nil {
		t.Fatalf("DATA expected 250: %v", err)
	}

	h.Send("QUIT")
	h.Expect(smtpd.Reply221ServiceClosing)

	if h.MessageCount() != 1 {
		t.Fatalf("expected 1 message, got %d", h.MessageCount())
	}

	got := string(h.Messages()[0].Data)
	want := "Subject: test\r\n\r\nline one\r\n\r\n\r\nline two\r\n"
	if got != want {
		t.Errorf("stored body = %q, want %q", got, want)
	}
}
