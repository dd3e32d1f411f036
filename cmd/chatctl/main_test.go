package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"chatclient-go/internal/chat"
	"chatclient-go/internal/models"
)

// The view's render callback is invoked from the input loop and from socket
// event delivery at the same time; this must be safe under the race detector.
func TestRenderSafeUnderConcurrentEvents(t *testing.T) {
	self := models.UserRef{ID: "10", DisplayName: "Me"}
	view := &chatView{out: io.Discard, self: self.ID}
	convo := chat.New(chat.Options{
		RecipientID: "20",
		Self:        self,
		OnChange:    view.render,
	})
	view.convo = convo
	defer convo.Teardown()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			convo.OnTypingStart("20")
			convo.OnTypingStop("20")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			convo.OnRemoteMessage(models.Message{
				ID:        fmt.Sprintf("srv-%d", i),
				Sender:    models.UserRef{ID: "20"},
				Text:      "incoming",
				CreatedAt: time.Now(),
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			convo.Send(fmt.Sprintf("outgoing %d", i))
		}
	}()
	wg.Wait()

	if got, want := len(convo.Messages()), 200; got != want {
		t.Fatalf("expected %d messages after concurrent delivery, got %d", want, got)
	}
}

func TestRenderPrintsEachMessageOnce(t *testing.T) {
	self := models.UserRef{ID: "10", DisplayName: "Me"}
	var buf strings.Builder
	view := &chatView{out: &buf, self: self.ID}
	convo := chat.New(chat.Options{
		RecipientID: "20",
		Self:        self,
		OnChange:    view.render,
	})
	view.convo = convo
	defer convo.Teardown()

	convo.Send("hello")
	convo.OnRemoteMessage(models.Message{
		ID:        "srv-1",
		Sender:    models.UserRef{ID: "20", DisplayName: "Peer"},
		Text:      "hi back",
		CreatedAt: time.Now(),
	})
	view.render() // a redundant render must not reprint

	out := buf.String()
	if got := strings.Count(out, "hello"); got != 1 {
		t.Errorf("own message printed %d times:\n%s", got, out)
	}
	if got := strings.Count(out, "hi back"); got != 1 {
		t.Errorf("peer message printed %d times:\n%s", got, out)
	}
	if !strings.Contains(out, "you: hello") {
		t.Errorf("own message should be attributed to \"you\":\n%s", out)
	}
}
