package events_test

import (
	"testing"
	"time"

	"github.com/zdmr/zdmr/events"
)

func TestSubscribeReceivesProgressBatch(t *testing.T) {
	h := events.NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	h.EmitProgressBatch([]events.ProgressRecord{{DownloadID: "a", Status: "DOWNLOADING"}})

	select {
	case ev := <-ch:
		if ev.Kind != events.KindProgressBatch {
			t.Errorf("expected ProgressBatch, got %v", ev.Kind)
		}
		if len(ev.Progress) != 1 || ev.Progress[0].DownloadID != "a" {
			t.Errorf("unexpected payload: %+v", ev.Progress)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDownloadsChangedNotification(t *testing.T) {
	h := events.NewHub()
	ch, unsub := h.Subscribe()
	defer unsub()

	h.EmitDownloadsChanged()

	select {
	case ev := <-ch:
		if ev.Kind != events.KindDownloadsChanged {
			t.Errorf("expected DownloadsChanged, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := events.NewHub()
	_, unsub := h.Subscribe() // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.EmitDownloadsChanged()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestMultipleSubscribersIndependentlyServed(t *testing.T) {
	h := events.NewHub()
	ch1, unsub1 := h.Subscribe()
	defer unsub1()
	ch2, unsub2 := h.Subscribe()
	defer unsub2()

	h.EmitDownloadsChanged()

	for _, ch := range []<-chan events.Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := events.NewHub()
	ch, unsub := h.Subscribe()
	unsub()

	h.EmitDownloadsChanged()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected channel closed after unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("expected closed channel to return immediately")
	}
}
