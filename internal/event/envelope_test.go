package event_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/midaseth/dolomite-margin-modules/internal/event"
)

func TestLog_AssignsMonotonicSequences(t *testing.T) {
	out := make(chan event.Envelope, 8)
	log := event.NewLog(0, out, nil)

	for i := 0; i < 3; i++ {
		log.Record(&event.VaultCreated{Owner: common.Address{1}, Vault: common.Address{2}})
	}

	for want := int64(1); want <= 3; want++ {
		env := <-out
		if env.Sequence != want {
			t.Errorf("sequence got %d, want %d", env.Sequence, want)
		}
		if env.Type != event.TypeVaultCreated {
			t.Errorf("type got %q, want %q", env.Type, event.TypeVaultCreated)
		}
		if env.OccurredAt.IsZero() {
			t.Error("timestamp not stamped")
		}
	}
}

func TestLog_ResumesFromStartSequence(t *testing.T) {
	out := make(chan event.Envelope, 1)
	log := event.NewLog(41, out, nil)

	log.Record(&event.TraderPairInitialized{})
	if env := <-out; env.Sequence != 42 {
		t.Errorf("sequence got %d, want 42", env.Sequence)
	}
}

func TestLog_DropsWhenChannelFull(t *testing.T) {
	out := make(chan event.Envelope, 1)
	drops := 0
	log := event.NewLog(0, out, func() { drops++ })

	log.Record(&event.TraderPairInitialized{})
	log.Record(&event.TraderPairInitialized{})
	log.Record(&event.TraderPairInitialized{})

	if drops != 2 {
		t.Errorf("drops got %d, want 2", drops)
	}
	// The sequence still advances for dropped events: consumers can detect
	// the gap.
	if env := <-out; env.Sequence != 1 {
		t.Errorf("delivered sequence got %d, want 1", env.Sequence)
	}
	log.Record(&event.TraderPairInitialized{})
	if env := <-out; env.Sequence != 4 {
		t.Errorf("post-drop sequence got %d, want 4", env.Sequence)
	}
}
