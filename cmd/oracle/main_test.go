package main

import (
	"testing"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
	"github.com/daibi/Avatar-Oracle-Book/internal/sim/randomness"
)

func TestFulfillment_WordsMatchSubscription(t *testing.T) {
	req := protocol.RandomRequestMsg{
		Type:         protocol.TypeRandomRequest,
		RequestID:    9,
		Subscription: protocol.Subscription{NumWords: 3},
	}
	f, err := fulfillment(req)
	if err != nil {
		t.Fatalf("fulfillment: %v", err)
	}
	if f.Type != protocol.TypeFulfill || f.RequestID != 9 {
		t.Fatalf("unexpected message: %+v", f)
	}
	if len(f.RandomWords) != 3 {
		t.Fatalf("words: got %d want 3", len(f.RandomWords))
	}
	for _, s := range f.RandomWords {
		if _, err := randomness.ParseWord(s); err != nil {
			t.Fatalf("word %q does not parse: %v", s, err)
		}
	}

	req.Subscription.NumWords = 0
	f, err = fulfillment(req)
	if err != nil || len(f.RandomWords) != 1 {
		t.Fatalf("zero num_words should yield one word: %v %v", f.RandomWords, err)
	}
}
