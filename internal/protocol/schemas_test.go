package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/daibi/Avatar-Oracle-Book/internal/protocol"
)

func TestSchemas_ValidateSamples(t *testing.T) {
	validate := func(typ string, raw string) {
		t.Helper()
		if err := protocol.Validate(typ, []byte(raw)); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}
	reject := func(typ string, raw string) {
		t.Helper()
		if err := protocol.Validate(typ, []byte(raw)); err == nil {
			t.Fatalf("expected %s sample to be rejected: %s", typ, raw)
		}
	}

	validate(protocol.TypeHello, `{
	  "type":"HELLO",
	  "protocol_version":"1.0",
	  "role":"ORACLE",
	  "coordinator":"0x7a1bac17ccc5b313516c5e16fb24f7659aa5ebed",
	  "auth":{"token":"secret"}
	}`)
	validate(protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","role":"OBSERVER"}`)
	reject(protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","role":"ORACLE"}`)
	reject(protocol.TypeHello, `{"type":"HELLO","protocol_version":"1.0","role":"AGENT"}`)

	validate(protocol.TypeWelcome, `{
	  "type":"WELCOME",
	  "protocol_version":"1.0",
	  "session_id":"5b0f6a1e-3c57-4e59-8f43-8d0c3f2f8a10",
	  "book_id":"avatar-book",
	  "role":"ORACLE",
	  "subscription":{
	    "subscription_id":2796,
	    "coordinator":"0x7a1bac17ccc5b313516c5e16fb24f7659aa5ebed",
	    "key_hash":"0x4b09e658ed251bcafeebbc69400383d49f344ace09b9576fe248bb02c003fe9f",
	    "callback_gas_limit":100000,
	    "request_confirmations":3,
	    "num_words":1
	  },
	  "pending":2,
	  "seq":17
	}`)

	validate(protocol.TypeRandomRequest, `{
	  "type":"RANDOM_REQUEST",
	  "protocol_version":"1.0",
	  "request_id":1,
	  "subscription":{
	    "subscription_id":2796,
	    "coordinator":"0x7a1b",
	    "key_hash":"0x4b09e658ed251bcafeebbc69400383d49f344ace09b9576fe248bb02c003fe9f",
	    "callback_gas_limit":100000,
	    "request_confirmations":3,
	    "num_words":1
	  }
	}`)

	validate(protocol.TypeFulfill, `{"type":"FULFILL","protocol_version":"1.0","request_id":1,"random_words":["0x19"]}`)
	reject(protocol.TypeFulfill, `{"type":"FULFILL","protocol_version":"1.0","request_id":1,"random_words":[]}`)
	reject(protocol.TypeFulfill, `{"type":"FULFILL","protocol_version":"1.0","request_id":1,"random_words":["zz"]}`)

	validate(protocol.TypeFulfillAck, `{"type":"FULFILL_ACK","protocol_version":"1.0","request_id":1,"accepted":false,"code":"E_UNKNOWN_REQUEST"}`)

	validate(protocol.TypeEvent, `{"type":"EVENT","protocol_version":"1.0","event":{"seq":3,"kind":"AVATAR_RENDERED","time":1700000000,"token_id":101}}`)
	reject(protocol.TypeEvent, `{"type":"EVENT","protocol_version":"1.0","event":{"seq":3,"kind":"CHAT","time":1}}`)

	validate(protocol.TypeEventBatchReq, `{"type":"EVENT_BATCH_REQ","protocol_version":"1.0","req_id":"r1","since_cursor":0,"limit":50}`)
}

func TestSchemas_MarshalledMessagesValidate(t *testing.T) {
	msgs := map[string]any{
		protocol.TypeFulfill: protocol.FulfillMsg{
			Type:            protocol.TypeFulfill,
			ProtocolVersion: protocol.Version,
			RequestID:       4,
			RandomWords:     []string{"0x0000000000000000000000000000000000000000000000000000000000000019"},
		},
		protocol.TypeFulfillAck: protocol.FulfillAckMsg{
			Type:            protocol.TypeFulfillAck,
			ProtocolVersion: protocol.Version,
			RequestID:       4,
			Accepted:        true,
			TokenID:         101,
		},
		protocol.TypeHello: protocol.HelloMsg{
			Type:            protocol.TypeHello,
			ProtocolVersion: protocol.Version,
			Role:            protocol.RoleObserver,
		},
	}
	for typ, m := range msgs {
		raw, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		if err := protocol.Validate(typ, raw); err != nil {
			t.Fatalf("validate %s: %v", typ, err)
		}
	}
	if protocol.HasSchema("OBS") {
		t.Fatalf("unexpected schema for OBS")
	}
}
