package wsconn

import (
	"strings"
	"testing"

	"github.com/kisquant/tradebot/types"
)

func TestParseFrame_SystemAck(t *testing.T) {
	raw := `{"header":{"tr_id":"H0STCNT0","tr_key":"005930"},"body":{"rt_cd":"0","msg1":"SUBSCRIBE SUCCESS","output":{"key":"abcd1234","iv":"0123456789abcdef"}}}`
	ev, trKey, err := parseFrame([]byte(raw), map[types.Channel]channelKey{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventSystem {
		t.Fatalf("expected system event, got %v", ev.Kind)
	}
	if trKey != "005930" {
		t.Fatalf("expected tr_key 005930, got %q", trKey)
	}
	if ev.Ack.EncKey != "abcd1234" || ev.Ack.EncIV != "0123456789abcdef" {
		t.Fatalf("expected key/iv to be captured from ack output, got %+v", ev.Ack)
	}
	if ev.Channel != types.ChannelTrade {
		t.Fatalf("expected tr_id H0STCNT0 to map to ChannelTrade, got %v", ev.Channel)
	}
}

func TestParseFrame_RealtimeUnencrypted(t *testing.T) {
	raw := "0|H0STCNT0|002|005930^091534^70000^5^..."
	ev, _, err := parseFrame([]byte(raw), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Kind != EventRealtime {
		t.Fatalf("expected realtime event, got %v", ev.Kind)
	}
	if len(ev.Fields) == 0 || ev.Fields[0] != "005930" {
		t.Fatalf("expected first caret field to be the symbol, got %v", ev.Fields)
	}
}

func TestParseFrame_RealtimeEncryptedMissingKey(t *testing.T) {
	raw := "1|H0STCNT0|001|deadbeef=="
	_, _, err := parseFrame([]byte(raw), map[types.Channel]channelKey{})
	if err == nil {
		t.Fatal("expected error when no channel key is known yet")
	}
}

func TestParseFrame_MalformedRealtimeFrame(t *testing.T) {
	_, _, err := parseFrame([]byte("0|not enough pipes"), nil)
	if err == nil {
		t.Fatal("expected error on malformed frame")
	}
}

func TestBuildSubscribeFrame_SubscribeVsUnsubscribe(t *testing.T) {
	sub := buildSubscribeFrame(types.ChannelTrade, "005930", "approval-123", true)
	unsub := buildSubscribeFrame(types.ChannelTrade, "005930", "approval-123", false)

	if !strings.Contains(sub, `"tr_type":"1"`) {
		t.Fatalf("expected subscribe frame to carry tr_type 1, got %s", sub)
	}
	if !strings.Contains(unsub, `"tr_type":"2"`) {
		t.Fatalf("expected unsubscribe frame to carry tr_type 2, got %s", unsub)
	}
}

func TestAESCBCDecrypt_RejectsShortKey(t *testing.T) {
	// A fixed encrypted vector would require a matching encrypt helper we
	// don't ship; instead verify the short-key error path, which is what
	// the connection logic actually depends on. The ciphertext is one full
	// block of zero bytes so the length check passes and the key is checked.
	_, err := aesCBCDecrypt("short", "0123456789abcdef", "AAAAAAAAAAAAAAAAAAAAAA==")
	if err == nil {
		t.Fatal("expected error for a key shorter than a valid AES key size")
	}
}
