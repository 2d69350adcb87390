package wsconn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kisquant/tradebot/kiserr"
	"github.com/kisquant/tradebot/types"
)

// SystemFrame is a decoded JSON control message: the broker's ack for
// (un)subscribe requests and PINGPONG frames.
type SystemFrame struct {
	TrID    string
	TrKey   string
	Channel types.Channel
	RtCd    string
	Msg     string
	EncKey  string // per-channel AES key handed back on a successful subscribe
	EncIV   string
	IsPing  bool
}

type systemHeader struct {
	Header struct {
		TrID  string `json:"tr_id"`
		TrKey string `json:"tr_key"`
	} `json:"header"`
	Body struct {
		RtCd   string `json:"rt_cd"`
		MsgCd  string `json:"msg_cd"`
		Msg1   string `json:"msg1"`
		Output struct {
			Key string `json:"key"`
			Iv  string `json:"iv"`
		} `json:"output"`
	} `json:"body"`
}

// trIDToChannel maps a tr_id prefix to its types.Channel.
func trIDToChannel(trID string) types.Channel {
	switch {
	case strings.HasPrefix(trID, "H0STCNT"):
		return types.ChannelTrade
	case strings.HasPrefix(trID, "H0STASP"):
		return types.ChannelBook
	case strings.HasPrefix(trID, "H0STCNI"):
		return types.ChannelExecution
	default:
		return types.ChannelIndex
	}
}

// buildSubscribeFrame constructs the JSON envelope the broker expects for
// a (un)subscribe request.
func buildSubscribeFrame(channel types.Channel, trKey, approvalKey string, subscribe bool) string {
	trType := "1"
	if !subscribe {
		trType = "2"
	}
	trID := channelToTrID(channel)

	payload := map[string]any{
		"header": map[string]string{
			"approval_key": approvalKey,
			"custtype":     "P",
			"tr_type":      trType,
			"content-type": "utf-8",
		},
		"body": map[string]any{
			"input": map[string]string{
				"tr_id":  trID,
				"tr_key": trKey,
			},
		},
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func channelToTrID(channel types.Channel) string {
	switch channel {
	case types.ChannelTrade:
		return "H0STCNT0"
	case types.ChannelBook:
		return "H0STASP0"
	case types.ChannelExecution:
		return "H0STCNI0"
	default:
		return "H0STCNT0"
	}
}

// parseFrame classifies a raw wire frame into a system JSON frame or a
// pipe-delimited realtime frame ("0|TRID|N|caret^delimited^fields").
func parseFrame(data []byte, keys map[types.Channel]channelKey) (Event, string, error) {
	s := string(data)
	if len(s) == 0 {
		return Event{}, "", kiserr.New(kiserr.InvalidResponse, "parseFrame", "empty frame", nil)
	}

	if s[0] == '0' || s[0] == '1' {
		return parseRealtimeFrame(s, keys)
	}
	return parseSystemFrame(s)
}

func parseSystemFrame(s string) (Event, string, error) {
	var sf systemHeader
	if err := json.Unmarshal([]byte(s), &sf); err != nil {
		return Event{}, "", kiserr.New(kiserr.InvalidResponse, "parseSystemFrame", "malformed system frame", err)
	}
	channel := trIDToChannel(sf.Header.TrID)
	frame := SystemFrame{
		TrID:    sf.Header.TrID,
		TrKey:   sf.Header.TrKey,
		Channel: channel,
		RtCd:    sf.Body.RtCd,
		Msg:     sf.Body.Msg1,
		EncKey:  sf.Body.Output.Key,
		EncIV:   sf.Body.Output.Iv,
		IsPing:  sf.Header.TrID == "PINGPONG",
	}
	return Event{Kind: EventSystem, TrID: frame.TrID, Channel: channel, Key: frame.TrKey, Ack: frame}, sf.Header.TrKey, nil
}

// parseRealtimeFrame splits "enc_flag|tr_id|data_count|body" and the body
// into caret-delimited fields, decrypting the body first when enc_flag=1
// and a channel key is already known.
func parseRealtimeFrame(s string, keys map[types.Channel]channelKey) (Event, string, error) {
	parts := strings.SplitN(s, "|", 4)
	if len(parts) != 4 {
		return Event{}, "", kiserr.New(kiserr.InvalidResponse, "parseRealtimeFrame", "expected 4 pipe fields", nil)
	}
	encFlag, trID, _, body := parts[0], parts[1], parts[2], parts[3]
	channel := trIDToChannel(trID)

	if encFlag == "1" {
		ck, ok := keys[channel]
		if !ok {
			return Event{}, "", kiserr.New(kiserr.InvalidResponse, "parseRealtimeFrame", fmt.Sprintf("no decryption key yet for channel %s", channel), nil)
		}
		plain, err := aesCBCDecrypt(ck.key, ck.iv, body)
		if err != nil {
			return Event{}, "", kiserr.New(kiserr.InvalidResponse, "parseRealtimeFrame", "decrypt failed", err)
		}
		body = plain
	}

	records := strings.Split(body, "^")
	return Event{
		Kind:    EventRealtime,
		TrID:    trID,
		Channel: channel,
		Fields:  records,
	}, trID, nil
}
