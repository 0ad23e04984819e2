package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseFrameType(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    string
		wantErr bool
	}{
		{"request", `{"type":"req","id":"1","method":"health"}`, FrameTypeRequest, false},
		{"event", `{"type":"event","event":"videoStateChanged"}`, FrameTypeEvent, false},
		{"missing", `{"id":"1"}`, "", false},
		{"garbage", `not json`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrameType([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewOKResponse_RawPayloadPassthrough(t *testing.T) {
	raw := json.RawMessage(`{"playlists":[]}`)
	resp := NewOKResponse("abc", raw)
	if !resp.OK {
		t.Fatal("expected ok response")
	}
	if string(resp.Payload) != string(raw) {
		t.Errorf("payload = %s, want %s", resp.Payload, raw)
	}
}

func TestNewOKResponse_UnmarshalablePayload(t *testing.T) {
	resp := NewOKResponse("abc", make(chan int))
	if resp.OK {
		t.Fatal("expected error response for unmarshalable payload")
	}
	if resp.Error == nil || resp.Error.Code != ErrInternal {
		t.Errorf("error = %+v, want code %s", resp.Error, ErrInternal)
	}
}

func TestNewRequest_NilParams(t *testing.T) {
	req, err := NewRequest("id-1", ContentMethodGetPlaylists, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	data, _ := json.Marshal(req)
	var decoded map[string]any
	json.Unmarshal(data, &decoded)
	if _, ok := decoded["params"]; ok {
		t.Errorf("params should be omitted, got %s", data)
	}
	if decoded["method"] != ContentMethodGetPlaylists {
		t.Errorf("method = %v", decoded["method"])
	}
}
